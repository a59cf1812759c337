// Copyright 2025 go-highway Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package attention

import (
	"math/bits"

	"github.com/aurora327/gqakernel/hwy/contrib/xmath"
	"github.com/aurora327/gqakernel/tensor"
)

// flashSrcBlk and flashTgtBlk compute the two-level tile sizes flash
// attention uses, matching xFasterTransformer's scaledDpAttention:
// minBlk = 2^floor(log2(srcLen/2)), capped at 256 for the query tile and
// 512 for the key/value tile.
func flashSrcBlk(seqLen int) int {
	if seqLen < 2 {
		return 1
	}
	half := seqLen / 2
	blk := 1
	if half >= 1 {
		blk = 1 << (bits.Len(uint(half)) - 1) // 2^floor(log2(half))
	}
	if blk > 256 {
		blk = 256
	}
	return blk
}

func flashTgtBlk(keyLen int) int {
	if keyLen > 512 {
		return 512
	}
	return keyLen
}

// flashAttention is the long-context kernel: two-level query/key tiling
// with an online-softmax recurrence bounding working set to
// O(srcBlk*tgtBlk) regardless of total sequence length.
func (b *Block[T]) flashAttention(q, k, v tensor.Matrix[T], presentKey, presentValue tensor.KVCacheTensor[T], mask []float32, pastSeqLen int, attnOut tensor.Matrix[T]) {
	headSize := b.ctx.HeadSize
	batch := b.ctx.BatchSize
	seqLen := b.ctx.InputSeqLen
	responsibleHeads := b.heads.NumQHeads()
	groupNum := b.ctx.ExpandFactor()
	keyLen := pastSeqLen + seqLen

	srcBlk := flashSrcBlk(seqLen)
	tgtBlk := flashTgtBlk(keyLen)
	srcBlocks := ceilDiv(seqLen, srcBlk)
	scaleFactor := b.hooks.scalingFactor(b.ctx.AttnFactor)

	// Flash attention writes the current step's K/V into the cache up front
	// through the same bulk copy the fused kernel uses, before any tile reads
	// the cache.
	b.copyKVCacheBulk(k, v, presentKey, presentValue, pastSeqLen)

	totalTasks := batch * responsibleHeads * srcBlocks
	b.pool.ParallelForAtomic(totalTasks, func(task int) {
		sb := task % srcBlocks
		rest := task / srcBlocks
		hi := rest % responsibleHeads
		bi := rest / responsibleHeads

		kvHead := hi / groupNum
		qStart := sb * srcBlk
		qRows := srcBlk
		if qStart+qRows > seqLen {
			qRows = seqLen - qStart
		}

		kPtr, kStride := presentKey.Head(bi, kvHead)
		vPtr, vStride := presentValue.Head(bi, kvHead)

		runningMax := make([]float32, qRows)
		runningSum := make([]float32, qRows)
		acc := make([][]float32, qRows)
		for i := range acc {
			acc[i] = make([]float32, headSize)
			runningMax[i] = -1e30
		}

		tgtBlocks := ceilDiv(keyLen, tgtBlk)
		for tb := 0; tb < tgtBlocks; tb++ {
			kStart := tb * tgtBlk
			kRows := tgtBlk
			if kStart+kRows > keyLen {
				kRows = keyLen - kStart
			}

			for qi := 0; qi < qRows; qi++ {
				s := qStart + qi
				row := bi*seqLen + s
				qRow := q.RowAt(row, hi*headSize)[:headSize]
				maskRow := b.hooks.Mask(mask, bi, hi, s, seqLen, keyLen, 0)[kStart : kStart+kRows]

				tile := make([]float32, kRows)
				tileMax := float32(-1e30)
				for kp := 0; kp < kRows; kp++ {
					kRow := kPtr[(kStart+kp)*kStride : (kStart+kp)*kStride+headSize]
					var dot float32
					for d := 0; d < headSize; d++ {
						dot += float32(qRow[d]) * float32(kRow[d])
					}
					v := dot*scaleFactor + maskRow[kp]
					tile[kp] = v
					if v > tileMax {
						tileMax = v
					}
				}

				newMax := runningMax[qi]
				if tileMax > newMax {
					newMax = tileMax
				}
				alpha := xmath.Exp(runningMax[qi] - newMax)

				var betaSum float32
				for kp := 0; kp < kRows; kp++ {
					e := xmath.Exp(tile[kp] - newMax)
					tile[kp] = e
					betaSum += e
				}

				outRow := acc[qi]
				for d := 0; d < headSize; d++ {
					outRow[d] *= alpha
				}
				for kp := 0; kp < kRows; kp++ {
					vRow := vPtr[(kStart+kp)*vStride : (kStart+kp)*vStride+headSize]
					w := tile[kp]
					for d := 0; d < headSize; d++ {
						outRow[d] += w * float32(vRow[d])
					}
				}

				runningSum[qi] = alpha*runningSum[qi] + betaSum
				runningMax[qi] = newMax
			}
		}

		for qi := 0; qi < qRows; qi++ {
			s := qStart + qi
			row := bi*seqLen + s
			outRow := attnOut.RowAt(row, hi*headSize)[:headSize]
			invSum := float32(1)
			if runningSum[qi] != 0 {
				invSum = 1 / runningSum[qi]
			}
			for d := 0; d < headSize; d++ {
				outRow[d] = T(acc[qi][d] * invSum)
			}
		}
	})
}
