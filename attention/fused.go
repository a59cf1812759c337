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
	"github.com/aurora327/gqakernel/tensor"
)

// copyKVCacheBulk writes every (batch, position, owned-kv-head) triple from
// the freshly computed K/V rows into the cache — the "copy upfront" path
// taken when the cache would otherwise be written redundantly by multiple
// tasks per head (GQA expansion, M-blocking, or head-sharding).
func (b *Block[T]) copyKVCacheBulk(k, v tensor.Matrix[T], presentKey, presentValue tensor.KVCacheTensor[T], pastSeqLen int) {
	headSize := b.ctx.HeadSize
	batch := b.ctx.BatchSize
	seqLen := b.ctx.InputSeqLen
	kvHeads := b.heads.NumKVHeads()

	b.pool.ParallelFor(batch, func(bStart, bEnd int) {
		for bi := bStart; bi < bEnd; bi++ {
			for s := 0; s < seqLen; s++ {
				row := bi*seqLen + s
				pos := pastSeqLen + s
				for h := 0; h < kvHeads; h++ {
					copy(presentKey.Sequence(pos, bi, h), k.RowAt(row, h*headSize)[:headSize])
					copy(presentValue.Sequence(pos, bi, h), v.RowAt(row, h*headSize)[:headSize])
				}
			}
		}
	})
}

// copyKVCacheOne writes a single (batch, position, kv-head) triple — used
// inline inside the fused kernel's main loop when the cache was not
// already populated by copyKVCacheBulk.
func (b *Block[T]) copyKVCacheOne(k, v tensor.Matrix[T], presentKey, presentValue tensor.KVCacheTensor[T], pastSeqLen, bi, s, kvHead int) {
	headSize := b.ctx.HeadSize
	row := bi*b.ctx.InputSeqLen + s
	pos := pastSeqLen + s
	copy(presentKey.Sequence(pos, bi, kvHead), k.RowAt(row, kvHead*headSize)[:headSize])
	copy(presentValue.Sequence(pos, bi, kvHead), v.RowAt(row, kvHead*headSize)[:headSize])
}

// fusedAttention is the M-block-tiled kernel chosen for short contexts and
// every decode step, ported from xFasterTransformer's
// TemplateAttention::fusedAttention / slimAttention.
func (b *Block[T]) fusedAttention(q, k, v tensor.Matrix[T], presentKey, presentValue tensor.KVCacheTensor[T], mask []float32, pastSeqLen, layerID int, attnOut tensor.Matrix[T]) {
	headSize := b.ctx.HeadSize
	batch := b.ctx.BatchSize
	seqLen := b.ctx.InputSeqLen
	responsibleHeads := b.heads.NumQHeads()
	groupNum := b.ctx.ExpandFactor()

	var mBlockSize int
	if pastSeqLen == 0 {
		if b.ctx.IsLayerBoundary(layerID) {
			mBlockSize = getMBlockSize(seqLen, headSize)
			b.ctx.SetReserved1(mBlockSize)
		} else if m := b.ctx.Reserved1(); m > 0 {
			mBlockSize = m
		} else {
			mBlockSize = getMBlockSize(seqLen, headSize)
		}
	} else {
		mBlockSize = seqLen
	}

	shardHead := seqLen == 1 && b.ctx.NumThreads >= 2*batch*responsibleHeads
	if shardHead {
		b.shardedAttention(q, k, v, presentKey, presentValue, mask, pastSeqLen, attnOut)
		return
	}

	kHeads := b.heads.NumKVHeads()
	kvCopied := kHeads < responsibleHeads || mBlockSize != seqLen
	if kvCopied {
		b.copyKVCacheBulk(k, v, presentKey, presentValue, pastSeqLen)
	}

	keyLen := pastSeqLen + seqLen
	scoreStride := seqLen
	if pastSeqLen > 0 {
		scoreStride = roundUp16(keyLen)
	}
	mBlockNum := ceilDiv(seqLen, mBlockSize)

	scaleFactor := b.hooks.scalingFactor(b.ctx.AttnFactor)

	totalTasks := batch * responsibleHeads * mBlockNum
	b.pool.ParallelForAtomic(totalTasks, func(task int) {
		mb := task % mBlockNum
		rest := task / mBlockNum
		hi := rest % responsibleHeads
		bi := rest / responsibleHeads

		kvHead := hi / groupNum
		mStart := mb * mBlockSize
		mRows := mBlockSize
		if mStart+mRows > seqLen {
			mRows = seqLen - mStart
		}

		if !kvCopied {
			for s := mStart; s < mStart+mRows; s++ {
				b.copyKVCacheOne(k, v, presentKey, presentValue, pastSeqLen, bi, s, kvHead)
			}
		}

		scoreBuf := make([]float32, mRows*scoreStride)
		kPtr, kStride := presentKey.Head(bi, kvHead)
		vPtr, vStride := presentValue.Head(bi, kvHead)

		for mi := 0; mi < mRows; mi++ {
			s := mStart + mi
			row := bi*seqLen + s
			qRow := q.RowAt(row, hi*headSize)[:headSize]
			scoreRow := scoreBuf[mi*scoreStride : mi*scoreStride+keyLen]
			for kp := 0; kp < keyLen; kp++ {
				kRow := kPtr[kp*kStride : kp*kStride+headSize]
				var dot float32
				for d := 0; d < headSize; d++ {
					dot += float32(qRow[d]) * float32(kRow[d])
				}
				scoreRow[kp] = dot
			}

			maskRow := b.hooks.Mask(mask, bi, hi, s, seqLen, keyLen, 0)
			maskedSoftmaxRow(scoreRow, maskRow, keyLen, scaleFactor)

			outRow := attnOut.RowAt(row, hi*headSize)[:headSize]
			for d := 0; d < headSize; d++ {
				outRow[d] = 0
			}
			for kp := 0; kp < keyLen; kp++ {
				vRow := vPtr[kp*vStride : kp*vStride+headSize]
				weight := scoreRow[kp]
				for d := 0; d < headSize; d++ {
					outRow[d] += T(weight) * vRow[d]
				}
			}
		}
	})
}

