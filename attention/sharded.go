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
	"sync/atomic"

	"github.com/aurora327/gqakernel/hwy/contrib/scratchpool"
	"github.com/aurora327/gqakernel/hwy/contrib/xmath"
	"github.com/aurora327/gqakernel/tensor"
)

// splitStatus is one split's contribution to the shared reduction in
// shardedAttention: the slice's local softmax max/sum and a flag the
// split-0 worker spin-waits on before reducing.
type splitStatus struct {
	max      float32
	sum      float32
	finished atomic.Bool
}

// shardedAttention splits the key/value length into per-worker slices and
// reduces their streaming-softmax partials on the slice-0 worker, the
// layout chosen for decode steps (inputSeqLen == 1) with many threads per
// head. Ported from xFasterTransformer's TemplateAttention::crossAttnShardHead.
func (b *Block[T]) shardedAttention(q, k, v tensor.Matrix[T], presentKey, presentValue tensor.KVCacheTensor[T], mask []float32, pastSeqLen int, attnOut tensor.Matrix[T]) {
	headSize := b.ctx.HeadSize
	if headSize%16 != 0 {
		panic("attention: head size must be a multiple of 16 for sharded attention")
	}
	batch := b.ctx.BatchSize
	responsibleHeads := b.heads.NumQHeads()
	groupNum := b.ctx.ExpandFactor()

	n := pastSeqLen + 1
	splits := b.ctx.NumThreads / (batch * responsibleHeads)
	if splits <= 1 {
		panic("attention: sharded attention requires splits > 1")
	}
	nb := ceilDiv(n, splits)

	b.copyKVCacheBulk(k, v, presentKey, presentValue, pastSeqLen)

	scaleFactor := b.hooks.scalingFactor(b.ctx.AttnFactor)

	totalTasks := batch * responsibleHeads * splits
	statuses := make([]splitStatus, totalTasks)
	shardedOut := scratchpool.Instance().GetBuffer("shardedOutput", totalTasks*headSize)

	taskIdx := func(bi, hi, s int) int { return (bi*responsibleHeads+hi)*splits + s }

	b.pool.ParallelForAtomic(totalTasks, func(flat int) {
		s := flat % splits
		rest := flat / splits
		hi := rest % responsibleHeads
		bi := rest / responsibleHeads

		kvHead := hi / groupNum
		kStart := s * nb
		kEnd := kStart + nb
		if kEnd > n {
			kEnd = n
		}
		sliceLen := kEnd - kStart
		if sliceLen <= 0 {
			statuses[taskIdx(bi, hi, s)].max = -1e30
			statuses[taskIdx(bi, hi, s)].sum = 0
			statuses[taskIdx(bi, hi, s)].finished.Store(true)
			return
		}

		kPtr, kStride := presentKey.Head(bi, kvHead)
		vPtr, vStride := presentValue.Head(bi, kvHead)
		qRow := q.RowAt(bi, hi*headSize)[:headSize]

		scores := make([]float32, sliceLen)
		for kp := 0; kp < sliceLen; kp++ {
			kRow := kPtr[(kStart+kp)*kStride : (kStart+kp)*kStride+headSize]
			var dot float32
			for d := 0; d < headSize; d++ {
				dot += float32(qRow[d]) * float32(kRow[d])
			}
			scores[kp] = dot
		}

		maskRow := b.hooks.Mask(mask, bi, hi, 0, 1, n, 0)[kStart:kEnd]
		sliceMax := scores[0]*scaleFactor + maskRow[0]
		for i := 1; i < sliceLen; i++ {
			v := scores[i]*scaleFactor + maskRow[i]
			if v > sliceMax {
				sliceMax = v
			}
		}
		var sliceSum float32
		for i := range scores {
			e := xmath.Exp(scores[i]*scaleFactor + maskRow[i] - sliceMax)
			scores[i] = e
			sliceSum += e
		}

		out := shardedOut[taskIdx(bi, hi, s)*headSize : taskIdx(bi, hi, s)*headSize+headSize]
		for d := 0; d < headSize; d++ {
			out[d] = 0
		}
		// The partial is weighted by the normalized slice softmax, so the
		// reducer's r_s*sliceSum_s/realSum factor yields the global softmax.
		invSum := 1 / sliceSum
		for kp := 0; kp < sliceLen; kp++ {
			vRow := vPtr[(kStart+kp)*vStride : (kStart+kp)*vStride+headSize]
			w := scores[kp] * invSum
			for d := 0; d < headSize; d++ {
				out[d] += w * float32(vRow[d])
			}
		}

		st := &statuses[taskIdx(bi, hi, s)]
		st.max = sliceMax
		st.sum = sliceSum
		st.finished.Store(true)

		if s != 0 {
			return
		}

		for sib := 1; sib < splits; sib++ {
			for !statuses[taskIdx(bi, hi, sib)].finished.Load() {
				// spin-wait bounded by a sibling slice's single GEMM+softmax latency
			}
		}

		realMax := sliceMax
		for sib := 1; sib < splits; sib++ {
			if statuses[taskIdx(bi, hi, sib)].max > realMax {
				realMax = statuses[taskIdx(bi, hi, sib)].max
			}
		}

		revFactors := make([]float32, splits)
		var realSum float32
		for sib := 0; sib < splits; sib++ {
			st := &statuses[taskIdx(bi, hi, sib)]
			r := xmath.Exp(st.max - realMax)
			revFactors[sib] = r
			realSum += r * st.sum
		}

		acc := make([]float32, headSize)
		for sib := 0; sib < splits; sib++ {
			st := &statuses[taskIdx(bi, hi, sib)]
			if realSum == 0 {
				continue
			}
			factor := revFactors[sib] * st.sum / realSum
			sibOut := shardedOut[taskIdx(bi, hi, sib)*headSize : taskIdx(bi, hi, sib)*headSize+headSize]
			for d := 0; d < headSize; d++ {
				acc[d] += factor * sibOut[d]
			}
		}

		outRow := attnOut.RowAt(bi, hi*headSize)[:headSize]
		for d := 0; d < headSize; d++ {
			outRow[d] = T(acc[d])
		}
	})
}
