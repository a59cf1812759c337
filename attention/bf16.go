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
	"github.com/aurora327/gqakernel/hwy"
	"github.com/aurora327/gqakernel/hwy/contrib/scratchpool"
	"github.com/aurora327/gqakernel/tensor"
)

// bf16SelfAttention is the specialized kernel the spec's kernel-selection
// rule chooses ahead of the fused kernel when pastSeqLen == 0, the prompt
// is short enough to skip the flash path, and both the input and output
// element types are bfloat16: an unblocked (no M-block tiling) SDPA,
// ported from xFasterTransformer's TemplateAttention::bf16SelfAttention.
// Unlike fusedAttention it does not broadcast a kv-head across a group of
// query heads — every owned query head must already map one-for-one to
// its kv-head, which New's HeadRangeFor guarantees only when NumQHeads ==
// NumKVHeads for the worker's owned range.
func (b *Block[T]) bf16SelfAttention(q, k, v tensor.Matrix[T], presentKey, presentValue tensor.KVCacheTensor[T], mask []float32, pastSeqLen int, attnOut tensor.Matrix[T]) {
	if b.heads.NumQHeads() != b.heads.NumKVHeads() {
		panic("attention: unsupported self-attention configuration in bf16 path (Q != K heads per worker)")
	}

	headSize := b.ctx.HeadSize
	batch := b.ctx.BatchSize
	seqLen := b.ctx.InputSeqLen
	heads := b.heads.NumQHeads()
	keyLen := pastSeqLen + seqLen
	scaleFactor := b.hooks.scalingFactor(b.ctx.AttnFactor)

	b.copyKVCacheBulk(k, v, presentKey, presentValue, pastSeqLen)

	totalTasks := batch * heads
	b.pool.ParallelForAtomic(totalTasks, func(task int) {
		hi := task % heads
		bi := task / heads

		kPtr, kStride := presentKey.Head(bi, hi)
		vPtr, vStride := presentValue.Head(bi, hi)
		scoreRow := make([]float32, keyLen)

		for s := 0; s < seqLen; s++ {
			row := bi*seqLen + s
			qRow := q.RowAt(row, hi*headSize)[:headSize]
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

// flashAttentionPackedCache runs flashAttention against a present-cache
// kept in the packed 2-byte bfloat16 format regardless of the block's
// compute type T — the spec's "KV-cache optionally converts float <->
// bfloat16 on the fly when the attention element type and the cache's
// storage type differ". History already resident in the packed cache is
// widened into a same-shaped compute-type working cache before the
// kernel runs; the rows the kernel freshly writes are then staged through
// a B*S*(2*Kc) float32 scratch slab (the spec's sizing for this
// conversion, pulled from the scratch pool scratchpool.go's own doc
// comment already names as a "flash KV conversion buffer" consumer) and
// narrowed back into the packed cache.
func (b *Block[T]) flashAttentionPackedCache(q, k, v tensor.Matrix[T], presentKey, presentValue tensor.KVCacheTensor[hwy.BFloat16], mask []float32, pastSeqLen int, attnOut tensor.Matrix[T]) {
	batch := b.ctx.BatchSize
	seqLen := b.ctx.InputSeqLen
	headSize := b.ctx.HeadSize
	kvHeads := b.heads.NumKVHeads()
	keyLen := pastSeqLen + seqLen

	workKey := tensor.NewKVCacheTensor[T](keyLen, batch, kvHeads, headSize)
	workValue := tensor.NewKVCacheTensor[T](keyLen, batch, kvHeads, headSize)
	for pos := 0; pos < pastSeqLen; pos++ {
		for bi := 0; bi < batch; bi++ {
			for h := 0; h < kvHeads; h++ {
				srcK, srcV := presentKey.Sequence(pos, bi, h), presentValue.Sequence(pos, bi, h)
				dstK, dstV := workKey.Sequence(pos, bi, h), workValue.Sequence(pos, bi, h)
				for d := 0; d < headSize; d++ {
					dstK[d] = T(hwy.BFloat16ToFloat32(srcK[d]))
					dstV[d] = T(hwy.BFloat16ToFloat32(srcV[d]))
				}
			}
		}
	}

	b.flashAttention(q, k, v, workKey, workValue, mask, pastSeqLen, attnOut)

	kc := kvHeads * headSize
	staged := scratchpool.Instance().GetBuffer("flashKVBFloat16Convert", batch*seqLen*2*kc)
	for s := 0; s < seqLen; s++ {
		pos := pastSeqLen + s
		for bi := 0; bi < batch; bi++ {
			base := (bi*seqLen + s) * 2 * kc
			for h := 0; h < kvHeads; h++ {
				srcK, srcV := workKey.Sequence(pos, bi, h), workValue.Sequence(pos, bi, h)
				stageK := staged[base+h*headSize : base+h*headSize+headSize]
				stageV := staged[base+kc+h*headSize : base+kc+h*headSize+headSize]
				for d := 0; d < headSize; d++ {
					stageK[d] = float32(srcK[d])
					stageV[d] = float32(srcV[d])
				}
				dstK, dstV := presentKey.Sequence(pos, bi, h), presentValue.Sequence(pos, bi, h)
				for d := 0; d < headSize; d++ {
					dstK[d] = hwy.Float32ToBFloat16(stageK[d])
					dstV[d] = hwy.Float32ToBFloat16(stageV[d])
				}
			}
		}
	}
}
