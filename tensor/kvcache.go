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

package tensor

// KVCacheTensor is a logical 4-D store indexed by (position, batch, kv-head,
// head-element), laid out [maxSeqLen, batch, kvHeads, headSize] so that the
// per-(batch,head) Head view spans contiguous rows across positions — the
// layout matmul kernels want as the B operand of a Q*K^T / scores*V GEMM.
//
// Writes at pos = pastSeqLen+s for s in [0, inputSeqLen) must complete
// before any read at position >= pastSeqLen within the same forward call;
// callers are responsible for the happens-before ordering (this type does
// no internal synchronization, matching the teacher's cache, which assumes
// single-writer-per-slot access inside one parallel region).
type KVCacheTensor[T any] struct {
	Data        []T
	MaxSeqLen   int
	Batch       int
	KVHeads     int
	HeadSize    int
	headStride  int // KVHeads * HeadSize
	posStride   int // Batch * headStride
}

// NewKVCacheTensor allocates a zero-valued cache of the given shape.
func NewKVCacheTensor[T any](maxSeqLen, batch, kvHeads, headSize int) KVCacheTensor[T] {
	headStride := kvHeads * headSize
	posStride := batch * headStride
	return KVCacheTensor[T]{
		Data:       make([]T, maxSeqLen*posStride),
		MaxSeqLen:  maxSeqLen,
		Batch:      batch,
		KVHeads:    kvHeads,
		HeadSize:   headSize,
		headStride: headStride,
		posStride:  posStride,
	}
}

// Sequence returns the head-vector slice at absolute position pos, batch b,
// kv-head h.
func (c KVCacheTensor[T]) Sequence(pos, b, h int) []T {
	off := pos*c.posStride + b*c.headStride + h*c.HeadSize
	return c.Data[off : off+c.HeadSize]
}

// Head returns a pointer to position 0 of (b, h) plus the row stride to
// advance one position — consecutive positions are posStride elements
// apart, making this view usable as a GEMM operand with leading dimension
// posStride.
func (c KVCacheTensor[T]) Head(b, h int) (ptr []T, stride int) {
	off := b*c.headStride + h*c.HeadSize
	return c.Data[off:], c.posStride
}
