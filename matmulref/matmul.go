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

// Package matmulref is the default implementation of kernel.MatMulHelper:
// weight conversion/packing plus the fused GEMM entry points the attention
// and MLP blocks call (compute, compute_bias, compute_residential,
// compute_resext, compute_silu, compute_resmul). The per-row dequantize-then
// -accumulate-then-fuse loop structure is ported from go-highway's
// BaseFusedInt8MatMulSiLU/GELU (hwy/contrib/matmul/matmul_fused_int8_act.go);
// row-level parallelism is dispatched through workerpool.Executor the same
// way matmul/dispatch.go's ParallelFusedInt8MatMul wires pool.ParallelFor
// across M.
package matmulref

import (
	"github.com/aurora327/gqakernel/hwy"
	"github.com/aurora327/gqakernel/hwy/contrib/quantize"
	"github.com/aurora327/gqakernel/hwy/contrib/workerpool"
	"github.com/aurora327/gqakernel/hwy/contrib/xmath"
	"github.com/aurora327/gqakernel/tensor"
)

// Helper is the reference kernel.MatMulHelper implementation.
type Helper[T hwy.Floats] struct {
	pool *workerpool.Executor
}

// New creates a Helper that parallelizes its GEMMs across pool.
func New[T hwy.Floats](pool *workerpool.Executor) *Helper[T] {
	if pool == nil {
		pool = workerpool.New(0)
	}
	return &Helper[T]{pool: pool}
}

// ConvertWeight converts a raw (rows x cols) weight slice into a
// PackedWeight, quantizing per-column when elemType requests it. trans
// indicates raw is stored column-major (cols x rows) and needs transposing
// during the copy.
func (h *Helper[T]) ConvertWeight(trans bool, rows, cols int, raw []T, scale, zero []float32, elemType tensor.WeightElemType) tensor.PackedWeight[T] {
	if elemType == tensor.WeightNF4 {
		panic("matmulref: NF4 packing is not implemented by this reference helper; use WeightInt8 or a float format")
	}
	if !elemType.IsQuantized() {
		out := tensor.NewPackedWeight[T](rows, cols, elemType)
		if trans {
			for r := 0; r < rows; r++ {
				for c := 0; c < cols; c++ {
					out.Data[r*out.Stride+c] = raw[c*rows+r]
				}
			}
		} else {
			copy(out.Data, raw[:rows*cols])
		}
		return out
	}

	dense := make([]float32, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			var v T
			if trans {
				v = raw[c*rows+r]
			} else {
				v = raw[r*cols+c]
			}
			dense[r*cols+c] = float32(v)
		}
	}

	qi8, stats := quantize.QuantizeColumnsInt8(dense, rows, cols)
	out := tensor.NewPackedWeight[T](rows, cols, elemType)
	out.Scale, out.Zero, out.Sum = stats.Scale, stats.Zero, stats.Sum
	switch any(*new(T)).(type) {
	case int8:
		for i, q := range qi8 {
			out.Data[i] = T(q)
		}
	default:
		for i, q := range qi8 {
			out.Data[i] = T(float32(q))
		}
	}
	return out
}

// ConvertWeightRows converts only the row-slice [rowStart, rowStart+rows)
// of a larger logical weight — the row-slice variant the spec's matmul
// helper contract names, used when callers stream weight loading in row
// chunks instead of handing over the whole matrix at once.
func (h *Helper[T]) ConvertWeightRows(trans bool, totalRows, cols, rowStart, rows int, raw []T, scale, zero []float32, elemType tensor.WeightElemType) tensor.PackedWeight[T] {
	var slice []T
	if trans {
		slice = make([]T, rows*cols)
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				slice[r*cols+c] = raw[c*totalRows+rowStart+r]
			}
		}
		return h.ConvertWeight(false, rows, cols, slice, scale, zero, elemType)
	}
	slice = raw[rowStart*cols : (rowStart+rows)*cols]
	return h.ConvertWeight(false, rows, cols, slice, scale, zero, elemType)
}

// PackWeight repacks an already-converted weight into its final layout.
// This reference implementation's ConvertWeight already produces a
// matmul-ready dense/quantized row-major layout, so PackWeight is the
// identity — a real micro-panel-packing helper (as in go-highway's
// packing.go) would transform Data here instead.
func (h *Helper[T]) PackWeight(w tensor.PackedWeight[T]) tensor.PackedWeight[T] {
	return w
}

// dequantRow fills dst[0:cols] with the dequantized float32 values of
// weight's row k.
func dequantRow[T hwy.Floats](w tensor.PackedWeight[T], k int, dst []float32) {
	row := w.Data[k*w.Stride : k*w.Stride+w.Cols]
	if !w.ElemType.IsQuantized() {
		for c, v := range row {
			dst[c] = float32(v)
		}
		return
	}
	for c, v := range row {
		dst[c] = float32(v) * w.Scale[c]
	}
}

// accumulate computes acc[m*N:...] = alpha * A[m,:] * B for every row of A,
// the shared inner loop every compute_* entry point is built from.
func (h *Helper[T]) accumulate(alpha float32, a []T, lda int, b tensor.PackedWeight[T], m int, out [][]float32) {
	k, n := b.Rows, b.Cols
	h.pool.ParallelFor(m, func(mStart, mEnd int) {
		rowBuf := make([]float32, n)
		for mi := mStart; mi < mEnd; mi++ {
			acc := out[mi]
			for c := range acc {
				acc[c] = 0
			}
			aRow := a[mi*lda : mi*lda+k]
			for kk := 0; kk < k; kk++ {
				dequantRow(b, kk, rowBuf)
				av := alpha * float32(aRow[kk])
				for c := 0; c < n; c++ {
					acc[c] += av * rowBuf[c]
				}
			}
		}
	})
}

func newAccBuf(m, n int) [][]float32 {
	out := make([][]float32, m)
	flat := make([]float32, m*n)
	for i := range out {
		out[i] = flat[i*n : (i+1)*n]
	}
	return out
}

// Compute runs C = alpha*A*B + beta*C.
func (h *Helper[T]) Compute(alpha float32, a []T, lda int, b tensor.PackedWeight[T], beta float32, c []T, ldc, m int) {
	n := b.Cols
	acc := newAccBuf(m, n)
	h.accumulate(alpha, a, lda, b, m, acc)
	for mi := 0; mi < m; mi++ {
		cRow := c[mi*ldc : mi*ldc+n]
		for ci := 0; ci < n; ci++ {
			cRow[ci] = T(acc[mi][ci] + beta*float32(cRow[ci]))
		}
	}
}

// ComputeBias runs C = alpha*A*B + bias + beta*C.
func (h *Helper[T]) ComputeBias(alpha float32, a []T, lda int, b tensor.PackedWeight[T], bias []T, beta float32, c []T, ldc, m int) {
	n := b.Cols
	acc := newAccBuf(m, n)
	h.accumulate(alpha, a, lda, b, m, acc)
	for mi := 0; mi < m; mi++ {
		cRow := c[mi*ldc : mi*ldc+n]
		for ci := 0; ci < n; ci++ {
			sum := acc[mi][ci] + beta*float32(cRow[ci])
			if bias != nil {
				sum += float32(bias[ci])
			}
			cRow[ci] = T(sum)
		}
	}
}

// ComputeResidential runs C = alpha*A*B + bias + R elementwise.
func (h *Helper[T]) ComputeResidential(alpha float32, a []T, lda int, b tensor.PackedWeight[T], bias []T, r []T, ldr int, c []T, ldc, m int) {
	n := b.Cols
	acc := newAccBuf(m, n)
	h.accumulate(alpha, a, lda, b, m, acc)
	for mi := 0; mi < m; mi++ {
		cRow := c[mi*ldc : mi*ldc+n]
		rRow := r[mi*ldr : mi*ldr+n]
		for ci := 0; ci < n; ci++ {
			sum := acc[mi][ci]
			if bias != nil {
				sum += float32(bias[ci])
			}
			sum += float32(rRow[ci])
			cRow[ci] = T(sum)
		}
	}
}

// ComputeResExt runs C = alpha*A*B + bias + gamma*R elementwise.
func (h *Helper[T]) ComputeResExt(alpha float32, a []T, lda int, b tensor.PackedWeight[T], bias []T, gamma float32, r []T, ldr int, c []T, ldc, m int) {
	n := b.Cols
	acc := newAccBuf(m, n)
	h.accumulate(alpha, a, lda, b, m, acc)
	for mi := 0; mi < m; mi++ {
		cRow := c[mi*ldc : mi*ldc+n]
		rRow := r[mi*ldr : mi*ldr+n]
		for ci := 0; ci < n; ci++ {
			sum := acc[mi][ci]
			if bias != nil {
				sum += float32(bias[ci])
			}
			sum += gamma * float32(rRow[ci])
			cRow[ci] = T(sum)
		}
	}
}

// ComputeSiLU runs C = SiLU(alpha*A*B + beta*C) elementwise, following the
// dequantize-then-accumulate-then-activate structure of
// BaseFusedInt8MatMulSiLU.
func (h *Helper[T]) ComputeSiLU(alpha float32, a []T, lda int, b tensor.PackedWeight[T], beta float32, c []T, ldc, m int) {
	n := b.Cols
	acc := newAccBuf(m, n)
	h.accumulate(alpha, a, lda, b, m, acc)
	for mi := 0; mi < m; mi++ {
		cRow := c[mi*ldc : mi*ldc+n]
		for ci := 0; ci < n; ci++ {
			sum := acc[mi][ci] + beta*float32(cRow[ci])
			cRow[ci] = T(xmath.SiLU(sum))
		}
	}
}

// ComputeResMul runs C = (alpha*A*B) * R elementwise — used to multiply the
// up-projection's output in place by the already-activated gate result.
func (h *Helper[T]) ComputeResMul(alpha float32, a []T, lda int, b tensor.PackedWeight[T], r []T, ldr int, c []T, ldc, m int) {
	n := b.Cols
	acc := newAccBuf(m, n)
	h.accumulate(alpha, a, lda, b, m, acc)
	for mi := 0; mi < m; mi++ {
		cRow := c[mi*ldc : mi*ldc+n]
		rRow := r[mi*ldr : mi*ldr+n]
		for ci := 0; ci < n; ci++ {
			cRow[ci] = T(acc[mi][ci] * float32(rRow[ci]))
		}
	}
}
