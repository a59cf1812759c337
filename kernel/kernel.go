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

// Package kernel declares the external collaborators the attention and MLP
// blocks depend on but do not implement themselves: the matmul helper,
// the rotary position embedding post-op, and the normalization kernel.
// Default implementations live in matmulref, rotaryref, and normref; a
// caller integrating this module into a full model can substitute its own.
package kernel

import "github.com/aurora327/gqakernel/tensor"

// MatMulHelper packs weights and executes the fused GEMM variants the
// attention and MLP blocks need. A is M*K row-major with leading dimension
// lda; B is a PackedWeight produced by ConvertWeight+PackWeight; C is M*N
// row-major with leading dimension ldc.
type MatMulHelper[T any] interface {
	// ConvertWeight converts a raw (possibly transposed) weight slice into
	// the helper's intermediate representation, quantizing per-column when
	// elemType is a quantized format. The reference helper in matmulref
	// ignores scale/zero and computes its own per-column parameters.
	ConvertWeight(trans bool, rows, cols int, raw []T, scale, zero []float32, elemType tensor.WeightElemType) tensor.PackedWeight[T]

	// PackWeight repacks an already-converted weight into its final
	// matmul-ready micro-panel layout.
	PackWeight(w tensor.PackedWeight[T]) tensor.PackedWeight[T]

	// Compute runs C = alpha*A*B + beta*C.
	Compute(alpha float32, a []T, lda int, b tensor.PackedWeight[T], beta float32, c []T, ldc, m int)

	// ComputeBias runs C = alpha*A*B + bias + beta*C, bias broadcast over M.
	ComputeBias(alpha float32, a []T, lda int, b tensor.PackedWeight[T], bias []T, beta float32, c []T, ldc, m int)

	// ComputeResidential runs C = alpha*A*B + bias + R, elementwise.
	ComputeResidential(alpha float32, a []T, lda int, b tensor.PackedWeight[T], bias []T, r []T, ldr int, c []T, ldc, m int)

	// ComputeResExt runs C = alpha*A*B + bias + gamma*R, elementwise.
	ComputeResExt(alpha float32, a []T, lda int, b tensor.PackedWeight[T], bias []T, gamma float32, r []T, ldr int, c []T, ldc, m int)

	// ComputeSiLU runs C = SiLU(alpha*A*B + beta*C) elementwise.
	ComputeSiLU(alpha float32, a []T, lda int, b tensor.PackedWeight[T], beta float32, c []T, ldc, m int)

	// ComputeResMul runs C = (alpha*A*B) * R elementwise (used for gate*up).
	ComputeResMul(alpha float32, a []T, lda int, b tensor.PackedWeight[T], r []T, ldr int, c []T, ldc, m int)
}

// RotaryShape mirrors the 7-element shape array the original forward() call
// builds: {batch, inputSeqLen, qHeads, headSize, kvHeads, maxSeqLen, pastSeqLen}.
type RotaryShape struct {
	Batch       int
	InputSeqLen int
	QHeads      int
	HeadSize    int
	KVHeads     int
	MaxSeqLen   int
	PastSeqLen  int
}

// RotaryOp applies the position-dependent post-op to Q and K in place.
type RotaryOp[T any] interface {
	Forward(q, k []T, qStride, kStride int, shape RotaryShape, positionIDs []int)
}

// NormOp is a normalization kernel (LayerNorm or RMSNorm depending on the
// implementation) applied as the decoder layer's pre-norm step.
type NormOp[T any] interface {
	SetWeight(gamma, beta []T, hiddenSize int)
	Forward(in, out []T, rows, inStride, outStride int, epsilon float32)
}
