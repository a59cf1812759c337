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

// WeightElemType names the storage format a PackedWeight's Data holds.
type WeightElemType int

const (
	// WeightFloat32 stores full-precision weights, no quantization.
	WeightFloat32 WeightElemType = iota
	// WeightBFloat16 stores truncated-mantissa bfloat16 weights.
	WeightBFloat16
	// WeightFloat16 stores IEEE-754 half precision weights.
	WeightFloat16
	// WeightInt8 stores per-column affine-quantized signed int8 weights.
	WeightInt8
	// WeightNF4 stores 4-bit NormalFloat-quantized weights, two values
	// packed per byte.
	WeightNF4
)

// IsQuantized reports whether t requires the Scale/Zero/Sum companions.
func (t WeightElemType) IsQuantized() bool {
	return t == WeightInt8 || t == WeightNF4
}

// PackedWeight is the matmul-ready layout a matmul helper's packWeight
// produces. Its Data layout is opaque to the attention and MLP blocks; they
// only ever pass a PackedWeight back into the helper's compute entry
// points. Scale, Zero, and Sum are the per-column quantization companions:
// empty when ElemType is a float format, length Cols otherwise.
//
// For WeightNF4, Cols names the logical (unpacked) column count; Stride is
// Cols/2 rounded up — halved because two 4-bit weights share one byte — and
// Data holds Rows*Stride elements of nibble pairs.
type PackedWeight[T any] struct {
	Data     []T
	Rows     int
	Cols     int
	Stride   int
	ElemType WeightElemType
	Scale    []float32
	Zero     []float32
	Sum      []float32
}

// NewPackedWeight allocates an unquantized PackedWeight of the given shape.
func NewPackedWeight[T any](rows, cols int, elemType WeightElemType) PackedWeight[T] {
	stride := cols
	size := rows * cols
	if elemType == WeightNF4 {
		stride = (cols + 1) / 2
		size = rows * stride
	}
	pw := PackedWeight[T]{Data: make([]T, size), Rows: rows, Cols: cols, Stride: stride, ElemType: elemType}
	if elemType.IsQuantized() {
		pw.Scale = make([]float32, cols)
		pw.Zero = make([]float32, cols)
		pw.Sum = make([]float32, cols)
	}
	return pw
}
