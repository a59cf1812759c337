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

// Package tensor provides the data-model views the attention and MLP blocks
// operate on: row-major Matrix/Vector views over caller-owned buffers, the
// PackedWeight layout the matmul helper produces, and the 4-D KVCacheTensor
// abstraction. ViewMatrix wraps a caller-owned buffer; the New* constructors
// allocate a fresh one. They are thin strided views in the spirit of go-highway's Tile
// and the xFasterTransformer hgemm_config matrix wrappers this module
// replaces.
package tensor

// Matrix is a 2D row-major view with stride >= Cols, allowing a view to
// address a sub-region of a larger contiguous buffer (e.g. one query-head's
// columns out of a concatenated QKV matrix).
type Matrix[T any] struct {
	Data   []T
	Rows   int
	Cols   int
	Stride int
}

// NewMatrix creates a tightly-strided Matrix (Stride == Cols) backed by a
// freshly allocated buffer.
func NewMatrix[T any](rows, cols int) Matrix[T] {
	return Matrix[T]{Data: make([]T, rows*cols), Rows: rows, Cols: cols, Stride: cols}
}

// ViewMatrix wraps an existing buffer as a Matrix without copying.
func ViewMatrix[T any](data []T, rows, cols, stride int) Matrix[T] {
	return Matrix[T]{Data: data, Rows: rows, Cols: cols, Stride: stride}
}

// Row returns the Cols elements of row i from m's backing buffer; any
// stride padding after them is not included.
func (m Matrix[T]) Row(i int) []T {
	start := i * m.Stride
	return m.Data[start : start+m.Cols]
}

// RowAt returns the slice starting at row i and column col.
func (m Matrix[T]) RowAt(i, col int) []T {
	start := i*m.Stride + col
	return m.Data[start:]
}

// SubColumns returns a view over columns [colStart, colStart+cols) of m,
// sharing m's stride and backing buffer — used to slice the owned head
// range out of a concatenated Q/K/V or gate/up matrix.
func (m Matrix[T]) SubColumns(colStart, cols int) Matrix[T] {
	return Matrix[T]{Data: m.Data[colStart:], Rows: m.Rows, Cols: cols, Stride: m.Stride}
}

// SubRows returns a view over rows [rowStart, rowStart+rows) of m.
func (m Matrix[T]) SubRows(rowStart, rows int) Matrix[T] {
	return Matrix[T]{Data: m.Data[rowStart*m.Stride:], Rows: rows, Cols: m.Cols, Stride: m.Stride}
}

// Vector is a 1D view over a contiguous buffer — the degenerate case of
// Matrix, used for biases, scale/zero/sum companions, and norm weights.
type Vector[T any] struct {
	Data []T
}

// NewVector allocates a zero-valued Vector of length n.
func NewVector[T any](n int) Vector[T] {
	return Vector[T]{Data: make([]T, n)}
}

// Len reports the vector's length.
func (v Vector[T]) Len() int { return len(v.Data) }

// Sub returns a view over v[start:start+n].
func (v Vector[T]) Sub(start, n int) Vector[T] {
	return Vector[T]{Data: v.Data[start : start+n]}
}
