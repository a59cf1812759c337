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

package matmulref

import (
	"math"
	"testing"

	"github.com/aurora327/gqakernel/hwy/contrib/workerpool"
	"github.com/aurora327/gqakernel/tensor"
)

// denseMatMul is a naive scalar reference oracle independent of the Helper
// implementation under test.
func denseMatMul(a []float32, m, k int, w []float32, n int) []float32 {
	out := make([]float32, m*n)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			var sum float32
			for kk := 0; kk < k; kk++ {
				sum += a[i*k+kk] * w[kk*n+j]
			}
			out[i*n+j] = sum
		}
	}
	return out
}

func TestComputeMatchesDenseReference(t *testing.T) {
	m, k, n := 4, 6, 5
	a := make([]float32, m*k)
	w := make([]float32, k*n)
	for i := range a {
		a[i] = float32(i%5) - 2
	}
	for i := range w {
		w[i] = float32(i%3) - 1
	}

	h := New[float32](workerpool.New(2))
	converted := h.ConvertWeight(false, k, n, w, nil, nil, tensor.WeightFloat32)
	packed := h.PackWeight(converted)

	c := make([]float32, m*n)
	h.Compute(1, a, k, packed, 0, c, n, m)

	want := denseMatMul(a, m, k, w, n)
	for i := range want {
		if math.Abs(float64(c[i]-want[i])) > 1e-4 {
			t.Errorf("c[%d] = %v, want %v", i, c[i], want[i])
		}
	}
}

func TestComputeBiasAddsBias(t *testing.T) {
	m, k, n := 2, 3, 2
	a := []float32{1, 2, 3, 4, 5, 6}
	w := []float32{1, 0, 0, 1, 1, 1}
	bias := []float32{10, 20}

	h := New[float32](nil)
	packed := h.PackWeight(h.ConvertWeight(false, k, n, w, nil, nil, tensor.WeightFloat32))

	c := make([]float32, m*n)
	h.ComputeBias(1, a, k, packed, bias, 0, c, n, m)

	want := denseMatMul(a, m, k, w, n)
	for i := range want {
		want[i] += bias[i%n]
	}
	for i := range want {
		if math.Abs(float64(c[i]-want[i])) > 1e-4 {
			t.Errorf("c[%d] = %v, want %v", i, c[i], want[i])
		}
	}
}

func TestComputeResidentialAddsResidual(t *testing.T) {
	m, k, n := 2, 2, 2
	a := []float32{1, 1, 1, 1}
	w := []float32{1, 0, 0, 1}
	r := []float32{100, 200, 300, 400}

	h := New[float32](nil)
	packed := h.PackWeight(h.ConvertWeight(false, k, n, w, nil, nil, tensor.WeightFloat32))

	c := make([]float32, m*n)
	h.ComputeResidential(1, a, k, packed, nil, r, n, c, n, m)

	want := denseMatMul(a, m, k, w, n)
	for i := range want {
		want[i] += r[i]
	}
	for i := range want {
		if c[i] != want[i] {
			t.Errorf("c[%d] = %v, want %v", i, c[i], want[i])
		}
	}
}

func TestComputeSiLUAppliesActivation(t *testing.T) {
	m, k, n := 1, 2, 2
	a := []float32{1, 1}
	w := []float32{1, 0, 0, 1}

	h := New[float32](nil)
	packed := h.PackWeight(h.ConvertWeight(false, k, n, w, nil, nil, tensor.WeightFloat32))

	c := make([]float32, m*n)
	h.ComputeSiLU(1, a, k, packed, 0, c, n, m)

	for _, v := range c {
		want := 1.0 / (1 + math.Exp(-1)) // SiLU(1) = 1*sigmoid(1)
		if math.Abs(float64(v)-want) > 1e-4 {
			t.Errorf("c = %v, want %v", v, want)
		}
	}
}

func TestComputeResMulMultipliesElementwise(t *testing.T) {
	m, k, n := 1, 2, 2
	a := []float32{2, 3}
	w := []float32{1, 0, 0, 1} // A*W = [2, 3]
	r := []float32{5, 7}

	h := New[float32](nil)
	packed := h.PackWeight(h.ConvertWeight(false, k, n, w, nil, nil, tensor.WeightFloat32))

	c := make([]float32, m*n)
	h.ComputeResMul(1, a, k, packed, r, n, c, n, m)

	want := []float32{10, 21}
	for i := range want {
		if c[i] != want[i] {
			t.Errorf("c[%d] = %v, want %v", i, c[i], want[i])
		}
	}
}

func TestConvertWeightTransposed(t *testing.T) {
	// w stored column-major (cols x rows): transpose during conversion should
	// produce the same dense matrix as a row-major weight fed directly.
	rows, cols := 2, 3
	rowMajor := []float32{1, 2, 3, 4, 5, 6} // [rows, cols]
	colMajor := make([]float32, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			colMajor[c*rows+r] = rowMajor[r*cols+c]
		}
	}

	h := New[float32](nil)
	a := []float32{1, 1} // identity-ish probe row, m=1, k=rows=2
	pRow := h.PackWeight(h.ConvertWeight(false, rows, cols, rowMajor, nil, nil, tensor.WeightFloat32))
	pCol := h.PackWeight(h.ConvertWeight(true, rows, cols, colMajor, nil, nil, tensor.WeightFloat32))

	cRow := make([]float32, cols)
	cCol := make([]float32, cols)
	h.Compute(1, a, rows, pRow, 0, cRow, cols, 1)
	h.Compute(1, a, rows, pCol, 0, cCol, cols, 1)

	for i := range cRow {
		if cRow[i] != cCol[i] {
			t.Errorf("transposed conversion mismatch at %d: row-major=%v, col-major=%v", i, cRow[i], cCol[i])
		}
	}
}

func TestQuantizedComputeCloseToFloatReference(t *testing.T) {
	m, k, n := 3, 16, 8
	a := make([]float32, m*k)
	w := make([]float32, k*n)
	for i := range a {
		a[i] = float32(math.Sin(float64(i))) * 2
	}
	for i := range w {
		w[i] = float32(math.Cos(float64(i))) * 0.5
	}

	h := New[float32](nil)
	floatPacked := h.PackWeight(h.ConvertWeight(false, k, n, w, nil, nil, tensor.WeightFloat32))
	cFloat := make([]float32, m*n)
	h.Compute(1, a, k, floatPacked, 0, cFloat, n, m)

	scale := make([]float32, n) // ConvertWeight computes its own per-column scale when quantizing
	zero := make([]float32, n)
	quantPacked := h.PackWeight(h.ConvertWeight(false, k, n, w, scale, zero, tensor.WeightInt8))
	cQuant := make([]float32, m*n)
	h.Compute(1, a, k, quantPacked, 0, cQuant, n, m)

	for i := range cFloat {
		diff := math.Abs(float64(cFloat[i] - cQuant[i]))
		tol := math.Abs(float64(cFloat[i]))*0.05 + 0.1
		if diff > tol {
			t.Errorf("quantized c[%d] = %v, float reference = %v (diff %v > tol %v)", i, cQuant[i], cFloat[i], diff, tol)
		}
	}
}
