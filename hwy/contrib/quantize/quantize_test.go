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

package quantize

import (
	"math"
	"testing"
)

func TestQuantizeDequantizeUint8RoundTrip(t *testing.T) {
	input := []float32{-1, -0.5, 0, 0.5, 1, 0.9999}
	min, max := float32(-1), float32(1)
	scale := (max - min) / 255

	quantized := make([]uint8, len(input))
	QuantizeFloat32(input, quantized, min, scale)

	dequantized := make([]float32, len(input))
	DequantizeUint8(quantized, dequantized, min, scale)

	for i, v := range input {
		if math.Abs(float64(dequantized[i]-v)) > float64(scale)+1e-6 {
			t.Errorf("round trip[%d]: got %v, want ~%v (scale %v)", i, dequantized[i], v, scale)
		}
	}
}

func TestQuantizeColumnsInt8RoundTrip(t *testing.T) {
	rows, cols := 8, 4
	src := make([]float32, rows*cols)
	for i := range src {
		src[i] = float32(i%17) - 8
	}

	q, stats := QuantizeColumnsInt8(src, rows, cols)
	deq := DequantizeColumnsInt8(q, rows, cols, stats)

	for c := 0; c < cols; c++ {
		tol := stats.Scale[c] + 1e-6
		for r := 0; r < rows; r++ {
			idx := r*cols + c
			if math.Abs(float64(deq[idx]-src[idx])) > float64(tol) {
				t.Errorf("col %d row %d: got %v, want ~%v (tol %v)", c, r, deq[idx], src[idx], tol)
			}
		}
	}
}

func TestQuantizeColumnsInt8ColumnSum(t *testing.T) {
	rows, cols := 5, 3
	src := make([]float32, rows*cols)
	for i := range src {
		src[i] = float32(i) - 6
	}
	q, stats := QuantizeColumnsInt8(src, rows, cols)
	for c := 0; c < cols; c++ {
		var sum float32
		for r := 0; r < rows; r++ {
			sum += float32(q[r*cols+c])
		}
		if sum != stats.Sum[c] {
			t.Errorf("column %d sum mismatch: computed %v, stats %v", c, sum, stats.Sum[c])
		}
	}
}

func TestPackUnpackNibbles(t *testing.T) {
	values := []uint8{0, 15, 1, 14, 7, 8, 3}
	packed := PackNibbles(values)
	if len(packed) != (len(values)+1)/2 {
		t.Fatalf("packed length = %d, want %d", len(packed), (len(values)+1)/2)
	}
	unpacked := UnpackNibbles(packed, len(values))
	for i := range values {
		if unpacked[i] != values[i] {
			t.Errorf("nibble[%d] = %v, want %v", i, unpacked[i], values[i])
		}
	}
}

func TestNF4RoundTrip(t *testing.T) {
	src := []float32{-1, -0.5, 0, 0.3, 0.72, 1}
	indices := QuantizeNF4(src)
	deq := DequantizeNF4(indices, 1.0)
	for i, v := range src {
		if math.Abs(float64(deq[i]-v)) > 0.12 {
			t.Errorf("NF4 round trip[%d]: got %v, want ~%v", i, deq[i], v)
		}
	}
}

func TestNF4Monotonic(t *testing.T) {
	for i := 0; i < 15; i++ {
		if nf4Levels[i] >= nf4Levels[i+1] {
			t.Fatalf("nf4Levels not sorted at index %d: %v >= %v", i, nf4Levels[i], nf4Levels[i+1])
		}
	}
}
