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

package xmath

import (
	"math"
	"testing"

	"github.com/aurora327/gqakernel/hwy"
)

func TestSigmoidBounds(t *testing.T) {
	if got := Sigmoid(float32(0)); math.Abs(float64(got)-0.5) > 1e-6 {
		t.Errorf("Sigmoid(0) = %v, want 0.5", got)
	}
	if got := Sigmoid(float32(100)); got < 0.999 {
		t.Errorf("Sigmoid(100) = %v, want ~1", got)
	}
	if got := Sigmoid(float32(-100)); got > 0.001 {
		t.Errorf("Sigmoid(-100) = %v, want ~0", got)
	}
}

func TestSiLUMatchesDefinition(t *testing.T) {
	for _, x := range []float32{-3, -1, 0, 0.5, 2, 5} {
		want := x / (1 + float32(math.Exp(float64(-x))))
		got := SiLU(x)
		if math.Abs(float64(got-want)) > 1e-5 {
			t.Errorf("SiLU(%v) = %v, want %v", x, got, want)
		}
	}
}

func TestSiLURowInPlace(t *testing.T) {
	row := []float32{-2, -1, 0, 1, 2}
	want := make([]float32, len(row))
	for i, x := range row {
		want[i] = SiLU(x)
	}
	SiLURow(row)
	for i := range want {
		if row[i] != want[i] {
			t.Errorf("SiLURow[%d] = %v, want %v", i, row[i], want[i])
		}
	}
}

func TestSiLUVecMatchesScalar(t *testing.T) {
	in := []float32{-2, -1, 0, 1}
	v := hwy.Load(in)
	out := make([]float32, len(in))
	hwy.Store(SiLUVec(v), out)
	for i, x := range in {
		want := SiLU(x)
		if math.Abs(float64(out[i]-want)) > 1e-6 {
			t.Errorf("SiLUVec[%d] = %v, want %v", i, out[i], want)
		}
	}
}

func TestExpMatchesStdlib(t *testing.T) {
	for _, x := range []float64{-2, 0, 1, 3.5} {
		got := Exp(x)
		want := math.Exp(x)
		if math.Abs(got-want) > 1e-9 {
			t.Errorf("Exp(%v) = %v, want %v", x, got, want)
		}
	}
}
