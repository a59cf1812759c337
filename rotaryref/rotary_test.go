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

package rotaryref

import (
	"math"
	"testing"

	"github.com/aurora327/gqakernel/kernel"
)

func TestRoPEPositionZeroIsIdentity(t *testing.T) {
	headSize := 8
	q := []float32{1, 2, 3, 4, 5, 6, 7, 8}
	k := make([]float32, headSize)
	copy(k, q)
	orig := append([]float32{}, q...)

	r := RoPE[float32]{}
	shape := kernel.RotaryShape{Batch: 1, InputSeqLen: 1, QHeads: 1, HeadSize: headSize, KVHeads: 1}
	r.Forward(q, k, headSize, headSize, shape, nil)

	for i := range q {
		if math.Abs(float64(q[i]-orig[i])) > 1e-5 {
			t.Errorf("position 0 should be a no-op rotation: q[%d] = %v, want %v", i, q[i], orig[i])
		}
	}
}

func TestRoPEPreservesPairNorm(t *testing.T) {
	headSize := 16
	half := headSize / 2
	q := make([]float32, headSize)
	for i := range q {
		q[i] = float32(i) - 4
	}
	k := make([]float32, headSize)

	origNorms := make([]float64, half)
	for i := 0; i < half; i++ {
		origNorms[i] = math.Hypot(float64(q[i]), float64(q[i+half]))
	}

	r := RoPE[float32]{Base: 10000}
	shape := kernel.RotaryShape{Batch: 1, InputSeqLen: 1, QHeads: 1, HeadSize: headSize, KVHeads: 1, PastSeqLen: 5}
	r.Forward(q, k, headSize, headSize, shape, nil)

	for i := 0; i < half; i++ {
		gotNorm := math.Hypot(float64(q[i]), float64(q[i+half]))
		if math.Abs(gotNorm-origNorms[i]) > 1e-4 {
			t.Errorf("pair %d norm changed: got %v, want %v (rotation must be norm-preserving)", i, gotNorm, origNorms[i])
		}
	}
}

func TestRoPEPositionIDsOverridePastSeqLen(t *testing.T) {
	headSize := 4
	half := 2

	mk := func() ([]float32, []float32) {
		return []float32{1, 2, 3, 4}, []float32{1, 2, 3, 4}
	}

	r := RoPE[float32]{Base: 10000}
	shape := kernel.RotaryShape{Batch: 1, InputSeqLen: 1, QHeads: 1, HeadSize: headSize, KVHeads: 1, PastSeqLen: 0}

	qA, kA := mk()
	r.Forward(qA, kA, headSize, headSize, shape, []int{7})

	shape.PastSeqLen = 7
	qB, kB := mk()
	r.Forward(qB, kB, headSize, headSize, shape, nil)

	for i := 0; i < half*2; i++ {
		if math.Abs(float64(qA[i]-qB[i])) > 1e-5 {
			t.Errorf("positionIDs=[7] should match PastSeqLen=7: qA[%d]=%v, qB[%d]=%v", i, qA[i], i, qB[i])
		}
	}
}

func TestRoPEEveryHeadAtSamePositionRotatesIdentically(t *testing.T) {
	headSize := 4
	qHeads, kvHeads := 2, 1
	q := []float32{1, 2, 3, 4, 1, 2, 3, 4} // 2 heads
	k := []float32{1, 2, 3, 4}             // 1 head
	orig := append([]float32{}, q...)

	r := RoPE[float32]{Base: 10000}
	shape := kernel.RotaryShape{Batch: 1, InputSeqLen: 1, QHeads: qHeads, HeadSize: headSize, KVHeads: kvHeads, PastSeqLen: 3}
	r.Forward(q, k, qHeads*headSize, kvHeads*headSize, shape, nil)

	// Both Q heads at the same position should be rotated identically.
	for i := 0; i < headSize; i++ {
		if math.Abs(float64(q[i]-q[headSize+i])) > 1e-5 {
			t.Errorf("head 0 and head 1 at same position diverged: %v vs %v", q[i], q[headSize+i])
		}
	}
	allSame := true
	for i := range orig {
		if q[i] != orig[i] {
			allSame = false
		}
	}
	if allSame {
		t.Error("rotation at nonzero position should change at least one element")
	}
}
