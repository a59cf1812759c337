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

// Package xmath provides scalar and vectorized transcendental helpers used
// by the attention softmax and MLP activation kernels: Exp, Sigmoid and
// SiLU. It mirrors the scalar-tail helpers in go-highway's contrib/math
// package, generalized to a generic Floats element type and extended with
// Vec-level entry points since the activation kernels operate a full row at
// a time rather than one element at a time.
package xmath

import (
	"math"

	"github.com/aurora327/gqakernel/hwy"
)

// Exp computes e^x for a single element.
func Exp[T hwy.Floats](x T) T {
	return T(math.Exp(float64(x)))
}

// Sigmoid computes 1/(1+e^-x) for a single element.
func Sigmoid[T hwy.Floats](x T) T {
	return T(1 / (1 + math.Exp(-float64(x))))
}

// SiLU computes the SiLU/Swish activation x*sigmoid(x) for a single element.
func SiLU[T hwy.Floats](x T) T {
	return x * Sigmoid(x)
}

// ExpVec applies Exp lane-wise. A SIMD backend would replace the loop with a
// polynomial vector approximation; the scalar loop here is always correct.
func ExpVec[T hwy.Floats](v hwy.Vec[T]) hwy.Vec[T] {
	out := make([]T, v.NumLanes())
	for i := 0; i < v.NumLanes(); i++ {
		out[i] = Exp(laneAt(v, i))
	}
	return hwy.Load(out)
}

// SigmoidVec applies Sigmoid lane-wise.
func SigmoidVec[T hwy.Floats](v hwy.Vec[T]) hwy.Vec[T] {
	out := make([]T, v.NumLanes())
	for i := 0; i < v.NumLanes(); i++ {
		out[i] = Sigmoid(laneAt(v, i))
	}
	return hwy.Load(out)
}

// SiLUVec applies SiLU lane-wise.
func SiLUVec[T hwy.Floats](v hwy.Vec[T]) hwy.Vec[T] {
	out := make([]T, v.NumLanes())
	for i := 0; i < v.NumLanes(); i++ {
		out[i] = SiLU(laneAt(v, i))
	}
	return hwy.Load(out)
}

// laneAt extracts element i of v through a round-trip Store, since Vec keeps
// its backing slice unexported outside the hwy package.
func laneAt[T hwy.Floats](v hwy.Vec[T], i int) T {
	buf := make([]T, v.NumLanes())
	hwy.Store(v, buf)
	return buf[i]
}

// ExpRow applies Exp in place over a full row slice rather than a
// fixed-width Vec batch.
func ExpRow[T hwy.Floats](row []T) {
	for i, x := range row {
		row[i] = Exp(x)
	}
}

// SiLURow applies SiLU in place over a full row.
func SiLURow[T hwy.Floats](row []T) {
	for i, x := range row {
		row[i] = SiLU(x)
	}
}
