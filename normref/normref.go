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

// Package normref implements the default kernel.NormOp: RMSNorm (the
// decoder layer's pre-norm step) and LayerNorm. go-highway's nn package
// lists RMSNorm under "Future operations (planned)" alongside the
// already-shipped LayerNorm/Softmax (hwy/contrib/nn/doc.go); this package
// builds the row-wise reduce-then-scale structure those planned and shipped
// operations share, vectorized through hwy the same way softmax_base.go
// reduces a row with a Vec accumulator before the scalar tail.
package normref

import (
	"math"

	"github.com/aurora327/gqakernel/hwy"
)

// RMSNorm implements kernel.NormOp as root-mean-square normalization:
// out = x / math.Sqrt(mean(x^2) + eps) * gamma.
type RMSNorm[T hwy.Floats] struct {
	gamma []T
}

// SetWeight stores the per-channel scale. RMSNorm has no additive term;
// beta is accepted to satisfy the NormOp interface and ignored.
func (n *RMSNorm[T]) SetWeight(gamma, beta []T, hiddenSize int) {
	n.gamma = gamma[:hiddenSize]
}

// Forward applies RMSNorm to each of rows rows of in, writing to out.
func (n *RMSNorm[T]) Forward(in, out []T, rows, inStride, outStride int, epsilon float32) {
	hiddenSize := len(n.gamma)
	lanes := hwy.MaxLanes[T]()

	for r := 0; r < rows; r++ {
		inRow := in[r*inStride : r*inStride+hiddenSize]
		outRow := out[r*outStride : r*outStride+hiddenSize]

		sumSq := hwy.Zero[T]()
		i := 0
		for ; i+lanes <= hiddenSize; i += lanes {
			v := hwy.Load(inRow[i:])
			sumSq = hwy.MulAdd(v, v, sumSq)
		}
		total := hwy.ReduceSum(sumSq)
		for ; i < hiddenSize; i++ {
			total += inRow[i] * inRow[i]
		}

		meanSq := float64(total)/float64(hiddenSize) + float64(epsilon)
		invRMS := T(1.0 / math.Sqrt(meanSq))

		invVec := hwy.Set(invRMS)
		i = 0
		for ; i+lanes <= hiddenSize; i += lanes {
			v := hwy.Load(inRow[i:])
			g := hwy.Load(n.gamma[i:])
			scaled := hwy.Mul(v, invVec)
			hwy.Store(hwy.Mul(scaled, g), outRow[i:])
		}
		for ; i < hiddenSize; i++ {
			outRow[i] = inRow[i] * invRMS * n.gamma[i]
		}
	}
}

// LayerNorm implements kernel.NormOp as standard layer normalization with
// an affine transform: out = (x - mean(x)) / math.Sqrt(var(x) + eps) * gamma + beta.
type LayerNorm[T hwy.Floats] struct {
	gamma, beta []T
}

// SetWeight stores the per-channel affine parameters.
func (n *LayerNorm[T]) SetWeight(gamma, beta []T, hiddenSize int) {
	n.gamma = gamma[:hiddenSize]
	if beta != nil {
		n.beta = beta[:hiddenSize]
	}
}

// Forward applies LayerNorm to each of rows rows of in, writing to out.
func (n *LayerNorm[T]) Forward(in, out []T, rows, inStride, outStride int, epsilon float32) {
	hiddenSize := len(n.gamma)

	for r := 0; r < rows; r++ {
		inRow := in[r*inStride : r*inStride+hiddenSize]
		outRow := out[r*outStride : r*outStride+hiddenSize]

		var sum, sumSq float64
		for _, x := range inRow {
			sum += float64(x)
			sumSq += float64(x) * float64(x)
		}
		mean := sum / float64(hiddenSize)
		variance := sumSq/float64(hiddenSize) - mean*mean
		invStd := 1.0 / math.Sqrt(variance+float64(epsilon))

		for i, x := range inRow {
			normed := (float64(x) - mean) * invStd
			v := T(normed) * n.gamma[i]
			if n.beta != nil {
				v += n.beta[i]
			}
			outRow[i] = v
		}
	}
}

