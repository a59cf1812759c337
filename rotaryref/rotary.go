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

// Package rotaryref is a minimal default implementation of kernel.RotaryOp:
// standard rotary position embedding (RoPE) applied to the Q/K halves the
// way the original xFasterTransformer attention.h calls qkpo.forward before
// kernel dispatch. It rotates pairs (x[i], x[i+headSize/2]) — the
// "rotate-half" convention most LLaMA-family models use — rather than
// adjacent-pair rotation, since that is the layout the spec's QKV weight
// concatenation assumes.
package rotaryref

import (
	"math"

	"github.com/aurora327/gqakernel/kernel"
)

// RoPE applies rotate-half rotary embeddings with the given base frequency
// (10000 is the standard LLaMA default).
type RoPE[T kernelFloat] struct {
	Base float64
}

// kernelFloat mirrors hwy.Floats without importing hwy, so this package has
// no dependency on the vector layer — rotary embedding is a per-pair
// trigonometric op, not a bulk elementwise one, so there's nothing for Vec
// to buy here.
type kernelFloat interface {
	~float32 | ~float64
}

// Forward implements kernel.RotaryOp, rotating q and k in place for every
// (batch, head, position) triple named by shape and positionIDs.
func (r RoPE[T]) Forward(q, k []T, qStride, kStride int, shape kernel.RotaryShape, positionIDs []int) {
	base := r.Base
	if base == 0 {
		base = 10000.0
	}
	half := shape.HeadSize / 2

	freqs := make([]float64, half)
	for i := 0; i < half; i++ {
		freqs[i] = 1.0 / math.Pow(base, float64(2*i)/float64(shape.HeadSize))
	}

	for b := 0; b < shape.Batch; b++ {
		for s := 0; s < shape.InputSeqLen; s++ {
			pos := shape.PastSeqLen + s
			if positionIDs != nil {
				if len(positionIDs) == 1 {
					pos = positionIDs[0] + s
				} else {
					pos = positionIDs[s]
				}
			}

			rowIdx := b*shape.InputSeqLen + s
			qRow := q[rowIdx*qStride:]
			for h := 0; h < shape.QHeads; h++ {
				rotatePair(qRow[h*shape.HeadSize:], half, pos, freqs)
			}

			kRow := k[rowIdx*kStride:]
			for h := 0; h < shape.KVHeads; h++ {
				rotatePair(kRow[h*shape.HeadSize:], half, pos, freqs)
			}
		}
	}
}

func rotatePair[T kernelFloat](head []T, half, pos int, freqs []float64) {
	for i := 0; i < half; i++ {
		angle := float64(pos) * freqs[i]
		sin, cos := math.Sincos(angle)
		x0 := float64(head[i])
		x1 := float64(head[i+half])
		head[i] = T(x0*cos - x1*sin)
		head[i+half] = T(x1*cos + x0*sin)
	}
}
