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

package mlp

import (
	"github.com/aurora327/gqakernel/hwy"
	"github.com/aurora327/gqakernel/hwy/contrib/xmath"
	"github.com/aurora327/gqakernel/tensor"
)

// catGateUpWeights lays gate and up side by side into one [hidden, 2*imLen]
// row-major matrix so a single matmul call produces both projections,
// matching LlamaMLP::catGateUpWeights. Concatenation happens on the dense
// weight before quantization, so the packed element layout downstream is
// untouched by this step.
func catGateUpWeights[T hwy.Floats](hidden, imLen int, gate []T, gateScale, gateZero []float32, up []T, upScale, upZero []float32, elemType tensor.WeightElemType) ([]T, []float32, []float32) {
	cat := make([]T, hidden*2*imLen)
	for r := 0; r < hidden; r++ {
		copy(cat[r*2*imLen:r*2*imLen+imLen], gate[r*imLen:(r+1)*imLen])
		copy(cat[r*2*imLen+imLen:r*2*imLen+2*imLen], up[r*imLen:(r+1)*imLen])
	}

	var catScale, catZero []float32
	if elemType.IsQuantized() && gateScale != nil {
		catScale = make([]float32, 2*imLen)
		catZero = make([]float32, 2*imLen)
		copy(catScale[:imLen], gateScale)
		copy(catScale[imLen:], upScale)
		copy(catZero[:imLen], gateZero)
		copy(catZero[imLen:], upZero)
	}
	return cat, catScale, catZero
}

// siluSum reads the [rows, 2*imLen] concatenated gate/up projection and
// writes SiLU(left half) * right half into a half-width [rows, imLen]
// buffer, fusing the activation and the elementwise gate-up product that
// the separate-weight path performs as two matmul calls plus ComputeSiLU /
// ComputeResMul.
func siluSum[T hwy.Floats](interm tensor.Matrix[T], imLen int, out []T, outStride int) {
	for r := 0; r < interm.Rows; r++ {
		row := interm.Row(r)
		gate := row[:imLen]
		up := row[imLen : 2*imLen]
		dst := out[r*outStride : r*outStride+imLen]
		for i := 0; i < imLen; i++ {
			dst[i] = xmath.SiLU(gate[i]) * up[i]
		}
	}
}
