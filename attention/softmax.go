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

package attention

import (
	"github.com/aurora327/gqakernel/hwy"
	"github.com/aurora327/gqakernel/hwy/contrib/xmath"
)

// maskedSoftmaxRow computes softmax(scaleFactor*row + maskRow) in place
// over row[:n], mirroring go-highway's BaseSoftmax row reduction
// (hwy/contrib/nn/softmax_base.go) extended with the attention scale and
// additive mask the original's DecoderUtil::computeSoftmax applies before
// the max-subtraction.
func maskedSoftmaxRow[T hwy.Floats](row []T, mask []float32, n int, scaleFactor float32) {
	row = row[:n]

	maxVal := row[0]*T(scaleFactor) + T(mask[0])
	for i := 1; i < n; i++ {
		v := row[i]*T(scaleFactor) + T(mask[i])
		if v > maxVal {
			maxVal = v
		}
	}

	var sum T
	for i := 0; i < n; i++ {
		v := row[i]*T(scaleFactor) + T(mask[i]) - maxVal
		e := xmath.Exp(v)
		row[i] = e
		sum += e
	}

	invSum := T(1) / sum
	for i := 0; i < n; i++ {
		row[i] *= invSum
	}
}
