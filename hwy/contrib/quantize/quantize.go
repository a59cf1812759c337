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

// Package quantize provides affine quantize/dequantize routines used when
// packing weight matrices for the matmul helper: per-tensor min/scale
// quantization (ported from go-highway's contrib/quantize package) plus the
// per-column scale/zero-point/column-sum companions and 4-bit nibble
// pack/unpack helpers that a PackedWeight needs.
package quantize

import (
	"github.com/aurora327/gqakernel/hwy"
)

// DequantizeUint8 converts quantized uint8 values to float32.
//
//	output[i] = min + float32(input[i]) * scale
func DequantizeUint8(input []uint8, output []float32, min, scale float32) {
	if len(input) == 0 {
		return
	}
	n := len(input)
	if len(output) < n {
		n = len(output)
	}

	lanes := hwy.NumLanes[float32]()
	minVec := hwy.Set[float32](min)
	scaleVec := hwy.Set[float32](scale)
	buf := make([]float32, lanes)

	i := 0
	for ; i+lanes <= n; i += lanes {
		for j := 0; j < lanes; j++ {
			buf[j] = float32(input[i+j])
		}
		v := hwy.Load(buf)
		result := hwy.MulAdd(v, scaleVec, minVec)
		hwy.Store(result, output[i:])
	}
	for ; i < n; i++ {
		output[i] = min + float32(input[i])*scale
	}
}

// QuantizeFloat32 converts float32 values to quantized uint8.
//
//	output[i] = uint8(round(clamp((input[i] - min) / scale, 0, 255)))
func QuantizeFloat32(input []float32, output []uint8, min, scale float32) {
	if len(input) == 0 {
		return
	}
	n := len(input)
	if len(output) < n {
		n = len(output)
	}

	lanes := hwy.NumLanes[float32]()
	minVec := hwy.Set[float32](min)
	invScaleVec := hwy.Set[float32](1.0 / scale)
	zeroVec := hwy.Zero[float32]()
	max255Vec := hwy.Set[float32](255.0)
	buf := make([]float32, lanes)

	i := 0
	for ; i+lanes <= n; i += lanes {
		v := hwy.Load(input[i:])
		diff := hwy.Mul(hwy.Sub(v, minVec), invScaleVec)
		rounded := hwy.Clamp(hwy.Round(diff), zeroVec, max255Vec)
		hwy.Store(rounded, buf)
		for j := 0; j < lanes; j++ {
			output[i+j] = uint8(buf[j])
		}
	}
	for ; i < n; i++ {
		val := (input[i] - min) / scale
		rounded := float32(int32(val + 0.5))
		if rounded < 0 {
			rounded = 0
		}
		if rounded > 255 {
			rounded = 255
		}
		output[i] = uint8(rounded)
	}
}

// ColumnStats holds the per-column affine quantization parameters a packed
// weight matrix's scale/zero companion vectors are built from, plus the
// column sum of the quantized (not dequantized) values used by matmul
// kernels to cheaply correct for the zero-point offset:
//
//	real(A·B)[m,n] = scale[n] * (sum_k A[m,k]*qB[k,n]) - zero[n]*rowSum(A[m,:])
//
// where qB is the zero-centered integer storage and sum[n] folds the
// zero-point term's per-column constant.
type ColumnStats struct {
	Scale []float32
	Zero  []float32
	Sum   []float32
}

// QuantizeColumnsInt8 quantizes a row-major [rows, cols] float32 matrix to
// symmetric signed int8, one scale/zero/sum triple per column. Each column's
// scale is derived from that column's own min/max so outlier columns (common
// in LLM weight matrices) don't blow out the precision of the rest.
func QuantizeColumnsInt8(src []float32, rows, cols int) (out []int8, stats ColumnStats) {
	out = make([]int8, rows*cols)
	stats = ColumnStats{
		Scale: make([]float32, cols),
		Zero:  make([]float32, cols),
		Sum:   make([]float32, cols),
	}
	for c := 0; c < cols; c++ {
		min, max := src[c], src[c]
		for r := 1; r < rows; r++ {
			v := src[r*cols+c]
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
		}
		absMax := max
		if -min > absMax {
			absMax = -min
		}
		scale := absMax / 127.0
		if scale == 0 {
			scale = 1
		}
		stats.Scale[c] = scale
		stats.Zero[c] = 0

		var sum float32
		for r := 0; r < rows; r++ {
			q := src[r*cols+c] / scale
			if q > 127 {
				q = 127
			}
			if q < -127 {
				q = -127
			}
			qi := int8(q)
			out[r*cols+c] = qi
			sum += float32(qi)
		}
		stats.Sum[c] = sum
	}
	return out, stats
}

// DequantizeColumnsInt8 reverses QuantizeColumnsInt8.
func DequantizeColumnsInt8(src []int8, rows, cols int, stats ColumnStats) []float32 {
	out := make([]float32, rows*cols)
	for c := 0; c < cols; c++ {
		s := stats.Scale[c]
		for r := 0; r < rows; r++ {
			out[r*cols+c] = float32(src[r*cols+c]) * s
		}
	}
	return out
}

// PackNibbles packs two 4-bit values per byte, low nibble first. A
// 4-bit-per-weight layout (NF4/Int4) is how LLM weight tensors are commonly
// shipped to halve memory traffic; callers address it by pretending stride
// and column count are halved, then unpacking on read.
func PackNibbles(values []uint8) []byte {
	packed := make([]byte, (len(values)+1)/2)
	for i, v := range values {
		nib := v & 0x0f
		if i%2 == 0 {
			packed[i/2] = nib
		} else {
			packed[i/2] |= nib << 4
		}
	}
	return packed
}

// UnpackNibbles reverses PackNibbles, producing n unpacked 4-bit values.
func UnpackNibbles(packed []byte, n int) []uint8 {
	values := make([]uint8, n)
	for i := 0; i < n; i++ {
		b := packed[i/2]
		if i%2 == 0 {
			values[i] = b & 0x0f
		} else {
			values[i] = (b >> 4) & 0x0f
		}
	}
	return values
}

// nf4Levels are the 16 quantization levels of the NormalFloat4 (NF4) format,
// optimized for weights that are approximately zero-mean normally
// distributed (the common case for trained LLM weight matrices).
var nf4Levels = [16]float32{
	-1.0, -0.6961928009986877, -0.5250730514526367, -0.39491748809814453,
	-0.28444138169288635, -0.18477343022823334, -0.09105003625154495, 0.0,
	0.07958029955625534, 0.16093020141124725, 0.24611230194568634, 0.33791524171829224,
	0.44070982933044434, 0.5626170039176941, 0.7229568362236023, 1.0,
}

// QuantizeNF4 maps each value in src (pre-scaled to roughly [-1, 1] by the
// caller's block absmax) to the nearest of the 16 NF4 levels, returning the
// nibble index (0-15) for each element.
func QuantizeNF4(src []float32) []uint8 {
	out := make([]uint8, len(src))
	for i, v := range src {
		best, bestDist := 0, float32(1<<30)
		for lvl, ref := range nf4Levels {
			d := v - ref
			if d < 0 {
				d = -d
			}
			if d < bestDist {
				bestDist, best = d, lvl
			}
		}
		out[i] = uint8(best)
	}
	return out
}

// DequantizeNF4 expands nibble indices back to their NF4 level values,
// scaled by the per-block absmax used at quantization time.
func DequantizeNF4(indices []uint8, blockAbsMax float32) []float32 {
	out := make([]float32, len(indices))
	for i, idx := range indices {
		out[i] = nf4Levels[idx] * blockAbsMax
	}
	return out
}
