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

// Package hwy is a portable vector-operations layer in the style of Google's
// Highway SIMD library: generic element-wise ops over a Vec[T], with a
// scalar Go fallback that is always correct and a hook point for
// architecture-specific backends. The quantization and RMSNorm kernels use
// its Vec ops; the attention and MLP kernels use its Floats constraint and
// BFloat16 type but compute with plain scalar loops.
package hwy

import "math"

// Lanes is the set of element types that can live in a Vec.
type Lanes interface {
	~float32 | ~float64 | ~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32 | ~uint64
}

// Floats restricts Lanes to the floating point element types, which is what
// the attention and MLP kernels operate on (weights may additionally be
// quantized integer types, handled separately by the quantize package).
type Floats interface {
	~float32 | ~float64
}

// Vec is a fixed-width vector of lane type T. In this scalar build it is a
// thin wrapper over a Go slice; an architecture-specific build would back it
// with real SIMD registers while keeping the same call sites working.
type Vec[T Lanes] struct {
	data []T
}

// NumLanes reports how many lanes this vector holds.
func (v Vec[T]) NumLanes() int {
	return len(v.data)
}

// Mask is a per-lane boolean predicate produced by comparison ops.
type Mask[T Lanes] struct {
	bits []bool
}

// Float16 is an IEEE-754 half precision float stored as its 16-bit pattern.
type Float16 uint16

// BFloat16 is the truncated-mantissa bfloat16 format stored as its 16-bit
// pattern (top 16 bits of an IEEE-754 float32).
type BFloat16 uint16

// Float32ToFloat16 converts a float32 to Float16 by truncating the mantissa
// to 10 bits. Values below the smallest normal Float16 become signed zero,
// and values beyond the Float16 exponent range become signed infinity.
func Float32ToFloat16(f float32) Float16 {
	bits := math.Float32bits(f)
	sign := uint16((bits >> 16) & 0x8000)
	exp := int32((bits>>23)&0xff) - 127 + 15
	mant := bits & 0x7fffff

	switch {
	case exp <= 0:
		return Float16(sign)
	case exp >= 0x1f:
		return Float16(sign | 0x7c00)
	default:
		return Float16(sign | uint16(exp)<<10 | uint16(mant>>13))
	}
}

// Float16ToFloat32 widens a Float16 back to float32.
func Float16ToFloat32(h Float16) float32 {
	sign := uint32(h&0x8000) << 16
	exp := uint32(h>>10) & 0x1f
	mant := uint32(h & 0x3ff)

	switch {
	case exp == 0:
		return math.Float32frombits(sign)
	case exp == 0x1f:
		if mant == 0 {
			return math.Float32frombits(sign | 0x7f800000)
		}
		return math.Float32frombits(sign | 0x7fc00000)
	default:
		return math.Float32frombits(sign | (exp+127-15)<<23 | mant<<13)
	}
}

// Float32ToBFloat16 truncates (round-to-nearest-even) a float32 to bfloat16.
func Float32ToBFloat16(f float32) BFloat16 {
	bits := math.Float32bits(f)
	// Round to nearest-even on the truncated 16 bits.
	rounding := uint32(0x7fff) + (bits>>16)&1
	bits += rounding
	return BFloat16(bits >> 16)
}

// BFloat16ToFloat32 widens a BFloat16 back to float32 by zero-extending its
// bit pattern into the high 16 bits of an IEEE-754 float32.
func BFloat16ToFloat32(b BFloat16) float32 {
	return math.Float32frombits(uint32(b) << 16)
}

// BF16 is the bfloat16 compute representation: a float32-underlying type
// so it satisfies Floats (~float32 already matches any type whose
// underlying type is float32) and every existing Floats-generic kernel —
// attention.Block[BF16], mlp.Block[BF16], matmulref/normref/rotaryref
// instantiated at BF16 — runs unmodified against it, without a SIMD
// backend or a widened constraint. Precision loss is modeled only at the
// TruncateToBF16/WidenBFloat16/NarrowToBFloat16 boundaries, matching how
// the packed BFloat16 storage format and this scalar compute type are
// meant to interoperate: BF16 for arithmetic, BFloat16 for the 2-byte
// on-disk/in-cache representation.
type BF16 float32

// TruncateToBF16 rounds f to bfloat16 precision and carries the result in
// the BF16 compute representation.
func TruncateToBF16(f float32) BF16 {
	return BF16(BFloat16ToFloat32(Float32ToBFloat16(f)))
}

// WidenBFloat16 widens a packed BFloat16 bit pattern directly into the
// BF16 compute representation, e.g. when reading a memory-saving packed
// KV-cache into a block that computes in BF16.
func WidenBFloat16(b BFloat16) BF16 {
	return BF16(BFloat16ToFloat32(b))
}

// NarrowToBFloat16 truncates a BF16 compute value down to the packed
// BFloat16 bit pattern, e.g. when writing a KV-cache kept in the packed
// format.
func NarrowToBFloat16(b BF16) BFloat16 {
	return Float32ToBFloat16(float32(b))
}

// IsBFloat16 reports whether T is the BF16 compute representation,
// letting a Floats-generic kernel implement the spec's "both input and
// output element types are bfloat16" kernel-selection branch without a
// type switch at every call site.
func IsBFloat16[T Floats]() bool {
	var zero T
	_, ok := any(zero).(BF16)
	return ok
}
