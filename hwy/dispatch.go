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

package hwy

// DispatchLevel identifies which instruction-set tier the vector ops are
// currently backed by. This build only ever runs DispatchScalar; the level
// is still tracked so kernels that branch on it (wider unroll factors on a
// real SIMD backend) compile and run unchanged once one is added.
type DispatchLevel int

const (
	// DispatchScalar is the portable, always-available Go fallback.
	DispatchScalar DispatchLevel = iota
)

var (
	currentLevel DispatchLevel = DispatchScalar
	currentWidth int           = 16
	currentName  string        = "scalar"
)

// CurrentLevel reports the active dispatch tier.
func CurrentLevel() DispatchLevel {
	return currentLevel
}

// CurrentName reports a human-readable name for the active dispatch tier,
// useful in logs to confirm which backend a binary was built with.
func CurrentName() string {
	return currentName
}

// HasF16C reports whether native float32<->float16 conversion instructions
// are available. This build has none; conversions always go through the
// software path in types.go.
func HasF16C() bool { return false }

// HasAVX512FP16 reports AVX-512 FP16 availability.
func HasAVX512FP16() bool { return false }

// HasAVX512BF16 reports AVX-512 BF16 availability.
func HasAVX512BF16() bool { return false }

// HasARMFP16 reports ARM FP16 vector availability.
func HasARMFP16() bool { return false }

// HasARMBF16 reports ARM BF16 vector availability.
func HasARMBF16() bool { return false }
