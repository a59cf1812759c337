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

// MaskFunc returns the mask row for (batch b, head h, query row in
// [0, queryLen)), offset by startSeq — the default mask accessor returns
// mask + b*queryLen*keyLen, ignoring h, but model families with per-head
// masks (e.g. sliding-window variants) can override it.
type MaskFunc func(mask []float32, b, h, queryRow, queryLen, keyLen, startSeq int) []float32

// Hooks bundles the small set of virtual behaviors the original
// xFasterTransformer attention layer overrides per model family
// (getResidentialScale, getScalingCoeff, getMask). Every field defaults to
// the standard behavior; model-specific code overrides individual fields.
type Hooks struct {
	// ResidentialScale multiplies the residual before adding it to the
	// output projection result. 1 is the standard behavior (plain add).
	ResidentialScale float32

	// ScalingCoeff overrides the attention score scaling factor when
	// nonzero; 0 means "unset", in which case ctx.AttnFactor is used.
	ScalingCoeff float32

	// Mask selects the mask row for one (batch, head, query-row) triple.
	// Nil means the default accessor.
	Mask MaskFunc
}

// DefaultHooks returns the standard-behavior Hooks: residual scale 1, no
// scaling-coefficient override, and the default per-batch mask accessor.
func DefaultHooks() Hooks {
	return Hooks{
		ResidentialScale: 1,
		ScalingCoeff:     0,
		Mask:             defaultMask,
	}
}

func defaultMask(mask []float32, b, h, queryRow, queryLen, keyLen, startSeq int) []float32 {
	off := b*queryLen*keyLen + (queryRow+startSeq)*keyLen
	return mask[off : off+keyLen]
}

// scalingFactor resolves the effective attention scaling factor: the
// hooks' override if set, else the context's configured AttnFactor.
func (h Hooks) scalingFactor(ctxFactor float32) float32 {
	if h.ScalingCoeff != 0 {
		return h.ScalingCoeff
	}
	return ctxFactor
}
