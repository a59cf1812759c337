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

// Package mlp implements the gated feed-forward block:
// down(SiLU(gate(x)) ⊙ up(x)) + residual, preceded by RMSNorm. Grounded on
// xFasterTransformer's src/layers/mlp_llama.h (LlamaMLP::setWeights/
// forward/catGateUpWeights/catGateUpProj) for the separate-vs-concatenated
// weight layout and the exact fusion sequence the distilled spec
// summarizes.
package mlp

import (
	"github.com/aurora327/gqakernel/decoderctx"
	"github.com/aurora327/gqakernel/hwy"
	"github.com/aurora327/gqakernel/hwy/contrib/workerpool"
	"github.com/aurora327/gqakernel/kernel"
	"github.com/aurora327/gqakernel/tensor"
)

// Block is the gated MLP layer.
type Block[T hwy.Floats] struct {
	ctx    *decoderctx.Context[T]
	matmul kernel.MatMulHelper[T]
	norm   kernel.NormOp[T]
	pool   *workerpool.Executor

	concatenated bool
	imStart, imLen int // owned intermediate-dimension range under tensor-parallel split

	gateWeight, upWeight, catWeight, downWeight tensor.PackedWeight[T]
}

// Config bundles the external collaborators a Block needs.
type Config[T hwy.Floats] struct {
	Matmul       kernel.MatMulHelper[T]
	Norm         kernel.NormOp[T]
	Pool         *workerpool.Executor
	Concatenated bool
}

// New constructs a Block owning the vertical intermediate-dimension split
// computed from ctx's split configuration.
func New[T hwy.Floats](ctx *decoderctx.Context[T], cfg Config[T]) *Block[T] {
	if ctx.ActType != decoderctx.SiLU {
		panic("mlp: unsupported activation, only SiLU is implemented")
	}
	pool := cfg.Pool
	if pool == nil {
		pool = workerpool.New(ctx.NumThreads)
	}
	start, end := decoderctx.TaskRange(ctx.IntermediateSize, ctx.NumSplit, ctx.SplitIdx)
	return &Block[T]{
		ctx:          ctx,
		matmul:       cfg.Matmul,
		norm:         cfg.Norm,
		pool:         pool,
		concatenated: cfg.Concatenated,
		imStart:      start,
		imLen:        end - start,
	}
}

// WeightSet bundles the raw gate/up/down weights and norm affine
// parameters. Gate and up are [H, I] row-major (or column-major when
// Trans); down is [I, H].
type WeightSet[T hwy.Floats] struct {
	Trans bool

	GateWeight, UpWeight []T
	GateScale, GateZero  []float32
	UpScale, UpZero      []float32

	DownWeight     []T
	DownScale, DownZero []float32

	NormGamma, NormBeta []T

	ElemType tensor.WeightElemType
}

// SetWeights slices gate/up vertically and down horizontally to the owned
// intermediate range, and packs them via the matmul helper — separately if
// !Concatenated, or fused into one [H, 2*imLen] matrix via
// catGateUpWeights if Concatenated.
func (b *Block[T]) SetWeights(ws WeightSet[T]) {
	hidden := b.ctx.HiddenSize
	totalI := b.ctx.IntermediateSize

	sliceWeight := func(raw []T, scale, zero []float32) (sliced []T, slicedScale, slicedZero []float32) {
		sliced = make([]T, hidden*b.imLen)
		for r := 0; r < hidden; r++ {
			for c := 0; c < b.imLen; c++ {
				var v T
				if ws.Trans {
					v = raw[(b.imStart+c)*hidden+r]
				} else {
					v = raw[r*totalI+b.imStart+c]
				}
				sliced[r*b.imLen+c] = v
			}
		}
		if ws.ElemType.IsQuantized() && scale != nil {
			slicedScale = scale[b.imStart : b.imStart+b.imLen]
			slicedZero = zero[b.imStart : b.imStart+b.imLen]
		}
		return
	}

	gateSliced, gateScale, gateZero := sliceWeight(ws.GateWeight, ws.GateScale, ws.GateZero)
	upSliced, upScale, upZero := sliceWeight(ws.UpWeight, ws.UpScale, ws.UpZero)

	if b.concatenated {
		cat, catScale, catZero := catGateUpWeights(hidden, b.imLen, gateSliced, gateScale, gateZero, upSliced, upScale, upZero, ws.ElemType)
		converted := b.matmul.ConvertWeight(false, hidden, 2*b.imLen, cat, catScale, catZero, ws.ElemType)
		b.catWeight = b.matmul.PackWeight(converted)
	} else {
		gateConverted := b.matmul.ConvertWeight(false, hidden, b.imLen, gateSliced, gateScale, gateZero, ws.ElemType)
		b.gateWeight = b.matmul.PackWeight(gateConverted)
		upConverted := b.matmul.ConvertWeight(false, hidden, b.imLen, upSliced, upScale, upZero, ws.ElemType)
		b.upWeight = b.matmul.PackWeight(upConverted)
	}

	downRaw := make([]T, b.imLen*hidden)
	for r := 0; r < b.imLen; r++ {
		srcRow := b.imStart + r
		if ws.Trans {
			for c := 0; c < hidden; c++ {
				downRaw[r*hidden+c] = ws.DownWeight[c*totalI+srcRow]
			}
		} else {
			copy(downRaw[r*hidden:(r+1)*hidden], ws.DownWeight[srcRow*hidden:(srcRow+1)*hidden])
		}
	}
	var downScale, downZero []float32
	if ws.ElemType.IsQuantized() && ws.DownScale != nil {
		downScale = ws.DownScale[b.imStart : b.imStart+b.imLen]
		downZero = ws.DownZero[b.imStart : b.imStart+b.imLen]
	}
	downConverted := b.matmul.ConvertWeight(false, b.imLen, hidden, downRaw, downScale, downZero, ws.ElemType)
	b.downWeight = b.matmul.PackWeight(downConverted)

	if b.norm != nil && ws.NormGamma != nil {
		b.norm.SetWeight(ws.NormGamma, ws.NormBeta, hidden)
	}
}
