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
	"github.com/aurora327/gqakernel/tensor"
)

// ForwardInput bundles a call's buffers: Input/Output are [B*S, H]. The
// norm and gate/up scratch live on the shared decoderctx.Context (NormBuf,
// ImOut); the SiLU*up buffer is allocated on each call.
type ForwardInput[T any] struct {
	Input, Output tensor.Matrix[T]
}

// Forward runs RMSNorm -> gate/up projection -> SiLU*up -> down projection,
// adding the residual (Input) on the master split only. On non-master
// splits Output holds the partial down-projection contribution for the
// caller to all-reduce, matching attention.Block's tensor-parallel contract.
func (b *Block[T]) Forward(in ForwardInput[T]) {
	hiddenSize := b.ctx.HiddenSize
	rows := b.ctx.BatchSize * b.ctx.InputSeqLen

	normBuf := tensor.ViewMatrix(b.ctx.NormBuf[:rows*hiddenSize], rows, hiddenSize, hiddenSize)
	b.norm.Forward(in.Input.Data, normBuf.Data, rows, in.Input.Stride, normBuf.Stride, b.ctx.Epsilon)

	siluBuf := tensor.ViewMatrix(make([]T, rows*b.imLen), rows, b.imLen, b.imLen)

	if b.concatenated {
		catOut := tensor.ViewMatrix(b.ctx.ImOut[:rows*2*b.imLen], rows, 2*b.imLen, 2*b.imLen)
		b.matmul.Compute(1, normBuf.Data, normBuf.Stride, b.catWeight, 0, catOut.Data, catOut.Stride, rows)
		siluSum(catOut, b.imLen, siluBuf.Data, siluBuf.Stride)
	} else {
		gateOut := tensor.ViewMatrix(b.ctx.ImOut[:rows*b.imLen], rows, b.imLen, b.imLen)
		b.matmul.ComputeSiLU(1, normBuf.Data, normBuf.Stride, b.gateWeight, 0, gateOut.Data, gateOut.Stride, rows)
		// ComputeResMul multiplies the up projection by gateOut (already
		// SiLU'd), writing SiLU(gate) * up straight into siluBuf.
		b.matmul.ComputeResMul(1, normBuf.Data, normBuf.Stride, b.upWeight, gateOut.Data, gateOut.Stride, siluBuf.Data, siluBuf.Stride, rows)
	}

	isMaster := b.ctx.SplitIdx == 0
	if isMaster {
		b.matmul.ComputeResidential(1, siluBuf.Data, siluBuf.Stride, b.downWeight, nil, in.Input.Data, in.Input.Stride, in.Output.Data, in.Output.Stride, rows)
	} else {
		b.matmul.Compute(1, siluBuf.Data, siluBuf.Stride, b.downWeight, 0, in.Output.Data, in.Output.Stride, rows)
	}
}
