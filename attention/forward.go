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
	"github.com/aurora327/gqakernel/kernel"
	"github.com/aurora327/gqakernel/tensor"
)

// ForwardInput bundles the per-call arguments the spec's forward contract
// names: input/intermediate/output buffers sized [B*S, H], the attention
// mask [B, 1, S, P+S], the KV cache, and the position ids (nil selects the
// default: pastSeqLen..pastSeqLen+S-1, or a single value when S==1).
type ForwardInput[T any] struct {
	Input, Output tensor.Matrix[T]
	Mask          []float32
	PresentKey, PresentValue tensor.KVCacheTensor[T]
	PastSeqLen            int
	SelfAttention         bool
	PositionIDs           []int
	LayerID               int
}

// Forward runs norm -> QKV linear -> rotary -> attention kernel ->
// output projection(+residual). On the master split (SplitIdx == 0) Output
// holds out_proj(Attention(norm(Input))) + residual; on other splits it
// holds the partial out_proj contribution only, for the caller to
// all-reduce.
func (b *Block[T]) Forward(in ForwardInput[T]) {
	if !b.doLnBefore {
		panic("attention: post-norm (doLnBefore=false) is not implemented; only pre-norm models are supported")
	}

	hiddenSize := b.ctx.HiddenSize
	rows := b.ctx.BatchSize * b.ctx.InputSeqLen

	normBuf := tensor.ViewMatrix(b.ctx.NormBuf[:rows*hiddenSize], rows, hiddenSize, hiddenSize)
	b.norm.Forward(in.Input.Data, normBuf.Data, rows, in.Input.Stride, normBuf.Stride, b.ctx.Epsilon)

	residual := in.Input
	if b.inputAsResid {
		residual = normBuf
	}

	total := b.qCols + b.kCols + b.vCols
	qkvBuf := tensor.ViewMatrix(b.ctx.QKVMatMul[:rows*total], rows, total, total)
	if b.qkvBias != nil {
		b.matmul.ComputeBias(1, normBuf.Data, normBuf.Stride, b.qkvWeight, b.qkvBias, 0, qkvBuf.Data, qkvBuf.Stride, rows)
	} else {
		b.matmul.Compute(1, normBuf.Data, normBuf.Stride, b.qkvWeight, 0, qkvBuf.Data, qkvBuf.Stride, rows)
	}

	q := qkvBuf.SubColumns(0, b.qCols)
	k := qkvBuf.SubColumns(b.qCols, b.kCols)
	v := qkvBuf.SubColumns(b.qCols+b.kCols, b.vCols)

	shape := kernel.RotaryShape{
		Batch:       b.ctx.BatchSize,
		InputSeqLen: b.ctx.InputSeqLen,
		QHeads:      b.heads.NumQHeads(),
		HeadSize:    b.ctx.HeadSize,
		KVHeads:     b.heads.NumKVHeads(),
		MaxSeqLen:   b.ctx.MaxPositionEmbeddings,
		PastSeqLen:  in.PastSeqLen,
	}
	if b.rotary != nil {
		b.rotary.Forward(q.Data, k.Data, q.Stride, k.Stride, shape, in.PositionIDs)
	}

	attnOut := tensor.ViewMatrix(make([]T, rows*b.qCols), rows, b.qCols, b.qCols)

	switch {
	case in.PastSeqLen == 0 && b.ctx.InputSeqLen > flashThreshold:
		b.flashAttention(q, k, v, in.PresentKey, in.PresentValue, in.Mask, in.PastSeqLen, attnOut)
	case in.PastSeqLen == 0 && hwy.IsBFloat16[T]():
		b.bf16SelfAttention(q, k, v, in.PresentKey, in.PresentValue, in.Mask, in.PastSeqLen, attnOut)
	default:
		b.fusedAttention(q, k, v, in.PresentKey, in.PresentValue, in.Mask, in.PastSeqLen, in.LayerID, attnOut)
	}

	isMaster := b.ctx.SplitIdx == 0
	gamma := b.hooks.ResidentialScale
	switch {
	case isMaster && b.outBias != nil && gamma == 1:
		b.matmul.ComputeResidential(1, attnOut.Data, attnOut.Stride, b.outWeight, b.outBias, residual.Data, residual.Stride, in.Output.Data, in.Output.Stride, rows)
	case isMaster && b.outBias != nil:
		b.matmul.ComputeResExt(1, attnOut.Data, attnOut.Stride, b.outWeight, b.outBias, gamma, residual.Data, residual.Stride, in.Output.Data, in.Output.Stride, rows)
	case isMaster:
		b.matmul.ComputeResExt(1, attnOut.Data, attnOut.Stride, b.outWeight, nil, gamma, residual.Data, residual.Stride, in.Output.Data, in.Output.Stride, rows)
	case b.outBias != nil:
		b.matmul.ComputeBias(1, attnOut.Data, attnOut.Stride, b.outWeight, b.outBias, 0, in.Output.Data, in.Output.Stride, rows)
	default:
		b.matmul.Compute(1, attnOut.Data, attnOut.Stride, b.outWeight, 0, in.Output.Data, in.Output.Stride, rows)
	}
}
