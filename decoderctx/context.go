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

// Package decoderctx carries the decoder-layer hyperparameters and the
// reusable scratch buffers the attention and MLP blocks share across a
// forward call, plus the tensor-parallel head-range arithmetic every
// weight-loading and kernel-dispatch path needs.
package decoderctx

import (
	"sync/atomic"

	"github.com/aurora327/gqakernel/hwy"
)

// Activation names the MLP's activation function. Only SiLU is supported;
// any other value is a configuration error the MLP block panics on.
type Activation int

const (
	// SiLU is the only supported gated-MLP activation.
	SiLU Activation = iota
)

// Context carries everything about the decoder layer that is not owned by
// a specific weight matrix: shape hyperparameters, execution configuration,
// and the scratch buffers the outer loop sizes once and every layer reuses.
// It is parameterized over the same element type as the attention and MLP
// blocks sharing it, since the scratch buffers back typed tensor.Matrix
// views directly.
type Context[T hwy.Floats] struct {
	HiddenSize     int
	HeadSize       int
	NumQHeads      int
	NumKVHeads     int
	IntermediateSize int
	BatchSize      int
	InputSeqLen    int
	PastSeqLen     int
	MaxPositionEmbeddings int
	AttnFactor     float32
	Epsilon        float32
	NumThreads     int
	NumSplit       int
	SplitIdx       int
	NumLayers      int
	PPSize         int
	ActType        Activation

	// Scratch buffers sized by the outer loop and reused by every layer.
	QKVMatMul []T
	QKScores  []T
	NormBuf   []T
	ImOut     []T

	// reserved1 memoizes the fused-attention M-block size across layers of
	// the same pipeline stage; accessed with atomics since multiple worker
	// goroutines of the parallel region may read it concurrently with the
	// single writer that recomputes it at a layer boundary.
	reserved1 atomic.Int64
}

// Reserved1 loads the memoized M-block size (0 if never set).
func (c *Context[T]) Reserved1() int {
	return int(c.reserved1.Load())
}

// SetReserved1 stores a freshly computed M-block size.
func (c *Context[T]) SetReserved1(v int) {
	c.reserved1.Store(int64(v))
}

// IsLayerBoundary reports whether layerID is the first layer of its
// pipeline-parallel stage, the point at which the fused-attention kernel is
// allowed to recompute and memoize the M-block size into reserved1.
func (c *Context[T]) IsLayerBoundary(layerID int) bool {
	if c.PPSize <= 0 {
		return layerID == 0
	}
	stageLen := c.NumLayers / c.PPSize
	if stageLen == 0 {
		return layerID == 0
	}
	return layerID%stageLen == 0
}

// ExpandFactor returns the number of query heads sharing one kv-head.
func (c *Context[T]) ExpandFactor() int {
	if c.NumKVHeads == 0 {
		panic("decoderctx: numKVHeads must be > 0")
	}
	if c.NumQHeads%c.NumKVHeads != 0 {
		panic("decoderctx: numQHeads must be a multiple of numKVHeads (unsupported GQA factor)")
	}
	return c.NumQHeads / c.NumKVHeads
}

// HeadRange is the contiguous query/kv head range a tensor-parallel replica
// owns.
type HeadRange struct {
	QHeadStart, QHeadEnd   int
	KVHeadStart, KVHeadEnd int
}

// NumQHeads reports how many query heads this range owns.
func (r HeadRange) NumQHeads() int { return r.QHeadEnd - r.QHeadStart }

// NumKVHeads reports how many kv-heads this range owns.
func (r HeadRange) NumKVHeads() int { return r.KVHeadEnd - r.KVHeadStart }

// TaskRange evenly divides n items across numSplit replicas, distributing
// the remainder to the low-indexed splits, and returns the [start, end)
// range owned by splitIdx.
func TaskRange(n, numSplit, splitIdx int) (start, end int) {
	base := n / numSplit
	rem := n % numSplit
	if splitIdx < rem {
		start = splitIdx * (base + 1)
		end = start + base + 1
	} else {
		start = rem*(base+1) + (splitIdx-rem)*base
		end = start + base
	}
	return start, end
}

// HeadRangeFor computes the query/kv head range splitIdx owns under the
// context's configured NumSplit, per the spec's G = Q/K mapping: the kv
// range is the minimal contiguous range covering every kv-head any owned
// query head maps to.
func (c *Context[T]) HeadRangeFor() HeadRange {
	g := c.ExpandFactor()
	qStart, qEnd := TaskRange(c.NumQHeads, c.NumSplit, c.SplitIdx)
	kvStart := qStart / g
	kvEnd := (qEnd-1)/g + 1
	return HeadRange{QHeadStart: qStart, QHeadEnd: qEnd, KVHeadStart: kvStart, KVHeadEnd: kvEnd}
}
