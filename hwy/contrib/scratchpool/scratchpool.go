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

// Package scratchpool provides a process-wide, string-keyed scratch buffer
// pool: the Go equivalent of xFasterTransformer's SimpleMemPool, referenced
// by the original C++ attention and MLP code as
// SimpleMemPool::instance().getBuffer("scoreBuf", ...). Buffers grow on
// demand and are retained across calls; allocation is safe for concurrent
// callers under distinct or identical keys, but a returned buffer itself is
// meant for single-caller use within one forward call, matching the spec's
// resource model.
package scratchpool

import "sync"

var global = New()

// Pool is a keyed set of float32 buffers that grow-never-shrink on repeated
// requests for the same key, sized in elements rather than bytes since
// every scratch consumer in this module (the sharded-attention output slab
// and the flash KV conversion buffer) works in float32.
type Pool struct {
	mu      sync.Mutex
	buffers map[string][]float32
}

// New creates an empty Pool. Most callers should use the package-level
// Instance instead, matching the original's process-wide singleton.
func New() *Pool {
	return &Pool{buffers: make(map[string][]float32)}
}

// Instance returns the process-wide default Pool.
func Instance() *Pool {
	return global
}

// GetBuffer returns a float32 slice of at least n elements for key name,
// allocating or growing it if necessary. The returned slice aliases the
// pool's storage for that key: callers must not retain it past their
// forward call without re-acquiring it, since a concurrent grow on the same
// key reallocates the backing array.
func (p *Pool) GetBuffer(name string, n int) []float32 {
	p.mu.Lock()
	defer p.mu.Unlock()

	buf, ok := p.buffers[name]
	if !ok || len(buf) < n {
		buf = make([]float32, n)
		p.buffers[name] = buf
	}
	return buf[:n]
}
