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

package workerpool

import (
	"sync/atomic"
	"testing"
)

func TestParallelForCoversEveryIndex(t *testing.T) {
	n := 97
	e := New(4)
	hits := make([]int32, n)
	e.ParallelFor(n, func(start, end int) {
		for i := start; i < end; i++ {
			atomic.AddInt32(&hits[i], 1)
		}
	})
	for i, h := range hits {
		if h != 1 {
			t.Errorf("index %d hit %d times, want 1", i, h)
		}
	}
}

func TestParallelForAtomicCoversEveryIndex(t *testing.T) {
	n := 200
	e := New(8)
	hits := make([]int32, n)
	e.ParallelForAtomic(n, func(idx int) {
		atomic.AddInt32(&hits[idx], 1)
	})
	for i, h := range hits {
		if h != 1 {
			t.Errorf("index %d hit %d times, want 1", i, h)
		}
	}
}

func TestParallelForSingleWorker(t *testing.T) {
	e := New(1)
	sum := 0
	e.ParallelFor(5, func(start, end int) {
		for i := start; i < end; i++ {
			sum += i
		}
	})
	if sum != 10 {
		t.Errorf("sum = %d, want 10", sum)
	}
}

func TestParallelForZeroN(t *testing.T) {
	e := New(4)
	called := false
	e.ParallelFor(0, func(start, end int) { called = true })
	if called {
		t.Error("ParallelFor(0, ...) should not invoke fn")
	}
}

func TestNewDefaultsWorkerCount(t *testing.T) {
	e := New(0)
	if e.NumWorkers() <= 0 {
		t.Errorf("NumWorkers() = %d, want > 0", e.NumWorkers())
	}
}
