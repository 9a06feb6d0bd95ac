// Copyright 2024 Matrix Origin
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package fastheap

import "sync/atomic"

// SystemAllocator serves the requests the heap cannot: blocks larger than
// BlockCapacity, and any request made while the heap is disabled or full.
// Buffers must keep headerSize writable bytes in front of the returned
// slice for the reference count word.
type SystemAllocator interface {
	Allocate(size int) []byte
	Free(buf []byte)
}

// GoAllocator allocates from the Go heap and leaves freeing to the garbage
// collector.
type GoAllocator struct{}

var _ SystemAllocator = GoAllocator{}

func (GoAllocator) Allocate(size int) []byte {
	// rounded so the header word stays 8-byte aligned
	buf := make([]byte, headerSize+(size+7)&^7)
	return buf[headerSize : headerSize+size]
}

func (GoAllocator) Free([]byte) {}

// CountingAllocator wraps a SystemAllocator and counts its calls.
type CountingAllocator struct {
	SystemAllocator
	allocs atomic.Int64
	frees  atomic.Int64
}

// NewCountingAllocator wraps a, or the Go heap if a is nil.
func NewCountingAllocator(a SystemAllocator) *CountingAllocator {
	if a == nil {
		a = GoAllocator{}
	}
	return &CountingAllocator{SystemAllocator: a}
}

func (c *CountingAllocator) Allocate(size int) []byte {
	c.allocs.Add(1)
	return c.SystemAllocator.Allocate(size)
}

func (c *CountingAllocator) Free(buf []byte) {
	c.frees.Add(1)
	c.SystemAllocator.Free(buf)
}

// Allocs returns the number of Allocate calls.
func (c *CountingAllocator) Allocs() int64 {
	return c.allocs.Load()
}

// Frees returns the number of Free calls.
func (c *CountingAllocator) Frees() int64 {
	return c.frees.Load()
}
