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

// Package fastheap implements a lock-free heap of fixed-size blocks.
//
// Blocks live in one preallocated buffer and are recycled through a circular
// queue indexed by two monotonically increasing atomic counters, so allocate
// and deallocate are a handful of atomic operations with no lock and no retry
// loop. Requests that do not fit in a block, or that arrive while the heap is
// disabled or full, fall back to the system allocator.
//
// Block memory is not scanned by the garbage collector: it must only hold
// pointer-free data.
package fastheap

import (
	"context"
	"sync"
	"sync/atomic"
	"unsafe"

	"go.uber.org/zap"

	"github.com/javolution/javolution-go/pkg/common/moerr"
	"github.com/javolution/javolution-go/pkg/logutil"
)

const (
	// MaxHandles is the number of pointer-sized words a block can hold.
	MaxHandles = 16
	// MaxCPU is the maximum number of goroutines allocating or deallocating
	// concurrently. The heap never lets the in-use count come closer than
	// MaxCPU blocks to its size, so a slot being refilled by a deallocator is
	// never handed out before the refill is stored.
	MaxCPU = 32
	// BlockCapacity is the usable size of a block in bytes.
	BlockCapacity = MaxHandles * int(unsafe.Sizeof(uintptr(0)))
	// BlockSize is the size of a block including its reference count word.
	BlockSize = BlockCapacity + headerSize
	// DefaultSize is the number of blocks used by Enable when no size was set.
	DefaultSize = 1 << 20

	headerSize = 8
)

// Heap is a fixed-block heap. The zero value is not usable, see New.
type Heap struct {
	newCount atomic.Int64 // blocks issued, minus one
	delCount atomic.Int64 // blocks returned, minus one

	enabled   atomic.Bool
	queue     []atomic.Uint32 // circular queue of free block indexes
	queueSize int64
	queueMask int64

	buffer      []byte
	bufferFirst uintptr // payload address of the first block
	bufferEnd   uintptr // address past the end of the buffer

	systemHeapCount atomic.Int64
	maxUseCount     atomic.Int64
	undersized      atomic.Bool

	system SystemAllocator
	mu     sync.Mutex // serializes configuration changes
}

// Option configures a Heap.
type Option func(*Heap)

// WithSystemAllocator sets the allocator used for requests the heap cannot serve.
func WithSystemAllocator(a SystemAllocator) Option {
	return func(h *Heap) {
		h.system = a
	}
}

// New returns a disabled heap with zero capacity.
func New(opts ...Option) *Heap {
	h := &Heap{
		system: GoAllocator{},
	}
	for _, opt := range opts {
		opt(h)
	}
	h.newCount.Store(-1)
	h.delCount.Store(-1)
	return h
}

var global = New()

// Global returns the process-wide heap.
func Global() *Heap {
	return global
}

// SetSize allocates size blocks. size must be a power of two and the heap
// can only be sized once; setting the current size again is a no-op.
func (h *Heap) SetSize(size int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.setSizeLocked(size)
}

func (h *Heap) setSizeLocked(size int) error {
	ctx := context.Background()
	if int64(size) == h.queueSize {
		return nil
	}
	if h.queueSize != 0 {
		return moerr.NewNotSupported(ctx, "fastheap resizing from %d to %d blocks", h.queueSize, size)
	}
	if size <= 0 || size&(size-1) != 0 {
		return moerr.NewInvalidArg(ctx, "fastheap size (power of two)", size)
	}

	buffer, err := mapBuffer(size * BlockSize)
	if err != nil {
		return moerr.ConvertGoError(ctx, err)
	}
	queue := make([]atomic.Uint32, size)
	for i := range queue {
		queue[i].Store(uint32(i))
	}

	h.buffer = buffer
	h.queue = queue
	h.queueSize = int64(size)
	h.queueMask = int64(size - 1)
	h.bufferFirst = uintptr(unsafe.Pointer(&buffer[headerSize]))
	h.bufferEnd = uintptr(unsafe.Pointer(unsafe.SliceData(buffer))) + uintptr(len(buffer))

	logutil.Info("fastheap",
		zap.Int("blocks", size),
		zap.Int("block size", BlockSize),
		zap.Int("block capacity", BlockCapacity),
		zap.Int("buffer bytes", len(buffer)),
		zap.Int("max cpu", MaxCPU),
	)
	return nil
}

// Enable turns on block allocation, sizing the heap to DefaultSize blocks
// if it has no size yet. Usage statistics are reset.
func (h *Heap) Enable() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.enabled.Load() {
		return nil
	}
	if h.queueSize == 0 {
		if err := h.setSizeLocked(DefaultSize); err != nil {
			return err
		}
	}
	h.systemHeapCount.Store(0)
	h.maxUseCount.Store(h.InUse())
	h.undersized.Store(false)
	h.enabled.Store(true)
	logutil.Info("fastheap enabled", zap.Int64("blocks", h.queueSize))
	return nil
}

// Disable turns off block allocation. The buffer is kept so that enabling
// again is cheap, and blocks still in use can be deallocated normally.
func (h *Heap) Disable() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.enabled.Load() {
		return
	}
	h.enabled.Store(false)
	logutil.Info("fastheap disabled",
		zap.Int64("in use", h.InUse()),
		zap.Int64("system heap count", h.systemHeapCount.Load()),
	)
}

// IsEnabled reports whether allocations are served from blocks.
func (h *Heap) IsEnabled() bool {
	return h.enabled.Load()
}

// Allocate returns size bytes of zeroed memory. Requests of at most
// BlockCapacity bytes are served from a block while the heap is enabled and
// not full; anything else comes from the system allocator. Allocate(0)
// returns nil.
func (h *Heap) Allocate(size int) []byte {
	if size <= 0 {
		return nil
	}
	if h.enabled.Load() {
		if size <= BlockCapacity {
			if buf, ok := h.allocateBlock(size); ok {
				return buf
			}
		}
		h.systemHeapCount.Add(1)
		h.warnUndersized(size)
	}
	return h.system.Allocate(size)
}

func (h *Heap) allocateBlock(size int) ([]byte, bool) {
	useCount := h.newCount.Load() - h.delCount.Load()
	if useCount+MaxCPU >= h.queueSize {
		return nil, false
	}
	n := h.newCount.Add(1)
	idx := int(h.queue[n&h.queueMask].Load())
	h.updateMaxUse(n - h.delCount.Load())

	off := idx * BlockSize
	block := h.buffer[off : off+BlockSize : off+BlockSize]
	refs(block[headerSize:]).Store(0)
	payload := block[headerSize:]
	clear(payload)
	return payload[:size], true
}

func (h *Heap) updateMaxUse(n int64) {
	for {
		prev := h.maxUseCount.Load()
		if n <= prev {
			return
		}
		if h.maxUseCount.CompareAndSwap(prev, n) {
			return
		}
	}
}

func (h *Heap) warnUndersized(size int) {
	if h.undersized.Load() || !h.undersized.CompareAndSwap(false, true) {
		return
	}
	if size > BlockCapacity {
		logutil.Warn("fastheap request larger than a block",
			zap.Int("size", size),
			zap.Int("block capacity", BlockCapacity),
		)
		return
	}
	logutil.Warn("fastheap under-sized",
		zap.Int64("blocks", h.queueSize),
		zap.Int64("in use", h.InUse()),
	)
}

// Deallocate returns buf to the heap. buf must have been returned by
// Allocate; blocks outside the buffer go back to the system allocator.
func (h *Heap) Deallocate(buf []byte) {
	if cap(buf) == 0 {
		return
	}
	ptr := uintptr(unsafe.Pointer(unsafe.SliceData(buf)))
	if ptr < h.bufferFirst || ptr >= h.bufferEnd {
		h.system.Free(buf)
		return
	}
	idx := (ptr - h.bufferFirst) / uintptr(BlockSize)
	d := h.delCount.Add(1)
	h.queue[d&h.queueMask].Store(uint32(idx))
}

// Owns reports whether buf is a block of this heap's buffer.
func (h *Heap) Owns(buf []byte) bool {
	if cap(buf) == 0 {
		return false
	}
	ptr := uintptr(unsafe.Pointer(unsafe.SliceData(buf)))
	return ptr >= h.bufferFirst && ptr < h.bufferEnd
}

// Retain adds a reference to buf, which must be exactly as returned by Allocate.
func (h *Heap) Retain(buf []byte) {
	if n := refs(buf).Add(1); n <= 0 {
		panic(moerr.NewInternalErrorNoCtx("unexpected block ref-count during retain: %d", n))
	}
}

// Release drops a reference to buf. The block is deallocated, and true is
// returned, when the last reference is released. A freshly allocated block
// holds one reference.
func (h *Heap) Release(buf []byte) bool {
	n := refs(buf).Add(-1)
	if n < -1 {
		panic(moerr.NewInternalErrorNoCtx("unexpected block ref-count during release: %d", n+1))
	}
	if n == -1 {
		h.Deallocate(buf)
		return true
	}
	return false
}

// refs returns the reference count word stored in front of a payload. The
// word counts extra references, so a fresh block reads zero.
func refs(payload []byte) *atomic.Int64 {
	return (*atomic.Int64)(unsafe.Add(unsafe.Pointer(unsafe.SliceData(payload)), -headerSize))
}

// Size returns the number of blocks of the heap.
func (h *Heap) Size() int {
	return int(h.queueSize)
}

// InUse returns the number of blocks currently allocated.
func (h *Heap) InUse() int64 {
	return h.newCount.Load() - h.delCount.Load()
}

// HeapMaxUsage returns the maximum heap utilization in bytes, up to the heap
// size if the heap is under-sized.
func (h *Heap) HeapMaxUsage() int {
	return int(h.maxUseCount.Load()+MaxCPU) * BlockSize
}

// SystemHeapCount returns the number of system allocations performed while
// the heap was enabled. It stays at zero unless the heap is under-sized or
// requests larger than BlockCapacity are made.
func (h *Heap) SystemHeapCount() int64 {
	return h.systemHeapCount.Load()
}

// Close releases the buffer. It fails while blocks are still in use.
func (h *Heap) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.queueSize == 0 {
		return nil
	}
	if inUse := h.InUse(); inUse != 0 {
		return moerr.NewInvalidInput(context.Background(), "fastheap closed with %d blocks in use", inUse)
	}
	h.enabled.Store(false)
	buffer := h.buffer
	h.buffer = nil
	h.queue = nil
	h.queueSize = 0
	h.queueMask = 0
	h.bufferFirst = 0
	h.bufferEnd = 0
	h.newCount.Store(-1)
	h.delCount.Store(-1)
	h.maxUseCount.Store(0)
	return unmapBuffer(buffer)
}
