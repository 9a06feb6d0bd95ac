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

import (
	"runtime"
	"sync"
	"testing"
	"unsafe"

	"github.com/lni/goutils/leaktest"
	"github.com/smartystreets/goconvey/convey"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/javolution/javolution-go/pkg/common/moerr"
	"github.com/javolution/javolution-go/pkg/logutil"
)

func addr(buf []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(buf)))
}

func newTestHeap(t *testing.T, size int) (*Heap, *CountingAllocator) {
	sys := NewCountingAllocator(nil)
	h := New(WithSystemAllocator(sys))
	require.NoError(t, h.SetSize(size))
	require.NoError(t, h.Enable())
	t.Cleanup(func() {
		if h.InUse() == 0 {
			require.NoError(t, h.Close())
		}
	})
	return h, sys
}

func TestSetSize(t *testing.T) {
	for _, size := range []int{0, 3, 100, -8} {
		h := New()
		err := h.SetSize(size)
		require.Error(t, err, "size %d", size)
		require.True(t, moerr.IsMoErrCode(err, moerr.ErrInvalidArg), "size %d", size)
		require.Equal(t, 0, h.Size())
	}

	h := New()
	require.NoError(t, h.SetSize(1024))
	require.Equal(t, 1024, h.Size())
	defer func() {
		require.NoError(t, h.Close())
	}()

	err := h.SetSize(2048)
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrNotSupported))
	err = h.SetSize(3)
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrNotSupported))

	// same size again is accepted
	require.NoError(t, h.SetSize(1024))
	require.Equal(t, 1024, h.Size())
	require.False(t, h.IsEnabled())
}

func TestEnableDefaultSize(t *testing.T) {
	h := New()
	require.NoError(t, h.Enable())
	require.NoError(t, h.Enable())
	require.True(t, h.IsEnabled())
	require.Equal(t, DefaultSize, h.Size())

	buf := h.Allocate(8)
	require.True(t, h.Owns(buf))
	h.Deallocate(buf)

	h.Disable()
	h.Disable()
	require.False(t, h.IsEnabled())
	require.NoError(t, h.Close())
	require.Equal(t, 0, h.Size())
}

func TestCapacityInvariant(t *testing.T) {
	h, sys := newTestHeap(t, 64)

	var slab, system [][]byte
	for i := 0; i < 64; i++ {
		buf := h.Allocate(BlockCapacity)
		require.Len(t, buf, BlockCapacity)
		if h.Owns(buf) {
			slab = append(slab, buf)
		} else {
			system = append(system, buf)
		}
		require.LessOrEqual(t, h.InUse(), int64(h.Size()-MaxCPU))
	}
	require.Len(t, slab, 64-MaxCPU)
	require.Len(t, system, MaxCPU)
	require.Equal(t, int64(MaxCPU), h.SystemHeapCount())
	require.Equal(t, int64(MaxCPU), sys.Allocs())

	for _, buf := range slab {
		h.Deallocate(buf)
	}
	require.Equal(t, int64(0), sys.Frees())
	for _, buf := range system {
		h.Deallocate(buf)
	}
	require.Equal(t, int64(MaxCPU), sys.Frees())
	require.Equal(t, int64(0), h.InUse())

	// interleaved: in-use never passes the margin
	var live [][]byte
	for i := 0; i < 1000; i++ {
		if i%3 == 2 && len(live) > 0 {
			h.Deallocate(live[0])
			live = live[1:]
			continue
		}
		live = append(live, h.Allocate(16))
		require.LessOrEqual(t, h.InUse(), int64(h.Size()-MaxCPU))
	}
	for _, buf := range live {
		h.Deallocate(buf)
	}
	require.Equal(t, int64(0), h.InUse())
}

func TestRoundTrip(t *testing.T) {
	h, sys := newTestHeap(t, 256)
	first, end := h.bufferFirst, h.bufferEnd

	bufs := make([][]byte, 0, 200)
	for i := 0; i < 200; i++ {
		buf := h.Allocate(1 + i%BlockCapacity)
		require.NotNil(t, buf)
		require.GreaterOrEqual(t, addr(buf), first)
		require.Less(t, addr(buf), end)
		require.Zero(t, (addr(buf)-first)%uintptr(BlockSize))
		require.Equal(t, BlockCapacity, cap(buf))
		bufs = append(bufs, buf)
	}
	for _, buf := range bufs {
		h.Deallocate(buf)
	}
	require.Equal(t, int64(0), sys.Allocs())
	require.Equal(t, int64(0), sys.Frees())
	require.Equal(t, int64(0), h.SystemHeapCount())
	require.Equal(t, int64(0), h.InUse())
}

func TestDeallocateInsideLastBlock(t *testing.T) {
	h, sys := newTestHeap(t, 64)
	var bufs [][]byte
	// the second round of 32 walks the upper half of the queue
	for round := 0; round < 2; round++ {
		bufs = bufs[:0]
		for i := 0; i < 32; i++ {
			bufs = append(bufs, h.Allocate(BlockCapacity))
		}
		if round == 0 {
			for _, buf := range bufs {
				h.Deallocate(buf)
			}
		}
	}
	last := bufs[len(bufs)-1]
	require.Equal(t, h.bufferFirst+uintptr(63*BlockSize), addr(last))
	for _, buf := range bufs[:len(bufs)-1] {
		h.Deallocate(buf)
	}

	require.True(t, h.Owns(last[headerSize:]))
	h.Deallocate(last[headerSize:])
	require.Equal(t, int64(0), sys.Frees())
	require.Equal(t, int64(0), h.InUse())
	require.Equal(t, int64(0), h.SystemHeapCount())
}

func TestAllocateFallback(t *testing.T) {
	h, sys := newTestHeap(t, 128)

	require.Nil(t, h.Allocate(0))
	h.Deallocate(nil)

	big := h.Allocate(BlockCapacity + 1)
	require.Len(t, big, BlockCapacity+1)
	require.False(t, h.Owns(big))
	require.Equal(t, int64(1), h.SystemHeapCount())
	h.Deallocate(big)
	require.Equal(t, int64(1), sys.Frees())

	h.Disable()
	buf := h.Allocate(8)
	require.False(t, h.Owns(buf))
	require.Equal(t, int64(1), h.SystemHeapCount(), "not counted while disabled")
	h.Deallocate(buf)

	require.NoError(t, h.Enable())
	require.Equal(t, int64(0), h.SystemHeapCount(), "reset by enable")
}

func TestDeallocateWhileDisabled(t *testing.T) {
	h, sys := newTestHeap(t, 128)
	buf := h.Allocate(8)
	require.True(t, h.Owns(buf))
	h.Disable()
	h.Deallocate(buf)
	require.Equal(t, int64(0), sys.Frees())
	require.Equal(t, int64(0), h.InUse())
}

func TestAllocateZeroed(t *testing.T) {
	h, _ := newTestHeap(t, 64)
	for round := 0; round < 4; round++ {
		bufs := make([][]byte, 0, 32)
		for i := 0; i < 32; i++ {
			buf := h.Allocate(BlockCapacity)
			for j := range buf {
				require.Zero(t, buf[j], "round %d block %d byte %d", round, i, j)
				buf[j] = 0xff
			}
			bufs = append(bufs, buf)
		}
		for _, buf := range bufs {
			h.Deallocate(buf)
		}
	}
	require.Equal(t, int64(0), h.SystemHeapCount())
}

func TestRetainRelease(t *testing.T) {
	h, sys := newTestHeap(t, 128)

	buf := h.Allocate(32)
	h.Retain(buf)
	require.False(t, h.Release(buf))
	require.Equal(t, int64(1), h.InUse())
	require.True(t, h.Release(buf))
	require.Equal(t, int64(0), h.InUse())

	// a recycled block starts with a single reference again
	bufs := make([][]byte, 0, 96)
	for i := 0; i < 96; i++ {
		bufs = append(bufs, h.Allocate(32))
	}
	for _, b := range bufs {
		require.True(t, h.Release(b))
	}

	big := h.Allocate(BlockCapacity * 2)
	h.Retain(big)
	require.False(t, h.Release(big))
	require.True(t, h.Release(big))
	require.Equal(t, int64(1), sys.Frees())

	require.Panics(t, func() {
		b := h.Allocate(8)
		h.Release(b)
		h.Release(b)
	})
}

func TestStats(t *testing.T) {
	h, _ := newTestHeap(t, 128)
	bufs := make([][]byte, 0, 10)
	for i := 0; i < 10; i++ {
		bufs = append(bufs, h.Allocate(8))
	}
	for _, buf := range bufs[:4] {
		h.Deallocate(buf)
	}
	h.Allocate(BlockCapacity + 8)

	s := h.Stats()
	assert.True(t, s.Enabled)
	assert.Equal(t, 128, s.Size)
	assert.Equal(t, int64(6), s.InUse)
	assert.Equal(t, int64(10), s.MaxUse)
	assert.Equal(t, (10+MaxCPU)*BlockSize, s.HeapMaxUsage)
	assert.Equal(t, int64(1), s.SystemHeapCount)
	assert.Equal(t, int64(10), s.Allocations)
	assert.Equal(t, int64(4), s.Deallocations)

	for _, buf := range bufs[4:] {
		h.Deallocate(buf)
	}
}

func TestClose(t *testing.T) {
	h := New()
	require.NoError(t, h.Close())
	require.NoError(t, h.SetSize(64))
	require.NoError(t, h.Enable())

	buf := h.Allocate(8)
	err := h.Close()
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrInvalidInput))
	h.Deallocate(buf)
	require.NoError(t, h.Close())

	require.False(t, h.IsEnabled())
	require.Equal(t, 0, h.Size())
	buf = h.Allocate(8)
	require.False(t, h.Owns(buf))

	// can be sized again once closed
	require.NoError(t, h.SetSize(128))
	require.NoError(t, h.Close())
}

func TestUndersizedWarning(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	defer logutil.ReplaceGlobalLogger(zap.New(core))()

	h, _ := newTestHeap(t, 64)
	var bufs [][]byte
	for i := 0; i < 64; i++ {
		bufs = append(bufs, h.Allocate(8))
	}
	require.Equal(t, int64(MaxCPU), h.SystemHeapCount())
	require.Equal(t, 1, logs.FilterMessage("fastheap under-sized").Len())
	for _, buf := range bufs {
		h.Deallocate(buf)
	}
}

func TestConcurrentAllocate(t *testing.T) {
	defer leaktest.AfterTest(t)()
	h, sys := newTestHeap(t, 1024)

	const workers = 8
	const rounds = 2000
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(id byte) {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				buf := h.Allocate(BlockCapacity)
				for j := range buf {
					buf[j] = id
				}
				if i%64 == 0 {
					runtime.Gosched()
				}
				for j := range buf {
					if buf[j] != id {
						t.Errorf("block shared between goroutines")
						return
					}
				}
				h.Deallocate(buf)
			}
		}(byte(w + 1))
	}
	wg.Wait()

	require.Equal(t, int64(0), h.InUse())
	require.Equal(t, int64(0), h.SystemHeapCount())
	require.Equal(t, int64(0), sys.Frees())
}

func allocateConcurrently(h *Heap, workers, each int) [][]byte {
	results := make([][][]byte, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < each; i++ {
				results[w] = append(results[w], h.Allocate(BlockCapacity))
			}
		}(w)
	}
	wg.Wait()
	var all [][]byte
	for _, r := range results {
		all = append(all, r...)
	}
	return all
}

func deallocateConcurrently(h *Heap, bufs [][]byte, workers int) {
	var wg sync.WaitGroup
	per := (len(bufs) + workers - 1) / workers
	for w := 0; w < workers; w++ {
		lo := min(w*per, len(bufs))
		hi := min(lo+per, len(bufs))
		wg.Add(1)
		go func(part [][]byte) {
			defer wg.Done()
			for _, buf := range part {
				h.Deallocate(buf)
			}
		}(bufs[lo:hi])
	}
	wg.Wait()
}

func addrSet(bufs [][]byte) map[uintptr]struct{} {
	set := make(map[uintptr]struct{}, len(bufs))
	for _, buf := range bufs {
		set[addr(buf)] = struct{}{}
	}
	return set
}

func TestRecyclingScenario(t *testing.T) {
	convey.Convey("blocks are fully recycled through the queue", t, func() {
		h, sys := newTestHeap(t, 128)

		round1 := allocateConcurrently(h, 4, 16)
		set1 := addrSet(round1)
		convey.So(len(set1), convey.ShouldEqual, 64)
		for _, buf := range round1 {
			convey.So(h.Owns(buf), convey.ShouldBeTrue)
		}
		deallocateConcurrently(h, round1, 4)
		convey.So(h.InUse(), convey.ShouldEqual, int64(0))

		// the next 64 slots still hold never-used blocks
		round2 := allocateConcurrently(h, 4, 16)
		set2 := addrSet(round2)
		convey.So(len(set2), convey.ShouldEqual, 64)
		for a := range set2 {
			_, seen := set1[a]
			convey.So(seen, convey.ShouldBeFalse)
		}
		deallocateConcurrently(h, round2, 4)

		// the queue wrapped around to the blocks returned in round one
		round3 := allocateConcurrently(h, 4, 16)
		convey.So(addrSet(round3), convey.ShouldResemble, set1)
		deallocateConcurrently(h, round3, 4)

		convey.So(h.InUse(), convey.ShouldEqual, int64(0))
		convey.So(h.SystemHeapCount(), convey.ShouldEqual, int64(0))
		convey.So(sys.Allocs(), convey.ShouldEqual, int64(0))
		convey.So(sys.Frees(), convey.ShouldEqual, int64(0))
	})

	convey.Convey("a 64 block heap serves up to its margin and falls back for the rest", t, func() {
		h, sys := newTestHeap(t, 64)

		bufs := make([][]byte, 0, 64)
		for i := 0; i < 64; i++ {
			bufs = append(bufs, h.Allocate(BlockCapacity))
		}
		convey.So(len(addrSet(bufs)), convey.ShouldEqual, 64)
		owned := 0
		for _, buf := range bufs {
			if h.Owns(buf) {
				owned++
			}
		}
		convey.So(owned, convey.ShouldEqual, 64-MaxCPU)
		convey.So(h.SystemHeapCount(), convey.ShouldEqual, int64(MaxCPU))

		deallocateConcurrently(h, bufs, 4)
		convey.So(h.InUse(), convey.ShouldEqual, int64(0))
		convey.So(sys.Frees(), convey.ShouldEqual, int64(MaxCPU))
	})
}

func TestConfig(t *testing.T) {
	err := Config{Size: 3}.Validate()
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrBadConfig))
	require.NoError(t, Config{}.Validate())

	h := New()
	require.NoError(t, Config{Enable: true, Size: 256}.Apply(h))
	require.True(t, h.IsEnabled())
	require.Equal(t, 256, h.Size())

	require.NoError(t, Config{Enable: false, Size: 256}.Apply(h))
	require.False(t, h.IsEnabled())

	err = Config{Enable: true, Size: 512}.Apply(h)
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrNotSupported))
	require.NoError(t, h.Close())
}
