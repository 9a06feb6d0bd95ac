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

// Stats is a point-in-time snapshot of heap usage.
type Stats struct {
	Enabled         bool
	Size            int   // blocks
	InUse           int64 // blocks
	MaxUse          int64 // blocks
	HeapMaxUsage    int   // bytes
	SystemHeapCount int64
	Allocations     int64 // blocks issued from the buffer
	Deallocations   int64 // blocks returned to the buffer
}

// Stats returns a snapshot of the heap counters. Counters are read one by
// one, so a snapshot taken under load is only approximately consistent.
func (h *Heap) Stats() Stats {
	allocs := h.newCount.Load() + 1
	deallocs := h.delCount.Load() + 1
	return Stats{
		Enabled:         h.enabled.Load(),
		Size:            h.Size(),
		InUse:           allocs - deallocs,
		MaxUse:          h.maxUseCount.Load(),
		HeapMaxUsage:    h.HeapMaxUsage(),
		SystemHeapCount: h.systemHeapCount.Load(),
		Allocations:     allocs,
		Deallocations:   deallocs,
	}
}
