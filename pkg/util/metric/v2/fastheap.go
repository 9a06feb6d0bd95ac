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
package v2

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/javolution/javolution-go/pkg/common/fastheap"
)

// HeapCollector exports the counters of a fast heap, read on every scrape.
type HeapCollector struct {
	heap *fastheap.Heap

	enabled         *prometheus.Desc
	size            *prometheus.Desc
	inUse           *prometheus.Desc
	maxUse          *prometheus.Desc
	maxUsageBytes   *prometheus.Desc
	systemHeapCount *prometheus.Desc
	allocations     *prometheus.Desc
	deallocations   *prometheus.Desc
}

var _ prometheus.Collector = (*HeapCollector)(nil)

func NewHeapCollector(heap *fastheap.Heap) *HeapCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(
			prometheus.BuildFQName("javolution", "fastheap", name),
			help, nil, nil)
	}
	return &HeapCollector{
		heap:            heap,
		enabled:         desc("enabled", "1 if blocks are served from the fast heap."),
		size:            desc("size_blocks", "Number of blocks of the fast heap."),
		inUse:           desc("in_use_blocks", "Number of blocks currently allocated."),
		maxUse:          desc("max_use_blocks", "Highest number of blocks allocated at once since enabled."),
		maxUsageBytes:   desc("max_usage_bytes", "Maximum heap utilization in bytes, including the concurrency margin."),
		systemHeapCount: desc("system_heap_total", "Allocations served by the system allocator while enabled."),
		allocations:     desc("allocations_total", "Blocks issued from the fast heap."),
		deallocations:   desc("deallocations_total", "Blocks returned to the fast heap."),
	}
}

func (c *HeapCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.enabled
	ch <- c.size
	ch <- c.inUse
	ch <- c.maxUse
	ch <- c.maxUsageBytes
	ch <- c.systemHeapCount
	ch <- c.allocations
	ch <- c.deallocations
}

func (c *HeapCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.heap.Stats()
	enabled := 0.0
	if s.Enabled {
		enabled = 1
	}
	ch <- prometheus.MustNewConstMetric(c.enabled, prometheus.GaugeValue, enabled)
	ch <- prometheus.MustNewConstMetric(c.size, prometheus.GaugeValue, float64(s.Size))
	ch <- prometheus.MustNewConstMetric(c.inUse, prometheus.GaugeValue, float64(s.InUse))
	ch <- prometheus.MustNewConstMetric(c.maxUse, prometheus.GaugeValue, float64(s.MaxUse))
	ch <- prometheus.MustNewConstMetric(c.maxUsageBytes, prometheus.GaugeValue, float64(s.HeapMaxUsage))
	ch <- prometheus.MustNewConstMetric(c.systemHeapCount, prometheus.CounterValue, float64(s.SystemHeapCount))
	ch <- prometheus.MustNewConstMetric(c.allocations, prometheus.CounterValue, float64(s.Allocations))
	ch <- prometheus.MustNewConstMetric(c.deallocations, prometheus.CounterValue, float64(s.Deallocations))
}
