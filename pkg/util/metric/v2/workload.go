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

import "github.com/prometheus/client_golang/prometheus"

var (
	workloadRoundCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "javolution",
			Subsystem: "workload",
			Name:      "round_total",
			Help:      "Total number of workload rounds.",
		}, []string{"type"})
	WorkloadBlockRoundCounter = workloadRoundCounter.WithLabelValues("block")
	WorkloadArrayRoundCounter = workloadRoundCounter.WithLabelValues("array")

	workloadRoundDurationHistogram = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "javolution",
			Subsystem: "workload",
			Name:      "round_duration_seconds",
			Help:      "Bucketed histogram of workload round duration.",
			Buckets:   prometheus.ExponentialBuckets(0.000001, 2.0, 20),
		}, []string{"type"})
	WorkloadBlockRoundDurationHistogram = workloadRoundDurationHistogram.WithLabelValues("block")
	WorkloadArrayRoundDurationHistogram = workloadRoundDurationHistogram.WithLabelValues("array")

	WorkloadArrayLengthGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "javolution",
			Subsystem: "workload",
			Name:      "array_length",
			Help:      "Length of the last array built by the workload.",
		})
)
