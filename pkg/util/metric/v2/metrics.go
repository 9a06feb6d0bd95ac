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
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/javolution/javolution-go/pkg/common/fastheap"
)

var (
	registry = prometheus.NewRegistry()
)

func init() {
	initFastHeapMetrics()
	initWorkloadMetrics()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

func initFastHeapMetrics() {
	registry.MustRegister(NewHeapCollector(fastheap.Global()))
}

func initWorkloadMetrics() {
	registry.MustRegister(workloadRoundCounter)
	registry.MustRegister(workloadRoundDurationHistogram)
	registry.MustRegister(WorkloadArrayLengthGauge)
}

// GetPrometheusRegistry returns the registry all metrics are registered in.
func GetPrometheusRegistry() prometheus.Registerer {
	return registry
}

// GetPrometheusGatherer returns the gatherer served on the metrics endpoint.
func GetPrometheusGatherer() prometheus.Gatherer {
	return registry
}
