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
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fagongzi/util/format"
	"go.uber.org/zap"

	"github.com/javolution/javolution-go/pkg/common/fastheap"
	"github.com/javolution/javolution-go/pkg/common/moerr"
	"github.com/javolution/javolution-go/pkg/config"
	"github.com/javolution/javolution-go/pkg/logutil"
)

var (
	configFile = flag.String("cfg", "", "toml configuration used to run heapbench, defaults apply when empty")
	wait       = flag.Bool("wait", false, "keep serving metrics after the workload until interrupted")
	heapSize   = flag.String("heap-size", "", "number of heap blocks, overrides [heap] size")
	workers    = flag.String("workers", "", "number of workers, overrides [workload] workers")
)

func main() {
	flag.Parse()

	cfg, err := parseConfig(*configFile)
	if err == nil {
		err = applyOverrides(cfg, *heapSize, *workers)
	}
	if err != nil {
		panic(fmt.Sprintf("failed to parse config from %s, error: %s", *configFile, err.Error()))
	}
	setupLogger(cfg)

	err = run(cfg)
	_ = logutil.LogClose()
	if err != nil {
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	if err := fastheap.Configure(cfg.Heap); err != nil {
		logutil.Error("failed to configure fastheap", zap.Error(err))
		return err
	}
	if !cfg.Heap.Enable {
		logutil.Warn("fastheap disabled, the workload only measures the system allocator")
	}

	addr := cfg.Metrics.ListenAddress
	if *httpListenAddr != "" {
		addr = *httpListenAddr
	}
	stopMetrics := startMetricsServer(addr)
	defer stopMetrics()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()
	ctx = logutil.WithLogger(ctx, logutil.GetGlobalLogger().Named("heapbench"))

	w := newWorkload(cfg.Workload, fastheap.Global())
	if _, err := w.run(ctx); err != nil {
		logutil.Error("workload failed", zap.Error(err))
		return err
	}
	logStats(fastheap.Global().Stats())

	if *wait && addr != "" {
		<-ctx.Done()
	}
	return nil
}

func parseConfig(file string) (*config.Config, error) {
	if file == "" {
		logutil.Infof("no configuration file, using defaults")
		return config.Parse("")
	}
	return config.ParseFile(file)
}

// applyOverrides applies the numeric command line overrides to cfg and
// validates the result.
func applyOverrides(cfg *config.Config, heapSize, workers string) error {
	ctx := context.Background()
	if heapSize != "" {
		v, err := format.ParseStringUint64(heapSize)
		if err != nil {
			return moerr.NewBadConfig(ctx, "heap-size %q: %v", heapSize, err)
		}
		cfg.Heap.Size = int(v)
	}
	if workers != "" {
		v, err := format.ParseStringUint64(workers)
		if err == nil && v == 0 {
			err = moerr.NewInvalidArg(ctx, "workers", v)
		}
		if err != nil {
			return moerr.NewBadConfig(ctx, "workers %q: %v", workers, err)
		}
		cfg.Workload.Workers = int(v)
	}
	return cfg.Validate()
}

func setupLogger(cfg *config.Config) {
	logutil.SetupLogger(&cfg.Log)
}

func logStats(s fastheap.Stats) {
	logutil.Info("fastheap stats",
		zap.Bool("enabled", s.Enabled),
		zap.Int("size", s.Size),
		zap.Int64("in use", s.InUse),
		zap.Int64("max use", s.MaxUse),
		zap.Int("heap max usage", s.HeapMaxUsage),
		zap.Int64("system heap count", s.SystemHeapCount),
		zap.Int64("allocations", s.Allocations),
		zap.Int64("deallocations", s.Deallocations),
	)
	if s.Enabled && s.SystemHeapCount > 0 {
		logutil.Warnf("fastheap served %d allocations from the system heap, consider a larger [heap] size", s.SystemHeapCount)
	}
}
