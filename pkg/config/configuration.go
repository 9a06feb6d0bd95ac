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
package config

import (
	"context"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/javolution/javolution-go/pkg/common/fastheap"
	"github.com/javolution/javolution-go/pkg/common/moerr"
	"github.com/javolution/javolution-go/pkg/logutil"
)

var (
	defaultIterations  = 1000
	defaultBatchSize   = 64
	defaultArrayLength = 4096
)

// Config is the heapbench configuration file.
type Config struct {
	// Heap configures the global fast heap.
	Heap fastheap.Config `toml:"heap"`
	// Log configures the global logger.
	Log logutil.LogConfig `toml:"log"`
	// Workload configures the benchmark run.
	Workload WorkloadConfig `toml:"workload"`
	// Metrics configures the prometheus endpoint.
	Metrics MetricsConfig `toml:"metrics"`
}

// WorkloadConfig describes the allocation workload.
type WorkloadConfig struct {
	// Workers is the number of concurrent workers, at most fastheap.MaxCPU.
	Workers int `toml:"workers"`
	// Iterations is the number of rounds each worker runs.
	Iterations int `toml:"iterations"`
	// BatchSize is the number of blocks allocated per round.
	BatchSize int `toml:"batch-size"`
	// ArrayLength is the length an array is grown to per round.
	ArrayLength int `toml:"array-length"`
}

// MetricsConfig describes the metrics endpoint.
type MetricsConfig struct {
	// ListenAddress serves /metrics when not empty.
	ListenAddress string `toml:"listen-address"`
}

// newConfig returns the defaults that cannot be told apart from an explicit
// zero value after decoding.
func newConfig() *Config {
	return &Config{
		Heap: fastheap.Config{Enable: true},
	}
}

// Parse decodes a toml document, fills in defaults and validates the result.
// The heap is enabled unless [heap] enable is set to false.
func Parse(data string) (*Config, error) {
	cfg := newConfig()
	md, err := toml.Decode(data, cfg)
	if err != nil {
		return nil, moerr.NewBadConfig(context.Background(), "%s", err.Error())
	}
	return finish(cfg, md)
}

// ParseFile is Parse on the content of path.
func ParseFile(path string) (*Config, error) {
	cfg := newConfig()
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, moerr.NewBadConfig(context.Background(), "%s: %s", path, err.Error())
	}
	return finish(cfg, md)
}

func finish(cfg *Config, md toml.MetaData) (*Config, error) {
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, moerr.NewBadConfig(context.Background(), "unknown keys %s", strings.Join(keys, ", "))
	}
	cfg.Adjust()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Adjust fills in default values for unset fields.
func (c *Config) Adjust() {
	if c.Log.Level == "" && c.Log.Format == "" {
		filename := c.Log.Filename
		c.Log = logutil.DefaultLogConfig()
		c.Log.Filename = filename
	}
	if c.Heap.Size == 0 {
		c.Heap.Size = fastheap.DefaultSize
	}
	if c.Workload.Workers == 0 {
		c.Workload.Workers = min(runtime.GOMAXPROCS(0), fastheap.MaxCPU)
	}
	if c.Workload.Iterations == 0 {
		c.Workload.Iterations = defaultIterations
	}
	if c.Workload.BatchSize == 0 {
		c.Workload.BatchSize = defaultBatchSize
	}
	if c.Workload.ArrayLength == 0 {
		c.Workload.ArrayLength = defaultArrayLength
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	ctx := context.Background()
	if err := c.Heap.Validate(); err != nil {
		return err
	}
	if c.Workload.Workers < 0 || c.Workload.Workers > fastheap.MaxCPU {
		return moerr.NewBadConfig(ctx, "workload workers %d not in [1, %d]", c.Workload.Workers, fastheap.MaxCPU)
	}
	if c.Workload.Iterations < 0 || c.Workload.BatchSize < 0 || c.Workload.ArrayLength < 0 {
		return moerr.NewBadConfig(ctx, "negative workload setting %+v", c.Workload)
	}
	switch c.Log.Format {
	case "json", "console", "":
	default:
		return moerr.NewBadConfig(ctx, "unsupported log format %q", c.Log.Format)
	}
	return nil
}
