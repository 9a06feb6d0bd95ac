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
	"context"

	"github.com/javolution/javolution-go/pkg/common/moerr"
)

// Config is the [heap] section of a configuration file.
type Config struct {
	// Enable turns on block allocation for the global heap.
	Enable bool `toml:"enable"`
	// Size is the number of blocks, a power of two. Zero means DefaultSize.
	Size int `toml:"size"`
}

// Validate checks the configuration without touching any heap.
func (c Config) Validate() error {
	if c.Size < 0 || c.Size&(c.Size-1) != 0 {
		return moerr.NewBadConfig(context.Background(), "heap size %d is not a power of two", c.Size)
	}
	return nil
}

// Apply configures h. The heap is sized even when it stays disabled so that
// enabling later does not allocate.
func (c Config) Apply(h *Heap) error {
	if err := c.Validate(); err != nil {
		return err
	}
	size := c.Size
	if size == 0 {
		size = DefaultSize
	}
	if err := h.SetSize(size); err != nil {
		return err
	}
	if c.Enable {
		return h.Enable()
	}
	h.Disable()
	return nil
}

// Configure applies cfg to the global heap.
func Configure(cfg Config) error {
	return cfg.Apply(global)
}
