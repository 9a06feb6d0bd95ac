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
package object

import (
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/google/btree"
)

// Class is a handle to the interned descriptor of a named type. Two classes
// with the same name are the same value.
type Class struct {
	Object
}

type classValue struct {
	Header
	name string
	mu   sync.Mutex
}

func (c *classValue) Equals(that Object) bool {
	other, ok := Cast[*classValue](that)
	return ok && other.name == c.name
}

func (c *classValue) HashCode() int32 {
	return int32(xxhash.Sum64String(c.name))
}

func (c *classValue) String() string {
	return "Class " + c.name
}

func (c *classValue) Monitor() sync.Locker {
	return &c.mu
}

// Name returns the class name, empty for a null class.
func (c Class) Name() string {
	if v, ok := Cast[*classValue](c.Object); ok {
		return v.name
	}
	return ""
}

type classRegistry struct {
	sync.Mutex
	byName map[string]Class
	names  *btree.BTreeG[string]
}

var registry = &classRegistry{
	byName: make(map[string]Class),
	names:  btree.NewG[string](8, func(a, b string) bool { return a < b }),
}

// ForName returns the class called name, creating it on first use. The
// registry keeps every class alive for the life of the process.
func ForName(name string) Class {
	registry.Lock()
	defer registry.Unlock()
	if c, ok := registry.byName[name]; ok {
		return Class{c.Clone()}
	}
	c := Class{New(&classValue{name: name})}
	registry.byName[name] = c
	registry.names.ReplaceOrInsert(name)
	return Class{c.Clone()}
}

// Classes returns the names of all interned classes in order.
func Classes() []string {
	registry.Lock()
	defer registry.Unlock()
	names := make([]string, 0, registry.names.Len())
	registry.names.Ascend(func(name string) bool {
		names = append(names, name)
		return true
	})
	return names
}
