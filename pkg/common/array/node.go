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
package array

import (
	"unsafe"

	"github.com/javolution/javolution-go/pkg/common/object"
)

// leaf holds up to leafCap elements. Fundamental elements live in a heap
// block; anything holding Go pointers lives in a Go slice so that the
// garbage collector can see it.
type leaf[E any] struct {
	object.Header
	lay   *layout
	elems []E
}

func newLeaf[E any](lay *layout) object.Object {
	n := &leaf[E]{lay: lay}
	if lay.fundamental {
		block := n.Alloc(lay.leafCap * lay.elemSize)
		n.elems = unsafe.Slice((*E)(unsafe.Pointer(unsafe.SliceData(block))), lay.leafCap)
	} else {
		n.elems = make([]E, lay.leafCap)
	}
	return object.New(n)
}

func (n *leaf[E]) Finalize() {
	if n.lay.releases {
		for i := range n.elems {
			releaseElem(n.lay, &n.elems[i])
		}
	}
	n.elems = nil
}

// branch is an interior node of tier >= 1. Its children are populated
// contiguously from index 0.
type branch[E any] struct {
	object.Header
	tier     int
	children [fanOut]object.Object
}

func (n *branch[E]) Finalize() {
	for k := range n.children {
		n.children[k].Release()
	}
}

func newNode[E any](lay *layout, tier int) object.Object {
	if tier == 0 {
		return newLeaf[E](lay)
	}
	return object.New(&branch[E]{tier: tier})
}

func tierOf[E any](o object.Object) int {
	if b, ok := o.ValueUnsafe().(*branch[E]); ok {
		return b.tier
	}
	return 0
}

// locate returns the leaf holding index i and the offset of i in it, or nil
// if the subtree is not populated that far.
func locate[E any](lay *layout, o object.Object, i int) (*leaf[E], int) {
	v := o.ValueUnsafe()
	for {
		switch n := v.(type) {
		case *leaf[E]:
			return n, i
		case *branch[E]:
			shift := lay.childShift(n.tier)
			v = n.children[i>>shift].ValueUnsafe()
			i &= 1<<shift - 1
		default:
			return nil, 0
		}
	}
}

func slot[E any](lay *layout, o object.Object, i int) *E {
	l, off := locate[E](lay, o, i)
	if l == nil {
		return nil
	}
	return &l.elems[off]
}

// resize makes the subtree back exactly its first n elements, given that it
// backed old elements before. Children past n are released, missing ones
// below n are created, and the tail of a partially kept leaf is reset.
// Nodes shared with another array are copied before they are changed.
func resize[E any](lay *layout, o *object.Object, n, old int) {
	if n == old {
		return
	}
	switch o.ValueUnsafe().(type) {
	case *leaf[E]:
		if n > old {
			return
		}
		v := own[E](lay, o).(*leaf[E])
		if lay.releases {
			for i := n; i < old; i++ {
				releaseElem(lay, &v.elems[i])
			}
		} else {
			clear(v.elems[n:old])
		}
	case *branch[E]:
		v := own[E](lay, o).(*branch[E])
		cc := lay.capacity(v.tier - 1)
		for k := range v.children {
			lo := k * cc
			nk := min(max(n-lo, 0), cc)
			ok := min(max(old-lo, 0), cc)
			if nk == 0 {
				v.children[k].Release()
				continue
			}
			if v.children[k].IsNil() {
				v.children[k] = newNode[E](lay, v.tier-1)
				ok = 0
			}
			resize[E](lay, &v.children[k], nk, ok)
		}
	}
}

// own makes *o the only handle to its node, replacing a shared node by a
// copy whose children are shared with the original, and returns the node.
func own[E any](lay *layout, o *object.Object) object.Value {
	if o.RefCount() <= 1 {
		return o.ValueUnsafe()
	}
	var c object.Object
	switch v := o.ValueUnsafe().(type) {
	case *leaf[E]:
		c = cloneNode[E](lay, *o)
	case *branch[E]:
		b := &branch[E]{tier: v.tier}
		for k := range v.children {
			b.children[k] = v.children[k].Clone()
		}
		c = object.New(b)
	}
	o.Release()
	*o = c
	return c.ValueUnsafe()
}

func cloneNode[E any](lay *layout, o object.Object) object.Object {
	switch v := o.ValueUnsafe().(type) {
	case *leaf[E]:
		c := newLeaf[E](lay)
		elems := c.ValueUnsafe().(*leaf[E]).elems
		if lay.clones {
			for i := range v.elems {
				elems[i] = cloneElem(v.elems[i])
			}
		} else {
			copy(elems, v.elems)
		}
		return c
	case *branch[E]:
		c := &branch[E]{tier: v.tier}
		for k := range v.children {
			if v.children[k].IsNil() {
				break
			}
			c.children[k] = cloneNode[E](lay, v.children[k])
		}
		return object.New(c)
	}
	return object.Object{}
}

func cloneElem[E any](v E) E {
	if c, ok := any(&v).(cloner[E]); ok {
		return c.Clone()
	}
	return v
}

func releaseElem[E any](lay *layout, p *E) {
	if lay.releases {
		any(p).(releaser).Release()
	}
	var zero E
	*p = zero
}

// assignElem stores a copy of v in *p, cloning it first and releasing the
// previous element.
func assignElem[E any](lay *layout, p *E, v E) {
	if lay.clones {
		v = cloneElem(v)
	}
	old := *p
	*p = v
	if lay.releases {
		releaseElem(lay, &old)
	}
}
