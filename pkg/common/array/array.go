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
// Package array implements a variable-length array built as a 16-way tree
// of fixed-size nodes.
//
// Each leaf holds as many elements as fit in one fast heap block, rounded
// down to a power of two, and each tier above multiplies the capacity by 16.
// Growing wraps the root in new tiers and shrinking detaches trailing
// subtrees, so elements already stored are never moved.
//
// An Array is not safe for concurrent mutation. Pointers returned by At stay
// valid until the next SetLength or Release that drops their leaf.
package array

import (
	"github.com/javolution/javolution-go/pkg/common/moerr"
	"github.com/javolution/javolution-go/pkg/common/object"
)

// Array is a variable-length sequence of E. The zero value is an empty array.
//
// Elements whose pointer type implements Clone() E are cloned when stored,
// copied or cloned with the array; elements whose pointer type implements
// Release() are released when overwritten, trimmed or dropped with the array.
type Array[E any] struct {
	// Length is the logical length. Change it through SetLength; lowering it
	// directly only hides the tail.
	Length int

	filled int // elements backed by the tree
	root   object.Object
	lay    *layout
}

// NewInstance returns an array made of a single leaf, with the leaf
// capacity as its length.
func NewInstance[E any]() Array[E] {
	var a Array[E]
	lay := a.layout()
	a.root = newLeaf[E](lay)
	a.filled = lay.leafCap
	a.Length = lay.leafCap
	return a
}

// Make returns an array of length zeroed elements.
func Make[E any](length int) (Array[E], error) {
	var a Array[E]
	if err := a.SetLength(length); err != nil {
		return Array[E]{}, err
	}
	return a, nil
}

// LeafCapacity returns the number of elements of E held by one leaf.
func LeafCapacity[E any]() int {
	return layoutOf[E]().leafCap
}

// MaxCapacity returns the largest length an array of E can have.
func MaxCapacity[E any]() int {
	return layoutOf[E]().maxCapacity()
}

func (a *Array[E]) layout() *layout {
	if a.lay == nil {
		a.lay = layoutOf[E]()
	}
	return a.lay
}

// SetLength resizes the array. New elements are zero; elements past the new
// length are reset. Lengths beyond MaxCapacity fail and leave the array as
// it was.
func (a *Array[E]) SetLength(n int) error {
	if n < 0 {
		return moerr.NewNegativeArraySizeNoCtx(n)
	}
	lay := a.layout()
	if limit := lay.maxCapacity(); n > limit {
		return moerr.NewCapacityExceededNoCtx(n, limit)
	}

	if a.root.IsNil() {
		a.root = newLeaf[E](lay)
		a.filled = 0
	}
	tier := tierOf[E](a.root)

	// grow: the current root becomes child 0 of a new outer tier
	for lay.capacity(tier) < n {
		tier++
		b := &branch[E]{tier: tier}
		b.children[0] = a.root
		a.root = object.New(b)
	}

	// shrink: child 0 becomes the root, its siblings are dropped
	for tier > 0 && n <= lay.capacity(tier-1) {
		b := own[E](lay, &a.root).(*branch[E])
		child := b.children[0]
		b.children[0] = object.Object{}
		a.root.Release()
		a.root = child
		tier--
		if a.root.IsNil() {
			a.root = newNode[E](lay, tier)
			a.filled = 0
		}
	}

	resize[E](lay, &a.root, n, min(a.filled, lay.capacity(tier)))
	a.filled = n
	a.Length = n
	return nil
}

// At returns a pointer to element i.
func (a *Array[E]) At(i int) (*E, error) {
	if i < 0 || i >= a.Length || i >= a.filled {
		return nil, moerr.NewIndexOutOfBoundsNoCtx("index: %d, length: %d", i, a.Length)
	}
	return slot[E](a.layout(), a.root, i), nil
}

// Get returns element i.
func (a *Array[E]) Get(i int) (E, error) {
	p, err := a.At(i)
	if err != nil {
		var zero E
		return zero, err
	}
	return *p, nil
}

// Set stores v at index i.
func (a *Array[E]) Set(i int, v E) error {
	p, err := a.At(i)
	if err != nil {
		return err
	}
	assignElem(a.layout(), p, v)
	return nil
}

// Capacity returns the number of elements the current tree can hold
// without adding a tier.
func (a *Array[E]) Capacity() int {
	if a.root.IsNil() {
		return 0
	}
	return a.layout().capacity(tierOf[E](a.root))
}

// Tier returns the height of the tree, zero for a single leaf.
func (a *Array[E]) Tier() int {
	return tierOf[E](a.root)
}

// Clone returns a deep copy of a.
func (a *Array[E]) Clone() Array[E] {
	c := Array[E]{Length: a.Length, filled: a.filled, lay: a.lay}
	if !a.root.IsNil() {
		c.root = cloneNode[E](a.layout(), a.root)
	}
	return c
}

// Retain returns an array sharing a's tree. Element writes through either
// array are seen by both while they share the leaf; SetLength on one copies
// the nodes it changes, so it never alters the other.
func (a *Array[E]) Retain() Array[E] {
	return Array[E]{Length: a.Length, filled: a.filled, root: a.root.Clone(), lay: a.lay}
}

// Release drops a's reference to its tree and empties a.
func (a *Array[E]) Release() {
	a.root.Release()
	a.filled = 0
	a.Length = 0
}

// ToSlice returns a copy of the elements.
func (a *Array[E]) ToSlice() []E {
	n := min(a.Length, a.filled)
	s := make([]E, 0, n)
	lay := a.layout()
	for len(s) < n {
		run := runFrom[E](lay, a.root, len(s))
		s = append(s, run[:min(len(run), n-len(s))]...)
	}
	return s
}
