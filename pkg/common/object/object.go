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
// Package object implements intrusive reference counting for heap values.
//
// A value embeds Header, which carries an atomic reference count starting at
// zero and an optional block of pointer-free storage taken from the global
// fast heap. Object handles adjust the count on copy, assignment and release;
// the value is finalized and its block returned to the heap the moment the
// last handle lets go. There is no cycle collection: a value that refers to
// itself must break the cycle with ReseatUnsafe.
//
// The count is atomic, so a value can be shared by handles owned by many
// goroutines, but a single Object variable must not be mutated concurrently.
package object

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/javolution/javolution-go/pkg/common/fastheap"
	"github.com/javolution/javolution-go/pkg/common/moerr"
)

// Header is embedded in every value managed by an Object handle.
type Header struct {
	refs  atomic.Int32
	heap  *fastheap.Heap
	block []byte
}

func (h *Header) refHeader() *Header {
	return h
}

// Alloc reserves size bytes of zeroed storage for the value from the global
// heap. The storage is returned to the heap when the value dies, and must
// only hold pointer-free data.
func (h *Header) Alloc(size int) []byte {
	return h.AllocFrom(fastheap.Global(), size)
}

// AllocFrom is like Alloc but takes the storage from heap.
func (h *Header) AllocFrom(heap *fastheap.Heap, size int) []byte {
	if h.block != nil {
		panic(moerr.NewInternalErrorNoCtx("value storage allocated twice"))
	}
	h.heap = heap
	h.block = heap.Allocate(size)
	return h.block
}

// Block returns the storage reserved by Alloc, or nil.
func (h *Header) Block() []byte {
	return h.block
}

// Value is a heap value that can be held by an Object. Any pointer to a
// struct embedding Header implements it.
type Value interface {
	refHeader() *Header
}

// Finalizer is implemented by values that release resources when their last
// handle is dropped.
type Finalizer interface {
	Finalize()
}

// Equaler overrides the default identity equality.
type Equaler interface {
	Equals(that Object) bool
}

// Hasher overrides the default address-derived hash code.
type Hasher interface {
	HashCode() int32
}

// Monitored is implemented by values that can be synchronized on.
type Monitored interface {
	Monitor() sync.Locker
}

// Object is a reference-counted handle. The zero value is the null handle.
type Object struct {
	v Value
}

// New returns a handle to v, adding one reference. New(nil) is the null handle.
func New(v Value) Object {
	if v != nil {
		v.refHeader().refs.Add(1)
	}
	return Object{v: v}
}

// Clone returns another handle to the same value.
func (o Object) Clone() Object {
	return New(o.v)
}

// Assign makes o refer to that's value. The new value is retained before the
// old one is released, so assigning a handle to itself is safe.
func (o *Object) Assign(that Object) {
	if that.v != nil {
		that.v.refHeader().refs.Add(1)
	}
	old := o.v
	o.v = that.v
	release(old)
}

// Reset releases the value and makes o the null handle.
func (o *Object) Reset() {
	old := o.v
	o.v = nil
	release(old)
}

// Release drops the handle. It is Reset under the name used when a handle
// goes out of scope.
func (o *Object) Release() {
	o.Reset()
}

func release(v Value) {
	if v == nil {
		return
	}
	h := v.refHeader()
	n := h.refs.Add(-1)
	if n > 0 {
		return
	}
	if n < 0 {
		panic(moerr.NewInternalErrorNoCtx("unexpected ref-count during release: %d", n+1))
	}
	if f, ok := v.(Finalizer); ok {
		f.Finalize()
	}
	if h.block != nil {
		h.heap.Release(h.block)
		h.block = nil
		h.heap = nil
	}
}

// IsNil reports whether o is the null handle.
func (o Object) IsNil() bool {
	return o.v == nil
}

// RefCount returns the number of handles to o's value, zero for a null handle.
func (o Object) RefCount() int32 {
	if o.v == nil {
		return 0
	}
	return o.v.refHeader().refs.Load()
}

// ValueUnsafe returns the value without touching its reference count.
func (o Object) ValueUnsafe() Value {
	return o.v
}

// ReseatUnsafe points o at v without adjusting any reference count. It
// exists to break reference cycles: the caller is responsible for keeping
// the counts of both the old and the new value right.
func (o *Object) ReseatUnsafe(v Value) {
	o.v = v
}

// Same reports whether a and b refer to the same value.
func Same(a, b Object) bool {
	return a.v == b.v
}

// Equals compares o with that, by identity unless the value implements Equaler.
func (o Object) Equals(that Object) (bool, error) {
	if o.v == nil {
		return false, moerr.NewNullReferenceNoCtx("equals")
	}
	if e, ok := o.v.(Equaler); ok {
		return e.Equals(that), nil
	}
	return o.v == that.v, nil
}

// HashCode returns the value's hash code, derived from its address unless the
// value implements Hasher.
func (o Object) HashCode() (int32, error) {
	if o.v == nil {
		return 0, moerr.NewNullReferenceNoCtx("hashCode")
	}
	if h, ok := o.v.(Hasher); ok {
		return h.HashCode(), nil
	}
	addr := uint64(o.address())
	return int32(addr ^ addr>>32), nil
}

// ToString returns the value's text, "Object#<address>" unless the value
// implements fmt.Stringer.
func (o Object) ToString() (string, error) {
	if o.v == nil {
		return "", moerr.NewNullReferenceNoCtx("toString")
	}
	if s, ok := o.v.(fmt.Stringer); ok {
		return s.String(), nil
	}
	return fmt.Sprintf("Object#%x", o.address()), nil
}

// String implements fmt.Stringer; the null handle prints as "null".
func (o Object) String() string {
	if o.v == nil {
		return "null"
	}
	s, _ := o.ToString()
	return s
}

// GetClass returns the interned class of the value's dynamic type.
func (o Object) GetClass() (Class, error) {
	if o.v == nil {
		return Class{}, moerr.NewNullReferenceNoCtx("getClass")
	}
	return ForName(typeName(o.v)), nil
}

func (o Object) address() uintptr {
	return uintptr(unsafe.Pointer(o.v.refHeader()))
}
