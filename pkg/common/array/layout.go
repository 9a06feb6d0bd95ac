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
	"math/bits"
	"reflect"
	"sync"
	"unsafe"

	"github.com/javolution/javolution-go/pkg/common/fastheap"
)

const (
	fanOut = 16
	// tierBits is the number of index bits consumed by each interior tier.
	tierBits = 4

	MinShift = 2
	MaxShift = 8
	// MaxTier is the deepest tier above the leaves.
	MaxTier = 8
)

// layout describes the tree geometry for one element type.
type layout struct {
	elemSize int
	shift    int // log2 of the leaf capacity
	leafCap  int
	maxTier  int

	// fundamental elements hold no Go pointers and are stored in heap blocks.
	fundamental bool
	// clones is set when *E has Clone() E; releases when *E has Release().
	clones   bool
	releases bool
}

func (l *layout) capacity(tier int) int {
	return l.leafCap << (tierBits * tier)
}

func (l *layout) maxCapacity() int {
	return l.capacity(l.maxTier)
}

// childShift is the number of index bits addressed below a node of tier.
func (l *layout) childShift(tier int) int {
	return l.shift + tierBits*(tier-1)
}

type cloner[E any] interface {
	Clone() E
}

type releaser interface {
	Release()
}

var (
	layouts      sync.Map // reflect.Type -> *layout
	releaserType = reflect.TypeOf((*releaser)(nil)).Elem()
)

func layoutOf[E any]() *layout {
	t := reflect.TypeOf((*E)(nil)).Elem()
	if l, ok := layouts.Load(t); ok {
		return l.(*layout)
	}

	var zero E
	size := int(unsafe.Sizeof(zero))
	shift := MaxShift
	if size > 0 {
		shift = bits.Len(uint(fastheap.BlockCapacity/size)) - 1
	}
	shift = min(max(shift, MinShift), MaxShift)

	_, clones := any(&zero).(cloner[E])
	l := &layout{
		elemSize:    size,
		shift:       shift,
		leafCap:     1 << shift,
		maxTier:     min(MaxTier, (bits.UintSize-2-shift)/tierBits),
		fundamental: size > 0 && isFundamental(t),
		clones:      clones,
		releases:    reflect.PointerTo(t).Implements(releaserType),
	}
	actual, _ := layouts.LoadOrStore(t, l)
	return actual.(*layout)
}

// isFundamental reports whether values of t contain no Go pointers.
func isFundamental(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return true
	case reflect.Array:
		return t.Len() == 0 || isFundamental(t.Elem())
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if !isFundamental(t.Field(i).Type) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
