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
	"github.com/javolution/javolution-go/pkg/common/moerr"
	"github.com/javolution/javolution-go/pkg/common/object"
)

// ArrayCopy copies length elements from src starting at srcPos into dst
// starting at dstPos. Overlapping ranges of the same array are copied as if
// through a temporary buffer.
func ArrayCopy[E any](src *Array[E], srcPos int, dst *Array[E], dstPos int, length int) error {
	if length < 0 || srcPos < 0 || dstPos < 0 {
		return moerr.NewIndexOutOfBoundsNoCtx("arraycopy: source index %d, destination index %d, length %d", srcPos, dstPos, length)
	}
	if srcPos > min(src.Length, src.filled)-length {
		return moerr.NewIndexOutOfBoundsNoCtx("arraycopy: last source index %d out of bounds for length %d", srcPos+length, src.Length)
	}
	if dstPos > min(dst.Length, dst.filled)-length {
		return moerr.NewIndexOutOfBoundsNoCtx("arraycopy: last destination index %d out of bounds for length %d", dstPos+length, dst.Length)
	}
	if length == 0 {
		return nil
	}

	lay := dst.layout()
	if object.Same(src.root, dst.root) && srcPos < dstPos {
		for length > 0 {
			s := runBefore[E](lay, src.root, srcPos+length)
			d := runBefore[E](lay, dst.root, dstPos+length)
			k := min(len(s), len(d), length)
			copyElems(lay, d[len(d)-k:], s[len(s)-k:], true)
			length -= k
		}
		return nil
	}
	for length > 0 {
		s := runFrom[E](lay, src.root, srcPos)
		d := runFrom[E](lay, dst.root, dstPos)
		k := min(len(s), len(d), length)
		copyElems(lay, d[:k], s[:k], false)
		srcPos += k
		dstPos += k
		length -= k
	}
	return nil
}

// runFrom returns the elements of the leaf holding i, starting at i.
func runFrom[E any](lay *layout, root object.Object, i int) []E {
	l, off := locate[E](lay, root, i)
	return l.elems[off:]
}

// runBefore returns the elements of the leaf holding end-1, up to end.
func runBefore[E any](lay *layout, root object.Object, end int) []E {
	l, off := locate[E](lay, root, end-1)
	return l.elems[:off+1]
}

func copyElems[E any](lay *layout, dst, src []E, backward bool) {
	if !lay.clones && !lay.releases {
		copy(dst, src)
		return
	}
	if backward {
		for i := len(dst) - 1; i >= 0; i-- {
			assignElem(lay, &dst[i], src[i])
		}
		return
	}
	for i := range dst {
		assignElem(lay, &dst[i], src[i])
	}
}
