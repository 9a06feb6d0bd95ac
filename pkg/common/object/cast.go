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
	"reflect"
	"strings"

	"github.com/javolution/javolution-go/pkg/common/moerr"
)

// This returns o's value as T. A null handle is an error; a value that is
// not a T panics with a class-cast error.
func This[T any](o Object) (T, error) {
	var zero T
	if o.v == nil {
		return zero, moerr.NewNullReferenceNoCtx(typeNameOf[T]())
	}
	t, ok := o.v.(T)
	if !ok {
		panic(moerr.NewClassCast(moerr.Context(), typeName(o.v), typeNameOf[T]()))
	}
	return t, nil
}

// ThisCast returns o's value as T, with a null-reference error when o is null
// or its value is not a T.
func ThisCast[T any](o Object) (T, error) {
	var zero T
	if o.v == nil {
		return zero, moerr.NewNullReferenceNoCtx(typeNameOf[T]())
	}
	t, ok := o.v.(T)
	if !ok {
		return zero, moerr.NewNullReferenceNoCtx(typeName(o.v) + " as " + typeNameOf[T]())
	}
	return t, nil
}

// Cast returns o's value as T, or the zero T and false when o is null or its
// value is not a T.
func Cast[T any](o Object) (T, bool) {
	t, ok := o.v.(T)
	return t, ok
}

func typeName(v any) string {
	return strings.TrimPrefix(reflect.TypeOf(v).String(), "*")
}

func typeNameOf[T any]() string {
	return strings.TrimPrefix(reflect.TypeOf((*T)(nil)).Elem().String(), "*")
}
