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

	"github.com/javolution/javolution-go/pkg/common/moerr"
)

// Monitor returns the lock of o's value. Values that do not implement
// Monitored cannot be synchronized on. Monitors are not reentrant.
func Monitor(o Object) (sync.Locker, error) {
	if o.v == nil {
		return nil, moerr.NewNullReferenceNoCtx("monitor")
	}
	m, ok := o.v.(Monitored)
	if !ok {
		return nil, moerr.NewUnsupportedOperationNoCtx("%s has no monitor", typeName(o.v))
	}
	return m.Monitor(), nil
}

// Synchronized runs fn holding the monitor of o's value. The monitor is not
// reentrant: fn must not call Synchronized on the same value, or it deadlocks.
func Synchronized(o Object, fn func() error) error {
	l, err := Monitor(o)
	if err != nil {
		return err
	}
	l.Lock()
	defer l.Unlock()
	return fn()
}
