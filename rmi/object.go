// Copyright 2024 The go-twinvault Authors
// This file is part of the go-twinvault library.
//
// The go-twinvault library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-twinvault library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-twinvault library. If not, see <http://www.gnu.org/licenses/>.

package rmi

import (
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
)

// Remote is the capability marker carried by every value that can be served
// through a Registry. Implementations embed Object and declare the interface
// they export:
//
//	type notifier struct {
//		rmi.Object
//	}
//
//	func (n *notifier) RemoteInterface() interface{} { return (*NotifyAPI)(nil) }
//
// Passing a Remote value as a stub-call argument auto-exports it into the
// caller's local registry; returning one from a service method auto-exports
// it into the serving registry.
type Remote interface {
	// RemoteInterface returns the nil-pointer token of the exported
	// interface, e.g. (*NotifyAPI)(nil).
	RemoteInterface() interface{}

	// ExportedName returns the name the value is bound under, or "" before
	// the first bind. Synthetic names are stable for the object's lifetime.
	ExportedName() string

	setExportedName(name string)
	exportID() uint64
}

// exportCounter numbers auto-exported objects process-wide.
var exportCounter uint64

// Object provides the Remote plumbing. Embed it by value.
type Object struct {
	mu   sync.Mutex
	name string
	id   uint64
}

// ExportedName returns the bound name recorded by the registry.
func (o *Object) ExportedName() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.name
}

func (o *Object) setExportedName(name string) {
	o.mu.Lock()
	o.name = name
	o.mu.Unlock()
}

func (o *Object) exportID() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.id == 0 {
		o.id = atomic.AddUint64(&exportCounter, 1)
	}
	return o.id
}

// syntheticName derives the auto-export name of obj, ClassName#ObjectId.
func syntheticName(obj Remote) string {
	t := reflect.TypeOf(obj)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return fmt.Sprintf("%s%s%d", t.Name(), objectSep, obj.exportID())
}

// asRemote reports whether v carries the capability marker.
func asRemote(v interface{}) (Remote, bool) {
	r, ok := v.(Remote)
	return r, ok
}
