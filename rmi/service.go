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
	"encoding/json"
	"fmt"
	"reflect"
	"runtime"
	"strconv"
	"sync"
)

var (
	errorType     = reflect.TypeOf((*error)(nil)).Elem()
	emptyIface    = reflect.TypeOf((*interface{})(nil)).Elem()
	stubPtrType   = reflect.TypeOf((*Stub)(nil))
	refStructType = reflect.TypeOf(Ref{})
)

// callback is one invokable method of a bound service.
type callback struct {
	fn       reflect.Value  // bound method value on the receiver
	argTypes []reflect.Type // declared parameter types, hash argument excluded
	errPos   int            // index of the error return, -1 when absent
	hasRet   bool           // true when a non-error value is returned
}

// service is a bound object together with its dispatch table.
type service struct {
	name      string
	hash      string
	rcvr      Remote
	callbacks map[string]*callback
}

// newService derives the dispatch table of obj from its declared remote
// interface. The object must carry the capability marker and implement the
// interface it declares.
func newService(name string, obj interface{}) (*service, error) {
	ro, ok := asRemote(obj)
	if !ok {
		return nil, &notRemoteError{typ: fmt.Sprintf("%T", obj)}
	}
	ifaceType, err := interfaceType(ro.RemoteInterface())
	if err != nil {
		return nil, fmt.Errorf("service %q: %v", name, err)
	}
	if ifaceType.NumMethod() == 0 {
		return nil, fmt.Errorf("service %q: interface %s declares no methods", name, ifaceType)
	}
	rv := reflect.ValueOf(obj)
	if !rv.Type().Implements(ifaceType) {
		return nil, fmt.Errorf("service %q: %T does not implement %s", name, obj, ifaceType)
	}
	hash, err := interfaceHash(ifaceType)
	if err != nil {
		return nil, err
	}

	callbacks := make(map[string]*callback, ifaceType.NumMethod())
	for i := 0; i < ifaceType.NumMethod(); i++ {
		m := ifaceType.Method(i)
		cb, err := newCallback(rv.MethodByName(m.Name), m.Type)
		if err != nil {
			return nil, fmt.Errorf("service %q method %s: %v", name, m.Name, err)
		}
		callbacks[m.Name] = cb
	}
	return &service{name: name, hash: hash, rcvr: ro, callbacks: callbacks}, nil
}

func newCallback(fn reflect.Value, mtype reflect.Type) (*callback, error) {
	cb := &callback{fn: fn, errPos: -1}
	for i := 0; i < mtype.NumIn(); i++ {
		cb.argTypes = append(cb.argTypes, mtype.In(i))
	}
	switch mtype.NumOut() {
	case 0:
	case 1:
		if mtype.Out(0) == errorType {
			cb.errPos = 0
		} else {
			cb.hasRet = true
		}
	case 2:
		if mtype.Out(1) != errorType {
			return nil, fmt.Errorf("second return value must be error, have %s", mtype.Out(1))
		}
		cb.hasRet = true
		cb.errPos = 1
	default:
		return nil, fmt.Errorf("too many return values")
	}
	return cb, nil
}

// call decodes args against the method signature, invokes the method and
// encodes the outcome. localReg serves nested stub construction and result
// auto-export.
func (s *service) call(localReg *Registry, method string, args []json.RawMessage) *Message {
	cb, ok := s.callbacks[method]
	if !ok {
		return errorMessage(&badMethodError{selector: s.name + selectorSep + method})
	}
	vals, err := parseCallArgs(cb, args, localReg)
	if err != nil {
		return errorMessage(err)
	}
	result, err := cb.invoke(vals)
	if err != nil {
		return errorMessage(err)
	}
	if ro, ok := asRemote(result); ok {
		ref, err := localReg.exportObject(ro)
		if err != nil {
			return errorMessage(err)
		}
		return resultMessage(ref)
	}
	return resultMessage(result)
}

// invoke runs the method, converting panics into internal errors so one bad
// handler cannot take the serving connection down.
func (cb *callback) invoke(vals []reflect.Value) (res interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 2048)
			buf = buf[:runtime.Stack(buf, false)]
			err = &internalError{msg: fmt.Sprintf("method panic: %v\n%s", r, buf)}
		}
	}()
	outs := cb.fn.Call(vals)
	if cb.errPos >= 0 && !outs[cb.errPos].IsNil() {
		return nil, outs[cb.errPos].Interface().(error)
	}
	if cb.hasRet {
		return outs[0].Interface(), nil
	}
	return nil, nil
}

// parseCallArgs coerces raw positional arguments onto the declared parameter
// types. Remote-reference records become stubs, shaped by the parameter type
// through the proxy table.
func parseCallArgs(cb *callback, args []json.RawMessage, localReg *Registry) ([]reflect.Value, error) {
	if len(args) != len(cb.argTypes) {
		return nil, &badArgumentsError{
			msg: "expected " + strconv.Itoa(len(cb.argTypes)) + " arguments, got " + strconv.Itoa(len(args)),
		}
	}
	vals := make([]reflect.Value, len(args))
	for i, t := range cb.argTypes {
		if isRefRecord(args[i]) && t != refStructType {
			var ref Ref
			if err := json.Unmarshal(args[i], &ref); err != nil {
				return nil, &badArgumentsError{msg: "argument " + strconv.Itoa(i) + ": " + err.Error()}
			}
			v, err := proxyValue(t, newStub(ref, localReg))
			if err != nil {
				return nil, err
			}
			vals[i] = v
			continue
		}
		ptr := reflect.New(t)
		if err := json.Unmarshal(args[i], ptr.Interface()); err != nil {
			return nil, &badArgumentsError{
				msg: "argument " + strconv.Itoa(i) + " does not decode into " + t.String() + ": " + err.Error(),
			}
		}
		vals[i] = ptr.Elem()
	}
	return vals, nil
}

// proxyValue shapes a stub for the declared parameter type.
func proxyValue(t reflect.Type, stub *Stub) (reflect.Value, error) {
	switch {
	case t == stubPtrType:
		return reflect.ValueOf(stub), nil
	case t == emptyIface:
		return reflect.ValueOf(stub), nil
	case t.Kind() == reflect.Interface:
		if ctor := proxyCtor(t); ctor != nil {
			wrapped := reflect.ValueOf(ctor(stub))
			if !wrapped.Type().Implements(t) {
				return reflect.Value{}, &internalError{
					msg: "registered proxy for " + t.String() + " does not implement it",
				}
			}
			return wrapped, nil
		}
		return reflect.Value{}, &badArgumentsError{msg: "no stub proxy registered for " + t.String()}
	default:
		return reflect.Value{}, &badArgumentsError{
			msg: "remote reference passed for non-remote parameter " + t.String(),
		}
	}
}

var (
	proxyMu    sync.RWMutex
	proxyCtors = make(map[reflect.Type]func(*Stub) interface{})
)

// RegisterProxy associates an interface type with a constructor producing a
// typed wrapper over a stub. Deserialised remote references destined for a
// parameter of that interface type are handed to ctor. Packages register
// their callback interfaces from init.
func RegisterProxy(ifaceToken interface{}, ctor func(*Stub) interface{}) {
	t, err := interfaceType(ifaceToken)
	if err != nil {
		panic(err)
	}
	proxyMu.Lock()
	proxyCtors[t] = ctor
	proxyMu.Unlock()
}

func proxyCtor(t reflect.Type) func(*Stub) interface{} {
	proxyMu.RLock()
	defer proxyMu.RUnlock()
	return proxyCtors[t]
}
