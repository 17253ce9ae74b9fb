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
	"net"
	"reflect"
	"strconv"
	"sync"
	"time"

	log "github.com/inconshreveable/log15"
)

const (
	dialTimeout = 5 * time.Second
	callTimeout = 30 * time.Second
)

// RemoteRegistry addresses a registry in another process. local is the
// caller's own registry, used to auto-export callback arguments; it may be
// nil for pure consumers that never pass remote objects.
type RemoteRegistry struct {
	host  string
	port  int
	local *Registry
}

func NewRemoteRegistry(host string, port int, local *Registry) *RemoteRegistry {
	return &RemoteRegistry{host: host, port: port, local: local}
}

// Addr returns the host:port this registry points at.
func (rr *RemoteRegistry) Addr() string {
	return net.JoinHostPort(rr.host, strconv.Itoa(rr.port))
}

// Lookup builds a stub for the service bound under name on the remote side.
// The interface token fixes the signature hash the server will gate on and
// gives the stub enough type information to validate calls locally. No
// network traffic happens until the first call.
func (rr *RemoteRegistry) Lookup(name string, ifaceToken interface{}) (*Stub, error) {
	hash, err := InterfaceHash(ifaceToken)
	if err != nil {
		return nil, err
	}
	typ, err := interfaceType(ifaceToken)
	if err != nil {
		return nil, err
	}
	stub := newStub(Ref{ServiceName: name, Host: rr.host, Port: rr.port, SignatureHash: hash}, rr.local)
	stub.methods = methodSpecs(typ)
	return stub, nil
}

// methodSpec records the declared shape of one stub method.
type methodSpec struct {
	argTypes []reflect.Type
	retType  reflect.Type // nil when the method only returns error or nothing
}

func methodSpecs(iface reflect.Type) map[string]*methodSpec {
	specs := make(map[string]*methodSpec, iface.NumMethod())
	for i := 0; i < iface.NumMethod(); i++ {
		m := iface.Method(i)
		spec := new(methodSpec)
		for j := 0; j < m.Type.NumIn(); j++ {
			spec.argTypes = append(spec.argTypes, m.Type.In(j))
		}
		if m.Type.NumOut() > 0 && m.Type.Out(0) != errorType {
			spec.retType = m.Type.Out(0)
		}
		specs[m.Name] = spec
	}
	return specs
}

// check validates an argument list against the declared parameter types.
// It is deliberately permissive about numeric widths, the wire narrows all
// integers to int64 anyway.
func (m *methodSpec) check(args []interface{}) error {
	if len(args) != len(m.argTypes) {
		return &badArgumentsError{
			msg: "expected " + strconv.Itoa(len(m.argTypes)) + " arguments, got " + strconv.Itoa(len(args)),
		}
	}
	for i, t := range m.argTypes {
		if args[i] == nil {
			if !nilable(t) {
				return &badArgumentsError{msg: "argument " + strconv.Itoa(i) + " must not be nil"}
			}
			continue
		}
		if _, ok := args[i].(*Stub); ok && t.Kind() == reflect.Interface {
			continue
		}
		if _, ok := asRemote(args[i]); ok && t.Kind() == reflect.Interface {
			continue
		}
		at := reflect.TypeOf(args[i])
		if at.AssignableTo(t) {
			continue
		}
		if isNumeric(at) && isNumeric(t) {
			continue
		}
		return &badArgumentsError{
			msg: "argument " + strconv.Itoa(i) + " has type " + at.String() + ", want " + t.String(),
		}
	}
	return nil
}

func nilable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map, reflect.Chan, reflect.Func:
		return true
	}
	return false
}

func isNumeric(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// Stub is the client-side proxy of a remote object. One stub keeps one
// connection; calls on it are serialized, the transport is request/response.
// Stubs built by Lookup validate arguments locally, stubs reconstructed from
// received references leave validation to the server.
type Stub struct {
	ref     Ref
	local   *Registry
	methods map[string]*methodSpec
	log     log.Logger

	mu    sync.Mutex
	codec *jsonCodec
}

func newStub(ref Ref, local *Registry) *Stub {
	return &Stub{ref: ref, local: local, log: log.New("stub", ref.String())}
}

// Ref returns the reference this stub points at.
func (s *Stub) Ref() Ref { return s.ref }

// Hash returns the interface hash sent as the first argument of every call.
func (s *Stub) Hash() string { return s.ref.SignatureHash }

// Close drops the connection. The stub stays usable and redials on the next
// call.
func (s *Stub) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drop()
	return nil
}

// Invoke calls method on the remote object. Arguments carrying the Remote
// marker are auto-exported into the local registry and travel as references;
// this requires a running local registry and fails loudly without one.
// A reference result comes back as a stub, shaped by the declared return
// interface when one is known.
func (s *Stub) Invoke(method string, args ...interface{}) (interface{}, error) {
	var spec *methodSpec
	if s.methods != nil {
		var ok bool
		if spec, ok = s.methods[method]; !ok {
			return nil, &badMethodError{selector: s.ref.ServiceName + selectorSep + method}
		}
		if err := spec.check(args); err != nil {
			return nil, err
		}
	}
	sendArgs := make([]interface{}, len(args))
	copy(sendArgs, args)
	for i, arg := range sendArgs {
		if other, ok := arg.(*Stub); ok {
			sendArgs[i] = other.ref
			continue
		}
		ro, ok := asRemote(arg)
		if !ok {
			continue
		}
		if s.local == nil || !s.local.Listening() {
			return nil, &noLocalRegistryError{}
		}
		ref, err := s.local.exportObject(ro)
		if err != nil {
			return nil, err
		}
		sendArgs[i] = ref
	}
	rawArgs, err := marshalArgs(s.ref.SignatureHash, sendArgs)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	codec, err := s.connect()
	if err != nil {
		return nil, err
	}
	codec.setDeadline(time.Now().Add(callTimeout))
	call := &Message{Selector: s.ref.ServiceName + selectorSep + method, Args: rawArgs}
	if err := codec.writeMessage(call); err != nil {
		s.drop()
		return nil, wrapConnError("call "+s.ref.ServiceName, err)
	}
	reply, err := codec.readMessage()
	if err != nil {
		s.drop()
		return nil, wrapConnError("reply "+s.ref.ServiceName, err)
	}
	codec.setDeadline(time.Time{})

	if reply.Error != nil {
		return nil, errorFromWire(reply.Error)
	}
	if len(reply.Result) > 0 && isRefRecord(reply.Result) {
		var ref Ref
		if err := json.Unmarshal(reply.Result, &ref); err != nil {
			return nil, err
		}
		result := newStub(ref, s.local)
		if spec != nil && spec.retType != nil && spec.retType.Kind() == reflect.Interface && spec.retType != emptyIface {
			v, err := proxyValue(spec.retType, result)
			if err != nil {
				return nil, err
			}
			return v.Interface(), nil
		}
		return result, nil
	}
	return decodeValue(reply.Result)
}

func (s *Stub) connect() (*jsonCodec, error) {
	if s.codec != nil {
		return s.codec, nil
	}
	conn, err := net.DialTimeout("tcp", s.ref.Addr(), dialTimeout)
	if err != nil {
		return nil, wrapConnError("dial "+s.ref.Addr(), err)
	}
	dialMeter.Mark(1)
	s.codec = NewCodec(conn)
	s.log.Trace("Connected", "addr", s.ref.Addr())
	return s.codec, nil
}

// drop must run with mu held.
func (s *Stub) drop() {
	if s.codec != nil {
		s.codec.close()
		s.codec = nil
	}
}
