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
	"sort"
	"strconv"
	"strings"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	log "github.com/inconshreveable/log15"
)

// Registry hosts remote objects and serves inbound calls over TCP. Binding
// is permitted at any time; rebinding only while the registry is not
// serving. A single registry instance backs both the client-facing services
// and the auto-exported callback objects of a process.
type Registry struct {
	log    log.Logger
	codecs mapset.Set[*jsonCodec]

	mu       sync.Mutex
	host     string
	port     int
	services map[string]*service
	running  bool
	listener net.Listener
}

// NewRegistry creates an idle registry that will serve on host:port once
// Listen is called. Port 0 selects an ephemeral port at listen time.
func NewRegistry(host string, port int) *Registry {
	return &Registry{
		log:      log.New("registry", net.JoinHostPort(host, strconv.Itoa(port))),
		codecs:   mapset.NewSet[*jsonCodec](),
		host:     host,
		port:     port,
		services: make(map[string]*service),
	}
}

// Bind publishes obj under name. It fails with a name-taken error when the
// name is in use and records the name on the object for later unbinding.
func (r *Registry) Bind(name string, obj interface{}) error {
	svc, err := newService(name, obj)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.services[name]; ok {
		return &nameTakenError{name: name}
	}
	r.services[name] = svc
	svc.rcvr.setExportedName(name)
	r.log.Debug("Service bound", "service", name, "hash", abbrev(svc.hash))
	return nil
}

// Rebind replaces whatever is bound under name. Refused while serving, the
// dispatch path must not observe a binding change mid-flight.
func (r *Registry) Rebind(name string, obj interface{}) error {
	svc, err := newService(name, obj)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return &serverBusyError{name: name}
	}
	r.services[name] = svc
	svc.rcvr.setExportedName(name)
	r.log.Debug("Service rebound", "service", name, "hash", abbrev(svc.hash))
	return nil
}

// Unbind removes the binding under name. Permitted while serving; inflight
// calls on the old binding complete, later lookups miss.
func (r *Registry) Unbind(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.services[name]; !ok {
		return &notFoundError{name: name}
	}
	delete(r.services, name)
	r.log.Debug("Service unbound", "service", name)
	return nil
}

// List returns a sorted snapshot of the bound service names.
func (r *Registry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Listening reports whether the transport is up.
func (r *Registry) Listening() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Addr returns the serve address. The port is the actual one after an
// ephemeral Listen.
func (r *Registry) Addr() (string, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.host, r.port
}

// Listen starts the TCP transport. With background=true it returns once the
// listener is up, with background=false it blocks until Close. Listening on
// an already-running registry is an error.
func (r *Registry) Listen(background bool) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return &serverBusyError{name: "listener"}
	}
	l, err := net.Listen("tcp", net.JoinHostPort(r.host, strconv.Itoa(r.port)))
	if err != nil {
		r.mu.Unlock()
		return err
	}
	r.listener = l
	r.port = l.Addr().(*net.TCPAddr).Port
	r.running = true
	addr := net.JoinHostPort(r.host, strconv.Itoa(r.port))
	r.log = log.New("registry", addr)
	r.mu.Unlock()

	r.log.Info("Registry listening", "addr", addr, "services", len(r.services))
	if background {
		go r.acceptLoop(l)
		return nil
	}
	r.acceptLoop(l)
	return nil
}

// Close stops the listener and drops every live connection. Safe to call
// more than once; unblocks a foreground Listen.
func (r *Registry) Close() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	l := r.listener
	r.listener = nil
	r.mu.Unlock()

	err := l.Close()
	for _, codec := range r.codecs.ToSlice() {
		codec.close()
	}
	r.log.Info("Registry stopped")
	return err
}

func (r *Registry) acceptLoop(l net.Listener) {
	for {
		conn, err := l.Accept()
		if err != nil {
			if !r.Listening() {
				return
			}
			r.log.Warn("Accept failed", "err", err)
			return
		}
		servedCounter.Inc(1)
		go r.serveConn(conn)
	}
}

func (r *Registry) serveConn(conn net.Conn) {
	codec := NewCodec(conn)
	r.ServeCodec(codec)
}

// ServeCodec answers calls on one connection until it drops. Calls on a
// single connection run sequentially; concurrency comes from serving many
// connections.
func (r *Registry) ServeCodec(codec *jsonCodec) {
	r.codecs.Add(codec)
	defer func() {
		r.codecs.Remove(codec)
		codec.close()
		servedCounter.Dec(1)
	}()
	for {
		msg, err := codec.readMessage()
		if err != nil {
			if r.Listening() {
				r.log.Trace("Connection closed", "addr", codec.remoteAddr(), "err", err)
			}
			return
		}
		if !msg.isCall() {
			if err := codec.writeMessage(errorMessage(&badMethodError{selector: ""})); err != nil {
				return
			}
			continue
		}
		resp := r.dispatch(msg)
		if resp.Error != nil {
			callErrorMeter.Mark(1)
			r.log.Debug("Call failed", "selector", msg.Selector, "code", resp.Error.Code, "err", resp.Error.Message)
		}
		if err := codec.writeMessage(resp); err != nil {
			r.log.Trace("Reply failed", "addr", codec.remoteAddr(), "err", err)
			return
		}
	}
}

// dispatch routes one inbound call: selector split, service lookup, hash
// gate, then the method itself. The hash gate runs before any argument is
// decoded, a mismatched caller cannot reach a method body.
func (r *Registry) dispatch(msg *Message) *Message {
	callMeter.Mark(1)
	name, method, ok := splitSelector(msg.Selector)
	if !ok {
		return errorMessage(&badMethodError{selector: msg.Selector})
	}
	r.mu.Lock()
	svc := r.services[name]
	r.mu.Unlock()
	if svc == nil {
		return errorMessage(&noSuchServiceError{name: name})
	}
	if len(msg.Args) == 0 {
		return errorMessage(&badArgumentsError{msg: "missing client hash argument"})
	}
	var clientHash string
	if err := json.Unmarshal(msg.Args[0], &clientHash); err != nil {
		return errorMessage(&badArgumentsError{msg: "client hash must be a string"})
	}
	if clientHash != svc.hash {
		return errorMessage(&interfaceMismatchError{service: name, got: abbrev(clientHash), want: abbrev(svc.hash)})
	}
	return svc.call(r, method, msg.Args[1:])
}

// exportObject binds obj under its synthetic name if it is not bound yet and
// mints a reference addressed at this registry. Idempotent: re-exporting
// yields the same name and reference.
func (r *Registry) exportObject(obj Remote) (Ref, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := obj.ExportedName()
	if name == "" {
		name = syntheticName(obj)
	}
	svc, ok := r.services[name]
	if !ok {
		var err error
		svc, err = newService(name, obj)
		if err != nil {
			return Ref{}, err
		}
		r.services[name] = svc
		obj.setExportedName(name)
		r.log.Debug("Object auto-exported", "service", name)
	}
	return Ref{ServiceName: name, Host: r.host, Port: r.port, SignatureHash: svc.hash}, nil
}

func splitSelector(selector string) (service, method string, ok bool) {
	parts := strings.SplitN(selector, selectorSep, 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func abbrev(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}
