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
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Test service surface. The notifier mirrors the callback shape the ATM
// services use in production.

type EchoAPI interface {
	Echo(msg string) (string, error)
	Add(a, b int64) (int64, error)
	Boom() error
	NewCounter(start int64) (CounterAPI, error)
	Greet(name string, cb NotifyAPI) error
}

type CounterAPI interface {
	Incr() (int64, error)
}

type NotifyAPI interface {
	Notify(message, level string) error
}

func init() {
	RegisterProxy((*NotifyAPI)(nil), func(s *Stub) interface{} { return notifyProxy{stub: s} })
	RegisterProxy((*CounterAPI)(nil), func(s *Stub) interface{} { return counterProxy{stub: s} })
}

type notifyProxy struct{ stub *Stub }

func (p notifyProxy) Notify(message, level string) error {
	_, err := p.stub.Invoke("Notify", message, level)
	return err
}

type counterProxy struct{ stub *Stub }

func (p counterProxy) Incr() (int64, error) {
	v, err := p.stub.Invoke("Incr")
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

type echoService struct {
	Object
	calls int32
}

func (s *echoService) RemoteInterface() interface{} { return (*EchoAPI)(nil) }

func (s *echoService) Echo(msg string) (string, error) {
	atomic.AddInt32(&s.calls, 1)
	return msg, nil
}

func (s *echoService) Add(a, b int64) (int64, error) {
	atomic.AddInt32(&s.calls, 1)
	return a + b, nil
}

func (s *echoService) Boom() error {
	atomic.AddInt32(&s.calls, 1)
	return errors.New("boom")
}

func (s *echoService) NewCounter(start int64) (CounterAPI, error) {
	atomic.AddInt32(&s.calls, 1)
	return &counter{n: start}, nil
}

func (s *echoService) Greet(name string, cb NotifyAPI) error {
	atomic.AddInt32(&s.calls, 1)
	return cb.Notify("hello "+name, "info")
}

type counter struct {
	Object
	mu sync.Mutex
	n  int64
}

func (c *counter) RemoteInterface() interface{} { return (*CounterAPI)(nil) }

func (c *counter) Incr() (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return c.n, nil
}

type recordingNotifier struct {
	Object
	ch chan string
}

func (n *recordingNotifier) RemoteInterface() interface{} { return (*NotifyAPI)(nil) }

func (n *recordingNotifier) Notify(message, level string) error {
	n.ch <- message + "|" + level
	return nil
}

// dispatchTester runs one serving registry with an echo service bound.
type dispatchTester struct {
	reg  *Registry
	svc  *echoService
	host string
	port int
}

func newDispatchTester(t *testing.T) *dispatchTester {
	t.Helper()
	reg := NewRegistry("127.0.0.1", 0)
	svc := new(echoService)
	if err := reg.Bind("echo", svc); err != nil {
		t.Fatalf("bind failed: %v", err)
	}
	if err := reg.Listen(true); err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	t.Cleanup(func() { reg.Close() })
	host, port := reg.Addr()
	return &dispatchTester{reg: reg, svc: svc, host: host, port: port}
}

func (dt *dispatchTester) lookup(t *testing.T, local *Registry) *Stub {
	t.Helper()
	stub, err := NewRemoteRegistry(dt.host, dt.port, local).Lookup("echo", (*EchoAPI)(nil))
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	return stub
}

// rawCall speaks the wire protocol directly, bypassing stub-side validation.
func rawCall(t *testing.T, port int, selector string, args ...interface{}) *Message {
	t.Helper()
	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)
	defer conn.Close()
	codec := NewCodec(conn)

	rawArgs := make([]json.RawMessage, 0, len(args))
	for _, a := range args {
		raw, err := json.Marshal(a)
		require.NoError(t, err)
		rawArgs = append(rawArgs, raw)
	}
	require.NoError(t, codec.writeMessage(&Message{Selector: selector, Args: rawArgs}))
	reply, err := codec.readMessage()
	require.NoError(t, err)
	return reply
}

func TestBindSemantics(t *testing.T) {
	reg := NewRegistry("127.0.0.1", 0)
	svc := new(echoService)
	require.NoError(t, reg.Bind("echo", svc))
	require.Equal(t, "echo", svc.ExportedName())

	err := reg.Bind("echo", new(echoService))
	require.Equal(t, codeNameTaken, ErrorCode(err))

	// Rebinding is fine while idle, refused while serving.
	require.NoError(t, reg.Rebind("echo", new(echoService)))
	require.NoError(t, reg.Listen(true))
	defer reg.Close()
	err = reg.Rebind("echo", new(echoService))
	require.Equal(t, codeServerBusy, ErrorCode(err))

	// Binding new names stays allowed while serving; sessions depend on it.
	require.NoError(t, reg.Bind("late", new(echoService)))
	require.Equal(t, []string{"echo", "late"}, reg.List())

	require.NoError(t, reg.Unbind("late"))
	err = reg.Unbind("late")
	require.Equal(t, codeNotFound, ErrorCode(err))
}

func TestBindRejectsPlainValues(t *testing.T) {
	reg := NewRegistry("127.0.0.1", 0)
	err := reg.Bind("x", struct{ A int }{1})
	require.Equal(t, codeNotRemote, ErrorCode(err))
}

func TestDispatchErrorPaths(t *testing.T) {
	dt := newDispatchTester(t)
	hash := MustInterfaceHash((*EchoAPI)(nil))

	tests := []struct {
		selector string
		args     []interface{}
		code     int
	}{
		{"nosep", []interface{}{hash}, codeBadMethod},
		{"ghost@Echo", []interface{}{hash, "hi"}, codeNoSuchService},
		{"echo@Nope", []interface{}{hash, "hi"}, codeBadMethod},
		{"echo@Echo", []interface{}{"wronghash", "hi"}, codeInterfaceMismatch},
		{"echo@Echo", []interface{}{}, codeBadArguments},
		{"echo@Echo", []interface{}{hash, "hi", "extra"}, codeBadArguments},
		{"echo@Add", []interface{}{hash, "notanumber", int64(2)}, codeBadArguments},
	}
	for _, tt := range tests {
		reply := rawCall(t, dt.port, tt.selector, tt.args...)
		if reply.Error == nil {
			t.Fatalf("selector %q: expected error, got result %s", tt.selector, reply.Result)
		}
		if reply.Error.Code != tt.code {
			t.Fatalf("selector %q: code = %d, want %d (%s)", tt.selector, reply.Error.Code, tt.code, reply.Error.Message)
		}
	}
}

func TestHashGateRunsBeforeMethod(t *testing.T) {
	dt := newDispatchTester(t)
	reply := rawCall(t, dt.port, "echo@Boom", "wronghash")
	require.Equal(t, codeInterfaceMismatch, reply.Error.Code)
	if n := atomic.LoadInt32(&dt.svc.calls); n != 0 {
		t.Fatalf("method body ran %d times behind a failed hash gate", n)
	}
}

func TestStubRoundTrip(t *testing.T) {
	dt := newDispatchTester(t)
	stub := dt.lookup(t, nil)
	defer stub.Close()

	res, err := stub.Invoke("Echo", "xin chào")
	require.NoError(t, err)
	require.Equal(t, "xin chào", res)

	res, err = stub.Invoke("Add", int64(2), int64(3))
	require.NoError(t, err)
	require.Equal(t, int64(5), res)

	_, err = stub.Invoke("Boom")
	require.Error(t, err)
	require.Contains(t, err.Error(), "boom")
}

func TestStubValidatesLocally(t *testing.T) {
	dt := newDispatchTester(t)
	stub := dt.lookup(t, nil)
	defer stub.Close()

	_, err := stub.Invoke("NoSuchMethod")
	require.Equal(t, codeBadMethod, ErrorCode(err))

	_, err = stub.Invoke("Echo")
	require.Equal(t, codeBadArguments, ErrorCode(err))

	_, err = stub.Invoke("Echo", 42)
	require.Equal(t, codeBadArguments, ErrorCode(err))

	// Nothing above should have produced traffic or side effects.
	require.Zero(t, atomic.LoadInt32(&dt.svc.calls))
}

func TestCallbackRoundTrip(t *testing.T) {
	dt := newDispatchTester(t)

	clientReg := NewRegistry("127.0.0.1", 0)
	require.NoError(t, clientReg.Listen(true))
	defer clientReg.Close()

	stub := dt.lookup(t, clientReg)
	defer stub.Close()

	notifier := &recordingNotifier{ch: make(chan string, 4)}
	_, err := stub.Invoke("Greet", "twinvault", notifier)
	require.NoError(t, err)

	select {
	case got := <-notifier.ch:
		require.Equal(t, "hello twinvault|info", got)
	case <-time.After(2 * time.Second):
		t.Fatal("callback never arrived")
	}

	name := notifier.ExportedName()
	require.True(t, strings.HasPrefix(name, "recordingNotifier"+objectSep), "unexpected exported name %q", name)
}

func TestAutoExportIdempotent(t *testing.T) {
	dt := newDispatchTester(t)

	clientReg := NewRegistry("127.0.0.1", 0)
	require.NoError(t, clientReg.Listen(true))
	defer clientReg.Close()

	stub := dt.lookup(t, clientReg)
	defer stub.Close()

	notifier := &recordingNotifier{ch: make(chan string, 4)}
	_, err := stub.Invoke("Greet", "one", notifier)
	require.NoError(t, err)
	first := notifier.ExportedName()

	_, err = stub.Invoke("Greet", "two", notifier)
	require.NoError(t, err)
	require.Equal(t, first, notifier.ExportedName())

	var exported int
	for _, name := range clientReg.List() {
		if strings.HasPrefix(name, "recordingNotifier"+objectSep) {
			exported++
		}
	}
	require.Equal(t, 1, exported)
	<-notifier.ch
	<-notifier.ch
}

func TestAutoExportNeedsRunningRegistry(t *testing.T) {
	dt := newDispatchTester(t)

	// No local registry at all.
	stub := dt.lookup(t, nil)
	notifier := &recordingNotifier{ch: make(chan string, 1)}
	_, err := stub.Invoke("Greet", "x", notifier)
	require.Equal(t, codeNoLocalRegistry, ErrorCode(err))

	// A registry that exists but does not listen is just as useless.
	idle := NewRegistry("127.0.0.1", 0)
	stub2 := dt.lookup(t, idle)
	_, err = stub2.Invoke("Greet", "x", notifier)
	require.Equal(t, codeNoLocalRegistry, ErrorCode(err))
}

func TestReturnedRemoteObject(t *testing.T) {
	dt := newDispatchTester(t)
	stub := dt.lookup(t, nil)
	defer stub.Close()

	res, err := stub.Invoke("NewCounter", int64(5))
	require.NoError(t, err)
	c, ok := res.(CounterAPI)
	require.True(t, ok, "result is %T, want CounterAPI proxy", res)

	v, err := c.Incr()
	require.NoError(t, err)
	require.Equal(t, int64(6), v)
	v, err = c.Incr()
	require.NoError(t, err)
	require.Equal(t, int64(7), v)

	var synthetic bool
	for _, name := range dt.reg.List() {
		if strings.HasPrefix(name, "counter"+objectSep) {
			synthetic = true
		}
	}
	require.True(t, synthetic, "returned object was not auto-exported: %v", dt.reg.List())
}

func TestUnbindStopsDispatch(t *testing.T) {
	dt := newDispatchTester(t)
	stub := dt.lookup(t, nil)
	defer stub.Close()

	_, err := stub.Invoke("Echo", "up")
	require.NoError(t, err)

	require.NoError(t, dt.reg.Unbind("echo"))
	_, err = stub.Invoke("Echo", "down")
	require.True(t, IsNotFound(err), "got %v", err)
}

func TestConcurrentClients(t *testing.T) {
	dt := newDispatchTester(t)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			stub := dt.lookup(t, nil)
			defer stub.Close()
			for j := 0; j < 20; j++ {
				msg := fmt.Sprintf("c%d-%d", id, j)
				res, err := stub.Invoke("Echo", msg)
				if err != nil {
					errs <- err
					return
				}
				if res != msg {
					errs <- fmt.Errorf("echo returned %v, want %s", res, msg)
					return
				}
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
}

func TestStubReportsConnError(t *testing.T) {
	// Grab a port that refuses connections.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	stub, err := NewRemoteRegistry("127.0.0.1", port, nil).Lookup("echo", (*EchoAPI)(nil))
	require.NoError(t, err)
	_, err = stub.Invoke("Echo", "anyone there")
	require.True(t, IsConnError(err), "got %v", err)
}
