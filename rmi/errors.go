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
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// Error codes carried in wire responses. Stable across releases, the client
// reconstructs the matching error type from the code.
const (
	codeNameTaken         = 101
	codeServerBusy        = 102
	codeNotFound          = 103
	codeNoSuchService     = 104
	codeBadMethod         = 105
	codeBadArguments      = 106
	codeInterfaceMismatch = 107
	codeNoLocalRegistry   = 108
	codeNotRemote         = 109
	codeInternal          = 110
)

// Error is implemented by all framework errors that can cross the wire.
type Error interface {
	error
	ErrorCode() int
}

type nameTakenError struct{ name string }

func (e *nameTakenError) ErrorCode() int { return codeNameTaken }
func (e *nameTakenError) Error() string  { return fmt.Sprintf("name %q already bound", e.name) }

type serverBusyError struct{ name string }

func (e *serverBusyError) ErrorCode() int { return codeServerBusy }
func (e *serverBusyError) Error() string {
	return fmt.Sprintf("cannot rebind %q while the registry is serving", e.name)
}

type notFoundError struct{ name string }

func (e *notFoundError) ErrorCode() int { return codeNotFound }
func (e *notFoundError) Error() string  { return fmt.Sprintf("name %q is not bound", e.name) }

type noSuchServiceError struct{ name string }

func (e *noSuchServiceError) ErrorCode() int { return codeNoSuchService }
func (e *noSuchServiceError) Error() string  { return fmt.Sprintf("no such service %q", e.name) }

type badMethodError struct{ selector string }

func (e *badMethodError) ErrorCode() int { return codeBadMethod }
func (e *badMethodError) Error() string  { return fmt.Sprintf("bad method selector %q", e.selector) }

type badArgumentsError struct{ msg string }

func (e *badArgumentsError) ErrorCode() int { return codeBadArguments }
func (e *badArgumentsError) Error() string  { return "bad arguments: " + e.msg }

type interfaceMismatchError struct {
	service string
	got     string
	want    string
}

func (e *interfaceMismatchError) ErrorCode() int { return codeInterfaceMismatch }
func (e *interfaceMismatchError) Error() string {
	return fmt.Sprintf("interface mismatch for service %q: client hash %s, service hash %s", e.service, e.got, e.want)
}

type noLocalRegistryError struct{}

func (e *noLocalRegistryError) ErrorCode() int { return codeNoLocalRegistry }
func (e *noLocalRegistryError) Error() string {
	return "no running local registry to export the argument into"
}

type notRemoteError struct{ typ string }

func (e *notRemoteError) ErrorCode() int { return codeNotRemote }
func (e *notRemoteError) Error() string {
	return fmt.Sprintf("type %s does not carry the remote capability marker", e.typ)
}

type internalError struct{ msg string }

func (e *internalError) ErrorCode() int { return codeInternal }
func (e *internalError) Error() string  { return "internal error: " + e.msg }

// remoteError is an error received from the far side whose code does not map
// to one of the local error types.
type remoteError struct {
	code int
	msg  string
}

func (e *remoteError) ErrorCode() int { return e.code }
func (e *remoteError) Error() string  { return e.msg }

// errorFromWire rebuilds a typed error from a wire error record.
func errorFromWire(we *wireError) error {
	if we == nil {
		return nil
	}
	return &remoteError{code: we.Code, msg: we.Message}
}

// ErrorCode extracts the wire code from err, or zero when err carries none.
func ErrorCode(err error) int {
	var e Error
	if errors.As(err, &e) {
		return e.ErrorCode()
	}
	return 0
}

// IsNotFound reports whether err is an unbind/lookup miss.
func IsNotFound(err error) bool {
	return ErrorCode(err) == codeNotFound || ErrorCode(err) == codeNoSuchService
}

// IsInterfaceMismatch reports whether err is a signature-hash rejection.
// Clients see it when their interface definition has drifted from the
// server's; retrying cannot help.
func IsInterfaceMismatch(err error) bool {
	return ErrorCode(err) == codeInterfaceMismatch
}

// ConnError wraps a transport-level failure talking to a remote registry.
// Timeouts are deliberately not connection errors: a timed-out peer may still
// be alive and holding state.
type ConnError struct {
	Op  string
	Err error
}

func (e *ConnError) Error() string { return fmt.Sprintf("connection error during %s: %v", e.Op, e.Err) }
func (e *ConnError) Unwrap() error { return e.Err }

// IsConnError reports whether err is a connection-class failure
// (refused, reset, unreachable or closed by the remote side).
func IsConnError(err error) bool {
	var ce *ConnError
	return errors.As(err, &ce)
}

// wrapConnError classifies a transport error. Connection-class failures come
// back as *ConnError, timeouts and everything else pass through unchanged.
func wrapConnError(op string, err error) error {
	if err == nil {
		return nil
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%s: %w", op, err)
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.EHOSTUNREACH) {
		return &ConnError{Op: op, Err: err}
	}
	var oe *net.OpError
	if errors.As(err, &oe) {
		return &ConnError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}
