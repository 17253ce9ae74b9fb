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

package types

import (
	"github.com/twinvault/go-twinvault/rmi"
)

// Notification levels.
const (
	LevelSuccess = "success"
	LevelError   = "error"
	LevelInfo    = "info"
)

// Notifier is the callback surface clients pass to login and to every write
// operation. On the server side arguments of this type arrive as typed
// proxies over the client's exported callback object.
type Notifier interface {
	Notify(message, level string) error
}

type notifierStub struct {
	stub *rmi.Stub
}

func (n notifierStub) Notify(message, level string) error {
	_, err := n.stub.Invoke("Notify", message, level)
	return err
}

func init() {
	rmi.RegisterProxy((*Notifier)(nil), func(s *rmi.Stub) interface{} {
		return notifierStub{stub: s}
	})
}
