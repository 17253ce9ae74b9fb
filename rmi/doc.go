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

/*
Package rmi implements remote method invocation between twinvault processes.

A process hosts objects in a Registry, bound under service names. Objects
embed Object and declare the interface they export; the registry derives a
signature hash from that interface (name, sorted method names, textual
signatures) and gates every inbound call on it: the first positional argument
of a call is always the caller's hash, and a mismatch rejects the call before
any argument is decoded.

Calls travel as self-describing JSON messages over TCP (or websocket frames)
with a selector of the form "service@method". Values carrying the Remote
marker never travel by value: passing one as a stub argument auto-exports it
into the caller's local registry and sends a reference record instead, marked
with "__remote_ref__": true. The receiving side turns such records back into
stubs, shaped by the declared parameter type through the proxy table. This is
how a server calls back into the client that invoked it.

The client side mirrors the registry: RemoteRegistry.Lookup builds a typed
stub; Stub.Invoke validates arguments locally, performs auto-export, sends
the call and decodes the result. Connection-class transport failures surface
as *ConnError so callers can distinguish a dead peer from a failed call.
*/
package rmi
