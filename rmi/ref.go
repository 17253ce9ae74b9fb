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
	"strconv"
)

const (
	// selectorSep joins service and method in a call selector.
	selectorSep = "@"
	// objectSep joins class name and object id in synthetic service names.
	objectSep = "#"
	// refMarkerField tags remote-reference records on the wire.
	refMarkerField = "__remote_ref__"
)

// Ref identifies an object bound in a remote registry. Two refs address the
// same binding iff all fields are equal. A ref stays valid for as long as the
// registry that minted it keeps serving; there is no distributed collection.
type Ref struct {
	ServiceName   string
	Host          string
	Port          int
	SignatureHash string
}

// refWire is the on-the-wire record shape, marker field included.
type refWire struct {
	Marker        bool   `json:"__remote_ref__"`
	ServiceName   string `json:"service_name"`
	Host          string `json:"host"`
	Port          int    `json:"port"`
	SignatureHash string `json:"signature_hash"`
}

// Addr returns the host:port dial target of the owning registry.
func (r Ref) Addr() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

func (r Ref) String() string {
	return fmt.Sprintf("%s%s%s", r.ServiceName, selectorSep, r.Addr())
}

func (r Ref) MarshalJSON() ([]byte, error) {
	return json.Marshal(refWire{
		Marker:        true,
		ServiceName:   r.ServiceName,
		Host:          r.Host,
		Port:          r.Port,
		SignatureHash: r.SignatureHash,
	})
}

func (r *Ref) UnmarshalJSON(data []byte) error {
	var w refWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if !w.Marker {
		return errors.New("record is not a remote reference")
	}
	r.ServiceName = w.ServiceName
	r.Host = w.Host
	r.Port = w.Port
	r.SignatureHash = w.SignatureHash
	return nil
}

// isRefRecord probes raw for the reference marker without a full decode.
func isRefRecord(raw json.RawMessage) bool {
	var probe struct {
		Marker bool `json:"__remote_ref__"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	return probe.Marker
}
