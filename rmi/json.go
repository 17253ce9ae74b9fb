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
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Message is the wire envelope for both directions. A call carries Selector
// and Args (args[0] is always the caller's interface hash); a reply carries
// Result or Error. Arguments stay raw until the dispatch layer knows the
// parameter types they must decode into.
type Message struct {
	Selector string            `json:"selector,omitempty"`
	Args     []json.RawMessage `json:"args,omitempty"`
	Result   json.RawMessage   `json:"result,omitempty"`
	Error    *wireError        `json:"error,omitempty"`
}

type wireError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (m *Message) isCall() bool { return m.Selector != "" }

// errorMessage builds the reply for a failed call.
func errorMessage(err error) *Message {
	we := &wireError{Code: codeInternal, Message: err.Error()}
	var typed Error
	if errors.As(err, &typed) {
		we.Code = typed.ErrorCode()
	}
	return &Message{Error: we}
}

// resultMessage encodes a successful reply value.
func resultMessage(v interface{}) *Message {
	raw, err := json.Marshal(v)
	if err != nil {
		return errorMessage(&internalError{msg: "cannot encode result: " + err.Error()})
	}
	return &Message{Result: raw}
}

// deadlineConn is the connection surface the codec needs.
type deadlineConn interface {
	SetDeadline(t time.Time) error
	Close() error
}

// jsonCodec reads and writes Messages on a stream. Reads are single-threaded,
// writes take the encoder mutex so concurrent repliers never interleave.
type jsonCodec struct {
	closer sync.Once
	closed chan struct{}

	decMu  sync.Mutex
	decode func(v interface{}) error

	encMu  sync.Mutex
	encode func(v interface{}) error

	conn   deadlineConn
	remote string
}

// NewCodec wraps a network connection with newline-delimited JSON framing.
func NewCodec(conn net.Conn) *jsonCodec {
	enc := json.NewEncoder(conn)
	dec := json.NewDecoder(conn)
	dec.UseNumber()
	return newFuncCodec(conn, enc.Encode, dec.Decode, conn.RemoteAddr().String())
}

// newFuncCodec builds a codec from encode/decode functions. The websocket
// transport uses this with the gorilla ReadJSON/WriteJSON pair.
func newFuncCodec(conn deadlineConn, encode, decode func(v interface{}) error, remote string) *jsonCodec {
	return &jsonCodec{
		closed: make(chan struct{}),
		decode: decode,
		encode: encode,
		conn:   conn,
		remote: remote,
	}
}

func (c *jsonCodec) readMessage() (*Message, error) {
	c.decMu.Lock()
	defer c.decMu.Unlock()
	msg := new(Message)
	if err := c.decode(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (c *jsonCodec) writeMessage(msg *Message) error {
	c.encMu.Lock()
	defer c.encMu.Unlock()
	return c.encode(msg)
}

func (c *jsonCodec) setDeadline(t time.Time) {
	c.conn.SetDeadline(t)
}

func (c *jsonCodec) close() {
	c.closer.Do(func() {
		close(c.closed)
		c.conn.Close()
	})
}

// closedCh signals codec shutdown to anyone selecting on the connection.
func (c *jsonCodec) closedCh() <-chan struct{} { return c.closed }

func (c *jsonCodec) remoteAddr() string { return c.remote }

// marshalArgs builds the positional argument list of a call. The interface
// hash always travels first.
func marshalArgs(hash string, args []interface{}) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(args)+1)
	raw, err := json.Marshal(hash)
	if err != nil {
		return nil, err
	}
	out = append(out, raw)
	for i, arg := range args {
		raw, err := json.Marshal(arg)
		if err != nil {
			return nil, &badArgumentsError{msg: "argument " + strconv.Itoa(i) + " is not encodable: " + err.Error()}
		}
		out = append(out, raw)
	}
	return out, nil
}

// decodeValue turns a raw reply into a generic Go value. Numbers come back
// as int64 when the literal has no fraction or exponent, float64 otherwise,
// matching the codec's integer/double split.
func decodeValue(raw json.RawMessage) (interface{}, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return normalizeNumbers(v), nil
}

func normalizeNumbers(v interface{}) interface{} {
	switch t := v.(type) {
	case json.Number:
		return parseNumber(t)
	case []interface{}:
		for i := range t {
			t[i] = normalizeNumbers(t[i])
		}
		return t
	case map[string]interface{}:
		for k := range t {
			t[k] = normalizeNumbers(t[k])
		}
		return t
	default:
		return v
	}
}

func parseNumber(n json.Number) interface{} {
	if strings.ContainsAny(n.String(), ".eE") {
		f, err := n.Float64()
		if err == nil {
			return f
		}
		return n.String()
	}
	i, err := n.Int64()
	if err == nil {
		return i
	}
	f, err := n.Float64()
	if err == nil {
		return f
	}
	return n.String()
}

// DecodeInto re-shapes a generic decoded value into out, which must be a
// pointer. Callers use it to lift record results into their struct types.
func DecodeInto(v interface{}, out interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
