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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeValueNumberKinds(t *testing.T) {
	v, err := decodeValue(json.RawMessage(`{"a": 7, "b": 7.0, "c": 1e3, "d": -9223372036854775808, "e": [1, 2.5]}`))
	require.NoError(t, err)
	rec := v.(map[string]interface{})

	if _, ok := rec["a"].(int64); !ok {
		t.Fatalf("integer literal decoded as %T", rec["a"])
	}
	if _, ok := rec["b"].(float64); !ok {
		t.Fatalf("fractional literal decoded as %T", rec["b"])
	}
	if _, ok := rec["c"].(float64); !ok {
		t.Fatalf("exponent literal decoded as %T", rec["c"])
	}
	require.Equal(t, int64(-9223372036854775808), rec["d"])

	arr := rec["e"].([]interface{})
	require.Equal(t, int64(1), arr[0])
	require.Equal(t, 2.5, arr[1])
}

func TestDecodeValueNull(t *testing.T) {
	v, err := decodeValue(json.RawMessage(`null`))
	require.NoError(t, err)
	require.Nil(t, v)

	v, err = decodeValue(nil)
	require.NoError(t, err)
	require.Nil(t, v)
}

func TestRefWireFormat(t *testing.T) {
	ref := Ref{ServiceName: "auth", Host: "127.0.0.1", Port: 29054, SignatureHash: "abc123"}
	raw, err := json.Marshal(ref)
	require.NoError(t, err)

	var rec map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &rec))
	require.Equal(t, true, rec["__remote_ref__"])
	require.Equal(t, "auth", rec["service_name"])
	require.Equal(t, "127.0.0.1", rec["host"])
	require.Equal(t, "abc123", rec["signature_hash"])

	var back Ref
	require.NoError(t, json.Unmarshal(raw, &back))
	require.Equal(t, ref, back)

	require.True(t, isRefRecord(raw))
	require.False(t, isRefRecord(json.RawMessage(`{"service_name":"auth"}`)))
	require.False(t, isRefRecord(json.RawMessage(`"auth"`)))
}

func TestRefRejectsUnmarkedRecord(t *testing.T) {
	var ref Ref
	err := json.Unmarshal([]byte(`{"service_name":"auth","host":"h","port":1,"signature_hash":"x"}`), &ref)
	require.Error(t, err)
}

func TestMarshalArgsHashFirst(t *testing.T) {
	raw, err := marshalArgs("deadbeef", []interface{}{int64(5), "x", nil})
	require.NoError(t, err)
	require.Len(t, raw, 4)
	require.JSONEq(t, `"deadbeef"`, string(raw[0]))
	require.JSONEq(t, `5`, string(raw[1]))
	require.JSONEq(t, `"x"`, string(raw[2]))
	require.JSONEq(t, `null`, string(raw[3]))
}

func TestDecodeInto(t *testing.T) {
	type login struct {
		Success   bool   `json:"success"`
		Message   string `json:"message"`
		SessionID string `json:"session_id"`
	}
	v, err := decodeValue(json.RawMessage(`{"success": true, "message": "ok", "session_id": "s1"}`))
	require.NoError(t, err)

	var out login
	require.NoError(t, DecodeInto(v, &out))
	require.Equal(t, login{Success: true, Message: "ok", SessionID: "s1"}, out)
}

func TestErrorMessageCodes(t *testing.T) {
	msg := errorMessage(&noSuchServiceError{name: "ghost"})
	require.NotNil(t, msg.Error)
	require.Equal(t, codeNoSuchService, msg.Error.Code)

	err := errorFromWire(msg.Error)
	require.Equal(t, codeNoSuchService, ErrorCode(err))
	require.True(t, IsNotFound(err))
}
