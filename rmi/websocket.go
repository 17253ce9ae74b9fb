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
	"net/http"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorilla/websocket"
)

const (
	wsBufferSize       = 1024
	wsMessageSizeLimit = 15 * 1024 * 1024
)

// WebsocketHandler returns a handler that upgrades requests and serves the
// registry wire protocol over websocket frames. Origins restricts browsers;
// an empty list accepts every origin.
func (r *Registry) WebsocketHandler(allowedOrigins []string) http.Handler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  wsBufferSize,
		WriteBufferSize: wsBufferSize,
		CheckOrigin:     wsOriginValidator(allowedOrigins),
	}
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			r.log.Debug("WebSocket upgrade failed", "addr", req.RemoteAddr, "err", err)
			return
		}
		servedCounter.Inc(1)
		r.ServeCodec(newWebsocketCodec(conn))
	})
}

// wsOriginValidator builds the origin check of the upgrader. Requests
// without an Origin header (non-browser clients) always pass.
func wsOriginValidator(allowedOrigins []string) func(*http.Request) bool {
	origins := mapset.NewSet[string]()
	for _, origin := range allowedOrigins {
		origins.Add(strings.ToLower(origin))
	}
	return func(req *http.Request) bool {
		if origins.Cardinality() == 0 {
			return true
		}
		origin := strings.ToLower(req.Header.Get("Origin"))
		if origin == "" {
			return true
		}
		return origins.Contains(origin)
	}
}

// wsConn adapts a websocket connection to the codec's deadline surface.
type wsConn struct {
	conn *websocket.Conn
}

func (w wsConn) SetDeadline(t time.Time) error {
	if err := w.conn.SetReadDeadline(t); err != nil {
		return err
	}
	return w.conn.SetWriteDeadline(t)
}

func (w wsConn) Close() error { return w.conn.Close() }

func newWebsocketCodec(conn *websocket.Conn) *jsonCodec {
	conn.SetReadLimit(wsMessageSizeLimit)
	encode := func(v interface{}) error { return conn.WriteJSON(v) }
	decode := func(v interface{}) error { return conn.ReadJSON(v) }
	return newFuncCodec(wsConn{conn}, encode, decode, conn.RemoteAddr().String())
}

// DialWebsocketCodec connects to a registry's websocket endpoint and returns
// a raw codec speaking the same Message protocol as the TCP transport.
func DialWebsocketCodec(endpoint string) (*jsonCodec, error) {
	conn, _, err := websocket.DefaultDialer.Dial(endpoint, nil)
	if err != nil {
		return nil, wrapConnError("dial "+endpoint, err)
	}
	dialMeter.Mark(1)
	return newWebsocketCodec(conn), nil
}
