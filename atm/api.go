// Copyright 2025 The go-twinvault Authors
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

package atm

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	log "github.com/inconshreveable/log15"
	metrics "github.com/rcrowley/go-metrics"

	"github.com/twinvault/go-twinvault/rmi"
)

// StatusReport is the answer of the HTTP /status endpoint and the base of
// the teller's status command.
type StatusReport struct {
	PeerID      int                    `json:"peer_id"`
	HasToken    bool                   `json:"has_token"`
	PeerDemand  bool                   `json:"peer_demanding"`
	QueueDepth  int                    `json:"queue_depth"`
	PendingSync int                    `json:"pending_sync"`
	Sessions    int                    `json:"sessions"`
	Services    []string               `json:"services"`
	Metrics     map[string]interface{} `json:"metrics"`
}

// Status snapshots the peer for operators and tests.
func (n *Node) Status() *StatusReport {
	return &StatusReport{
		PeerID:      n.cfg.Node.PeerID,
		HasToken:    n.coord.TokenStatus(),
		PeerDemand:  n.coord.PeerDemanding(),
		QueueDepth:  n.queue.Len(),
		PendingSync: n.coord.PendingSyncCount(),
		Sessions:    n.auth.SessionCount(),
		Services:    n.registry.List(),
		Metrics:     metricsSnapshot(),
	}
}

func (n *Node) statusHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(n.Status()); err != nil {
		n.log.Debug("Status encode failed", "err", err)
	}
}

// metricsSnapshot flattens the default registry into JSON-friendly values.
func metricsSnapshot() map[string]interface{} {
	out := make(map[string]interface{})
	metrics.DefaultRegistry.Each(func(name string, m interface{}) {
		switch v := m.(type) {
		case metrics.Counter:
			out[name] = v.Count()
		case metrics.Gauge:
			out[name] = v.Value()
		case metrics.Meter:
			snap := v.Snapshot()
			out[name] = map[string]interface{}{"count": snap.Count(), "rate1": snap.Rate1()}
		case metrics.Timer:
			snap := v.Snapshot()
			out[name] = map[string]interface{}{"count": snap.Count(), "mean": snap.Mean()}
		}
	})
	return out
}

// httpEndpoint serves /status and the websocket transport on one listener.
type httpEndpoint struct {
	log    log.Logger
	server *http.Server
	addr   net.Addr
}

func newHTTPEndpoint(n *Node, cfg HTTPConfig) *httpEndpoint {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", n.statusHandler)

	var handler http.Handler = rmi.NewWebsocketUpgradeHandler(mux, n.registry.WebsocketHandler(cfg.CORSDomains))
	handler = rmi.NewCORSHandler(handler, cfg.CORSDomains)
	return &httpEndpoint{
		log: log.New("module", "http", "peer", n.cfg.Node.PeerID),
		server: &http.Server{
			Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

func (h *httpEndpoint) start() error {
	ln, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return err
	}
	h.addr = ln.Addr()
	h.log.Info("HTTP endpoint opened", "addr", h.addr)
	go func() {
		if err := h.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			h.log.Warn("HTTP server stopped", "err", err)
		}
	}()
	return nil
}

func (h *httpEndpoint) stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.server.Shutdown(ctx); err != nil {
		h.log.Warn("HTTP shutdown incomplete", "err", err)
	}
}
