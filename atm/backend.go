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
	"errors"
	"sync"
	"time"

	log "github.com/inconshreveable/log15"

	"github.com/twinvault/go-twinvault/accountdb"
	"github.com/twinvault/go-twinvault/core"
	"github.com/twinvault/go-twinvault/event"
	"github.com/twinvault/go-twinvault/exporter"
	"github.com/twinvault/go-twinvault/rmi"
)

var (
	ErrNodeRunning = errors.New("node already running")
	ErrNodeStopped = errors.New("node not started")
)

// Node is one peer of the twin-vault cell. It owns the account store, the
// registry serving the client and peer services, the command pipeline and
// the coordinator, plus the optional HTTP endpoint and audit exporter.
type Node struct {
	cfg Config
	log log.Logger

	store    *accountdb.Store
	registry *rmi.Registry
	queue    *core.CommandQueue
	emitter  *event.Emitter
	exec     *core.Executor
	coord    *core.Coordinator
	peers    *peerClient
	auth     *AuthService
	admin    *AdminService
	peerSvc  *PeerService
	http     *httpEndpoint
	audit    *exporter.Exporter

	mu      sync.Mutex
	running bool
	done    chan struct{}
}

// New assembles a node from cfg. Nothing listens until Start.
func New(cfg Config) (*Node, error) {
	if err := cfg.Sanitize(); err != nil {
		return nil, err
	}
	logger := log.New("peer", cfg.Node.PeerID)

	var (
		store *accountdb.Store
		err   error
	)
	if path := cfg.StorePath(); path == "" {
		store, err = accountdb.OpenMemory()
	} else {
		store, err = accountdb.Open(path)
	}
	if err != nil {
		return nil, err
	}

	registry := rmi.NewRegistry(cfg.Registry.Host, cfg.Registry.Port)
	queue := core.NewCommandQueue()
	emitter := event.NewEmitter()
	exec, err := core.NewExecutor(cfg.Node.PeerID, store, emitter)
	if err != nil {
		store.Close()
		return nil, err
	}
	peers, err := newPeerClient(cfg.PeerEndpoint(), registry)
	if err != nil {
		store.Close()
		return nil, err
	}
	coord := core.NewCoordinator(core.CoordinatorConfig{
		PeerID:         cfg.Node.PeerID,
		BootWithToken:  cfg.Node.PeerID == 1,
		PollInterval:   time.Duration(cfg.Coordinator.PollInterval),
		RequestTimeout: time.Duration(cfg.Coordinator.RequestTimeout),
	}, queue, exec, emitter, peers)

	n := &Node{
		cfg:      cfg,
		log:      logger,
		store:    store,
		registry: registry,
		queue:    queue,
		emitter:  emitter,
		exec:     exec,
		coord:    coord,
		peers:    peers,
		done:     make(chan struct{}),
	}
	n.auth = NewAuthService(cfg.Node.PeerID, store, registry, queue)
	n.peerSvc = NewPeerService(coord)
	if cfg.Node.Admin {
		n.admin = NewAdminService(cfg.Node.PeerID, store, queue)
	}
	if len(cfg.Exporter.Brokers) > 0 {
		if n.audit, err = exporter.New(cfg.Exporter, exec); err != nil {
			store.Close()
			return nil, err
		}
	}
	if cfg.HTTP.Host != "" {
		n.http = newHTTPEndpoint(n, cfg.HTTP)
	}
	return n, nil
}

// Start brings the peer online: services bound, transport listening,
// coordination running.
func (n *Node) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.running {
		return ErrNodeRunning
	}

	n.emitter.Start()
	if err := n.registry.Bind(AuthServiceName, n.auth); err != nil {
		return err
	}
	if err := n.registry.Bind(PeerServiceName, n.peerSvc); err != nil {
		return err
	}
	if n.admin != nil {
		if err := n.registry.Bind(AdminServiceName, n.admin); err != nil {
			return err
		}
	}
	if err := n.registry.Listen(true); err != nil {
		return err
	}
	if n.http != nil {
		if err := n.http.start(); err != nil {
			n.registry.Close()
			return err
		}
	}
	n.coord.Start()
	if n.audit != nil {
		n.audit.Start()
	}
	n.running = true

	host, port := n.registry.Addr()
	n.log.Info("Twin-vault peer up", "registry", Endpoint{Host: host, Port: port},
		"peer", n.cfg.PeerEndpoint(), "token", n.coord.TokenStatus())
	return nil
}

// Stop takes the peer down in reverse start order. Returns ErrNodeStopped
// on a node that is not running.
func (n *Node) Stop() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.running {
		return ErrNodeStopped
	}
	n.running = false

	if n.http != nil {
		n.http.stop()
	}
	n.registry.Close()
	n.coord.Stop()
	n.emitter.Stop()
	if n.audit != nil {
		n.audit.Stop()
	}
	n.auth.CloseSessions()
	n.peers.Close()
	if err := n.store.Close(); err != nil {
		n.log.Warn("Store close failed", "err", err)
	}
	close(n.done)
	n.log.Info("Twin-vault peer down")
	return nil
}

// Wait blocks until the node has been stopped.
func (n *Node) Wait() {
	<-n.done
}

// Addr returns the registry's listen address; the port is the effective one
// after an ephemeral listen.
func (n *Node) Addr() Endpoint {
	host, port := n.registry.Addr()
	return Endpoint{Host: host, Port: port}
}
