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

package core

import (
	"sync"
	"time"

	log "github.com/inconshreveable/log15"

	"github.com/twinvault/go-twinvault/core/types"
	"github.com/twinvault/go-twinvault/event"
	"github.com/twinvault/go-twinvault/rmi"
)

// Coordinator tunables.
const (
	DefaultPollInterval   = time.Second
	DefaultRequestTimeout = 5 * time.Second

	minPollInterval = 100 * time.Millisecond
	maxPollInterval = 2 * time.Second
)

// PeerCaller is the outbound RPC surface to the other peer. Connection-class
// failures must surface as rmi connection errors so the coordinator can tell
// a dead peer from a slow one.
type PeerCaller interface {
	RequestToken() (bool, error)
	ReceiveSync(logs []*types.Command, passToken bool) (bool, error)
}

// CoordinatorConfig carries the per-peer coordination settings.
type CoordinatorConfig struct {
	PeerID         int
	BootWithToken  bool
	PollInterval   time.Duration
	RequestTimeout time.Duration
}

func (cfg *CoordinatorConfig) sanitize() {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.PollInterval < minPollInterval {
		cfg.PollInterval = minPollInterval
	}
	if cfg.PollInterval > maxPollInterval {
		cfg.PollInterval = maxPollInterval
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
}

// Coordinator owns the write token of the two-peer cell. At most one peer
// holds the token outside of failover; only the holder drains the command
// queue into the executor. Executed commands buffer in pendingSync until the
// peer acknowledges a sync.
//
// The mutex guards the token state and is never held across network or
// database calls. pendingSync is mutated only by the worker goroutine.
type Coordinator struct {
	log     log.Logger
	cfg     CoordinatorConfig
	queue   *CommandQueue
	exec    *Executor
	emitter *event.Emitter
	peer    PeerCaller

	mu            sync.Mutex
	hasToken      bool
	peerDemanding bool
	pendingSync   []*types.Command
	tokenSet      bool
	tokenCh       chan struct{}

	quit     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewCoordinator wires the coordinator. The emitter applies inbound sync
// batches off the RPC path; a nil emitter applies them inline.
func NewCoordinator(cfg CoordinatorConfig, queue *CommandQueue, exec *Executor, emitter *event.Emitter, peer PeerCaller) *Coordinator {
	cfg.sanitize()
	c := &Coordinator{
		log:     log.New("module", "coordinator", "peer", cfg.PeerID),
		cfg:     cfg,
		queue:   queue,
		exec:    exec,
		emitter: emitter,
		peer:    peer,
		tokenCh: make(chan struct{}),
		quit:    make(chan struct{}),
	}
	if cfg.BootWithToken {
		c.hasToken = true
		c.setTokenLocked()
		c.log.Info("Booting as token holder")
	}
	return c
}

// Start launches the worker goroutine.
func (c *Coordinator) Start() {
	c.wg.Add(1)
	go c.loop()
}

// Stop terminates the worker and waits for it.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() { close(c.quit) })
	c.wg.Wait()
}

// TokenStatus reports whether this peer currently holds the write token.
func (c *Coordinator) TokenStatus() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasToken
}

// PeerDemanding reports whether the peer has an unserviced token request.
func (c *Coordinator) PeerDemanding() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerDemanding
}

// PendingSyncCount returns the number of executed commands awaiting peer
// acknowledgement.
func (c *Coordinator) PendingSyncCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pendingSync)
}

// HandleRequestToken services an inbound request_token call. It only flags
// the demand; the worker passes the token on its next wake.
func (c *Coordinator) HandleRequestToken() bool {
	c.mu.Lock()
	c.peerDemanding = true
	c.mu.Unlock()
	c.log.Debug("Peer requested token")
	return true
}

// HandleReceiveSync services an inbound receive_sync call. The batch is
// applied asynchronously so the caller gets its acknowledgement promptly.
// A token riding along becomes visible only after the batch has applied,
// so local commands never execute against pre-sync state.
func (c *Coordinator) HandleReceiveSync(logs []*types.Command, passToken bool) bool {
	if len(logs) > 0 {
		c.log.Debug("Sync batch received", "count", len(logs))
		apply := func() { c.exec.ExecDirect(logs) }
		if c.emitter != nil {
			c.emitter.Emit(apply)
			if passToken {
				c.emitter.Emit(c.acceptToken)
			}
			return true
		}
		apply()
	}
	if passToken {
		c.acceptToken()
	}
	return true
}

func (c *Coordinator) acceptToken() {
	c.mu.Lock()
	c.hasToken = true
	c.peerDemanding = false
	c.setTokenLocked()
	c.mu.Unlock()
	c.log.Debug("Token received from peer")
}

// loop is the worker. Every iteration wakes within the poll interval, even
// when idle, so a pending peer demand is honoured promptly.
func (c *Coordinator) loop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.quit:
			return
		default:
		}
		c.queue.WaitForData(c.cfg.PollInterval)
		select {
		case <-c.quit:
			return
		default:
		}

		c.mu.Lock()
		hasToken, demanding := c.hasToken, c.peerDemanding
		c.mu.Unlock()
		empty := c.queue.Len() == 0

		switch {
		case hasToken && demanding && empty:
			c.syncAndPassToken()

		case !empty:
			if !hasToken && !c.requestTokenLogic() {
				continue
			}
			cmds := c.queue.GetAll()
			executed := c.exec.ExecDirect(cmds)
			if len(executed) > 0 {
				c.mu.Lock()
				c.pendingSync = append(c.pendingSync, executed...)
				pendingGauge.Update(int64(len(c.pendingSync)))
				c.mu.Unlock()
			}

			c.mu.Lock()
			demanding = c.peerDemanding
			pending := len(c.pendingSync)
			c.mu.Unlock()
			if demanding {
				c.syncAndPassToken()
			} else if pending > 0 {
				c.syncDataOnly()
			}
		}
	}
}

// requestTokenLogic acquires the token before a local drain. A dead peer
// (connection-class error) forfeits the token immediately; a live peer is
// given RequestTimeout to pass it.
func (c *Coordinator) requestTokenLogic() bool {
	if _, err := c.peer.RequestToken(); err != nil {
		if rmi.IsConnError(err) {
			c.log.Warn("Peer unreachable, seizing token", "err", err)
			c.mu.Lock()
			c.hasToken = true
			c.peerDemanding = false
			c.setTokenLocked()
			c.mu.Unlock()
			tokenSeizeCounter.Inc(1)
			return true
		}
		c.log.Error("Token request failed", "err", err)
		return false
	}

	c.mu.Lock()
	ch := c.tokenCh
	c.mu.Unlock()
	timer := time.NewTimer(c.cfg.RequestTimeout)
	defer timer.Stop()
	select {
	case <-ch:
		return true
	case <-timer.C:
		c.log.Debug("Token wait timed out")
		return false
	case <-c.quit:
		return false
	}
}

// syncAndPassToken pushes the sanitized pending logs together with the
// token, trimming only the acknowledged prefix on success.
func (c *Coordinator) syncAndPassToken() {
	c.mu.Lock()
	logs := types.SanitizeCommands(c.pendingSync)
	c.mu.Unlock()

	if _, err := c.peer.ReceiveSync(logs, true); err != nil {
		syncFailMeter.Mark(1)
		if rmi.IsConnError(err) {
			c.mu.Lock()
			c.peerDemanding = false
			c.mu.Unlock()
			c.log.Warn("Token pass failed, peer unreachable, keeping token", "err", err)
		} else {
			c.log.Error("Token pass failed", "err", err)
		}
		return
	}

	c.mu.Lock()
	c.hasToken = false
	c.peerDemanding = false
	c.pendingSync = c.pendingSync[len(logs):]
	pendingGauge.Update(int64(len(c.pendingSync)))
	c.clearTokenLocked()
	c.mu.Unlock()
	tokenPassCounter.Inc(1)
	c.log.Debug("Token passed", "synced", len(logs))
}

// syncDataOnly replicates the pending logs while keeping the token.
func (c *Coordinator) syncDataOnly() {
	c.mu.Lock()
	logs := types.SanitizeCommands(c.pendingSync)
	c.mu.Unlock()
	if len(logs) == 0 {
		return
	}

	if _, err := c.peer.ReceiveSync(logs, false); err != nil {
		syncFailMeter.Mark(1)
		c.log.Debug("Data sync failed, keeping logs", "count", len(logs), "err", err)
		return
	}

	c.mu.Lock()
	c.pendingSync = c.pendingSync[len(logs):]
	pendingGauge.Update(int64(len(c.pendingSync)))
	c.mu.Unlock()
	c.log.Debug("Logs replicated", "count", len(logs))
}

// setTokenLocked marks the token event. Callers hold c.mu.
func (c *Coordinator) setTokenLocked() {
	if !c.tokenSet {
		c.tokenSet = true
		close(c.tokenCh)
	}
}

// clearTokenLocked resets the token event for the next handover. Callers
// hold c.mu.
func (c *Coordinator) clearTokenLocked() {
	if c.tokenSet {
		c.tokenSet = false
		c.tokenCh = make(chan struct{})
	}
}
