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

// Package core contains the replication machinery of one vault peer: the
// command queue, the command executor and the token coordinator.
package core

import (
	"sync"
	"time"

	"github.com/twinvault/go-twinvault/core/types"
)

// CommandQueue is the FIFO buffer between the service layer and the
// coordinator worker. Add never blocks; the single worker parks in
// WaitForData between drains.
type CommandQueue struct {
	mu    sync.Mutex
	items []*types.Command
	wake  chan struct{}
}

func NewCommandQueue() *CommandQueue {
	return &CommandQueue{wake: make(chan struct{}, 1)}
}

// Add enqueues cmd and wakes a parked waiter.
func (q *CommandQueue) Add(cmd *types.Command) {
	q.mu.Lock()
	q.items = append(q.items, cmd)
	queueGauge.Update(int64(len(q.items)))
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// GetAll drains the queue and returns the commands in insertion order.
func (q *CommandQueue) GetAll() []*types.Command {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	queueGauge.Update(0)
	return items
}

// Len returns the current queue depth.
func (q *CommandQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// WaitForData blocks until the queue is non-empty or the timeout elapses and
// reports whether data is available. Stale wake signals loop back into the
// wait instead of cutting the timeout short.
func (q *CommandQueue) WaitForData(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if q.Len() > 0 {
			return true
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return q.Len() > 0
		}
		timer := time.NewTimer(remaining)
		select {
		case <-q.wake:
			timer.Stop()
		case <-timer.C:
			return q.Len() > 0
		}
	}
}
