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

package event

import (
	"runtime"
	"sync"

	log "github.com/inconshreveable/log15"
)

const emitterQueueSize = 256

// Emitter runs queued callbacks on a single worker goroutine, in submission
// order. Callbacks that panic are logged and do not kill the worker. The ATM
// services hand their user notifications to an emitter so a slow or broken
// client callback never stalls transaction processing.
type Emitter struct {
	log   log.Logger
	tasks chan func()
	quit  chan struct{}
	wg    sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewEmitter creates an idle emitter. Callbacks queue up until Start.
func NewEmitter() *Emitter {
	return &Emitter{
		log:   log.New("module", "emitter"),
		tasks: make(chan func(), emitterQueueSize),
		quit:  make(chan struct{}),
	}
}

// Start launches the worker goroutine.
func (e *Emitter) Start() {
	e.startOnce.Do(func() {
		e.wg.Add(1)
		go e.loop()
	})
}

// Emit queues fn for execution. It blocks while the queue is full and
// reports false once the emitter has been stopped.
func (e *Emitter) Emit(fn func()) bool {
	select {
	case <-e.quit:
		return false
	default:
	}
	select {
	case e.tasks <- fn:
		return true
	case <-e.quit:
		return false
	}
}

// Stop signals the worker, waits for it to finish the queue and returns.
func (e *Emitter) Stop() {
	e.stopOnce.Do(func() {
		close(e.quit)
	})
	e.wg.Wait()
}

func (e *Emitter) loop() {
	defer e.wg.Done()
	for {
		select {
		case fn := <-e.tasks:
			e.run(fn)
		case <-e.quit:
			// Drain what was queued before the stop signal.
			for {
				select {
				case fn := <-e.tasks:
					e.run(fn)
				default:
					return
				}
			}
		}
	}
}

func (e *Emitter) run(fn func()) {
	defer func() {
		if err := recover(); err != nil {
			buf := make([]byte, 64<<10)
			buf = buf[:runtime.Stack(buf, false)]
			e.log.Error("Emitted callback crashed", "err", err, "stack", string(buf))
		}
	}()
	fn()
}
