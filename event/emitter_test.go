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
	"sync"
	"testing"
)

func TestEmitterOrder(t *testing.T) {
	e := NewEmitter()
	e.Start()

	var (
		mu  sync.Mutex
		got []int
	)
	for i := 0; i < 50; i++ {
		i := i
		if !e.Emit(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}) {
			t.Fatalf("emit %d refused", i)
		}
	}
	e.Stop()

	if len(got) != 50 {
		t.Fatalf("executed %d callbacks, want 50", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("callback %d ran out of order (got %d)", i, v)
		}
	}
}

func TestEmitterSurvivesPanic(t *testing.T) {
	e := NewEmitter()
	e.Start()

	done := make(chan struct{})
	e.Emit(func() { panic("boom") })
	e.Emit(func() { close(done) })
	e.Stop()

	select {
	case <-done:
	default:
		t.Fatal("worker died after a panicking callback")
	}
}

func TestEmitterStopDrainsQueue(t *testing.T) {
	e := NewEmitter()

	var mu sync.Mutex
	count := 0
	for i := 0; i < 10; i++ {
		e.Emit(func() {
			mu.Lock()
			count++
			mu.Unlock()
		})
	}
	// Start after queueing; Stop must still run everything.
	e.Start()
	e.Stop()

	if count != 10 {
		t.Fatalf("drained %d callbacks, want 10", count)
	}
}

func TestEmitterEmitAfterStop(t *testing.T) {
	e := NewEmitter()
	e.Start()
	e.Stop()
	if e.Emit(func() {}) {
		t.Fatal("emit accepted after stop")
	}
}
