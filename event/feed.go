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

// Package event provides the in-process event plumbing: a typed one-to-many
// feed and a single-consumer callback emitter.
package event

import (
	"sync"

	metrics "github.com/rcrowley/go-metrics"
)

var feedDropMeter = metrics.GetOrRegisterMeter("event/feed/drops", metrics.DefaultRegistry)

// Subscription represents a stream of events. The error channel is closed
// when the subscription ends.
type Subscription interface {
	Err() <-chan error
	Unsubscribe()
}

// Feed implements one-to-many subscriptions where the carrier of events is a
// channel supplied by the subscriber. Delivery never blocks the sender: a
// subscriber whose channel is full misses the event. Size buffers generously.
//
// The zero value is ready to use.
type Feed[T any] struct {
	mu   sync.Mutex
	subs []*feedSub[T]
}

type feedSub[T any] struct {
	feed    *Feed[T]
	channel chan<- T
	errOnce sync.Once
	err     chan error
}

// Subscribe adds a channel to the feed. Future sends are delivered on the
// channel until the subscription is canceled.
func (f *Feed[T]) Subscribe(channel chan<- T) Subscription {
	sub := &feedSub[T]{feed: f, channel: channel, err: make(chan error, 1)}
	f.mu.Lock()
	f.subs = append(f.subs, sub)
	f.mu.Unlock()
	return sub
}

func (f *Feed[T]) remove(sub *feedSub[T]) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, s := range f.subs {
		if s == sub {
			f.subs = append(f.subs[:i], f.subs[i+1:]...)
			return
		}
	}
}

// Send delivers value to all subscribed channels that can take it without
// blocking and returns the number of subscribers it reached.
func (f *Feed[T]) Send(value T) (nsent int) {
	f.mu.Lock()
	subs := make([]*feedSub[T], len(f.subs))
	copy(subs, f.subs)
	f.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.channel <- value:
			nsent++
		default:
			feedDropMeter.Mark(1)
		}
	}
	return nsent
}

func (sub *feedSub[T]) Unsubscribe() {
	sub.errOnce.Do(func() {
		sub.feed.remove(sub)
		close(sub.err)
	})
}

func (sub *feedSub[T]) Err() <-chan error {
	return sub.err
}
