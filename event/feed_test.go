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
	"testing"
	"time"
)

func TestFeedDelivers(t *testing.T) {
	var feed Feed[int]
	ch1 := make(chan int, 1)
	ch2 := make(chan int, 1)
	sub1 := feed.Subscribe(ch1)
	sub2 := feed.Subscribe(ch2)
	defer sub1.Unsubscribe()
	defer sub2.Unsubscribe()

	if n := feed.Send(7); n != 2 {
		t.Fatalf("sent to %d subscribers, want 2", n)
	}
	if v := <-ch1; v != 7 {
		t.Fatalf("ch1 got %d, want 7", v)
	}
	if v := <-ch2; v != 7 {
		t.Fatalf("ch2 got %d, want 7", v)
	}
}

func TestFeedUnsubscribe(t *testing.T) {
	var feed Feed[string]
	ch := make(chan string, 1)
	sub := feed.Subscribe(ch)
	sub.Unsubscribe()

	if n := feed.Send("gone"); n != 0 {
		t.Fatalf("sent to %d subscribers after unsubscribe", n)
	}
	select {
	case <-sub.Err():
	case <-time.After(time.Second):
		t.Fatal("error channel not closed on unsubscribe")
	}
	// Unsubscribing twice is harmless.
	sub.Unsubscribe()
}

func TestFeedNeverBlocks(t *testing.T) {
	var feed Feed[int]
	full := make(chan int) // no reader, no buffer
	ok := make(chan int, 1)
	feed.Subscribe(full)
	feed.Subscribe(ok)

	done := make(chan int, 1)
	go func() { done <- feed.Send(1) }()
	select {
	case n := <-done:
		if n != 1 {
			t.Fatalf("sent to %d subscribers, want 1", n)
		}
	case <-time.After(time.Second):
		t.Fatal("send blocked on a stuck subscriber")
	}
	if v := <-ok; v != 1 {
		t.Fatalf("healthy subscriber got %d, want 1", v)
	}
}
