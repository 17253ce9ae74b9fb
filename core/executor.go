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
	"fmt"
	"sync"

	log "github.com/inconshreveable/log15"

	"github.com/twinvault/go-twinvault/accountdb"
	"github.com/twinvault/go-twinvault/core/types"
	"github.com/twinvault/go-twinvault/event"
)

// MsgTransactionOK is the success text delivered to client callbacks.
const MsgTransactionOK = "Giao dịch thành công"

// Executor applies commands against the account store. Local-origin commands
// get a fresh sequence number and a client callback on completion;
// replicated commands are deduplicated by their origin's sequence high-water
// mark and never trigger callbacks.
type Executor struct {
	log     log.Logger
	peerID  int
	store   accountdb.Writer
	emitter *event.Emitter

	// mu serializes invocations: the coordinator worker executes local
	// drains while the emitter applies inbound batches.
	mu  sync.Mutex
	seq uint64

	appliedFeed event.Feed[*types.Command]
}

// NewExecutor builds an executor for the given peer. The local sequence
// counter resumes from the store so restarts never reuse numbers. The
// emitter, when present, carries client notifications off the execution
// thread; a nil emitter delivers them inline.
func NewExecutor(peerID int, store accountdb.Writer, emitter *event.Emitter) (*Executor, error) {
	seq, err := store.LastSeq(peerID)
	if err != nil {
		return nil, err
	}
	return &Executor{
		log:     log.New("module", "executor", "peer", peerID),
		peerID:  peerID,
		store:   store,
		emitter: emitter,
		seq:     seq,
	}, nil
}

// SubscribeApplied delivers a sanitized copy of every successfully applied
// command, local and replicated alike.
func (e *Executor) SubscribeApplied(ch chan<- *types.Command) event.Subscription {
	return e.appliedFeed.Subscribe(ch)
}

// ExecDirect applies the commands in order and returns the ones that
// succeeded. Domain failures notify the originating client and are dropped;
// other failures are logged and dropped silently.
func (e *Executor) ExecDirect(cmds []*types.Command) []*types.Command {
	e.mu.Lock()
	defer e.mu.Unlock()

	var executed []*types.Command
	for _, cmd := range cmds {
		if cmd.PeerID != e.peerID && e.alreadyApplied(cmd) {
			skipMeter.Mark(1)
			e.log.Debug("Replayed command skipped", "kind", cmd.Kind, "origin", cmd.PeerID, "seq", cmd.Seq)
			continue
		}
		err := e.apply(cmd)
		if err == nil {
			execMeter.Mark(1)
			e.recordApplied(cmd)
			executed = append(executed, cmd)
			if cmd.PeerID == e.peerID {
				e.notify(cmd.Callback, MsgTransactionOK, types.LevelSuccess)
			}
			e.appliedFeed.Send(cmd.Sanitized())
			continue
		}
		execFailMeter.Mark(1)
		if accountdb.IsDomain(err) {
			e.log.Debug("Command rejected", "kind", cmd.Kind, "card", cmd.CardNumber, "reason", err)
			if cmd.PeerID == e.peerID {
				e.notify(cmd.Callback, err.Error(), types.LevelError)
			}
			continue
		}
		e.log.Error("Command failed", "kind", cmd.Kind, "card", cmd.CardNumber, "err", err)
	}
	return executed
}

func (e *Executor) apply(cmd *types.Command) error {
	switch cmd.Kind {
	case types.CmdChangePIN:
		return e.store.ChangePIN(cmd.CardNumber, cmd.NewPIN)
	case types.CmdDeposit:
		return e.store.Deposit(cmd.CardNumber, cmd.Amount, cmd.Timestamp)
	case types.CmdWithdraw:
		return e.store.Withdraw(cmd.CardNumber, cmd.Amount, cmd.Timestamp)
	case types.CmdTransfer:
		return e.store.Transfer(cmd.CardNumber, cmd.ToCard, cmd.Amount, cmd.Timestamp)
	case types.CmdRegisterUser:
		_, err := e.store.RegisterUser(cmd.Name, cmd.DOB, cmd.Phone, cmd.CitizenID)
		return err
	case types.CmdRegisterCard:
		return e.store.RegisterCard(cmd.CardNumber, cmd.PIN, cmd.Balance, cmd.OwnerID)
	default:
		return fmt.Errorf("unknown command type %q", cmd.Kind)
	}
}

// alreadyApplied reports whether a replicated command was covered by an
// earlier batch. Commands without a sequence number are never skipped.
func (e *Executor) alreadyApplied(cmd *types.Command) bool {
	if cmd.Seq == 0 {
		return false
	}
	last, err := e.store.LastSeq(cmd.PeerID)
	if err != nil {
		e.log.Error("Sequence lookup failed", "origin", cmd.PeerID, "err", err)
		return false
	}
	return cmd.Seq <= last
}

// recordApplied stamps local commands with the next sequence number and
// advances the matching origin high-water mark.
func (e *Executor) recordApplied(cmd *types.Command) {
	if cmd.PeerID == e.peerID {
		e.seq++
		cmd.Seq = e.seq
	}
	if cmd.Seq == 0 {
		return
	}
	if err := e.store.SetLastSeq(cmd.PeerID, cmd.Seq); err != nil {
		e.log.Error("Sequence update failed", "origin", cmd.PeerID, "seq", cmd.Seq, "err", err)
	}
}

func (e *Executor) notify(cb types.Notifier, msg, level string) {
	if cb == nil {
		return
	}
	deliver := func() {
		if err := cb.Notify(msg, level); err != nil {
			e.log.Warn("Client callback failed", "err", err)
		}
	}
	if e.emitter != nil {
		e.emitter.Emit(deliver)
		return
	}
	deliver()
}
