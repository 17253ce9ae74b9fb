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
	"testing"

	"github.com/twinvault/go-twinvault/accountdb"
	"github.com/twinvault/go-twinvault/core/types"
	"github.com/twinvault/go-twinvault/event"
)

type recordedNote struct {
	message string
	level   string
}

type recordingCallback struct {
	mu    sync.Mutex
	notes []recordedNote
}

func (r *recordingCallback) Notify(message, level string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, recordedNote{message, level})
	return nil
}

func (r *recordingCallback) all() []recordedNote {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedNote(nil), r.notes...)
}

// newExecStore seeds two users with one card each: 111111/1234 holding 1000
// and 222222/5678 holding 0.
func newExecStore(t *testing.T) *accountdb.Store {
	t.Helper()
	store, err := accountdb.OpenMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	id1, err := store.RegisterUser("Nguyễn Văn A", "01/01/1990", "0901234567", "012345678901")
	if err != nil {
		t.Fatalf("register user: %v", err)
	}
	if err := store.RegisterCard("111111", "1234", 1000, id1); err != nil {
		t.Fatalf("register card: %v", err)
	}
	id2, err := store.RegisterUser("Trần Thị B", "02/02/1992", "0907654321", "098765432109")
	if err != nil {
		t.Fatalf("register user: %v", err)
	}
	if err := store.RegisterCard("222222", "5678", 0, id2); err != nil {
		t.Fatalf("register card: %v", err)
	}
	return store
}

func newTestExecutor(t *testing.T, peerID int) (*Executor, *accountdb.Store) {
	t.Helper()
	store := newExecStore(t)
	exec, err := NewExecutor(peerID, store, nil)
	if err != nil {
		t.Fatalf("new executor: %v", err)
	}
	return exec, store
}

func checkBalance(t *testing.T, store *accountdb.Store, card string, want int64) {
	t.Helper()
	got, err := store.CheckBalance(card)
	if err != nil {
		t.Fatalf("check balance %s: %v", card, err)
	}
	if got != want {
		t.Fatalf("balance of %s: got %d, want %d", card, got, want)
	}
}

func TestExecSuccessNotifiesLocal(t *testing.T) {
	exec, store := newTestExecutor(t, 1)
	cb := new(recordingCallback)
	cmd := depositCmd(1, "111111", 500)
	cmd.Callback = cb

	executed := exec.ExecDirect([]*types.Command{cmd})
	if len(executed) != 1 {
		t.Fatalf("executed %d commands, want 1", len(executed))
	}
	if cmd.Seq != 1 {
		t.Fatalf("local command seq: got %d, want 1", cmd.Seq)
	}
	checkBalance(t, store, "111111", 1500)

	notes := cb.all()
	if len(notes) != 1 {
		t.Fatalf("got %d notifications, want 1", len(notes))
	}
	if notes[0].message != MsgTransactionOK || notes[0].level != types.LevelSuccess {
		t.Fatalf("notification: got %q/%q", notes[0].message, notes[0].level)
	}
}

func TestExecDomainErrorNotifies(t *testing.T) {
	exec, store := newTestExecutor(t, 1)
	cb := new(recordingCallback)
	cmd := &types.Command{
		Kind:       types.CmdWithdraw,
		PeerID:     1,
		CardNumber: "111111",
		Amount:     5000,
		Callback:   cb,
	}

	executed := exec.ExecDirect([]*types.Command{cmd})
	if len(executed) != 0 {
		t.Fatalf("rejected command in executed batch: %d", len(executed))
	}
	if cmd.Seq != 0 {
		t.Fatalf("rejected command got seq %d", cmd.Seq)
	}
	checkBalance(t, store, "111111", 1000)

	notes := cb.all()
	if len(notes) != 1 {
		t.Fatalf("got %d notifications, want 1", len(notes))
	}
	if notes[0].message != accountdb.MsgInsufficientFunds || notes[0].level != types.LevelError {
		t.Fatalf("notification: got %q/%q", notes[0].message, notes[0].level)
	}
}

func TestExecReplicatedSkipsCallback(t *testing.T) {
	exec, store := newTestExecutor(t, 1)
	cb := new(recordingCallback)
	cmd := depositCmd(2, "222222", 700)
	cmd.Seq = 1
	cmd.Callback = cb

	if executed := exec.ExecDirect([]*types.Command{cmd}); len(executed) != 1 {
		t.Fatalf("executed %d commands, want 1", len(executed))
	}
	checkBalance(t, store, "222222", 700)
	if notes := cb.all(); len(notes) != 0 {
		t.Fatalf("replicated command notified the callback: %v", notes)
	}

	// Redelivery of the same batch after a lost ack must be a no-op.
	if executed := exec.ExecDirect([]*types.Command{cmd}); len(executed) != 0 {
		t.Fatalf("replayed command executed again")
	}
	checkBalance(t, store, "222222", 700)
}

func TestExecReplayFiltersBySeq(t *testing.T) {
	exec, store := newTestExecutor(t, 1)

	batch := make([]*types.Command, 3)
	for i := range batch {
		batch[i] = depositCmd(2, "222222", 100)
		batch[i].Seq = uint64(i + 1)
	}
	exec.ExecDirect(batch)
	checkBalance(t, store, "222222", 300)

	// Overlapping redelivery: seq 2 and 3 are known, only 4 is new.
	overlap := []*types.Command{batch[1], batch[2], depositCmd(2, "222222", 100)}
	overlap[2].Seq = 4
	if executed := exec.ExecDirect(overlap); len(executed) != 1 {
		t.Fatalf("executed %d of the overlapping batch, want 1", len(executed))
	}
	checkBalance(t, store, "222222", 400)
}

func TestExecSeqZeroAlwaysApplies(t *testing.T) {
	exec, store := newTestExecutor(t, 1)

	// Unstamped commands carry no replay information and must always apply.
	first := depositCmd(2, "222222", 100)
	second := depositCmd(2, "222222", 100)
	exec.ExecDirect([]*types.Command{first})
	exec.ExecDirect([]*types.Command{second})
	checkBalance(t, store, "222222", 200)
}

func TestExecSeqResumesAfterRestart(t *testing.T) {
	exec, store := newTestExecutor(t, 1)
	exec.ExecDirect([]*types.Command{depositCmd(1, "111111", 10), depositCmd(1, "111111", 20)})

	restarted, err := NewExecutor(1, store, nil)
	if err != nil {
		t.Fatalf("restart executor: %v", err)
	}
	cmd := depositCmd(1, "111111", 30)
	restarted.ExecDirect([]*types.Command{cmd})
	if cmd.Seq != 3 {
		t.Fatalf("seq after restart: got %d, want 3", cmd.Seq)
	}
	checkBalance(t, store, "111111", 1060)
}

func TestExecUnknownKindDropped(t *testing.T) {
	exec, store := newTestExecutor(t, 1)
	cb := new(recordingCallback)
	cmd := &types.Command{Kind: "mint", PeerID: 1, CardNumber: "111111", Amount: 100, Callback: cb}

	if executed := exec.ExecDirect([]*types.Command{cmd}); len(executed) != 0 {
		t.Fatalf("unknown command kind executed")
	}
	checkBalance(t, store, "111111", 1000)
	if notes := cb.all(); len(notes) != 0 {
		t.Fatalf("unknown command kind notified the callback: %v", notes)
	}
}

func TestExecMixedBatch(t *testing.T) {
	exec, store := newTestExecutor(t, 1)
	cb := new(recordingCallback)

	deposit := depositCmd(1, "111111", 500)
	deposit.Callback = cb
	overdraw := &types.Command{Kind: types.CmdWithdraw, PeerID: 1, CardNumber: "111111", Amount: 2000, Callback: cb}
	transfer := &types.Command{Kind: types.CmdTransfer, PeerID: 1, CardNumber: "111111", ToCard: "222222", Amount: 300, Callback: cb}

	executed := exec.ExecDirect([]*types.Command{deposit, overdraw, transfer})
	if len(executed) != 2 {
		t.Fatalf("executed %d commands, want 2", len(executed))
	}
	if executed[0] != deposit || executed[1] != transfer {
		t.Fatal("executed batch out of order")
	}
	checkBalance(t, store, "111111", 1200)
	checkBalance(t, store, "222222", 300)

	notes := cb.all()
	if len(notes) != 3 {
		t.Fatalf("got %d notifications, want 3", len(notes))
	}
	wantLevels := []string{types.LevelSuccess, types.LevelError, types.LevelSuccess}
	for i, want := range wantLevels {
		if notes[i].level != want {
			t.Errorf("notification %d: level %q, want %q", i, notes[i].level, want)
		}
	}
	if notes[1].message != accountdb.MsgInsufficientFunds {
		t.Errorf("overdraw notification: got %q", notes[1].message)
	}
}

func TestExecRegisterCommands(t *testing.T) {
	exec, store := newTestExecutor(t, 1)

	batch := []*types.Command{
		{Kind: types.CmdRegisterUser, PeerID: 2, Seq: 1, Name: "Lê Văn C", DOB: "03/03/1993", Phone: "0911111111", CitizenID: "111122223333"},
		{Kind: types.CmdRegisterCard, PeerID: 2, Seq: 2, CardNumber: "333333", PIN: "9999", Balance: 50, OwnerID: 3},
	}
	if executed := exec.ExecDirect(batch); len(executed) != 2 {
		t.Fatalf("executed %d commands, want 2", len(executed))
	}

	users, err := store.GetAllUsers()
	if err != nil {
		t.Fatalf("get users: %v", err)
	}
	if len(users) != 3 {
		t.Fatalf("got %d users, want 3", len(users))
	}
	if _, err := store.Login("333333", "9999"); err != nil {
		t.Fatalf("login with replicated card: %v", err)
	}
	checkBalance(t, store, "333333", 50)
}

func TestExecAppliedFeed(t *testing.T) {
	exec, _ := newTestExecutor(t, 1)
	ch := make(chan *types.Command, 2)
	sub := exec.SubscribeApplied(ch)
	defer sub.Unsubscribe()

	cb := new(recordingCallback)
	cmd := depositCmd(1, "111111", 500)
	cmd.Callback = cb
	exec.ExecDirect([]*types.Command{cmd})

	select {
	case got := <-ch:
		if got.Kind != types.CmdDeposit || got.Seq != 1 {
			t.Fatalf("applied event: kind %q seq %d", got.Kind, got.Seq)
		}
		if got.Callback != nil {
			t.Fatal("applied event leaked the callback")
		}
	default:
		t.Fatal("no applied event delivered")
	}
}

func TestExecNotifyThroughEmitter(t *testing.T) {
	store := newExecStore(t)
	emitter := event.NewEmitter()
	emitter.Start()
	exec, err := NewExecutor(1, store, emitter)
	if err != nil {
		t.Fatalf("new executor: %v", err)
	}

	cb := new(recordingCallback)
	cmd := depositCmd(1, "111111", 500)
	cmd.Callback = cb
	exec.ExecDirect([]*types.Command{cmd})

	// Stop drains the emitter queue, so the notification has run after it.
	emitter.Stop()
	notes := cb.all()
	if len(notes) != 1 || notes[0].message != MsgTransactionOK {
		t.Fatalf("emitter-routed notification: got %v", notes)
	}
}
