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
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	log "github.com/inconshreveable/log15"

	"github.com/twinvault/go-twinvault/accountdb"
	"github.com/twinvault/go-twinvault/core"
	"github.com/twinvault/go-twinvault/core/types"
	"github.com/twinvault/go-twinvault/rmi"
)

// UserAPI is the per-session surface, bound under the session id returned by
// login. Reads are served directly; writes are queued and acknowledged
// through the callback once the token holder applies them.
type UserAPI interface {
	GetBalance() (int64, error)
	GetInfo() (*types.User, error)
	GetTransactionHistory() ([]*types.Transaction, error)
	Deposit(amount int64, callback types.Notifier) error
	Withdraw(amount int64, callback types.Notifier) error
	Transfer(toCard string, amount int64, callback types.Notifier) error
	ChangePIN(newPIN string, callback types.Notifier) error
	Logout(callback types.Notifier) error
}

// UserService serves one authenticated session for one card.
type UserService struct {
	rmi.Object
	log      log.Logger
	peerID   int
	card     string
	user     types.User
	store    accountdb.Reader
	queue    *core.CommandQueue
	registry *rmi.Registry
	sessions mapset.Set[string]
}

func newUserService(auth *AuthService, user *types.User) *UserService {
	return &UserService{
		log:      log.New("module", "session", "card", user.CardNumber),
		peerID:   auth.peerID,
		card:     user.CardNumber,
		user:     *user,
		store:    auth.store,
		queue:    auth.queue,
		registry: auth.registry,
		sessions: auth.sessions,
	}
}

func (s *UserService) RemoteInterface() interface{} { return (*UserAPI)(nil) }

// GetBalance needs no token and may race a concurrent write on the same
// card; the caller sees pre- or post-state.
func (s *UserService) GetBalance() (int64, error) {
	return s.store.CheckBalance(s.card)
}

// GetInfo returns the owner record captured at login.
func (s *UserService) GetInfo() (*types.User, error) {
	info := s.user
	return &info, nil
}

func (s *UserService) GetTransactionHistory() ([]*types.Transaction, error) {
	return s.store.GetTransactionHistory(s.card)
}

func (s *UserService) Deposit(amount int64, callback types.Notifier) error {
	if amount <= 0 {
		notifyClient(s.log, callback, accountdb.MsgBadAmount, types.LevelError)
		return nil
	}
	s.enqueue(&types.Command{Kind: types.CmdDeposit, CardNumber: s.card, Amount: amount, Callback: callback})
	return nil
}

func (s *UserService) Withdraw(amount int64, callback types.Notifier) error {
	if amount <= 0 {
		notifyClient(s.log, callback, accountdb.MsgBadAmount, types.LevelError)
		return nil
	}
	s.enqueue(&types.Command{Kind: types.CmdWithdraw, CardNumber: s.card, Amount: amount, Callback: callback})
	return nil
}

func (s *UserService) Transfer(toCard string, amount int64, callback types.Notifier) error {
	if amount <= 0 {
		notifyClient(s.log, callback, accountdb.MsgBadAmount, types.LevelError)
		return nil
	}
	s.enqueue(&types.Command{Kind: types.CmdTransfer, CardNumber: s.card, ToCard: toCard, Amount: amount, Callback: callback})
	return nil
}

// ChangePIN leaves PIN format checks to the writer so both peers reject the
// same inputs; the verdict arrives on the callback.
func (s *UserService) ChangePIN(newPIN string, callback types.Notifier) error {
	s.enqueue(&types.Command{Kind: types.CmdChangePIN, CardNumber: s.card, NewPIN: newPIN, Callback: callback})
	return nil
}

// Logout unbinds the session; later calls on it miss with a lookup error.
func (s *UserService) Logout(callback types.Notifier) error {
	session := s.ExportedName()
	if err := s.registry.Unbind(session); err != nil && !rmi.IsNotFound(err) {
		s.log.Warn("Session unbind failed", "err", err)
	}
	s.sessions.Remove(session)
	sessionGauge.Update(int64(s.sessions.Cardinality()))
	s.log.Info("Session closed")
	notifyClient(s.log, callback, MsgLogout, types.LevelSuccess)
	return nil
}

// enqueue stamps origin and wall clock and hands the command to the worker.
func (s *UserService) enqueue(cmd *types.Command) {
	cmd.PeerID = s.peerID
	cmd.Timestamp = time.Now().UnixMilli()
	s.queue.Add(cmd)
}
