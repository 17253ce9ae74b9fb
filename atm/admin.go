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

	log "github.com/inconshreveable/log15"

	"github.com/twinvault/go-twinvault/accountdb"
	"github.com/twinvault/go-twinvault/core"
	"github.com/twinvault/go-twinvault/core/types"
	"github.com/twinvault/go-twinvault/rmi"
)

// AdminAPI is the management surface, bound under "admin" only when enabled
// by configuration. Registrations flow through the command queue so both
// replicas converge on the same user and card records.
type AdminAPI interface {
	GetUsers() ([]*types.User, error)
	GetCards(userID int64) ([]*types.Card, error)
	RegisterUser(name, dob, phone, citizenID string, callback types.Notifier) error
	RegisterCard(cardNumber, pin string, balance, ownerID int64, callback types.Notifier) error
}

type AdminService struct {
	rmi.Object
	log    log.Logger
	peerID int
	store  accountdb.Reader
	queue  *core.CommandQueue
}

func NewAdminService(peerID int, store accountdb.Reader, queue *core.CommandQueue) *AdminService {
	return &AdminService{
		log:    log.New("module", "admin", "peer", peerID),
		peerID: peerID,
		store:  store,
		queue:  queue,
	}
}

func (s *AdminService) RemoteInterface() interface{} { return (*AdminAPI)(nil) }

func (s *AdminService) GetUsers() ([]*types.User, error) {
	return s.store.GetAllUsers()
}

func (s *AdminService) GetCards(userID int64) ([]*types.Card, error) {
	return s.store.GetCardsByUserID(userID)
}

func (s *AdminService) RegisterUser(name, dob, phone, citizenID string, callback types.Notifier) error {
	s.queue.Add(&types.Command{
		Kind:      types.CmdRegisterUser,
		PeerID:    s.peerID,
		Timestamp: time.Now().UnixMilli(),
		Name:      name,
		DOB:       dob,
		Phone:     phone,
		CitizenID: citizenID,
		Callback:  callback,
	})
	return nil
}

func (s *AdminService) RegisterCard(cardNumber, pin string, balance, ownerID int64, callback types.Notifier) error {
	s.queue.Add(&types.Command{
		Kind:       types.CmdRegisterCard,
		PeerID:     s.peerID,
		Timestamp:  time.Now().UnixMilli(),
		CardNumber: cardNumber,
		PIN:        pin,
		Balance:    balance,
		OwnerID:    ownerID,
		Callback:   callback,
	})
	return nil
}
