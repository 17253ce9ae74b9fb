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

// Package accountdb stores the account copy of one peer: users, cards,
// per-card transaction history and the replication high-water marks. Writes
// go through one batch per command and are serialized by the store; reads
// run concurrently with writes.
package accountdb

import (
	"encoding/json"
	"sync"

	log "github.com/inconshreveable/log15"
	metrics "github.com/rcrowley/go-metrics"
	"github.com/syndtr/goleveldb/leveldb"
	ldberrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/twinvault/go-twinvault/core/types"
)

const openFileLimit = 64

var (
	readMeter   = metrics.GetOrRegisterMeter("accountdb/reads", metrics.DefaultRegistry)
	writeMeter  = metrics.GetOrRegisterMeter("accountdb/writes", metrics.DefaultRegistry)
	domainMeter = metrics.GetOrRegisterMeter("accountdb/domainerrors", metrics.DefaultRegistry)
)

// Reader is the query surface the service layer consumes. Reads never need
// the write token and may run on either peer at any time.
type Reader interface {
	GetAllUsers() ([]*types.User, error)
	GetCardsByUserID(id int64) ([]*types.Card, error)
	Login(cardNumber, pin string) (*types.User, error)
	CheckBalance(cardNumber string) (int64, error)
	GetTransactionHistory(cardNumber string) ([]*types.Transaction, error)
}

// Writer is the mutation surface the command executor consumes. Every method
// applies one command atomically and enforces the business rules, reporting
// violations as *DomainError.
type Writer interface {
	RegisterUser(name, dob, phone, citizenID string) (int64, error)
	RegisterCard(cardNumber, pin string, balance, ownerID int64) error
	Deposit(cardNumber string, amount, timestamp int64) error
	Withdraw(cardNumber string, amount, timestamp int64) error
	Transfer(fromCard, toCard string, amount, timestamp int64) error
	ChangePIN(cardNumber, newPIN string) error
	LastSeq(peer int) (uint64, error)
	SetLastSeq(peer int, seq uint64) error
}

// Store is the LevelDB-backed account database of one peer. It implements
// both Reader and Writer.
type Store struct {
	db  *leveldb.DB
	log log.Logger

	// writeMu serializes writers; each write is one batch. Readers go
	// straight to the database.
	writeMu sync.Mutex
}

// Open opens (or creates) the store at path, recovering a corrupted database
// in place when possible.
func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{
		OpenFilesCacheCapacity: openFileLimit,
	})
	if _, corrupted := err.(*ldberrors.ErrCorrupted); corrupted {
		db, err = leveldb.RecoverFile(path, nil)
	}
	if err != nil {
		return nil, err
	}
	s := &Store{db: db, log: log.New("module", "accountdb")}
	s.log.Info("Account store opened", "path", path)
	return s, nil
}

// OpenMemory opens a fresh in-memory store. Used by tests and the dev mode.
func OpenMemory() (*Store, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, log: log.New("module", "accountdb")}, nil
}

// Close flushes and closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetAllUsers returns every registered user, ordered by id.
func (s *Store) GetAllUsers() ([]*types.User, error) {
	readMeter.Mark(1)
	var users []*types.User
	it := s.db.NewIterator(util.BytesPrefix(userPrefix), nil)
	defer it.Release()
	for it.Next() {
		user := new(types.User)
		if err := json.Unmarshal(it.Value(), user); err != nil {
			return nil, internalErr("get_all_users", err)
		}
		users = append(users, user)
	}
	if err := it.Error(); err != nil {
		return nil, internalErr("get_all_users", err)
	}
	return users, nil
}

// GetCardsByUserID returns the cards owned by the given user, PINs included;
// callers expose only what their interface needs.
func (s *Store) GetCardsByUserID(id int64) ([]*types.Card, error) {
	readMeter.Mark(1)
	prefix := ownerCardIterPrefix(id)
	var numbers []string
	it := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	for it.Next() {
		numbers = append(numbers, string(it.Key()[len(prefix):]))
	}
	err := it.Error()
	it.Release()
	if err != nil {
		return nil, internalErr("get_cards_by_user_id", err)
	}
	cards := make([]*types.Card, 0, len(numbers))
	for _, number := range numbers {
		card, err := s.readCard(number)
		if err != nil {
			return nil, err
		}
		if card != nil {
			cards = append(cards, card)
		}
	}
	return cards, nil
}

// Login verifies the card/PIN pair and returns the owner's session view with
// the card number filled in. Bad card and bad PIN are indistinguishable to
// the caller.
func (s *Store) Login(cardNumber, pin string) (*types.User, error) {
	readMeter.Mark(1)
	card, err := s.readCard(cardNumber)
	if err != nil {
		return nil, err
	}
	if card == nil || card.PIN != pin {
		domainMeter.Mark(1)
		return nil, domainErr(MsgBadCredentials)
	}
	user, err := s.readUser(card.OwnerID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, internalErr("login", errDanglingOwner(cardNumber))
	}
	view := *user
	view.CardNumber = cardNumber
	return &view, nil
}

// CheckBalance returns the current balance of the card.
func (s *Store) CheckBalance(cardNumber string) (int64, error) {
	readMeter.Mark(1)
	card, err := s.readCard(cardNumber)
	if err != nil {
		return 0, err
	}
	if card == nil {
		domainMeter.Mark(1)
		return 0, domainErr(MsgCardNotFound)
	}
	return card.Balance, nil
}

// GetTransactionHistory returns the card's history oldest first.
func (s *Store) GetTransactionHistory(cardNumber string) ([]*types.Transaction, error) {
	readMeter.Mark(1)
	var txs []*types.Transaction
	it := s.db.NewIterator(util.BytesPrefix(txIterPrefix(cardNumber)), nil)
	defer it.Release()
	for it.Next() {
		tx := new(types.Transaction)
		if err := json.Unmarshal(it.Value(), tx); err != nil {
			return nil, internalErr("get_transaction_history", err)
		}
		txs = append(txs, tx)
	}
	if err := it.Error(); err != nil {
		return nil, internalErr("get_transaction_history", err)
	}
	return txs, nil
}

// readCard returns nil without error when the card does not exist.
func (s *Store) readCard(number string) (*types.Card, error) {
	raw, err := s.db.Get(cardKey(number), nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, internalErr("read card", err)
	}
	card := new(types.Card)
	if err := json.Unmarshal(raw, card); err != nil {
		return nil, internalErr("read card", err)
	}
	return card, nil
}

// readUser returns nil without error when the user does not exist.
func (s *Store) readUser(id int64) (*types.User, error) {
	raw, err := s.db.Get(userKey(id), nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, internalErr("read user", err)
	}
	user := new(types.User)
	if err := json.Unmarshal(raw, user); err != nil {
		return nil, internalErr("read user", err)
	}
	return user, nil
}
