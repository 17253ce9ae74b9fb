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

package accountdb

import (
	"encoding/json"
	"strings"

	"github.com/syndtr/goleveldb/leveldb"

	"github.com/twinvault/go-twinvault/core/types"
)

// RegisterUser creates a new account holder and returns the assigned id.
// Phone and citizen id must be unique across all users.
func (s *Store) RegisterUser(name, dob, phone, citizenID string) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	writeMeter.Mark(1)

	if name == "" || phone == "" || citizenID == "" {
		return 0, s.domain(MsgBadRegistration)
	}
	if taken, err := s.has(userPhoneKey(phone)); err != nil {
		return 0, internalErr("register_user", err)
	} else if taken {
		return 0, s.domain(MsgPhoneTaken)
	}
	if taken, err := s.has(userCitizenKey(citizenID)); err != nil {
		return 0, internalErr("register_user", err)
	} else if taken {
		return 0, s.domain(MsgCitizenIDTaken)
	}

	id, err := s.nextUserID()
	if err != nil {
		return 0, err
	}
	raw, err := json.Marshal(&types.User{ID: id, Name: name, DOB: dob, Phone: phone, CitizenID: citizenID})
	if err != nil {
		return 0, internalErr("register_user", err)
	}

	batch := new(leveldb.Batch)
	batch.Put(userKey(id), raw)
	batch.Put(userPhoneKey(phone), encodeUint64(uint64(id)))
	batch.Put(userCitizenKey(citizenID), encodeUint64(uint64(id)))
	batch.Put(nextUserIDKey, encodeUint64(uint64(id)+1))
	if err := s.db.Write(batch, nil); err != nil {
		return 0, internalErr("register_user", err)
	}
	s.log.Debug("User registered", "id", id, "name", name)
	return id, nil
}

// RegisterCard issues a card to an existing user with an opening balance.
func (s *Store) RegisterCard(cardNumber, pin string, balance, ownerID int64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	writeMeter.Mark(1)

	if !validCardNumber(cardNumber) {
		return s.domain(MsgBadRegistration)
	}
	if !validPIN(pin) {
		return s.domain(MsgBadPIN)
	}
	if balance < 0 {
		return s.domain(MsgBadAmount)
	}
	if card, err := s.readCard(cardNumber); err != nil {
		return err
	} else if card != nil {
		return s.domain(MsgCardTaken)
	}
	if owner, err := s.readUser(ownerID); err != nil {
		return err
	} else if owner == nil {
		return s.domain(MsgOwnerNotFound)
	}

	raw, err := json.Marshal(&types.Card{Number: cardNumber, PIN: pin, Balance: balance, OwnerID: ownerID})
	if err != nil {
		return internalErr("register_card", err)
	}
	batch := new(leveldb.Batch)
	batch.Put(cardKey(cardNumber), raw)
	batch.Put(ownerCardKey(ownerID, cardNumber), nil)
	if err := s.db.Write(batch, nil); err != nil {
		return internalErr("register_card", err)
	}
	s.log.Debug("Card registered", "card", cardNumber, "owner", ownerID)
	return nil
}

// Deposit credits the card and appends a history entry.
func (s *Store) Deposit(cardNumber string, amount, timestamp int64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	writeMeter.Mark(1)

	if amount <= 0 {
		return s.domain(MsgBadAmount)
	}
	card, err := s.readCard(cardNumber)
	if err != nil {
		return err
	}
	if card == nil {
		return s.domain(MsgCardNotFound)
	}
	card.Balance += amount

	batch := new(leveldb.Batch)
	if err := s.putCard(batch, card); err != nil {
		return err
	}
	if err := s.appendTx(batch, cardNumber, &types.Transaction{
		Amount: amount, Kind: types.TxDeposit, ToCard: cardNumber, Timestamp: timestamp,
	}); err != nil {
		return err
	}
	if err := s.db.Write(batch, nil); err != nil {
		return internalErr("deposit_money", err)
	}
	return nil
}

// Withdraw debits the card, refusing to overdraw, and appends a history
// entry.
func (s *Store) Withdraw(cardNumber string, amount, timestamp int64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	writeMeter.Mark(1)

	if amount <= 0 {
		return s.domain(MsgBadAmount)
	}
	card, err := s.readCard(cardNumber)
	if err != nil {
		return err
	}
	if card == nil {
		return s.domain(MsgCardNotFound)
	}
	if card.Balance < amount {
		return s.domain(MsgInsufficientFunds)
	}
	card.Balance -= amount

	batch := new(leveldb.Batch)
	if err := s.putCard(batch, card); err != nil {
		return err
	}
	if err := s.appendTx(batch, cardNumber, &types.Transaction{
		Amount: amount, Kind: types.TxWithdraw, FromCard: cardNumber, Timestamp: timestamp,
	}); err != nil {
		return err
	}
	if err := s.db.Write(batch, nil); err != nil {
		return internalErr("withdraw_money", err)
	}
	return nil
}

// Transfer moves funds between two cards atomically and appends a history
// entry on both sides.
func (s *Store) Transfer(fromCard, toCard string, amount, timestamp int64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	writeMeter.Mark(1)

	if amount <= 0 {
		return s.domain(MsgBadAmount)
	}
	if fromCard == toCard {
		return s.domain(MsgSelfTransfer)
	}
	from, err := s.readCard(fromCard)
	if err != nil {
		return err
	}
	if from == nil {
		return s.domain(MsgCardNotFound)
	}
	to, err := s.readCard(toCard)
	if err != nil {
		return err
	}
	if to == nil {
		return s.domain(MsgRecipientNotFound)
	}
	if from.Balance < amount {
		return s.domain(MsgInsufficientFunds)
	}
	from.Balance -= amount
	to.Balance += amount

	batch := new(leveldb.Batch)
	if err := s.putCard(batch, from); err != nil {
		return err
	}
	if err := s.putCard(batch, to); err != nil {
		return err
	}
	if err := s.appendTx(batch, fromCard, &types.Transaction{
		Amount: amount, Kind: types.TxTransferOut, FromCard: fromCard, ToCard: toCard, Timestamp: timestamp,
	}); err != nil {
		return err
	}
	if err := s.appendTx(batch, toCard, &types.Transaction{
		Amount: amount, Kind: types.TxTransferIn, FromCard: fromCard, ToCard: toCard, Timestamp: timestamp,
	}); err != nil {
		return err
	}
	if err := s.db.Write(batch, nil); err != nil {
		return internalErr("transfer_money", err)
	}
	return nil
}

// ChangePIN replaces the card's PIN. The new PIN must differ from the
// current one.
func (s *Store) ChangePIN(cardNumber, newPIN string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	writeMeter.Mark(1)

	if !validPIN(newPIN) {
		return s.domain(MsgBadPIN)
	}
	card, err := s.readCard(cardNumber)
	if err != nil {
		return err
	}
	if card == nil {
		return s.domain(MsgCardNotFound)
	}
	if card.PIN == newPIN {
		return s.domain(MsgSamePIN)
	}
	card.PIN = newPIN

	batch := new(leveldb.Batch)
	if err := s.putCard(batch, card); err != nil {
		return err
	}
	if err := s.db.Write(batch, nil); err != nil {
		return internalErr("change_pin", err)
	}
	return nil
}

// LastSeq returns the highest replication sequence number applied for the
// given origin peer, zero when none was.
func (s *Store) LastSeq(peer int) (uint64, error) {
	raw, err := s.db.Get(seqKey(peer), nil)
	if err == leveldb.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, internalErr("last_seq", err)
	}
	return decodeUint64(raw), nil
}

// SetLastSeq records the replication high-water mark for the given origin.
func (s *Store) SetLastSeq(peer int, seq uint64) error {
	if err := s.db.Put(seqKey(peer), encodeUint64(seq), nil); err != nil {
		return internalErr("set_last_seq", err)
	}
	return nil
}

func (s *Store) domain(msg string) error {
	domainMeter.Mark(1)
	return domainErr(msg)
}

func (s *Store) has(key []byte) (bool, error) {
	return s.db.Has(key, nil)
}

func (s *Store) nextUserID() (int64, error) {
	raw, err := s.db.Get(nextUserIDKey, nil)
	if err == leveldb.ErrNotFound {
		return 1, nil
	}
	if err != nil {
		return 0, internalErr("next user id", err)
	}
	return int64(decodeUint64(raw)), nil
}

func (s *Store) putCard(batch *leveldb.Batch, card *types.Card) error {
	raw, err := json.Marshal(card)
	if err != nil {
		return internalErr("write card", err)
	}
	batch.Put(cardKey(card.Number), raw)
	return nil
}

// appendTx queues the history entry and the bumped per-card counter on the
// batch. Runs under writeMu, the read-modify-write on the counter is safe.
func (s *Store) appendTx(batch *leveldb.Batch, card string, tx *types.Transaction) error {
	n, err := s.txCount(card)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(tx)
	if err != nil {
		return internalErr("write transaction", err)
	}
	batch.Put(txKey(card, n), raw)
	batch.Put(txCountKey(card), encodeUint64(n+1))
	return nil
}

func (s *Store) txCount(card string) (uint64, error) {
	raw, err := s.db.Get(txCountKey(card), nil)
	if err == leveldb.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, internalErr("transaction count", err)
	}
	return decodeUint64(raw), nil
}

// validCardNumber accepts non-empty digit strings. The ':' exclusion is a
// schema requirement, digits satisfy it trivially.
func validCardNumber(number string) bool {
	if number == "" || strings.ContainsRune(number, ':') {
		return false
	}
	for _, r := range number {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func validPIN(pin string) bool {
	if len(pin) < 4 || len(pin) > 6 {
		return false
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
