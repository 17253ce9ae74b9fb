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

import "encoding/binary"

// Key layout. Record values are JSON, counters and index targets are 8-byte
// big-endian integers. Card numbers are digit strings, the ':' terminator
// keeps one card's history range from swallowing a longer card number.
//
//	n:u                      next user id
//	u:  + id(8)              user record
//	up: + phone              phone    -> id(8)
//	uc: + citizenID          citizen  -> id(8)
//	c:  + cardNumber         card record
//	ci: + id(8) + cardNumber cards-by-owner index
//	t:  + cardNumber + ':' + n(8)  transaction n of the card
//	tn: + cardNumber         transaction count of the card
//	s:  + peer(8)            last applied replication seq of that origin
var (
	nextUserIDKey     = []byte("n:u")
	userPrefix        = []byte("u:")
	userPhonePrefix   = []byte("up:")
	userCitizenPrefix = []byte("uc:")
	cardPrefix        = []byte("c:")
	ownerCardPrefix   = []byte("ci:")
	txPrefix          = []byte("t:")
	txCountPrefix     = []byte("tn:")
	seqPrefix         = []byte("s:")
)

func encodeUint64(n uint64) []byte {
	enc := make([]byte, 8)
	binary.BigEndian.PutUint64(enc, n)
	return enc
}

func decodeUint64(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func userKey(id int64) []byte {
	return append(append([]byte{}, userPrefix...), encodeUint64(uint64(id))...)
}

func userPhoneKey(phone string) []byte {
	return append(append([]byte{}, userPhonePrefix...), phone...)
}

func userCitizenKey(citizenID string) []byte {
	return append(append([]byte{}, userCitizenPrefix...), citizenID...)
}

func cardKey(number string) []byte {
	return append(append([]byte{}, cardPrefix...), number...)
}

func ownerCardKey(owner int64, number string) []byte {
	key := append(append([]byte{}, ownerCardPrefix...), encodeUint64(uint64(owner))...)
	return append(key, number...)
}

func ownerCardIterPrefix(owner int64) []byte {
	return append(append([]byte{}, ownerCardPrefix...), encodeUint64(uint64(owner))...)
}

func txKey(card string, n uint64) []byte {
	return append(txIterPrefix(card), encodeUint64(n)...)
}

func txIterPrefix(card string) []byte {
	key := append(append([]byte{}, txPrefix...), card...)
	return append(key, ':')
}

func txCountKey(card string) []byte {
	return append(append([]byte{}, txCountPrefix...), card...)
}

func seqKey(peer int) []byte {
	return append(append([]byte{}, seqPrefix...), encodeUint64(uint64(peer))...)
}
