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

// Package types holds the records shared between the vault services, the
// account store and the replication layer.
package types

// User is an account holder. CardNumber is only set on the session view
// returned by login; the stored record leaves it empty.
type User struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	DOB        string `json:"dob"`
	Phone      string `json:"phone"`
	CitizenID  string `json:"citizen_id"`
	CardNumber string `json:"card_number,omitempty"`
}

// Card is one payment card with its balance. Amounts are integral units of
// the local currency, fractions do not exist in the domain.
type Card struct {
	Number  string `json:"card_number"`
	PIN     string `json:"pin"`
	Balance int64  `json:"balance"`
	OwnerID int64  `json:"user_id"`
}

// Transaction kinds as they appear in the history log.
const (
	TxDeposit     = "deposit"
	TxWithdraw    = "withdraw"
	TxTransferOut = "transfer-out"
	TxTransferIn  = "transfer-in"
)

// Transaction is one append-only history entry, emitted as a side effect of
// every successful write.
type Transaction struct {
	Amount    int64  `json:"amount"`
	Kind      string `json:"type"`
	FromCard  string `json:"from_card,omitempty"`
	ToCard    string `json:"to_card,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// LoginResult is the reply of AuthAPI.Login.
type LoginResult struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}
