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

package types

// Command kinds. The tag picks the writer method the executor dispatches to.
const (
	CmdChangePIN    = "change-pin"
	CmdDeposit      = "deposit"
	CmdWithdraw     = "withdraw"
	CmdTransfer     = "transfer"
	CmdRegisterUser = "register-user"
	CmdRegisterCard = "register-card"
)

// Command is one pending write operation. Commands are enqueued by the
// service layer, executed by the token holder and replicated to the peer in
// execution order. Seq is assigned when the origin peer applies the command
// and lets the replica drop batches it has already seen after a lost ack.
//
// The callback never crosses the peer boundary; Sanitized strips it before a
// command is handed to the replication layer.
type Command struct {
	Kind       string `json:"command_type"`
	PeerID     int    `json:"peer_id"`
	Seq        uint64 `json:"seq,omitempty"`
	CardNumber string `json:"card_number,omitempty"`
	Timestamp  int64  `json:"timestamp"`

	// change-pin
	NewPIN string `json:"new_pin,omitempty"`
	// deposit, withdraw, transfer
	Amount int64 `json:"amount,omitempty"`
	// transfer
	ToCard string `json:"to_card,omitempty"`

	// register-user
	Name      string `json:"name,omitempty"`
	DOB       string `json:"dob,omitempty"`
	Phone     string `json:"phone,omitempty"`
	CitizenID string `json:"citizen_id,omitempty"`
	// register-card
	PIN     string `json:"pin,omitempty"`
	Balance int64  `json:"balance,omitempty"`
	OwnerID int64  `json:"user_id,omitempty"`

	Callback Notifier `json:"-"`
}

// Sanitized returns a replication-safe copy with the callback reference
// removed. The replicating peer must never try to notify a client it did not
// serve.
func (c *Command) Sanitized() *Command {
	cp := *c
	cp.Callback = nil
	return &cp
}

// SanitizeCommands sanitizes a batch, keeping order.
func SanitizeCommands(cmds []*Command) []*Command {
	out := make([]*Command, len(cmds))
	for i, c := range cmds {
		out[i] = c.Sanitized()
	}
	return out
}
