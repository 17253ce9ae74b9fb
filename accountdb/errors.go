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
	"errors"
	"fmt"
)

// Business-rule messages. These are user facing and travel verbatim into the
// client's notify callback, Vietnamese like the rest of the product surface.
const (
	MsgCardNotFound      = "Thẻ không tồn tại"
	MsgRecipientNotFound = "Tài khoản nhận không tồn tại"
	MsgBadCredentials    = "Số thẻ hoặc mã PIN không đúng"
	MsgInsufficientFunds = "Số dư không đủ"
	MsgSelfTransfer      = "Không thể chuyển khoản cho chính mình"
	MsgSamePIN           = "Mã PIN mới phải khác mã PIN cũ"
	MsgBadPIN            = "Mã PIN không hợp lệ"
	MsgBadAmount         = "Số tiền không hợp lệ"
	MsgBadRegistration   = "Thông tin đăng ký không hợp lệ"
	MsgPhoneTaken        = "Số điện thoại đã được đăng ký"
	MsgCitizenIDTaken    = "Số CCCD đã được đăng ký"
	MsgCardTaken         = "Số thẻ đã tồn tại"
	MsgOwnerNotFound     = "Người dùng không tồn tại"
)

// DomainError is a business-rule violation. The executor turns it into an
// error callback to the originating client and drops the command from
// replication. The message is the complete user-visible text.
type DomainError struct {
	Msg string
}

func (e *DomainError) Error() string { return e.Msg }

func domainErr(msg string) error { return &DomainError{Msg: msg} }

// IsDomain reports whether err is a business-rule violation as opposed to a
// storage fault.
func IsDomain(err error) bool {
	var de *DomainError
	return errors.As(err, &de)
}

// InternalError wraps a storage-level failure. Never shown to clients.
type InternalError struct {
	Op  string
	Err error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("account store failure during %s: %v", e.Op, e.Err)
}

func (e *InternalError) Unwrap() error { return e.Err }

func internalErr(op string, err error) error { return &InternalError{Op: op, Err: err} }

func errDanglingOwner(card string) error {
	return fmt.Errorf("card %s references a missing owner", card)
}
