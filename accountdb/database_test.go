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
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/twinvault/go-twinvault/core/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// seedAccounts registers the two standard test users with one card each:
// 111111/1234 holding 1000 and 222222/5678 holding 0.
func seedAccounts(t *testing.T, s *Store) (id1, id2 int64) {
	t.Helper()
	id1, err := s.RegisterUser("Nguyễn Văn A", "1990-01-01", "0901234567", "012345678901")
	require.NoError(t, err)
	id2, err = s.RegisterUser("Trần Thị B", "1992-05-20", "0907654321", "098765432109")
	require.NoError(t, err)
	require.NoError(t, s.RegisterCard("111111", "1234", 1000, id1))
	require.NoError(t, s.RegisterCard("222222", "5678", 0, id2))
	return id1, id2
}

func requireDomain(t *testing.T, err error, msg string) {
	t.Helper()
	require.Error(t, err)
	require.True(t, IsDomain(err), "expected a domain error, got %T: %v", err, err)
	require.Equal(t, msg, err.Error())
}

func TestRegisterUser(t *testing.T) {
	s := newTestStore(t)
	id1, id2 := seedAccounts(t, s)
	require.Equal(t, id1+1, id2)

	_, err := s.RegisterUser("C", "2000-01-01", "0901234567", "111111111111")
	requireDomain(t, err, MsgPhoneTaken)
	_, err = s.RegisterUser("C", "2000-01-01", "0911111111", "012345678901")
	requireDomain(t, err, MsgCitizenIDTaken)
	_, err = s.RegisterUser("", "2000-01-01", "0911111111", "111111111111")
	requireDomain(t, err, MsgBadRegistration)

	users, err := s.GetAllUsers()
	require.NoError(t, err)
	require.Len(t, users, 2)
	require.Equal(t, "Nguyễn Văn A", users[0].Name)
	require.Empty(t, users[0].CardNumber)
}

func TestRegisterCard(t *testing.T) {
	s := newTestStore(t)
	id1, _ := seedAccounts(t, s)

	requireDomain(t, s.RegisterCard("111111", "9999", 0, id1), MsgCardTaken)
	requireDomain(t, s.RegisterCard("333333", "9999", 0, 404), MsgOwnerNotFound)
	requireDomain(t, s.RegisterCard("333333", "12", 0, id1), MsgBadPIN)
	requireDomain(t, s.RegisterCard("333333", "9999", -1, id1), MsgBadAmount)
	requireDomain(t, s.RegisterCard("33a333", "9999", 0, id1), MsgBadRegistration)

	require.NoError(t, s.RegisterCard("333333", "9999", 50, id1))
	cards, err := s.GetCardsByUserID(id1)
	require.NoError(t, err)
	require.Len(t, cards, 2)
}

func TestLogin(t *testing.T) {
	s := newTestStore(t)
	seedAccounts(t, s)

	user, err := s.Login("111111", "1234")
	require.NoError(t, err)
	require.Equal(t, "Nguyễn Văn A", user.Name)
	require.Equal(t, "111111", user.CardNumber)

	_, err = s.Login("111111", "0000")
	requireDomain(t, err, MsgBadCredentials)
	_, err = s.Login("999999", "1234")
	requireDomain(t, err, MsgBadCredentials)
}

func TestDepositWithdraw(t *testing.T) {
	s := newTestStore(t)
	seedAccounts(t, s)

	require.NoError(t, s.Deposit("111111", 500, 1))
	balance, err := s.CheckBalance("111111")
	require.NoError(t, err)
	require.Equal(t, int64(1500), balance)

	require.NoError(t, s.Withdraw("111111", 200, 2))
	balance, _ = s.CheckBalance("111111")
	require.Equal(t, int64(1300), balance)

	requireDomain(t, s.Withdraw("111111", 99999, 3), MsgInsufficientFunds)
	requireDomain(t, s.Deposit("111111", 0, 4), MsgBadAmount)
	requireDomain(t, s.Deposit("111111", -5, 5), MsgBadAmount)
	requireDomain(t, s.Deposit("999999", 10, 6), MsgCardNotFound)

	// Failed writes leave no trace.
	balance, _ = s.CheckBalance("111111")
	require.Equal(t, int64(1300), balance)
	history, err := s.GetTransactionHistory("111111")
	require.NoError(t, err)
	require.Len(t, history, 2)
}

func TestTransfer(t *testing.T) {
	s := newTestStore(t)
	seedAccounts(t, s)

	requireDomain(t, s.Transfer("111111", "111111", 10, 1), MsgSelfTransfer)
	requireDomain(t, s.Transfer("111111", "999999", 10, 2), MsgRecipientNotFound)
	requireDomain(t, s.Transfer("111111", "222222", 5000, 3), MsgInsufficientFunds)

	require.NoError(t, s.Transfer("111111", "222222", 300, 4))
	from, _ := s.CheckBalance("111111")
	to, _ := s.CheckBalance("222222")
	require.Equal(t, int64(700), from)
	require.Equal(t, int64(300), to)

	fromHist, err := s.GetTransactionHistory("111111")
	require.NoError(t, err)
	require.Len(t, fromHist, 1)
	require.Equal(t, types.TxTransferOut, fromHist[0].Kind)
	require.Equal(t, "222222", fromHist[0].ToCard)

	toHist, err := s.GetTransactionHistory("222222")
	require.NoError(t, err)
	require.Len(t, toHist, 1)
	require.Equal(t, types.TxTransferIn, toHist[0].Kind)
	require.Equal(t, "111111", toHist[0].FromCard)
}

func TestChangePIN(t *testing.T) {
	s := newTestStore(t)
	seedAccounts(t, s)

	requireDomain(t, s.ChangePIN("111111", "1234"), MsgSamePIN)
	requireDomain(t, s.ChangePIN("111111", "abc"), MsgBadPIN)
	requireDomain(t, s.ChangePIN("999999", "4321"), MsgCardNotFound)

	require.NoError(t, s.ChangePIN("111111", "4321"))
	_, err := s.Login("111111", "1234")
	requireDomain(t, err, MsgBadCredentials)
	user, err := s.Login("111111", "4321")
	require.NoError(t, err)
	require.Equal(t, "111111", user.CardNumber)
}

func TestHistoryOrder(t *testing.T) {
	s := newTestStore(t)
	seedAccounts(t, s)

	for i, amount := range []int64{1, 2, 3} {
		require.NoError(t, s.Deposit("111111", amount, int64(100+i)))
	}
	history, err := s.GetTransactionHistory("111111")
	require.NoError(t, err)
	require.Len(t, history, 3)
	for i, tx := range history {
		require.Equal(t, int64(i+1), tx.Amount)
		require.Equal(t, int64(100+i), tx.Timestamp)
		require.Equal(t, types.TxDeposit, tx.Kind)
	}
}

func TestHistoryPrefixIsolation(t *testing.T) {
	s := newTestStore(t)
	id1, _ := seedAccounts(t, s)
	require.NoError(t, s.RegisterCard("111", "7777", 100, id1))
	require.NoError(t, s.Deposit("111", 42, 1))

	// "111" history must not include entries of "111111" and vice versa.
	require.NoError(t, s.Deposit("111111", 9, 2))
	short, err := s.GetTransactionHistory("111")
	require.NoError(t, err)
	require.Len(t, short, 1)
	require.Equal(t, int64(42), short[0].Amount)
	long, err := s.GetTransactionHistory("111111")
	require.NoError(t, err)
	require.Len(t, long, 1)
	require.Equal(t, int64(9), long[0].Amount)
}

func TestLastSeq(t *testing.T) {
	s := newTestStore(t)

	seq, err := s.LastSeq(1)
	require.NoError(t, err)
	require.Zero(t, seq)

	require.NoError(t, s.SetLastSeq(1, 5))
	require.NoError(t, s.SetLastSeq(2, 9))
	seq, _ = s.LastSeq(1)
	require.Equal(t, uint64(5), seq)
	seq, _ = s.LastSeq(2)
	require.Equal(t, uint64(9), seq)
}

func TestConcurrentWrites(t *testing.T) {
	s := newTestStore(t)
	seedAccounts(t, s)

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				if err := s.Deposit("111111", 1, 1); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	balance, err := s.CheckBalance("111111")
	require.NoError(t, err)
	require.Equal(t, int64(1100), balance)
	history, err := s.GetTransactionHistory("111111")
	require.NoError(t, err)
	require.Len(t, history, 100)
}
