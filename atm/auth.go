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
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	log "github.com/inconshreveable/log15"
	metrics "github.com/rcrowley/go-metrics"
	"golang.org/x/time/rate"

	"github.com/twinvault/go-twinvault/accountdb"
	"github.com/twinvault/go-twinvault/core"
	"github.com/twinvault/go-twinvault/core/types"
	"github.com/twinvault/go-twinvault/rmi"
)

// Well-known service names. Session services are bound under their uuid.
const (
	AuthServiceName  = "auth"
	PeerServiceName  = "peer"
	AdminServiceName = "admin"
)

// Client-facing messages.
const (
	MsgLoginOK   = "Đăng nhập thành công"
	MsgLoginFail = "Đăng nhập thất bại"
	MsgLogout    = "Đã logout"
	MsgThrottled = "Thử lại sau"
)

const (
	loginBurst       = 5
	loginRefill      = 10 * time.Second
	limiterCacheSize = 1024
)

var (
	sessionGauge   = metrics.GetOrRegisterGauge("atm/sessions", metrics.DefaultRegistry)
	loginMeter     = metrics.GetOrRegisterMeter("atm/logins", metrics.DefaultRegistry)
	loginFailMeter = metrics.GetOrRegisterMeter("atm/logins/failed", metrics.DefaultRegistry)
)

// AuthAPI is the login surface every client starts from.
type AuthAPI interface {
	Login(cardNumber, pin string, callback types.Notifier) (*types.LoginResult, error)
}

// AuthService authenticates cards and mints one UserService per session.
// It is bound once under "auth" and stays up for the node's lifetime.
type AuthService struct {
	rmi.Object
	log      log.Logger
	peerID   int
	store    accountdb.Reader
	registry *rmi.Registry
	queue    *core.CommandQueue

	sessions mapset.Set[string]
	limiters *lru.Cache // card number -> *rate.Limiter
}

func NewAuthService(peerID int, store accountdb.Reader, registry *rmi.Registry, queue *core.CommandQueue) *AuthService {
	limiters, _ := lru.New(limiterCacheSize)
	return &AuthService{
		log:      log.New("module", "auth", "peer", peerID),
		peerID:   peerID,
		store:    store,
		registry: registry,
		queue:    queue,
		sessions: mapset.NewSet[string](),
		limiters: limiters,
	}
}

func (s *AuthService) RemoteInterface() interface{} { return (*AuthAPI)(nil) }

// Login verifies the card and PIN. On success it binds a fresh UserService
// under an opaque session id; the outcome is reported both in the returned
// record and through the callback.
func (s *AuthService) Login(cardNumber, pin string, callback types.Notifier) (*types.LoginResult, error) {
	if !s.allow(cardNumber) {
		loginFailMeter.Mark(1)
		notifyClient(s.log, callback, MsgThrottled, types.LevelError)
		return &types.LoginResult{Message: MsgThrottled}, nil
	}

	user, err := s.store.Login(cardNumber, pin)
	if err != nil {
		loginFailMeter.Mark(1)
		msg := MsgLoginFail
		if accountdb.IsDomain(err) {
			msg = err.Error()
		} else {
			s.log.Error("Login failed", "card", cardNumber, "err", err)
		}
		notifyClient(s.log, callback, msg, types.LevelError)
		return &types.LoginResult{Message: msg}, nil
	}

	session := uuid.New().String()
	if err := s.registry.Bind(session, newUserService(s, user)); err != nil {
		s.log.Error("Session bind failed", "card", cardNumber, "err", err)
		notifyClient(s.log, callback, MsgLoginFail, types.LevelError)
		return &types.LoginResult{Message: MsgLoginFail}, nil
	}
	s.sessions.Add(session)
	sessionGauge.Update(int64(s.sessions.Cardinality()))
	loginMeter.Mark(1)

	s.log.Info("Session opened", "card", cardNumber, "session", abbrevSession(session))
	notifyClient(s.log, callback, MsgLoginOK, types.LevelSuccess)
	return &types.LoginResult{Success: true, Message: MsgLoginOK, SessionID: session}, nil
}

// SessionCount returns the number of live sessions.
func (s *AuthService) SessionCount() int {
	return s.sessions.Cardinality()
}

// CloseSessions unbinds every live session. Called at node shutdown.
func (s *AuthService) CloseSessions() {
	for _, session := range s.sessions.ToSlice() {
		if err := s.registry.Unbind(session); err != nil && !rmi.IsNotFound(err) {
			s.log.Warn("Session unbind failed", "session", abbrevSession(session), "err", err)
		}
		s.sessions.Remove(session)
	}
	sessionGauge.Update(0)
}

// allow enforces the per-card login throttle. The limiter cache is bounded,
// evicting a limiter merely resets that card's budget.
func (s *AuthService) allow(cardNumber string) bool {
	if v, ok := s.limiters.Get(cardNumber); ok {
		return v.(*rate.Limiter).Allow()
	}
	limiter := rate.NewLimiter(rate.Every(loginRefill), loginBurst)
	if prev, ok, _ := s.limiters.PeekOrAdd(cardNumber, limiter); ok {
		limiter = prev.(*rate.Limiter)
	}
	return limiter.Allow()
}

// notifyClient fires a callback, logging delivery failures. A client that
// hung up is not an error of ours.
func notifyClient(logger log.Logger, cb types.Notifier, message, level string) {
	if cb == nil {
		return
	}
	if err := cb.Notify(message, level); err != nil {
		logger.Warn("Callback delivery failed", "err", err)
	}
}

func abbrevSession(session string) string {
	if len(session) > 8 {
		return session[:8]
	}
	return session
}
