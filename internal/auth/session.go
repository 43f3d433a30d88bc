// Package auth is the session boundary of the shared store: it learns who
// the current user is, resolves the user's tenant and tracks the result in
// an explicit state machine.
package auth

import (
	"context"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/casestore/internal/common"
)

// SessionEventType is the kind of a session change.
type SessionEventType string

const (
	SignedIn       SessionEventType = "signed_in"
	SignedOut      SessionEventType = "signed_out"
	TokenRefreshed SessionEventType = "token_refreshed"
)

// SessionEvent is delivered to subscribers on every session change.
type SessionEvent struct {
	Type SessionEventType
}

// SessionProvider reports the current user and publishes session changes.
type SessionProvider interface {
	// CurrentUser returns the signed-in user id or common.ErrNotAuthenticated.
	CurrentUser(ctx context.Context) (string, error)
	// Subscribe returns a channel of session events and a function that
	// ends the subscription.
	Subscribe() (<-chan SessionEvent, func())
}

const subscriberBuffer = 16

// TokenSession is a SessionProvider holding an HS256 access token.
type TokenSession struct {
	secret []byte

	mu    sync.RWMutex
	token string
	subs  map[int]chan SessionEvent
	next  int
}

var _ SessionProvider = (*TokenSession)(nil)

func NewTokenSession(secret []byte) *TokenSession {
	return &TokenSession{secret: secret, subs: map[int]chan SessionEvent{}}
}

// SignIn installs token and notifies subscribers.
func (s *TokenSession) SignIn(token string) {
	s.setToken(token, SignedIn)
}

// Refresh replaces the token and notifies subscribers.
func (s *TokenSession) Refresh(token string) {
	s.setToken(token, TokenRefreshed)
}

// SignOut forgets the token and notifies subscribers.
func (s *TokenSession) SignOut() {
	s.setToken("", SignedOut)
}

func (s *TokenSession) setToken(token string, ev SessionEventType) {
	s.mu.Lock()
	s.token = token
	subs := make([]chan SessionEvent, 0, len(s.subs))
	for _, ch := range s.subs {
		subs = append(subs, ch)
	}
	s.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- SessionEvent{Type: ev}:
		default:
		}
	}
}

func (s *TokenSession) CurrentUser(ctx context.Context) (string, error) {
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()

	if token == "" {
		return "", common.ErrNotAuthenticated
	}
	userID, err := UserIDFromToken(token, s.secret)
	if err != nil {
		return "", fmt.Errorf("%w: %w", common.ErrNotAuthenticated, err)
	}
	return userID, nil
}

func (s *TokenSession) Subscribe() (<-chan SessionEvent, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.next
	s.next++
	ch := make(chan SessionEvent, subscriberBuffer)
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}
