// Package auth holds the injected session the engine reads its bearer token
// and user identity from. The engine never mutates the token itself.
package auth

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/golang-jwt/jwt/v5"

	"pitchbook/internal/apperr"
	"pitchbook/internal/model"
)

// CurrentUserFunc fetches the authenticated user from the backend. Last
// resort of the identity resolution chain.
type CurrentUserFunc func(ctx context.Context) (*model.User, error)

// Session is the explicit auth context passed to the API client and the
// orchestrator instead of ambient shared storage.
type Session struct {
	mu            sync.RWMutex
	token         string
	userID        int64
	onUnauthorized []func()
}

// NewSession creates a session carrying the given bearer token.
func NewSession(token string) *Session {
	return &Session{token: token}
}

// Token returns the current bearer token, empty when signed out.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// SetToken replaces the token. Called by the auth collaborator on sign-in.
func (s *Session) SetToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

// Authenticated reports whether a token is present.
func (s *Session) Authenticated() bool {
	return s.Token() != ""
}

// SetUserID caches the resolved user id.
func (s *Session) SetUserID(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = id
}

// UserID returns the cached user id, if any.
func (s *Session) UserID() (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID, s.userID != 0
}

// OnUnauthorized registers a callback fired when a read-path request is
// rejected with 401. Submission paths do not fire it, so an in-progress
// booking keeps its context.
func (s *Session) OnUnauthorized(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onUnauthorized = append(s.onUnauthorized, fn)
}

// NotifyUnauthorized clears the session and fires registered callbacks.
func (s *Session) NotifyUnauthorized() {
	s.mu.Lock()
	s.token = ""
	s.userID = 0
	callbacks := make([]func(), len(s.onUnauthorized))
	copy(callbacks, s.onUnauthorized)
	s.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
}

// ResolveUserID determines the acting user id. First successful source wins:
// the cached session value, the token's claims, then the current-user
// endpoint.
func (s *Session) ResolveUserID(ctx context.Context, currentUser CurrentUserFunc) (int64, error) {
	if id, ok := s.UserID(); ok {
		return id, nil
	}

	if id, err := DecodeUserID(s.Token()); err == nil && id != 0 {
		s.SetUserID(id)
		return id, nil
	}

	if currentUser != nil {
		user, err := currentUser(ctx)
		if err == nil && user != nil && user.ID != 0 {
			s.SetUserID(user.ID)
			return user.ID, nil
		}
		if err != nil {
			return 0, fmt.Errorf("cannot determine user identity: %w", err)
		}
	}

	if !s.Authenticated() {
		return 0, &apperr.AuthExpiredError{}
	}
	return 0, fmt.Errorf("cannot determine user identity")
}

// DecodeUserID extracts the user id from the token's claims without
// verifying the signature; the backend is the verifier, the client only
// needs the identity hint.
func DecodeUserID(token string) (int64, error) {
	if token == "" {
		return 0, fmt.Errorf("empty token")
	}

	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return 0, fmt.Errorf("parse token: %w", err)
	}

	for _, key := range []string{"userId", "sub", "id"} {
		raw, ok := claims[key]
		if !ok {
			continue
		}
		switch v := raw.(type) {
		case float64:
			if v != 0 {
				return int64(v), nil
			}
		case string:
			if id, err := strconv.ParseInt(v, 10, 64); err == nil && id != 0 {
				return id, nil
			}
		}
	}

	return 0, fmt.Errorf("no user id claim in token")
}
