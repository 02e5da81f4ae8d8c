// ABOUTME: Session token authenticator backed by the sessions table
// ABOUTME: Unknown and expired tokens are reported as unauthorized

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kvchvn/chitchat-backend/internal/apperr"
	"github.com/kvchvn/chitchat-backend/internal/store"
)

// SessionStore is the storage the authenticator reads.
type SessionStore interface {
	FindSessionByToken(ctx context.Context, token string) (*store.Session, error)
}

// Authenticator resolves session tokens to users.
type Authenticator struct {
	sessions SessionStore
	now      func() time.Time
	logger   *slog.Logger
}

// NewAuthenticator creates an Authenticator. Pass nil logger for default.
func NewAuthenticator(sessions SessionStore, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		sessions: sessions,
		now:      time.Now,
		logger:   logger.With("component", "auth"),
	}
}

// Authenticate looks up token and checks that its session has not expired.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*AuthContext, error) {
	if token == "" {
		return nil, apperr.Unauthorized("missing session token")
	}

	session, err := a.sessions.FindSessionByToken(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.Unauthorized("unknown session token")
	}
	if err != nil {
		return nil, apperr.FromStore(err, "find session")
	}

	if !session.Expires.After(a.now()) {
		a.logger.Debug("rejected expired session",
			"session_id", session.ID,
			"user_id", session.UserID,
			"expired_at", session.Expires)
		return nil, apperr.Unauthorized("session expired")
	}

	return &AuthContext{
		UserID:    session.UserID,
		SessionID: session.ID,
		Expires:   session.Expires,
	}, nil
}
