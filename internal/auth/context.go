// ABOUTME: Authentication context for tracking the session user through request handlers
// ABOUTME: Provides WithAuth/FromContext for propagating auth info via context

package auth

import (
	"context"
	"time"
)

// AuthContext holds the identity resolved from a session token.
type AuthContext struct {
	UserID    string
	SessionID string
	Expires   time.Time
}

type authContextKey struct{}

// WithAuth returns a new context with the AuthContext attached.
func WithAuth(ctx context.Context, authCtx *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, authCtx)
}

// FromContext retrieves the AuthContext from the context, returning nil if not present.
func FromContext(ctx context.Context) *AuthContext {
	authCtx, _ := ctx.Value(authContextKey{}).(*AuthContext)
	return authCtx
}
