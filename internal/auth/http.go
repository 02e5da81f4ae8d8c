// ABOUTME: HTTP helpers for session authentication on API and WebSocket endpoints
// ABOUTME: Extracts the token from the Authorization header or the token query parameter

package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/kvchvn/chitchat-backend/internal/apperr"
)

// ginAuthKey is the gin context key holding the *AuthContext.
const ginAuthKey = "auth"

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// TokenFromRequest returns the session token of r. The Authorization header
// wins; browsers cannot set headers on WebSocket handshakes, so the token
// query parameter is accepted as well.
func TokenFromRequest(r *http.Request) string {
	if token, errMsg := extractBearerToken(r.Header.Get("Authorization")); errMsg == "" {
		return token
	}
	return r.URL.Query().Get("token")
}

// Middleware authenticates every request and stores the AuthContext both in
// the gin context and in the request context.
func Middleware(a *Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		authCtx, err := a.Authenticate(c.Request.Context(), TokenFromRequest(c.Request))
		if err != nil {
			kind, msg, _ := apperr.Public(err)
			c.AbortWithStatusJSON(apperr.HTTPStatus(kind), gin.H{
				"error": gin.H{"kind": kind, "message": msg},
			})
			return
		}
		c.Set(ginAuthKey, authCtx)
		c.Request = c.Request.WithContext(WithAuth(c.Request.Context(), authCtx))
		c.Next()
	}
}

// FromGin returns the AuthContext set by Middleware, or nil.
func FromGin(c *gin.Context) *AuthContext {
	v, ok := c.Get(ginAuthKey)
	if !ok {
		return FromContext(c.Request.Context())
	}
	authCtx, _ := v.(*AuthContext)
	return authCtx
}
