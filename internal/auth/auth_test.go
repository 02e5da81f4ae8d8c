// ABOUTME: Tests for session authentication and the gin middleware
// ABOUTME: Covers token extraction, expiry, unknown tokens, and context propagation

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvchvn/chitchat-backend/internal/apperr"
	"github.com/kvchvn/chitchat-backend/internal/store"
)

type fakeSessions struct {
	sessions map[string]*store.Session
	err      error
}

func (f *fakeSessions) FindSessionByToken(_ context.Context, token string) (*store.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	s, ok := f.sessions[token]
	if !ok {
		return nil, store.ErrNotFound
	}
	return s, nil
}

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestAuthenticator(sessions ...*store.Session) *Authenticator {
	f := &fakeSessions{sessions: map[string]*store.Session{}}
	for _, s := range sessions {
		f.sessions[s.Token] = s
	}
	a := NewAuthenticator(f, nil)
	a.now = func() time.Time { return fixedNow }
	return a
}

func TestAuthenticate(t *testing.T) {
	a := newTestAuthenticator(
		&store.Session{ID: "s1", UserID: "alice", Token: "live", Expires: fixedNow.Add(time.Hour)},
		&store.Session{ID: "s2", UserID: "bob", Token: "stale", Expires: fixedNow.Add(-time.Second)},
		&store.Session{ID: "s3", UserID: "carol", Token: "edge", Expires: fixedNow},
	)

	got, err := a.Authenticate(t.Context(), "live")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.UserID)
	assert.Equal(t, "s1", got.SessionID)

	for _, token := range []string{"", "missing", "stale", "edge"} {
		_, err := a.Authenticate(t.Context(), token)
		assert.True(t, apperr.Is(err, apperr.KindUnauthorized), "token %q: %v", token, err)
	}
}

func TestAuthenticate_StoreFailure(t *testing.T) {
	a := NewAuthenticator(&fakeSessions{err: errors.New("disk on fire")}, nil)

	_, err := a.Authenticate(t.Context(), "any")
	assert.True(t, apperr.Is(err, apperr.KindStore))
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		header  string
		token   string
		wantErr bool
	}{
		{"Bearer abc", "abc", false},
		{"", "", true},
		{"Basic abc", "", true},
		{"Bearer ", "", true},
	}
	for _, tt := range tests {
		token, errMsg := extractBearerToken(tt.header)
		assert.Equal(t, tt.token, token, tt.header)
		assert.Equal(t, tt.wantErr, errMsg != "", tt.header)
	}
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws?token=query", nil)
	assert.Equal(t, "query", TokenFromRequest(r))

	r.Header.Set("Authorization", "Bearer header")
	assert.Equal(t, "header", TokenFromRequest(r))

	r = httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.Empty(t, TokenFromRequest(r))
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a := newTestAuthenticator(
		&store.Session{ID: "s1", UserID: "alice", Token: "live", Expires: fixedNow.Add(time.Hour)},
	)

	engine := gin.New()
	engine.GET("/me", Middleware(a), func(c *gin.Context) {
		fromGin := FromGin(c)
		fromReq := FromContext(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"gin": fromGin.UserID, "req": fromReq.UserID})
	})

	t.Run("Valid", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer live")
		engine.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "alice", body["gin"])
		assert.Equal(t, "alice", body["req"])
	})

	t.Run("Missing", func(t *testing.T) {
		rec := httptest.NewRecorder()
		engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/me", nil))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), `"kind":"unauthorized"`)
	})
}

func TestContext(t *testing.T) {
	ctx := t.Context()
	assert.Nil(t, FromContext(ctx))

	ctx = WithAuth(ctx, &AuthContext{UserID: "alice"})
	assert.Equal(t, "alice", FromContext(ctx).UserID)
}
