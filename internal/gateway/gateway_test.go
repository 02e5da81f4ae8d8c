// ABOUTME: Tests for the Gateway orchestrator
// ABOUTME: Exercises health, metrics, API auth, and a WebSocket session through the assembled handler

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvchvn/chitchat-backend/internal/config"
	"github.com/kvchvn/chitchat-backend/internal/protocol"
	"github.com/kvchvn/chitchat-backend/internal/store"
)

// testConfig creates a config backed by a temporary SQLite file on a free port.
func testConfig(t *testing.T) *config.Config {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	cfg := config.Default()
	cfg.Server.HTTPAddr = addr
	cfg.Server.ShutdownTimeout = 2 * time.Second
	cfg.Database.Path = filepath.Join(t.TempDir(), "gateway.db")
	cfg.Chat.MaxMessagesPerChannel = 2
	cfg.Sessions.SweepInterval = 0
	require.NoError(t, cfg.Validate())
	return cfg
}

// testLogger creates a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestGateway(t *testing.T) (*Gateway, *httptest.Server) {
	t.Helper()
	gw, err := New(testConfig(t), testLogger())
	require.NoError(t, err)

	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = gw.Shutdown(ctx)
		srv.Close()
	})
	return gw, srv
}

func seedUser(t *testing.T, gw *Gateway, id string) string {
	t.Helper()
	require.NoError(t, gw.store.CreateUser(t.Context(), &store.User{ID: id, Name: id}))
	token := id + "-token"
	require.NoError(t, gw.store.CreateSession(t.Context(), &store.Session{
		ID:      id + "-session",
		UserID:  id,
		Token:   token,
		Expires: time.Now().Add(time.Hour),
	}))
	return token
}

func get(t *testing.T, url, token string) (int, string) {
	t.Helper()
	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, url, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestOpenStore_UnknownPostgres(t *testing.T) {
	cfg := config.Default()
	cfg.Database.Driver = config.DriverPostgres
	cfg.Database.DSN = "postgres://chitchat@127.0.0.1:1/chitchat?connect_timeout=1"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := OpenStore(ctx, cfg)
	assert.ErrorContains(t, err, "initializing store")
}

func TestHealthEndpoints(t *testing.T) {
	gw, srv := newTestGateway(t)
	seedUser(t, gw, "alice")

	code, body := get(t, srv.URL+"/health", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "OK", body)

	code, body = get(t, srv.URL+"/health/ready", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ready (1 users, 0 connections)", body)
}

func TestReadyEndpoint_StoreClosed(t *testing.T) {
	gw, srv := newTestGateway(t)
	require.NoError(t, gw.store.Close())

	code, _ := get(t, srv.URL+"/health/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestMetricsEndpoint(t *testing.T) {
	_, srv := newTestGateway(t)
	get(t, srv.URL+"/health", "")

	code, body := get(t, srv.URL+"/metrics", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `chitchat_http_requests_total{method="GET",route="/health",status="200"} 1`)
	assert.Contains(t, body, "go_goroutines")
}

func TestAPIRequiresSession(t *testing.T) {
	gw, srv := newTestGateway(t)
	token := seedUser(t, gw, "alice")

	code, _ := get(t, srv.URL+"/api/me", "")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, body := get(t, srv.URL+"/api/me", token)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"status":"me"`)
}

// TestHTTPTransitionReachesWebSocket accepts a request over HTTP and expects
// the sender's live connection to hear about it and to see the new channel
// after a rejoin.
func TestHTTPTransitionReachesWebSocket(t *testing.T) {
	gw, srv := newTestGateway(t)
	alice := seedUser(t, gw, "alice")
	bob := seedUser(t, gw, "bob")

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + alice
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer ws.Close()

	type frame struct {
		Type    string          `json:"type"`
		ReplyTo string          `json:"replyTo"`
		Data    json.RawMessage `json:"data"`
	}
	next := func() frame {
		t.Helper()
		require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
		var f frame
		require.NoError(t, ws.ReadJSON(&f))
		return f
	}

	require.Equal(t, protocol.EventSessionReady, next().Type)
	assert.Equal(t, 1.0, testutil.ToFloat64(gw.metrics.ConnectionsActive))

	require.NoError(t, ws.WriteJSON(map[string]any{
		"id": "r1", "type": protocol.TypeSendRequest, "data": map[string]string{"receiverId": "bob"},
	}))
	sent := next()
	require.Equal(t, protocol.EventFriendshipUpdated, sent.Type)
	assert.Equal(t, "r1", sent.ReplyTo)

	req, err := http.NewRequestWithContext(t.Context(), http.MethodPost, srv.URL+"/api/requests/alice/accept", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+bob)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	pushed := next()
	require.Equal(t, protocol.EventFriendshipUpdated, pushed.Type)
	assert.Empty(t, pushed.ReplyTo)
	var update protocol.FriendshipUpdated
	require.NoError(t, json.Unmarshal(pushed.Data, &update))
	assert.Equal(t, "bob", update.OtherID)
	assert.Equal(t, "friend", update.Status)
	require.NotNil(t, update.Channel)

	require.NoError(t, ws.WriteJSON(map[string]any{"id": "r2", "type": protocol.TypeRejoin}))
	joined := next()
	require.Equal(t, protocol.EventRoomsJoined, joined.Type)
	var rooms protocol.RoomsJoined
	require.NoError(t, json.Unmarshal(joined.Data, &rooms))
	assert.Equal(t, []string{update.Channel.ID}, rooms.Rooms)
}

func TestGatewayRunAndShutdown(t *testing.T) {
	cfg := testConfig(t)
	gw, err := New(cfg, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- gw.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + cfg.Server.HTTPAddr + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("Run() returned unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("gateway did not shut down in time")
	}

	// Shutdown is idempotent once Run has returned.
	assert.NoError(t, gw.Shutdown(context.Background()))
}

func TestGatewayRun_AddressInUse(t *testing.T) {
	cfg := testConfig(t)
	ln, err := net.Listen("tcp", cfg.Server.HTTPAddr)
	require.NoError(t, err)
	defer ln.Close()

	gw, err := New(cfg, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Shutdown(context.Background()) })

	err = gw.Run(t.Context())
	assert.ErrorContains(t, err, "listening on")
}
