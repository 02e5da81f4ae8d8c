// ABOUTME: Connection registry: upgrades, authenticates, and joins connections to channel rooms
// ABOUTME: Tracks live connections per user for direct notifications and graceful shutdown

package realtime

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kvchvn/chitchat-backend/internal/apperr"
	"github.com/kvchvn/chitchat-backend/internal/auth"
	"github.com/kvchvn/chitchat-backend/internal/friendship"
	"github.com/kvchvn/chitchat-backend/internal/metrics"
	"github.com/kvchvn/chitchat-backend/internal/protocol"
	"github.com/kvchvn/chitchat-backend/internal/store"
)

// Authenticator resolves a session token.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*auth.AuthContext, error)
}

// Sweeper deletes a user's expired sessions.
type Sweeper interface {
	Sweep(ctx context.Context, userID string) (int64, error)
}

// Store defines what the registry needs from storage
type Store interface {
	FindUser(ctx context.Context, id string) (*store.User, error)
	ListEnabledChannelIDs(ctx context.Context, userID string) ([]string, error)
}

// Handler applies one raw inbound frame received on c.
type Handler interface {
	Handle(ctx context.Context, c *Conn, raw []byte)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, c *Conn, raw []byte)

func (f HandlerFunc) Handle(ctx context.Context, c *Conn, raw []byte) { f(ctx, c, raw) }

// Options tunes connection behavior. Zero values take defaults.
type Options struct {
	SendBuffer       int
	InboxSize        int
	WriteTimeout     time.Duration
	PongTimeout      time.Duration
	PingInterval     time.Duration
	OperationTimeout time.Duration
	MaxFrameBytes    int64
	// AllowedOrigins restricts browser handshakes; empty allows any origin.
	AllowedOrigins []string
}

func (o Options) withDefaults() Options {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.InboxSize <= 0 {
		o.InboxSize = 16
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.PongTimeout <= 0 {
		o.PongTimeout = 60 * time.Second
	}
	if o.PingInterval <= 0 || o.PingInterval >= o.PongTimeout {
		o.PingInterval = o.PongTimeout * 9 / 10
	}
	if o.OperationTimeout <= 0 {
		o.OperationTimeout = 10 * time.Second
	}
	if o.MaxFrameBytes <= 0 {
		o.MaxFrameBytes = 64 << 10
	}
	return o
}

// Config holds the registry's collaborators.
type Config struct {
	Auth      Authenticator
	Janitor   Sweeper // optional
	Store     Store
	Directory Directory
	Metrics   *metrics.Metrics // optional
	Options   Options
	Logger    *slog.Logger
}

// ErrShuttingDown is reported to clients connecting during shutdown.
var ErrShuttingDown = apperr.Unavailable("server is shutting down")

// Registry owns every live connection and its room membership.
type Registry struct {
	auth     Authenticator
	janitor  Sweeper
	store    Store
	dir      Directory
	metrics  *metrics.Metrics
	opts     Options
	upgrader websocket.Upgrader
	handler  Handler
	logger   *slog.Logger

	mu     sync.RWMutex
	conns  map[string]*Conn
	byUser map[string]map[string]*Conn
	closed bool
	active sync.WaitGroup
}

// NewRegistry creates a Registry. SetHandler must be called before it serves
// connections.
func NewRegistry(cfg Config) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	opts := cfg.Options.withDefaults()
	r := &Registry{
		auth:    cfg.Auth,
		janitor: cfg.Janitor,
		store:   cfg.Store,
		dir:     cfg.Directory,
		metrics: cfg.Metrics,
		opts:    opts,
		logger:  logger.With("component", "registry"),
		conns:   make(map[string]*Conn),
		byUser:  make(map[string]map[string]*Conn),
	}
	r.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     r.checkOrigin,
	}
	return r
}

// SetHandler sets the handler for inbound frames.
func (r *Registry) SetHandler(h Handler) {
	r.handler = h
}

func (r *Registry) checkOrigin(req *http.Request) bool {
	if len(r.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := req.Header.Get("Origin")
	return origin == "" || slices.Contains(r.opts.AllowedOrigins, origin)
}

// ServeHTTP makes the registry usable as the /ws handler.
func (r *Registry) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.Connect(w, req)
}

// Connect upgrades req and serves the connection until it closes. A client
// with an unknown or expired session receives an unauthorized error frame
// followed by a close frame and joins no room.
func (r *Registry) Connect(w http.ResponseWriter, req *http.Request) {
	ws, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		// The upgrader has already replied with an HTTP error.
		r.logger.Debug("websocket upgrade failed", "remote", req.RemoteAddr, "error", err)
		r.metrics.ConnectionRejected("upgrade")
		return
	}

	c := newConn(ws, r.opts, r.metrics, r.logger)
	c.setState(StateAuthenticating)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(req.Context()), r.opts.OperationTimeout)
	user, rooms, err := r.admit(ctx, auth.TokenFromRequest(req))
	cancel()
	if err != nil {
		r.reject(c, err)
		return
	}
	c.user = user

	if !r.register(c) {
		r.reject(c, ErrShuttingDown)
		return
	}
	defer r.unregister(c)

	for _, roomID := range rooms {
		r.dir.Join(roomID, c)
	}
	c.setState(StateJoined)
	r.metrics.ConnectionOpened()
	r.logger.Info("connection joined",
		"conn_id", c.ID(),
		"user_id", user.ID,
		"rooms", len(rooms),
		"remote", req.RemoteAddr)

	c.Send(protocol.Outbound{
		Type: protocol.EventSessionReady,
		Data: protocol.SessionReady{
			ConnectionID: c.ID(),
			User:         protocol.NewUser(user),
			Rooms:        rooms,
		},
	})

	c.run(context.WithoutCancel(req.Context()), func(ctx context.Context, raw []byte) {
		r.handler.Handle(ctx, c, raw)
	})
}

// admit authenticates the token, sweeps the user's expired sessions, and
// loads the rooms to join.
func (r *Registry) admit(ctx context.Context, token string) (*store.User, []string, error) {
	authCtx, err := r.auth.Authenticate(ctx, token)
	if err != nil {
		return nil, nil, err
	}

	user, err := r.store.FindUser(ctx, authCtx.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, apperr.Unauthorized("session user no longer exists")
	}
	if err != nil {
		return nil, nil, apperr.FromStore(err, "find user")
	}

	if r.janitor != nil {
		if _, err := r.janitor.Sweep(ctx, user.ID); err != nil {
			r.logger.Warn("session sweep failed", "user_id", user.ID, "error", err)
		}
	}

	rooms, err := r.loadRooms(ctx, user.ID)
	if err != nil {
		return nil, nil, err
	}
	return user, rooms, nil
}

func (r *Registry) loadRooms(ctx context.Context, userID string) ([]string, error) {
	rooms, err := r.store.ListEnabledChannelIDs(ctx, userID)
	if err != nil {
		return nil, apperr.FromStore(err, "list channels")
	}
	if rooms == nil {
		rooms = []string{}
	}
	return rooms, nil
}

// reject sends an error frame and a close frame on a connection that never
// joined, then drops it.
func (r *Registry) reject(c *Conn, err error) {
	kind, msg, issues := apperr.Public(err)
	code, reason := websocket.ClosePolicyViolation, "unauthorized"
	switch {
	case kind == apperr.KindUnavailable:
		code, reason = websocket.CloseGoingAway, "shutting down"
	case kind != apperr.KindUnauthorized:
		code, reason = websocket.CloseInternalServerErr, "internal error"
	}

	c.setState(StateDisconnected)
	r.metrics.ConnectionRejected(string(kind))
	r.logger.Info("connection rejected", "conn_id", c.ID(), "kind", kind, "error", err)

	payload, encErr := protocol.Encode(protocol.Outbound{
		Type: protocol.EventError,
		Data: protocol.ErrorPayload{Kind: string(kind), Message: msg, Issues: issues},
	})
	deadline := time.Now().Add(r.opts.WriteTimeout)
	if encErr == nil && c.ws.SetWriteDeadline(deadline) == nil {
		if c.ws.WriteMessage(websocket.TextMessage, payload) == nil {
			_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		}
	}
	_ = c.ws.Close()
}

func (r *Registry) register(c *Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false
	}
	r.conns[c.ID()] = c
	if _, ok := r.byUser[c.UserID()]; !ok {
		r.byUser[c.UserID()] = make(map[string]*Conn)
	}
	r.byUser[c.UserID()][c.ID()] = c
	r.active.Add(1)
	return true
}

func (r *Registry) unregister(c *Conn) {
	c.setState(StateDisconnected)
	r.dir.LeaveAll(c.ID())

	r.mu.Lock()
	delete(r.conns, c.ID())
	if conns, ok := r.byUser[c.UserID()]; ok {
		delete(conns, c.ID())
		if len(conns) == 0 {
			delete(r.byUser, c.UserID())
		}
	}
	r.mu.Unlock()

	r.metrics.ConnectionClosed()
	r.logger.Info("connection closed", "conn_id", c.ID(), "user_id", c.UserID())
	r.active.Done()
}

// Rejoin recomputes c's rooms from the user's enabled channels. New rooms are
// joined before stale ones are left, so no room the user keeps misses an
// event. It must be called from c's worker.
func (r *Registry) Rejoin(ctx context.Context, c *Conn) ([]string, error) {
	rooms, err := r.loadRooms(ctx, c.UserID())
	if err != nil {
		return nil, err
	}

	want := make(map[string]struct{}, len(rooms))
	for _, roomID := range rooms {
		want[roomID] = struct{}{}
		r.dir.Join(roomID, c)
	}
	for _, roomID := range r.dir.Rooms(c.ID()) {
		if _, ok := want[roomID]; !ok {
			r.dir.Leave(roomID, c.ID())
		}
	}

	r.logger.Debug("connection rejoined rooms", "conn_id", c.ID(), "rooms", len(rooms))
	return rooms, nil
}

// NotifyUser sends frame to every connection of userID except exceptConnID
// and returns how many connections accepted it.
func (r *Registry) NotifyUser(userID string, frame protocol.Outbound, exceptConnID string) int {
	r.mu.RLock()
	targets := make([]*Conn, 0, len(r.byUser[userID]))
	for id, c := range r.byUser[userID] {
		if id != exceptConnID {
			targets = append(targets, c)
		}
	}
	r.mu.RUnlock()

	if len(targets) == 0 {
		return 0
	}
	payload, err := protocol.Encode(frame)
	if err != nil {
		r.logger.Error("failed to encode frame", "event", frame.Type, "error", err)
		return 0
	}

	delivered := 0
	for _, c := range targets {
		if c.Deliver(payload) {
			delivered++
		}
	}
	r.metrics.Dropped(len(targets) - delivered)
	return delivered
}

// NotifyTransition tells every connection of both users about a friendship
// change made outside of a WebSocket request.
func (r *Registry) NotifyTransition(t *friendship.Transition) {
	r.notifyTransition(t, nil, "")
}

// notifyTransition sends friendship.updated to both users. When origin is
// set it gets its copy with replyTo; the user's other connections and the
// other user's connections get the update without one.
func (r *Registry) notifyTransition(t *friendship.Transition, origin *Conn, replyTo string) {
	channel := protocol.NewChannel(t.Channel)

	self := protocol.Outbound{
		Type: protocol.EventFriendshipUpdated,
		Data: protocol.FriendshipUpdated{
			OtherID: t.OtherID,
			Status:  string(friendship.StatusOf(t.UserKind)),
			Channel: channel,
		},
	}
	except := ""
	if origin != nil {
		reply := self
		reply.ReplyTo = replyTo
		origin.Send(reply)
		except = origin.ID()
	}
	r.NotifyUser(t.UserID, self, except)

	r.NotifyUser(t.OtherID, protocol.Outbound{
		Type: protocol.EventFriendshipUpdated,
		Data: protocol.FriendshipUpdated{
			OtherID: t.UserID,
			Status:  string(friendship.StatusOf(t.OtherKind)),
			Channel: channel,
		},
	}, "")
}

// Count returns the number of joined connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// UserConnections returns the number of joined connections of userID.
func (r *Registry) UserConnections(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID])
}

// Shutdown refuses new connections, closes every live one with a going-away
// close frame, and waits for them to finish or for ctx to expire.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	conns := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	r.logger.Info("closing connections", "count", len(conns))
	kind, msg, _ := apperr.Public(ErrShuttingDown)
	notice := protocol.Outbound{
		Type: protocol.EventError,
		Data: protocol.ErrorPayload{Kind: string(kind), Message: msg},
	}
	for _, c := range conns {
		c.CloseWith(notice, websocket.CloseGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		r.active.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
