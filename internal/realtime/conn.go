// ABOUTME: Per-connection actor: reader, sequential worker, and writer goroutines
// ABOUTME: Owns the WebSocket, the bounded outbound buffer, and the connection lifecycle state

package realtime

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/kvchvn/chitchat-backend/internal/metrics"
	"github.com/kvchvn/chitchat-backend/internal/protocol"
	"github.com/kvchvn/chitchat-backend/internal/store"
)

// State is the lifecycle stage of a connection.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticating
	StateJoined
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateJoined:
		return "joined"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// Conn is one client WebSocket. Inbound frames are applied one at a time in
// arrival order by a single worker; outbound frames are queued on a bounded
// buffer drained by the writer. The send buffer is never closed: after
// shutdown, Deliver just reports the frame as dropped.
type Conn struct {
	id      string
	ws      *websocket.Conn
	opts    Options
	metrics *metrics.Metrics
	logger  *slog.Logger

	state atomic.Int32
	user  *store.User // set before the connection joins, read-only afterwards

	send  chan []byte
	inbox chan []byte

	done      chan struct{}
	closeOnce sync.Once
	closeCode int
	closeText string
	farewell  []byte // written just before the close frame
}

func newConn(ws *websocket.Conn, opts Options, m *metrics.Metrics, logger *slog.Logger) *Conn {
	id := uuid.New().String()
	return &Conn{
		id:      id,
		ws:      ws,
		opts:    opts,
		metrics: m,
		logger:  logger.With("conn_id", id),
		send:    make(chan []byte, opts.SendBuffer),
		inbox:   make(chan []byte, opts.InboxSize),
		done:    make(chan struct{}),
	}
}

// ID returns the connection's unique id.
func (c *Conn) ID() string { return c.id }

// User returns the authenticated user, or nil before authentication.
func (c *Conn) User() *store.User { return c.user }

// UserID returns the authenticated user's id, or "".
func (c *Conn) UserID() string {
	if c.user == nil {
		return ""
	}
	return c.user.ID
}

// State returns the current lifecycle state.
func (c *Conn) State() State { return State(c.state.Load()) }

func (c *Conn) setState(s State) { c.state.Store(int32(s)) }

// Done is closed when the connection starts shutting down.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Deliver queues an encoded frame without blocking. It returns false when
// the buffer is full or the connection is shutting down.
func (c *Conn) Deliver(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// Send encodes and queues a frame addressed to this connection only.
func (c *Conn) Send(frame protocol.Outbound) bool {
	payload, err := protocol.Encode(frame)
	if err != nil {
		c.logger.Error("failed to encode frame", "event", frame.Type, "error", err)
		return false
	}
	if !c.Deliver(payload) {
		c.metrics.Dropped(1)
		c.logger.Debug("dropped direct frame", "event", frame.Type)
		return false
	}
	return true
}

// Close starts shutting the connection down. The writer sends a close frame
// with code and text; queued inbound frames and outbound frames are
// discarded. Only the first call has an effect.
func (c *Conn) Close(code int, text string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeText = text
		close(c.done)
	})
}

// CloseWith is Close preceded by one last frame. Unlike Send, the frame is
// not subject to the buffer and is written right before the close frame.
func (c *Conn) CloseWith(frame protocol.Outbound, code int, text string) {
	payload, err := protocol.Encode(frame)
	if err != nil {
		c.logger.Error("failed to encode frame", "event", frame.Type, "error", err)
	}
	c.closeOnce.Do(func() {
		c.farewell = payload
		c.closeCode = code
		c.closeText = text
		close(c.done)
	})
}

func (c *Conn) closing() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// run blocks until the connection is gone. handle is called by the single
// worker goroutine; the ctx it receives is cancelled at disconnect.
func (c *Conn) run(ctx context.Context, handle func(ctx context.Context, raw []byte)) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.writePump()
	}()
	go func() {
		defer wg.Done()
		c.work(ctx, handle)
	}()

	c.readPump()
	c.Close(websocket.CloseNormalClosure, "")
	cancel()
	wg.Wait()
}

func (c *Conn) readPump() {
	c.ws.SetReadLimit(c.opts.MaxFrameBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))

		select {
		case c.inbox <- data:
		case <-c.done:
			return
		}
	}
}

func (c *Conn) logReadError(err error) {
	var netErr net.Error
	switch {
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived):
		c.logger.Debug("peer closed connection", "error", err)
	case c.closing() || errors.Is(err, net.ErrClosed):
		c.logger.Debug("connection closed locally")
	case errors.As(err, &netErr) && netErr.Timeout():
		c.logger.Info("connection timed out waiting for pong")
	default:
		c.logger.Warn("read error", "error", err)
	}
}

func (c *Conn) work(ctx context.Context, handle func(ctx context.Context, raw []byte)) {
	for {
		select {
		case <-c.done:
			return
		case raw := <-c.inbox:
			if c.closing() {
				return
			}
			handle(ctx, raw)
		}
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case payload := <-c.send:
			if err := c.write(websocket.TextMessage, payload); err != nil {
				c.logger.Debug("write failed", "error", err)
				c.Close(websocket.CloseGoingAway, "")
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("ping failed", "error", err)
				c.Close(websocket.CloseGoingAway, "")
				return
			}
		case <-c.done:
			if c.farewell != nil {
				if err := c.write(websocket.TextMessage, c.farewell); err != nil {
					c.logger.Debug("write failed", "error", err)
				}
			}
			msg := websocket.FormatCloseMessage(c.closeCode, c.closeText)
			_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.opts.WriteTimeout))
			return
		}
	}
}

func (c *Conn) write(messageType int, data []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, data)
}
