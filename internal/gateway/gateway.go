// ABOUTME: Gateway orchestrator that wires the store, services, and realtime layer behind one HTTP server
// ABOUTME: Manages the WebSocket registry, JSON API, metrics, health endpoints, and session janitor lifecycle

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kvchvn/chitchat-backend/internal/api"
	"github.com/kvchvn/chitchat-backend/internal/auth"
	"github.com/kvchvn/chitchat-backend/internal/chat"
	"github.com/kvchvn/chitchat-backend/internal/config"
	"github.com/kvchvn/chitchat-backend/internal/dedupe"
	"github.com/kvchvn/chitchat-backend/internal/friendship"
	"github.com/kvchvn/chitchat-backend/internal/janitor"
	"github.com/kvchvn/chitchat-backend/internal/metrics"
	"github.com/kvchvn/chitchat-backend/internal/realtime"
	"github.com/kvchvn/chitchat-backend/internal/store"
)

// readyTimeout bounds the store probe of the readiness check.
const readyTimeout = 2 * time.Second

// Gateway orchestrates the chitchat-gateway server components.
type Gateway struct {
	config     *config.Config
	store      *store.SQLStore
	metrics    *metrics.Metrics
	registry   *realtime.Registry
	janitor    *janitor.Janitor
	dedupe     *dedupe.Cache
	engine     *gin.Engine
	httpServer *http.Server
	logger     *slog.Logger

	shutdownOnce sync.Once
	shutdownErr  error
}

// OpenStore opens the store selected by cfg.Database.
func OpenStore(ctx context.Context, cfg *config.Config) (*store.SQLStore, error) {
	var (
		s   *store.SQLStore
		err error
	)
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		s, err = store.NewPostgresStore(ctx, cfg.Database.DSN)
	default:
		s, err = store.NewSQLiteStore(cfg.Database.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s, err := OpenStore(context.Background(), cfg)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	directory := realtime.NewMemoryDirectory(logger)
	broadcaster := realtime.NewBroadcaster(directory, m, logger)

	friends := friendship.New(s, logger)
	chatSvc := chat.New(s, broadcaster, chat.Options{
		MaxMessages:      cfg.Chat.MaxMessagesPerChannel,
		MaxContentLength: cfg.Chat.MaxContentLength,
	}, logger)

	authenticator := auth.NewAuthenticator(s, logger)
	sweeper := janitor.New(s, cfg.Sessions.SweepInterval, m, logger)
	dedupeCache := dedupe.New(cfg.Realtime.DedupeTTL, cfg.Realtime.DedupeSize)

	rt := cfg.Realtime
	registry := realtime.NewRegistry(realtime.Config{
		Auth:      authenticator,
		Janitor:   sweeper,
		Store:     s,
		Directory: directory,
		Metrics:   m,
		Options: realtime.Options{
			SendBuffer:       rt.SendBuffer,
			InboxSize:        rt.InboxSize,
			WriteTimeout:     rt.WriteTimeout,
			PongTimeout:      rt.PongTimeout,
			PingInterval:     rt.PingInterval,
			OperationTimeout: rt.OperationTimeout,
			MaxFrameBytes:    rt.MaxFrameBytes,
			AllowedOrigins:   cfg.Server.AllowedOrigins,
		},
		Logger: logger,
	})
	registry.SetHandler(realtime.NewDispatcher(realtime.DispatcherConfig{
		Friendship:       friends,
		Chat:             chatSvc,
		Registry:         registry,
		Dedupe:           dedupeCache,
		Metrics:          m,
		OperationTimeout: rt.OperationTimeout,
		Logger:           logger,
	}))

	gw := &Gateway{
		config:   cfg,
		store:    s,
		metrics:  m,
		registry: registry,
		janitor:  sweeper,
		dedupe:   dedupeCache,
		logger:   logger.With("component", "gateway"),
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery(), api.AccessLog(logger), api.Instrument(m))

	// Health endpoints - no auth required
	engine.GET("/health", gw.handleHealth)
	engine.GET("/health/ready", gw.handleReady)

	if cfg.Metrics.Enabled {
		engine.GET(cfg.Metrics.Path, gin.WrapH(m.Handler()))
	}

	// The registry authenticates the handshake itself so it can answer
	// with an error frame instead of an HTTP status.
	engine.GET("/ws", gin.WrapH(registry))

	api.New(api.Config{
		Auth:       authenticator,
		Friendship: friends,
		Chat:       chatSvc,
		Notifier:   registry,
		Logger:     logger,
	}).Register(engine)

	gw.engine = engine
	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Handler returns the HTTP handler serving every gateway route.
func (g *Gateway) Handler() http.Handler {
	return g.engine
}

// Run serves HTTP and runs the session janitor until ctx is canceled or the
// server fails, then shuts everything down.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", g.config.Server.HTTPAddr, err)
	}

	g.logger.Info("starting gateway",
		"http_addr", ln.Addr().String(),
		"database", g.store.Dialect(),
		"max_messages_per_channel", g.config.Chat.MaxMessagesPerChannel)

	janitorCtx, stopJanitor := context.WithCancel(ctx)
	janitorDone := make(chan struct{})
	go func() {
		defer close(janitorDone)
		g.janitor.Run(janitorCtx)
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	stopJanitor()
	<-janitorDone

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// The Run context is already canceled at this point.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), g.config.Server.ShutdownTimeout)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown closes every WebSocket connection, stops the HTTP server, and
// releases the store. Calls after the first return the first result.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.shutdownOnce.Do(func() {
		g.logger.Info("shutting down gateway", "connections", g.registry.Count())

		var errs []error
		// Hijacked WebSocket connections are invisible to http.Server.Shutdown.
		errs = appendCloseError(errs, "realtime shutdown", g.registry.Shutdown(ctx))
		errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
		g.dedupe.Close()
		errs = appendCloseError(errs, "store close", g.store.Close())

		g.shutdownErr = errors.Join(errs...)
	})
	return g.shutdownErr
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

// handleReady returns 200 OK if the store answers queries.
func (g *Gateway) handleReady(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readyTimeout)
	defer cancel()

	users, err := g.store.CountUsers(ctx)
	if err != nil {
		g.logger.Warn("readiness probe failed", "error", err)
		c.String(http.StatusServiceUnavailable, "store unavailable")
		return
	}
	c.String(http.StatusOK, "ready (%d users, %d connections)", users, g.registry.Count())
}
