// ABOUTME: Session janitor deleting expired sessions on connect and periodically
// ABOUTME: Failures are logged and returned; callers never block a connection on them

package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kvchvn/chitchat-backend/internal/metrics"
	"github.com/kvchvn/chitchat-backend/internal/store"
)

// Store defines what the janitor needs from storage
type Store interface {
	ListSessions(ctx context.Context, userID string) ([]*store.Session, error)
	DeleteSessions(ctx context.Context, userID string, ids []string) (int64, error)
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

// Janitor removes expired sessions.
type Janitor struct {
	store    Store
	interval time.Duration
	metrics  *metrics.Metrics
	now      func() time.Time
	logger   *slog.Logger
}

// New creates a Janitor. interval is the period of Run's global sweep; zero
// disables it. metrics may be nil.
func New(s Store, interval time.Duration, m *metrics.Metrics, logger *slog.Logger) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		store:    s,
		interval: interval,
		metrics:  m,
		now:      time.Now,
		logger:   logger.With("component", "janitor"),
	}
}

// Sweep deletes userID's sessions that expired before now, in one batch, and
// returns how many were removed.
func (j *Janitor) Sweep(ctx context.Context, userID string) (int64, error) {
	sessions, err := j.store.ListSessions(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("listing sessions of %s: %w", userID, err)
	}

	now := j.now()
	var expired []string
	for _, s := range sessions {
		if s.Expires.Before(now) {
			expired = append(expired, s.ID)
		}
	}
	if len(expired) == 0 {
		return 0, nil
	}

	n, err := j.store.DeleteSessions(ctx, userID, expired)
	if err != nil {
		return 0, fmt.Errorf("deleting expired sessions of %s: %w", userID, err)
	}
	j.metrics.Swept(n)
	j.logger.Debug("swept expired sessions", "user_id", userID, "count", n)
	return n, nil
}

// Run sweeps every user's expired sessions each interval until ctx is done.
// It returns immediately when the interval is zero.
func (j *Janitor) Run(ctx context.Context) {
	if j.interval <= 0 {
		return
	}
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.logger.Info("session janitor started", "interval", j.interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.sweepAll(ctx)
		}
	}
}

func (j *Janitor) sweepAll(ctx context.Context) {
	n, err := j.store.DeleteExpiredSessions(ctx, j.now())
	if err != nil {
		if ctx.Err() == nil {
			j.logger.Warn("session sweep failed", "error", err)
		}
		return
	}
	j.metrics.Swept(n)
	if n > 0 {
		j.logger.Info("swept expired sessions", "count", n)
	}
}
