// ABOUTME: Publishes channel events to every connection in the channel room
// ABOUTME: Encodes each frame once and never blocks on slow connections

package realtime

import (
	"log/slog"

	"github.com/kvchvn/chitchat-backend/internal/metrics"
	"github.com/kvchvn/chitchat-backend/internal/protocol"
)

// Broadcaster publishes room events through a Directory. Delivery is
// fire-and-forget: a connection whose send buffer is full misses the frame.
type Broadcaster struct {
	dir     Directory
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewBroadcaster creates a Broadcaster. metrics may be nil.
func NewBroadcaster(dir Directory, m *metrics.Metrics, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		dir:     dir,
		metrics: m,
		logger:  logger.With("component", "broadcaster"),
	}
}

// Publish encodes frame once and delivers it to every connection joined to
// channelID.
func (b *Broadcaster) Publish(channelID string, frame protocol.Outbound) {
	payload, err := protocol.Encode(frame)
	if err != nil {
		b.logger.Error("failed to encode frame", "event", frame.Type, "error", err)
		return
	}

	delivered, dropped := b.dir.Publish(channelID, payload)
	b.metrics.Broadcast(frame.Type, delivered, dropped)
	if dropped > 0 {
		b.logger.Debug("broadcast partially dropped",
			"channel_id", channelID,
			"event", frame.Type,
			"delivered", delivered,
			"dropped", dropped)
	}
}
