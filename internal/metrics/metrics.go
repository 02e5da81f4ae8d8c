// ABOUTME: Prometheus collectors for connections, inbound events, broadcasts, retention and HTTP
// ABOUTME: All recording methods are nil-safe so components work without metrics wired

package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chitchat"

// Metrics holds every collector exported by the gateway.
type Metrics struct {
	registry *prometheus.Registry

	ConnectionsActive  prometheus.Gauge
	Connections        *prometheus.CounterVec
	InboundEvents      *prometheus.CounterVec
	OperationDuration  *prometheus.HistogramVec
	BroadcastFrames    *prometheus.CounterVec
	DroppedFrames      prometheus.Counter
	EvictedMessages    prometheus.Counter
	SweptSessions      prometheus.Counter
	HTTPRequests       *prometheus.CounterVec
	HTTPRequestLatency *prometheus.HistogramVec
}

// New creates the collectors and registers them, with the Go and process
// collectors, on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of joined realtime connections",
		}),
		Connections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Realtime connection attempts by outcome",
		}, []string{"outcome"}),
		InboundEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_events_total",
			Help:      "Inbound realtime events by type and outcome kind",
		}, []string{"type", "outcome"}),
		OperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Time spent handling inbound realtime events",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),
		BroadcastFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_frames_total",
			Help:      "Frames delivered to room subscribers by event",
		}, []string{"event"}),
		DroppedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_frames_total",
			Help:      "Frames dropped because a connection's send buffer was full",
		}),
		EvictedMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evicted_messages_total",
			Help:      "Messages evicted by the per-channel retention cap",
		}),
		SweptSessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swept_sessions_total",
			Help:      "Expired sessions deleted by the janitor",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP API requests by route and status",
		}, []string{"method", "route", "status"}),
		HTTPRequestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP API request latency by route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ConnectionsActive,
		m.Connections,
		m.InboundEvents,
		m.OperationDuration,
		m.BroadcastFrames,
		m.DroppedFrames,
		m.EvictedMessages,
		m.SweptSessions,
		m.HTTPRequests,
		m.HTTPRequestLatency,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ConnectionOpened records an accepted connection.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.Connections.WithLabelValues("joined").Inc()
	m.ConnectionsActive.Inc()
}

// ConnectionClosed records the end of a joined connection.
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.ConnectionsActive.Dec()
}

// ConnectionRejected records a connection refused before joining.
func (m *Metrics) ConnectionRejected(reason string) {
	if m == nil {
		return
	}
	m.Connections.WithLabelValues(reason).Inc()
}

// Inbound records one handled inbound event. outcome is "ok" or an error kind.
func (m *Metrics) Inbound(eventType, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	if eventType == "" {
		eventType = "unknown"
	}
	m.InboundEvents.WithLabelValues(eventType, outcome).Inc()
	m.OperationDuration.WithLabelValues(eventType).Observe(took.Seconds())
}

// Broadcast records a room publish.
func (m *Metrics) Broadcast(event string, delivered, dropped int) {
	if m == nil {
		return
	}
	m.BroadcastFrames.WithLabelValues(event).Add(float64(delivered))
	m.DroppedFrames.Add(float64(dropped))
}

// Dropped records frames dropped outside of a room publish.
func (m *Metrics) Dropped(n int) {
	if m == nil {
		return
	}
	m.DroppedFrames.Add(float64(n))
}

// Evicted records messages removed by the retention cap.
func (m *Metrics) Evicted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.EvictedMessages.Add(float64(n))
}

// Swept records expired sessions deleted by the janitor.
func (m *Metrics) Swept(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.SweptSessions.Add(float64(n))
}

// HTTP records a finished HTTP request.
func (m *Metrics) HTTP(method, route string, status int, took time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestLatency.WithLabelValues(method, route).Observe(took.Seconds())
}
