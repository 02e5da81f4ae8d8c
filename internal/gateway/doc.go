// Package gateway orchestrates the chitchat-gateway server components.
//
// # Overview
//
// The gateway package assembles the server: it opens the store selected by
// the configuration, builds the friendship and chat services, the realtime
// registry and dispatcher, and serves all of them from one HTTP listener.
//
// # Routes
//
//   - GET /health - Liveness check
//   - GET /health/ready - Readiness check; probes the store
//   - GET /metrics - Prometheus metrics (path configurable, may be disabled)
//   - GET /ws - WebSocket endpoint; the session token is read from the
//     Authorization header or the token query parameter
//   - /api/... - JSON API, see package api
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	if err != nil { ... }
//	err = gw.Run(ctx) // blocks until ctx is canceled
//
// Run also drives the periodic session janitor. On shutdown every WebSocket
// connection receives a going-away close frame before the HTTP server stops
// and the store is closed.
package gateway
