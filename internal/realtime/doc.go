// Package realtime serves the WebSocket protocol.
//
// # Connections
//
// Registry upgrades each request, authenticates its session token, sweeps the
// user's expired sessions, and joins the connection to one room per enabled
// channel of the user. Room membership is a snapshot taken at connect; the
// client refreshes it by reconnecting or by sending a rejoin frame.
//
// Every connection is an actor of three goroutines:
//
//	reader -> inbox -> worker -> services
//	broadcaster/registry -> send buffer -> writer -> socket
//
// The worker applies inbound frames strictly one at a time. Store operations
// run on a context detached from the connection, so a disconnect cancels
// queued frames but never a transaction already handed to the store.
//
// # Delivery
//
// Broadcaster implements chat.Publisher on top of a Directory. Frames are
// encoded once per event and queued without blocking; a connection whose
// send buffer is full misses the frame. MemoryDirectory keeps rooms in
// process memory; another Directory can fan out across processes.
package realtime
