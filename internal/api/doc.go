// Package api serves the chitchat JSON HTTP API.
//
// Every route requires a session token, sent as "Authorization: Bearer
// <token>" or as the token query parameter. Errors share one body shape:
//
//	{"error": {"kind": "conflict", "message": "...", "issues": ["..."]}}
//
// where kind maps to the status code: not_found 404, conflict 409,
// forbidden 403, validation 422, unauthorized 401, anything else 500.
//
// Friendship mutations are pushed to both users' WebSocket connections as
// friendship.updated frames, exactly as if they had been sent over a socket.
package api
