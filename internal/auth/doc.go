// Package auth authenticates clients by session token.
//
// Sessions are created outside the messaging core (the bootstrap command
// creates one for development). A token is presented either as
//
//	Authorization: Bearer <token>
//
// or, for WebSocket handshakes from browsers, as the token query parameter.
// Authenticator resolves the token to an AuthContext; unknown and expired
// tokens fail with an apperr unauthorized error.
//
// Middleware wires the authenticator into gin routes and exposes the result
// through FromGin and FromContext.
package auth
