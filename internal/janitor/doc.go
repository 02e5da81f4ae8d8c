// Package janitor deletes expired sessions.
//
// Sweep runs for one user when that user connects; Run performs a periodic
// global sweep. Neither is required for correctness: the authenticator
// rejects expired tokens on its own.
package janitor
