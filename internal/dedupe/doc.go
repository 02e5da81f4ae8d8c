// Package dedupe remembers recently applied request IDs so a client retrying
// a frame on the same connection does not apply it twice.
package dedupe
