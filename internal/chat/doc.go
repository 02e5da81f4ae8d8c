// Package chat implements the per-channel message retention engine.
//
// Each channel keeps at most MaxMessages messages. Posting to a full channel
// evicts the oldest message in the same transaction as the insert, and the
// message.created event names the evicted message so subscribers can drop it.
//
// Every mutation checks that the caller is a member of an enabled channel,
// runs in one store transaction, and publishes its room event while holding
// the channel's ordering lock; events for one channel therefore reach
// subscribers in commit order. Different channels proceed independently.
package chat
