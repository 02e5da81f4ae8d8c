// Package friendship implements the request/accept workflow between users.
//
// Between any ordered pair (A, B) exactly one relation holds: none,
// outgoing, incoming, or friend. Relations are stored as two directed edges
// and every transition writes both inside one store transaction, so A never
// sees "friend" while B sees "none".
//
// Transitions:
//
//	none     --SendRequest-->   outgoing(A→B) / incoming(B→A)
//	outgoing --CancelRequest--> none
//	incoming --RefuseRequest--> none
//	incoming --AcceptRequest--> friend, channel created or re-enabled
//	friend   --RemoveFriend-->  none, channel disabled
//
// Any other attempt fails with an apperr Conflict and changes nothing.
// Callers must not retry blindly on Conflict.
package friendship
