// Package dispatch routes decoded envelopes to their handlers and sends
// correlated replies.
//
// An inbound envelope names its handler in the "type" field. If it also
// carries a continuation token in "cont", the handler's result is sent back
// with the token mirrored in "action":
//
//	{"type":"ws_action","action":<token>,"ok":<value>}
//
// or, on failure,
//
//	{"type":"ws_action","action":<token>,"error":<value>,"error_str":<string>}
//
// Envelopes without a token are fire-and-forget: successes are silent and
// failures are only logged. Handle never returns an error and never panics;
// the connection stays up whatever a handler does.
//
// Handlers run synchronously on the caller's goroutine. A bundle dispatches
// its sub-messages in order, each with its own reply, before returning. A
// sub-message that failed to decode fails on its own with D001.
package dispatch
