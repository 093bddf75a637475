// Package envelope defines the message unit exchanged over a duplex
// connection.
//
// An Envelope is either an inbound request (a Type that selects a handler,
// optionally a continuation token in Cont) or an outbound message such as a
// reply:
//
//	{"type":"ws_action","action":"c1","ok":"pong"}
//	{"type":"ws_action","action":"c2","error":{...},"error_str":"..."}
//
// A reply is produced only when the request carried a non-zero token.
//
// Envelopes are built from generic decoded terms with FromMap, which is
// shared by the JSON and BERT decoding paths, and are serialized as JSON text
// with Encode.
package envelope
