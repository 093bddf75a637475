// Package client manages the duplex WebSocket connection.
//
// A Conn dials the server, announces itself with a ws_start envelope and a
// ws_datetime clock sample, then reads frames on a single goroutine. Every
// frame is decoded (JSON text or BERT binary) and dispatched synchronously,
// so a request is fully handled and replied to before the next frame is
// read.
//
// State machine:
//
//	Disconnected -> Connecting -> Open -> Reconnecting -> (reload | Connecting)
//	any state    -> Closed (Close, terminal)
//
// When the socket drops, one reconnect timer is armed. In ReconnectReload
// mode its expiry calls the Reloader, which is expected to discard this Conn
// and start a fresh one. In ReconnectResocket mode the same Conn redials
// with exponential backoff, keeping its dispatcher and collaborators.
package client
