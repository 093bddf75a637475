// Package console holds the process-wide logging destination.
//
// Every duplex component logs through Logger(). The server can ask for log
// output to be streamed back over the socket (the redirect_console request);
// Redirect swaps the destination for a handler that sends each record as a
// "log" envelope. The last call to SetLogger, Redirect or Reset wins.
package console

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/vango-dev/duplex/pkg/envelope"
)

// Sender writes one envelope to the peer.
type Sender interface {
	Send(ctx context.Context, env *envelope.Envelope) error
}

var (
	// base is the logger installed by SetLogger; remote handlers fall back to it.
	base atomic.Pointer[slog.Logger]
	// current is what Logger returns.
	current atomic.Pointer[slog.Logger]
)

// Logger returns the current process-wide logger.
func Logger() *slog.Logger {
	if l := current.Load(); l != nil {
		return l
	}
	return slog.Default()
}

// SetLogger installs l as the local logger and makes it current.
func SetLogger(l *slog.Logger) {
	base.Store(l)
	current.Store(l)
}

// Redirect makes the current logger stream records to sender. Records that
// cannot be sent are written to the local logger instead.
func Redirect(sender Sender) {
	current.Store(slog.New(NewRemoteHandler(sender, localHandler())))
}

// Reset restores the local logger.
func Reset() {
	current.Store(base.Load())
}

// Redirected reports whether the current logger streams to a peer.
func Redirected() bool {
	l := current.Load()
	if l == nil {
		return false
	}
	_, ok := l.Handler().(*RemoteHandler)
	return ok
}

func localHandler() slog.Handler {
	if l := base.Load(); l != nil {
		return l.Handler()
	}
	return slog.Default().Handler()
}
