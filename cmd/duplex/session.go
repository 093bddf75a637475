package main

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/vango-dev/duplex/pkg/client"
	"github.com/vango-dev/duplex/pkg/envelope"
	"github.com/vango-dev/duplex/pkg/outbound"
)

// session keeps one live client.Conn and replaces it on reload.
type session struct {
	cfg    client.Config
	deps   client.Deps
	args   any
	logger *slog.Logger

	mu   sync.Mutex
	ctx  context.Context
	conn *client.Conn
	done bool
}

func newSession(cfg client.Config, deps client.Deps, args any, logger *slog.Logger) *session {
	s := &session{cfg: cfg, args: args, logger: logger}
	deps.Reloader = s
	s.deps = deps
	return s
}

// start creates the first connection.
func (s *session) start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	return s.dial()
}

func (s *session) dial() error {
	conn, err := client.New(s.cfg, s.deps)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return nil
	}
	s.conn = conn
	ctx := s.ctx
	s.mu.Unlock()

	s.logger.Info("connecting", "url", conn.URL(), "conn", conn.ID())
	if err := conn.Start(ctx, s.args); err != nil {
		// The connection keeps retrying on its own.
		s.logger.Warn("initial dial failed", "error", err)
	}
	return nil
}

// Reload discards the current connection and starts a fresh one. It is
// called from the old connection's goroutines, so the new dial runs on its
// own goroutine.
func (s *session) Reload() error {
	s.mu.Lock()
	old := s.conn
	s.conn = nil
	done := s.done
	s.mu.Unlock()

	if old != nil {
		old.Close()
	}
	if done {
		return nil
	}
	go func() {
		if err := s.dial(); err != nil {
			s.logger.Error("reload failed", "error", err)
		}
	}()
	return nil
}

// Send writes through the current connection.
func (s *session) Send(ctx context.Context, env *envelope.Envelope) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return client.ErrNotOpen
	}
	return conn.Send(ctx, env)
}

func (s *session) close() {
	s.mu.Lock()
	s.done = true
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// sendLine sends one line of user input.
//
//	action key=value ...        ws_action with a text form
//	!action type x y            ws_action with a pointer event
func sendLine(ctx context.Context, b *outbound.Builder, line string) error {
	words := strings.Fields(line)
	if len(words) == 0 {
		return nil
	}
	action := words[0]
	if strings.HasPrefix(action, "!") {
		ev, err := parsePointer(words[1:])
		if err != nil {
			return err
		}
		return b.SendEvent(ctx, actionValue(strings.TrimPrefix(action, "!")), ev)
	}
	return b.SendInput(ctx, actionValue(action), outbound.ParseFields(words[1:]))
}

// actionValue sends numeric actions as numbers.
func actionValue(s string) any {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	return s
}

func parsePointer(words []string) (outbound.PointerEvent, error) {
	var ev outbound.PointerEvent
	if len(words) != 3 {
		return ev, errUsage("pointer events need: !action type x y")
	}
	x, err := strconv.ParseFloat(words[1], 64)
	if err != nil {
		return ev, errUsage("x: " + err.Error())
	}
	y, err := strconv.ParseFloat(words[2], 64)
	if err != nil {
		return ev, errUsage("y: " + err.Error())
	}
	return outbound.PointerEvent{Type: words[0], ClientX: x, ClientY: y}, nil
}

type errUsage string

func (e errUsage) Error() string { return string(e) }
