package console

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vango-dev/duplex/pkg/envelope"
)

// RemoteHandler is a slog.Handler that sends each record to the peer as
// {"type":"log","log":[level, message, attrs]}.
type RemoteHandler struct {
	sender   Sender
	fallback slog.Handler
	level    slog.Leveler
	attrs    []slog.Attr
	groups   []string
}

// NewRemoteHandler returns a handler sending records through sender.
// If fallback is non-nil, records that fail to send are passed to it and it
// decides which levels are enabled; otherwise everything at Info and above
// is sent.
func NewRemoteHandler(sender Sender, fallback slog.Handler) *RemoteHandler {
	return &RemoteHandler{sender: sender, fallback: fallback}
}

// WithLevel returns a copy of h with its own minimum level.
func (h *RemoteHandler) WithLevel(level slog.Leveler) *RemoteHandler {
	h2 := h.clone()
	h2.level = level
	return h2
}

func (h *RemoteHandler) Enabled(ctx context.Context, level slog.Level) bool {
	switch {
	case h.level != nil:
		return level >= h.level.Level()
	case h.fallback != nil:
		return h.fallback.Enabled(ctx, level)
	default:
		return level >= slog.LevelInfo
	}
}

func (h *RemoteHandler) Handle(ctx context.Context, r slog.Record) error {
	attrs := make([]slog.Attr, 0, r.NumAttrs())
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, a)
		return true
	})

	fields := make(map[string]any, len(h.attrs)+len(attrs))
	addAttrs(fields, h.attrs)
	addAttrs(nest(fields, h.groups), attrs)

	env := &envelope.Envelope{
		Type: envelope.TypeLog,
		Log:  []any{strings.ToLower(r.Level.String()), r.Message, fields},
	}
	err := h.sender.Send(ctx, env)
	if err == nil {
		return nil
	}
	if h.fallback != nil {
		return h.fallback.Handle(ctx, r)
	}
	return err
}

func (h *RemoteHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	h2 := h.clone()
	// Attributes added after WithGroup belong to the open groups.
	grouped := attrs
	for i := len(h.groups) - 1; i >= 0; i-- {
		grouped = []slog.Attr{{Key: h.groups[i], Value: slog.GroupValue(grouped...)}}
	}
	h2.attrs = append(h2.attrs, grouped...)
	if h.fallback != nil {
		h2.fallback = h.fallback.WithAttrs(attrs)
	}
	return h2
}

func (h *RemoteHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := h.clone()
	h2.groups = append(h2.groups, name)
	if h.fallback != nil {
		h2.fallback = h.fallback.WithGroup(name)
	}
	return h2
}

func (h *RemoteHandler) clone() *RemoteHandler {
	return &RemoteHandler{
		sender:   h.sender,
		fallback: h.fallback,
		level:    h.level,
		attrs:    append([]slog.Attr(nil), h.attrs...),
		groups:   append([]string(nil), h.groups...),
	}
}

// nest returns the map for the innermost group, creating maps as needed.
func nest(m map[string]any, groups []string) map[string]any {
	for _, g := range groups {
		sub, ok := m[g].(map[string]any)
		if !ok {
			sub = make(map[string]any)
			m[g] = sub
		}
		m = sub
	}
	return m
}

func addAttrs(m map[string]any, attrs []slog.Attr) {
	for _, a := range attrs {
		if a.Equal(slog.Attr{}) {
			continue
		}
		v := a.Value.Resolve()
		if v.Kind() == slog.KindGroup {
			group := v.Group()
			if a.Key == "" {
				addAttrs(m, group)
				continue
			}
			if len(group) == 0 {
				continue
			}
			addAttrs(nest(m, []string{a.Key}), group)
			continue
		}
		m[a.Key] = attrValue(v)
	}
}

func attrValue(v slog.Value) any {
	switch v.Kind() {
	case slog.KindTime:
		return v.Time().Format(time.RFC3339Nano)
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindAny:
		switch x := v.Any().(type) {
		case error:
			return x.Error()
		case fmt.Stringer:
			return x.String()
		default:
			return x
		}
	default:
		return v.Any()
	}
}
