package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"testing"

	"github.com/vango-dev/duplex/pkg/client"
	"github.com/vango-dev/duplex/pkg/envelope"
	"github.com/vango-dev/duplex/pkg/outbound"
)

type lineSender struct {
	frames []string
}

func (s *lineSender) Send(_ context.Context, env *envelope.Envelope) error {
	data, err := envelope.Encode(env)
	if err != nil {
		return err
	}
	s.frames = append(s.frames, string(data))
	return nil
}

func TestSendLine(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{"save name=ann", `{"type":"ws_action","action":"save","form":[["name","text","ann"]]}`},
		{"7", `{"type":"ws_action","action":7,"form":[]}`},
		{"!3 click 10 20.5", `{"type":"ws_action","action":3,"form":[["click","pterm","{10,20.5}"]]}`},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			s := &lineSender{}
			b := &outbound.Builder{Sender: s, Forms: outbound.TextForm}
			if err := sendLine(context.Background(), b, tt.line); err != nil {
				t.Fatalf("sendLine error: %v", err)
			}
			if len(s.frames) != 1 || s.frames[0] != tt.want {
				t.Fatalf("frames = %v, want [%s]", s.frames, tt.want)
			}
		})
	}
}

func TestSendLine_Blank(t *testing.T) {
	s := &lineSender{}
	b := &outbound.Builder{Sender: s, Forms: outbound.TextForm}
	if err := sendLine(context.Background(), b, "   "); err != nil {
		t.Fatalf("sendLine error: %v", err)
	}
	if len(s.frames) != 0 {
		t.Fatalf("frames = %v, want none", s.frames)
	}
}

func TestSendLine_BadPointer(t *testing.T) {
	b := &outbound.Builder{Sender: &lineSender{}, Forms: outbound.TextForm}

	for _, line := range []string{"!move click", "!move click x 1", "!move click 1 y"} {
		err := sendLine(context.Background(), b, line)
		var usage errUsage
		if !errors.As(err, &usage) {
			t.Fatalf("sendLine(%q) error = %v, want usage error", line, err)
		}
	}
}

func TestSession_SendWithoutConn(t *testing.T) {
	s := newSession(client.Config{Host: "localhost:1"}, client.Deps{}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if s.deps.Reloader != s {
		t.Fatalf("session is not installed as reloader")
	}
	err := s.Send(context.Background(), &envelope.Envelope{Type: "ws_action"})
	if !errors.Is(err, client.ErrNotOpen) {
		t.Fatalf("Send error = %v, want ErrNotOpen", err)
	}
}

func TestShellEvaluator(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	e := shellEvaluator{shell: "sh"}

	got, err := e.Eval(context.Background(), "echo hello")
	if err != nil {
		t.Fatalf("Eval error: %v", err)
	}
	if got != "hello" {
		t.Fatalf("Eval = %q, want %q", got, "hello")
	}

	if _, err := e.Eval(context.Background(), "echo boom >&2; exit 3"); err == nil {
		t.Fatalf("Eval of failing command returned nil error")
	}
}
