package outbound

import (
	"context"
	"errors"
	"testing"

	"github.com/vango-dev/duplex/pkg/envelope"
)

type captureSender struct {
	frames []string
}

func (s *captureSender) Send(_ context.Context, env *envelope.Envelope) error {
	data, err := envelope.Encode(env)
	if err != nil {
		return err
	}
	s.frames = append(s.frames, string(data))
	return nil
}

func TestSendInput(t *testing.T) {
	s := &captureSender{}
	b := &Builder{Sender: s, Forms: TextForm}

	err := b.SendInput(context.Background(), "save", ParseFields([]string{"name=ann", "age=3"}))
	if err != nil {
		t.Fatalf("SendInput error: %v", err)
	}
	want := `{"type":"ws_action","action":"save","form":[["name","text","ann"],["age","text","3"]]}`
	if len(s.frames) != 1 || s.frames[0] != want {
		t.Fatalf("frames = %v, want [%s]", s.frames, want)
	}
}

func TestSendInput_EmptyForm(t *testing.T) {
	s := &captureSender{}
	b := &Builder{Sender: s, Forms: TextForm}

	if err := b.SendInput(context.Background(), "a", nil); err != nil {
		t.Fatalf("SendInput error: %v", err)
	}
	want := `{"type":"ws_action","action":"a","form":[]}`
	if s.frames[0] != want {
		t.Fatalf("frame = %s, want %s", s.frames[0], want)
	}

	// No serializer still sends an empty form.
	b.Forms = nil
	if err := b.SendInput(context.Background(), "a", Fields{{Name: "x"}}); err != nil {
		t.Fatalf("SendInput error: %v", err)
	}
	if s.frames[1] != want {
		t.Fatalf("frame = %s, want %s", s.frames[1], want)
	}
}

func TestSendInput_SerializerError(t *testing.T) {
	s := &captureSender{}
	b := &Builder{Sender: s, Forms: TextForm}
	if err := b.SendInput(context.Background(), "a", 42); err == nil {
		t.Fatal("expected error for unsupported element")
	}
	if len(s.frames) != 0 {
		t.Fatalf("frames = %v, want none", s.frames)
	}
}

func TestSendEvent(t *testing.T) {
	tests := []struct {
		name string
		ev   PointerEvent
		want string
	}{
		{
			"integers",
			PointerEvent{Type: "click", ClientX: 10, ClientY: 20},
			`{"type":"ws_action","action":7,"form":[["click","pterm","{10,20}"]]}`,
		},
		{
			"fractions",
			PointerEvent{Type: "mousemove", ClientX: 1.5, ClientY: -0.25},
			`{"type":"ws_action","action":7,"form":[["mousemove","pterm","{1.5,-0.25}"]]}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &captureSender{}
			b := &Builder{Sender: s}
			if err := b.SendEvent(context.Background(), 7, tt.ev); err != nil {
				t.Fatalf("SendEvent error: %v", err)
			}
			if s.frames[0] != tt.want {
				t.Fatalf("frame = %s, want %s", s.frames[0], tt.want)
			}
		})
	}
}

func TestNoSender(t *testing.T) {
	b := &Builder{}
	if err := b.SendEvent(context.Background(), "a", PointerEvent{}); !errors.Is(err, ErrNoSender) {
		t.Fatalf("SendEvent error = %v, want ErrNoSender", err)
	}
}

func TestParseFields(t *testing.T) {
	got := ParseFields([]string{"a=1", "flag", "b=x=y"})
	want := Fields{{"a", "1"}, {"flag", ""}, {"b", "x=y"}}
	if len(got) != len(want) {
		t.Fatalf("ParseFields = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("field %d = %v, want %v", i, got[i], want[i])
		}
	}
}
