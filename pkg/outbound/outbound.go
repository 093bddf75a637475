// Package outbound builds the client-originated ws_action messages.
package outbound

import (
	"context"
	"errors"
	"strconv"

	"github.com/vango-dev/duplex/pkg/envelope"
)

// FieldKindPointer is the form kind used for pointer event coordinates.
const FieldKindPointer = "pterm"

// ErrNoSender is returned by a Builder without a Sender.
var ErrNoSender = errors.New("outbound: no sender")

// Sender writes one envelope to the peer.
type Sender interface {
	Send(ctx context.Context, env *envelope.Envelope) error
}

// FormSerializer turns a UI element into ordered form fields.
type FormSerializer interface {
	FormData(el any) ([]envelope.FormField, error)
}

// FormFunc adapts a function to FormSerializer.
type FormFunc func(el any) ([]envelope.FormField, error)

func (f FormFunc) FormData(el any) ([]envelope.FormField, error) { return f(el) }

// PointerEvent is the part of a UI event sent with SendEvent.
type PointerEvent struct {
	Type    string
	ClientX float64
	ClientY float64
}

// Builder sends ws_action messages. Forms may be nil if SendInput is unused.
type Builder struct {
	Sender Sender
	Forms  FormSerializer
}

// Input returns the envelope SendInput would send.
func (b *Builder) Input(action any, el any) (*envelope.Envelope, error) {
	var form []envelope.FormField
	if b.Forms != nil {
		var err error
		form, err = b.Forms.FormData(el)
		if err != nil {
			return nil, err
		}
	}
	if form == nil {
		form = []envelope.FormField{}
	}
	return &envelope.Envelope{Type: envelope.TypeAction, Action: action, Form: form}, nil
}

// SendInput sends the serialized state of el under action.
func (b *Builder) SendInput(ctx context.Context, action any, el any) error {
	env, err := b.Input(action, el)
	if err != nil {
		return err
	}
	return b.send(ctx, env)
}

// Event returns the envelope SendEvent would send.
func Event(action any, ev PointerEvent) *envelope.Envelope {
	coords := "{" + formatCoord(ev.ClientX) + "," + formatCoord(ev.ClientY) + "}"
	return &envelope.Envelope{
		Type:   envelope.TypeAction,
		Action: action,
		Form:   []envelope.FormField{{Name: ev.Type, Kind: FieldKindPointer, Value: coords}},
	}
}

// SendEvent sends a pointer event under action.
func (b *Builder) SendEvent(ctx context.Context, action any, ev PointerEvent) error {
	return b.send(ctx, Event(action, ev))
}

func (b *Builder) send(ctx context.Context, env *envelope.Envelope) error {
	if b.Sender == nil {
		return ErrNoSender
	}
	return b.Sender.Send(ctx, env)
}

func formatCoord(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
