// Package codec picks the decoder for an inbound WebSocket payload.
//
// There is no out-of-band format tag: a text frame whose first byte is '{'
// is JSON, a binary frame is BERT, and anything else is rejected.
package codec

import (
	"errors"
	"fmt"

	"github.com/vango-dev/duplex/pkg/bert"
	"github.com/vango-dev/duplex/pkg/envelope"
)

// Format identifies a wire encoding.
type Format uint8

const (
	FormatUnknown Format = iota
	FormatJSON
	FormatBERT
)

// String returns the string representation of the format.
func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatBERT:
		return "bert"
	default:
		return "unknown"
	}
}

// Codec errors.
var (
	// ErrDecode is returned when a payload of a recognized format fails to parse.
	ErrDecode = errors.New("codec: decode error")

	// ErrUnknownFormat is returned for payloads that are neither JSON text
	// nor binary.
	ErrUnknownFormat = errors.New("codec: unknown format")
)

// Frame is one inbound transport message.
type Frame struct {
	// Binary is true for binary WebSocket frames.
	Binary bool
	Data   []byte
}

// TextFrame returns a text frame.
func TextFrame(s string) Frame {
	return Frame{Data: []byte(s)}
}

// BinaryFrame returns a binary frame.
func BinaryFrame(b []byte) Frame {
	return Frame{Binary: true, Data: b}
}

// Detect returns the format of f without decoding it.
func Detect(f Frame) Format {
	if f.Binary {
		return FormatBERT
	}
	if len(f.Data) > 0 && f.Data[0] == '{' {
		return FormatJSON
	}
	return FormatUnknown
}

// Decoder holds the two format decoders. The zero value is not usable; use
// New or Default.
type Decoder struct {
	JSON func([]byte) (*envelope.Envelope, error)
	BERT func([]byte) (*envelope.Envelope, error)
}

// New returns a decoder using the given format decoders.
func New(jsonDec, bertDec func([]byte) (*envelope.Envelope, error)) *Decoder {
	return &Decoder{JSON: jsonDec, BERT: bertDec}
}

// Default returns a decoder wired to envelope.DecodeJSON and
// bert.DecodeEnvelope.
func Default() *Decoder {
	return New(envelope.DecodeJSON, bert.DecodeEnvelope)
}

// Decode detects the format of f and decodes it.
func (d *Decoder) Decode(f Frame) (*envelope.Envelope, Format, error) {
	format := Detect(f)

	var (
		env *envelope.Envelope
		err error
	)
	switch format {
	case FormatJSON:
		env, err = d.JSON(f.Data)
	case FormatBERT:
		env, err = d.BERT(f.Data)
	default:
		return nil, format, fmt.Errorf("%w: %s", ErrUnknownFormat, preview(f.Data))
	}
	if err != nil {
		return nil, format, fmt.Errorf("%w: %s: %w", ErrDecode, format, err)
	}
	return env, format, nil
}

// Decode decodes f with the default decoders.
func Decode(f Frame) (*envelope.Envelope, Format, error) {
	return Default().Decode(f)
}

func preview(b []byte) string {
	const max = 32
	if len(b) > max {
		return fmt.Sprintf("%q...", b[:max])
	}
	return fmt.Sprintf("%q", b)
}
