package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Well-known envelope types.
const (
	TypeAction   = "ws_action"
	TypeStart    = "ws_start"
	TypeDatetime = "ws_datetime"
	TypeLog      = "log"
)

// EncodingFailure is the error value sent when a reply cannot be serialized.
const EncodingFailure = "encoding failure"

// Envelope errors.
var (
	// ErrEncoding matches every *EncodeError.
	ErrEncoding = errors.New("envelope: encoding failure")

	// ErrNotObject is returned when a decoded term is not a key/value object.
	ErrNotObject = errors.New("envelope: payload is not an object")
)

// EncodeError reports a value that could not be serialized.
type EncodeError struct {
	Err error
}

func (e *EncodeError) Error() string {
	return "envelope: encode: " + e.Err.Error()
}

func (e *EncodeError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrEncoding) true for every EncodeError.
func (e *EncodeError) Is(target error) bool { return target == ErrEncoding }

// Envelope is the canonical in-memory message.
type Envelope struct {
	// Type selects the handler on the receiving side.
	Type string

	// Cont is the continuation token of a request expecting a reply.
	Cont Token

	// Action names the server-side action of a ws_action message. For
	// replies it mirrors the request's continuation token.
	Action any

	// Args is a handler-specific payload.
	Args any

	// Form carries serialized UI state. A non-nil empty slice is sent as [].
	Form []FormField

	// OK is the success result of a reply. See HasOK.
	OK any

	// Error and ErrorStr carry the failure result of a reply.
	Error    any
	ErrorStr string

	// Type-specific fields.
	Cookie   string
	Code     string
	Messages []*Envelope
	Log      any

	// Extra holds keys with no dedicated field, in decoded form.
	Extra map[string]any

	// Invalid is set on a bundled message that could not be decoded. Its
	// Type and Cont are kept when they were readable. It is never encoded.
	Invalid error

	hasOK bool
}

var knownKeys = map[string]bool{
	"type": true, "cont": true, "action": true, "args": true, "form": true,
	"ok": true, "error": true, "error_str": true, "cookie": true, "code": true,
	"messages": true, "log": true,
}

// NewReply builds a success reply for token.
func NewReply(token Token, ok any) *Envelope {
	return &Envelope{Type: TypeAction, Action: token, OK: ok, hasOK: true}
}

// NewErrorReply builds a failure reply for token.
func NewErrorReply(token Token, errValue any, errStr string) *Envelope {
	return &Envelope{Type: TypeAction, Action: token, Error: errValue, ErrorStr: errStr}
}

// HasOK reports whether the envelope carries an ok result, including a nil one.
func (e *Envelope) HasOK() bool {
	return e.hasOK
}

// SetOK sets the ok result and clears any error.
func (e *Envelope) SetOK(v any) {
	e.OK = v
	e.hasOK = true
	e.Error = nil
	e.ErrorStr = ""
}

// SetError sets the error result and clears any ok value.
func (e *Envelope) SetError(v any, str string) {
	e.OK = nil
	e.hasOK = false
	e.Error = v
	e.ErrorStr = str
}

// IsReply reports whether the envelope has the reply shape.
func (e *Envelope) IsReply() bool {
	return e.Type == TypeAction && (e.hasOK || e.Error != nil)
}

// Field returns a value from Extra.
func (e *Envelope) Field(name string) (any, bool) {
	if e.Extra == nil {
		return nil, false
	}
	v, ok := e.Extra[name]
	return v, ok
}

type wireEnvelope struct {
	Type     string          `json:"type"`
	Cont     *Token          `json:"cont,omitempty"`
	Action   any             `json:"action,omitempty"`
	Args     any             `json:"args,omitempty"`
	Form     *[]FormField    `json:"form,omitempty"`
	OK       json.RawMessage `json:"ok,omitempty"`
	Error    any             `json:"error,omitempty"`
	ErrorStr string          `json:"error_str,omitempty"`
	Cookie   string          `json:"cookie,omitempty"`
	Code     string          `json:"code,omitempty"`
	Messages []*Envelope     `json:"messages,omitempty"`
	Log      any             `json:"log,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (e *Envelope) MarshalJSON() ([]byte, error) {
	w := wireEnvelope{
		Type:     e.Type,
		Action:   e.Action,
		Args:     e.Args,
		Error:    e.Error,
		ErrorStr: e.ErrorStr,
		Cookie:   e.Cookie,
		Code:     e.Code,
		Messages: e.Messages,
		Log:      e.Log,
	}
	if e.Cont.set {
		cont := e.Cont
		w.Cont = &cont
	}
	if e.Form != nil {
		form := e.Form
		w.Form = &form
	}
	if e.hasOK {
		raw, err := json.Marshal(e.OK)
		if err != nil {
			return nil, err
		}
		w.OK = raw
	}

	data, err := json.Marshal(w)
	if err != nil {
		return nil, err
	}
	if len(e.Extra) == 0 {
		return data, nil
	}

	extra := make(map[string]any, len(e.Extra))
	for k, v := range e.Extra {
		if !knownKeys[k] {
			extra[k] = v
		}
	}
	if len(extra) == 0 {
		return data, nil
	}
	extraData, err := json.Marshal(extra)
	if err != nil {
		return nil, err
	}
	// Splice {"a":1} and {"b":2} into {"a":1,"b":2}.
	out := make([]byte, 0, len(data)+len(extraData))
	out = append(out, data[:len(data)-1]...)
	out = append(out, ',')
	out = append(out, extraData[1:]...)
	return out, nil
}

// Encode serializes the envelope as JSON text. Any failure is returned as
// an *EncodeError.
func Encode(e *Envelope) ([]byte, error) {
	if e == nil {
		return nil, &EncodeError{Err: errors.New("nil envelope")}
	}
	data, err := e.MarshalJSON()
	if err != nil {
		return nil, &EncodeError{Err: err}
	}
	return data, nil
}

// DecodeJSON parses JSON text into an envelope. Numbers are kept as
// json.Number so numeric tokens round-trip unchanged.
func DecodeJSON(data []byte) (*Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("envelope: trailing data after JSON object")
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, ErrNotObject
	}
	return FromMap(m)
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	env, err := DecodeJSON(data)
	if err != nil {
		return err
	}
	*e = *env
	return nil
}

// FromMap builds an envelope from a decoded key/value term. Nested messages
// may be maps or *Envelope values.
func FromMap(m map[string]any) (*Envelope, error) {
	e := &Envelope{}

	for key, v := range m {
		switch key {
		case "type":
			if s, ok := termString(v); ok {
				e.Type = s
			} else if v != nil {
				// Non-string types are kept so the lookup fails with a reply.
				e.Type = fmt.Sprint(v)
			}
		case "cont":
			tok, err := TokenOf(v)
			if err != nil {
				return nil, err
			}
			e.Cont = tok
		case "action":
			e.Action = v
		case "args":
			e.Args = v
		case "form":
			if v == nil {
				continue
			}
			form, err := formFromTerm(v)
			if err != nil {
				return nil, err
			}
			e.Form = form
		case "ok":
			e.OK = v
			e.hasOK = true
		case "error":
			e.Error = v
		case "error_str", "cookie", "code":
			if v == nil {
				continue
			}
			s, ok := termString(v)
			if !ok {
				return nil, fmt.Errorf("envelope: %s is %T, want string", key, v)
			}
			switch key {
			case "error_str":
				e.ErrorStr = s
			case "cookie":
				e.Cookie = s
			default:
				e.Code = s
			}
		case "messages":
			msgs, err := messagesFromTerm(v)
			if err != nil {
				return nil, err
			}
			e.Messages = msgs
		case "log":
			e.Log = v
		default:
			if e.Extra == nil {
				e.Extra = make(map[string]any)
			}
			e.Extra[key] = v
		}
	}
	return e, nil
}

func messagesFromTerm(v any) ([]*Envelope, error) {
	if v == nil {
		return nil, nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("envelope: messages is %T, want list", v)
	}
	out := make([]*Envelope, 0, len(items))
	for i, item := range items {
		switch t := item.(type) {
		case *Envelope:
			out = append(out, t)
		case map[string]any:
			sub, err := FromMap(t)
			if err != nil {
				sub = invalidMessage(t, fmt.Errorf("envelope: messages[%d]: %w", i, err))
			}
			out = append(out, sub)
		default:
			out = append(out, invalidMessage(nil, fmt.Errorf("envelope: messages[%d]: %w", i, ErrNotObject)))
		}
	}
	return out, nil
}

// invalidMessage stands in for a bundled message that failed to decode, so
// its siblings are still handled.
func invalidMessage(m map[string]any, err error) *Envelope {
	e := &Envelope{Invalid: err}
	if s, ok := termString(m["type"]); ok {
		e.Type = s
	}
	if tok, terr := TokenOf(m["cont"]); terr == nil {
		e.Cont = tok
	}
	return e
}

func termString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case []byte:
		return string(t), true
	default:
		return "", false
	}
}
