package bert

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/vango-dev/duplex/pkg/envelope"
)

// DecodeEnvelope decodes a binary frame into an envelope. The top-level term
// (and each bundled message) must be a map or a proplist of 2-tuples.
func DecodeEnvelope(data []byte) (*envelope.Envelope, error) {
	term, err := Decode(data)
	if err != nil {
		return nil, err
	}
	m, err := toObject(term)
	if err != nil {
		return nil, err
	}
	normalize(m)
	return envelope.FromMap(m)
}

// EncodeEnvelope encodes an envelope as a BERT map with atom keys. The type
// value is written as an atom.
func EncodeEnvelope(env *envelope.Envelope) ([]byte, error) {
	data, err := envelope.Encode(env)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	atomizeTypes(m)
	return Encode(m)
}

func atomizeTypes(m map[string]any) {
	if s, ok := m["type"].(string); ok {
		m["type"] = Atom(s)
	}
	if msgs, ok := m["messages"].([]any); ok {
		for _, item := range msgs {
			if sub, ok := item.(map[string]any); ok {
				atomizeTypes(sub)
			}
		}
	}
}

func toObject(v any) (map[string]any, error) {
	switch t := v.(type) {
	case map[string]any:
		return t, nil
	case []any:
		return proplistToMap(t)
	default:
		return nil, fmt.Errorf("%w: got %T", envelope.ErrNotObject, v)
	}
}

func proplistToMap(items []any) (map[string]any, error) {
	out := make(map[string]any, len(items))
	for i, item := range items {
		pair, ok := item.(Tuple)
		if !ok || len(pair) != 2 {
			return nil, fmt.Errorf("%w: proplist element %d is not a 2-tuple", envelope.ErrNotObject, i)
		}
		key, ok := keyString(pair[0])
		if !ok {
			return nil, ErrBadMapKey
		}
		out[key] = pair[1]
	}
	return out, nil
}

// normalize turns bundled messages into objects and tuples into lists so the
// generic envelope builder can consume the term. Bundled messages that are
// not objects are left for the envelope builder to mark invalid.
func normalize(m map[string]any) {
	for k, v := range m {
		if k != "messages" {
			m[k] = plain(v)
			continue
		}
		items, ok := v.([]any)
		if !ok {
			m[k] = plain(v)
			continue
		}
		msgs := make([]any, 0, len(items))
		for _, item := range items {
			sub, err := toObject(item)
			if err != nil {
				msgs = append(msgs, plain(item))
				continue
			}
			normalize(sub)
			msgs = append(msgs, sub)
		}
		m[k] = msgs
	}
}

func plain(v any) any {
	switch t := v.(type) {
	case Tuple:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = plain(item)
		}
		return out
	case []any:
		for i, item := range t {
			t[i] = plain(item)
		}
		return t
	case map[string]any:
		for k, item := range t {
			t[k] = plain(item)
		}
		return t
	default:
		return v
	}
}
