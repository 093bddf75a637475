package outbound

import (
	"fmt"
	"strings"

	"github.com/vango-dev/duplex/pkg/envelope"
)

// FieldKindText is the kind TextForm assigns to every field.
const FieldKindText = "text"

// Fields is an element made of ordered name/value pairs.
type Fields []Field

// Field is one named value.
type Field struct {
	Name  string
	Value string
}

// ParseFields parses "key=value" words. A word without "=" is a field with
// an empty value.
func ParseFields(words []string) Fields {
	fields := make(Fields, 0, len(words))
	for _, w := range words {
		name, value, _ := strings.Cut(w, "=")
		fields = append(fields, Field{Name: name, Value: value})
	}
	return fields
}

// TextForm serializes Fields (or *Fields) as text inputs.
var TextForm FormSerializer = FormFunc(textForm)

func textForm(el any) ([]envelope.FormField, error) {
	var fields Fields
	switch v := el.(type) {
	case nil:
		return []envelope.FormField{}, nil
	case Fields:
		fields = v
	case *Fields:
		if v != nil {
			fields = *v
		}
	default:
		return nil, fmt.Errorf("outbound: cannot serialize %T", el)
	}
	out := make([]envelope.FormField, len(fields))
	for i, f := range fields {
		out[i] = envelope.FormField{Name: f.Name, Kind: FieldKindText, Value: f.Value}
	}
	return out, nil
}
