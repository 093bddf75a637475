package envelope

import (
	"encoding/json"
	"fmt"
)

// FormField is one serialized UI field. On the wire it is the array
// [name, kind, value].
type FormField struct {
	Name  string
	Kind  string
	Value string
}

// MarshalJSON implements json.Marshaler.
func (f FormField) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]string{f.Name, f.Kind, f.Value})
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *FormField) UnmarshalJSON(data []byte) error {
	var parts []string
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	if len(parts) != 3 {
		return fmt.Errorf("envelope: form field has %d elements, want 3", len(parts))
	}
	f.Name, f.Kind, f.Value = parts[0], parts[1], parts[2]
	return nil
}

func formFromTerm(v any) ([]FormField, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("envelope: form is %T, want list", v)
	}
	out := make([]FormField, 0, len(items))
	for i, item := range items {
		parts, ok := item.([]any)
		if !ok || len(parts) != 3 {
			return nil, fmt.Errorf("envelope: form[%d] is not a (name, kind, value) triple", i)
		}
		var strs [3]string
		for j, p := range parts {
			s, ok := termString(p)
			if !ok {
				return nil, fmt.Errorf("envelope: form[%d][%d] is %T, want string", i, j, p)
			}
			strs[j] = s
		}
		out = append(out, FormField{Name: strs[0], Kind: strs[1], Value: strs[2]})
	}
	return out, nil
}
