package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Token is a continuation token. It is normally a string or a number and is
// mirrored verbatim into the "action" field of the reply. Any other value is
// kept opaque and echoed back unchanged.
type Token struct {
	str   string
	num   json.Number
	raw   any
	isNum bool
	set   bool
}

// StringToken returns a string token.
func StringToken(s string) Token {
	return Token{str: s, set: true}
}

// NumberToken returns a numeric token.
func NumberToken(n json.Number) Token {
	return Token{num: n, isNum: true, set: true}
}

// TokenOf converts a decoded term into a token. Strings, json.Number and Go
// numeric types become string or number tokens; other values are kept
// opaque. Only non-finite floats are rejected, since no reply could carry
// them.
func TokenOf(v any) (Token, error) {
	switch t := v.(type) {
	case nil:
		return Token{}, nil
	case Token:
		return t, nil
	case string:
		return StringToken(t), nil
	case []byte:
		return StringToken(string(t)), nil
	case json.Number:
		return NumberToken(t), nil
	case int:
		return NumberToken(json.Number(strconv.Itoa(t))), nil
	case int64:
		return NumberToken(json.Number(strconv.FormatInt(t, 10))), nil
	case uint64:
		return NumberToken(json.Number(strconv.FormatUint(t, 10))), nil
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return Token{}, fmt.Errorf("envelope: continuation token %v is not finite", t)
		}
		return NumberToken(json.Number(strconv.FormatFloat(t, 'f', -1, 64))), nil
	default:
		return Token{raw: v, set: true}, nil
	}
}

// IsZero reports whether the token is absent or empty. Empty strings, the
// number zero and false do not request a reply.
func (t Token) IsZero() bool {
	if !t.set {
		return true
	}
	if t.raw != nil {
		b, ok := t.raw.(bool)
		return ok && !b
	}
	if t.isNum {
		f, err := t.num.Float64()
		return err == nil && f == 0
	}
	return t.str == ""
}

// IsNumber reports whether the token is numeric.
func (t Token) IsNumber() bool {
	return t.isNum
}

// String returns the token text.
func (t Token) String() string {
	if t.raw != nil {
		return fmt.Sprint(t.raw)
	}
	if t.isNum {
		return t.num.String()
	}
	return t.str
}

// Value returns the token as a generic value (string, json.Number or the
// opaque term).
func (t Token) Value() any {
	if !t.set {
		return nil
	}
	if t.raw != nil {
		return t.raw
	}
	if t.isNum {
		return t.num
	}
	return t.str
}

// Equal reports whether two tokens have the same kind and text.
func (t Token) Equal(o Token) bool {
	return t.set == o.set && t.isNum == o.isNum && t.String() == o.String()
}

// MarshalJSON implements json.Marshaler.
func (t Token) MarshalJSON() ([]byte, error) {
	if !t.set {
		return []byte("null"), nil
	}
	if t.raw != nil {
		return json.Marshal(t.raw)
	}
	if t.isNum {
		return []byte(t.num.String()), nil
	}
	return json.Marshal(t.str)
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Token) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*t = Token{}
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}
	tok, err := TokenOf(v)
	if err != nil {
		return err
	}
	*t = tok
	return nil
}
