package bert

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"sort"
)

// Encoder appends external terms to an internal buffer.
type Encoder struct {
	buf []byte
}

// NewEncoder creates an encoder with a default initial capacity.
func NewEncoder() *Encoder {
	return &Encoder{buf: make([]byte, 0, 256)}
}

// Bytes returns the encoded bytes.
func (e *Encoder) Bytes() []byte {
	return e.buf
}

// Encode encodes v as a complete external term, version byte included.
func Encode(v any) ([]byte, error) {
	e := NewEncoder()
	e.buf = append(e.buf, Version)
	if err := e.WriteTerm(v); err != nil {
		return nil, err
	}
	return e.buf, nil
}

func (e *Encoder) writeUint16(v uint16) {
	e.buf = append(e.buf, byte(v>>8), byte(v))
}

func (e *Encoder) writeUint32(v uint32) {
	e.buf = append(e.buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func (e *Encoder) writeAtom(name string) {
	if len(name) <= math.MaxUint8 {
		e.buf = append(e.buf, tagSmallAtomUTF8, byte(len(name)))
	} else {
		e.buf = append(e.buf, tagAtomUTF8)
		e.writeUint16(uint16(len(name)))
	}
	e.buf = append(e.buf, name...)
}

func (e *Encoder) writeBinary(b []byte) {
	e.buf = append(e.buf, tagBinary)
	e.writeUint32(uint32(len(b)))
	e.buf = append(e.buf, b...)
}

func (e *Encoder) writeInt(v int64) {
	switch {
	case v >= 0 && v <= math.MaxUint8:
		e.buf = append(e.buf, tagSmallInteger, byte(v))
	case v >= math.MinInt32 && v <= math.MaxInt32:
		e.buf = append(e.buf, tagInteger)
		e.writeUint32(uint32(int32(v)))
	default:
		e.writeBig(big.NewInt(v))
	}
}

func (e *Encoder) writeBig(v *big.Int) {
	be := new(big.Int).Abs(v).Bytes()
	n := len(be)
	if n <= math.MaxUint8 {
		e.buf = append(e.buf, tagSmallBig, byte(n))
	} else {
		e.buf = append(e.buf, tagLargeBig)
		e.writeUint32(uint32(n))
	}
	sign := byte(0)
	if v.Sign() < 0 {
		sign = 1
	}
	e.buf = append(e.buf, sign)
	for i := n - 1; i >= 0; i-- {
		e.buf = append(e.buf, be[i])
	}
}

func (e *Encoder) writeFloat(f float64) {
	bits := math.Float64bits(f)
	e.buf = append(e.buf, tagNewFloat,
		byte(bits>>56), byte(bits>>48), byte(bits>>40), byte(bits>>32),
		byte(bits>>24), byte(bits>>16), byte(bits>>8), byte(bits))
}

func (e *Encoder) writeList(items []any) error {
	if len(items) == 0 {
		e.buf = append(e.buf, tagNil)
		return nil
	}
	e.buf = append(e.buf, tagList)
	e.writeUint32(uint32(len(items)))
	for _, item := range items {
		if err := e.WriteTerm(item); err != nil {
			return err
		}
	}
	e.buf = append(e.buf, tagNil)
	return nil
}

// WriteTerm appends one term. Strings are written as binaries; use Atom for
// atoms. Map keys are written as atoms in sorted order.
func (e *Encoder) WriteTerm(v any) error {
	switch t := v.(type) {
	case nil:
		e.writeAtom("nil")
	case bool:
		if t {
			e.writeAtom("true")
		} else {
			e.writeAtom("false")
		}
	case Atom:
		e.writeAtom(string(t))
	case string:
		e.writeBinary([]byte(t))
	case []byte:
		e.writeBinary(t)
	case int:
		e.writeInt(int64(t))
	case int32:
		e.writeInt(int64(t))
	case int64:
		e.writeInt(t)
	case uint8:
		e.writeInt(int64(t))
	case uint32:
		e.writeInt(int64(t))
	case *big.Int:
		if t.IsInt64() {
			e.writeInt(t.Int64())
		} else {
			e.writeBig(t)
		}
	case float64:
		e.writeFloat(t)
	case float32:
		e.writeFloat(float64(t))
	case json.Number:
		if i, err := t.Int64(); err == nil {
			e.writeInt(i)
			return nil
		}
		f, err := t.Float64()
		if err != nil {
			return fmt.Errorf("bert: encode number %q: %w", t, err)
		}
		e.writeFloat(f)
	case Tuple:
		if len(t) <= math.MaxUint8 {
			e.buf = append(e.buf, tagSmallTuple, byte(len(t)))
		} else {
			e.buf = append(e.buf, tagLargeTuple)
			e.writeUint32(uint32(len(t)))
		}
		for _, item := range t {
			if err := e.WriteTerm(item); err != nil {
				return err
			}
		}
	case []any:
		return e.writeList(t)
	case []string:
		items := make([]any, len(t))
		for i, s := range t {
			items[i] = s
		}
		return e.writeList(items)
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		e.buf = append(e.buf, tagMap)
		e.writeUint32(uint32(len(keys)))
		for _, k := range keys {
			e.writeAtom(k)
			if err := e.WriteTerm(t[k]); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("bert: cannot encode %s", reflect.TypeOf(v))
	}
	return nil
}
