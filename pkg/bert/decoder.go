package bert

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"
	"math"
	"math/big"
	"strconv"
	"unicode/utf8"
)

// Decoder reads one external term from a byte buffer.
type Decoder struct {
	buf   []byte
	pos   int
	depth int
}

// NewDecoder creates a decoder over buf. buf must start after the version
// byte; use Decode for complete payloads.
func NewDecoder(buf []byte) *Decoder {
	return &Decoder{buf: buf}
}

// Decode decodes a complete external term, including the version byte.
func Decode(data []byte) (any, error) {
	if len(data) == 0 || data[0] != Version {
		return nil, ErrBadVersion
	}
	d := NewDecoder(data[1:])
	v, err := d.ReadTerm()
	if err != nil {
		return nil, err
	}
	if d.Remaining() != 0 {
		return nil, ErrTrailingData
	}
	return v, nil
}

// Remaining returns the number of unread bytes.
func (d *Decoder) Remaining() int {
	return len(d.buf) - d.pos
}

func (d *Decoder) readByte() (byte, error) {
	if d.pos >= len(d.buf) {
		return 0, io.ErrUnexpectedEOF
	}
	b := d.buf[d.pos]
	d.pos++
	return b, nil
}

// readBytes returns n bytes referencing the buffer.
func (d *Decoder) readBytes(n int) ([]byte, error) {
	if n < 0 || d.pos+n > len(d.buf) {
		return nil, io.ErrUnexpectedEOF
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

func (d *Decoder) readUint16() (uint16, error) {
	b, err := d.readBytes(2)
	if err != nil {
		return 0, err
	}
	return uint16(b[0])<<8 | uint16(b[1]), nil
}

func (d *Decoder) readUint32() (uint32, error) {
	b, err := d.readBytes(4)
	if err != nil {
		return 0, err
	}
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), nil
}

// readLength reads a 4-byte length and checks it against the allocation
// limit and the remaining buffer.
func (d *Decoder) readLength() (int, error) {
	n, err := d.readUint32()
	if err != nil {
		return 0, err
	}
	if n > DefaultMaxAllocation {
		return 0, ErrAllocationTooLarge
	}
	if int(n) > d.Remaining() {
		return 0, io.ErrUnexpectedEOF
	}
	return int(n), nil
}

// readCount validates a collection count. Every element needs at least one
// byte, which bounds count by the remaining buffer.
func (d *Decoder) readCount(n uint32) (int, error) {
	if n > MaxCollectionCount {
		return 0, ErrCollectionTooLarge
	}
	if int(n) > d.Remaining() {
		return 0, io.ErrUnexpectedEOF
	}
	return int(n), nil
}

// ReadTerm reads one term.
func (d *Decoder) ReadTerm() (any, error) {
	v, _, err := d.readTerm()
	return v, err
}

// readTerm returns the decoded value and whether it was an atom.
func (d *Decoder) readTerm() (any, bool, error) {
	d.depth++
	defer func() { d.depth-- }()
	if d.depth > MaxDepth {
		return nil, false, ErrTooDeep
	}

	tag, err := d.readByte()
	if err != nil {
		return nil, false, err
	}

	switch tag {
	case tagSmallInteger:
		b, err := d.readByte()
		return int64(b), false, err

	case tagInteger:
		v, err := d.readUint32()
		return int64(int32(v)), false, err

	case tagNewFloat:
		b, err := d.readBytes(8)
		if err != nil {
			return nil, false, err
		}
		bits := uint64(0)
		for _, x := range b {
			bits = bits<<8 | uint64(x)
		}
		return math.Float64frombits(bits), false, nil

	case tagFloat:
		b, err := d.readBytes(31)
		if err != nil {
			return nil, false, err
		}
		f, err := strconv.ParseFloat(string(bytes.TrimRight(b, "\x00")), 64)
		if err != nil {
			return nil, false, fmt.Errorf("bert: float: %w", err)
		}
		return f, false, nil

	case tagAtom, tagAtomUTF8:
		n, err := d.readUint16()
		if err != nil {
			return nil, false, err
		}
		return d.readAtom(int(n), tag == tagAtomUTF8)

	case tagSmallAtom, tagSmallAtomUTF8:
		n, err := d.readByte()
		if err != nil {
			return nil, false, err
		}
		return d.readAtom(int(n), tag == tagSmallAtomUTF8)

	case tagSmallTuple:
		n, err := d.readByte()
		if err != nil {
			return nil, false, err
		}
		v, err := d.readTuple(uint32(n))
		return v, false, err

	case tagLargeTuple:
		n, err := d.readUint32()
		if err != nil {
			return nil, false, err
		}
		v, err := d.readTuple(n)
		return v, false, err

	case tagNil:
		return []any{}, false, nil

	case tagString:
		n, err := d.readUint16()
		if err != nil {
			return nil, false, err
		}
		b, err := d.readBytes(int(n))
		if err != nil {
			return nil, false, err
		}
		return latin1(b), false, nil

	case tagList:
		v, err := d.readList()
		return v, false, err

	case tagBinary:
		n, err := d.readLength()
		if err != nil {
			return nil, false, err
		}
		b, err := d.readBytes(n)
		if err != nil {
			return nil, false, err
		}
		if utf8.Valid(b) {
			return string(b), false, nil
		}
		out := make([]byte, n)
		copy(out, b)
		return out, false, nil

	case tagSmallBig:
		n, err := d.readByte()
		if err != nil {
			return nil, false, err
		}
		v, err := d.readBig(int(n))
		return v, false, err

	case tagLargeBig:
		n, err := d.readLength()
		if err != nil {
			return nil, false, err
		}
		v, err := d.readBig(n)
		return v, false, err

	case tagMap:
		v, err := d.readMap()
		return v, false, err

	case tagCompressed:
		v, err := d.readCompressed()
		return v, false, err

	default:
		return nil, false, fmt.Errorf("%w: %d", ErrUnknownTag, tag)
	}
}

func (d *Decoder) readAtom(n int, utf8Atom bool) (any, bool, error) {
	b, err := d.readBytes(n)
	if err != nil {
		return nil, false, err
	}
	name := string(b)
	if !utf8Atom {
		name = latin1(b)
	}
	switch name {
	case "true":
		return true, true, nil
	case "false":
		return false, true, nil
	case "nil", "undefined":
		return nil, true, nil
	}
	return name, true, nil
}

func (d *Decoder) readTuple(n uint32) (any, error) {
	count, err := d.readCount(n)
	if err != nil {
		return nil, err
	}
	t := make(Tuple, 0, count)
	firstAtom := false
	for i := 0; i < count; i++ {
		v, isAtom, err := d.readTerm()
		if err != nil {
			return nil, err
		}
		if i == 0 {
			firstAtom = isAtom
		}
		t = append(t, v)
	}
	if firstAtom && len(t) >= 2 && t[0] == "bert" {
		return foldComplex(t)
	}
	return t, nil
}

// foldComplex converts BERT complex types into Go values.
func foldComplex(t Tuple) (any, error) {
	if len(t) == 2 {
		switch t[1] {
		case nil, true, false:
			return t[1], nil
		}
	}
	if len(t) == 3 && t[1] == "dict" {
		items, ok := t[2].([]any)
		if !ok {
			return nil, fmt.Errorf("bert: dict payload is %T, want list", t[2])
		}
		return proplistToMap(items)
	}
	return t, nil
}

func (d *Decoder) readList() (any, error) {
	n, err := d.readUint32()
	if err != nil {
		return nil, err
	}
	count, err := d.readCount(n)
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, count)
	for i := 0; i < count; i++ {
		v, err := d.ReadTerm()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	tag, err := d.readByte()
	if err != nil {
		return nil, err
	}
	if tag != tagNil {
		return nil, ErrImproperList
	}
	return out, nil
}

func (d *Decoder) readMap() (any, error) {
	n, err := d.readUint32()
	if err != nil {
		return nil, err
	}
	count, err := d.readCount(n)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, count)
	for i := 0; i < count; i++ {
		k, err := d.ReadTerm()
		if err != nil {
			return nil, err
		}
		key, ok := keyString(k)
		if !ok {
			return nil, ErrBadMapKey
		}
		v, err := d.ReadTerm()
		if err != nil {
			return nil, err
		}
		out[key] = v
	}
	return out, nil
}

func (d *Decoder) readBig(n int) (any, error) {
	sign, err := d.readByte()
	if err != nil {
		return nil, err
	}
	digits, err := d.readBytes(n)
	if err != nil {
		return nil, err
	}
	if n <= 8 {
		var u uint64
		for i := n - 1; i >= 0; i-- {
			u = u<<8 | uint64(digits[i])
		}
		if sign == 0 && u <= math.MaxInt64 {
			return int64(u), nil
		}
		if sign != 0 && u <= 1<<63 {
			return -int64(u-1) - 1, nil
		}
	}
	be := make([]byte, n)
	for i := 0; i < n; i++ {
		be[n-1-i] = digits[i]
	}
	v := new(big.Int).SetBytes(be)
	if sign != 0 {
		v.Neg(v)
	}
	return v, nil
}

func (d *Decoder) readCompressed() (any, error) {
	size, err := d.readUint32()
	if err != nil {
		return nil, err
	}
	if size > DefaultMaxAllocation {
		return nil, ErrAllocationTooLarge
	}
	zr, err := zlib.NewReader(bytes.NewReader(d.buf[d.pos:]))
	if err != nil {
		return nil, fmt.Errorf("bert: compressed term: %w", err)
	}
	defer zr.Close()

	inflated := make([]byte, size)
	if _, err := io.ReadFull(zr, inflated); err != nil {
		return nil, fmt.Errorf("bert: compressed term: %w", err)
	}
	d.pos = len(d.buf)

	inner := &Decoder{buf: inflated, depth: d.depth}
	v, err := inner.ReadTerm()
	if err != nil {
		return nil, err
	}
	if inner.Remaining() != 0 {
		return nil, ErrTrailingData
	}
	return v, nil
}

func keyString(k any) (string, bool) {
	switch t := k.(type) {
	case string:
		return t, true
	case []byte:
		return string(t), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}

func latin1(b []byte) string {
	ascii := true
	for _, c := range b {
		if c >= 0x80 {
			ascii = false
			break
		}
	}
	if ascii {
		return string(b)
	}
	r := make([]rune, len(b))
	for i, c := range b {
		r[i] = rune(c)
	}
	return string(r)
}
