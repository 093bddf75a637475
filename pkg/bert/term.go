package bert

import "errors"

// Version is the leading byte of every external term.
const Version = 131

// Term tags.
const (
	tagCompressed    = 80
	tagNewFloat      = 70
	tagSmallInteger  = 97
	tagInteger       = 98
	tagFloat         = 99
	tagAtom          = 100
	tagSmallTuple    = 104
	tagLargeTuple    = 105
	tagNil           = 106
	tagString        = 107
	tagList          = 108
	tagBinary        = 109
	tagSmallBig      = 110
	tagLargeBig      = 111
	tagMap           = 116
	tagSmallAtom     = 115
	tagAtomUTF8      = 118
	tagSmallAtomUTF8 = 119
)

// Allocation limits.
const (
	// DefaultMaxAllocation is the largest single string, binary or
	// decompressed payload accepted (4MB).
	DefaultMaxAllocation = 4 * 1024 * 1024

	// MaxCollectionCount is the maximum number of items in a tuple, list or map.
	MaxCollectionCount = 100_000

	// MaxDepth bounds term nesting.
	MaxDepth = 128
)

// Decoding errors.
var (
	ErrBadVersion         = errors.New("bert: missing version byte")
	ErrUnknownTag         = errors.New("bert: unknown term tag")
	ErrImproperList       = errors.New("bert: improper list")
	ErrBadMapKey          = errors.New("bert: map key is not an atom, binary or string")
	ErrTooDeep            = errors.New("bert: term nested too deeply")
	ErrAllocationTooLarge = errors.New("bert: allocation size exceeds limit")
	ErrCollectionTooLarge = errors.New("bert: collection count exceeds limit")
	ErrTrailingData       = errors.New("bert: trailing data after term")
)

// Atom is an Erlang atom. Decoding yields plain strings; Atom exists so
// encoders can choose an atom over a binary.
type Atom string

// Tuple is an Erlang tuple.
type Tuple []any
