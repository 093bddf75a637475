// Package bert implements the BERT binary term encoding (the Erlang external
// term format, version 131) used for binary WebSocket frames.
//
// # Term Mapping
//
// Decoded terms map to Go values as follows:
//
//   - integers (small, 32-bit, big): int64, or *big.Int when out of range
//   - floats (new and legacy text form): float64
//   - atoms: string; true/false become bool, nil/undefined become nil
//   - tuples: Tuple
//   - lists: []any (the empty list is an empty []any)
//   - strings (byte lists): string
//   - binaries: string when valid UTF-8, []byte otherwise
//   - maps: map[string]any; keys must be atoms, binaries or strings
//
// BERT complex types {bert, nil}, {bert, true}, {bert, false} and
// {bert, dict, Proplist} are folded to their Go equivalents.
//
// # Limits
//
// Like the protocol decoder it is modelled on, the decoder bounds allocations
// and collection sizes so that a hostile length prefix cannot exhaust memory.
//
// # Usage
//
//	data, _ := bert.Encode(map[string]any{"type": bert.Atom("ping"), "cont": "c1"})
//	env, err := bert.DecodeEnvelope(data)
package bert
