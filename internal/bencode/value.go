// Package bencode implements the BitTorrent bencode value serialization:
// a decoder that yields a typed value tree and an encoder that reproduces
// canonical output for dictionaries.
//
// Bencode byte-strings are raw byte sequences, not text — they may hold
// NUL and arbitrary high bytes, so Value keeps them as []byte rather than
// string.
package bencode

import "sort"

// Kind tags which alternative of the bencode sum type a Value holds.
type Kind int

const (
	KindBytes Kind = iota
	KindInt
	KindList
	KindDict
)

// Value is the tagged union decode produces and encode consumes:
// byte-string, signed 64-bit integer, ordered list, or a string-keyed
// dictionary. Only the field matching Kind is meaningful.
type Value struct {
	Kind  Kind
	Bytes []byte
	Int   int64
	List  []Value
	Dict  map[string]Value
}

// Str wraps a Go string as a bencode byte-string Value.
func Str(s string) Value { return Value{Kind: KindBytes, Bytes: []byte(s)} }

// Bstr wraps raw bytes as a bencode byte-string Value.
func Bstr(b []byte) Value { return Value{Kind: KindBytes, Bytes: b} }

// Num wraps an int64 as a bencode integer Value.
func Num(n int64) Value { return Value{Kind: KindInt, Int: n} }

// Lst wraps a slice of Values as a bencode list Value.
func Lst(vs []Value) Value { return Value{Kind: KindList, List: vs} }

// Dct wraps a map as a bencode dictionary Value.
func Dct(m map[string]Value) Value { return Value{Kind: KindDict, Dict: m} }

// String returns the byte-string payload interpreted as text, and whether
// Value actually holds a byte-string.
func (v Value) String() (string, bool) {
	if v.Kind != KindBytes {
		return "", false
	}
	return string(v.Bytes), true
}

// RawBytes returns the byte-string payload without a string conversion,
// for callers like metainfo that need to preserve arbitrary bytes (e.g.
// the pieces blob) without caring whether they're valid text.
func (v Value) RawBytes() ([]byte, bool) {
	if v.Kind != KindBytes {
		return nil, false
	}
	return v.Bytes, true
}

// AsInt returns the integer payload, and whether Value holds an integer.
func (v Value) AsInt() (int64, bool) {
	if v.Kind != KindInt {
		return 0, false
	}
	return v.Int, true
}

// AsList returns the list payload, and whether Value holds a list.
func (v Value) AsList() ([]Value, bool) {
	if v.Kind != KindList {
		return nil, false
	}
	return v.List, true
}

// AsDict returns the dictionary payload, and whether Value holds a dict.
func (v Value) AsDict() (map[string]Value, bool) {
	if v.Kind != KindDict {
		return nil, false
	}
	return v.Dict, true
}

// Get looks up key in a dict Value, returning ok=false if v is not a dict
// or the key is absent.
func (v Value) Get(key string) (Value, bool) {
	d, ok := v.AsDict()
	if !ok {
		return Value{}, false
	}
	val, ok := d[key]
	return val, ok
}

// sortedDictKeys returns a dict's keys in ascending lexicographic byte
// order, the order the encoder must emit them in to be canonical.
func sortedDictKeys(d map[string]Value) []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
