package bencode

import "encoding/json"

// MarshalJSON renders a decoded Value as JSON, for the CLI's "decode"
// command. Byte-strings become JSON strings (bencode strings are not
// guaranteed to be valid UTF-8, but the CLI's decode target is always
// human-entered ASCII bencode, so a direct conversion is adequate here).
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindBytes:
		return json.Marshal(string(v.Bytes))
	case KindInt:
		return json.Marshal(v.Int)
	case KindList:
		return json.Marshal(v.List)
	case KindDict:
		return json.Marshal(v.Dict)
	default:
		return json.Marshal(nil)
	}
}
