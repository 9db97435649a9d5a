package bencode

import (
	"bytes"
	"strconv"
)

// Encode renders v as canonical bencode: byte-strings as "<len>:<bytes>",
// integers as "i<decimal>e", lists in order, and dicts with keys sorted
// ascending by byte value. encode(decode(b)) == b for any canonical b.
func Encode(v Value) []byte {
	var buf bytes.Buffer
	writeValue(&buf, v)
	return buf.Bytes()
}

func writeValue(buf *bytes.Buffer, v Value) {
	switch v.Kind {
	case KindBytes:
		writeBytes(buf, v.Bytes)
	case KindInt:
		writeInt(buf, v.Int)
	case KindList:
		writeList(buf, v.List)
	case KindDict:
		writeDict(buf, v.Dict)
	}
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	buf.WriteString(strconv.Itoa(len(b)))
	buf.WriteByte(':')
	buf.Write(b)
}

func writeInt(buf *bytes.Buffer, n int64) {
	buf.WriteByte('i')
	buf.WriteString(strconv.FormatInt(n, 10))
	buf.WriteByte('e')
}

func writeList(buf *bytes.Buffer, items []Value) {
	buf.WriteByte('l')
	for _, item := range items {
		writeValue(buf, item)
	}
	buf.WriteByte('e')
}

func writeDict(buf *bytes.Buffer, dict map[string]Value) {
	buf.WriteByte('d')
	for _, key := range sortedDictKeys(dict) {
		writeBytes(buf, []byte(key))
		writeValue(buf, dict[key])
	}
	buf.WriteByte('e')
}
