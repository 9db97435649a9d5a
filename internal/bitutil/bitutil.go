// Package bitutil holds the small cross-cutting helpers several
// components need: percent-encoding for tracker query parameters,
// hex rendering, a random peer_id, and big-endian framing helpers.
package bitutil

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// isUnreserved reports whether b is in the set of bytes the tracker
// URL-encoding keeps literal; every other byte is percent-escaped as
// uppercase hex.
func isUnreserved(b byte) bool {
	switch {
	case b >= 'A' && b <= 'Z', b >= 'a' && b <= 'z', b >= '0' && b <= '9':
		return true
	case b == '-' || b == '_' || b == '.' || b == '~':
		return true
	default:
		return false
	}
}

// URLEncode percent-encodes raw bytes the way a BitTorrent tracker
// expects: unreserved bytes pass through, everything else becomes
// "%HH" with uppercase hex digits.
func URLEncode(b []byte) string {
	out := make([]byte, 0, len(b))
	for _, c := range b {
		if isUnreserved(c) {
			out = append(out, c)
			continue
		}
		out = append(out, '%')
		out = append(out, hexDigit(c>>4), hexDigit(c&0x0f))
	}
	return string(out)
}

func hexDigit(n byte) byte {
	if n < 10 {
		return '0' + n
	}
	return 'A' + (n - 10)
}

// URLDecode reverses URLEncode, accepting any "%HH" escape (not just
// uppercase) and passing literal bytes through unchanged.
func URLDecode(s string) ([]byte, error) {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '%' {
			out = append(out, s[i])
			continue
		}
		if i+2 >= len(s) {
			return nil, fmt.Errorf("truncated percent-escape at offset %d", i)
		}
		b, err := hex.DecodeString(s[i+1 : i+3])
		if err != nil {
			return nil, fmt.Errorf("invalid percent-escape at offset %d: %w", i, err)
		}
		out = append(out, b[0])
		i += 2
	}
	return out, nil
}

// RandomPeerID generates 20 uniformly random bytes, the form the spec
// requires for a locally generated peer_id.
func RandomPeerID() ([20]byte, error) {
	var id [20]byte
	if _, err := rand.Read(id[:]); err != nil {
		return id, err
	}
	return id, nil
}

// PutUint32 and Uint32 wrap encoding/binary for the 4-byte big-endian
// fields peer-wire framing uses throughout (message length prefixes,
// piece index/begin/length).
func PutUint32(b []byte, v uint32) { binary.BigEndian.PutUint32(b, v) }
func Uint32(b []byte) uint32       { return binary.BigEndian.Uint32(b) }

// PutUint16 and Uint16 wrap encoding/binary for the 2-byte big-endian
// port field in a compact peer address.
func PutUint16(b []byte, v uint16) { binary.BigEndian.PutUint16(b, v) }
func Uint16(b []byte) uint16       { return binary.BigEndian.Uint16(b) }

// HexString renders b as lowercase hex, e.g. for the 40-hex infohash
// the CLI prints.
func HexString(b []byte) string { return hex.EncodeToString(b) }
