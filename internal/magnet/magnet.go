// Package magnet parses magnet: URIs well enough to bootstrap a
// download without a metainfo file: the infohash and, if present, a
// tracker URL. Only the hex-encoded-SHA-1 form of "xt" is supported;
// base32 infohashes are out of scope per the spec.
package magnet

import (
	"strings"

	"bittorrent/internal/bitutil"
	"bittorrent/internal/btError"
)

// Magnet holds what this client needs to bootstrap from a magnet link:
// the infohash and, if the link named one, a tracker URL.
type Magnet struct {
	InfoHash [20]byte
	Tracker  string // empty if the link carried no "tr" parameter
	Name     string // from "dn", informational only
}

// Parse parses a "magnet:?..." URI, extracting "xt=urn:btih:<40-hex>"
// and the first "tr=<url-encoded-url>" parameter. "dn" is kept as Name;
// other parameters are ignored.
func Parse(uri string) (*Magnet, error) {
	const prefix = "magnet:?"
	if !strings.HasPrefix(uri, prefix) {
		return nil, btError.New(btError.InvalidMagnet, "missing \"magnet:?\" prefix")
	}
	query := uri[len(prefix):]

	var m Magnet
	haveInfoHash := false

	for _, pair := range strings.Split(query, "&") {
		if pair == "" {
			continue
		}
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}

		switch key {
		case "xt":
			hash, err := parseExactTopic(value)
			if err != nil {
				return nil, err
			}
			m.InfoHash = hash
			haveInfoHash = true

		case "tr":
			if m.Tracker != "" {
				continue // the first "tr" wins
			}
			decoded, err := bitutil.URLDecode(value)
			if err != nil {
				return nil, btError.Wrap(btError.InvalidMagnet, "decoding tr parameter", err)
			}
			m.Tracker = string(decoded)

		case "dn":
			decoded, err := bitutil.URLDecode(value)
			if err == nil {
				m.Name = string(decoded)
			}
		}
	}

	if !haveInfoHash {
		return nil, btError.New(btError.InvalidMagnet, "missing or malformed xt parameter")
	}
	return &m, nil
}

// parseExactTopic parses "urn:btih:<40-hex>" into a 20-byte infohash.
func parseExactTopic(xt string) ([20]byte, error) {
	var hash [20]byte

	const btihPrefix = "urn:btih:"
	if !strings.HasPrefix(xt, btihPrefix) {
		return hash, btError.New(btError.InvalidMagnet, "xt is not a urn:btih topic")
	}
	hex := xt[len(btihPrefix):]
	if len(hex) != 40 {
		return hash, btError.New(btError.InvalidMagnet, "xt infohash is not 40 hex characters (base32 is unsupported)")
	}

	for i := 0; i < 20; i++ {
		hi, ok1 := hexNibble(hex[i*2])
		lo, ok2 := hexNibble(hex[i*2+1])
		if !ok1 || !ok2 {
			return hash, btError.New(btError.InvalidMagnet, "xt infohash is not valid hex")
		}
		hash[i] = hi<<4 | lo
	}
	return hash, nil
}

func hexNibble(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	default:
		return 0, false
	}
}
