// Package btsha1 provides the streaming SHA-1 interface the client uses
// for infohash computation and per-piece verification. BitTorrent pins
// these hashes as content identifiers, not as a security boundary, so
// per the design notes any FIPS-180-1-correct implementation will do;
// this wraps the standard library's crypto/sha1 rather than hand-rolling
// the compression function, the way every example in the pack that
// touches hashing (utils.go's getSHA1Hash, Kostaaa1's crypto/sha1.Sum)
// does.
package btsha1

import "crypto/sha1"

// Size is the length in bytes of a SHA-1 digest.
const Size = sha1.Size

// Hasher streams bytes into a SHA-1 digest across any number of Update
// calls, then yields the 20-byte digest and resets for reuse.
type Hasher struct {
	h hashState
}

type hashState interface {
	Write(p []byte) (int, error)
	Sum(b []byte) []byte
	Reset()
}

// New returns a Hasher ready to accept Update calls.
func New() *Hasher {
	return &Hasher{h: sha1.New()}
}

// Update feeds more bytes into the digest. It may be called any number
// of times before Finalize.
func (hs *Hasher) Update(p []byte) {
	hs.h.Write(p)
}

// Finalize returns the 20-byte digest of everything written since the
// last Finalize (or since New) and resets the internal state so the
// Hasher can be reused.
func (hs *Hasher) Finalize() [Size]byte {
	var out [Size]byte
	copy(out[:], hs.h.Sum(nil))
	hs.h.Reset()
	return out
}

// Sum is the pure convenience form: Sum(b) == Finalize(Update(New(), b)).
func Sum(b []byte) [Size]byte {
	h := New()
	h.Update(b)
	return h.Finalize()
}
