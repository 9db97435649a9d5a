// Package peerwire implements the peer-wire protocol subset this client
// needs: the handshake (with the extension-protocol reserved bit),
// length-prefixed message framing, and the choke/interested/bitfield/
// request/piece message set.
package peerwire

import (
	"errors"
	"io"
	"net"

	"bittorrent/internal/btError"
)

const (
	pstrLen = 19
	pstr    = "BitTorrent protocol"

	// HandshakeLen is the fixed size of a handshake record: 1 + 19 + 8 + 20 + 20.
	HandshakeLen = 1 + pstrLen + 8 + 20 + 20

	// extensionReservedByte and extensionBit locate the BEP-10
	// extension-protocol flag within the handshake's 8 reserved bytes:
	// byte index 5, bit 0x10.
	extensionReservedByte = 5
	extensionBit          = 0x10
)

// Handshake is the 68-byte record exchanged before any other peer-wire
// message: protocol name, 8 reserved bytes, infohash, and peer_id.
type Handshake struct {
	Reserved [8]byte
	InfoHash [20]byte
	PeerID   [20]byte
}

// NewHandshake builds a Handshake for infoHash/peerID, setting the
// extension-protocol bit when supportsExtensions is true.
func NewHandshake(infoHash, peerID [20]byte, supportsExtensions bool) Handshake {
	h := Handshake{InfoHash: infoHash, PeerID: peerID}
	if supportsExtensions {
		h.Reserved[extensionReservedByte] |= extensionBit
	}
	return h
}

// SupportsExtensions reports whether the handshake's reserved bytes
// advertise BEP-10 extension-protocol support.
func (h Handshake) SupportsExtensions() bool {
	return h.Reserved[extensionReservedByte]&extensionBit != 0
}

// Serialize renders the handshake as its 68-byte wire form.
func (h Handshake) Serialize() []byte {
	buf := make([]byte, 0, HandshakeLen)
	buf = append(buf, pstrLen)
	buf = append(buf, pstr...)
	buf = append(buf, h.Reserved[:]...)
	buf = append(buf, h.InfoHash[:]...)
	buf = append(buf, h.PeerID[:]...)
	return buf
}

// WriteHandshake writes h's wire form to w.
func WriteHandshake(w io.Writer, h Handshake) error {
	_, err := w.Write(h.Serialize())
	if err != nil {
		return btError.Wrap(btError.Io, "writing handshake", err)
	}
	return nil
}

// ReadHandshake reads and validates a 68-byte handshake record from r,
// bounded by ReadTimeout when r supports a read deadline.
func ReadHandshake(r io.Reader) (Handshake, error) {
	var h Handshake

	if err := applyReadDeadline(r); err != nil {
		return h, btError.Wrap(btError.Io, "setting read deadline", err)
	}

	buf := make([]byte, HandshakeLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return h, btError.Wrap(btError.Io, "reading handshake timed out", err)
		}
		return h, btError.Wrap(btError.PeerProtocol, "reading handshake", err)
	}

	if buf[0] != pstrLen || string(buf[1:1+pstrLen]) != pstr {
		return h, btError.New(btError.PeerProtocol, "handshake has an unrecognized protocol string")
	}

	copy(h.Reserved[:], buf[1+pstrLen:1+pstrLen+8])
	copy(h.InfoHash[:], buf[1+pstrLen+8:1+pstrLen+8+20])
	copy(h.PeerID[:], buf[1+pstrLen+8+20:])
	return h, nil
}
