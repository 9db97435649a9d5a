package peerwire

import (
	"errors"
	"fmt"
	"io"
	"net"

	"bittorrent/internal/bitutil"
	"bittorrent/internal/btError"
)

// Message IDs for the subset of the peer-wire protocol this client uses.
const (
	MsgChoke        byte = 0
	MsgUnchoke      byte = 1
	MsgInterested   byte = 2
	MsgNotInterest  byte = 3
	MsgHave         byte = 4
	MsgBitfield     byte = 5
	MsgRequest      byte = 6
	MsgPiece        byte = 7
	MsgCancel       byte = 8
	MsgPort         byte = 9
	MsgExtended     byte = 20
)

// MaxMessageLength bounds a single frame's length prefix. A peer
// advertising a longer frame is violating the protocol (the largest
// legitimate frame is a piece message for one 16 KiB block) and the
// connection is torn down rather than allocating an attacker-controlled
// buffer.
const MaxMessageLength = 1 << 17

// Message is a decoded, length-framed peer-wire message. A nil *Message
// with a nil error represents a keep-alive (zero-length frame).
type Message struct {
	ID      byte
	Payload []byte
}

// WriteMessage frames and writes a message with the given id and
// payload. Call WriteKeepAlive for the zero-length keep-alive case.
func WriteMessage(w io.Writer, id byte, payload []byte) error {
	length := uint32(1 + len(payload))
	buf := make([]byte, 4+length)
	bitutil.PutUint32(buf, length)
	buf[4] = id
	copy(buf[5:], payload)

	if _, err := w.Write(buf); err != nil {
		return btError.Wrap(btError.Io, "writing peer message", err)
	}
	return nil
}

// WriteKeepAlive writes a zero-length keep-alive frame.
func WriteKeepAlive(w io.Writer) error {
	if _, err := w.Write([]byte{0, 0, 0, 0}); err != nil {
		return btError.Wrap(btError.Io, "writing keep-alive", err)
	}
	return nil
}

// ReadMessage reads one length-prefixed frame from r, bounded by
// ReadTimeout when r supports a read deadline. It returns (nil, nil) for
// a keep-alive.
func ReadMessage(r io.Reader) (*Message, error) {
	if err := applyReadDeadline(r); err != nil {
		return nil, btError.Wrap(btError.Io, "setting read deadline", err)
	}

	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return nil, wrapReadErr("reading message length prefix", err)
	}
	length := bitutil.Uint32(lenBuf)

	if length == 0 {
		return nil, nil
	}
	if length > MaxMessageLength {
		return nil, btError.New(btError.PeerProtocol, fmt.Sprintf("message length %d exceeds maximum", length))
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, wrapReadErr("reading message body", err)
	}

	return &Message{ID: buf[0], Payload: buf[1:]}, nil
}

// wrapReadErr classifies a read deadline expiry as Io (a socket timeout,
// not a protocol violation) and everything else as PeerProtocol.
func wrapReadErr(detail string, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return btError.Wrap(btError.Io, detail+" timed out", err)
	}
	return btError.Wrap(btError.PeerProtocol, detail, err)
}

// Bitfield is a peer's per-piece availability, bit i of byte j meaning
// (MSB-first within the byte) piece j*8 + (7-i).
type Bitfield []byte

// HasPiece reports whether the bitfield marks piece index as available.
func (bf Bitfield) HasPiece(index int) bool {
	byteIdx := index / 8
	if byteIdx < 0 || byteIdx >= len(bf) {
		return false
	}
	bitOffset := uint(7 - index%8)
	return bf[byteIdx]&(1<<bitOffset) != 0
}

// SetPiece marks piece index as available, growing the bitfield if
// necessary. Used to fold a peer's have messages into its bitfield.
func (bf *Bitfield) SetPiece(index int) {
	byteIdx := index / 8
	for len(*bf) <= byteIdx {
		*bf = append(*bf, 0)
	}
	bitOffset := uint(7 - index%8)
	(*bf)[byteIdx] |= 1 << bitOffset
}

// RequestPayload encodes a request/cancel message body: index, begin,
// and length, each a big-endian u32.
func RequestPayload(index, begin, length uint32) []byte {
	buf := make([]byte, 12)
	bitutil.PutUint32(buf[0:4], index)
	bitutil.PutUint32(buf[4:8], begin)
	bitutil.PutUint32(buf[8:12], length)
	return buf
}

// ParseRequestPayload decodes a request/cancel message body.
func ParseRequestPayload(payload []byte) (index, begin, length uint32, err error) {
	if len(payload) != 12 {
		return 0, 0, 0, btError.New(btError.PeerProtocol, "request/cancel payload is not 12 bytes")
	}
	return bitutil.Uint32(payload[0:4]), bitutil.Uint32(payload[4:8]), bitutil.Uint32(payload[8:12]), nil
}

// PiecePayload encodes a piece message body: index, begin, then the
// block bytes.
func PiecePayload(index, begin uint32, block []byte) []byte {
	buf := make([]byte, 8+len(block))
	bitutil.PutUint32(buf[0:4], index)
	bitutil.PutUint32(buf[4:8], begin)
	copy(buf[8:], block)
	return buf
}

// ParsePiecePayload decodes a piece message body.
func ParsePiecePayload(payload []byte) (index, begin uint32, block []byte, err error) {
	if len(payload) < 8 {
		return 0, 0, nil, btError.New(btError.PeerProtocol, "piece payload shorter than 8 bytes")
	}
	return bitutil.Uint32(payload[0:4]), bitutil.Uint32(payload[4:8]), payload[8:], nil
}

// HavePayload encodes a have message body: a single piece index.
func HavePayload(index uint32) []byte {
	buf := make([]byte, 4)
	bitutil.PutUint32(buf, index)
	return buf
}

// ParseHavePayload decodes a have message body.
func ParseHavePayload(payload []byte) (uint32, error) {
	if len(payload) != 4 {
		return 0, btError.New(btError.PeerProtocol, "have payload is not 4 bytes")
	}
	return bitutil.Uint32(payload), nil
}
