// Package metadata implements the ut_metadata extension (BEP-9/BEP-10):
// fetching the info dictionary from a magnet link over an already
// handshaked peer connection, instead of reading it out of a .torrent
// file. Grounded on the extension handshake/metadata-request shape used
// in the pack's magnet-capable examples (HnustLzh2-bitTorrent's
// performMagnetHandshakeWithPeer/buildMetadataRequestMessage and
// MlkMahmud-hail's ut_metadata message ids), generalized to this
// client's Value-tree bencode codec.
package metadata

import (
	"fmt"
	"io"

	"bittorrent/internal/bencode"
	"bittorrent/internal/bitutil"
	"bittorrent/internal/btError"
	"bittorrent/internal/btsha1"
	"bittorrent/internal/peerwire"
)

// OurExtensionID is the local ut_metadata extension id this client
// advertises in its own extension handshake.
const OurExtensionID = 1

// metadataPieceSize is the fixed chunk size the ut_metadata extension
// transfers per piece, per BEP-9.
const metadataPieceSize = 16 * 1024

const (
	msgTypeRequest = 0
	msgTypeData    = 1
	msgTypeReject  = 2
)

// HandshakePayload builds the ut_metadata extension handshake payload:
// the bencode dict {"m": {"ut_metadata": OurExtensionID}}.
func HandshakePayload() []byte {
	v := bencode.Dct(map[string]bencode.Value{
		"m": bencode.Dct(map[string]bencode.Value{
			"ut_metadata": bencode.Num(OurExtensionID),
		}),
	})
	return bencode.Encode(v)
}

// ParsePeerUTMetadataID extracts the peer's advertised ut_metadata
// extension id from its extension handshake payload.
func ParsePeerUTMetadataID(payload []byte) (byte, error) {
	v, err := bencode.Decode(payload)
	if err != nil {
		return 0, btError.Wrap(btError.PeerProtocol, "decoding extension handshake", err)
	}
	m, ok := v.Get("m")
	if !ok {
		return 0, btError.New(btError.PeerProtocol, "extension handshake missing \"m\" dict")
	}
	id, ok := m.Get("ut_metadata")
	if !ok {
		return 0, btError.New(btError.PeerProtocol, "peer does not advertise ut_metadata")
	}
	n, ok := id.AsInt()
	if !ok || n <= 0 || n > 255 {
		return 0, btError.New(btError.PeerProtocol, "peer's ut_metadata id is out of range")
	}
	return byte(n), nil
}

// RequestPayload builds the ut_metadata request for metadata piece k:
// the bencode dict {"msg_type": 0, "piece": k}.
func RequestPayload(piece int) []byte {
	v := bencode.Dct(map[string]bencode.Value{
		"msg_type": bencode.Num(msgTypeRequest),
		"piece":    bencode.Num(int64(piece)),
	})
	return bencode.Encode(v)
}

// dataMessage is a decoded ut_metadata data reply: the leading bencode
// dict plus the raw metadata bytes that follow it in the same payload.
type dataMessage struct {
	Piece     int
	TotalSize int
	Data      []byte
}

// parseDataMessage splits a ut_metadata payload into its leading
// bencode dict ({"msg_type":1,"piece":k,"total_size":T}) and the raw
// piece bytes that immediately follow — the dict's decoded cursor
// position is exactly the split point.
func parseDataMessage(payload []byte) (dataMessage, error) {
	d := bencode.NewDecoder(payload)
	v, pos, err := d.DecodeAt(0)
	if err != nil {
		return dataMessage{}, btError.Wrap(btError.PeerProtocol, "decoding ut_metadata data header", err)
	}

	msgType, ok := v.Get("msg_type")
	if !ok {
		return dataMessage{}, btError.New(btError.PeerProtocol, "ut_metadata data message missing msg_type")
	}
	if n, _ := msgType.AsInt(); n == msgTypeReject {
		return dataMessage{}, btError.New(btError.PeerProtocol, "peer rejected the ut_metadata request")
	} else if n != msgTypeData {
		return dataMessage{}, btError.New(btError.PeerProtocol, fmt.Sprintf("unexpected ut_metadata msg_type %d", n))
	}

	pieceVal, ok := v.Get("piece")
	piece, okInt := pieceVal.AsInt()
	if !ok || !okInt {
		return dataMessage{}, btError.New(btError.PeerProtocol, "ut_metadata data message missing piece")
	}

	totalVal, ok := v.Get("total_size")
	total, okInt := totalVal.AsInt()
	if !ok || !okInt {
		return dataMessage{}, btError.New(btError.PeerProtocol, "ut_metadata data message missing total_size")
	}

	return dataMessage{Piece: int(piece), TotalSize: int(total), Data: payload[pos:]}, nil
}

// Exchanger speaks just enough of the peer wire + extension protocol to
// fetch the info dictionary: send/receive the extension handshake, then
// request and reassemble metadata pieces.
type Exchanger struct {
	Conn io.ReadWriter
}

// SendHandshake sends this client's extension handshake.
func (e *Exchanger) SendHandshake() error {
	return peerwire.WriteMessage(e.Conn, peerwire.MsgExtended, append([]byte{0}, HandshakePayload()...))
}

// RequestPiece sends a ut_metadata request for piece k to the peer's
// advertised extension id.
func (e *Exchanger) RequestPiece(peerExtensionID byte, piece int) error {
	return peerwire.WriteMessage(e.Conn, peerwire.MsgExtended, append([]byte{peerExtensionID}, RequestPayload(piece)...))
}

// ReadExtended reads the next extension message (id=20), returning its
// extension id and payload. Other peer-wire messages received while
// waiting are ignored — the caller is assumed to be mid-metadata-fetch,
// before any piece traffic exists.
func (e *Exchanger) ReadExtended() (extID byte, payload []byte, err error) {
	for {
		msg, err := peerwire.ReadMessage(e.Conn)
		if err != nil {
			return 0, nil, err
		}
		if msg == nil {
			continue // keep-alive
		}
		if msg.ID != peerwire.MsgExtended {
			continue
		}
		if len(msg.Payload) < 1 {
			return 0, nil, btError.New(btError.PeerProtocol, "extension message missing ext-id byte")
		}
		return msg.Payload[0], msg.Payload[1:], nil
	}
}

// FetchInfoDict performs the full ut_metadata exchange and returns the
// reassembled info-dictionary bytes, verified against infoHash. It
// assumes the base handshake has already completed and the peer
// advertised extension-protocol support.
func FetchInfoDict(conn io.ReadWriter, infoHash [20]byte) ([]byte, error) {
	e := &Exchanger{Conn: conn}

	if err := e.SendHandshake(); err != nil {
		return nil, err
	}

	var peerExtensionID byte
	for {
		extID, payload, err := e.ReadExtended()
		if err != nil {
			return nil, err
		}
		if extID != 0 {
			continue // not the extension handshake
		}
		peerExtensionID, err = ParsePeerUTMetadataID(payload)
		if err != nil {
			return nil, err
		}
		break
	}

	var assembled []byte
	totalSize := -1
	piece := 0

	for totalSize < 0 || len(assembled) < totalSize {
		if err := e.RequestPiece(peerExtensionID, piece); err != nil {
			return nil, err
		}

		var data dataMessage
		for {
			extID, payload, err := e.ReadExtended()
			if err != nil {
				return nil, err
			}
			if extID != OurExtensionID {
				continue
			}
			data, err = parseDataMessage(payload)
			if err != nil {
				return nil, err
			}
			if data.Piece != piece {
				continue // stale reply, keep waiting
			}
			break
		}

		totalSize = data.TotalSize
		assembled = append(assembled, data.Data...)
		piece++

		if piece > (totalSize/metadataPieceSize)+1 {
			return nil, btError.New(btError.PeerProtocol, "ut_metadata peer never reached total_size")
		}
	}

	assembled = assembled[:totalSize]

	got := btsha1.Sum(assembled)
	if got != infoHash {
		return nil, btError.New(btError.HashMismatch, fmt.Sprintf("metadata hash %s does not match infohash %s", bitutil.HexString(got[:]), bitutil.HexString(infoHash[:])))
	}
	return assembled, nil
}
