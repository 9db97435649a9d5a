// Package metainfo parses the single-file subset of the .torrent
// metainfo format. The defining discipline here is that the info
// dictionary's raw byte range is located by bencode-aware scanning
// rather than decode-then-re-encode, because re-encoding could change
// key order or integer formatting and silently produce the wrong
// infohash.
package metainfo

import (
	"fmt"

	"bittorrent/internal/bencode"
	"bittorrent/internal/btError"
	"bittorrent/internal/btsha1"
)

// Metainfo holds everything extracted from a single-file .torrent file:
// the tracker URL, the file's name/length, the piece geometry, and the
// info dictionary's infohash and raw byte range.
type Metainfo struct {
	Announce    string
	Name        string
	Length      int64
	PieceLength int64
	PieceHashes [][20]byte
	InfoHash    [20]byte
	InfoBytes   []byte
}

// NumPieces returns the number of piece hashes. Parse checks that this
// equals the count implied by Length and PieceLength.
func (m *Metainfo) NumPieces() int {
	return len(m.PieceHashes)
}

// PieceLen returns the length of piece i, which is PieceLength for every
// piece except possibly the last, which may be short.
func (m *Metainfo) PieceLen(i int) int64 {
	if i == m.NumPieces()-1 {
		return m.Length - int64(i)*m.PieceLength
	}
	return m.PieceLength
}

// Parse decodes a .torrent file's bytes into a Metainfo, deriving
// InfoHash from the raw info-dict slice rather than from a re-encode.
func Parse(buf []byte) (*Metainfo, error) {
	if len(buf) == 0 || buf[0] != 'd' {
		return nil, btError.New(btError.InvalidTorrent, "metainfo file is not a bencoded dictionary")
	}

	d := bencode.NewDecoder(buf)
	pos := 1

	var announce string
	haveAnnounce := false
	var infoVal bencode.Value
	var infoBytes []byte

	for {
		if pos >= len(buf) {
			return nil, btError.New(btError.InvalidTorrent, "metainfo dictionary missing terminator")
		}
		if buf[pos] == 'e' {
			break
		}

		keyVal, newPos, err := d.DecodeAt(pos)
		if err != nil {
			return nil, btError.Wrap(btError.InvalidTorrent, "decoding metainfo key", err)
		}
		key, ok := keyVal.String()
		if !ok {
			return nil, btError.New(btError.InvalidTorrent, "metainfo dictionary key is not a byte-string")
		}
		pos = newPos

		valStart := pos
		val, newPos, err := d.DecodeAt(pos)
		if err != nil {
			return nil, btError.Wrap(btError.InvalidTorrent, fmt.Sprintf("decoding value for key %q", key), err)
		}
		pos = newPos

		switch key {
		case "announce":
			announce, haveAnnounce = val.String()
		case "info":
			infoVal = val
			infoBytes = buf[valStart:pos]
		}
	}

	if !haveAnnounce {
		return nil, btError.New(btError.InvalidTorrent, "metainfo missing announce")
	}
	if infoBytes == nil {
		return nil, btError.New(btError.InvalidTorrent, "metainfo missing info dictionary")
	}

	m, err := fromInfoValue(infoVal)
	if err != nil {
		return nil, err
	}
	m.Announce = announce
	m.InfoBytes = infoBytes
	m.InfoHash = btsha1.Sum(infoBytes)
	return m, nil
}

// FromInfoDict builds a Metainfo from an info dictionary Value already
// fetched out-of-band (over ut_metadata from a magnet link, rather than
// read from a .torrent file), pairing it with the infohash and raw bytes
// the caller already verified.
func FromInfoDict(info bencode.Value, infoHash [20]byte, infoBytes []byte) (*Metainfo, error) {
	m, err := fromInfoValue(info)
	if err != nil {
		return nil, err
	}
	m.InfoHash = infoHash
	m.InfoBytes = infoBytes
	return m, nil
}

// fromInfoValue builds the length/name/piece fields of a Metainfo from
// the already-decoded info dictionary Value; it does not touch the raw
// byte slice or the hash.
func fromInfoValue(info bencode.Value) (*Metainfo, error) {
	dict, ok := info.AsDict()
	if !ok {
		return nil, btError.New(btError.InvalidTorrent, "info is not a dictionary")
	}

	name, ok := dict["name"].String()
	if !ok {
		return nil, btError.New(btError.InvalidTorrent, "info.name missing or not a byte-string")
	}

	length, ok := dict["length"].AsInt()
	if !ok || length <= 0 {
		return nil, btError.New(btError.InvalidTorrent, "info.length missing or not positive (multi-file torrents are unsupported)")
	}

	pieceLength, ok := dict["piece length"].AsInt()
	if !ok || pieceLength <= 0 {
		return nil, btError.New(btError.InvalidTorrent, "info.piece length missing or not positive")
	}

	piecesRaw, ok := dict["pieces"].RawBytes()
	if !ok {
		return nil, btError.New(btError.InvalidTorrent, "info.pieces missing or not a byte-string")
	}
	if len(piecesRaw)%btsha1.Size != 0 {
		return nil, btError.New(btError.InvalidTorrent, "info.pieces length is not a multiple of 20")
	}

	numPieces := len(piecesRaw) / btsha1.Size
	expectedPieces := int((length + pieceLength - 1) / pieceLength)
	if numPieces != expectedPieces {
		return nil, btError.New(btError.InvalidTorrent, fmt.Sprintf("info.pieces has %d hashes, expected %d from length/piece length", numPieces, expectedPieces))
	}

	hashes := make([][20]byte, numPieces)
	for i := 0; i < numPieces; i++ {
		copy(hashes[i][:], piecesRaw[i*btsha1.Size:(i+1)*btsha1.Size])
	}

	return &Metainfo{
		Name:        name,
		Length:      length,
		PieceLength: pieceLength,
		PieceHashes: hashes,
	}, nil
}
