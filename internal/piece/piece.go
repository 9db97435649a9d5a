// Package piece implements the block-level request pipeline for
// downloading a single piece from a single, already-unchoked peer
// connection: split into 16 KiB blocks, request each, match replies by
// (index, begin), and verify the assembled piece's SHA-1.
package piece

import (
	"fmt"
	"io"

	"bittorrent/internal/btError"
	"bittorrent/internal/btsha1"
	"bittorrent/internal/peerwire"
)

// BlockSize is the fixed request granularity; the last block of a piece
// may be shorter.
const BlockSize = 16 * 1024

type block struct {
	begin  int
	length int
}

func blockLayout(pieceLen int64) []block {
	var blocks []block
	for begin := int64(0); begin < pieceLen; begin += BlockSize {
		length := int64(BlockSize)
		if begin+length > pieceLen {
			length = pieceLen - begin
		}
		blocks = append(blocks, block{begin: int(begin), length: int(length)})
	}
	return blocks
}

// Download fetches piece index (of length pieceLen) from a connection
// already past handshake/bitfield/interested/unchoke, and verifies it
// against expectedHash. It handles out-of-order piece replies (discarded
// if they don't match the outstanding request) and pauses and resends
// on an inbound choke, resuming only after the next unchoke.
func Download(conn io.ReadWriter, index int, pieceLen int64, expectedHash [20]byte) ([]byte, error) {
	buf := make([]byte, pieceLen)

blocks:
	for _, blk := range blockLayout(pieceLen) {
		if err := sendRequest(conn, index, blk); err != nil {
			return nil, err
		}

		for {
			msg, err := peerwire.ReadMessage(conn)
			if err != nil {
				return nil, err
			}
			if msg == nil {
				continue // keep-alive
			}

			switch msg.ID {
			case peerwire.MsgChoke:
				if err := waitForUnchoke(conn); err != nil {
					return nil, err
				}
				if err := sendRequest(conn, index, blk); err != nil {
					return nil, err
				}

			case peerwire.MsgPiece:
				gotIndex, gotBegin, gotBlock, err := peerwire.ParsePiecePayload(msg.Payload)
				if err != nil {
					continue // malformed piece message; keep waiting
				}
				if int(gotIndex) != index || int(gotBegin) != blk.begin || len(gotBlock) != blk.length {
					continue // servicing another in-flight request; discard and keep waiting
				}
				copy(buf[blk.begin:blk.begin+blk.length], gotBlock)
				continue blocks

			default:
				// unchoke (with no prior choke), have, cancel, port: tolerated and ignored.
			}
		}
	}

	got := btsha1.Sum(buf)
	if got != expectedHash {
		return nil, btError.New(btError.HashMismatch, fmt.Sprintf("piece %d hash mismatch", index))
	}
	return buf, nil
}

func sendRequest(conn io.ReadWriter, index int, blk block) error {
	return peerwire.WriteMessage(conn, peerwire.MsgRequest, peerwire.RequestPayload(uint32(index), uint32(blk.begin), uint32(blk.length)))
}

func waitForUnchoke(conn io.ReadWriter) error {
	for {
		msg, err := peerwire.ReadMessage(conn)
		if err != nil {
			return err
		}
		if msg != nil && msg.ID == peerwire.MsgUnchoke {
			return nil
		}
	}
}
