package download

import (
	"bytes"
	"net"
	"testing"
	"time"

	"bittorrent/internal/btsha1"
	"bittorrent/internal/metainfo"
	"bittorrent/internal/peerwire"
	"bittorrent/internal/tracker"
)

func TestAcquireReleaseComplete(t *testing.T) {
	m := &metainfo.Metainfo{Length: 30, PieceLength: 10, PieceHashes: make([][20]byte, 3)}
	s := NewScheduler(m)

	all := func(int) bool { return true }

	i := s.acquire(all)
	if i != 0 {
		t.Fatalf("acquire = %d, want 0", i)
	}
	// Slot 0 is now InProgress; acquire again should skip it.
	j := s.acquire(all)
	if j != 1 {
		t.Fatalf("acquire = %d, want 1", j)
	}

	s.release(i)
	k := s.acquire(all)
	if k != 0 {
		t.Fatalf("acquire after release = %d, want 0", k)
	}

	s.complete(k, bytes.Repeat([]byte{0x1}, 10))
	if s.Remaining() != 2 {
		t.Fatalf("remaining = %d, want 2 (slot 1 still in progress, slot 2 pending)", s.Remaining())
	}
}

func TestAcquireRespectsAvailability(t *testing.T) {
	m := &metainfo.Metainfo{Length: 20, PieceLength: 10, PieceHashes: make([][20]byte, 2)}
	s := NewScheduler(m)

	onlySecond := func(i int) bool { return i == 1 }
	i := s.acquire(onlySecond)
	if i != 1 {
		t.Fatalf("acquire = %d, want 1", i)
	}
	if s.acquire(onlySecond) != -1 {
		t.Fatalf("expected no further slot available from this peer")
	}
}

// fakePieceServer builds a metainfo-described file in memory and serves
// it as a cooperative peer over a real TCP loopback connection, so the
// scheduler's actual net.Dial-based worker path gets exercised.
type fakePieceServer struct {
	ln       net.Listener
	infoHash [20]byte
	data     []byte
	m        *metainfo.Metainfo
	serves   func(int) bool
}

func startFakePieceServer(t *testing.T, infoHash [20]byte, data []byte, m *metainfo.Metainfo, serves func(int) bool) *fakePieceServer {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &fakePieceServer{ln: ln, infoHash: infoHash, data: data, m: m, serves: serves}
	go s.acceptLoop(t)
	return s
}

func (s *fakePieceServer) acceptLoop(t *testing.T) {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.serve(t, conn)
	}
}

func (s *fakePieceServer) serve(t *testing.T, conn net.Conn) {
	defer conn.Close()

	peerHS, err := peerwire.ReadHandshake(conn)
	if err != nil || peerHS.InfoHash != s.infoHash {
		return
	}
	var peerID [20]byte
	copy(peerID[:], []byte("fake-piece-server-01"))
	if err := peerwire.WriteHandshake(conn, peerwire.NewHandshake(s.infoHash, peerID, false)); err != nil {
		return
	}

	var bf peerwire.Bitfield
	for i := 0; i < s.m.NumPieces(); i++ {
		if s.serves(i) {
			bf.SetPiece(i)
		}
	}
	if err := peerwire.WriteMessage(conn, peerwire.MsgBitfield, []byte(bf)); err != nil {
		return
	}

	for {
		msg, err := peerwire.ReadMessage(conn)
		if err != nil {
			return
		}
		if msg == nil {
			continue
		}
		switch msg.ID {
		case peerwire.MsgInterested:
			if err := peerwire.WriteMessage(conn, peerwire.MsgUnchoke, nil); err != nil {
				return
			}
		case peerwire.MsgRequest:
			index, begin, length, err := peerwire.ParseRequestPayload(msg.Payload)
			if err != nil {
				continue
			}
			offset := int64(index)*s.m.PieceLength + int64(begin)
			block := s.data[offset : offset+int64(length)]
			if err := peerwire.WriteMessage(conn, peerwire.MsgPiece, peerwire.PiecePayload(index, begin, block)); err != nil {
				return
			}
		}
	}
}

func (s *fakePieceServer) peer(t *testing.T) tracker.Peer {
	addr := s.ln.Addr().(*net.TCPAddr)
	return tracker.Peer{IP: addr.IP, Port: uint16(addr.Port)}
}

func buildTestFile(numPieces int, pieceLen int64) ([]byte, [][20]byte) {
	data := make([]byte, int64(numPieces)*pieceLen)
	for i := range data {
		data[i] = byte(i % 251)
	}
	hashes := make([][20]byte, numPieces)
	for i := 0; i < numPieces; i++ {
		hashes[i] = btsha1.Sum(data[int64(i)*pieceLen : int64(i+1)*pieceLen])
	}
	return data, hashes
}

func TestDownloadAllAcrossTwoPeers(t *testing.T) {
	const numPieces = 4
	const pieceLen = int64(32)
	data, hashes := buildTestFile(numPieces, pieceLen)

	m := &metainfo.Metainfo{Length: int64(len(data)), PieceLength: pieceLen, PieceHashes: hashes}

	var infoHash [20]byte
	infoHash[0] = 0xAB

	// Peer A has pieces 0,1; peer B has pieces 2,3; together they cover
	// the whole file, so the scheduler must use both.
	peerA := startFakePieceServer(t, infoHash, data, m, func(i int) bool { return i < 2 })
	peerB := startFakePieceServer(t, infoHash, data, m, func(i int) bool { return i >= 2 })
	defer peerA.ln.Close()
	defer peerB.ln.Close()

	var peerID [20]byte
	copy(peerID[:], []byte("local-test-client-01"))

	got, err := DownloadAll([]tracker.Peer{peerA.peer(t), peerB.peer(t)}, infoHash, peerID, m, 2, 2*time.Second)
	if err != nil {
		t.Fatalf("DownloadAll: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("DownloadAll returned mismatched data")
	}
}

func TestDownloadAllIncompleteWhenNoPeerHasAllPieces(t *testing.T) {
	const numPieces = 2
	const pieceLen = int64(16)
	data, hashes := buildTestFile(numPieces, pieceLen)
	m := &metainfo.Metainfo{Length: int64(len(data)), PieceLength: pieceLen, PieceHashes: hashes}

	var infoHash [20]byte
	infoHash[0] = 0xCD

	// Only piece 0 is ever served by anyone.
	peer := startFakePieceServer(t, infoHash, data, m, func(i int) bool { return i == 0 })
	defer peer.ln.Close()

	var peerID [20]byte
	copy(peerID[:], []byte("local-test-client-02"))

	_, err := DownloadAll([]tracker.Peer{peer.peer(t)}, infoHash, peerID, m, 1, 2*time.Second)
	if err == nil {
		t.Fatalf("expected a DownloadIncomplete error")
	}
}

func TestDownloadOnePieceFromSinglePeer(t *testing.T) {
	const numPieces = 3
	const pieceLen = int64(24)
	data, hashes := buildTestFile(numPieces, pieceLen)
	m := &metainfo.Metainfo{Length: int64(len(data)), PieceLength: pieceLen, PieceHashes: hashes}

	var infoHash [20]byte
	infoHash[0] = 0xEF

	peer := startFakePieceServer(t, infoHash, data, m, func(int) bool { return true })
	defer peer.ln.Close()

	var peerID [20]byte
	copy(peerID[:], []byte("local-test-client-03"))

	got, err := DownloadOnePiece([]tracker.Peer{peer.peer(t)}, infoHash, peerID, m, 1, 2*time.Second)
	if err != nil {
		t.Fatalf("DownloadOnePiece: %v", err)
	}
	want := data[pieceLen : 2*pieceLen]
	if !bytes.Equal(got, want) {
		t.Fatalf("DownloadOnePiece returned mismatched data")
	}
}
