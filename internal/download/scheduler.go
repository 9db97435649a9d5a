// Package download implements the concurrent piece-download engine: a
// work queue across pieces, one worker per active peer connection, and
// final assembly of the verified pieces into one buffer.
//
// Per the design notes, a continuous worker pool that pulls the next
// peer address as a worker exits is preferred over a "batch K, wait,
// batch K more" policy; that's what Scheduler implements.
package download

import (
	"fmt"
	"net"
	"sync"
	"time"

	"bittorrent/internal/btError"
	"bittorrent/internal/btlog"
	"bittorrent/internal/metainfo"
	"bittorrent/internal/peerwire"
	"bittorrent/internal/piece"
	"bittorrent/internal/tracker"
)

// DefaultWorkers is the default number of concurrent peer workers (K in
// the design).
const DefaultWorkers = 4

// maxConsecutiveMismatches bounds how many times in a row a single
// worker will retry hash-mismatching pieces from the same peer before
// giving up on it, so a peer that keeps handing back the one bad piece
// nobody else has doesn't spin a worker forever.
const maxConsecutiveMismatches = 3

type slotStatus int

const (
	pending slotStatus = iota
	inProgress
	done
)

type slot struct {
	status slotStatus
}

// Scheduler owns the shared piece-slot array, the assembled output
// buffer, and the mutex protecting slot transitions. Writes into the
// buffer target disjoint piece ranges owned transitively by whichever
// worker currently holds a slot InProgress, so the buffer itself needs
// no lock — only slot transitions do.
type Scheduler struct {
	m *metainfo.Metainfo

	mu        sync.Mutex
	slots     []slot
	remaining int
	assembled []byte

	errMu   sync.Mutex
	lastErr error
}

// NewScheduler builds a Scheduler for m's piece geometry.
func NewScheduler(m *metainfo.Metainfo) *Scheduler {
	n := m.NumPieces()
	return &Scheduler{
		m:         m,
		slots:     make([]slot, n),
		remaining: n,
		assembled: make([]byte, m.Length),
	}
}

// Remaining reports how many pieces are not yet Done.
func (s *Scheduler) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remaining
}

// acquire finds the lowest-index Pending slot the peer (per hasPiece)
// can serve and atomically marks it InProgress, or returns -1 if none
// is currently available. Tie-breaking is index-ascending, which keeps
// slot acquisition order deterministic for tests.
func (s *Scheduler) acquire(hasPiece func(int) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.slots {
		if s.slots[i].status == pending && hasPiece(i) {
			s.slots[i].status = inProgress
			return i
		}
	}
	return -1
}

func (s *Scheduler) release(index int) {
	s.mu.Lock()
	s.slots[index].status = pending
	s.mu.Unlock()
}

func (s *Scheduler) complete(index int, data []byte) {
	offset := int64(index) * s.m.PieceLength
	s.mu.Lock()
	copy(s.assembled[offset:offset+int64(len(data))], data)
	s.slots[index].status = done
	s.remaining--
	s.mu.Unlock()
}

func (s *Scheduler) recordError(err error) {
	s.errMu.Lock()
	if s.lastErr == nil {
		s.lastErr = err
	}
	s.errMu.Unlock()
}

func (s *Scheduler) firstError() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.lastErr
}

// DownloadAll runs up to workers concurrent peer connections, each
// pulling piece slots and pulling a fresh peer address as soon as it
// exits, until every piece is Done or every peer has been exhausted.
func DownloadAll(peers []tracker.Peer, infoHash, peerID [20]byte, m *metainfo.Metainfo, workers int, dialTimeout time.Duration) ([]byte, error) {
	if len(peers) == 0 {
		return nil, btError.New(btError.NoPeers, "no peers to download from")
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}

	s := NewScheduler(m)

	peerCh := make(chan tracker.Peer, len(peers))
	for _, p := range peers {
		peerCh <- p
	}
	close(peerCh)

	active := workers
	if active > len(peers) {
		active = len(peers)
	}

	var wg sync.WaitGroup
	for i := 0; i < active; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for peer := range peerCh {
				if s.Remaining() == 0 {
					return
				}
				s.runWorker(peer, infoHash, peerID, dialTimeout)
			}
		}()
	}
	wg.Wait()

	if s.Remaining() > 0 {
		cause := s.firstError()
		if cause == nil {
			cause = btError.New(btError.NoPeers, "all peers exhausted")
		}
		return nil, btError.Wrap(btError.DownloadIncomplete, "download did not complete", cause)
	}
	return s.assembled, nil
}

// DownloadOnePiece tries each peer in turn until one of them serves and
// verifies piece index, for the CLI's single-piece download command.
func DownloadOnePiece(peers []tracker.Peer, infoHash, peerID [20]byte, m *metainfo.Metainfo, index int, dialTimeout time.Duration) ([]byte, error) {
	var lastErr error
	for _, p := range peers {
		conn, err := net.DialTimeout("tcp4", p.String(), dialTimeout)
		if err != nil {
			lastErr = btError.Wrap(btError.Io, "dialing peer", err)
			continue
		}

		data, err := func() ([]byte, error) {
			defer conn.Close()
			if err := handshakeWith(conn, infoHash, peerID); err != nil {
				return nil, err
			}
			if _, err := negotiate(conn); err != nil {
				return nil, err
			}
			return piece.Download(conn, index, m.PieceLen(index), m.PieceHashes[index])
		}()
		if err != nil {
			lastErr = err
			continue
		}
		return data, nil
	}
	if lastErr == nil {
		lastErr = btError.New(btError.NoPeers, "no peers available")
	}
	return nil, btError.Wrap(btError.DownloadIncomplete, "could not download piece from any peer", lastErr)
}

// runWorker owns one peer connection for its whole lifetime: connect,
// handshake, negotiate, then repeatedly acquire and download piece
// slots until none remain available from this peer or the download is
// complete. A hash-mismatch releases the slot and keeps going; any
// connection-level failure releases the slot (if one is held) and exits
// the worker for good, per the design's retry policy.
func (s *Scheduler) runWorker(p tracker.Peer, infoHash, peerID [20]byte, dialTimeout time.Duration) {
	conn, err := net.DialTimeout("tcp4", p.String(), dialTimeout)
	if err != nil {
		btlog.Verbosef("[%s] dial failed: %v", p, err)
		return
	}
	defer conn.Close()

	if err := handshakeWith(conn, infoHash, peerID); err != nil {
		btlog.Verbosef("[%s] handshake failed: %v", p, err)
		return
	}

	bf, err := negotiate(conn)
	if err != nil {
		btlog.Verbosef("[%s] negotiation failed: %v", p, err)
		return
	}

	consecutiveMismatches := 0
	for {
		if s.Remaining() == 0 {
			return
		}
		index := s.acquire(bf.HasPiece)
		if index < 0 {
			return
		}

		data, err := piece.Download(conn, index, s.m.PieceLen(index), s.m.PieceHashes[index])
		if err != nil {
			s.release(index)
			if btError.Is(err, btError.HashMismatch) {
				consecutiveMismatches++
				btlog.Verbosef("[%s] piece %d failed verification, retrying elsewhere", p, index)
				if consecutiveMismatches >= maxConsecutiveMismatches {
					// Most likely this peer keeps handing back the same
					// bad piece nobody else has; give up on it rather
					// than spin forever (spec tolerates but doesn't
					// require surviving this indefinitely).
					s.recordError(btError.New(btError.HashMismatch, fmt.Sprintf("peer %s failed piece verification %d times in a row", p, consecutiveMismatches)))
					return
				}
				continue
			}
			btlog.Verbosef("[%s] piece %d failed: %v", p, index, err)
			s.recordError(err)
			return
		}

		consecutiveMismatches = 0
		s.complete(index, data)
		btlog.Verbosef("[%s] completed piece %d (%d remaining)", p, index, s.Remaining())
	}
}

// handshakeWith performs and validates the base peer-wire handshake.
func handshakeWith(conn net.Conn, infoHash, peerID [20]byte) error {
	if err := peerwire.WriteHandshake(conn, peerwire.NewHandshake(infoHash, peerID, false)); err != nil {
		return err
	}
	peerHS, err := peerwire.ReadHandshake(conn)
	if err != nil {
		return err
	}
	if peerHS.InfoHash != infoHash {
		return btError.New(btError.PeerProtocol, "peer handshake infohash mismatch")
	}
	return nil
}

// negotiate sends interested and reads messages until unchoke, folding
// in any bitfield/have messages seen along the way. Combining "read
// bitfield" and "wait for unchoke" into one loop (rather than two rigid
// phases) tolerates peers that interleave the two in either order.
func negotiate(conn peerConn) (peerwire.Bitfield, error) {
	if err := peerwire.WriteMessage(conn, peerwire.MsgInterested, nil); err != nil {
		return nil, err
	}

	var bf peerwire.Bitfield
	for {
		msg, err := peerwire.ReadMessage(conn)
		if err != nil {
			return nil, err
		}
		if msg == nil {
			continue
		}

		switch msg.ID {
		case peerwire.MsgBitfield:
			bf = append(peerwire.Bitfield{}, msg.Payload...)
		case peerwire.MsgHave:
			if idx, err := peerwire.ParseHavePayload(msg.Payload); err == nil {
				bf.SetPiece(int(idx))
			}
		case peerwire.MsgUnchoke:
			return bf, nil
		}
	}
}

// peerConn is the minimal interface negotiate needs, satisfied by
// net.Conn.
type peerConn interface {
	Write(p []byte) (int, error)
	Read(p []byte) (int, error)
}
