// Command bittorrent is the client's command-line surface: inspect a
// metainfo file or magnet link, talk to a tracker, perform the peer-wire
// handshake, fetch a magnet's info dictionary over ut_metadata, and
// download a single piece or the whole file.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"bittorrent/internal/bencode"
	"bittorrent/internal/bitutil"
	"bittorrent/internal/btError"
	"bittorrent/internal/btlog"
	"bittorrent/internal/download"
	"bittorrent/internal/magnet"
	"bittorrent/internal/metadata"
	"bittorrent/internal/metainfo"
	"bittorrent/internal/peerwire"
	"bittorrent/internal/tracker"
)

const (
	announceTimeout = 15 * time.Second
	clientPort      = 6881
)

var (
	verboseFlag     = flag.Bool("verbose", false, "print per-peer/per-piece diagnostics to stderr")
	workersFlag     = flag.Int("workers", download.DefaultWorkers, "number of concurrent peer workers for download")
	dialTimeoutFlag = flag.Duration("dial-timeout", 5*time.Second, "bounded timeout for connecting to a peer")
	readTimeoutFlag = flag.Duration("read-timeout", peerwire.ReadTimeout, "bounded idle timeout for each read from a peer")
)

// dialTimeout and workers are read by the run* handlers below; both are
// only meaningful once flag.Parse has run in main.
var (
	dialTimeout time.Duration
	workers     int
)

func main() {
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: bittorrent [flags] <command> [args]")
	}
	flag.Parse()

	btlog.SetVerbose(*verboseFlag)
	peerwire.SetReadTimeout(*readTimeoutFlag)
	dialTimeout = *dialTimeoutFlag
	workers = *workersFlag

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		os.Exit(1)
	}
	command := args[0]
	args = args[1:]

	var err error
	switch command {
	case "decode":
		err = runDecode(args)
	case "info":
		err = runInfo(args)
	case "peers":
		err = runPeers(args)
	case "handshake":
		err = runHandshake(args)
	case "download_piece":
		err = runDownloadPiece(args)
	case "download":
		err = runDownload(args)
	case "magnet_parse":
		err = runMagnetParse(args)
	case "magnet_handshake":
		err = runMagnetHandshake(args)
	case "magnet_info":
		err = runMagnetInfo(args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", command)
		os.Exit(1)
	}

	if err != nil {
		reportAndExit(err)
	}
}

// reportAndExit prints the single diagnostic line the design calls for
// (the error's kind and one contextual detail) and exits non-zero.
func reportAndExit(err error) {
	if be, ok := err.(*btError.Error); ok {
		btlog.Errorf("%s: %s", be.Kind, be.Detail)
	} else {
		btlog.Errorf("%v", err)
	}
	os.Exit(1)
}

func runDecode(args []string) error {
	if len(args) != 1 {
		return btError.New(btError.BencodeInvalid, "decode takes exactly one bencoded argument")
	}
	v, err := bencode.Decode([]byte(args[0]))
	if err != nil {
		return err
	}
	out, err := v.MarshalJSON()
	if err != nil {
		return btError.Wrap(btError.BencodeInvalid, "rendering decoded value as JSON", err)
	}
	fmt.Println(string(out))
	return nil
}

func runInfo(args []string) error {
	if len(args) != 1 {
		return btError.New(btError.InvalidTorrent, "info takes a single <torrent> path argument")
	}
	m, err := loadMetainfo(args[0])
	if err != nil {
		return err
	}
	printInfo(m)
	return nil
}

func printInfo(m *metainfo.Metainfo) {
	fmt.Printf("Tracker URL: %s\n", m.Announce)
	fmt.Printf("Length: %d\n", m.Length)
	fmt.Printf("Info Hash: %s\n", bitutil.HexString(m.InfoHash[:]))
	fmt.Printf("Piece Length: %d\n", m.PieceLength)
	fmt.Println("Piece Hashes:")
	for _, h := range m.PieceHashes {
		fmt.Println(bitutil.HexString(h[:]))
	}
}

func runPeers(args []string) error {
	if len(args) != 1 {
		return btError.New(btError.InvalidTorrent, "peers takes a single <torrent> path argument")
	}
	m, err := loadMetainfo(args[0])
	if err != nil {
		return err
	}

	peerID, err := bitutil.RandomPeerID()
	if err != nil {
		return btError.Wrap(btError.Io, "generating peer id", err)
	}

	peers, err := announce(m.Announce, m.InfoHash, peerID, m.Length)
	if err != nil {
		return err
	}
	for _, p := range peers {
		fmt.Println(p.String())
	}
	return nil
}

func runHandshake(args []string) error {
	if len(args) != 2 {
		return btError.New(btError.PeerProtocol, "handshake takes <torrent> <ip:port>")
	}
	m, err := loadMetainfo(args[0])
	if err != nil {
		return err
	}
	peerAddr := args[1]

	peerID, err := bitutil.RandomPeerID()
	if err != nil {
		return btError.Wrap(btError.Io, "generating peer id", err)
	}

	conn, err := dialPeer(peerAddr)
	if err != nil {
		return err
	}
	defer conn.Close()

	peerHS, err := doHandshake(conn, m.InfoHash, peerID, false)
	if err != nil {
		return err
	}
	fmt.Printf("Peer ID: %s\n", bitutil.HexString(peerHS.PeerID[:]))
	return nil
}

func runDownloadPiece(args []string) error {
	fs := flag.NewFlagSet("download_piece", flag.ContinueOnError)
	out := fs.String("o", "", "output file path")
	if err := fs.Parse(args); err != nil {
		return btError.Wrap(btError.Io, "parsing flags", err)
	}
	rest := fs.Args()
	if *out == "" || len(rest) != 2 {
		return btError.New(btError.Io, "download_piece takes -o <out> <torrent> <index>")
	}

	torrentPath, indexStr := rest[0], rest[1]
	index, err := parseIndex(indexStr)
	if err != nil {
		return err
	}

	m, err := loadMetainfo(torrentPath)
	if err != nil {
		return err
	}

	peerID, err := bitutil.RandomPeerID()
	if err != nil {
		return btError.Wrap(btError.Io, "generating peer id", err)
	}

	peers, err := announce(m.Announce, m.InfoHash, peerID, m.Length)
	if err != nil {
		return err
	}

	data, err := download.DownloadOnePiece(peers, m.InfoHash, peerID, m, index, dialTimeout)
	if err != nil {
		return err
	}
	return writeFile(*out, data)
}

func runDownload(args []string) error {
	fs := flag.NewFlagSet("download", flag.ContinueOnError)
	out := fs.String("o", "", "output file path")
	if err := fs.Parse(args); err != nil {
		return btError.Wrap(btError.Io, "parsing flags", err)
	}
	rest := fs.Args()
	if *out == "" || len(rest) != 1 {
		return btError.New(btError.Io, "download takes -o <out> <torrent>")
	}

	m, err := loadMetainfo(rest[0])
	if err != nil {
		return err
	}

	peerID, err := bitutil.RandomPeerID()
	if err != nil {
		return btError.Wrap(btError.Io, "generating peer id", err)
	}

	peers, err := announce(m.Announce, m.InfoHash, peerID, m.Length)
	if err != nil {
		return err
	}

	data, err := download.DownloadAll(peers, m.InfoHash, peerID, m, workers, dialTimeout)
	if err != nil {
		return err
	}
	return writeFile(*out, data)
}

func runMagnetParse(args []string) error {
	if len(args) != 1 {
		return btError.New(btError.InvalidMagnet, "magnet_parse takes a single <magnet-uri> argument")
	}
	mg, err := magnet.Parse(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Tracker URL: %s\n", mg.Tracker)
	fmt.Printf("Info Hash: %s\n", bitutil.HexString(mg.InfoHash[:]))
	return nil
}

func runMagnetHandshake(args []string) error {
	if len(args) != 1 {
		return btError.New(btError.InvalidMagnet, "magnet_handshake takes a single <magnet-uri> argument")
	}
	mg, err := magnet.Parse(args[0])
	if err != nil {
		return err
	}

	peerID, err := bitutil.RandomPeerID()
	if err != nil {
		return btError.Wrap(btError.Io, "generating peer id", err)
	}

	// A magnet bootstrap doesn't know the file length yet; announce with
	// a positive placeholder for "left" as the design calls for.
	peers, err := announce(mg.Tracker, mg.InfoHash, peerID, 1)
	if err != nil {
		return err
	}
	if len(peers) == 0 {
		return btError.New(btError.NoPeers, "tracker returned zero peers")
	}

	conn, err := dialPeer(peers[0].String())
	if err != nil {
		return err
	}
	defer conn.Close()

	peerHS, err := doHandshake(conn, mg.InfoHash, peerID, true)
	if err != nil {
		return err
	}
	fmt.Printf("Peer ID: %s\n", bitutil.HexString(peerHS.PeerID[:]))

	if !peerHS.SupportsExtensions() {
		return btError.New(btError.PeerProtocol, "peer does not support the extension protocol")
	}

	extID, err := magnetExtensionHandshake(conn)
	if err != nil {
		return err
	}
	fmt.Printf("Peer Metadata Extension ID: %d\n", extID)
	return nil
}

func runMagnetInfo(args []string) error {
	if len(args) != 1 {
		return btError.New(btError.InvalidMagnet, "magnet_info takes a single <magnet-uri> argument")
	}
	mg, err := magnet.Parse(args[0])
	if err != nil {
		return err
	}

	peerID, err := bitutil.RandomPeerID()
	if err != nil {
		return btError.Wrap(btError.Io, "generating peer id", err)
	}

	peers, err := announce(mg.Tracker, mg.InfoHash, peerID, 1)
	if err != nil {
		return err
	}
	if len(peers) == 0 {
		return btError.New(btError.NoPeers, "tracker returned zero peers")
	}

	conn, err := dialPeer(peers[0].String())
	if err != nil {
		return err
	}
	defer conn.Close()

	peerHS, err := doHandshake(conn, mg.InfoHash, peerID, true)
	if err != nil {
		return err
	}
	if !peerHS.SupportsExtensions() {
		return btError.New(btError.PeerProtocol, "peer does not support the extension protocol")
	}

	infoBytes, err := metadata.FetchInfoDict(conn, mg.InfoHash)
	if err != nil {
		return err
	}

	v, err := bencode.Decode(infoBytes)
	if err != nil {
		return err
	}
	m, err := metainfo.FromInfoDict(v, mg.InfoHash, infoBytes)
	if err != nil {
		return err
	}
	m.Announce = mg.Tracker
	printInfo(m)
	return nil
}

// --- shared helpers ---

func loadMetainfo(path string) (*metainfo.Metainfo, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, btError.Wrap(btError.Io, "reading torrent file", err)
	}
	return metainfo.Parse(buf)
}

func announce(announceURL string, infoHash, peerID [20]byte, left int64) ([]tracker.Peer, error) {
	client := tracker.NewClient(announceTimeout)
	req := tracker.AnnounceRequest{
		Announce: announceURL,
		InfoHash: infoHash,
		PeerID:   peerID,
		Port:     clientPort,
		Left:     left,
		Compact:  true,
	}
	return client.Announce(req)
}

func dialPeer(addr string) (netConn, error) {
	return dialTCP(addr, dialTimeout)
}

func doHandshake(conn netConn, infoHash, peerID [20]byte, supportsExtensions bool) (peerwire.Handshake, error) {
	if err := peerwire.WriteHandshake(conn, peerwire.NewHandshake(infoHash, peerID, supportsExtensions)); err != nil {
		return peerwire.Handshake{}, err
	}
	peerHS, err := peerwire.ReadHandshake(conn)
	if err != nil {
		return peerwire.Handshake{}, err
	}
	if peerHS.InfoHash != infoHash {
		return peerwire.Handshake{}, btError.New(btError.PeerProtocol, "peer handshake infohash mismatch")
	}
	return peerHS, nil
}

// magnetExtensionHandshake assumes the base handshake already completed
// and the peer advertised extension-protocol support; it exchanges
// ut_metadata ids and returns the peer's.
func magnetExtensionHandshake(conn netConn) (byte, error) {
	e := metadataExchanger(conn)
	if err := e.SendHandshake(); err != nil {
		return 0, err
	}
	for {
		extID, payload, err := e.ReadExtended()
		if err != nil {
			return 0, err
		}
		if extID != 0 {
			continue
		}
		return metadata.ParsePeerUTMetadataID(payload)
	}
}

func metadataExchanger(conn netConn) *metadata.Exchanger {
	return &metadata.Exchanger{Conn: conn}
}

func parseIndex(s string) (int, error) {
	n := 0
	if s == "" {
		return 0, btError.New(btError.Io, "piece index must not be empty")
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, btError.New(btError.Io, "piece index must be a non-negative integer")
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

func writeFile(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return btError.Wrap(btError.Io, "writing output file", err)
	}
	return nil
}
