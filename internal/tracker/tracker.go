// Package tracker builds BitTorrent HTTP tracker announce requests and
// parses the compact peer list out of the response. The raw socket-level
// HTTP transport the teacher hand-rolls is out of scope here — per the
// spec this is an external collaborator at the shape level only — so
// this package issues the request with the standard net/http client
// instead, the way Kostaaa1-bittorrent's discoverPeers does.
package tracker

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"bittorrent/internal/bencode"
	"bittorrent/internal/bitutil"
	"bittorrent/internal/btError"
)

// Peer is one IPv4 address/port pair recovered from a compact peer list.
type Peer struct {
	IP   net.IP
	Port uint16
}

func (p Peer) String() string {
	return net.JoinHostPort(p.IP.String(), strconv.Itoa(int(p.Port)))
}

// AnnounceRequest holds everything needed to build an announce URL.
type AnnounceRequest struct {
	Announce string
	InfoHash [20]byte
	PeerID   [20]byte
	Port     uint16
	Uploaded int64
	// Downloaded is the number of bytes downloaded so far.
	Downloaded int64
	// Left is the number of bytes remaining to download. For a magnet
	// bootstrap where the file length isn't known yet, callers pass a
	// positive placeholder — trackers reject left=0 combined with no
	// other indication of the torrent's size.
	Left    int64
	Compact bool
}

// BuildURL renders the announce URL for req, percent-encoding info_hash
// and peer_id per the tracker's byte-oriented escaping rules rather than
// net/url's text-oriented QueryEscape.
func (req AnnounceRequest) BuildURL() string {
	compact := "0"
	if req.Compact {
		compact = "1"
	}

	query := fmt.Sprintf(
		"info_hash=%s&peer_id=%s&port=%d&uploaded=%d&downloaded=%d&left=%d&compact=%s",
		bitutil.URLEncode(req.InfoHash[:]),
		bitutil.URLEncode(req.PeerID[:]),
		req.Port,
		req.Uploaded,
		req.Downloaded,
		req.Left,
		compact,
	)

	sep := "?"
	if containsQuery(req.Announce) {
		sep = "&"
	}
	return req.Announce + sep + query
}

func containsQuery(url string) bool {
	for i := 0; i < len(url); i++ {
		if url[i] == '?' {
			return true
		}
	}
	return false
}

// Client announces to a tracker over HTTP and parses the compact peer
// list from the response.
type Client struct {
	HTTP *http.Client
}

// NewClient returns a Client with a bounded request timeout.
func NewClient(timeout time.Duration) *Client {
	return &Client{HTTP: &http.Client{Timeout: timeout}}
}

// Announce issues req against its tracker and returns the peer list in
// the order the tracker returned them.
func (c *Client) Announce(req AnnounceRequest) ([]Peer, error) {
	url := req.BuildURL()

	resp, err := c.HTTP.Get(url)
	if err != nil {
		return nil, btError.Wrap(btError.TrackerFailure, "tracker request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, btError.New(btError.TrackerFailure, fmt.Sprintf("tracker returned HTTP %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, btError.Wrap(btError.TrackerFailure, "reading tracker response body", err)
	}

	return ParseAnnounceResponse(body)
}

// ParseAnnounceResponse decodes a bencoded tracker response and returns
// the compact peer list, or a TrackerFailure if the tracker reported a
// failure reason or the response doesn't parse.
func ParseAnnounceResponse(body []byte) ([]Peer, error) {
	v, err := bencode.Decode(body)
	if err != nil {
		return nil, btError.Wrap(btError.TrackerFailure, "decoding tracker response", err)
	}

	dict, ok := v.AsDict()
	if !ok {
		return nil, btError.New(btError.TrackerFailure, "tracker response is not a dictionary")
	}

	if reason, ok := dict["failure reason"].String(); ok && reason != "" {
		return nil, btError.New(btError.TrackerFailure, reason)
	}

	peersRaw, ok := dict["peers"].RawBytes()
	if !ok {
		return nil, btError.New(btError.TrackerFailure, "tracker response missing compact peers field")
	}

	peers, err := ParseCompactPeers(peersRaw)
	if err != nil {
		return nil, err
	}
	if len(peers) == 0 {
		return nil, btError.New(btError.NoPeers, "tracker returned zero peers")
	}
	return peers, nil
}

// ParseCompactPeers parses a compact peer-list byte-string: 6 bytes per
// peer, 4 bytes of IPv4 address followed by 2 bytes of big-endian port.
func ParseCompactPeers(b []byte) ([]Peer, error) {
	if len(b)%6 != 0 {
		return nil, btError.New(btError.TrackerFailure, "compact peers field length is not a multiple of 6")
	}

	peers := make([]Peer, 0, len(b)/6)
	for i := 0; i < len(b); i += 6 {
		ip := net.IPv4(b[i], b[i+1], b[i+2], b[i+3])
		port := bitutil.Uint16(b[i+4 : i+6])
		peers = append(peers, Peer{IP: ip, Port: port})
	}
	return peers, nil
}
