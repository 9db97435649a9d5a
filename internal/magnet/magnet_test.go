package magnet

import (
	"encoding/hex"
	"testing"
)

func TestParseTypicalMagnet(t *testing.T) {
	uri := "magnet:?xt=urn:btih:ad42ce8109f54c99613ce38f9b4d87e70f24a165&dn=sample&tr=http%3A%2F%2Ftracker.example%2Fannounce"

	m, err := Parse(uri)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	wantHash, _ := hex.DecodeString("ad42ce8109f54c99613ce38f9b4d87e70f24a165")
	if hex.EncodeToString(m.InfoHash[:]) != hex.EncodeToString(wantHash) {
		t.Fatalf("InfoHash = %x, want %x", m.InfoHash, wantHash)
	}
	if m.Tracker != "http://tracker.example/announce" {
		t.Fatalf("Tracker = %q", m.Tracker)
	}
	if m.Name != "sample" {
		t.Fatalf("Name = %q", m.Name)
	}
}

func TestParseFirstTrackerWins(t *testing.T) {
	uri := "magnet:?xt=urn:btih:ad42ce8109f54c99613ce38f9b4d87e70f24a165&tr=http%3A%2F%2Ffirst&tr=http%3A%2F%2Fsecond"

	m, err := Parse(uri)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if m.Tracker != "http://first" {
		t.Fatalf("Tracker = %q, want http://first", m.Tracker)
	}
}

func TestParseRejectsMissingXT(t *testing.T) {
	_, err := Parse("magnet:?dn=sample")
	if err == nil {
		t.Fatalf("expected error for missing xt")
	}
}

func TestParseRejectsNonHexTopic(t *testing.T) {
	_, err := Parse("magnet:?xt=urn:btih:notahexinfohash0000000000000000000000000")
	if err == nil {
		t.Fatalf("expected error for malformed xt")
	}
}

func TestParseRejectsMissingPrefix(t *testing.T) {
	_, err := Parse("xt=urn:btih:ad42ce8109f54c99613ce38f9b4d87e70f24a165")
	if err == nil {
		t.Fatalf("expected error for missing magnet:? prefix")
	}
}
