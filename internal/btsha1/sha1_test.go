package btsha1

import (
	"encoding/hex"
	"testing"
)

func TestSumEmptyString(t *testing.T) {
	got := Sum(nil)
	want := "da39a3ee5e6b4b0d3255bfef95601890afd80709"
	if hex.EncodeToString(got[:]) != want {
		t.Fatalf("Sum(\"\") = %x, want %s", got, want)
	}
}

func TestSumKnownVector(t *testing.T) {
	got := Sum([]byte("abc"))
	want := "a9993e364706816aba3e25717850c26c9cd0d89d"
	if hex.EncodeToString(got[:]) != want {
		t.Fatalf("Sum(abc) = %x, want %s", got, want)
	}
}

func TestHasherMultipleUpdatesMatchSingleSum(t *testing.T) {
	h := New()
	h.Update([]byte("ab"))
	h.Update([]byte("c"))
	got := h.Finalize()

	want := Sum([]byte("abc"))
	if got != want {
		t.Fatalf("streamed Sum = %x, want %x", got, want)
	}
}

func TestHasherResetsAfterFinalize(t *testing.T) {
	h := New()
	h.Update([]byte("abc"))
	h.Finalize()

	h.Update([]byte("abc"))
	got := h.Finalize()

	want := Sum([]byte("abc"))
	if got != want {
		t.Fatalf("Hasher did not reset: got %x, want %x", got, want)
	}
}
