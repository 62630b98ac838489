package token

import (
	"errors"
	"strings"
	"testing"
)

func TestHasher_ZeroValueUsesSHA256(t *testing.T) {
	t.Parallel()

	var h Hasher
	if h.Keyed() {
		t.Fatalf("zero hasher must not be keyed")
	}
	if got, want := h.Hash("abc"), HashSHA256Hex("abc"); got != want {
		t.Fatalf("hash mismatch: got %s want %s", got, want)
	}
}

func TestNewHasher_Errors(t *testing.T) {
	t.Parallel()

	if _, err := NewHasher(nil, 32); !errors.Is(err, ErrHMACKeyMissing) {
		t.Fatalf("expected ErrHMACKeyMissing, got %v", err)
	}
	if _, err := NewHasher([]byte("short"), 32); !errors.Is(err, ErrHMACKeyTooShort) {
		t.Fatalf("expected ErrHMACKeyTooShort, got %v", err)
	}
}

func TestHasher_KeyedIsStableAndKeyDependent(t *testing.T) {
	t.Parallel()

	k1 := []byte(strings.Repeat("a", 32))
	k2 := []byte(strings.Repeat("b", 32))

	h1, err := NewHasher(k1, 32)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	h2, err := NewHasher(k2, 32)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}

	a := h1.Hash("refresh-token")
	if len(a) != HexLen {
		t.Fatalf("expected %d chars, got %d", HexLen, len(a))
	}
	if a != h1.Hash("refresh-token") {
		t.Fatalf("keyed hash must be deterministic")
	}
	if a == h2.Hash("refresh-token") {
		t.Fatalf("different keys must produce different digests")
	}
	if a == HashSHA256Hex("refresh-token") {
		t.Fatalf("keyed hash must differ from plain sha256")
	}
}

func TestEqual(t *testing.T) {
	t.Parallel()

	a := HashSHA256Hex("x")
	b := HashSHA256Hex("y")

	if !Equal(a, a) {
		t.Fatalf("expected equal")
	}
	if Equal(a, b) {
		t.Fatalf("expected not equal")
	}
	if Equal("abc", "abc") {
		t.Fatalf("short values must never match")
	}
}
