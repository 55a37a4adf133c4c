package signing

import (
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestNonceLengthAndAlphabet(t *testing.T) {
	for _, length := range []int{1, 16, 32, 64} {
		nonce := Nonce(length)
		if len(nonce) != length {
			t.Fatalf("expected length %d, got %d", length, len(nonce))
		}
		for _, r := range nonce {
			if !strings.ContainsRune(nonceAlphabet, r) {
				t.Fatalf("nonce %q contains %q outside the alphabet", nonce, r)
			}
		}
	}
}

func TestNonceDefaultLength(t *testing.T) {
	if got := Nonce(0); len(got) != DefaultNonceLength {
		t.Fatalf("expected default length %d, got %d", DefaultNonceLength, len(got))
	}
	if got := Nonce(-5); len(got) != DefaultNonceLength {
		t.Fatalf("expected default length %d, got %d", DefaultNonceLength, len(got))
	}
}

func TestNoncesDiffer(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		nonce := Nonce(32)
		if _, dup := seen[nonce]; dup {
			t.Fatalf("duplicate nonce %q", nonce)
		}
		seen[nonce] = struct{}{}
	}
}

func TestTimestampIsUnixSeconds(t *testing.T) {
	before := time.Now().Unix()
	parsed, err := strconv.ParseInt(Timestamp(), 10, 64)
	if err != nil {
		t.Fatalf("timestamp not decimal: %v", err)
	}
	after := time.Now().Unix()
	if parsed < before || parsed > after {
		t.Fatalf("timestamp %d outside [%d, %d]", parsed, before, after)
	}
}
