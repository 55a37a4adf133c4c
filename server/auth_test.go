package server

import (
	"bytes"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func authRequest(ts, nonce, secret string, body []byte) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/orders", bytes.NewReader(body))
	sig := ComputeSignature(secret, ts, nonce, http.MethodPost, "/api/orders", body)
	req.Header.Set(HeaderAPIKey, testAPIKey)
	req.Header.Set(HeaderTimestamp, ts)
	req.Header.Set(HeaderNonce, nonce)
	req.Header.Set(HeaderSignature, hex.EncodeToString(sig))
	return req
}

func TestAuthenticateAcceptsValidSignature(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	auth := NewAuthenticator(map[string]string{testAPIKey: testAPISecret}, 2*time.Minute, 10*time.Minute, 64, func() time.Time { return fixed })

	body := []byte(`{"title":"Sub"}`)
	ts := strconv.FormatInt(fixed.Unix(), 10)
	principal, err := auth.Authenticate(authRequest(ts, "N1", testAPISecret, body), body)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if principal.APIKey != testAPIKey {
		t.Fatalf("expected principal %s, got %s", testAPIKey, principal.APIKey)
	}
}

func TestAuthenticateRejectsReplayedNonce(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	auth := NewAuthenticator(map[string]string{testAPIKey: testAPISecret}, 2*time.Minute, 10*time.Minute, 64, func() time.Time { return fixed })

	body := []byte(`{}`)
	ts := strconv.FormatInt(fixed.Unix(), 10)
	req := authRequest(ts, "REPLAY", testAPISecret, body)
	if _, err := auth.Authenticate(req, body); err != nil {
		t.Fatalf("first use: %v", err)
	}
	if _, err := auth.Authenticate(req, body); err == nil {
		t.Fatal("expected replayed nonce to be rejected")
	}
}

func TestAuthenticateRejectsSkewedTimestamp(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	auth := NewAuthenticator(map[string]string{testAPIKey: testAPISecret}, 2*time.Minute, 10*time.Minute, 64, func() time.Time { return fixed })

	body := []byte(`{}`)
	stale := strconv.FormatInt(fixed.Add(-10*time.Minute).Unix(), 10)
	if _, err := auth.Authenticate(authRequest(stale, "N2", testAPISecret, body), body); err == nil {
		t.Fatal("expected stale timestamp to be rejected")
	}
}

func TestAuthenticateRejectsWrongSecret(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	auth := NewAuthenticator(map[string]string{testAPIKey: testAPISecret}, 2*time.Minute, 10*time.Minute, 64, func() time.Time { return fixed })

	body := []byte(`{}`)
	ts := strconv.FormatInt(fixed.Unix(), 10)
	if _, err := auth.Authenticate(authRequest(ts, "N3", "wrong-secret", body), body); err == nil {
		t.Fatal("expected invalid signature to be rejected")
	}
}

func TestNonceStoreEvictsByCapacity(t *testing.T) {
	store := newNonceStore(time.Hour, 2)
	now := time.Now()
	if store.Seen("a", now) || store.Seen("b", now) {
		t.Fatal("fresh nonces reported as seen")
	}
	if !store.Seen("a", now) {
		t.Fatal("expected a to be seen")
	}
	if store.Seen("c", now) {
		t.Fatal("fresh nonce c reported as seen")
	}
	// Capacity 2: inserting c evicted the oldest entry, a.
	if !store.Seen("b", now) {
		t.Fatal("expected b to survive eviction")
	}
	if store.entries["a"] != nil {
		t.Fatal("expected a to have been evicted")
	}
}
