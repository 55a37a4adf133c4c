package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFetchTokenSendsAppKeyOnly(t *testing.T) {
	var gotAppKey, gotAuth string
	var gotBody map[string]string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != pathApplyToken {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		gotAppKey = r.Header.Get(headerAppKey)
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]any{"token": "tok-1", "expires_in": 3600})
	}))
	defer ts.Close()

	c := New(ts.URL, "app-key", "app-secret")
	cred, err := c.FetchToken(context.Background())
	if err != nil {
		t.Fatalf("fetch token: %v", err)
	}
	if cred.Token != "tok-1" || cred.ExpiresIn != 3600 {
		t.Fatalf("unexpected credential: %+v", cred)
	}
	if gotAppKey != "app-key" {
		t.Fatalf("expected app key header, got %q", gotAppKey)
	}
	if gotAuth != "" {
		t.Fatalf("token issuance must not carry Authorization, got %q", gotAuth)
	}
	if gotBody["appSecret"] != "app-secret" {
		t.Fatalf("expected app secret in body, got %+v", gotBody)
	}
}

func TestFetchTokenRejectsEmptyToken(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"token": ""})
	}))
	defer ts.Close()

	c := New(ts.URL, "k", "s")
	if _, err := c.FetchToken(context.Background()); err == nil {
		t.Fatal("expected error for empty token")
	}
}

func TestCreateOrderCarriesBearer(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != pathPreOrder {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Fatalf("expected bearer header, got %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"code": "0", "prepay_id": "prepay-7"})
	}))
	defer ts.Close()

	c := New(ts.URL, "k", "s")
	resp, err := c.CreateOrder(context.Background(), map[string]any{"timestamp": "1"}, "tok-1")
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if resp.PrepayID != "prepay-7" {
		t.Fatalf("unexpected prepay id: %s", resp.PrepayID)
	}
}

func TestCreateOrderRejection(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"code": "4001", "msg": "invalid merchant"})
	}))
	defer ts.Close()

	c := New(ts.URL, "k", "s")
	if _, err := c.CreateOrder(context.Background(), map[string]any{}, "tok"); err == nil {
		t.Fatal("expected error for missing prepay id")
	}
}

func TestTransportStatusError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	c := New(ts.URL, "k", "s")
	if _, err := c.FetchToken(context.Background()); err == nil {
		t.Fatal("expected error for non-2xx status")
	}
}
