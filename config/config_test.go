package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeKeysFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "keys.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write keys file: %v", err)
	}
	return path
}

func setRequiredEnv(t *testing.T, keysPath string) {
	t.Helper()
	t.Setenv(envBaseURL, "https://gateway.example")
	t.Setenv(envAppID, "app-1")
	t.Setenv(envAppKey, "appkey")
	t.Setenv(envAppSecret, "appsecret")
	t.Setenv(envMerchantCode, "M1001")
	t.Setenv(envPrivateKey, "cHJpdmF0ZQ==")
	t.Setenv(envPublicKey, "cHVibGlj")
	t.Setenv(envAPIKeysFile, keysPath)
}

func TestLoadFromEnvDefaults(t *testing.T) {
	keysPath := writeKeysFile(t, "keys:\n  - key: merchant-1\n    secret: s3cret\n")
	setRequiredEnv(t, keysPath)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ListenAddress != ":8082" {
		t.Fatalf("unexpected listen address: %s", cfg.ListenAddress)
	}
	if cfg.AllowedTimestampSkew != 2*time.Minute {
		t.Fatalf("unexpected skew default: %s", cfg.AllowedTimestampSkew)
	}
	if cfg.NonceTTL != 4*time.Minute {
		t.Fatalf("expected nonce TTL to default to twice the skew, got %s", cfg.NonceTTL)
	}
	if len(cfg.APIKeys) != 1 || cfg.APIKeys[0].Key != "merchant-1" {
		t.Fatalf("unexpected api keys: %+v", cfg.APIKeys)
	}
}

func TestLoadFromEnvMissingRequired(t *testing.T) {
	keysPath := writeKeysFile(t, "keys:\n  - key: merchant-1\n    secret: s3cret\n")
	setRequiredEnv(t, keysPath)
	t.Setenv(envBaseURL, "")

	if _, err := LoadFromEnv(); err == nil {
		t.Fatal("expected error for missing base URL")
	}
}

func TestLoadFromEnvOverrides(t *testing.T) {
	keysPath := writeKeysFile(t, "keys:\n  - key: merchant-1\n    secret: s3cret\n")
	setRequiredEnv(t, keysPath)
	t.Setenv(envListen, ":9090")
	t.Setenv(envTimestampSkew, "1m")
	t.Setenv(envNonceTTL, "5m")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ListenAddress != ":9090" {
		t.Fatalf("listen override ignored: %s", cfg.ListenAddress)
	}
	if cfg.AllowedTimestampSkew != time.Minute {
		t.Fatalf("skew override ignored: %s", cfg.AllowedTimestampSkew)
	}
	if cfg.NonceTTL != 5*time.Minute {
		t.Fatalf("nonce TTL override ignored: %s", cfg.NonceTTL)
	}
}

func TestLoadAPIKeysRejectsBadFile(t *testing.T) {
	if _, err := LoadAPIKeys(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
	empty := writeKeysFile(t, "keys: []\n")
	if _, err := LoadAPIKeys(empty); err == nil {
		t.Fatal("expected error for empty key list")
	}
	incomplete := writeKeysFile(t, "keys:\n  - key: merchant-1\n")
	if _, err := LoadAPIKeys(incomplete); err == nil {
		t.Fatal("expected error for missing secret")
	}
}
