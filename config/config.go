package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// APIKeyConfig describes a single merchant API key + secret pair accepted by
// the connector.
type APIKeyConfig struct {
	Key    string `yaml:"key"`
	Secret string `yaml:"secret"`
}

// Config captures runtime configuration for the connector service.
type Config struct {
	ListenAddress        string
	Environment          string
	LogLevel             string
	DatabasePath         string
	GatewayBaseURL       string
	GatewayAppID         string
	GatewayAppKey        string
	GatewayAppSecret     string
	GatewayMerchantCode  string
	GatewayPrivateKey    string
	GatewayPublicKey     string
	NotifyURL            string
	AllowedTimestampSkew time.Duration
	NonceTTL             time.Duration
	NonceCapacity        int
	APIKeys              []APIKeyConfig
	RequestsPerMinute    float64
	RateBurst            int
}

const (
	envListen        = "MOMO_GATEWAY_LISTEN"
	envEnvironment   = "MOMO_GATEWAY_ENV"
	envLogLevel      = "MOMO_GATEWAY_LOG_LEVEL"
	envDBPath        = "MOMO_GATEWAY_DB"
	envBaseURL       = "MOMO_GATEWAY_BASE_URL"
	envAppID         = "MOMO_GATEWAY_APP_ID"
	envAppKey        = "MOMO_GATEWAY_APP_KEY"
	envAppSecret     = "MOMO_GATEWAY_APP_SECRET"
	envMerchantCode  = "MOMO_GATEWAY_MERCHANT_CODE"
	envPrivateKey    = "MOMO_GATEWAY_PRIVATE_KEY"
	envPublicKey     = "MOMO_GATEWAY_PUBLIC_KEY"
	envNotifyURL     = "MOMO_GATEWAY_NOTIFY_URL"
	envTimestampSkew = "MOMO_GATEWAY_TIMESTAMP_SKEW"
	envNonceTTL      = "MOMO_GATEWAY_NONCE_TTL"
	envAPIKeysFile   = "MOMO_GATEWAY_API_KEYS_FILE"
	envRatePerMinute = "MOMO_GATEWAY_RATE_PER_MINUTE"
)

// LoadFromEnv resolves configuration from environment variables with sane
// defaults. Merchant API keys are read from the YAML file named by
// MOMO_GATEWAY_API_KEYS_FILE.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		ListenAddress:        getenvDefault(envListen, ":8082"),
		Environment:          os.Getenv(envEnvironment),
		LogLevel:             getenvDefault(envLogLevel, "info"),
		DatabasePath:         getenvDefault(envDBPath, "momo-gateway.db"),
		GatewayBaseURL:       os.Getenv(envBaseURL),
		GatewayAppID:         os.Getenv(envAppID),
		GatewayAppKey:        os.Getenv(envAppKey),
		GatewayAppSecret:     os.Getenv(envAppSecret),
		GatewayMerchantCode:  os.Getenv(envMerchantCode),
		GatewayPrivateKey:    os.Getenv(envPrivateKey),
		GatewayPublicKey:     os.Getenv(envPublicKey),
		NotifyURL:            os.Getenv(envNotifyURL),
		AllowedTimestampSkew: parseDurationDefault(envTimestampSkew, 2*time.Minute),
		NonceCapacity:        4096,
		RequestsPerMinute:    parseFloatDefault(envRatePerMinute, 120),
		RateBurst:            20,
	}
	cfg.NonceTTL = parseDurationDefault(envNonceTTL, 2*cfg.AllowedTimestampSkew)

	for _, required := range []struct{ name, value string }{
		{envBaseURL, cfg.GatewayBaseURL},
		{envAppID, cfg.GatewayAppID},
		{envAppKey, cfg.GatewayAppKey},
		{envAppSecret, cfg.GatewayAppSecret},
		{envMerchantCode, cfg.GatewayMerchantCode},
		{envPrivateKey, cfg.GatewayPrivateKey},
		{envPublicKey, cfg.GatewayPublicKey},
	} {
		if strings.TrimSpace(required.value) == "" {
			return nil, fmt.Errorf("%s is required", required.name)
		}
	}

	keysPath := strings.TrimSpace(os.Getenv(envAPIKeysFile))
	if keysPath == "" {
		return nil, fmt.Errorf("%s is required", envAPIKeysFile)
	}
	keys, err := LoadAPIKeys(keysPath)
	if err != nil {
		return nil, err
	}
	cfg.APIKeys = keys

	return cfg, nil
}

// LoadAPIKeys reads merchant API key pairs from a YAML file.
func LoadAPIKeys(path string) ([]APIKeyConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read api keys file: %w", err)
	}
	var parsed struct {
		Keys []APIKeyConfig `yaml:"keys"`
	}
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse api keys file: %w", err)
	}
	if len(parsed.Keys) == 0 {
		return nil, fmt.Errorf("api keys file %s declares no keys", path)
	}
	for i, key := range parsed.Keys {
		if strings.TrimSpace(key.Key) == "" || strings.TrimSpace(key.Secret) == "" {
			return nil, fmt.Errorf("api keys file %s: entry %d is missing key or secret", path, i)
		}
	}
	return parsed.Keys, nil
}

func getenvDefault(key, def string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return def
}

func parseDurationDefault(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func parseFloatDefault(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	var f float64
	if _, err := fmt.Sscanf(raw, "%f", &f); err != nil || f <= 0 {
		return def
	}
	return f
}
