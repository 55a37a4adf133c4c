package logging

import (
	"fmt"
	"log/slog"
	"strings"
)

// RedactedValue is the canonical placeholder used for sensitive fields in logs.
const RedactedValue = "[REDACTED]"

// tokenPreviewLen is how many leading characters of a credential survive in
// log output. The remainder is replaced by the credential's length.
const tokenPreviewLen = 6

var redactionAllowlist = map[string]struct{}{
	"service":   {},
	"env":       {},
	"message":   {},
	"severity":  {},
	"timestamp": {},
	"error":     {},
	"reason":    {},
	"operation": {},
	"route":     {},
	"status":    {},
}

// IsAllowlisted reports whether the provided key is exempt from redaction.
func IsAllowlisted(key string) bool {
	_, ok := redactionAllowlist[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// MaskField returns a slog.Attr that redacts the supplied value unless the
// key is explicitly allowlisted. The original key casing is preserved.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || IsAllowlisted(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

// CredentialPreview renders a token or key for logging as its first few
// characters plus its length. Full token values and key material must never
// reach log output.
func CredentialPreview(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	if len(trimmed) <= tokenPreviewLen {
		return fmt.Sprintf("***(%d)", len(trimmed))
	}
	return fmt.Sprintf("%s***(%d)", trimmed[:tokenPreviewLen], len(trimmed))
}
