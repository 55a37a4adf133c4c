package signing

import (
	crand "crypto/rand"
	"log/slog"
	"math/rand"
	"strconv"
	"time"

	"momogw/observability"
)

// DefaultNonceLength is used when callers do not request a specific length.
const DefaultNonceLength = 32

const nonceAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// maxUnbiasedByte is the largest multiple of len(nonceAlphabet) below 256.
// Bytes at or above it are rejected so every symbol is selected uniformly.
const maxUnbiasedByte = 252

// Timestamp returns the current UNIX time in seconds as a decimal string.
func Timestamp() string {
	return strconv.FormatInt(time.Now().Unix(), 10)
}

// Nonce returns a random uppercase-alphanumeric string of the requested
// length. Randomness comes from crypto/rand; if the secure source fails the
// generator falls back to math/rand, which weakens replay resistance, so the
// degradation is logged and counted rather than allowed to pass silently.
func Nonce(length int) string {
	if length <= 0 {
		length = DefaultNonceLength
	}
	out := make([]byte, 0, length)
	buf := make([]byte, length)
	for len(out) < length {
		if _, err := crand.Read(buf); err != nil {
			slog.Warn("secure random source unavailable, falling back to math/rand",
				"error", err)
			observability.Gateway().DegradedRandom.Inc()
			return insecureNonce(length)
		}
		for _, b := range buf {
			if b >= maxUnbiasedByte {
				continue
			}
			out = append(out, nonceAlphabet[int(b)%len(nonceAlphabet)])
			if len(out) == length {
				break
			}
		}
	}
	return string(out)
}

func insecureNonce(length int) string {
	out := make([]byte, length)
	for i := range out {
		out[i] = nonceAlphabet[rand.Intn(len(nonceAlphabet))]
	}
	return string(out)
}
