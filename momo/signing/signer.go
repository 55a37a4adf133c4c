package signing

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// ErrInvalidKey indicates key material could not be parsed as an RSA key.
var ErrInvalidKey = errors.New("invalid key material")

// ErrEmptyInput indicates an attempt to sign an empty canonical string.
var ErrEmptyInput = errors.New("canonical string is empty")

// SignType names the signature scheme transmitted alongside the signature.
// The gateway accepts exactly one scheme, so this is a closed enumeration
// rather than caller-supplied text.
type SignType string

// SignTypeRSA is RSA-PSS over a SHA-256 digest, declared on the wire the way
// the gateway's verifier expects.
const SignTypeRSA SignType = "SHA256withRSA"

// pssOpts matches the gateway verifier: salt length equal to the digest.
var pssOpts = &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash, Hash: crypto.SHA256}

// Sign computes the base64 RSA-PSS signature over the canonical string.
// Signatures are probabilistic: two calls over the same input produce
// different bytes, and both verify.
func Sign(canonical string, key *rsa.PrivateKey) (string, error) {
	if canonical == "" {
		return "", ErrEmptyInput
	}
	if key == nil {
		return "", ErrInvalidKey
	}
	digest := sha256.Sum256([]byte(canonical))
	sig, err := rsa.SignPSS(rand.Reader, key, crypto.SHA256, digest[:], pssOpts)
	if err != nil {
		return "", fmt.Errorf("sign canonical string: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Verify checks a base64 signature against the canonical string. It never
// returns an error: malformed signatures or a missing key simply fail
// verification, since this path gates untrusted inbound notifications.
func Verify(canonical, signature string, pub *rsa.PublicKey) bool {
	if canonical == "" || strings.TrimSpace(signature) == "" || pub == nil {
		return false
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		slog.Debug("signature verification rejected", "reason", "invalid base64", "error", err)
		return false
	}
	digest := sha256.Sum256([]byte(canonical))
	if err := rsa.VerifyPSS(pub, crypto.SHA256, digest[:], raw, pssOpts); err != nil {
		slog.Debug("signature verification rejected", "reason", "signature mismatch")
		return false
	}
	return true
}

// ParsePrivateKey decodes RSA private key material supplied as base64 DER
// (PKCS#8 or PKCS#1), with or without PEM armor.
func ParsePrivateKey(material string) (*rsa.PrivateKey, error) {
	der, err := decodeKeyMaterial(material)
	if err != nil {
		return nil, err
	}
	if parsed, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		key, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%w: not an RSA private key", ErrInvalidKey)
		}
		return key, nil
	}
	key, err := x509.ParsePKCS1PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return key, nil
}

// ParsePublicKey decodes RSA public key material supplied as base64 DER
// (PKIX or PKCS#1), with or without PEM armor.
func ParsePublicKey(material string) (*rsa.PublicKey, error) {
	der, err := decodeKeyMaterial(material)
	if err != nil {
		return nil, err
	}
	if parsed, err := x509.ParsePKIXPublicKey(der); err == nil {
		key, ok := parsed.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("%w: not an RSA public key", ErrInvalidKey)
		}
		return key, nil
	}
	key, err := x509.ParsePKCS1PublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return key, nil
}

func decodeKeyMaterial(material string) ([]byte, error) {
	trimmed := strings.TrimSpace(material)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if strings.HasPrefix(trimmed, "-----BEGIN") {
		block, _ := pem.Decode([]byte(trimmed))
		if block == nil {
			return nil, fmt.Errorf("%w: malformed PEM", ErrInvalidKey)
		}
		return block.Bytes, nil
	}
	compact := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, trimmed)
	der, err := base64.StdEncoding.DecodeString(compact)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return der, nil
}
