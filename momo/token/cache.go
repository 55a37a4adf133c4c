// Package token caches the short-lived bearer token issued by the gateway.
//
// The cache holds a single slot per configured credential pair. Whether the
// slot is empty, valid, or expired is derived from the wall clock against the
// stored expiry minus a fixed safety buffer, never from a stored flag.
// Concurrent misses are coalesced through a single in-flight fetch so that N
// simultaneous callers against a cold cache trigger exactly one round-trip.
package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"momogw/observability"
	"momogw/observability/logging"
)

// ErrUnavailable indicates the gateway token endpoint could not produce a
// usable token. The underlying transport error is wrapped.
var ErrUnavailable = errors.New("gateway token unavailable")

// validityBuffer keeps a token out of use for its final seconds of declared
// validity, bounding races against network latency.
const validityBuffer = 30 * time.Second

// defaultExpirySeconds applies when the token endpoint omits expires_in.
const defaultExpirySeconds = 3600

// Credential is a bearer token plus its server-declared validity in seconds.
type Credential struct {
	Token     string
	ExpiresIn int64
}

// Fetcher performs the actual token-issuance round-trip.
type Fetcher interface {
	FetchToken(ctx context.Context) (Credential, error)
}

// Cache owns the process-lifetime token slot. A zero Cache is not usable;
// construct with NewCache.
type Cache struct {
	fetcher Fetcher
	nowFn   func() time.Time

	mu     sync.RWMutex
	token  string
	expiry time.Time

	flight singleflight.Group
}

// NewCache builds a cache around the provided fetcher.
func NewCache(fetcher Fetcher) *Cache {
	if fetcher == nil {
		panic("token fetcher required")
	}
	return &Cache{fetcher: fetcher, nowFn: time.Now}
}

// Token returns the cached bearer token, fetching a fresh one when the slot
// is empty or inside the validity buffer. Callers blocked on the same miss
// share one fetch; no caller waits longer than a single round-trip.
func (c *Cache) Token(ctx context.Context) (string, error) {
	if tok, ok := c.current(); ok {
		return tok, nil
	}
	result, err, _ := c.flight.Do("token", func() (interface{}, error) {
		// A concurrent flight may have refilled the slot while this
		// caller was queueing.
		if tok, ok := c.current(); ok {
			return tok, nil
		}
		cred, err := c.fetcher.FetchToken(ctx)
		if err != nil {
			c.clear()
			observability.Gateway().TokenRefresh.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		expiresIn := cred.ExpiresIn
		if expiresIn <= 0 {
			expiresIn = defaultExpirySeconds
		}
		expiry := c.nowFn().Add(time.Duration(expiresIn) * time.Second)
		c.mu.Lock()
		c.token = cred.Token
		c.expiry = expiry
		c.mu.Unlock()
		observability.Gateway().TokenRefresh.WithLabelValues("ok").Inc()
		slog.Debug("gateway token refreshed",
			"token", logging.CredentialPreview(cred.Token),
			"expires_in", expiresIn)
		return cred.Token, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// Invalidate clears the slot, forcing the next caller to fetch.
func (c *Cache) Invalidate() {
	c.clear()
}

func (c *Cache) current() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token == "" {
		return "", false
	}
	if !c.nowFn().Before(c.expiry.Add(-validityBuffer)) {
		return "", false
	}
	return c.token, true
}

func (c *Cache) clear() {
	c.mu.Lock()
	c.token = ""
	c.expiry = time.Time{}
	c.mu.Unlock()
}
