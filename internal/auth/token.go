// Package auth provides the process-wide bearer-token cache.
//
// Concurrent requests needing a fresh credential coalesce onto one in-flight
// refresh: if a refresh is already running, callers await it instead of
// issuing parallel refreshes.
package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/finchlabs/finch/internal/log"
)

// refreshSkew renews tokens slightly before they expire so in-flight calls
// never carry a credential that lapses mid-request.
const refreshSkew = 2 * time.Minute

// Token is a bearer credential with its expiry.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// RefreshFunc fetches a fresh credential from the identity provider.
type RefreshFunc func(ctx context.Context) (Token, error)

// TokenCache caches one credential per process and single-flights refreshes.
// Safe for concurrent use; implements llm.TokenSource.
type TokenCache struct {
	refresh RefreshFunc
	logger  log.Logger

	group singleflight.Group

	mu      sync.RWMutex
	current Token
}

// NewTokenCache creates a token cache around the given refresh function.
func NewTokenCache(refresh RefreshFunc, logger log.Logger) (*TokenCache, error) {
	if refresh == nil {
		return nil, fmt.Errorf("refresh function is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &TokenCache{refresh: refresh, logger: logger}, nil
}

// Token returns a valid bearer credential, refreshing if the cached one is
// missing or near expiry. N concurrent callers with a cold cache trigger
// exactly one refresh and all receive the same resulting token.
func (c *TokenCache) Token(ctx context.Context) (string, error) {
	c.mu.RLock()
	current := c.current
	c.mu.RUnlock()

	if current.Value != "" && time.Until(current.ExpiresAt) > refreshSkew {
		return current.Value, nil
	}

	// Single key: there is one credential per process, so every caller
	// coalesces onto the same in-flight refresh.
	value, err, shared := c.group.Do("token", func() (any, error) {
		fresh, err := c.refresh(ctx)
		if err != nil {
			return nil, fmt.Errorf("token refresh: %w", err)
		}
		c.mu.Lock()
		c.current = fresh
		c.mu.Unlock()
		c.logger.Debug("refreshed bearer token", "expires_at", fresh.ExpiresAt)
		return fresh.Value, nil
	})
	if err != nil {
		return "", err
	}
	if shared {
		c.logger.Debug("token refresh coalesced with in-flight refresh")
	}
	return value.(string), nil
}

// Invalidate drops the cached credential, forcing the next caller to refresh.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = Token{}
}
