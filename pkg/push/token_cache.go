package push

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// FetchFunc mints a fresh bearer credential and reports when it expires
type FetchFunc func(ctx context.Context) (token string, expiresAt time.Time, err error)

const refreshLeeway = 2 * time.Minute

// TokenCache holds a short-lived signed bearer (OAuth access token or
// APNs provider token) and refreshes it shortly before expiry.
// Concurrent callers needing a refresh join the single in-flight fetch
// instead of each signing and exchanging their own assertion.
type TokenCache struct {
	fetch FetchFunc
	now   func() time.Time

	group  singleflight.Group
	mu     sync.Mutex
	token  string
	expiry time.Time
}

// NewTokenCache creates a cache around the given fetch function
func NewTokenCache(fetch FetchFunc) *TokenCache {
	return &TokenCache{
		fetch: fetch,
		now:   time.Now,
	}
}

// Token returns the cached bearer, refreshing it when missing or within
// the expiry leeway
func (c *TokenCache) Token(ctx context.Context) (string, error) {
	if token, ok := c.cached(); ok {
		return token, nil
	}

	v, err, _ := c.group.Do("token", func() (interface{}, error) {
		// A caller that queued behind the winning refresh finds the
		// fresh token already stored.
		if token, ok := c.cached(); ok {
			return token, nil
		}
		token, expiry, err := c.fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.token = token
		c.expiry = expiry
		c.mu.Unlock()
		return token, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *TokenCache) cached() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == "" {
		return "", false
	}
	if !c.now().Add(refreshLeeway).Before(c.expiry) {
		return "", false
	}
	return c.token, true
}
