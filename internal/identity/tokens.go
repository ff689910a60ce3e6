package identity

import (
	"context"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/rappen/RappSack/pkg/schema"
)

// TokenLifetime is how long an acquired token stays cached, independent of
// the expiry the authority reports.
const TokenLifetime = 50 * time.Minute

// CacheKey returns the cache key of the token for an environment.
func CacheKey(environmentURL string) string {
	return "dv-token::" + environmentURL
}

// Scope returns the OAuth2 scope requested for an environment.
func Scope(environmentURL string) string {
	return environmentURL + "/.default"
}

// TokenSource acquires a fresh access token for a scope.
type TokenSource interface {
	Token(ctx context.Context, scope string) (*oauth2.Token, error)
}

type cachedToken struct {
	token     *oauth2.Token
	expiresAt time.Time
}

// TokenCache caches access tokens per environment URL. Concurrent misses
// for the same environment share one acquisition.
type TokenCache struct {
	source TokenSource
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]cachedToken
	group   singleflight.Group
}

// CacheOption configures a TokenCache.
type CacheOption func(*TokenCache)

// WithTTL overrides TokenLifetime.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *TokenCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock sets the time source, for tests.
func WithClock(now func() time.Time) CacheOption {
	return func(c *TokenCache) { c.now = now }
}

// NewTokenCache creates a cache over source.
func NewTokenCache(source TokenSource, opts ...CacheOption) *TokenCache {
	c := &TokenCache{
		source:  source,
		ttl:     TokenLifetime,
		now:     time.Now,
		entries: make(map[string]cachedToken),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Token returns the access token for environmentURL, acquiring one when
// the cached token is missing or expired.
func (c *TokenCache) Token(ctx context.Context, environmentURL string) (string, error) {
	if environmentURL == "" {
		return "", schema.NewError(schema.ErrCodeConfiguration, "environment URL is empty")
	}
	key := CacheKey(environmentURL)
	if tok, ok := c.lookup(key); ok {
		return tok, nil
	}

	// The fetch outlives any single caller; each waiter leaves on its own ctx.
	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		if tok, ok := c.lookup(key); ok {
			return tok, nil
		}
		t, err := c.source.Token(fetchCtx, Scope(environmentURL))
		if err != nil {
			return "", err
		}
		if t == nil || t.AccessToken == "" {
			return "", schema.NewErrorf(schema.ErrCodeIdentity, "no access token returned for %s", environmentURL)
		}
		c.mu.Lock()
		c.entries[key] = cachedToken{token: t, expiresAt: c.now().Add(c.ttl)}
		c.mu.Unlock()
		return t.AccessToken, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (c *TokenCache) lookup(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || !c.now().Before(e.expiresAt) {
		return "", false
	}
	return e.token.AccessToken, true
}

// Invalidate drops the cached token of environmentURL.
func (c *TokenCache) Invalidate(environmentURL string) {
	c.mu.Lock()
	delete(c.entries, CacheKey(environmentURL))
	c.mu.Unlock()
}

// Sweep removes expired entries and returns how many were removed.
func (c *TokenCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	removed := 0
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of cached entries, expired ones included.
func (c *TokenCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
