package token

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// CachedResolver memoizes successful resolutions per connection so repeated
// availability and writeback passes within one token's lifetime neither
// re-decrypt nor re-refresh. Entries expire ahead of the token itself by
// ExpirySkew, so a cache hit is always a usable token.
type CachedResolver struct {
	store *gocache.Cache
	now   func() time.Time
}

// NewCachedResolver builds a resolver-side cache. cleanupInterval controls
// how often expired entries are purged in the background.
func NewCachedResolver(cleanupInterval time.Duration, now func() time.Time) *CachedResolver {
	if now == nil {
		now = time.Now
	}
	return &CachedResolver{
		store: gocache.New(gocache.NoExpiration, cleanupInterval),
		now:   now,
	}
}

// Resolve returns a cached resolution for connectionID when one is still
// valid, otherwise delegates to ResolveAccessToken and caches the outcome.
func (c *CachedResolver) Resolve(ctx context.Context, connectionID string, in ResolveInput, refresher Refresher) (Resolution, error) {
	if c == nil {
		return ResolveAccessToken(ctx, in, refresher)
	}

	if cached, found := c.store.Get(connectionID); found {
		resolution := cached.(Resolution)
		if resolution.AccessTokenExpiresAt.After(in.Now.Add(ExpirySkew)) {
			resolution.Refreshed = false
			return resolution, nil
		}
		c.store.Delete(connectionID)
	}

	resolution, err := ResolveAccessToken(ctx, in, refresher)
	if err != nil {
		return Resolution{}, err
	}

	ttl := resolution.AccessTokenExpiresAt.Sub(c.now()) - ExpirySkew
	if ttl > 0 {
		c.store.Set(connectionID, resolution, ttl)
	}
	return resolution, nil
}

// Invalidate drops the cached resolution for a connection, forcing the next
// Resolve to go through decryption again. Callers use this after rotating
// or revoking a connection's stored tokens.
func (c *CachedResolver) Invalidate(connectionID string) {
	if c == nil {
		return
	}
	c.store.Delete(connectionID)
}
