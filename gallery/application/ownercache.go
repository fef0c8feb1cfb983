package application

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dfryer1193/photofeed/gallery/domain"
)

const defaultResolveTimeout = 10 * time.Second

// ProfileGetter is the slice of the record store the cache needs.
type ProfileGetter interface {
	GetProfile(ctx context.Context, ownerID string) (*domain.OwnerProfile, error)
}

// OwnerCache memoizes owner profiles by owner id for the lifetime of a
// session. Population is lazy: the first Resolve for an owner fetches
// from the record store, and concurrent resolves for the same uncached
// owner coalesce into a single fetch. Entries are never evicted;
// failures are never cached.
type OwnerCache struct {
	store   ProfileGetter
	timeout time.Duration

	group singleflight.Group

	mu       sync.RWMutex
	profiles map[string]*domain.OwnerProfile
}

// OwnerCacheOption configures an OwnerCache.
type OwnerCacheOption func(*OwnerCache)

// WithResolveTimeout bounds how long a single underlying profile fetch
// may take before Resolve fails with ProfileUnavailableError.
func WithResolveTimeout(d time.Duration) OwnerCacheOption {
	return func(c *OwnerCache) {
		c.timeout = d
	}
}

// NewOwnerCache creates an empty cache backed by the given store.
func NewOwnerCache(store ProfileGetter, opts ...OwnerCacheOption) *OwnerCache {
	c := &OwnerCache{
		store:    store,
		timeout:  defaultResolveTimeout,
		profiles: make(map[string]*domain.OwnerProfile),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Resolve returns the profile for ownerID, fetching and caching it on
// first use. N concurrent calls for an uncached owner trigger exactly
// one underlying fetch and all N callers receive the same profile.
func (c *OwnerCache) Resolve(ctx context.Context, ownerID string) (*domain.OwnerProfile, error) {
	if p, ok := c.Cached(ownerID); ok {
		ownerCacheHits.Inc()
		return p, nil
	}
	ownerCacheMisses.Inc()

	// The fetch runs on its own context: one caller's cancellation must
	// not fail the coalesced fetch for everyone else.
	ch := c.group.DoChan(ownerID, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()

		profile, err := c.store.GetProfile(fetchCtx, ownerID)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.profiles[ownerID] = profile
		c.mu.Unlock()
		return profile, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, &domain.ProfileUnavailableError{Owner: ownerID, Err: res.Err}
		}
		return res.Val.(*domain.OwnerProfile), nil
	case <-ctx.Done():
		return nil, &domain.ProfileUnavailableError{Owner: ownerID, Err: ctx.Err()}
	}
}

// Cached returns the profile for ownerID if it has already been
// resolved, without fetching.
func (c *OwnerCache) Cached(ownerID string) (*domain.OwnerProfile, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.profiles[ownerID]
	return p, ok
}
