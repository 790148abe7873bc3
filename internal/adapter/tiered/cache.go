// Package tiered layers a local in-process cache over a shared remote
// one. Argus uses it for API-key resolution when the NATS relay is
// enabled: ristretto is the local tier, a JetStream KV bucket the
// shared one.
package tiered

import (
	"context"
	"time"

	"github.com/argussec/argus/internal/port/cache"
)

// Cache reads through local then shared, backfilling local on a shared
// hit. Writes and deletes go to both tiers.
type Cache struct {
	local    cache.Cache
	shared   cache.Cache
	localTTL time.Duration
}

// New creates a two-tier cache. localTTL caps how long backfilled
// entries live locally, so shared-tier deletes converge within it.
func New(local, shared cache.Cache, localTTL time.Duration) *Cache {
	return &Cache{local: local, shared: shared, localTTL: localTTL}
}

func (c *Cache) Get(ctx context.Context, key string) (data []byte, ok bool, err error) {
	val, found, err := c.local.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if found {
		return val, true, nil
	}

	val, found, err = c.shared.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}

	_ = c.local.Set(ctx, key, val, c.localTTL)
	return val, true, nil
}

func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.shared.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	return c.local.Set(ctx, key, value, c.localTTL)
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.shared.Delete(ctx, key); err != nil {
		return err
	}
	return c.local.Delete(ctx, key)
}
