// Package ristretto implements the cache port with an in-process
// dgraph-io/ristretto cache.
package ristretto

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// Cache is the in-process L1 level of the organization config cache.
type Cache struct {
	c *ristretto.Cache[string, []byte]
}

// New creates a cache bounded to maxSizeMB megabytes of values.
func New(maxSizeMB int64) (*Cache, error) {
	if maxSizeMB < 1 {
		return nil, fmt.Errorf("ristretto: max size must be >= 1 MB, got %d", maxSizeMB)
	}
	maxCost := maxSizeMB << 20
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		// Config entries are small; assume ~1 KiB each and count 10x keys.
		NumCounters: (maxCost >> 10) * 10,
		MaxCost:     maxCost,
		BufferItems: 64,
		Metrics:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("ristretto: %w", err)
	}
	return &Cache{c: c}, nil
}

func (c *Cache) Get(_ context.Context, key string) (data []byte, ok bool, err error) {
	val, found := c.c.Get(key)
	return val, found, nil
}

// Set stores value and waits for the write buffer so the value is
// visible to the next Get. A zero ttl means no expiry.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.c.SetWithTTL(key, value, int64(len(value)), ttl)
	c.c.Wait()
	return nil
}

func (c *Cache) Delete(_ context.Context, key string) error {
	c.c.Del(key)
	return nil
}

// HitRatio reports the fraction of Gets served from the cache.
func (c *Cache) HitRatio() float64 {
	return c.c.Metrics.Ratio()
}

// Close shuts down the cache and releases resources.
func (c *Cache) Close() {
	c.c.Close()
}
