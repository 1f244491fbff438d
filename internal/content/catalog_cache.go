package content

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"sdm-elearning-service/internal/domain"
)

// CatalogCache caches the fetched catalog with a TTL so concurrent sessions
// do not stampede the sheet endpoint. Writes pass through to the underlying
// source untouched.
type CatalogCache struct {
	Source
	ttl   time.Duration
	clock func() time.Time
	sf    singleflight.Group
	rnd   *rand.Rand

	mu        sync.RWMutex
	catalog   []domain.Module
	expiresAt time.Time
}

func NewCatalogCache(source Source, ttl time.Duration) *CatalogCache {
	return &CatalogCache{
		Source: source,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *CatalogCache) FetchCatalog(ctx context.Context) ([]domain.Module, error) {
	now := c.clock()

	c.mu.RLock()
	if c.catalog != nil && c.expiresAt.After(now) {
		catalog := c.catalog
		c.mu.RUnlock()
		return catalog, nil
	}
	c.mu.RUnlock()

	result, err, _ := c.sf.Do("catalog", func() (interface{}, error) {
		now := c.clock()
		c.mu.RLock()
		if c.catalog != nil && c.expiresAt.After(now) {
			catalog := c.catalog
			c.mu.RUnlock()
			return catalog, nil
		}
		c.mu.RUnlock()

		catalog, err := c.Source.FetchCatalog(ctx)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.catalog = catalog
		c.expiresAt = now.Add(c.ttlWithJitter())
		c.mu.Unlock()
		return catalog, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Module), nil
}

func (c *CatalogCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
