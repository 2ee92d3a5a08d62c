package constituency

import (
	"context"
	"sync"
	"time"

	"github.com/petitions-gov-je/signatures-backend/models"
)

type cacheEntry struct {
	id        string
	timestamp time.Time
}

// Cache wraps a Lookuper. Lookup only returns a cached answer if it was
// made in the last ExpireTime window. Unknown postcodes are cached too;
// failed lookups are not.
type Cache struct {
	Lookuper
	ExpireTime time.Duration

	mu      sync.Mutex
	entries map[string]cacheEntry
	now     func() time.Time
}

// NewCache creates a Cache in front of lookuper.
func NewCache(lookuper Lookuper, expiryTime time.Duration) *Cache {
	return &Cache{
		Lookuper:   lookuper,
		ExpireTime: expiryTime,
		entries:    make(map[string]cacheEntry),
		now:        time.Now,
	}
}

func (c *Cache) get(postcode string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[postcode]
	if !ok || c.now().Sub(entry.timestamp) > c.ExpireTime {
		return "", false
	}
	return entry.id, true
}

func (c *Cache) put(postcode string, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[postcode] = cacheEntry{id: id, timestamp: c.now()}
}

// Lookup retrieves the constituency from the cache if there is an answer
// present within the cached time window, and from the wrapped Lookuper
// otherwise.
func (c *Cache) Lookup(ctx context.Context, postcode string) (string, error) {
	postcode = models.NormalizePostcode(postcode)
	if id, ok := c.get(postcode); ok {
		return id, nil
	}
	id, err := c.Lookuper.Lookup(ctx, postcode)
	if err != nil {
		return id, err
	}
	c.put(postcode, id)
	return id, nil
}
