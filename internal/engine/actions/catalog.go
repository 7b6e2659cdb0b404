package actions

import (
	"sync"
	"time"
)

// catalogCache keeps provider catalog listings (regions, sizes, images) for a
// short time. They change rarely and every user screen asks for them.
type catalogCache struct {
	store sync.Map // map[name]*cachedCatalog
	ttl   time.Duration
	now   func() time.Time
}

type cachedCatalog struct {
	value    interface{}
	cachedAt time.Time
}

func newCatalogCache(ttl time.Duration) *catalogCache {
	return &catalogCache{ttl: ttl, now: time.Now}
}

func (c *catalogCache) Get(name string) (interface{}, bool) {
	if c.ttl <= 0 {
		return nil, false
	}
	val, ok := c.store.Load(name)
	if !ok {
		return nil, false
	}

	entry := val.(*cachedCatalog)
	if c.now().Sub(entry.cachedAt) > c.ttl {
		c.store.Delete(name)
		return nil, false
	}
	return entry.value, true
}

func (c *catalogCache) Set(name string, value interface{}) {
	if c.ttl <= 0 {
		return
	}
	c.store.Store(name, &cachedCatalog{value: value, cachedAt: c.now()})
}

// cachedFetch returns the cached listing for name, calling fetch on a miss.
// Failures are never cached.
func cachedFetch[T any](c *catalogCache, name string, fetch func() (T, error)) (T, error) {
	if v, ok := c.Get(name); ok {
		return v.(T), nil
	}
	v, err := fetch()
	if err != nil {
		return v, err
	}
	c.Set(name, v)
	return v, nil
}
