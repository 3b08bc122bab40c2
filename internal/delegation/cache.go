package delegation

import (
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// responseCache holds successful responses by idempotency key. Entries
// expire ttl after they were written; once full, the least recently written
// or read entry is evicted.
type responseCache struct {
	entries *lru.Cache
	ttl     time.Duration
	now     func() time.Time
}

type cacheEntry struct {
	resp    *Response
	expires time.Time
}

func newResponseCache(size int, ttl time.Duration, now func() time.Time) *responseCache {
	entries, err := lru.New(size)
	if err != nil {
		// Only a non-positive size fails; callers pass defaulted sizes.
		panic(err)
	}
	return &responseCache{entries: entries, ttl: ttl, now: now}
}

func (c *responseCache) get(key string) (*Response, bool) {
	v, ok := c.entries.Get(key)
	if !ok {
		return nil, false
	}
	e := v.(cacheEntry)
	if !c.now().Before(e.expires) {
		c.entries.Remove(key)
		return nil, false
	}
	return e.resp.clone(), true
}

func (c *responseCache) put(key string, resp *Response) {
	c.entries.Add(key, cacheEntry{resp: resp.clone(), expires: c.now().Add(c.ttl)})
}

func (c *responseCache) len() int {
	return c.entries.Len()
}
