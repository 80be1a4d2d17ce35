package uploader

import "sync"

// keyCache remembers record keys whose objects are known to exist in the
// bucket. Only positive probe results are cached, so membership is
// monotonic for the life of one run. A missed hit costs one extra probe,
// never correctness, so a coarse lock is enough.
type keyCache struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func newKeyCache() *keyCache {
	return &keyCache{seen: make(map[string]struct{})}
}

// Has reports whether key was previously marked existing.
func (c *keyCache) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.seen[key]
	return ok
}

// Add marks key as existing.
func (c *keyCache) Add(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen[key] = struct{}{}
}
