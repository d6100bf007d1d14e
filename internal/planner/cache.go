package planner

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// planCache memoizes plans for repeated queries. Entries are keyed on
// the normalized query text plus the index generation, so a reindex
// invalidates everything cached against the old span set.
type planCache struct {
	mu    sync.Mutex
	cache *lru.Cache[string, *PlanResult]
}

func newPlanCache(size int) *planCache {
	if size <= 0 {
		size = 512
	}
	c, _ := lru.New[string, *PlanResult](size)
	return &planCache{cache: c}
}

func cacheKey(query, linkHash string) string {
	norm := strings.Join(strings.Fields(strings.ToLower(query)), " ")
	sum := sha256.Sum256([]byte(norm + "\x00" + linkHash))
	return hex.EncodeToString(sum[:16])
}

func (c *planCache) get(key string) (*PlanResult, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Get(key)
}

func (c *planCache) put(key string, plan *PlanResult) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Add(key, plan)
}

func (c *planCache) len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Len()
}
