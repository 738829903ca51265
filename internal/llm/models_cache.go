package llm

import (
	"sync"
	"time"
)

// ModelsCache holds the model list, indexed by id. A lookup miss on a fresh
// list is remembered so the caller refetches at most once per id.
type ModelsCache struct {
	mu        sync.RWMutex
	models    []Model
	byID      map[string]Model
	refetched map[string]bool
	cachedAt  time.Time
	ttl       time.Duration
	now       func() time.Time
}

func NewModelsCache(ttl time.Duration) *ModelsCache {
	return &ModelsCache{ttl: ttl, now: time.Now}
}

func (c *ModelsCache) fresh() bool {
	return c.models != nil && c.now().Sub(c.cachedAt) <= c.ttl
}

// Get returns the cached list, or nil when empty or expired.
func (c *ModelsCache) Get() []Model {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.fresh() {
		return nil
	}
	return c.models
}

// Lookup finds a model in the cached list. stale reports that the list is
// missing or expired, or that id is absent and has not been refetched yet.
func (c *ModelsCache) Lookup(id string) (m Model, stale bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.fresh() {
		return Model{}, true
	}
	if m, ok := c.byID[id]; ok {
		return m, false
	}
	if c.refetched[id] {
		return Model{}, false
	}
	c.refetched[id] = true
	return Model{}, true
}

// Set replaces the list.
func (c *ModelsCache) Set(models []Model) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.models = models
	c.byID = make(map[string]Model, len(models))
	for _, m := range models {
		c.byID[m.ID] = m
	}
	if c.refetched == nil || !c.fresh() {
		c.refetched = map[string]bool{}
	}
	c.cachedAt = c.now()
}

// Invalidate forgets the list so the next call fetches it again.
func (c *ModelsCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.models = nil
	c.byID = nil
	c.refetched = nil
}
