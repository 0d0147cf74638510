// Package cache provides the TTL+capacity-bounded response cache shared
// by the metadata and enrichment endpoints.
package cache

import (
	"container/list"
	"context"
	"encoding/json"
	"sync"
	"time"
)

// CVEKey returns the cache key for a normalized NVD metadata record.
func CVEKey(cveID string) string {
	return "cve:" + cveID
}

// EnrichKey returns the cache key for a full enrichment response.
func EnrichKey(cveID string) string {
	return "enrich:" + cveID
}

// Cache defines the interface for the response cache.
type Cache interface {
	// Get retrieves a cached value. Expired entries count as misses.
	Get(ctx context.Context, key string) (json.RawMessage, bool)

	// Put stores a value under the configured TTL, stamped with the
	// current model version.
	Put(ctx context.Context, key string, value json.RawMessage) error

	// Delete removes a cached value.
	Delete(ctx context.Context, key string) error

	// Stats returns cache statistics.
	Stats() *Stats
}

// Stats contains cache statistics.
type Stats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Puts      int64   `json:"puts"`
	Evictions int64   `json:"evictions"`
	HitRate   float64 `json:"hit_rate"`
	Size      int     `json:"size"`
}

// envelope wraps a cached value with its model version tag.
type envelope struct {
	Value        json.RawMessage `json:"value"`
	ModelVersion string          `json:"modelVersion"`
}

// rewriteModelVersion replaces the top-level modelVersion field of a
// cached JSON document. Documents without the field pass through.
func rewriteModelVersion(value json.RawMessage, version string) json.RawMessage {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(value, &doc); err != nil {
		return value
	}
	if _, ok := doc["modelVersion"]; !ok {
		return value
	}
	tagged, err := json.Marshal(version)
	if err != nil {
		return value
	}
	doc["modelVersion"] = tagged
	out, err := json.Marshal(doc)
	if err != nil {
		return value
	}
	return out
}

// memEntry is one LRU list element.
type memEntry struct {
	key       string
	env       envelope
	expiresAt time.Time
}

// Memory is the in-process cache: a TTL-bounded LRU where insertion
// order reflects last access and capacity overflow evicts the
// least-recently-used entry.
type Memory struct {
	mu      sync.Mutex
	ll      *list.List
	entries map[string]*list.Element

	hits      int64
	misses    int64
	puts      int64
	evictions int64

	maxEntries   int
	ttl          time.Duration
	modelVersion string
	now          func() time.Time
}

// MemoryConfig configures the in-process cache.
type MemoryConfig struct {
	MaxEntries   int
	TTL          time.Duration
	ModelVersion string
}

// NewMemory creates an in-process response cache.
func NewMemory(config *MemoryConfig) *Memory {
	if config == nil {
		config = &MemoryConfig{}
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = 2000
	}
	if config.TTL <= 0 {
		config.TTL = 24 * time.Hour
	}

	return &Memory{
		ll:           list.New(),
		entries:      make(map[string]*list.Element),
		maxEntries:   config.MaxEntries,
		ttl:          config.TTL,
		modelVersion: config.ModelVersion,
		now:          time.Now,
	}
}

// Get retrieves a cached value, refreshing its recency. A stored model
// version that differs from the current one is rewritten in place
// before the value is returned.
func (c *Memory) Get(ctx context.Context, key string) (json.RawMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}

	e := el.Value.(*memEntry)
	if !c.now().Before(e.expiresAt) {
		c.ll.Remove(el)
		delete(c.entries, key)
		c.misses++
		return nil, false
	}

	if e.env.ModelVersion != c.modelVersion {
		e.env.Value = rewriteModelVersion(e.env.Value, c.modelVersion)
		e.env.ModelVersion = c.modelVersion
	}

	c.ll.MoveToFront(el)
	c.hits++
	return e.env.Value, true
}

// Put stores a value, evicting the least-recently-used entry when the
// capacity is exceeded.
func (c *Memory) Put(ctx context.Context, key string, value json.RawMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	env := envelope{Value: value, ModelVersion: c.modelVersion}
	expiresAt := c.now().Add(c.ttl)

	if el, ok := c.entries[key]; ok {
		e := el.Value.(*memEntry)
		e.env = env
		e.expiresAt = expiresAt
		c.ll.MoveToFront(el)
		c.puts++
		return nil
	}

	el := c.ll.PushFront(&memEntry{key: key, env: env, expiresAt: expiresAt})
	c.entries[key] = el
	c.puts++

	if c.ll.Len() > c.maxEntries {
		c.evictLRU()
	}
	return nil
}

// Delete removes a cached value.
func (c *Memory) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		c.ll.Remove(el)
		delete(c.entries, key)
	}
	return nil
}

// Stats returns cache statistics.
func (c *Memory) Stats() *Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}

	return &Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Puts:      c.puts,
		Evictions: c.evictions,
		HitRate:   hitRate,
		Size:      c.ll.Len(),
	}
}

// Size returns the number of cached entries.
func (c *Memory) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// evictLRU drops the least-recently-used entry. Caller holds the lock.
func (c *Memory) evictLRU() {
	el := c.ll.Back()
	if el == nil {
		return
	}
	e := el.Value.(*memEntry)
	c.ll.Remove(el)
	delete(c.entries, e.key)
	c.evictions++
}
