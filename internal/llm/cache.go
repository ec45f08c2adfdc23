package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/liamcoop/fairscore/internal/telemetry"
)

// ResponseCache stores generated text by prompt and selector.
// This allows swapping the in-memory implementation for a shared one.
type ResponseCache interface {
	// Get returns the cached text, false on miss or expiry
	Get(key string) (string, bool)

	// Set stores text under key
	Set(key, text string)

	// Invalidate drops every entry
	Invalidate()
}

// CacheConfig holds configuration for cache behavior
type CacheConfig struct {
	// TTL is the time-to-live for cached entries.
	// Set to 0 for no expiration (manual invalidation only)
	TTL time.Duration
}

type cacheEntry struct {
	text     string
	cachedAt time.Time
}

// InMemoryResponseCache is a thread-safe ResponseCache.
type InMemoryResponseCache struct {
	entries map[string]cacheEntry
	config  CacheConfig
	now     func() time.Time
	mu      sync.RWMutex
}

// NewInMemoryResponseCache creates an empty cache.
func NewInMemoryResponseCache(config CacheConfig) *InMemoryResponseCache {
	return &InMemoryResponseCache{
		entries: make(map[string]cacheEntry),
		config:  config,
		now:     time.Now,
	}
}

// Get returns the cached text for key.
func (c *InMemoryResponseCache) Get(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok {
		return "", false
	}

	if c.config.TTL > 0 && c.now().Sub(entry.cachedAt) > c.config.TTL {
		return "", false
	}

	return entry.text, true
}

// Set stores text under key.
func (c *InMemoryResponseCache) Set(key, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = cacheEntry{text: text, cachedAt: c.now()}
}

// Invalidate clears the cache.
func (c *InMemoryResponseCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]cacheEntry)
}

// CachingGenerator serves repeated prompts from a cache. Failed generations
// are never cached.
type CachingGenerator struct {
	next  Generator
	cache ResponseCache
}

// NewCachingGenerator wraps next.
func NewCachingGenerator(next Generator, cache ResponseCache) *CachingGenerator {
	return &CachingGenerator{next: next, cache: cache}
}

// Available delegates to the wrapped generator.
func (g *CachingGenerator) Available(sel Selector) error {
	return g.next.Available(sel)
}

// Generate returns a cached response or calls through.
func (g *CachingGenerator) Generate(ctx context.Context, prompt string, sel Selector) (string, error) {
	key := cacheKey(prompt, sel)
	if text, ok := g.cache.Get(key); ok {
		telemetry.RecordCacheLookup(true)
		return text, nil
	}
	telemetry.RecordCacheLookup(false)

	text, err := g.next.Generate(ctx, prompt, sel)
	if err != nil {
		return "", err
	}

	g.cache.Set(key, text)
	return text, nil
}

func cacheKey(prompt string, sel Selector) string {
	sum := sha256.Sum256([]byte(sel.String() + "\x00" + prompt))
	return hex.EncodeToString(sum[:])
}
