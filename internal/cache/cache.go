package cache

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/zeebo/xxh3"
)

// ErrMiss is returned by Get when a key is absent or expired
var ErrMiss = errors.New("cache miss")

// Cache defines the interface for result caching operations. Values are
// stored as given; callers that share mutable values copy them.
type Cache interface {
	Get(ctx context.Context, key string) (any, error)
	Set(ctx context.Context, key string, value any, size int64, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Size(ctx context.Context) (int64, error)
	Cleanup(ctx context.Context) error
	GetStats(ctx context.Context) (*Stats, error)
}

// Entry represents a cache entry with metadata
type Entry struct {
	Key       string
	Value     any
	Size      int64 // caller's estimate, summed by Size
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Stats represents cache statistics
type Stats struct {
	TotalEntries int64   `json:"total_entries"`
	TotalSize    int64   `json:"total_size"`
	HitRate      float64 `json:"hit_rate"`
	MissRate     float64 `json:"miss_rate"`
	Hits         int64   `json:"hits"`
	Misses       int64   `json:"misses"`
	Evictions    int64   `json:"evictions"`
}

// MemoryCache implements Cache in process memory. Keys are hashed with
// xxh3; the full key is kept to reject hash collisions.
type MemoryCache struct {
	maxEntries  int
	defaultTTL  time.Duration
	cleanupFreq time.Duration
	now         func() time.Time

	mu          sync.Mutex
	entries     map[uint64]*Entry
	size        int64
	stats       Stats
	stopCleanup chan struct{}
	cleanupOnce sync.Once
	done        chan struct{}
}

// NewMemoryCache creates a cache holding at most maxEntries entries. A
// positive cleanupFreq starts a background sweep of expired entries.
func NewMemoryCache(maxEntries int, defaultTTL, cleanupFreq time.Duration) *MemoryCache {
	c := &MemoryCache{
		maxEntries:  maxEntries,
		defaultTTL:  defaultTTL,
		cleanupFreq: cleanupFreq,
		now:         time.Now,
		entries:     make(map[uint64]*Entry),
		stopCleanup: make(chan struct{}),
		done:        make(chan struct{}),
	}

	if cleanupFreq > 0 {
		go c.backgroundCleanup()
	} else {
		close(c.done)
	}

	return c
}

// HashKey returns the xxh3 hash used to index key
func HashKey(key string) uint64 {
	return xxh3.HashString(key)
}

// Get retrieves a value from cache
func (c *MemoryCache) Get(ctx context.Context, key string) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	hash := HashKey(key)

	entry, ok := c.entries[hash]
	if !ok || entry.Key != key {
		c.stats.Misses++
		return nil, ErrMiss
	}

	if c.now().After(entry.ExpiresAt) {
		c.removeLocked(hash)
		c.stats.Misses++

		return nil, ErrMiss
	}

	c.stats.Hits++

	return entry.Value, nil
}

// Set stores value under key with its estimated size in bytes. A
// non-positive ttl uses the default TTL.
func (c *MemoryCache) Set(ctx context.Context, key string, value any, size int64, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	hash := HashKey(key)
	c.removeLocked(hash)

	if c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		c.evictLocked(len(c.entries) - c.maxEntries + 1)
	}

	now := c.now()
	c.entries[hash] = &Entry{
		Key:       key,
		Value:     value,
		Size:      size,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	c.size += size

	return nil
}

// Delete removes key from cache
func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	hash := HashKey(key)
	if entry, ok := c.entries[hash]; ok && entry.Key == key {
		c.removeLocked(hash)
	}

	return nil
}

// Clear removes every entry
func (c *MemoryCache) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[uint64]*Entry)
	c.size = 0

	return nil
}

// Size returns the summed size estimates of cached entries
func (c *MemoryCache) Size(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.size, nil
}

// Cleanup removes expired entries
func (c *MemoryCache) Cleanup(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for hash, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			c.removeLocked(hash)
		}
	}

	return nil
}

// GetStats returns cache statistics
func (c *MemoryCache) GetStats(ctx context.Context) (*Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	stats.TotalEntries = int64(len(c.entries))
	stats.TotalSize = c.size

	// Calculate hit/miss rates
	total := stats.Hits + stats.Misses
	if total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
		stats.MissRate = float64(stats.Misses) / float64(total)
	}

	return &stats, nil
}

// Close stops the background cleanup goroutine and waits for it to exit
func (c *MemoryCache) Close() error {
	c.cleanupOnce.Do(func() {
		close(c.stopCleanup)
	})
	<-c.done

	return nil
}

func (c *MemoryCache) removeLocked(hash uint64) {
	if entry, ok := c.entries[hash]; ok {
		c.size -= entry.Size
		delete(c.entries, hash)
	}
}

// evictLocked drops the n oldest entries
func (c *MemoryCache) evictLocked(n int) {
	type aged struct {
		hash    uint64
		created time.Time
	}

	all := make([]aged, 0, len(c.entries))
	for hash, entry := range c.entries {
		all = append(all, aged{hash: hash, created: entry.CreatedAt})
	}

	sort.Slice(all, func(i, j int) bool { return all[i].created.Before(all[j].created) })

	for i := 0; i < n && i < len(all); i++ {
		c.removeLocked(all[i].hash)
		c.stats.Evictions++
	}
}

// backgroundCleanup runs periodic cleanup of expired entries
func (c *MemoryCache) backgroundCleanup() {
	defer close(c.done)

	ticker := time.NewTicker(c.cleanupFreq)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = c.Cleanup(context.Background())
		case <-c.stopCleanup:
			return
		}
	}
}
