package consent

import (
	"sync"
	"time"

	"github.com/opsgate/opsgate/internal/capability"
)

type cacheKey struct {
	userID   string
	category capability.CategoryID
}

type cacheEntry struct {
	record   Record
	cachedAt time.Time
	// dirty marks an entry whose durable write failed; it is retried on
	// later durable traffic for the same user.
	dirty bool
}

// memoryCache is the volatile consent tier.
type memoryCache struct {
	mu      sync.RWMutex
	entries map[cacheKey]cacheEntry
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[cacheKey]cacheEntry)}
}

func (c *memoryCache) get(userID string, category capability.CategoryID) (cacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[cacheKey{userID: userID, category: category}]
	return entry, ok
}

func (c *memoryCache) put(record Record, cachedAt time.Time, dirty bool) {
	record.Source = SourceCache
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey{userID: record.UserID, category: record.Category}] = cacheEntry{
		record:   record,
		cachedAt: cachedAt,
		dirty:    dirty,
	}
}

// markClean clears the dirty flag only if the cached record still matches
// the flushed one, so a concurrent newer write is never marked clean by a
// stale flush.
func (c *memoryCache) markClean(record Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := cacheKey{userID: record.UserID, category: record.Category}
	entry, ok := c.entries[key]
	if !ok || !entry.record.GrantedAt.Equal(record.GrantedAt) || entry.record.Granted != record.Granted {
		return
	}
	entry.dirty = false
	c.entries[key] = entry
}

func (c *memoryCache) listForUser(userID string) []cacheEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var entries []cacheEntry
	for key, entry := range c.entries {
		if key.userID == userID {
			entries = append(entries, entry)
		}
	}
	return entries
}

func (c *memoryCache) dirtyForUser(userID string) []Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var records []Record
	for key, entry := range c.entries {
		if key.userID == userID && entry.dirty {
			records = append(records, entry.record)
		}
	}
	return records
}
