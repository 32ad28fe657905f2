// Package cache keeps recently read repository files in memory so repeated
// runs against the same repository do not fetch them again.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/lassestilvang/code-migration-autopilot/internal/metrics"
	"github.com/lassestilvang/code-migration-autopilot/internal/source"
)

type entry struct {
	content    string
	size       int64
	stored     time.Time
	lastAccess time.Time
}

// Cache is a size-bounded content cache. Entries older than the TTL are
// treated as missing; the least recently used entry is evicted first.
type Cache struct {
	maxSize int64
	ttl     time.Duration
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
	size    int64
}

// New creates a cache holding at most maxSize bytes of content. A zero ttl
// keeps entries until they are evicted.
func New(maxSize int64, ttl time.Duration) *Cache {
	return &Cache{
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]*entry),
	}
}

// Get returns the cached content for key.
func (c *Cache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		metrics.RecordCacheLookup(false)
		return "", false
	}
	now := c.now()
	if c.ttl > 0 && now.Sub(e.stored) > c.ttl {
		c.remove(key, e)
		metrics.RecordCacheLookup(false)
		return "", false
	}
	e.lastAccess = now
	metrics.RecordCacheLookup(true)
	return e.content, true
}

// Put stores content under key. Content larger than the whole cache is not
// stored.
func (c *Cache) Put(key, content string) {
	size := int64(len(content))
	if size > c.maxSize {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[key]; ok {
		c.remove(key, old)
	}
	for c.size+size > c.maxSize {
		if !c.evictOldest() {
			break
		}
	}

	now := c.now()
	c.entries[key] = &entry{content: content, size: size, stored: now, lastAccess: now}
	c.size += size
}

// remove must be called with mu held.
func (c *Cache) remove(key string, e *entry) {
	c.size -= e.size
	delete(c.entries, key)
}

// evictOldest removes the least recently used entry.
// Must be called with lock held.
func (c *Cache) evictOldest() bool {
	var oldest *entry
	var oldestKey string

	for k, e := range c.entries {
		if oldest == nil || e.lastAccess.Before(oldest.lastAccess) {
			oldest = e
			oldestKey = k
		}
	}
	if oldest == nil {
		return false
	}
	c.remove(oldestKey, oldest)
	return true
}

// Stats returns cache statistics.
func (c *Cache) Stats() (size, maxSize int64, count int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size, c.maxSize, len(c.entries)
}

// Clear removes every entry and returns how many were dropped.
func (c *Cache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.entries)
	c.entries = make(map[string]*entry)
	c.size = 0
	return n
}

// Source serves file contents from a cache before asking the wrapped
// source.
type Source struct {
	next  source.Source
	cache *Cache
}

// Wrap returns src with file reads cached in c.
func Wrap(src source.Source, c *Cache) *Source {
	return &Source{next: src, cache: c}
}

// Name returns the wrapped source's name.
func (s *Source) Name() string { return s.next.Name() }

// Open opens a snapshot of the wrapped source.
func (s *Source) Open(ctx context.Context, repo source.Repo) (source.Snapshot, error) {
	snap, err := s.next.Open(ctx, repo)
	if err != nil {
		return nil, err
	}
	info := snap.Info()
	return &snapshot{
		Snapshot: snap,
		cache:    s.cache,
		prefix:   info.Backend + ":" + repo.Host + "/" + repo.FullName() + "@" + info.Branch + ":",
	}, nil
}

type snapshot struct {
	source.Snapshot
	cache  *Cache
	prefix string
}

func (s *snapshot) ReadFile(ctx context.Context, path string) (string, error) {
	key := s.prefix + path
	if content, ok := s.cache.Get(key); ok {
		return content, nil
	}
	content, err := s.Snapshot.ReadFile(ctx, path)
	if err != nil {
		return "", err
	}
	s.cache.Put(key, content)
	return content, nil
}
