package cache

import (
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// Entry is one cached result set.
type Entry struct {
	Key       string    `json:"key"`
	Payload   []byte    `json:"payload"`
	WrittenAt time.Time `json:"written_at"`
}

// Cache is a process-wide keyed store of serialized result sets. It is safe
// for concurrent use; same-key writes are last-write-wins.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Entry
	now     func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries: make(map[string]Entry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Load returns the payload for key if it was written no more than maxAge ago.
func (c *Cache) Load(key string, maxAge time.Duration) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.WrittenAt) > maxAge {
		return nil, false
	}
	return copyBytes(e.Payload), true
}

// LoadStale returns the payload for key regardless of its age. It is the
// last-resort read used when the remote store cannot be reached.
func (c *Cache) LoadStale(key string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return copyBytes(e.Payload), true
}

// Save overwrites the entry for key and stamps it with the current time.
func (c *Cache) Save(key string, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = Entry{Key: key, Payload: copyBytes(payload), WrittenAt: c.now()}
}

// RemoveAll deletes every entry whose key starts with prefix and returns how
// many were removed.
func (c *Cache) RemoveAll(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// LoadJSON decodes a fresh entry into T. A payload that fails to decode is a miss.
func LoadJSON[T any](c *Cache, key string, maxAge time.Duration) (T, bool) {
	data, ok := c.Load(key, maxAge)
	return decode[T](data, ok)
}

// LoadStaleJSON decodes an entry of any age into T.
func LoadStaleJSON[T any](c *Cache, key string) (T, bool) {
	data, ok := c.LoadStale(key)
	return decode[T](data, ok)
}

// SaveJSON encodes v and saves it under key.
func SaveJSON[T any](c *Cache, key string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.Save(key, data)
	return nil
}

func decode[T any](data []byte, ok bool) (T, bool) {
	var v T
	if !ok {
		return v, false
	}
	if err := json.Unmarshal(data, &v); err != nil {
		var zero T
		return zero, false
	}
	return v, true
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
