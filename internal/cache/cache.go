// Package cache keeps recently rendered documents keyed by the request that produced them.
package cache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"cvforge/internal/layout"
	"cvforge/internal/resume"
)

const (
	DefaultTTL        = 5 * time.Minute
	DefaultMaxEntries = 50
)

// Entry is one cached document.
type Entry struct {
	Key       string
	Payload   []byte
	CreatedAt time.Time
}

// Shared is a cache tier visible to every process, consulted after a local miss.
type Shared interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Options configures a Cache.
type Options struct {
	TTL        time.Duration
	MaxEntries int
	Shared     Shared
	Logger     *slog.Logger
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Cache is an in-process TTL cache with a hard entry bound.
// Expired entries are dropped when they are looked up. When a store pushes the size past
// the bound, the single oldest entry is evicted.
type Cache struct {
	mu      sync.Mutex
	entries map[string]Entry

	ttl        time.Duration
	maxEntries int
	shared     Shared
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a cache. Zero options fall back to a five minute TTL and fifty entries.
func New(opts Options) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Cache{
		entries:    make(map[string]Entry),
		ttl:        opts.TTL,
		maxEntries: opts.MaxEntries,
		shared:     opts.Shared,
		logger:     opts.Logger.With(slog.String("component", "document_cache")),
		now:        opts.Now,
	}
}

// Key derives the cache key for a render request: the hex SHA-256 of the JSON encoding
// of {cvData, template}. Field and list order are preserved, so only identical requests collide.
func Key(data resume.Resume, template layout.Template) string {
	payload, err := json.Marshal(struct {
		CVData   resume.Resume `json:"cvData"`
		Template string        `json:"template"`
	}{CVData: data, Template: string(template)})
	if err != nil {
		// Resume holds only strings, bools and slices of them.
		panic("cache: encode key: " + err.Error())
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Lookup returns a copy of the payload stored under key if it is younger than the TTL.
func (c *Cache) Lookup(ctx context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	entry, ok := c.entries[key]
	if ok && c.now().Sub(entry.CreatedAt) > c.ttl {
		delete(c.entries, key)
		ok = false
	}
	c.mu.Unlock()

	if ok {
		return bytes.Clone(entry.Payload), true
	}
	if c.shared == nil {
		return nil, false
	}

	payload, found, err := c.shared.Get(ctx, key)
	if err != nil {
		c.logger.Warn("shared cache lookup failed", slog.String("key", key), slog.Any("error", err))
		return nil, false
	}
	if !found {
		return nil, false
	}
	c.storeLocal(key, payload)
	return payload, true
}

// Store records payload under key, replacing any previous entry.
func (c *Cache) Store(ctx context.Context, key string, payload []byte) {
	c.storeLocal(key, payload)

	if c.shared != nil {
		if err := c.shared.Set(ctx, key, payload, c.ttl); err != nil {
			c.logger.Warn("shared cache store failed", slog.String("key", key), slog.Any("error", err))
		}
	}
}

func (c *Cache) storeLocal(key string, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = Entry{Key: key, Payload: bytes.Clone(payload), CreatedAt: c.now()}
	if len(c.entries) <= c.maxEntries {
		return
	}

	var (
		oldestKey string
		oldestAt  time.Time
		first     = true
	)
	for k, e := range c.entries {
		if first || e.CreatedAt.Before(oldestAt) {
			oldestKey, oldestAt, first = k, e.CreatedAt, false
		}
	}
	delete(c.entries, oldestKey)
}

// Len reports the number of local entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
