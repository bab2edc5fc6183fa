package lexicon

import (
	"context"
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// Source provides the entries of a language, typically from the word table.
type Source interface {
	LexiconEntries(ctx context.Context, language string) ([]Entry, error)
}

// Cache keeps one Index per language for a limited time. Concurrent misses for
// the same language share a single build. Language tags are canonicalized
// with Language before they are used as keys.
type Cache struct {
	src    Source
	ttl    time.Duration
	cache  *gocache.Cache
	builds singleflight.Group

	// gens counts invalidations per language; epoch counts Clear calls. A
	// build only stores its index if neither moved while it ran.
	mu    sync.Mutex
	gens  map[string]uint64
	epoch uint64
}

// NewCache creates a cache in front of src. A ttl of zero or less keeps
// indexes until they are invalidated.
func NewCache(src Source, ttl time.Duration) *Cache {
	exp := ttl
	cleanup := 2 * ttl
	if ttl <= 0 {
		exp = gocache.NoExpiration
		cleanup = 0
	}
	return &Cache{
		src:   src,
		ttl:   exp,
		cache: gocache.New(exp, cleanup),
		gens:  make(map[string]uint64),
	}
}

type generation struct{ epoch, n uint64 }

func (c *Cache) generation(key string) generation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return generation{c.epoch, c.gens[key]}
}

// Lexicon returns the index for language, building it on a miss. The build
// outlives a caller whose ctx is cancelled so that other callers waiting on
// it still get the index.
func (c *Cache) Lexicon(ctx context.Context, language string) (*Index, error) {
	key := Language(language)
	if v, ok := c.cache.Get(key); ok {
		return v.(*Index), nil
	}
	buildCtx := context.WithoutCancel(ctx)
	ch := c.builds.DoChan(key, func() (interface{}, error) {
		if v, ok := c.cache.Get(key); ok {
			return v, nil
		}
		gen := c.generation(key)
		entries, err := c.src.LexiconEntries(buildCtx, key)
		if err != nil {
			return nil, fmt.Errorf("load lexicon %q: %w", key, err)
		}
		idx := NewIndex(key, entries)
		c.mu.Lock()
		if gen == (generation{c.epoch, c.gens[key]}) {
			c.cache.Set(key, idx, c.ttl)
		}
		c.mu.Unlock()
		return idx, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Index), nil
	}
}

// Invalidate drops the cached index of language, e.g. after words were added.
// A build already running for it completes for its callers but is not cached.
func (c *Cache) Invalidate(language string) {
	key := Language(language)
	c.mu.Lock()
	c.gens[key]++
	c.cache.Delete(key)
	c.mu.Unlock()
	c.builds.Forget(key)
}

// Clear drops all cached indexes.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.epoch++
	c.cache.Flush()
	c.mu.Unlock()
}
