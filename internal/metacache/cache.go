// Package metacache keeps parsed service metadata per service root so the
// $metadata document is fetched once per process, optionally backed by a
// persistent document store.
package metacache

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/singleflight"

	"github.com/nlstn/go-odataclient/internal/metadata"
)

// Loader fetches the metadata document of a service root.
type Loader func(ctx context.Context, uri string) ([]byte, error)

// Entry is a parsed metadata document.
type Entry struct {
	URI         string
	Document    []byte
	Fingerprint uint64
	Model       *metadata.Model
	LoadedAt    time.Time
}

// Store persists metadata documents across processes.
type Store interface {
	Load(ctx context.Context, uri string) (doc []byte, ok bool, err error)
	Save(ctx context.Context, uri string, doc []byte, fingerprint uint64) error
	Delete(ctx context.Context, uri string) error
}

// Cache maps service roots to parsed metadata. Concurrent first calls for
// the same root share one fetch.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	group   singleflight.Group

	store  Store
	logger *slog.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithStore backs the cache with a persistent store.
func WithStore(s Store) Option {
	return func(c *Cache) { c.store = s }
}

// WithLogger sets the logger. It defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{entries: make(map[string]*Entry), logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) lookup(uri string) (*Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[uri]
	return e, ok
}

// Get returns the metadata of uri, calling load on a miss. The fetch is
// detached from ctx so that a cancelled caller does not fail the other
// callers waiting on the same fetch.
func (c *Cache) Get(ctx context.Context, uri string, load Loader) (*Entry, error) {
	if e, ok := c.lookup(uri); ok {
		return e, nil
	}
	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(uri, func() (any, error) {
		return c.fill(detached, uri, load)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Entry), nil
	}
}

func (c *Cache) fill(ctx context.Context, uri string, load Loader) (*Entry, error) {
	if e, ok := c.lookup(uri); ok {
		return e, nil
	}

	if c.store != nil {
		doc, ok, err := c.store.Load(ctx, uri)
		switch {
		case err != nil:
			c.logger.Warn("Failed to load stored metadata", "uri", uri, "error", err)
		case ok:
			e, err := c.add(uri, doc)
			if err == nil {
				c.logger.Info("Metadata loaded from store", "uri", uri)
				return e, nil
			}
			c.logger.Warn("Ignoring unreadable stored metadata", "uri", uri, "error", err)
		}
	}

	doc, err := load(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("failed to load metadata from %s: %w", uri, err)
	}
	e, err := c.add(uri, doc)
	if err != nil {
		return nil, err
	}
	c.logger.Info("Metadata loaded", "uri", uri, "bytes", len(doc))

	if c.store != nil {
		if err := c.store.Save(ctx, uri, doc, e.Fingerprint); err != nil {
			c.logger.Warn("Failed to persist metadata", "uri", uri, "error", err)
		}
	}
	return e, nil
}

// Put parses doc and caches it for uri, replacing any previous entry.
func (c *Cache) Put(uri string, doc []byte) (*Entry, error) {
	return c.add(uri, doc)
}

func (c *Cache) add(uri string, doc []byte) (*Entry, error) {
	model, err := metadata.Parse(bytes.NewReader(doc))
	if err != nil {
		return nil, fmt.Errorf("failed to parse metadata of %s: %w", uri, err)
	}
	e := &Entry{
		URI:         uri,
		Document:    doc,
		Fingerprint: xxhash.Sum64(doc),
		Model:       model,
		LoadedAt:    time.Now(),
	}
	c.mu.Lock()
	c.entries[uri] = e
	c.mu.Unlock()
	return e, nil
}

// Invalidate drops the entry of uri from memory and from the store, so
// the next Get fetches the document again.
func (c *Cache) Invalidate(ctx context.Context, uri string) error {
	c.mu.Lock()
	delete(c.entries, uri)
	c.mu.Unlock()
	c.group.Forget(uri)
	if c.store != nil {
		return c.store.Delete(ctx, uri)
	}
	return nil
}

// Len reports the number of cached service roots.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
