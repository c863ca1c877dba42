package odata

import "github.com/nlstn/go-odataclient/internal/metacache"

// MetadataCache holds parsed metadata per service root. Share one between
// clients to fetch each $metadata document once per process.
type MetadataCache = metacache.Cache

// MetadataStore persists metadata documents across processes.
type MetadataStore = metacache.Store

// SQLMetadataStore keeps metadata documents in SQLite or PostgreSQL.
type SQLMetadataStore = metacache.GormStore

// NewMetadataCache creates a cache. A nil store keeps documents in memory only.
func NewMetadataCache(store MetadataStore) *MetadataCache {
	if store == nil {
		return metacache.New()
	}
	return metacache.New(metacache.WithStore(store))
}

// OpenMetadataStore opens a persistent store. dialect is "sqlite" or
// "postgres"; dsn is a file name (or ":memory:") or a connection string.
func OpenMetadataStore(dialect, dsn string) (*SQLMetadataStore, error) {
	return metacache.OpenStore(dialect, dsn)
}
