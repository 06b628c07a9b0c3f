package indexer

import (
	"context"
	"io"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/apiscout/apiscout/internal/cache"
	"github.com/apiscout/apiscout/internal/openapi"
	"github.com/apiscout/apiscout/internal/session"
)

// FetchMetadata records how one document was fetched, used to decide
// whether a re-fetch is necessary.
type FetchMetadata struct {
	Validators   openapi.Validators `json:"validators"`
	ContentHash  string             `json:"content_hash"`
	DownloadedAt time.Time          `json:"downloaded_at"`
	ExpiresAt    time.Time          `json:"expires_at"`
}

// Indexer builds and refreshes document indexes. The in-memory cache is the
// owner of built indexes; the disk store is a warm-start side channel only.
type Indexer struct {
	fetcher  *openapi.Fetcher
	registry *session.Registry
	cache    *cache.BoundedCache[*DocumentIndex]
	store    *Store // nil when persistence is disabled
	ttl      time.Duration
	logger   *log.Logger

	mu   sync.Mutex
	meta map[string]FetchMetadata
}

// New wires an indexer. store may be nil.
func New(fetcher *openapi.Fetcher, registry *session.Registry, idxCache *cache.BoundedCache[*DocumentIndex], store *Store, ttl time.Duration, logger *log.Logger) *Indexer {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Indexer{
		fetcher:  fetcher,
		registry: registry,
		cache:    idxCache,
		store:    store,
		ttl:      ttl,
		logger:   logger,
		meta:     make(map[string]FetchMetadata),
	}
}

// Cache exposes the owned index cache for stats and clearing.
func (ix *Indexer) Cache() *cache.BoundedCache[*DocumentIndex] { return ix.cache }

// BuildIndex fetches the document, validates it, and replaces the cached
// index for this (source, session) identity. A document failing the version
// marker check is rejected whole; no partial index is produced.
func (ix *Indexer) BuildIndex(ctx context.Context, sourceURL, sessionID string) (*DocumentIndex, error) {
	headers, limiter := ix.sessionFetchConfig(sessionID)
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	res, err := ix.fetcher.Fetch(ctx, sourceURL, headers)
	if err != nil {
		return nil, err
	}
	if err := res.Document.Validate(); err != nil {
		return nil, err
	}

	idx := BuildFromDocument(res.Document)
	key := CacheKey(sourceURL, sessionID)
	ttl := ix.sessionTTL(sessionID)

	meta := FetchMetadata{
		Validators:   res.Validators,
		ContentHash:  res.ContentHash,
		DownloadedAt: res.FetchedAt,
		ExpiresAt:    res.FetchedAt.Add(ttl),
	}

	ix.cache.Set(key, idx, ttl)
	ix.setMeta(key, meta)

	if ix.store != nil {
		if err := ix.store.SaveIndex(key, idx); err != nil {
			ix.logger.Printf("persist index %s: %v", key, err)
		}
		if err := ix.store.SaveMeta(key, meta); err != nil {
			ix.logger.Printf("persist meta %s: %v", key, err)
		}
	}

	ix.logger.Printf("built index for %s: %d operations", sourceURL, idx.Metadata.TotalOperations)
	return idx, nil
}

// NeedsRefresh reports whether the cached index for this identity must be
// rebuilt. True without metadata. Past the TTL it asks the source: a
// confirmed not-modified answer extends the TTL and avoids the rebuild.
func (ix *Indexer) NeedsRefresh(ctx context.Context, sourceURL, sessionID string) bool {
	key := CacheKey(sourceURL, sessionID)
	meta, ok := ix.getMeta(key)
	if !ok {
		return true
	}
	now := time.Now()
	if now.Before(meta.ExpiresAt) {
		return false
	}

	headers, _ := ix.sessionFetchConfig(sessionID)
	unchanged, err := ix.fetcher.CheckNotModified(ctx, sourceURL, meta.Validators, headers)
	if err != nil {
		ix.logger.Printf("conditional check %s: %v", sourceURL, err)
		return true
	}
	if !unchanged {
		return true
	}

	meta.ExpiresAt = now.Add(ix.sessionTTL(sessionID))
	ix.setMeta(key, meta)
	if ix.store != nil {
		if err := ix.store.SaveMeta(key, meta); err != nil {
			ix.logger.Printf("persist meta %s: %v", key, err)
		}
	}
	return false
}

// LoadWithAutoRefresh returns a usable index with as little network work as
// possible: cached when fresh, warm-started from disk when available,
// rebuilt otherwise. When a rebuild fails and a previous index exists, the
// stale index is returned instead of the error.
func (ix *Indexer) LoadWithAutoRefresh(ctx context.Context, sourceURL, sessionID string) (*DocumentIndex, error) {
	key := CacheKey(sourceURL, sessionID)

	cached, haveCached := ix.cache.Get(key)
	if !haveCached && ix.store != nil {
		if persisted, ok := ix.store.LoadIndex(key); ok {
			if meta, ok := ix.store.LoadMeta(key); ok {
				ix.setMeta(key, meta)
			}
			ix.cache.Set(key, persisted, ix.sessionTTL(sessionID))
			cached, haveCached = persisted, true
			ix.logger.Printf("warm-started index %s from disk", key)
		}
	}

	if haveCached && !ix.NeedsRefresh(ctx, sourceURL, sessionID) {
		return cached, nil
	}

	idx, err := ix.BuildIndex(ctx, sourceURL, sessionID)
	if err != nil {
		if haveCached {
			ix.logger.Printf("refresh %s failed, serving stale index: %v", sourceURL, err)
			return cached, nil
		}
		return nil, err
	}
	return idx, nil
}

// Forget drops the fetch metadata for one identity (and its persisted
// copy), forcing the next load to rebuild.
func (ix *Indexer) Forget(key string) {
	ix.mu.Lock()
	delete(ix.meta, key)
	ix.mu.Unlock()
	if ix.store != nil {
		ix.store.Delete(key)
	}
}

// ForgetAll drops all fetch metadata and persisted state.
func (ix *Indexer) ForgetAll() {
	ix.mu.Lock()
	ix.meta = make(map[string]FetchMetadata)
	ix.mu.Unlock()
	if ix.store != nil {
		ix.store.Clear()
	}
}

func (ix *Indexer) getMeta(key string) (FetchMetadata, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	m, ok := ix.meta[key]
	return m, ok
}

func (ix *Indexer) setMeta(key string, meta FetchMetadata) {
	ix.mu.Lock()
	ix.meta[key] = meta
	ix.mu.Unlock()
}

func (ix *Indexer) sessionFetchConfig(sessionID string) (map[string]string, *rate.Limiter) {
	if s, ok := ix.registry.Get(sessionID); ok {
		return s.Headers, s.Limiter()
	}
	return nil, nil
}

func (ix *Indexer) sessionTTL(sessionID string) time.Duration {
	if s, ok := ix.registry.Get(sessionID); ok && s.CacheTTL > 0 {
		return s.CacheTTL
	}
	return ix.ttl
}
