package indexer

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/apiscout/apiscout/internal/cache"
	"github.com/apiscout/apiscout/internal/openapi"
	"github.com/apiscout/apiscout/internal/session"
)

const testDoc = `{
  "openapi": "3.0.0",
  "info": {"title": "Orders", "version": "2.1"},
  "servers": [{"url": "https://orders.example.com"}],
  "paths": {
    "/orders": {
      "get": {"summary": "List orders", "operationId": "listOrders", "tags": ["orders"]},
      "post": {"summary": "Create an order", "operationId": "createOrder", "tags": ["orders"]}
    },
    "/orders/{id}": {
      "get": {"summary": "Get one order", "operationId": "getOrder", "tags": ["orders"]}
    },
    "/health": {
      "get": {"summary": "Health probe"}
    }
  }
}`

type fixture struct {
	indexer  *Indexer
	registry *session.Registry
	fetches  *atomic.Int64
	url      string
}

func newFixture(t *testing.T, store *Store) *fixture {
	t.Helper()
	var fetches atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		fetches.Add(1)
		w.Header().Set("ETag", `"v1"`)
		w.Write([]byte(testDoc))
	}))
	t.Cleanup(srv.Close)

	registry := session.NewRegistry(10, time.Hour, nil)
	t.Cleanup(registry.Close)
	registry.CreateOrUpdate("s1", session.Config{CacheTTL: time.Hour})

	idxCache := cache.New(cache.Options[*DocumentIndex]{Capacity: 10, DefaultTTL: time.Hour})
	t.Cleanup(idxCache.Close)

	fetcher := openapi.NewFetcher(5*time.Second, "test", nil)
	ix := New(fetcher, registry, idxCache, store, time.Hour, nil)
	return &fixture{indexer: ix, registry: registry, fetches: &fetches, url: srv.URL}
}

func TestBuildIndexRoundTrip(t *testing.T) {
	fx := newFixture(t, nil)
	idx, err := fx.indexer.BuildIndex(context.Background(), fx.url, "s1")
	if err != nil {
		t.Fatalf("BuildIndex: %v", err)
	}

	// Every operation in the source appears exactly once in the path index.
	want := map[string]bool{
		"GET-/orders":      false,
		"POST-/orders":     false,
		"GET-/orders/{id}": false,
		"GET-/health":      false,
	}
	if len(idx.PathIndex) != len(want) {
		t.Fatalf("path index has %d entries, want %d", len(idx.PathIndex), len(want))
	}
	for key := range idx.PathIndex {
		if _, ok := want[key]; !ok {
			t.Fatalf("unexpected path index entry %s", key)
		}
		want[key] = true
	}
	for key, seen := range want {
		if !seen {
			t.Fatalf("operation %s dropped from index", key)
		}
	}

	if idx.Metadata.Title != "Orders" || idx.Metadata.TotalOperations != 4 {
		t.Fatalf("metadata = %+v", idx.Metadata)
	}
	if idx.Metadata.BaseURL != "https://orders.example.com" {
		t.Fatalf("base url = %q", idx.Metadata.BaseURL)
	}
	if paths := idx.TagIndex["orders"]; len(paths) != 2 {
		t.Fatalf("tag index orders = %v", paths)
	}
	if len(idx.KeywordIndex["orders"]) == 0 {
		t.Fatalf("keyword index missing token orders")
	}
}

func TestBuildIndexIdempotent(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	first, err := fx.indexer.BuildIndex(ctx, fx.url, "s1")
	if err != nil {
		t.Fatalf("BuildIndex: %v", err)
	}
	second, err := fx.indexer.BuildIndex(ctx, fx.url, "s1")
	if err != nil {
		t.Fatalf("BuildIndex again: %v", err)
	}

	if first.Metadata.TotalOperations != second.Metadata.TotalOperations {
		t.Fatalf("operation counts differ: %d vs %d",
			first.Metadata.TotalOperations, second.Metadata.TotalOperations)
	}
	for key := range first.PathIndex {
		if _, ok := second.PathIndex[key]; !ok {
			t.Fatalf("path %s present in first build only", key)
		}
	}
}

func TestLoadWithAutoRefreshSkipsNetworkWhenFresh(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	if _, err := fx.indexer.LoadWithAutoRefresh(ctx, fx.url, "s1"); err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := fx.indexer.LoadWithAutoRefresh(ctx, fx.url, "s1"); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if n := fx.fetches.Load(); n != 1 {
		t.Fatalf("full fetches = %d, want 1 (fresh index must skip network)", n)
	}
}

func TestNeedsRefreshLifecycle(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	if !fx.indexer.NeedsRefresh(ctx, fx.url, "s1") {
		t.Fatalf("NeedsRefresh must be true with no metadata")
	}
	if _, err := fx.indexer.BuildIndex(ctx, fx.url, "s1"); err != nil {
		t.Fatalf("BuildIndex: %v", err)
	}
	if fx.indexer.NeedsRefresh(ctx, fx.url, "s1") {
		t.Fatalf("NeedsRefresh true immediately after build")
	}

	// Force TTL expiry; the 304 answer should extend instead of rebuilding.
	key := CacheKey(fx.url, "s1")
	meta, _ := fx.indexer.getMeta(key)
	meta.ExpiresAt = time.Now().Add(-time.Minute)
	fx.indexer.setMeta(key, meta)

	if fx.indexer.NeedsRefresh(ctx, fx.url, "s1") {
		t.Fatalf("304 from source should report no refresh needed")
	}
	extended, _ := fx.indexer.getMeta(key)
	if !extended.ExpiresAt.After(time.Now()) {
		t.Fatalf("confirmed not-modified must extend expiry")
	}
}

func TestStaleIndexServedOnRefreshFailure(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		w.Write([]byte(testDoc))
	}))
	defer srv.Close()

	registry := session.NewRegistry(10, time.Hour, nil)
	defer registry.Close()
	registry.CreateOrUpdate("s1", session.Config{CacheTTL: time.Hour})
	idxCache := cache.New(cache.Options[*DocumentIndex]{Capacity: 10, DefaultTTL: time.Hour})
	defer idxCache.Close()
	ix := New(openapi.NewFetcher(5*time.Second, "test", nil), registry, idxCache, nil, time.Hour, nil)

	ctx := context.Background()
	if _, err := ix.LoadWithAutoRefresh(ctx, srv.URL, "s1"); err != nil {
		t.Fatalf("initial load: %v", err)
	}

	// Expire the metadata and take the source down: the stale index must
	// still be served.
	key := CacheKey(srv.URL, "s1")
	meta, _ := ix.getMeta(key)
	meta.ExpiresAt = time.Now().Add(-time.Minute)
	meta.Validators = openapi.Validators{}
	ix.setMeta(key, meta)
	fail.Store(true)

	idx, err := ix.LoadWithAutoRefresh(ctx, srv.URL, "s1")
	if err != nil {
		t.Fatalf("stale fallback failed: %v", err)
	}
	if idx.Metadata.TotalOperations != 4 {
		t.Fatalf("stale index corrupted: %+v", idx.Metadata)
	}
}

func TestInvalidDocumentRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"info":{"title":"no marker"},"paths":{"/x":{}}}`))
	}))
	defer srv.Close()

	registry := session.NewRegistry(10, time.Hour, nil)
	defer registry.Close()
	idxCache := cache.New(cache.Options[*DocumentIndex]{Capacity: 10, DefaultTTL: time.Hour})
	defer idxCache.Close()
	ix := New(openapi.NewFetcher(5*time.Second, "test", nil), registry, idxCache, nil, time.Hour, nil)

	_, err := ix.BuildIndex(context.Background(), srv.URL, "s1")
	if !errors.Is(err, openapi.ErrInvalidDocument) {
		t.Fatalf("err = %v, want ErrInvalidDocument", err)
	}
	if idxCache.Has(CacheKey(srv.URL, "s1")) {
		t.Fatalf("partial index cached for invalid document")
	}
}

func TestPersistenceWarmStart(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenStore(filepath.Join(dir, "indexes.db"), nil)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer store.Close()

	fx := newFixture(t, store)
	ctx := context.Background()
	if _, err := fx.indexer.BuildIndex(ctx, fx.url, "s1"); err != nil {
		t.Fatalf("BuildIndex: %v", err)
	}

	// A fresh indexer with an empty memory cache should warm-start from
	// disk without any full fetch.
	registry := session.NewRegistry(10, time.Hour, nil)
	defer registry.Close()
	registry.CreateOrUpdate("s1", session.Config{CacheTTL: time.Hour})
	coldCache := cache.New(cache.Options[*DocumentIndex]{Capacity: 10, DefaultTTL: time.Hour})
	defer coldCache.Close()
	cold := New(openapi.NewFetcher(5*time.Second, "test", nil), registry, coldCache, store, time.Hour, nil)

	before := fx.fetches.Load()
	idx, err := cold.LoadWithAutoRefresh(ctx, fx.url, "s1")
	if err != nil {
		t.Fatalf("warm start load: %v", err)
	}
	if idx.Metadata.TotalOperations != 4 {
		t.Fatalf("warm-started index = %+v", idx.Metadata)
	}
	if fx.fetches.Load() != before {
		t.Fatalf("warm start performed a full fetch")
	}
}

func TestStoreVersioningDiscardsUnknown(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenStore(filepath.Join(dir, "indexes.db"), nil)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer store.Close()

	if _, ok := store.LoadIndex("missing"); ok {
		t.Fatalf("LoadIndex on empty store reported hit")
	}

	idx := &DocumentIndex{Metadata: Metadata{Title: "X", TotalOperations: 1}}
	if err := store.SaveIndex("k", idx); err != nil {
		t.Fatalf("SaveIndex: %v", err)
	}
	got, ok := store.LoadIndex("k")
	if !ok || got.Metadata.Title != "X" {
		t.Fatalf("LoadIndex = %+v, %v", got, ok)
	}
}

func TestTokenize(t *testing.T) {
	got := Tokenize("List the pending orders by customer-id")
	want := map[string]bool{"list": true, "pending": true, "orders": true, "customer": true, "id": false}
	for _, token := range got {
		if token == "the" || token == "by" {
			t.Fatalf("stop word %q survived", token)
		}
		delete(want, token)
	}
	for token, required := range want {
		if required {
			t.Fatalf("token %q missing from %v", token, got)
		}
	}
}
