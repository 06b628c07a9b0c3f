// Package service composes the registry, indexer, search engine, and
// details loader into the operations a caller invokes. It owns the
// per-process index cache and deduplicates concurrent builds of the same
// (source, session) identity.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"github.com/apiscout/apiscout/config"
	"github.com/apiscout/apiscout/internal/cache"
	"github.com/apiscout/apiscout/internal/details"
	"github.com/apiscout/apiscout/internal/indexer"
	"github.com/apiscout/apiscout/internal/openapi"
	"github.com/apiscout/apiscout/internal/search"
	"github.com/apiscout/apiscout/internal/session"
)

// Service is the facade over the search subsystem. Construct with New,
// release with Close.
type Service struct {
	cfg      *config.Config
	registry *session.Registry
	indexer  *indexer.Indexer
	details  *details.Loader
	idxCache *cache.BoundedCache[*indexer.DocumentIndex]
	flight   singleflight.Group
	logger   *log.Logger
	started  time.Time
}

// New wires the whole subsystem from config. reg may be nil to skip
// prometheus registration (tests do this).
func New(cfg *config.Config, logger *log.Logger, reg prometheus.Registerer) (*Service, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	var metrics cache.Metrics = cache.NoopMetrics{}
	if reg != nil {
		metrics = cache.NewPromMetrics(reg, "index")
	}

	idxCache := cache.New(cache.Options[*indexer.DocumentIndex]{
		Capacity:        cfg.Cache.Capacity,
		DefaultTTL:      cfg.Cache.DefaultTTL,
		SweepInterval:   cfg.Cache.SweepInterval,
		MemoryThreshold: cfg.Cache.MemoryThreshold,
		Sizer:           indexSize,
		Logger:          log.New(logger.Writer(), "[CACHE] ", log.LstdFlags),
		Metrics:         metrics,
	})

	registry := session.NewRegistry(
		cfg.Sessions.MaxSessions,
		cfg.Sessions.DefaultTTL,
		log.New(logger.Writer(), "[SESSIONS] ", log.LstdFlags),
	)
	registry.StartSweeper(cfg.Sessions.SweepInterval)

	fetcher := openapi.NewFetcher(cfg.Fetch.Timeout, cfg.Fetch.UserAgent, logger)
	detailsFetcher := openapi.NewFetcher(cfg.Fetch.DetailsTimeout, cfg.Fetch.UserAgent, logger)

	var store *indexer.Store
	detailsPath := ""
	if cfg.Storage.Enabled && cfg.Storage.Dir != "" {
		var err error
		store, err = indexer.OpenStore(filepath.Join(cfg.Storage.Dir, "indexes.db"), logger)
		if err != nil {
			// Warm-start only; run without it.
			logger.Printf("index store disabled: %v", err)
			store = nil
		}
		detailsPath = filepath.Join(cfg.Storage.Dir, "details.db")
	}

	ix := indexer.New(fetcher, registry, idxCache, store,
		cfg.Cache.DefaultTTL, log.New(logger.Writer(), "[INDEXER] ", log.LstdFlags))
	dl := details.NewLoader(detailsFetcher, detailsPath,
		log.New(logger.Writer(), "[DETAILS] ", log.LstdFlags))

	return &Service{
		cfg:      cfg,
		registry: registry,
		indexer:  ix,
		details:  dl,
		idxCache: idxCache,
		logger:   logger,
		started:  time.Now(),
	}, nil
}

// Close stops sweepers and releases on-disk resources.
func (s *Service) Close() {
	s.registry.Close()
	s.idxCache.Close()
	s.details.Close()
}

// Registry exposes the session registry to adapters.
func (s *Service) Registry() *session.Registry { return s.registry }

// ConfigureSession upserts a caller session.
func (s *Service) ConfigureSession(id string, cfg session.Config) (*session.Session, error) {
	if len(cfg.SourceURLs) == 0 {
		return nil, fmt.Errorf("%w: at least one source url is required", ErrInvalidQuery)
	}
	return s.registry.CreateOrUpdate(id, cfg), nil
}

// SearchRequest selects a strategy via Type: "tag", "pattern", "keyword",
// or empty for the default listing.
type SearchRequest struct {
	SourceURL string
	SessionID string
	Type      string
	Query     string
	Methods   []string
	Limit     int
}

// SearchResponse carries ranked results plus timing and document summary
// metadata.
type SearchResponse struct {
	Results   []indexer.ScoredMatch `json:"results"`
	Total     int                   `json:"total"`
	ElapsedMS int64                 `json:"elapsed_ms"`
	Metadata  indexer.Metadata      `json:"metadata"`
}

// Search answers one query against the (source, session) index, building or
// refreshing it as needed.
func (s *Service) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	start := time.Now()
	if _, ok := s.registry.Get(req.SessionID); !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSession, req.SessionID)
	}

	params := search.Params{Methods: req.Methods, Limit: req.Limit}
	if params.Limit <= 0 {
		params.Limit = s.cfg.Search.DefaultLimit
	}
	query := strings.TrimSpace(req.Query)
	switch strings.ToLower(req.Type) {
	case "tag", "tags":
		if query == "" {
			return nil, fmt.Errorf("%w: tag search needs at least one tag", ErrInvalidQuery)
		}
		params.Tags = splitQuery(query)
	case "pattern", "path":
		if query == "" {
			return nil, fmt.Errorf("%w: pattern search needs a pattern", ErrInvalidQuery)
		}
		params.Pattern = query
	case "keyword", "keywords", "":
		if query == "" && req.Type != "" {
			return nil, fmt.Errorf("%w: keyword search needs keywords", ErrInvalidQuery)
		}
		params.Keywords = splitQuery(query)
	default:
		return nil, fmt.Errorf("%w: unknown search type %q", ErrInvalidQuery, req.Type)
	}

	idx, err := s.loadIndex(ctx, req.SourceURL, req.SessionID)
	if err != nil {
		return nil, err
	}

	results := search.Search(idx, params)
	return &SearchResponse{
		Results:   results,
		Total:     len(results),
		ElapsedMS: time.Since(start).Milliseconds(),
		Metadata:  idx.Metadata,
	}, nil
}

// DetailsRequest asks for the full definitions of several operations.
// Methods pairs with Paths by position; missing entries default to GET.
type DetailsRequest struct {
	SourceURL string
	SessionID string
	Paths     []string
	Methods   []string
}

// DetailsResult is one per-path outcome. Failed lookups carry Error and are
// never fatal to the batch.
type DetailsResult struct {
	Path   string          `json:"path"`
	Method string          `json:"method"`
	Detail *details.Detail `json:"detail,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// DetailsResponse carries per-path results plus timing.
type DetailsResponse struct {
	Results   []DetailsResult `json:"results"`
	ElapsedMS int64           `json:"elapsed_ms"`
}

// GetDetails loads full operation definitions. Per-item failures are
// logged, recorded on the item, and skipped; siblings continue.
func (s *Service) GetDetails(ctx context.Context, req DetailsRequest) (*DetailsResponse, error) {
	start := time.Now()
	sess, ok := s.registry.Get(req.SessionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSession, req.SessionID)
	}
	if len(req.Paths) == 0 {
		return nil, fmt.Errorf("%w: no paths given", ErrInvalidQuery)
	}

	results := make([]DetailsResult, 0, len(req.Paths))
	for i, path := range req.Paths {
		method := "GET"
		if i < len(req.Methods) && req.Methods[i] != "" {
			method = strings.ToUpper(req.Methods[i])
		}
		item := DetailsResult{Path: path, Method: method}
		d, err := s.details.Load(ctx, req.SourceURL, path, method, sess.Headers)
		if err != nil {
			s.logger.Printf("details %s %s: %v", method, path, err)
			item.Error = err.Error()
		} else {
			item.Detail = d
		}
		results = append(results, item)
	}
	return &DetailsResponse{Results: results, ElapsedMS: time.Since(start).Milliseconds()}, nil
}

// SuggestionsResponse carries prefix suggestions and popular endpoints.
type SuggestionsResponse struct {
	Suggestions []string              `json:"suggestions"`
	Popular     []indexer.ScoredMatch `json:"popular"`
	ElapsedMS   int64                 `json:"elapsed_ms"`
}

// GetSuggestions returns path-prefix completions for partial, plus the
// document's best-known common endpoints.
func (s *Service) GetSuggestions(ctx context.Context, sourceURL, sessionID, partial string, limit int) (*SuggestionsResponse, error) {
	start := time.Now()
	if _, ok := s.registry.Get(sessionID); !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSession, sessionID)
	}
	idx, err := s.loadIndex(ctx, sourceURL, sessionID)
	if err != nil {
		return nil, err
	}
	return &SuggestionsResponse{
		Suggestions: search.Suggest(idx, partial, limit),
		Popular:     search.PopularEndpoints(idx, limit),
		ElapsedMS:   time.Since(start).Milliseconds(),
	}, nil
}

// StatsResponse aggregates session, cache, and system counters.
type StatsResponse struct {
	Session       *session.Session `json:"session,omitempty"`
	SessionCounts session.Stats    `json:"session_counts"`
	Cache         cache.Stats      `json:"cache"`
	UptimeSeconds int64            `json:"uptime_seconds"`
}

// GetStats reports counters; sessionID is optional.
func (s *Service) GetStats(sessionID string) *StatsResponse {
	resp := &StatsResponse{
		SessionCounts: s.registry.Stats(),
		Cache:         s.idxCache.Stats(),
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
	}
	if sessionID != "" {
		if sess, ok := s.registry.Get(sessionID); ok {
			resp.Session = sess
		}
	}
	return resp
}

// ClearCache drops cached indexes. Both filters empty clears everything;
// otherwise only identities matching the given source and/or session go.
// Returns how many in-memory entries were dropped.
func (s *Service) ClearCache(sourceURL, sessionID string) int {
	if sourceURL == "" && sessionID == "" {
		n := s.idxCache.Clear()
		s.indexer.ForgetAll()
		s.logger.Printf("cleared all cached indexes (%d)", n)
		return n
	}

	urlHash := ""
	if sourceURL != "" {
		urlHash = indexer.HashURL(sourceURL)
	}
	cleared := 0
	for _, key := range s.idxCache.Keys() {
		hash, sid, ok := strings.Cut(key, "::")
		if !ok {
			continue
		}
		if urlHash != "" && hash != urlHash {
			continue
		}
		if sessionID != "" && sid != sessionID {
			continue
		}
		if s.idxCache.Delete(key) {
			cleared++
		}
		s.indexer.Forget(key)
	}
	return cleared
}

// loadIndex resolves the index for one identity, collapsing concurrent
// callers of the same identity onto a single build.
func (s *Service) loadIndex(ctx context.Context, sourceURL, sessionID string) (*indexer.DocumentIndex, error) {
	key := indexer.CacheKey(sourceURL, sessionID)
	v, err, _ := s.flight.Do(key, func() (any, error) {
		return s.indexer.LoadWithAutoRefresh(ctx, sourceURL, sessionID)
	})
	if err != nil {
		if errors.Is(err, openapi.ErrInvalidDocument) {
			return nil, err
		}
		return nil, &UpstreamError{URL: sourceURL, Err: err}
	}
	return v.(*indexer.DocumentIndex), nil
}

func splitQuery(query string) []string {
	fields := strings.FieldsFunc(query, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	out := fields[:0]
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// indexSize approximates the in-memory footprint of one index for the
// cache's memory accounting.
func indexSize(idx *indexer.DocumentIndex) int64 {
	if idx == nil {
		return 0
	}
	var size int64
	for key, summary := range idx.PathIndex {
		size += int64(len(key) + len(summary.Summary) + len(summary.Description) + len(summary.OperationID))
	}
	for token, matches := range idx.KeywordIndex {
		size += int64(len(token))
		for _, m := range matches {
			size += int64(len(m.Path) + len(m.Description) + 24)
		}
	}
	for tag, paths := range idx.TagIndex {
		size += int64(len(tag))
		for _, p := range paths {
			size += int64(len(p))
		}
	}
	return size
}
