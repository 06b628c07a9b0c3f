// Package session tracks named caller sessions: which API descriptions a
// caller works with, the headers to fetch them with, and how long derived
// indexes stay fresh.
package session

import (
	"io"
	"log"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// RateLimit is a caller-supplied hint for outbound fetch pacing.
type RateLimit struct {
	Rate  float64 `json:"rate"`
	Burst int     `json:"burst"`
}

// Session binds one caller to its document sources and fetch settings.
type Session struct {
	ID           string            `json:"id"`
	SourceURLs   []string          `json:"source_urls"`
	Headers      map[string]string `json:"headers,omitempty"`
	CacheTTL     time.Duration     `json:"cache_ttl"`
	RateLimit    *RateLimit        `json:"rate_limit,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	LastAccessed time.Time         `json:"last_accessed"`
	Active       bool              `json:"active"`

	limiter *rate.Limiter
}

// Limiter returns the fetch pacer derived from the rate-limit hint, or nil
// when no hint was configured.
func (s *Session) Limiter() *rate.Limiter { return s.limiter }

func (s *Session) clone() *Session {
	cp := *s
	cp.SourceURLs = slices.Clone(s.SourceURLs)
	cp.Headers = maps.Clone(s.Headers)
	return &cp
}

// Config is the caller-facing session configuration.
type Config struct {
	SourceURLs []string
	Headers    map[string]string
	CacheTTL   time.Duration
	RateLimit  *RateLimit
}

// Stats summarizes registry state.
type Stats struct {
	ActiveCount    int   `json:"active_count"`
	TotalCount     int   `json:"total_count"`
	MemoryEstimate int64 `json:"memory_estimate_bytes"`
}

// Registry is an in-memory session store with a soft capacity and a
// background expiry sweep.
type Registry struct {
	mu          sync.Mutex
	sessions    map[string]*Session
	maxSessions int
	defaultTTL  time.Duration
	logger      *log.Logger

	sweeping atomic.Bool
	done     chan struct{}
	closed   sync.Once
}

// NewRegistry creates a registry. The sweeper is started separately via
// StartSweeper so tests can drive SweepExpired directly.
func NewRegistry(maxSessions int, defaultTTL time.Duration, logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Registry{
		sessions:    make(map[string]*Session),
		maxSessions: maxSessions,
		defaultTTL:  defaultTTL,
		logger:      logger,
		done:        make(chan struct{}),
	}
}

// CreateOrUpdate upserts a session. CreatedAt survives updates; everything
// else is replaced and LastAccessed refreshed. An empty id gets a generated
// one. When the registry is full, the least-recently-accessed inactive
// session is evicted first; with none inactive the insert proceeds anyway.
func (r *Registry) CreateOrUpdate(id string, cfg Config) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = r.defaultTTL
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	createdAt := now
	if prev, ok := r.sessions[id]; ok {
		createdAt = prev.CreatedAt
	} else if len(r.sessions) >= r.maxSessions {
		r.evictInactiveLocked()
	}

	s := &Session{
		ID:           id,
		SourceURLs:   slices.Clone(cfg.SourceURLs),
		Headers:      maps.Clone(cfg.Headers),
		CacheTTL:     ttl,
		RateLimit:    cfg.RateLimit,
		CreatedAt:    createdAt,
		LastAccessed: now,
		Active:       true,
	}
	if cfg.RateLimit != nil && cfg.RateLimit.Rate > 0 {
		burst := cfg.RateLimit.Burst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit.Rate), burst)
	}
	r.sessions[id] = s
	return s.clone()
}

// Get returns a snapshot of the session and refreshes its LastAccessed.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	s.LastAccessed = time.Now()
	return s.clone(), true
}

// Touch refreshes LastAccessed without returning the session.
func (r *Registry) Touch(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return false
	}
	s.LastAccessed = time.Now()
	return true
}

// Deactivate marks a session for removal by the next sweep.
func (r *Registry) Deactivate(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return false
	}
	s.Active = false
	return true
}

// Remove deletes a session immediately.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	return true
}

// SweepExpired removes inactive sessions and sessions idle past their TTL.
// Returns how many were removed. Overlapping sweeps are skipped.
func (r *Registry) SweepExpired() int {
	if !r.sweeping.CompareAndSwap(false, true) {
		return 0
	}
	defer r.sweeping.Store(false)

	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	removed := 0
	for id, s := range r.sessions {
		ttl := s.CacheTTL
		if ttl <= 0 {
			ttl = r.defaultTTL
		}
		if !s.Active || now.Sub(s.LastAccessed) > ttl {
			delete(r.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		r.logger.Printf("sweep removed %d expired sessions", removed)
	}
	return removed
}

// Stats reports registry counters.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	active := 0
	var mem int64
	for _, s := range r.sessions {
		if s.Active {
			active++
		}
		mem += sessionEstimate(s)
	}
	return Stats{ActiveCount: active, TotalCount: len(r.sessions), MemoryEstimate: mem}
}

// StartSweeper runs SweepExpired on a fixed interval until Close. A
// non-positive interval disables the sweeper.
func (r *Registry) StartSweeper(interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.SweepExpired()
			case <-r.done:
				return
			}
		}
	}()
}

// Close stops the background sweeper.
func (r *Registry) Close() {
	r.closed.Do(func() { close(r.done) })
}

// evictInactiveLocked drops the least-recently-accessed inactive session.
// With every session active the capacity is a soft limit only.
func (r *Registry) evictInactiveLocked() {
	var victim *Session
	for _, s := range r.sessions {
		if s.Active {
			continue
		}
		if victim == nil || s.LastAccessed.Before(victim.LastAccessed) {
			victim = s
		}
	}
	if victim == nil {
		r.logger.Printf("session limit %d exceeded with all sessions active", r.maxSessions)
		return
	}
	delete(r.sessions, victim.ID)
	r.logger.Printf("evicted inactive session %s", victim.ID)
}

func sessionEstimate(s *Session) int64 {
	size := int64(len(s.ID)) + 128
	for _, u := range s.SourceURLs {
		size += int64(len(u))
	}
	for k, v := range s.Headers {
		size += int64(len(k) + len(v))
	}
	return size
}
