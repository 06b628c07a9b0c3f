package session

import (
	"testing"
	"time"
)

func newTestRegistry(t *testing.T, maxSessions int, ttl time.Duration) *Registry {
	t.Helper()
	r := NewRegistry(maxSessions, ttl, nil)
	t.Cleanup(r.Close)
	return r
}

func TestCreatePreservesCreatedAt(t *testing.T) {
	r := newTestRegistry(t, 10, time.Hour)

	first := r.CreateOrUpdate("s1", Config{SourceURLs: []string{"https://a.example/spec.json"}})
	time.Sleep(10 * time.Millisecond)
	second := r.CreateOrUpdate("s1", Config{SourceURLs: []string{"https://b.example/spec.json"}})

	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("CreatedAt changed on update: %v -> %v", first.CreatedAt, second.CreatedAt)
	}
	if !second.LastAccessed.After(first.LastAccessed) {
		t.Fatalf("LastAccessed not refreshed on update")
	}
	if second.SourceURLs[0] != "https://b.example/spec.json" {
		t.Fatalf("config fields not replaced on update")
	}
}

func TestEmptyIDGetsGenerated(t *testing.T) {
	r := newTestRegistry(t, 10, time.Hour)
	s := r.CreateOrUpdate("", Config{SourceURLs: []string{"https://a.example"}})
	if s.ID == "" {
		t.Fatalf("expected generated session id")
	}
	if _, ok := r.Get(s.ID); !ok {
		t.Fatalf("generated session not retrievable")
	}
}

func TestGetTouchesLastAccessed(t *testing.T) {
	r := newTestRegistry(t, 10, time.Hour)
	created := r.CreateOrUpdate("s1", Config{})

	time.Sleep(10 * time.Millisecond)
	got, ok := r.Get("s1")
	if !ok {
		t.Fatalf("session missing")
	}
	if !got.LastAccessed.After(created.LastAccessed) {
		t.Fatalf("Get did not refresh LastAccessed")
	}
}

func TestNotFoundIsNotAnError(t *testing.T) {
	r := newTestRegistry(t, 10, time.Hour)
	if _, ok := r.Get("ghost"); ok {
		t.Fatalf("Get(ghost) reported present")
	}
	if r.Touch("ghost") || r.Deactivate("ghost") || r.Remove("ghost") {
		t.Fatalf("operations on missing session must report false")
	}
}

func TestSweepRemovesExpiredAndInactive(t *testing.T) {
	r := newTestRegistry(t, 10, time.Hour)
	r.CreateOrUpdate("short", Config{CacheTTL: 100 * time.Millisecond})
	r.CreateOrUpdate("long", Config{CacheTTL: time.Hour})
	r.CreateOrUpdate("off", Config{CacheTTL: time.Hour})
	r.Deactivate("off")

	time.Sleep(150 * time.Millisecond)
	if removed := r.SweepExpired(); removed != 2 {
		t.Fatalf("SweepExpired() = %d, want 2", removed)
	}
	if _, ok := r.Get("short"); ok {
		t.Fatalf("expired session survived sweep")
	}
	if _, ok := r.Get("off"); ok {
		t.Fatalf("deactivated session survived sweep")
	}
	if _, ok := r.Get("long"); !ok {
		t.Fatalf("live session removed by sweep")
	}
}

func TestCapacityEvictsOldestInactive(t *testing.T) {
	r := newTestRegistry(t, 2, time.Hour)
	r.CreateOrUpdate("a", Config{})
	r.CreateOrUpdate("b", Config{})
	r.Deactivate("a")
	r.Deactivate("b")
	// a has the older LastAccessed of the two inactive sessions.
	r.Touch("b")

	r.CreateOrUpdate("c", Config{})
	if _, ok := r.Get("a"); ok {
		t.Fatalf("oldest inactive session should have been evicted")
	}
	if _, ok := r.Get("c"); !ok {
		t.Fatalf("new session missing after insert")
	}
}

func TestSoftLimitWithAllActive(t *testing.T) {
	r := newTestRegistry(t, 1, time.Hour)
	r.CreateOrUpdate("a", Config{})
	r.CreateOrUpdate("b", Config{})

	stats := r.Stats()
	if stats.TotalCount != 2 {
		t.Fatalf("total = %d, want 2 (soft limit)", stats.TotalCount)
	}
	if stats.ActiveCount != 2 {
		t.Fatalf("active = %d, want 2", stats.ActiveCount)
	}
}

func TestRateLimitHintBuildsLimiter(t *testing.T) {
	r := newTestRegistry(t, 10, time.Hour)
	s := r.CreateOrUpdate("s1", Config{RateLimit: &RateLimit{Rate: 2, Burst: 1}})
	if s.Limiter() == nil {
		t.Fatalf("expected limiter from rate hint")
	}
	none := r.CreateOrUpdate("s2", Config{})
	if none.Limiter() != nil {
		t.Fatalf("expected no limiter without rate hint")
	}
}
