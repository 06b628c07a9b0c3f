package cache

import "github.com/prometheus/client_golang/prometheus"

// Metrics receives cache lifecycle events.
type Metrics interface {
	Hit()
	Miss()
	Eviction()
	Expire()
}

// NoopMetrics ignores all events. Used when no collector is wired.
type NoopMetrics struct{}

func (NoopMetrics) Hit()      {}
func (NoopMetrics) Miss()     {}
func (NoopMetrics) Eviction() {}
func (NoopMetrics) Expire()   {}

// PromMetrics exports cache events as prometheus counters.
type PromMetrics struct {
	hits      prometheus.Counter
	misses    prometheus.Counter
	evictions prometheus.Counter
	expires   prometheus.Counter
}

// NewPromMetrics registers counters for the named cache on reg.
func NewPromMetrics(reg prometheus.Registerer, name string) *PromMetrics {
	labels := prometheus.Labels{"cache": name}
	m := &PromMetrics{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "apiscout", Subsystem: "cache", Name: "hits_total",
			Help: "Cache lookups served from a live entry.", ConstLabels: labels,
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "apiscout", Subsystem: "cache", Name: "misses_total",
			Help: "Cache lookups that found no live entry.", ConstLabels: labels,
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "apiscout", Subsystem: "cache", Name: "evictions_total",
			Help: "Entries removed to stay within capacity.", ConstLabels: labels,
		}),
		expires: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "apiscout", Subsystem: "cache", Name: "expirations_total",
			Help: "Entries removed after their TTL elapsed.", ConstLabels: labels,
		}),
	}
	reg.MustRegister(m.hits, m.misses, m.evictions, m.expires)
	return m
}

func (m *PromMetrics) Hit()      { m.hits.Inc() }
func (m *PromMetrics) Miss()     { m.misses.Inc() }
func (m *PromMetrics) Eviction() { m.evictions.Inc() }
func (m *PromMetrics) Expire()   { m.expires.Inc() }
