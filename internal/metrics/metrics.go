// Package metrics counts dispatch outcomes and serves them as JSON.
package metrics

import (
	"net/http"
	"sort"
	"sync"
	"sync/atomic"

	"aigateway/internal/utils"
)

// Counter names
const (
	Requests           = "requests"
	Attempts           = "attempts"
	Successes          = "successes"
	Failures           = "failures"
	Retries            = "retries"
	CredentialDisables = "credentialDisables"
	InsufficientCredit = "insufficientCredit"
	RateLimited        = "rateLimited"
	Streams            = "streams"
)

var counterNames = []string{
	Requests, Attempts, Successes, Failures, Retries, CredentialDisables, InsufficientCredit, RateLimited, Streams,
}

// Metrics holds process-wide counters plus named sources sampled on read.
// The zero value is not usable; a nil *Metrics ignores every call.
type Metrics struct {
	counters map[string]*atomic.Int64

	mu      sync.RWMutex
	sources map[string]func() any
}

// New creates metrics with every counter at zero.
func New() *Metrics {
	m := &Metrics{
		counters: make(map[string]*atomic.Int64, len(counterNames)),
		sources:  make(map[string]func() any),
	}
	for _, name := range counterNames {
		m.counters[name] = new(atomic.Int64)
	}
	return m
}

// Inc adds one to the named counter. Unknown names are ignored.
func (m *Metrics) Inc(name string) {
	if m == nil {
		return
	}
	if c, ok := m.counters[name]; ok {
		c.Add(1)
	}
}

// Get returns the value of a counter.
func (m *Metrics) Get(name string) int64 {
	if m == nil {
		return 0
	}
	if c, ok := m.counters[name]; ok {
		return c.Load()
	}
	return 0
}

// Register adds a source whose value is read on every snapshot,
// e.g. cache sizes or worker stats.
func (m *Metrics) Register(name string, source func() any) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[name] = source
}

// Snapshot returns the counters and the current value of every source.
func (m *Metrics) Snapshot() map[string]any {
	if m == nil {
		return map[string]any{}
	}
	counters := make(map[string]int64, len(m.counters))
	for name, c := range m.counters {
		counters[name] = c.Load()
	}
	out := map[string]any{"counters": counters}

	m.mu.RLock()
	names := make([]string, 0, len(m.sources))
	for name := range m.sources {
		names = append(names, name)
	}
	m.mu.RUnlock()
	sort.Strings(names)

	for _, name := range names {
		m.mu.RLock()
		source := m.sources[name]
		m.mu.RUnlock()
		out[name] = source()
	}
	return out
}

// HTTPHandler serves the snapshot as JSON.
func (m *Metrics) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.RespondWithJSON(w, http.StatusOK, m.Snapshot())
	})
}
