// Package cache holds GET responses keyed by the exact target URL.
package cache

import (
	"sync"

	"relay-gateway-go/internal/config"
	"relay-gateway-go/internal/metrics"
	"relay-gateway-go/internal/model"
)

// Store maps a target URL to the most recent successful GET response.
// Implementations must be safe for concurrent use; the last Put for a key wins.
type Store interface {
	Get(url string) (*model.ForwardResponse, bool)
	Put(url string, resp *model.ForwardResponse)
	Len() int
}

// New returns the Store selected by cfg.
func New(cfg *config.Config, m *metrics.Metrics) Store {
	if !cfg.CacheEnabled() {
		return Disabled{}
	}
	return NewMemoryStore(m)
}

// MemoryStore is an unbounded, process-lifetime Store. Entries never expire
// and are never evicted.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*model.ForwardResponse
	metrics *metrics.Metrics
}

// NewMemoryStore creates an empty MemoryStore.
// The metrics parameter is optional; pass nil to disable cache metrics.
func NewMemoryStore(m *metrics.Metrics) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*model.ForwardResponse),
		metrics: m,
	}
}

// Get returns a copy of the entry for url. Keys are compared verbatim.
func (s *MemoryStore) Get(url string) (*model.ForwardResponse, bool) {
	s.mu.RLock()
	resp, ok := s.entries[url]
	s.mu.RUnlock()

	if s.metrics != nil {
		result := "miss"
		if ok {
			result = "hit"
		}
		s.metrics.CacheLookups.WithLabelValues(result).Inc()
	}
	if !ok {
		return nil, false
	}
	return resp.Clone(), true
}

// Put stores a copy of resp under url, replacing any previous entry.
func (s *MemoryStore) Put(url string, resp *model.ForwardResponse) {
	snapshot := resp.Clone()

	s.mu.Lock()
	s.entries[url] = snapshot
	n := len(s.entries)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.CacheEntries.Set(float64(n))
	}
}

// Len returns the number of cached URLs.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Disabled is a Store that never holds anything.
type Disabled struct{}

func (Disabled) Get(string) (*model.ForwardResponse, bool) { return nil, false }
func (Disabled) Put(string, *model.ForwardResponse) {}
func (Disabled) Len() int { return 0 }
