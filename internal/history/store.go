// Package history keeps the bounded, append-only record of completed
// review results. Eviction is strict FIFO: once a result ages past the
// cap it is gone, regardless of its score.
package history

import (
	"sync"
	"time"

	"github.com/painreview/pkg/models"
)

// Store is the process-scoped result log. Append is the only mutating
// operation; the capacity check, eviction and insert happen under one
// lock acquisition.
type Store struct {
	mu      sync.RWMutex
	max     int
	entries []*models.ReviewResult
	byID    map[string]*models.ReviewResult
}

// Filter narrows a history query. Zero fields match everything.
type Filter struct {
	RequestID string
	Tier      models.SeverityTier
	Since     time.Time
	Until     time.Time
	Page      int
	PerPage   int
}

// NewStore creates a store holding at most max results.
func NewStore(max int) *Store {
	if max <= 0 {
		max = 1000
	}
	return &Store{
		max:  max,
		byID: make(map[string]*models.ReviewResult),
	}
}

// Append records a completed result, evicting the oldest entry first
// when the store is at capacity.
func (s *Store) Append(res *models.ReviewResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.entries) >= s.max {
		evicted := s.entries[0]
		s.entries = s.entries[1:]
		if s.byID[evicted.RequestID] == evicted {
			delete(s.byID, evicted.RequestID)
		}
	}
	s.entries = append(s.entries, res)
	s.byID[res.RequestID] = res
}

// Get returns the stored result for a request id.
func (s *Store) Get(requestID string) (*models.ReviewResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, ok := s.byID[requestID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return res, nil
}

// Len returns the number of stored results.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Query returns the matching results, newest first, bounded to one
// page. Page numbering starts at 1.
func (s *Store) Query(f Filter) []*models.ReviewResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*models.ReviewResult, 0)
	for i := len(s.entries) - 1; i >= 0; i-- {
		res := s.entries[i]
		if f.RequestID != "" && res.RequestID != f.RequestID {
			continue
		}
		if f.Tier != "" && res.Tier != f.Tier {
			continue
		}
		if !f.Since.IsZero() && res.CreatedAt.Before(f.Since) {
			continue
		}
		if !f.Until.IsZero() && res.CreatedAt.After(f.Until) {
			continue
		}
		matched = append(matched, res)
	}

	perPage := f.PerPage
	if perPage <= 0 {
		perPage = 50
	}
	page := f.Page
	if page <= 0 {
		page = 1
	}
	start := (page - 1) * perPage
	if start >= len(matched) {
		return []*models.ReviewResult{}
	}
	end := start + perPage
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end]
}
