package alerts

import (
	"sync"
	"time"

	"riskpulse/internal/model"
)

// Store is the session alert log, most recent first, capped at limit.
type Store struct {
	mu    sync.RWMutex
	buf   []model.Alert
	limit int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 20
	}
	return &Store{limit: limit}
}

// Prepend puts batch ahead of the existing log, keeping batch order, and
// drops the oldest entries beyond the limit.
func (s *Store) Prepend(batch ...model.Alert) {
	if len(batch) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make([]model.Alert, 0, min(len(batch)+len(s.buf), s.limit))
	next = append(next, batch...)
	next = append(next, s.buf...)
	if len(next) > s.limit {
		next = next[:s.limit]
	}
	s.buf = next
}

// Replace discards the log and stores batch.
func (s *Store) Replace(batch ...model.Alert) {
	s.mu.Lock()
	s.buf = nil
	s.mu.Unlock()
	s.Prepend(batch...)
}

// List returns up to limit alerts, most recent first. limit <= 0 returns all.
func (s *Store) List(limit int) []model.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.buf) {
		limit = len(s.buf)
	}
	out := make([]model.Alert, limit)
	copy(out, s.buf[:limit])
	return out
}

func (s *Store) Since(ts time.Time) []model.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Alert, 0)
	for _, a := range s.buf {
		if !a.Timestamp.Before(ts) {
			out = append(out, a)
		}
	}
	return out
}

func (s *Store) HasCritical() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.buf {
		if a.Severity == model.SeverityCritical {
			return true
		}
	}
	return false
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buf)
}

func (s *Store) Limit() int {
	return s.limit
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
}
