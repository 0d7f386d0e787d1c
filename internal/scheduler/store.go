package scheduler

import (
	"sync"
)

// Store keeps the most recent results in memory for the HTTP surface: the
// latest result per symbol plus a bounded history ring.
type Store struct {
	mu      sync.RWMutex
	latest  map[string]*Result
	history []*Result
	next    int
	filled  bool
}

// NewStore creates a store holding up to capacity historical results.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = 256
	}
	return &Store{
		latest:  make(map[string]*Result),
		history: make([]*Result, capacity),
	}
}

// Publish implements Sink.
func (s *Store) Publish(r *Result) {
	if r == nil || r.Decision == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.latest[r.Decision.Symbol] = r
	s.history[s.next] = r
	s.next++
	if s.next == len(s.history) {
		s.next = 0
		s.filled = true
	}
}

// Latest returns the most recent result per symbol.
func (s *Store) Latest() map[string]*Result {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]*Result, len(s.latest))
	for symbol, r := range s.latest {
		out[symbol] = r
	}
	return out
}

// Recent returns up to n results, newest first.
func (s *Store) Recent(n int) []*Result {
	s.mu.RLock()
	defer s.mu.RUnlock()

	size := s.next
	if s.filled {
		size = len(s.history)
	}
	if n <= 0 || n > size {
		n = size
	}

	out := make([]*Result, 0, n)
	idx := s.next
	for len(out) < n {
		idx--
		if idx < 0 {
			idx = len(s.history) - 1
		}
		out = append(out, s.history[idx])
	}
	return out
}
