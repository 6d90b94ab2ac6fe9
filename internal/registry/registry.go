// Package registry tracks the sessions currently running in the receiver.
package registry

import (
	"sort"
	"sync"

	"github.com/sheerbytes/fragd/internal/transfer"
)

// Source provides a live progress snapshot. *transfer.Session satisfies it.
type Source interface {
	Progress() transfer.Progress
}

// Store is a thread-safe in-memory set of running sessions.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]Source
	onChange func(active int)
}

// NewStore creates an empty store. onChange, if non-nil, is called with the
// new count after every add and remove.
func NewStore(onChange func(active int)) *Store {
	return &Store{
		sessions: make(map[string]Source),
		onChange: onChange,
	}
}

// Add registers a session and returns a function that removes it. The
// remove function is safe to call more than once.
func (s *Store) Add(id string, src Source) (remove func()) {
	s.mu.Lock()
	s.sessions[id] = src
	n := len(s.sessions)
	s.mu.Unlock()
	s.changed(n)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.sessions, id)
			n := len(s.sessions)
			s.mu.Unlock()
			s.changed(n)
		})
	}
}

// Get returns the progress of one session.
func (s *Store) Get(id string) (transfer.Progress, bool) {
	s.mu.RLock()
	src, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return transfer.Progress{}, false
	}
	return src.Progress(), true
}

// List returns a snapshot of every running session, oldest first.
func (s *Store) List() []transfer.Progress {
	s.mu.RLock()
	sources := make([]Source, 0, len(s.sessions))
	for _, src := range s.sessions {
		sources = append(sources, src)
	}
	s.mu.RUnlock()

	out := make([]transfer.Progress, 0, len(sources))
	for _, src := range sources {
		out = append(out, src.Progress())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Totals sums progress across running sessions.
type Totals struct {
	Sessions int     `json:"sessions"`
	Accepted int64   `json:"accepted"`
	Bytes    int64   `json:"bytes"`
	RateBps  float64 `json:"rate_bps"`
}

// Totals aggregates the current snapshot.
func (s *Store) Totals() Totals {
	var t Totals
	for _, p := range s.List() {
		t.Sessions++
		t.Accepted += p.Accepted
		t.Bytes += p.Bytes
		t.RateBps += p.RateBps
	}
	return t
}

// Count returns the number of running sessions.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Store) changed(n int) {
	if s.onChange != nil {
		s.onChange(n)
	}
}
