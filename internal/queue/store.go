// Package queue holds the per-mode lists of teams waiting for a match.
//
// A Store is owned by the matchmaking event loop and is not safe for
// concurrent use.
package queue

import "github.com/duel-matchmaker/internal/domain"

// Store keeps one ordered list of team keys per mode. A key appears at most
// once per mode but may be queued in several modes.
type Store struct {
	pending map[domain.Mode][]domain.TeamKey
}

// NewStore creates an empty store with a list for every known mode
func NewStore() *Store {
	s := &Store{pending: make(map[domain.Mode][]domain.TeamKey, len(domain.Modes))}
	for _, m := range domain.Modes {
		s.pending[m] = nil
	}
	return s
}

// Restore rebuilds a store from a persisted document, dropping duplicates and unknown modes
func Restore(pending map[domain.Mode][]domain.TeamKey) *Store {
	s := NewStore()
	for _, m := range domain.Modes {
		for _, key := range pending[m] {
			s.Enqueue(key, m)
		}
	}
	return s
}

// Enqueue appends the team to the mode's list. It returns false when the team
// is already queued for that mode.
func (s *Store) Enqueue(key domain.TeamKey, mode domain.Mode) bool {
	list, ok := s.pending[mode]
	if !ok {
		return false
	}
	for _, k := range list {
		if k == key {
			return false
		}
	}
	s.pending[mode] = append(list, key)
	return true
}

// Dequeue removes the team from one mode
func (s *Store) Dequeue(key domain.TeamKey, mode domain.Mode) bool {
	list := s.pending[mode]
	for i, k := range list {
		if k == key {
			s.pending[mode] = append(list[:i:i], list[i+1:]...)
			return true
		}
	}
	return false
}

// DequeueAll removes the team from every mode and reports whether it was queued anywhere
func (s *Store) DequeueAll(key domain.TeamKey) bool {
	removed := false
	for mode, list := range s.pending {
		for i, k := range list {
			if k == key {
				s.pending[mode] = append(list[:i:i], list[i+1:]...)
				removed = true
				break
			}
		}
	}
	return removed
}

// Contains reports whether the team is queued for the mode
func (s *Store) Contains(key domain.TeamKey, mode domain.Mode) bool {
	for _, k := range s.pending[mode] {
		if k == key {
			return true
		}
	}
	return false
}

// Queued reports whether the team is queued for any mode
func (s *Store) Queued(key domain.TeamKey) bool {
	for _, m := range domain.Modes {
		if s.Contains(key, m) {
			return true
		}
	}
	return false
}

// Clear empties every list and returns the keys that were queued, in mode order
func (s *Store) Clear() []domain.TeamKey {
	seen := make(map[domain.TeamKey]struct{})
	var keys []domain.TeamKey
	for _, m := range domain.Modes {
		for _, k := range s.pending[m] {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				keys = append(keys, k)
			}
		}
		s.pending[m] = nil
	}
	return keys
}

// Snapshot returns a copy of every list that later mutations do not affect
func (s *Store) Snapshot() map[domain.Mode][]domain.TeamKey {
	snap := make(map[domain.Mode][]domain.TeamKey, len(s.pending))
	for mode, list := range s.pending {
		snap[mode] = append([]domain.TeamKey{}, list...)
	}
	return snap
}

// Len returns the number of entries queued for the mode
func (s *Store) Len(mode domain.Mode) int {
	return len(s.pending[mode])
}
