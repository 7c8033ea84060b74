// Package memstore keeps both documents in process memory. It backs the
// "memory" storage backend and tests.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/duel-matchmaker/internal/domain"
)

// Store holds the encoded roster and matchmaking state
type Store struct {
	mu     sync.RWMutex
	roster []byte
	state  []byte
	saves  int
}

// New creates an empty store
func New() *Store {
	return &Store{}
}

// LoadRoster returns a copy of the stored roster, or an empty one
func (s *Store) LoadRoster(ctx context.Context) (*domain.Roster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	roster := domain.NewRoster()
	if s.roster == nil {
		return roster, nil
	}
	if err := json.Unmarshal(s.roster, roster); err != nil {
		return nil, fmt.Errorf("decoding roster: %w", err)
	}
	return roster, nil
}

// SaveRoster replaces the stored roster
func (s *Store) SaveRoster(ctx context.Context, roster *domain.Roster) error {
	data, err := json.Marshal(roster)
	if err != nil {
		return fmt.Errorf("encoding roster: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.roster = data
	s.saves++
	return nil
}

// LoadState returns a copy of the stored state, or an empty one
func (s *Store) LoadState(ctx context.Context) (*domain.MatchmakingState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state := domain.NewMatchmakingState()
	if s.state == nil {
		return state, nil
	}
	if err := json.Unmarshal(s.state, state); err != nil {
		return nil, fmt.Errorf("decoding state: %w", err)
	}
	return state, nil
}

// SaveState replaces the stored state
func (s *Store) SaveState(ctx context.Context, state *domain.MatchmakingState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = data
	s.saves++
	return nil
}

// Saves returns how many documents were written
func (s *Store) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}
