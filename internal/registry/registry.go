// Package registry tracks active matches and the players bound to them.
//
// The in-match player set is the only guard against placing a player in two
// simultaneous matches. A Registry is owned by the matchmaking event loop and
// is not safe for concurrent use.
package registry

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/duel-matchmaker/internal/domain"
)

// Registry holds the active matches and the in-match player set
type Registry struct {
	matches map[string]domain.Match
	order   []string
	inMatch map[string]struct{}
}

// New creates an empty registry
func New() *Registry {
	return &Registry{
		matches: make(map[string]domain.Match),
		inMatch: make(map[string]struct{}),
	}
}

// Restore rebuilds the registry from persisted matches. Every participant of
// a restored match is considered in-match again.
func Restore(matches []domain.Match) *Registry {
	r := New()
	sorted := append([]domain.Match(nil), matches...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].StartedAt.Before(sorted[j].StartedAt)
	})
	for _, m := range sorted {
		r.add(m)
	}
	return r
}

// Conflict returns the first of the given players that is already in a match
func (r *Registry) Conflict(playerIDs ...string) (string, bool) {
	for _, id := range playerIDs {
		if _, ok := r.inMatch[id]; ok {
			return id, true
		}
	}
	return "", false
}

// Create records a new active match between two teams and binds its four players
func (r *Registry) Create(a, b *domain.Team, mode domain.Mode, gamemode string, now time.Time) domain.Match {
	ids := a.PlayerIDs()
	other := b.PlayerIDs()
	m := domain.Match{
		ID:        uuid.New().String(),
		Teams:     [2]domain.TeamKey{a.Key, b.Key},
		Mode:      mode,
		Gamemode:  gamemode,
		PlayerIDs: [4]string{ids[0], ids[1], other[0], other[1]},
		StartedAt: now,
	}
	r.add(m)
	return m
}

func (r *Registry) add(m domain.Match) {
	if _, exists := r.matches[m.ID]; !exists {
		r.order = append(r.order, m.ID)
	}
	r.matches[m.ID] = m
	for _, id := range m.PlayerIDs {
		r.inMatch[id] = struct{}{}
	}
}

// Release frees players so they can be matched again. Unknown ids are ignored.
func (r *Registry) Release(playerIDs ...string) {
	for _, id := range playerIDs {
		delete(r.inMatch, id)
	}
}

// Remove drops a match from the active set. Only the first call for a given
// match returns true, which makes closing single-shot.
func (r *Registry) Remove(matchID string) (domain.Match, bool) {
	m, ok := r.matches[matchID]
	if !ok {
		return domain.Match{}, false
	}
	delete(r.matches, matchID)
	for i, id := range r.order {
		if id == matchID {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	return m, true
}

// Get returns an active match by id
func (r *Registry) Get(matchID string) (domain.Match, bool) {
	m, ok := r.matches[matchID]
	return m, ok
}

// FindByPlayer returns the most recently started active match containing the player
func (r *Registry) FindByPlayer(playerID string) (domain.Match, bool) {
	for i := len(r.order) - 1; i >= 0; i-- {
		m := r.matches[r.order[i]]
		if m.HasPlayer(playerID) {
			return m, true
		}
	}
	return domain.Match{}, false
}

// FindByTeam returns the most recently started active match of a team
func (r *Registry) FindByTeam(key domain.TeamKey) (domain.Match, bool) {
	for i := len(r.order) - 1; i >= 0; i-- {
		m := r.matches[r.order[i]]
		if m.Teams[0] == key || m.Teams[1] == key {
			return m, true
		}
	}
	return domain.Match{}, false
}

// Active returns the active matches in start order
func (r *Registry) Active() []domain.Match {
	out := make([]domain.Match, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.matches[id])
	}
	return out
}

// InMatchPlayers returns the bound player ids, sorted
func (r *Registry) InMatchPlayers() []string {
	ids := make([]string, 0, len(r.inMatch))
	for id := range r.inMatch {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
