package domain

import "time"

// Match is an active duel between two teams
type Match struct {
	ID        string     `json:"id"`
	Teams     [2]TeamKey `json:"teams"`
	Mode      Mode       `json:"mode"`
	Gamemode  string     `json:"gamemode"`
	PlayerIDs [4]string  `json:"player_ids"`
	StartedAt time.Time  `json:"started_at"`
}

// HasPlayer reports whether the player takes part in the match
func (m Match) HasPlayer(playerID string) bool {
	for _, id := range m.PlayerIDs {
		if id == playerID {
			return true
		}
	}
	return false
}

// Opponent returns the other team of the match
func (m Match) Opponent(key TeamKey) (TeamKey, bool) {
	switch key {
	case m.Teams[0]:
		return m.Teams[1], true
	case m.Teams[1]:
		return m.Teams[0], true
	}
	return "", false
}

// Roster is the document holding every registered player and team
type Roster struct {
	Players map[string]*Player `json:"players"`
	Teams   map[TeamKey]*Team  `json:"teams"`
}

// NewRoster returns an empty roster
func NewRoster() *Roster {
	return &Roster{
		Players: make(map[string]*Player),
		Teams:   make(map[TeamKey]*Team),
	}
}

// Clone returns a deep copy suitable for handing to another goroutine
func (r *Roster) Clone() *Roster {
	c := NewRoster()
	for id, p := range r.Players {
		cp := *p
		cp.Modes = append([]Mode(nil), p.Modes...)
		c.Players[id] = &cp
	}
	for key, t := range r.Teams {
		c.Teams[key] = t.Clone()
	}
	return c
}

// MatchmakingState is the document holding the pending queues and the active matches
type MatchmakingState struct {
	PendingTeams   map[Mode][]TeamKey `json:"pending_teams"`
	CurrentMatches []Match            `json:"current_matches"`
}

// NewMatchmakingState returns an empty state with one list per mode
func NewMatchmakingState() *MatchmakingState {
	s := &MatchmakingState{
		PendingTeams:   make(map[Mode][]TeamKey, len(Modes)),
		CurrentMatches: []Match{},
	}
	for _, m := range Modes {
		s.PendingTeams[m] = []TeamKey{}
	}
	return s
}

// EngineStatus contains counters describing the matchmaking engine
type EngineStatus struct {
	Enabled        bool         `json:"enabled"`
	Scanning       bool         `json:"scanning"`
	Queued         map[Mode]int `json:"queued"`
	ActiveMatches  int          `json:"active_matches"`
	InMatchPlayers int          `json:"in_match_players"`
	Players        int          `json:"players"`
	Teams          int          `json:"teams"`
}

// Snapshot bundles both documents at one point of the event loop
type Snapshot struct {
	Roster  *Roster
	State   *MatchmakingState
	Version uint64
}
