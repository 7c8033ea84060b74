package domain

import (
	"fmt"
	"strings"
	"time"
)

// Readiness is the state of a team's matchmaking indicator
type Readiness string

const (
	ReadinessIdle      Readiness = "idle"
	ReadinessSearching Readiness = "searching"
	ReadinessInMatch   Readiness = "in-match"
)

// Match outcomes recorded in a team's history
const (
	OutcomeWin  = "1"
	OutcomeLoss = "0"
)

// TeamKey identifies a team by the unordered pair of its members' platform ids
type TeamKey string

// NewTeamKey builds the key for two players. Both orderings give the same key.
func NewTeamKey(a, b string) TeamKey {
	if b < a {
		a, b = b, a
	}
	return TeamKey(a + "_" + b)
}

// ParseTeamKey normalizes a key written in either member order
func ParseTeamKey(s string) (TeamKey, error) {
	parts := strings.Split(s, "_")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" || parts[0] == parts[1] {
		return "", fmt.Errorf("%w: malformed team key %q", ErrInvalidTeam, s)
	}
	return NewTeamKey(parts[0], parts[1]), nil
}

// Members returns the two player ids encoded in the key
func (k TeamKey) Members() (string, string) {
	a, b, _ := strings.Cut(string(k), "_")
	return a, b
}

func (k TeamKey) String() string {
	return string(k)
}

// Team is a registered pair of players and its match history.
// Outcomes, PreviousOpponents and PreviousDuelIDs are append-only and always the same length.
type Team struct {
	Key               TeamKey   `json:"key"`
	Member1           Player    `json:"member1"`
	Member2           Player    `json:"member2"`
	Outcomes          []string  `json:"outcomes"`
	PreviousOpponents []TeamKey `json:"previous_opponents"`
	PreviousDuelIDs   []string  `json:"previous_duel_ids"`
	LastGamemode      string    `json:"last_gamemode,omitempty"`
	Channel           string    `json:"channel"`
	Readiness         Readiness `json:"readiness"`
	CreatedAt         time.Time `json:"created_at"`
}

// NewTeam creates a team with an empty history
func NewTeam(member1, member2 Player, channel string) (*Team, error) {
	if member1.DiscordID == "" || member2.DiscordID == "" || member1.DiscordID == member2.DiscordID {
		return nil, ErrInvalidTeam
	}
	key := NewTeamKey(member1.DiscordID, member2.DiscordID)
	if channel == "" {
		channel = string(key)
	}
	return &Team{
		Key:               key,
		Member1:           member1,
		Member2:           member2,
		Outcomes:          []string{},
		PreviousOpponents: []TeamKey{},
		PreviousDuelIDs:   []string{},
		Channel:           channel,
		Readiness:         ReadinessIdle,
		CreatedAt:         time.Now(),
	}, nil
}

// PlayerIDs returns the platform ids of both members
func (t *Team) PlayerIDs() [2]string {
	return [2]string{t.Member1.DiscordID, t.Member2.DiscordID}
}

// Members returns both members
func (t *Team) Members() [2]Player {
	return [2]Player{t.Member1, t.Member2}
}

// HasPlayer reports whether the player is one of the two members
func (t *Team) HasPlayer(playerID string) bool {
	return t.Member1.DiscordID == playerID || t.Member2.DiscordID == playerID
}

// EligibleModes returns the modes both members signed up for
func (t *Team) EligibleModes() []Mode {
	var modes []Mode
	for _, m := range Modes {
		if t.Member1.HasMode(m) && t.Member2.HasMode(m) {
			modes = append(modes, m)
		}
	}
	return modes
}

// HasDuel reports whether the duel was already applied to this team's history
func (t *Team) HasDuel(duelID string) bool {
	for _, id := range t.PreviousDuelIDs {
		if id == duelID {
			return true
		}
	}
	return false
}

// RecordResult appends one duel to the history
func (t *Team) RecordResult(outcome string, opponent TeamKey, duelID, gamemode string) {
	t.Outcomes = append(t.Outcomes, outcome)
	t.PreviousOpponents = append(t.PreviousOpponents, opponent)
	t.PreviousDuelIDs = append(t.PreviousDuelIDs, duelID)
	t.LastGamemode = gamemode
}

// ResetHistory clears the history at the end of a season
func (t *Team) ResetHistory() {
	t.Outcomes = []string{}
	t.PreviousOpponents = []TeamKey{}
	t.PreviousDuelIDs = []string{}
	t.LastGamemode = ""
}

// WinRatio returns wins over recorded outcomes, 0 without history
func (t *Team) WinRatio() float64 {
	if len(t.Outcomes) == 0 {
		return 0
	}
	wins := 0
	for _, o := range t.Outcomes {
		if o == OutcomeWin {
			wins++
		}
	}
	return float64(wins) / float64(len(t.Outcomes))
}

// Clone returns a deep copy
func (t *Team) Clone() *Team {
	c := *t
	c.Member1.Modes = append([]Mode(nil), t.Member1.Modes...)
	c.Member2.Modes = append([]Mode(nil), t.Member2.Modes...)
	c.Outcomes = append([]string{}, t.Outcomes...)
	c.PreviousOpponents = append([]TeamKey{}, t.PreviousOpponents...)
	c.PreviousDuelIDs = append([]string{}, t.PreviousDuelIDs...)
	return &c
}

// CreateTeamRequest represents a request to pair two registered players
type CreateTeamRequest struct {
	Member1ID string `json:"member1_id"`
	Member2ID string `json:"member2_id"`
	Channel   string `json:"channel,omitempty"`
}
