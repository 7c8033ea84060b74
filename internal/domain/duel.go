package domain

import (
	"fmt"
	"regexp"
	"time"
)

var duelIDPattern = regexp.MustCompile(`[a-f0-9]{8}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{12}`)

// ExtractDuelID returns the first duel id found in a summary link or message.
// Duel ids are lowercase; uppercase ids are not recognised.
func ExtractDuelID(content string) (string, error) {
	id := duelIDPattern.FindString(content)
	if id == "" {
		return "", ErrInvalidDuelLink
	}
	return id, nil
}

// MovementOptions are the movement restrictions of a duel
type MovementOptions struct {
	ForbidMoving   bool `json:"forbidMoving"`
	ForbidRotating bool `json:"forbidRotating"`
	ForbidZooming  bool `json:"forbidZooming"`
}

// Gamemode names the ruleset played, as shown in duel logs
func (o MovementOptions) Gamemode() string {
	switch {
	case o.ForbidMoving && !o.ForbidRotating && !o.ForbidZooming:
		return "No Move"
	case o.ForbidMoving && o.ForbidRotating && o.ForbidZooming:
		return "NMPZ"
	}
	return "Unknown"
}

// MapInfo describes the map a duel was played on
type MapInfo struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// DuelDetail is the authoritative outcome of a duel fetched from the game service.
// Player ids are external profile ids.
type DuelDetail struct {
	ID             string          `json:"id"`
	WinningPlayers []string        `json:"winning_players"`
	LosingPlayers  []string        `json:"losing_players"`
	Movement       MovementOptions `json:"movement"`
	Map            MapInfo         `json:"map"`
	InitialHealth  int             `json:"initial_health"`
	Rounds         int             `json:"rounds"`
}

// DuelReport is an external event announcing a finished duel
type DuelReport struct {
	ReporterID string `json:"reporter_id"`
	Content    string `json:"content"`
}

// DuelOutcome is what the ingestion of a report did
type DuelOutcome struct {
	MatchID string  `json:"match_id"`
	DuelID  string  `json:"duel_id"`
	Winner  TeamKey `json:"winner"`
	Loser   TeamKey `json:"loser"`
	Applied bool    `json:"applied"`
}

// DuelSummary is the row appended to the external duel log
type DuelSummary struct {
	Timestamp       time.Time `json:"timestamp"`
	Link            string    `json:"link"`
	MapName         string    `json:"map_name"`
	MapLink         string    `json:"map_link"`
	Gamemode        string    `json:"gamemode"`
	InitialHealth   int       `json:"initial_health"`
	Rounds          int       `json:"rounds"`
	NumberOfPlayers int       `json:"number_of_players"`
	AllCountries    []string  `json:"all_countries"`
	WinnerCount     int       `json:"winner_count"`
	WinnerNames     []string  `json:"winner_names"`
	WinnerCountries []string  `json:"winner_countries"`
	LoserCount      int       `json:"loser_count"`
	LoserNames      []string  `json:"loser_names"`
	LoserCountries  []string  `json:"loser_countries"`
}

// DuelLink returns the public summary page of a duel
func DuelLink(duelID string) string {
	return fmt.Sprintf("https://www.geoguessr.com/duels/%s/summary", duelID)
}

// MapLink returns the public page of a map
func MapLink(slug string) string {
	return fmt.Sprintf("https://www.geoguessr.com/maps/%s", slug)
}
