package domain

import "time"

// Player represents a registered duel player
type Player struct {
	DiscordID string    `json:"discord_id"`
	ProfileID string    `json:"profile_id"`
	Surname   string    `json:"surname"`
	Flag      string    `json:"flag"`
	IsPro     bool      `json:"is_pro"`
	Modes     []Mode    `json:"modes"`
	CreatedAt time.Time `json:"created_at"`
}

// HasMode reports whether the player signed up for the given mode
func (p Player) HasMode(mode Mode) bool {
	for _, m := range p.Modes {
		if m == mode {
			return true
		}
	}
	return false
}

// ToggleMode adds the mode if missing and removes it otherwise.
// It returns true when the mode is enabled after the call.
func (p *Player) ToggleMode(mode Mode) bool {
	for i, m := range p.Modes {
		if m == mode {
			p.Modes = append(p.Modes[:i:i], p.Modes[i+1:]...)
			return false
		}
	}
	p.Modes = append(p.Modes, mode)
	return true
}

// RegisterPlayerRequest represents a request to register a player
type RegisterPlayerRequest struct {
	DiscordID string `json:"discord_id"`
	ProfileID string `json:"profile_id"`
	Surname   string `json:"surname"`
	Flag      string `json:"flag"`
	IsPro     bool   `json:"is_pro"`
	Modes     []Mode `json:"modes,omitempty"`
}

// ToPlayer converts the request to a Player
func (r *RegisterPlayerRequest) ToPlayer() Player {
	return Player{
		DiscordID: r.DiscordID,
		ProfileID: r.ProfileID,
		Surname:   r.Surname,
		Flag:      r.Flag,
		IsPro:     r.IsPro,
		Modes:     append([]Mode(nil), r.Modes...),
		CreatedAt: time.Now(),
	}
}
