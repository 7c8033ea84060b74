package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/duel-matchmaker/internal/domain"
)

// RegisterPlayer adds a player to the roster
func (e *Engine) RegisterPlayer(ctx context.Context, req domain.RegisterPlayerRequest) (*domain.Player, error) {
	req.DiscordID = strings.TrimSpace(req.DiscordID)
	req.ProfileID = strings.TrimSpace(req.ProfileID)
	if req.DiscordID == "" || req.ProfileID == "" || strings.Contains(req.DiscordID, "_") {
		return nil, fmt.Errorf("%w: discord_id and profile_id are required", domain.ErrInvalidRequest)
	}
	for _, m := range req.Modes {
		if _, err := domain.ParseMode(string(m)); err != nil {
			return nil, err
		}
	}

	return call(ctx, e, func() (*domain.Player, error) {
		if _, exists := e.roster.Players[req.DiscordID]; exists {
			return nil, domain.ErrPlayerExists
		}
		player := req.ToPlayer()
		player.CreatedAt = e.now()
		e.roster.Players[player.DiscordID] = &player
		e.persist()

		e.appendToSink("registration", func(ctx context.Context) error {
			return e.sink.AppendRegistration(ctx, player)
		})
		e.logger.Info("player registered", "player", player.DiscordID, "profile", player.ProfileID)

		result := player
		return &result, nil
	})
}

// Player returns a copy of a registered player
func (e *Engine) Player(ctx context.Context, playerID string) (*domain.Player, error) {
	return call(ctx, e, func() (*domain.Player, error) {
		p, ok := e.roster.Players[playerID]
		if !ok {
			return nil, domain.ErrPlayerNotFound
		}
		return clonePlayer(p), nil
	})
}

// Players returns every registered player ordered by id
func (e *Engine) Players(ctx context.Context) ([]domain.Player, error) {
	return call(ctx, e, func() ([]domain.Player, error) {
		players := make([]domain.Player, 0, len(e.roster.Players))
		for _, p := range e.roster.Players {
			players = append(players, *clonePlayer(p))
		}
		sort.Slice(players, func(i, j int) bool {
			return players[i].DiscordID < players[j].DiscordID
		})
		return players, nil
	})
}

// TogglePlayerMode signs a player up for a mode or withdraws them from it
func (e *Engine) TogglePlayerMode(ctx context.Context, playerID string, mode domain.Mode) (*domain.Player, error) {
	if _, err := domain.ParseMode(string(mode)); err != nil {
		return nil, err
	}
	return call(ctx, e, func() (*domain.Player, error) {
		p, ok := e.roster.Players[playerID]
		if !ok {
			return nil, domain.ErrPlayerNotFound
		}
		enabled := p.ToggleMode(mode)
		e.syncMember(p)
		e.persist()
		e.logger.Info("player mode toggled", "player", playerID, "mode", mode, "enabled", enabled)
		return clonePlayer(p), nil
	})
}

// SetPlayerModes replaces the modes a player signed up for
func (e *Engine) SetPlayerModes(ctx context.Context, playerID string, modes []domain.Mode) (*domain.Player, error) {
	for _, m := range modes {
		if _, err := domain.ParseMode(string(m)); err != nil {
			return nil, err
		}
	}
	set := make([]domain.Mode, 0, len(modes))
	for _, m := range domain.Modes {
		if containsMode(modes, m) {
			set = append(set, m)
		}
	}
	return call(ctx, e, func() (*domain.Player, error) {
		p, ok := e.roster.Players[playerID]
		if !ok {
			return nil, domain.ErrPlayerNotFound
		}
		p.Modes = set
		e.syncMember(p)
		e.persist()
		e.logger.Info("player modes set", "player", playerID, "modes", set)
		return clonePlayer(p), nil
	})
}

// UpdatePlayerProfile stores a refreshed flag and pro status. It reports
// whether anything changed.
func (e *Engine) UpdatePlayerProfile(ctx context.Context, playerID, flag string, isPro bool) (bool, error) {
	return call(ctx, e, func() (bool, error) {
		p, ok := e.roster.Players[playerID]
		if !ok {
			return false, domain.ErrPlayerNotFound
		}
		if p.Flag == flag && p.IsPro == isPro {
			return false, nil
		}
		p.Flag = flag
		p.IsPro = isPro
		e.syncMember(p)
		e.persist()
		e.logger.Info("player profile updated", "player", playerID, "flag", flag, "is_pro", isPro)
		return true, nil
	})
}

// syncMember copies a player into the teams it belongs to. Searching teams
// leave the queues of modes they no longer share.
func (e *Engine) syncMember(p *domain.Player) {
	for _, team := range e.roster.Teams {
		switch p.DiscordID {
		case team.Member1.DiscordID:
			team.Member1 = *clonePlayer(p)
		case team.Member2.DiscordID:
			team.Member2 = *clonePlayer(p)
		default:
			continue
		}

		if team.Readiness != domain.ReadinessSearching {
			continue
		}
		eligible := team.EligibleModes()
		for _, mode := range domain.Modes {
			if !containsMode(eligible, mode) {
				e.queues.Dequeue(team.Key, mode)
			}
		}
		if !e.queues.Queued(team.Key) {
			e.setReadiness(team, domain.ReadinessIdle)
			e.logger.Info("team left every queue after a mode change", "team", team.Key)
		}
	}
}

// CreateTeam pairs two registered players
func (e *Engine) CreateTeam(ctx context.Context, req domain.CreateTeamRequest) (*domain.Team, error) {
	return call(ctx, e, func() (*domain.Team, error) {
		m1, ok := e.roster.Players[req.Member1ID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", domain.ErrPlayerNotFound, req.Member1ID)
		}
		m2, ok := e.roster.Players[req.Member2ID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", domain.ErrPlayerNotFound, req.Member2ID)
		}

		team, err := domain.NewTeam(*clonePlayer(m1), *clonePlayer(m2), req.Channel)
		if err != nil {
			return nil, err
		}
		if _, exists := e.roster.Teams[team.Key]; exists {
			return nil, domain.ErrTeamExists
		}
		team.CreatedAt = e.now()
		e.roster.Teams[team.Key] = team
		e.persist()

		e.notify(team.Channel, fmt.Sprintf("Welcome %s and %s! Press ready to search for a duel.",
			team.Member1.Surname, team.Member2.Surname))
		e.outbox.push("readiness", func(ctx context.Context) error {
			return e.transport.SetReadinessIndicator(ctx, team.Key, domain.ReadinessIdle)
		})
		logged := *team.Clone()
		e.appendToSink("team", func(ctx context.Context) error {
			return e.sink.AppendTeam(ctx, logged)
		})
		e.logger.Info("team created", "team", team.Key, "channel", team.Channel)

		return team.Clone(), nil
	})
}

// Team returns a copy of a team
func (e *Engine) Team(ctx context.Context, key domain.TeamKey) (*domain.Team, error) {
	return call(ctx, e, func() (*domain.Team, error) {
		team, ok := e.roster.Teams[key]
		if !ok {
			return nil, domain.ErrTeamNotFound
		}
		return team.Clone(), nil
	})
}

// Teams returns every team ordered by key
func (e *Engine) Teams(ctx context.Context) ([]domain.Team, error) {
	return call(ctx, e, func() ([]domain.Team, error) {
		teams := make([]domain.Team, 0, len(e.roster.Teams))
		for _, t := range e.roster.Teams {
			teams = append(teams, *t.Clone())
		}
		sort.Slice(teams, func(i, j int) bool {
			return teams[i].Key < teams[j].Key
		})
		return teams, nil
	})
}

// RelayMessage forwards a message written in a team's channel to its current opponent
func (e *Engine) RelayMessage(ctx context.Context, key domain.TeamKey, authorID, text string) error {
	_, err := call(ctx, e, func() (struct{}, error) {
		team, ok := e.roster.Teams[key]
		if !ok {
			return struct{}{}, domain.ErrTeamNotFound
		}
		match, ok := e.registry.FindByTeam(key)
		if !ok {
			return struct{}{}, domain.ErrNotInMatch
		}
		opponentKey, _ := match.Opponent(key)
		opponent, ok := e.roster.Teams[opponentKey]
		if !ok {
			return struct{}{}, domain.ErrTeamNotFound
		}

		author := authorID
		for _, m := range team.Members() {
			if m.DiscordID == authorID {
				author = m.Surname
			}
		}
		e.notify(opponent.Channel, fmt.Sprintf("%s: %s", author, text))
		return struct{}{}, nil
	})
	return err
}

// ResetHistories clears the history of every team and returns how many were reset
func (e *Engine) ResetHistories(ctx context.Context) (int, error) {
	return call(ctx, e, func() (int, error) {
		for _, team := range e.roster.Teams {
			team.ResetHistory()
		}
		e.persist()
		e.logger.Info("team histories reset", "teams", len(e.roster.Teams))
		return len(e.roster.Teams), nil
	})
}

// SetEnabled opens or closes matchmaking. Closing discards the pending scan,
// empties the queues and returns searching teams to idle.
func (e *Engine) SetEnabled(ctx context.Context, enabled bool) error {
	_, err := call(ctx, e, func() (struct{}, error) {
		if e.enabled == enabled {
			return struct{}{}, nil
		}
		e.enabled = enabled
		if !enabled {
			e.abandonScan()
			for _, key := range e.queues.Clear() {
				if team, ok := e.roster.Teams[key]; ok {
					e.setReadiness(team, domain.ReadinessIdle)
				}
			}
		}
		e.persist()
		e.logger.Info("matchmaking switched", "enabled", enabled)
		return struct{}{}, nil
	})
	return err
}

// CancelMatch closes an active match without recording a result
func (e *Engine) CancelMatch(ctx context.Context, matchID string) error {
	_, err := call(ctx, e, func() (struct{}, error) {
		match, ok := e.registry.Get(matchID)
		if !ok {
			return struct{}{}, domain.ErrNoActiveMatch
		}
		e.closeMatch(matchID)
		// Players already released by a report may be in a newer match
		for _, id := range match.PlayerIDs {
			if _, busy := e.registry.FindByPlayer(id); !busy {
				e.registry.Release(id)
			}
		}
		e.persist()
		e.logger.Info("match cancelled", "match_id", matchID)
		return struct{}{}, nil
	})
	return err
}

func clonePlayer(p *domain.Player) *domain.Player {
	c := *p
	c.Modes = append([]domain.Mode{}, p.Modes...)
	return &c
}

func containsMode(modes []domain.Mode, mode domain.Mode) bool {
	for _, m := range modes {
		if m == mode {
			return true
		}
	}
	return false
}
