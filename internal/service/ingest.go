package service

import (
	"context"
	"fmt"
	"time"

	"github.com/duel-matchmaker/internal/domain"
)

// PlayerChannel is the transport channel used for direct messages to a player
func PlayerChannel(playerID string) string {
	return "player:" + playerID
}

// ReportDuel ingests a finished duel announced by one of its players. The
// players of the reporter's match are released before the result is fetched.
// The same duel reported twice is applied to the team histories once.
func (e *Engine) ReportDuel(ctx context.Context, report domain.DuelReport) (domain.DuelOutcome, error) {
	duelID, err := domain.ExtractDuelID(report.Content)
	if err != nil {
		return domain.DuelOutcome{}, err
	}

	return await(ctx, e, func(reply func(domain.DuelOutcome, error)) {
		match, ok := e.registry.FindByPlayer(report.ReporterID)
		if !ok {
			e.logger.Info("duel reported outside of a match",
				"reporter", report.ReporterID,
				"duel_id", duelID,
			)
			reply(domain.DuelOutcome{}, fmt.Errorf("%w: %s", domain.ErrNoActiveMatch, report.ReporterID))
			return
		}

		e.registry.Release(match.PlayerIDs[:]...)
		e.logger.Info("duel reported",
			"match_id", match.ID,
			"duel_id", duelID,
			"reporter", report.ReporterID,
		)

		// The players are already released, so the lookup outlives a caller that gives up
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.fetchTimeout())
		go func() {
			defer cancel()
			detail, fetchErr := e.duels.FetchDuel(fetchCtx, duelID)
			posted := e.post(func() {
				reply(e.applyDuel(match, duelID, detail, fetchErr))
			})
			if !posted {
				reply(domain.DuelOutcome{}, domain.ErrEngineStopped)
			}
		}()
	})
}

func (e *Engine) fetchTimeout() time.Duration {
	if e.config.FetchTimeout > 0 {
		return e.config.FetchTimeout
	}
	return defaultFetchTimeout
}

// applyDuel runs on the event loop once the duel detail is known
func (e *Engine) applyDuel(match domain.Match, duelID string, detail *domain.DuelDetail, fetchErr error) (domain.DuelOutcome, error) {
	outcome := domain.DuelOutcome{MatchID: match.ID, DuelID: duelID}

	if fetchErr != nil {
		e.logger.Warn("failed to fetch duel", "match_id", match.ID, "duel_id", duelID, "error", fetchErr)
		return outcome, fmt.Errorf("%w: %w", domain.ErrDuelFetch, fetchErr)
	}

	winner, loser, err := e.sides(match, detail)
	if err != nil {
		e.logger.Error("duel result does not match the active match",
			"match_id", match.ID,
			"teams", match.Teams,
			"duel_id", duelID,
			"winning_players", detail.WinningPlayers,
			"losing_players", detail.LosingPlayers,
		)
		e.closeMatch(match.ID)
		e.persist()
		return outcome, err
	}
	outcome.Winner = winner.Key
	outcome.Loser = loser.Key

	if !winner.HasDuel(duelID) {
		winner.RecordResult(domain.OutcomeWin, loser.Key, duelID, match.Gamemode)
		loser.RecordResult(domain.OutcomeLoss, winner.Key, duelID, match.Gamemode)
		outcome.Applied = true
	}

	e.closeMatch(match.ID)

	if outcome.Applied {
		for _, t := range [][2]*domain.Team{{winner, loser}, {loser, winner}} {
			text := resultText(t[1], t[0] == winner, duelID)
			for _, id := range t[0].PlayerIDs() {
				e.notify(PlayerChannel(id), text)
			}
		}
		summary := buildSummary(detail, e.roster, e.now())
		e.appendToSink("duel", func(ctx context.Context) error {
			return e.sink.AppendDuel(ctx, summary)
		})
	}
	e.persist()

	e.logger.Info("duel ingested",
		"match_id", match.ID,
		"duel_id", duelID,
		"winner", winner.Key,
		"loser", loser.Key,
		"applied", outcome.Applied,
	)
	return outcome, nil
}

// sides maps the profile ids of a duel to the two teams of the match. Every
// player of both sides must belong to the match, with each team entirely on
// one side.
func (e *Engine) sides(match domain.Match, detail *domain.DuelDetail) (winner, loser *domain.Team, err error) {
	a, b := e.roster.Teams[match.Teams[0]], e.roster.Teams[match.Teams[1]]
	if a == nil || b == nil {
		return nil, nil, fmt.Errorf("%w: match %s references an unknown team", domain.ErrDataIntegrity, match.ID)
	}

	won := make(map[string]bool, 4)
	for _, id := range detail.WinningPlayers {
		won[id] = true
	}
	for _, id := range detail.LosingPlayers {
		if _, dup := won[id]; dup {
			return nil, nil, fmt.Errorf("%w: player %s is on both sides", domain.ErrDataIntegrity, id)
		}
		won[id] = false
	}

	side := func(t *domain.Team) (bool, error) {
		w1, ok1 := won[t.Member1.ProfileID]
		w2, ok2 := won[t.Member2.ProfileID]
		if !ok1 || !ok2 || w1 != w2 {
			return false, fmt.Errorf("%w: team %s is not on a single side", domain.ErrDataIntegrity, t.Key)
		}
		return w1, nil
	}
	aWon, err := side(a)
	if err != nil {
		return nil, nil, err
	}
	bWon, err := side(b)
	if err != nil {
		return nil, nil, err
	}
	if aWon == bWon || len(won) != 4 {
		return nil, nil, fmt.Errorf("%w: duel players do not split into the two teams", domain.ErrDataIntegrity)
	}

	if aWon {
		return a, b, nil
	}
	return b, a, nil
}

// closeMatch removes the match from the active set. Only the first call for a
// match purges the team channels and resets readiness.
func (e *Engine) closeMatch(matchID string) bool {
	match, ok := e.registry.Remove(matchID)
	if !ok {
		return false
	}

	for _, key := range match.Teams {
		team, ok := e.roster.Teams[key]
		if !ok {
			continue
		}
		e.purgeAfter(team.Channel, match.StartedAt)
		e.setReadiness(team, domain.ReadinessIdle)
	}
	e.logger.Info("match closed", "match_id", match.ID, "teams", match.Teams)
	return true
}

func resultText(opponent *domain.Team, won bool, duelID string) string {
	verdict := "Defeat"
	if won {
		verdict = "Victory"
	}
	return fmt.Sprintf("%s against %s & %s has been recorded: %s",
		verdict, opponent.Member1.Surname, opponent.Member2.Surname, domain.DuelLink(duelID))
}
