package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/duel-matchmaker/internal/domain"
	"github.com/duel-matchmaker/internal/scoring"
)

// candidate is a possible match between two queued teams in one mode
type candidate struct {
	teams    [2]domain.TeamKey
	mode     domain.Mode
	gamemode string
	score    float64
}

type pairKey struct {
	mode domain.Mode
	a, b domain.TeamKey
}

func (c candidate) key() pairKey {
	a, b := c.teams[0], c.teams[1]
	if b < a {
		a, b = b, a
	}
	return pairKey{mode: c.mode, a: a, b: b}
}

// scan is one pass of the selection loop. It ends when no candidate is left
// or when a ready toggle discards it.
type scan struct {
	skipped map[pairKey]struct{}
	waiting *candidate
}

// ToggleReady flips a team between idle and searching and returns the
// resulting readiness. Starting to search queues the team for every mode both
// members signed up for and restarts the selection loop, which may put the
// team in a match straight away.
func (e *Engine) ToggleReady(ctx context.Context, key domain.TeamKey) (domain.Readiness, error) {
	return call(ctx, e, func() (domain.Readiness, error) {
		team, ok := e.roster.Teams[key]
		if !ok {
			return "", domain.ErrTeamNotFound
		}
		if !e.enabled {
			return team.Readiness, domain.ErrMatchmakingClosed
		}

		switch team.Readiness {
		case domain.ReadinessInMatch:
			return team.Readiness, domain.ErrTeamInMatch

		case domain.ReadinessSearching:
			e.queues.DequeueAll(key)
			e.setReadiness(team, domain.ReadinessIdle)
			e.persist()
			e.logger.Info("team stopped searching", "team", key)
			return domain.ReadinessIdle, nil
		}

		modes := team.EligibleModes()
		if len(modes) == 0 {
			e.setReadiness(team, domain.ReadinessIdle)
			e.notify(team.Channel, "Both players must sign up for the same duel mode before searching for a match.")
			e.logger.Info("team has no common mode", "team", key)
			return domain.ReadinessIdle, domain.ErrNoEligibleMode
		}

		for _, mode := range modes {
			e.queues.Enqueue(key, mode)
		}
		e.setReadiness(team, domain.ReadinessSearching)
		e.persist()
		e.logger.Info("team queued", "team", key, "modes", modes)

		e.startScan("team ready")
		return team.Readiness, nil
	})
}

// startScan discards any pending scan and begins a new one
func (e *Engine) startScan(reason string) {
	if e.scan != nil {
		e.logger.Info("discarding pending scan", "reason", reason)
	}
	e.disarm()
	e.scan = &scan{skipped: make(map[pairKey]struct{})}
	e.advance()
}

// abandonScan stops the pending scan without starting another
func (e *Engine) abandonScan() {
	e.disarm()
	e.scan = nil
}

func (e *Engine) disarm() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.timerC = nil
	if e.scan != nil {
		e.scan.waiting = nil
	}
}

// advance decides candidates in rank order until one needs to wait or none is left
func (e *Engine) advance() {
	for e.scan != nil {
		ranked := e.rank()
		if len(ranked) == 0 {
			e.logger.Info("no more match candidates")
			e.scan = nil
			return
		}

		best := ranked[0]
		wait := e.debounce(best.score)
		e.logger.Info("best match candidate",
			"teams", best.teams,
			"mode", best.mode,
			"score", best.score,
			"wait", wait,
			"candidates", len(ranked),
		)
		if wait > 0 {
			e.scan.waiting = &best
			e.timer = time.NewTimer(wait)
			e.timerC = e.timer.C
			return
		}
		e.decide(best)
	}
}

func (e *Engine) onWaitExpired() {
	e.timer = nil
	if e.scan == nil || e.scan.waiting == nil {
		return
	}
	waited := *e.scan.waiting
	e.scan.waiting = nil

	// The roster may have changed during the wait. Only the current head of
	// a fresh ranking is committed.
	ranked := e.rank()
	if len(ranked) == 0 || ranked[0].key() != waited.key() {
		e.logger.Info("best candidate changed during wait", "teams", waited.teams, "mode", waited.mode)
		e.advance()
		return
	}
	e.decide(ranked[0])
	e.advance()
}

// rank scores every unordered pair queued in the same mode and returns the
// positive ones, best first. Pairs skipped earlier in the scan are left out.
func (e *Engine) rank() []candidate {
	pending := e.queues.Snapshot()
	var ranked []candidate
	for _, mode := range domain.Modes {
		keys := pending[mode]
		gamemode := e.gamemodes[mode]
		for i := 0; i < len(keys); i++ {
			for j := i + 1; j < len(keys); j++ {
				a, b := e.roster.Teams[keys[i]], e.roster.Teams[keys[j]]
				if a == nil || b == nil {
					continue
				}
				c := candidate{
					teams:    [2]domain.TeamKey{a.Key, b.Key},
					mode:     mode,
					gamemode: gamemode,
				}
				if _, skipped := e.scan.skipped[c.key()]; skipped {
					continue
				}
				c.score = scoring.Score(a, b, gamemode)
				if c.score > 0 {
					ranked = append(ranked, c)
				}
			}
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})
	return ranked
}

// debounce returns how long to wait for a better candidate. Short waits are dropped.
func (e *Engine) debounce(score float64) time.Duration {
	wait := time.Duration((1 - score) * float64(e.config.WaitScale))
	if wait > e.config.MaxWait {
		wait = e.config.MaxWait
	}
	if wait < e.config.MinWait {
		return 0
	}
	return wait
}

// decide commits the candidate or skips it for the rest of the scan
func (e *Engine) decide(c candidate) {
	a, b := e.roster.Teams[c.teams[0]], e.roster.Teams[c.teams[1]]
	if a == nil || b == nil || !e.queues.Contains(a.Key, c.mode) || !e.queues.Contains(b.Key, c.mode) {
		e.logger.Info("skipping stale candidate", "teams", c.teams, "mode", c.mode)
		e.scan.skipped[c.key()] = struct{}{}
		return
	}

	if score := scoring.Score(a, b, c.gamemode); score <= 0 {
		e.logger.Info("skipping candidate that no longer qualifies", "teams", c.teams, "mode", c.mode, "score", score)
		e.scan.skipped[c.key()] = struct{}{}
		return
	}

	ids := a.PlayerIDs()
	other := b.PlayerIDs()
	if player, busy := e.registry.Conflict(ids[0], ids[1], other[0], other[1]); busy {
		e.logger.Info("skipping candidate with player already in a match",
			"teams", c.teams,
			"mode", c.mode,
			"player", player,
		)
		e.scan.skipped[c.key()] = struct{}{}
		return
	}

	e.commit(a, b, c)
}

func (e *Engine) commit(a, b *domain.Team, c candidate) {
	match := e.registry.Create(a, b, c.mode, c.gamemode, e.now())
	e.queues.DequeueAll(a.Key)
	e.queues.DequeueAll(b.Key)

	for _, pair := range [][2]*domain.Team{{a, b}, {b, a}} {
		team, opponent := pair[0], pair[1]
		e.setReadiness(team, domain.ReadinessInMatch)
		e.notify(team.Channel, matchFoundText(opponent, c.gamemode))
	}
	e.persist()

	e.logger.Info("match created",
		"match_id", match.ID,
		"teams", match.Teams,
		"mode", match.Mode,
		"gamemode", match.Gamemode,
		"score", c.score,
	)
}

func matchFoundText(opponent *domain.Team, gamemode string) string {
	return fmt.Sprintf("Match found! Your opponents are %s %s and %s %s. Gamemode: %s.",
		opponent.Member1.Surname, flagLabel(opponent.Member1.Flag),
		opponent.Member2.Surname, flagLabel(opponent.Member2.Flag),
		gamemode,
	)
}

func flagLabel(flag string) string {
	if flag == "" {
		return "(?)"
	}
	return "(" + flag + ")"
}
