// Package scoring rates how fair and varied a duel between two teams would be.
package scoring

import (
	"math"

	"github.com/duel-matchmaker/internal/domain"
)

const (
	freshOpponentBonus = 0.5
	rematchStep        = 0.1
	minBalanceHistory  = 5
	balanceWeight      = 0.2
	repeatModePenalty  = 0.01
)

// Score returns the fairness score of a duel between a and b in the given gamemode.
// Zero means the pair is not a valid match. Results can be negative and are
// symmetric in a and b.
func Score(a, b *domain.Team, gamemode string) float64 {
	if !Eligible(a, b) {
		return 0
	}

	score := novelty(a, b.Key) + novelty(b, a.Key)

	if len(a.Outcomes) >= minBalanceHistory && len(b.Outcomes) >= minBalanceHistory {
		score -= balanceWeight * math.Abs(a.WinRatio()-b.WinRatio())
	}
	if a.LastGamemode == gamemode {
		score -= repeatModePenalty
	}
	if b.LastGamemode == gamemode {
		score -= repeatModePenalty
	}
	return score
}

// Eligible checks the hard requirements of a pairing: at least one pro,
// more than one country and four distinct players.
func Eligible(a, b *domain.Team) bool {
	players := [4]domain.Player{a.Member1, a.Member2, b.Member1, b.Member2}

	pro := false
	flags := make(map[string]struct{}, 4)
	ids := make(map[string]struct{}, 4)
	for _, p := range players {
		pro = pro || p.IsPro
		flags[p.Flag] = struct{}{}
		ids[p.DiscordID] = struct{}{}
	}
	return pro && len(flags) > 1 && len(ids) == 4
}

// novelty rewards opponents the team has not met recently. The most recent
// opponent is worth rematchStep, older ones grow towards freshOpponentBonus.
func novelty(team *domain.Team, opponent domain.TeamKey) float64 {
	history := team.PreviousOpponents
	for k := 0; k < len(history); k++ {
		if history[len(history)-1-k] == opponent {
			return math.Min(rematchStep*float64(k+1), freshOpponentBonus)
		}
	}
	return freshOpponentBonus
}
