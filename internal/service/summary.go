package service

import (
	"sort"
	"time"

	"github.com/duel-matchmaker/internal/domain"
)

// buildSummary describes a duel for the external log. Profile ids without a
// registered player are listed under their id with no country.
func buildSummary(detail *domain.DuelDetail, roster *domain.Roster, now time.Time) domain.DuelSummary {
	byProfile := make(map[string]*domain.Player, len(roster.Players))
	for _, p := range roster.Players {
		if p.ProfileID != "" {
			byProfile[p.ProfileID] = p
		}
	}

	describe := func(ids []string) (names, countries []string) {
		names = make([]string, 0, len(ids))
		countries = make([]string, 0, len(ids))
		for _, id := range ids {
			p, ok := byProfile[id]
			if !ok {
				names = append(names, id)
				continue
			}
			names = append(names, p.Surname)
			if p.Flag != "" {
				countries = append(countries, p.Flag)
			}
		}
		return names, countries
	}

	winnerNames, winnerCountries := describe(detail.WinningPlayers)
	loserNames, loserCountries := describe(detail.LosingPlayers)

	return domain.DuelSummary{
		Timestamp:       now,
		Link:            domain.DuelLink(detail.ID),
		MapName:         detail.Map.Name,
		MapLink:         domain.MapLink(detail.Map.Slug),
		Gamemode:        detail.Movement.Gamemode(),
		InitialHealth:   detail.InitialHealth,
		Rounds:          detail.Rounds,
		NumberOfPlayers: len(detail.WinningPlayers) + len(detail.LosingPlayers),
		AllCountries:    distinct(append(append([]string{}, winnerCountries...), loserCountries...)),
		WinnerCount:     len(detail.WinningPlayers),
		WinnerNames:     winnerNames,
		WinnerCountries: winnerCountries,
		LoserCount:      len(detail.LosingPlayers),
		LoserNames:      loserNames,
		LoserCountries:  loserCountries,
	}
}

func distinct(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
