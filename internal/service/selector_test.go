package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duel-matchmaker/internal/config"
	"github.com/duel-matchmaker/internal/domain"
)

func TestDebounce(t *testing.T) {
	e := &Engine{config: &config.MatchmakingConfig{
		WaitScale: 100 * time.Second,
		MaxWait:   60 * time.Second,
		MinWait:   5 * time.Second,
	}}

	tests := []struct {
		name  string
		score float64
		want  time.Duration
	}{
		{"perfect pair commits at once", 1.0, 0},
		{"under the minimum commits at once", 0.96, 0},
		{"proportional wait", 0.58, 42 * time.Second},
		{"capped wait", 0.1, 60 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, float64(tt.want), float64(e.debounce(tt.score)), float64(time.Millisecond))
		})
	}
}

func TestToggleReady_FreshPairCommitsImmediately(t *testing.T) {
	h := startEngine(t, testConfig(), domain.Snapshot{})
	h.register(t, p1, p2, p3, p4)
	a := h.team(t, "p1", "p2")
	b := h.team(t, "p3", "p4")

	assert.Equal(t, domain.ReadinessSearching, h.ready(t, a))
	assert.Equal(t, domain.ReadinessInMatch, h.ready(t, b))

	matches := h.matches(t)
	require.Len(t, matches, 1)
	assert.ElementsMatch(t, []domain.TeamKey{a, b}, matches[0].Teams[:])
	assert.Equal(t, domain.ModeNM, matches[0].Mode)
	assert.Equal(t, "NM 30s", matches[0].Gamemode)

	queues, err := h.engine.Queues(context.Background())
	require.NoError(t, err)
	for mode, keys := range queues {
		assert.Empty(t, keys, "queue %s", mode)
	}

	players, err := h.engine.InMatchPlayers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2", "p3", "p4"}, players)

	require.Eventually(t, func() bool {
		return h.transport.indicator(a) == domain.ReadinessInMatch &&
			h.transport.indicator(b) == domain.ReadinessInMatch &&
			len(h.transport.noticesFor(string(a))) >= 2 &&
			len(h.transport.noticesFor(string(b))) >= 2
	}, time.Second, 5*time.Millisecond)
	notices := h.transport.noticesFor(string(a))
	assert.Contains(t, notices[len(notices)-1], "Playerp3 (us)")
	assert.Contains(t, notices[len(notices)-1], "NM 30s")
}

func TestToggleReady_QueuesEveryCommonMode(t *testing.T) {
	h := startEngine(t, testConfig(), domain.Snapshot{})
	h.register(t,
		newPlayer("p1", "fr", true, domain.ModeNM, domain.ModeNMPZ),
		newPlayer("p2", "de", false, domain.ModeNMPZ, domain.ModeNM),
	)
	a := h.team(t, "p1", "p2")

	h.ready(t, a)

	queues, err := h.engine.Queues(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []domain.TeamKey{a}, queues[domain.ModeNM])
	assert.Equal(t, []domain.TeamKey{a}, queues[domain.ModeNMPZ])

	// Toggling again leaves every queue
	assert.Equal(t, domain.ReadinessIdle, h.ready(t, a))
	queues, err = h.engine.Queues(context.Background())
	require.NoError(t, err)
	assert.Empty(t, queues[domain.ModeNM])
	assert.Empty(t, queues[domain.ModeNMPZ])
}

func TestToggleReady_Rejections(t *testing.T) {
	h := startEngine(t, testConfig(), domain.Snapshot{})
	h.register(t, p1, p2, p3, p4,
		newPlayer("x1", "fr", true, domain.ModeNM),
		newPlayer("x2", "de", false, domain.ModeNMPZ),
	)
	a := h.team(t, "p1", "p2")
	b := h.team(t, "p3", "p4")
	mixed := h.team(t, "x1", "x2")
	ctx := context.Background()

	_, err := h.engine.ToggleReady(ctx, "nobody_here")
	assert.ErrorIs(t, err, domain.ErrTeamNotFound)

	state, err := h.engine.ToggleReady(ctx, mixed)
	assert.ErrorIs(t, err, domain.ErrNoEligibleMode)
	assert.Equal(t, domain.ReadinessIdle, state)
	require.Eventually(t, func() bool {
		notices := h.transport.noticesFor(string(mixed))
		return len(notices) == 2 && h.transport.indicator(mixed) == domain.ReadinessIdle
	}, time.Second, 5*time.Millisecond)

	h.ready(t, a)
	h.ready(t, b)
	_, err = h.engine.ToggleReady(ctx, a)
	assert.ErrorIs(t, err, domain.ErrTeamInMatch)

	require.NoError(t, h.engine.SetEnabled(ctx, false))
	_, err = h.engine.ToggleReady(ctx, mixed)
	assert.ErrorIs(t, err, domain.ErrMatchmakingClosed)
}

func TestToggleReady_WaitsBeforeCommittingRematch(t *testing.T) {
	roster := seedRoster(t, [2]domain.Player{p1, p2}, [2]domain.Player{p3, p4})
	a, b := domain.NewTeamKey("p1", "p2"), domain.NewTeamKey("p3", "p4")
	roster.Teams[a].RecordResult(domain.OutcomeWin, b, "old-duel", "NM 30s")
	roster.Teams[b].RecordResult(domain.OutcomeLoss, a, "old-duel", "NM 30s")

	h := startEngine(t, testConfig(), domain.Snapshot{Roster: roster})

	h.ready(t, a)
	assert.Equal(t, domain.ReadinessSearching, h.ready(t, b))

	status, err := h.engine.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Scanning)
	assert.Zero(t, status.ActiveMatches)

	require.Eventually(t, func() bool {
		return len(h.matches(t)) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestToggleReady_DropsRematchThatStopsQualifyingDuringWait(t *testing.T) {
	roster := seedRoster(t, [2]domain.Player{p1, p2}, [2]domain.Player{p3, p4})
	a, b := domain.NewTeamKey("p1", "p2"), domain.NewTeamKey("p3", "p4")
	roster.Teams[a].RecordResult(domain.OutcomeWin, b, "old-duel", "NM 30s")
	roster.Teams[b].RecordResult(domain.OutcomeLoss, a, "old-duel", "NM 30s")

	h := startEngine(t, testConfig(), domain.Snapshot{Roster: roster})
	ctx := context.Background()

	h.ready(t, a)
	h.ready(t, b)
	assert.Empty(t, h.matches(t), "a rematch waits for better candidates")

	// p1 is the only pro of the four
	changed, err := h.engine.UpdatePlayerProfile(ctx, "p1", "fr", false)
	require.NoError(t, err)
	require.True(t, changed)

	assert.Never(t, func() bool {
		return len(h.matches(t)) > 0
	}, 600*time.Millisecond, 20*time.Millisecond)

	status, err := h.engine.Status(ctx)
	require.NoError(t, err)
	assert.False(t, status.Scanning)
	assert.Equal(t, domain.ReadinessSearching, h.teamState(t, a).Readiness)
	assert.Equal(t, domain.ReadinessSearching, h.teamState(t, b).Readiness)
}

func TestToggleReady_DiscardsPendingScan(t *testing.T) {
	roster := seedRoster(t,
		[2]domain.Player{p1, p2},
		[2]domain.Player{p3, p4},
		[2]domain.Player{p5, p6},
	)
	a, b, c := domain.NewTeamKey("p1", "p2"), domain.NewTeamKey("p3", "p4"), domain.NewTeamKey("p5", "p6")
	roster.Teams[a].RecordResult(domain.OutcomeWin, b, "old-duel", "NM 30s")
	roster.Teams[b].RecordResult(domain.OutcomeLoss, a, "old-duel", "NM 30s")

	h := startEngine(t, testConfig(), domain.Snapshot{Roster: roster})

	h.ready(t, a)
	h.ready(t, b)
	assert.Empty(t, h.matches(t), "a rematch waits for better candidates")

	// A fresh opponent arriving during the wait restarts the scan and is paired at once
	assert.Equal(t, domain.ReadinessInMatch, h.ready(t, c))
	matches := h.matches(t)
	require.Len(t, matches, 1)
	assert.ElementsMatch(t, []domain.TeamKey{a, c}, matches[0].Teams[:])

	assert.Never(t, func() bool {
		return len(h.matches(t)) > 1
	}, 500*time.Millisecond, 20*time.Millisecond)
	assert.Equal(t, domain.ReadinessSearching, h.teamState(t, b).Readiness)
}

func TestToggleReady_SkipsPlayerAlreadyInMatch(t *testing.T) {
	h := startEngine(t, testConfig(), domain.Snapshot{})
	h.register(t, p1, p2, p3, p4, p5, p6, newPlayer("p7", "es", false))
	a := h.team(t, "p1", "p2")
	b := h.team(t, "p3", "p4")
	// p1 also plays in a second team
	d := h.team(t, "p1", "p7")
	c := h.team(t, "p5", "p6")

	h.ready(t, a)
	h.ready(t, b)
	require.Len(t, h.matches(t), 1)

	h.ready(t, d)
	assert.Equal(t, domain.ReadinessSearching, h.ready(t, c))

	assert.Len(t, h.matches(t), 1)
	queues, err := h.engine.Queues(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []domain.TeamKey{d, c}, queues[domain.ModeNM])

	status, err := h.engine.Status(context.Background())
	require.NoError(t, err)
	assert.False(t, status.Scanning, "skipped candidates drain the scan")
}

func TestToggleReady_NoDoubleBooking(t *testing.T) {
	h := startEngine(t, testConfig(), domain.Snapshot{})
	flags := []string{"fr", "de", "us", "br", "jp", "it", "es", "nl"}
	for i, flag := range flags {
		h.register(t, newPlayer(string(rune('a'+i)), flag, i%2 == 0))
	}
	pairs := [][2]string{
		{"a", "b"}, {"c", "d"}, {"e", "f"}, {"g", "h"},
		{"a", "c"}, {"b", "d"}, {"e", "g"}, {"f", "h"},
		{"a", "h"}, {"b", "g"},
	}
	var keys []domain.TeamKey
	for _, p := range pairs {
		keys = append(keys, h.team(t, p[0], p[1]))
	}

	var wg sync.WaitGroup
	for _, key := range keys {
		wg.Add(1)
		go func(key domain.TeamKey) {
			defer wg.Done()
			_, _ = h.engine.ToggleReady(context.Background(), key)
		}(key)
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		status, err := h.engine.Status(context.Background())
		return err == nil && !status.Scanning
	}, 2*time.Second, 10*time.Millisecond)

	seen := make(map[string]string)
	for _, m := range h.matches(t) {
		for _, id := range m.PlayerIDs {
			other, dup := seen[id]
			assert.False(t, dup, "player %s in matches %s and %s", id, other, m.ID)
			seen[id] = m.ID
		}
	}
	assert.NotEmpty(t, seen)
}

func TestSetEnabled_ClosingEmptiesQueues(t *testing.T) {
	h := startEngine(t, testConfig(), domain.Snapshot{})
	h.register(t, p1, p2)
	a := h.team(t, "p1", "p2")
	h.ready(t, a)
	ctx := context.Background()

	require.NoError(t, h.engine.SetEnabled(ctx, false))

	queues, err := h.engine.Queues(ctx)
	require.NoError(t, err)
	assert.Empty(t, queues[domain.ModeNM])
	assert.Equal(t, domain.ReadinessIdle, h.teamState(t, a).Readiness)

	status, err := h.engine.Status(ctx)
	require.NoError(t, err)
	assert.False(t, status.Enabled)

	require.NoError(t, h.engine.SetEnabled(ctx, true))
	assert.Equal(t, domain.ReadinessSearching, h.ready(t, a))
}
