package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/duel-matchmaker/internal/config"
	"github.com/duel-matchmaker/internal/domain"
)

type fakeTransport struct {
	mu         sync.Mutex
	notices    map[string][]string
	purges     map[string][]time.Time
	indicators map[domain.TeamKey]domain.Readiness
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		notices:    make(map[string][]string),
		purges:     make(map[string][]time.Time),
		indicators: make(map[domain.TeamKey]domain.Readiness),
	}
}

func (f *fakeTransport) Notify(_ context.Context, channel, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notices[channel] = append(f.notices[channel], text)
	return nil
}

func (f *fakeTransport) PurgeAfter(_ context.Context, channel string, since time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.purges[channel] = append(f.purges[channel], since)
	return nil
}

func (f *fakeTransport) SetReadinessIndicator(_ context.Context, key domain.TeamKey, state domain.Readiness) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indicators[key] = state
	return nil
}

func (f *fakeTransport) noticesFor(channel string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.notices[channel]...)
}

func (f *fakeTransport) purgesFor(channel string) []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.purges[channel]...)
}

func (f *fakeTransport) indicator(key domain.TeamKey) domain.Readiness {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.indicators[key]
}

type fakeDuels struct {
	mu      sync.Mutex
	details map[string]*domain.DuelDetail
	err     error
	// release, when set, holds every lookup until it is closed
	release chan struct{}
}

func (f *fakeDuels) FetchDuel(ctx context.Context, duelID string) (*domain.DuelDetail, error) {
	f.mu.Lock()
	release := f.release
	f.mu.Unlock()
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	d, ok := f.details[duelID]
	if !ok {
		return nil, errors.New("duel not found")
	}
	return d, nil
}

func (f *fakeDuels) add(d *domain.DuelDetail) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.details[d.ID] = d
}

type fakeSink struct {
	mu      sync.Mutex
	players []domain.Player
	teams   []domain.Team
	duels   []domain.DuelSummary
}

func (f *fakeSink) AppendRegistration(_ context.Context, p domain.Player) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.players = append(f.players, p)
	return nil
}

func (f *fakeSink) AppendTeam(_ context.Context, t domain.Team) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.teams = append(f.teams, t)
	return nil
}

func (f *fakeSink) AppendDuel(_ context.Context, s domain.DuelSummary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.duels = append(f.duels, s)
	// A failing duel log must not affect ingestion
	return errors.New("spreadsheet unavailable")
}

func (f *fakeSink) duelCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.duels)
}

func (f *fakeSink) teamCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.teams)
}

type fakePersister struct {
	mu    sync.Mutex
	last  domain.Snapshot
	saves int
}

func (f *fakePersister) Save(s domain.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = s
	f.saves++
}

func (f *fakePersister) latest() (domain.Snapshot, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last, f.saves
}

type harness struct {
	engine    *Engine
	transport *fakeTransport
	duels     *fakeDuels
	sink      *fakeSink
	persister *fakePersister
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.MatchmakingConfig {
	return &config.MatchmakingConfig{
		Enabled:   true,
		WaitScale: time.Second,
		MaxWait:   300 * time.Millisecond,
		MinWait:   5 * time.Millisecond,
	}
}

func startEngine(t *testing.T, cfg *config.MatchmakingConfig, snapshot domain.Snapshot) *harness {
	t.Helper()

	h := &harness{
		transport: newFakeTransport(),
		duels:     &fakeDuels{details: make(map[string]*domain.DuelDetail)},
		sink:      &fakeSink{},
		persister: &fakePersister{},
	}
	h.engine = NewEngine(cfg, snapshot, Dependencies{
		Transport: h.transport,
		Duels:     h.duels,
		Sink:      h.sink,
		Persister: h.persister,
	}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.engine.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func newPlayer(id, flag string, pro bool, modes ...domain.Mode) domain.Player {
	if len(modes) == 0 {
		modes = []domain.Mode{domain.ModeNM}
	}
	return domain.Player{
		DiscordID: id,
		ProfileID: "profile-" + id,
		Surname:   "Player" + id,
		Flag:      flag,
		IsPro:     pro,
		Modes:     modes,
	}
}

// register adds players through the engine
func (h *harness) register(t *testing.T, players ...domain.Player) {
	t.Helper()
	for _, p := range players {
		_, err := h.engine.RegisterPlayer(context.Background(), domain.RegisterPlayerRequest{
			DiscordID: p.DiscordID,
			ProfileID: p.ProfileID,
			Surname:   p.Surname,
			Flag:      p.Flag,
			IsPro:     p.IsPro,
			Modes:     p.Modes,
		})
		require.NoError(t, err)
	}
}

func (h *harness) team(t *testing.T, a, b string) domain.TeamKey {
	t.Helper()
	team, err := h.engine.CreateTeam(context.Background(), domain.CreateTeamRequest{
		Member1ID: a,
		Member2ID: b,
	})
	require.NoError(t, err)
	return team.Key
}

func (h *harness) ready(t *testing.T, key domain.TeamKey) domain.Readiness {
	t.Helper()
	state, err := h.engine.ToggleReady(context.Background(), key)
	require.NoError(t, err)
	return state
}

func (h *harness) matches(t *testing.T) []domain.Match {
	t.Helper()
	matches, err := h.engine.ActiveMatches(context.Background())
	require.NoError(t, err)
	return matches
}

func (h *harness) teamState(t *testing.T, key domain.TeamKey) *domain.Team {
	t.Helper()
	team, err := h.engine.Team(context.Background(), key)
	require.NoError(t, err)
	return team
}

// seedRoster builds a roster holding the given teams and their players
func seedRoster(t *testing.T, pairs ...[2]domain.Player) *domain.Roster {
	t.Helper()
	roster := domain.NewRoster()
	for _, pair := range pairs {
		for _, p := range pair {
			p := p
			roster.Players[p.DiscordID] = &p
		}
		team, err := domain.NewTeam(pair[0], pair[1], "")
		require.NoError(t, err)
		roster.Teams[team.Key] = team
	}
	return roster
}

// Players with distinct flags. p1 and p5 are pros.
var (
	p1 = newPlayer("p1", "fr", true)
	p2 = newPlayer("p2", "de", false)
	p3 = newPlayer("p3", "us", false)
	p4 = newPlayer("p4", "br", false)
	p5 = newPlayer("p5", "jp", true)
	p6 = newPlayer("p6", "it", false)
)
