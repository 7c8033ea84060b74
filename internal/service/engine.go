package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/duel-matchmaker/internal/config"
	"github.com/duel-matchmaker/internal/domain"
	"github.com/duel-matchmaker/internal/queue"
	"github.com/duel-matchmaker/internal/registry"
)

// Dependencies are the collaborators of the engine. Sink and Persister may be nil.
type Dependencies struct {
	Transport Transport
	Duels     DuelFetcher
	Sink      Sink
	Persister Persister
}

// Engine runs matchmaking. The roster, the queues, the active matches and the
// pending scan are only touched by the goroutine executing Run; every exported
// method sends a command to that goroutine and waits for its reply.
type Engine struct {
	config    *config.MatchmakingConfig
	gamemodes map[domain.Mode]string

	roster   *domain.Roster
	queues   *queue.Store
	registry *registry.Registry
	enabled  bool
	scan     *scan
	timerC   <-chan time.Time
	timer    *time.Timer
	version  uint64

	transport Transport
	duels     DuelFetcher
	sink      Sink
	persister Persister
	outbox    *outbox
	logger    *slog.Logger
	now       func() time.Time

	commands chan func()
	done     chan struct{}
}

// NewEngine creates an engine from the persisted documents
func NewEngine(
	cfg *config.MatchmakingConfig,
	snapshot domain.Snapshot,
	deps Dependencies,
	logger *slog.Logger,
) *Engine {
	roster := snapshot.Roster
	if roster == nil {
		roster = domain.NewRoster()
	}
	state := snapshot.State
	if state == nil {
		state = domain.NewMatchmakingState()
	}

	e := &Engine{
		config:    cfg,
		gamemodes: gamemodeLabels(cfg.Gamemodes),
		roster:    roster,
		registry:  registry.Restore(state.CurrentMatches),
		enabled:   cfg.Enabled,
		version:   snapshot.Version,
		transport: deps.Transport,
		duels:     deps.Duels,
		sink:      deps.Sink,
		persister: deps.Persister,
		outbox:    newOutbox(logger),
		logger:    logger,
		now:       time.Now,
		commands:  make(chan func()),
		done:      make(chan struct{}),
	}
	if e.sink == nil {
		e.sink = discardSink{}
	}
	if e.persister == nil {
		e.persister = discardPersister{}
	}

	known := make(map[domain.Mode][]domain.TeamKey, len(domain.Modes))
	for _, mode := range domain.Modes {
		for _, key := range state.PendingTeams[mode] {
			if _, ok := roster.Teams[key]; !ok {
				logger.Warn("dropping unknown team from queue", "team", key, "mode", mode)
				continue
			}
			known[mode] = append(known[mode], key)
		}
	}
	e.queues = queue.Restore(known)

	// Readiness follows the restored queues and matches
	for key, team := range roster.Teams {
		switch {
		case e.inActiveMatch(key):
			team.Readiness = domain.ReadinessInMatch
		case e.queues.Queued(key):
			team.Readiness = domain.ReadinessSearching
		default:
			team.Readiness = domain.ReadinessIdle
		}
	}

	return e
}

func gamemodeLabels(labels map[string]string) map[domain.Mode]string {
	out := make(map[domain.Mode]string, len(domain.Modes))
	for _, mode := range domain.Modes {
		out[mode] = domain.DefaultGamemodes[mode]
		if label := labels[string(mode)]; label != "" {
			out[mode] = label
		}
	}
	return out
}

// Run executes commands until the context is cancelled
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.done)

	go e.outbox.run(ctx)

	e.logger.Info("matchmaking engine started",
		"enabled", e.enabled,
		"teams", len(e.roster.Teams),
		"active_matches", len(e.registry.Active()),
	)
	if e.enabled && e.anyQueued() {
		e.startScan("restored queues")
	}

	for {
		select {
		case <-ctx.Done():
			e.disarm()
			e.logger.Info("matchmaking engine stopped")
			return nil
		case cmd := <-e.commands:
			cmd()
		case <-e.timerC:
			e.timerC = nil
			e.onWaitExpired()
		}
	}
}

// await sends fn to the event loop. fn must call reply exactly once, either
// directly or from a later command.
func await[T any](ctx context.Context, e *Engine, fn func(reply func(T, error))) (T, error) {
	type result struct {
		value T
		err   error
	}
	results := make(chan result, 1)
	reply := func(v T, err error) {
		results <- result{value: v, err: err}
	}

	var zero T
	select {
	case e.commands <- func() { fn(reply) }:
	case <-e.done:
		return zero, domain.ErrEngineStopped
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	select {
	case r := <-results:
		return r.value, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// call runs fn on the event loop and returns its result
func call[T any](ctx context.Context, e *Engine, fn func() (T, error)) (T, error) {
	return await(ctx, e, func(reply func(T, error)) {
		reply(fn())
	})
}

// post re-enters the event loop from another goroutine
func (e *Engine) post(fn func()) bool {
	select {
	case e.commands <- fn:
		return true
	case <-e.done:
		return false
	}
}

// persist hands a copy of both documents to the persister
func (e *Engine) persist() {
	e.version++
	e.persister.Save(domain.Snapshot{
		Roster: e.roster.Clone(),
		State: &domain.MatchmakingState{
			PendingTeams:   e.queues.Snapshot(),
			CurrentMatches: e.registry.Active(),
		},
		Version: e.version,
	})
}

func (e *Engine) notify(channel, text string) {
	e.outbox.push("notify", func(ctx context.Context) error {
		return e.transport.Notify(ctx, channel, text)
	})
}

func (e *Engine) purgeAfter(channel string, since time.Time) {
	e.outbox.push("purge", func(ctx context.Context) error {
		return e.transport.PurgeAfter(ctx, channel, since)
	})
}

func (e *Engine) setReadiness(team *domain.Team, state domain.Readiness) {
	team.Readiness = state
	key := team.Key
	e.outbox.push("readiness", func(ctx context.Context) error {
		return e.transport.SetReadinessIndicator(ctx, key, state)
	})
}

// appendToSink is fire-and-forget
func (e *Engine) appendToSink(op string, fn func(ctx context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			e.logger.Warn("sink append failed", "op", op, "error", err)
		}
	}()
}

func (e *Engine) inActiveMatch(key domain.TeamKey) bool {
	_, ok := e.registry.FindByTeam(key)
	return ok
}

func (e *Engine) anyQueued() bool {
	for _, mode := range domain.Modes {
		if e.queues.Len(mode) > 0 {
			return true
		}
	}
	return false
}

// Status returns counters describing the engine
func (e *Engine) Status(ctx context.Context) (domain.EngineStatus, error) {
	return call(ctx, e, func() (domain.EngineStatus, error) {
		status := domain.EngineStatus{
			Enabled:        e.enabled,
			Scanning:       e.scan != nil,
			Queued:         make(map[domain.Mode]int, len(domain.Modes)),
			ActiveMatches:  len(e.registry.Active()),
			InMatchPlayers: len(e.registry.InMatchPlayers()),
			Players:        len(e.roster.Players),
			Teams:          len(e.roster.Teams),
		}
		for _, mode := range domain.Modes {
			status.Queued[mode] = e.queues.Len(mode)
		}
		return status, nil
	})
}

// Queues returns the pending team keys of every mode in arrival order
func (e *Engine) Queues(ctx context.Context) (map[domain.Mode][]domain.TeamKey, error) {
	return call(ctx, e, func() (map[domain.Mode][]domain.TeamKey, error) {
		return e.queues.Snapshot(), nil
	})
}

// ActiveMatches returns the active matches in start order
func (e *Engine) ActiveMatches(ctx context.Context) ([]domain.Match, error) {
	return call(ctx, e, func() ([]domain.Match, error) {
		return e.registry.Active(), nil
	})
}

// InMatchPlayers returns the ids of players bound to an active match
func (e *Engine) InMatchPlayers(ctx context.Context) ([]string, error) {
	return call(ctx, e, func() ([]string, error) {
		return e.registry.InMatchPlayers(), nil
	})
}

// Snapshot returns a copy of both documents
func (e *Engine) Snapshot(ctx context.Context) (domain.Snapshot, error) {
	return call(ctx, e, func() (domain.Snapshot, error) {
		return domain.Snapshot{
			Roster: e.roster.Clone(),
			State: &domain.MatchmakingState{
				PendingTeams:   e.queues.Snapshot(),
				CurrentMatches: e.registry.Active(),
			},
			Version: e.version,
		}, nil
	})
}
