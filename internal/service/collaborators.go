package service

import (
	"context"
	"time"

	"github.com/duel-matchmaker/internal/domain"
)

// Transport delivers messages to team and player channels
type Transport interface {
	Notify(ctx context.Context, channel, text string) error
	PurgeAfter(ctx context.Context, channel string, since time.Time) error
	SetReadinessIndicator(ctx context.Context, key domain.TeamKey, state domain.Readiness) error
}

// DuelFetcher fetches the authoritative result of a duel
type DuelFetcher interface {
	FetchDuel(ctx context.Context, duelID string) (*domain.DuelDetail, error)
}

// ProfileFetcher looks up a player's country flag and pro status
type ProfileFetcher interface {
	FetchFlagAndProStatus(ctx context.Context, profileID string) (flag string, isPro bool, err error)
}

// Sink is the external log of registrations, teams and duels. Errors are never fatal.
type Sink interface {
	AppendRegistration(ctx context.Context, player domain.Player) error
	AppendTeam(ctx context.Context, team domain.Team) error
	AppendDuel(ctx context.Context, summary domain.DuelSummary) error
}

// RosterStore loads and replaces the roster document
type RosterStore interface {
	LoadRoster(ctx context.Context) (*domain.Roster, error)
	SaveRoster(ctx context.Context, roster *domain.Roster) error
}

// StateStore loads and replaces the matchmaking state document
type StateStore interface {
	LoadState(ctx context.Context) (*domain.MatchmakingState, error)
	SaveState(ctx context.Context, state *domain.MatchmakingState) error
}

// Persister receives a full snapshot after every mutation. Save must not block.
type Persister interface {
	Save(snapshot domain.Snapshot)
}

type discardSink struct{}

func (discardSink) AppendRegistration(context.Context, domain.Player) error { return nil }
func (discardSink) AppendTeam(context.Context, domain.Team) error           { return nil }
func (discardSink) AppendDuel(context.Context, domain.DuelSummary) error    { return nil }

type discardPersister struct{}

func (discardPersister) Save(domain.Snapshot) {}
