// Package sink fans external log appends out to several destinations.
package sink

import (
	"context"
	"errors"

	"github.com/duel-matchmaker/internal/domain"
	"github.com/duel-matchmaker/internal/service"
)

// Multi appends to every sink in order. A failing sink does not stop the others.
type Multi []service.Sink

// AppendRegistration appends a registration to every sink
func (m Multi) AppendRegistration(ctx context.Context, player domain.Player) error {
	return m.each(func(s service.Sink) error {
		return s.AppendRegistration(ctx, player)
	})
}

// AppendTeam appends a team to every sink
func (m Multi) AppendTeam(ctx context.Context, team domain.Team) error {
	return m.each(func(s service.Sink) error {
		return s.AppendTeam(ctx, team)
	})
}

// AppendDuel appends a duel summary to every sink
func (m Multi) AppendDuel(ctx context.Context, summary domain.DuelSummary) error {
	return m.each(func(s service.Sink) error {
		return s.AppendDuel(ctx, summary)
	})
}

func (m Multi) each(fn func(service.Sink) error) error {
	var errs []error
	for _, s := range m {
		if err := fn(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
