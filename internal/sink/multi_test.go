package sink

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/duel-matchmaker/internal/domain"
)

type recordingSink struct {
	calls []string
	err   error
}

func (r *recordingSink) AppendRegistration(ctx context.Context, player domain.Player) error {
	r.calls = append(r.calls, "registration:"+player.DiscordID)
	return r.err
}

func (r *recordingSink) AppendTeam(ctx context.Context, team domain.Team) error {
	r.calls = append(r.calls, "team:"+string(team.Key))
	return r.err
}

func (r *recordingSink) AppendDuel(ctx context.Context, summary domain.DuelSummary) error {
	r.calls = append(r.calls, "duel:"+summary.Link)
	return r.err
}

func TestMulti_AppendsToEverySink(t *testing.T) {
	failing := &recordingSink{err: errors.New("sheet unavailable")}
	healthy := &recordingSink{}
	m := Multi{failing, healthy}
	ctx := context.Background()

	assert.ErrorIs(t, m.AppendRegistration(ctx, domain.Player{DiscordID: "42"}), failing.err)
	assert.ErrorIs(t, m.AppendTeam(ctx, domain.Team{Key: "1_2"}), failing.err)
	assert.ErrorIs(t, m.AppendDuel(ctx, domain.DuelSummary{Link: "d1"}), failing.err)

	expected := []string{"registration:42", "team:1_2", "duel:d1"}
	assert.Equal(t, expected, failing.calls)
	assert.Equal(t, expected, healthy.calls)
}

func TestMulti_NoErrors(t *testing.T) {
	m := Multi{&recordingSink{}, &recordingSink{}}
	assert.NoError(t, m.AppendDuel(context.Background(), domain.DuelSummary{}))
	assert.NoError(t, Multi{}.AppendTeam(context.Background(), domain.Team{}))
}
