package gameservice

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duel-matchmaker/internal/config"
	"github.com/duel-matchmaker/internal/domain"
)

const duelBody = `{
  "result": {"winningTeamId": "red"},
  "teams": [
    {"id": "blue", "players": [{"playerId": "p3"}, {"playerId": "p4"}]},
    {"id": "red", "players": [{"playerId": "p1"}, {"playerId": "p2"}]}
  ],
  "options": {
    "map": {"name": "A Balanced World", "slug": "balanced"},
    "movementOptions": {"forbidMoving": true, "forbidRotating": true, "forbidZooming": true},
    "initialHealth": 6000
  },
  "currentRoundNumber": 9
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(&config.GameServiceConfig{
		DuelURL:    server.URL + "/api/duels",
		ProfileURL: server.URL + "/api/v3/users/",
		AuthCookie: "session-token",
		Timeout:    time.Second,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestFetchDuel(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/duels/d-1", r.URL.Path)
		cookie, err := r.Cookie("_ncfa")
		if assert.NoError(t, err) {
			assert.Equal(t, "session-token", cookie.Value)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, duelBody)
	})

	detail, err := client.FetchDuel(context.Background(), "d-1")
	require.NoError(t, err)

	assert.Equal(t, "d-1", detail.ID)
	assert.Equal(t, []string{"p1", "p2"}, detail.WinningPlayers)
	assert.Equal(t, []string{"p3", "p4"}, detail.LosingPlayers)
	assert.Equal(t, "NMPZ", detail.Movement.Gamemode())
	assert.Equal(t, domain.MapInfo{Name: "A Balanced World", Slug: "balanced"}, detail.Map)
	assert.Equal(t, 6000, detail.InitialHealth)
	assert.Equal(t, 9, detail.Rounds)
}

func TestFetchDuel_Errors(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/duels/missing":
			http.NotFound(w, r)
		case "/api/duels/unfinished":
			io.WriteString(w, `{"result": {}, "teams": []}`)
		default:
			io.WriteString(w, `{`)
		}
	})

	_, err := client.FetchDuel(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUnexpectedStatus)

	_, err = client.FetchDuel(context.Background(), "unfinished")
	assert.Error(t, err)

	_, err = client.FetchDuel(context.Background(), "garbled")
	assert.Error(t, err)
}

func TestFetchFlagAndProStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/users/abc", r.URL.Path)
		_, err := r.Cookie("_ncfa")
		assert.ErrorIs(t, err, http.ErrNoCookie)
		io.WriteString(w, `{"countryCode": "FR", "isProUser": true}`)
	})

	flag, isPro, err := client.FetchFlagAndProStatus(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, "fr", flag)
	assert.True(t, isPro)
}
