package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duel-matchmaker/internal/config"
	"github.com/duel-matchmaker/internal/domain"
	"github.com/duel-matchmaker/internal/service"
	"github.com/duel-matchmaker/internal/websocket"
)

const duelLink = "https://www.geoguessr.com/duels/6a1f0c3e-9d2b-4c7a-8e15-3b9f2d4a7c61/summary"

type stubDuels struct {
	mu     sync.Mutex
	detail *domain.DuelDetail
	err    error
}

func (s *stubDuels) FetchDuel(ctx context.Context, duelID string) (*domain.DuelDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	d := *s.detail
	d.ID = duelID
	return &d, nil
}

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

type fakeWorker map[string]interface{}

func (f fakeWorker) Stats() map[string]interface{} { return f }

type testAPI struct {
	server  *httptest.Server
	handler *Handler
	hub     *websocket.Hub
	duels   *stubDuels
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	hub := websocket.NewHub(logger)
	go hub.Run()
	t.Cleanup(hub.Stop)

	duels := &stubDuels{}
	engine := service.NewEngine(&config.MatchmakingConfig{
		Enabled:   true,
		WaitScale: time.Second,
		MaxWait:   time.Second,
		MinWait:   time.Hour,
	}, domain.Snapshot{}, service.Dependencies{Transport: hub, Duels: duels}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = engine.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	h := NewHandler(engine, hub, logger)
	h.AddWorker("snapshot_writer", fakeWorker{"running": true})
	server := httptest.NewServer(h.Router())
	t.Cleanup(server.Close)

	return &testAPI{server: server, handler: h, hub: hub, duels: duels}
}

func (a *testAPI) do(t *testing.T, method, path string, body interface{}) (int, apiResponse) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, a.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out apiResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func (a *testAPI) seed(t *testing.T) {
	t.Helper()
	players := []domain.RegisterPlayerRequest{
		{DiscordID: "1", ProfileID: "g1", Surname: "Ada", Flag: "fr", IsPro: true, Modes: []domain.Mode{domain.ModeNM}},
		{DiscordID: "2", ProfileID: "g2", Surname: "Bo", Flag: "de", Modes: []domain.Mode{domain.ModeNM}},
		{DiscordID: "3", ProfileID: "g3", Surname: "Cy", Flag: "us", Modes: []domain.Mode{domain.ModeNM}},
		{DiscordID: "4", ProfileID: "g4", Surname: "Di", Flag: "it", Modes: []domain.Mode{domain.ModeNM}},
	}
	for _, p := range players {
		status, resp := a.do(t, http.MethodPost, "/api/v1/players", p)
		require.Equal(t, http.StatusCreated, status, resp.Error)
	}
	for _, pair := range [][2]string{{"1", "2"}, {"4", "3"}} {
		status, resp := a.do(t, http.MethodPost, "/api/v1/teams", domain.CreateTeamRequest{Member1ID: pair[0], Member2ID: pair[1]})
		require.Equal(t, http.StatusCreated, status, resp.Error)
	}
}

func TestAPI_MatchLifecycle(t *testing.T) {
	api := newTestAPI(t)
	api.seed(t)

	status, resp := api.do(t, http.MethodPost, "/api/v1/teams/1_2/ready", nil)
	require.Equal(t, http.StatusOK, status, resp.Error)
	assert.JSONEq(t, `{"team":"1_2","readiness":"searching"}`, string(resp.Data))

	// Either member order addresses the same team
	status, resp = api.do(t, http.MethodPost, "/api/v1/teams/4_3/ready", nil)
	require.Equal(t, http.StatusOK, status, resp.Error)
	assert.JSONEq(t, `{"team":"3_4","readiness":"in-match"}`, string(resp.Data))

	status, resp = api.do(t, http.MethodGet, "/api/v1/matches", nil)
	require.Equal(t, http.StatusOK, status)
	var matches []domain.Match
	require.NoError(t, json.Unmarshal(resp.Data, &matches))
	require.Len(t, matches, 1)
	assert.Equal(t, "NM 30s", matches[0].Gamemode)

	require.Eventually(t, func() bool {
		for _, text := range api.hub.History("1_2") {
			if strings.HasPrefix(text, "Match found!") {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	status, _ = api.do(t, http.MethodPost, "/api/v1/teams/1_2/messages", map[string]string{"author_id": "1", "text": "glhf"})
	assert.Equal(t, http.StatusOK, status)

	api.duels.detail = &domain.DuelDetail{
		WinningPlayers: []string{"g3", "g4"},
		LosingPlayers:  []string{"g1", "g2"},
	}
	status, resp = api.do(t, http.MethodPost, "/api/v1/duels/report", domain.DuelReport{ReporterID: "2", Content: duelLink})
	require.Equal(t, http.StatusOK, status, resp.Error)
	var outcome domain.DuelOutcome
	require.NoError(t, json.Unmarshal(resp.Data, &outcome))
	assert.True(t, outcome.Applied)
	assert.Equal(t, domain.TeamKey("3_4"), outcome.Winner)

	status, resp = api.do(t, http.MethodGet, "/api/v1/teams/3_4", nil)
	require.Equal(t, http.StatusOK, status)
	var team domain.Team
	require.NoError(t, json.Unmarshal(resp.Data, &team))
	assert.Equal(t, []string{domain.OutcomeWin}, team.Outcomes)
	assert.Equal(t, domain.ReadinessIdle, team.Readiness)

	status, resp = api.do(t, http.MethodGet, "/api/v1/status", nil)
	require.Equal(t, http.StatusOK, status)
	var engineStatus domain.EngineStatus
	require.NoError(t, json.Unmarshal(resp.Data, &engineStatus))
	assert.Equal(t, 0, engineStatus.ActiveMatches)
	assert.Equal(t, 4, engineStatus.Players)
	assert.Equal(t, 2, engineStatus.Teams)
}

func TestAPI_ErrorStatuses(t *testing.T) {
	api := newTestAPI(t)
	api.seed(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		status int
	}{
		{"unknown player", http.MethodGet, "/api/v1/players/99", nil, http.StatusNotFound},
		{"duplicate team", http.MethodPost, "/api/v1/teams", domain.CreateTeamRequest{Member1ID: "2", Member2ID: "1"}, http.StatusConflict},
		{"team of one", http.MethodPost, "/api/v1/teams", domain.CreateTeamRequest{Member1ID: "1", Member2ID: "1"}, http.StatusUnprocessableEntity},
		{"malformed team key", http.MethodPost, "/api/v1/teams/nope/ready", nil, http.StatusBadRequest},
		{"unknown mode", http.MethodPost, "/api/v1/players/1/modes/DUELS", nil, http.StatusBadRequest},
		{"report without link", http.MethodPost, "/api/v1/duels/report", domain.DuelReport{ReporterID: "1", Content: "gg"}, http.StatusUnprocessableEntity},
		{"report outside a match", http.MethodPost, "/api/v1/duels/report", domain.DuelReport{ReporterID: "1", Content: duelLink}, http.StatusNotFound},
		{"relay outside a match", http.MethodPost, "/api/v1/teams/1_2/messages", map[string]string{"author_id": "1", "text": "hi"}, http.StatusConflict},
		{"cancel unknown match", http.MethodDelete, "/api/v1/admin/matches/m-404", nil, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, resp := api.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, status, resp.Error)
			assert.False(t, resp.Success)
		})
	}
}

func TestAPI_DuelFetchFailure(t *testing.T) {
	api := newTestAPI(t)
	api.seed(t)
	api.do(t, http.MethodPost, "/api/v1/teams/1_2/ready", nil)
	api.do(t, http.MethodPost, "/api/v1/teams/3_4/ready", nil)

	api.duels.err = errors.New("game service down")
	status, _ := api.do(t, http.MethodPost, "/api/v1/duels/report", domain.DuelReport{ReporterID: "3", Content: duelLink})
	assert.Equal(t, http.StatusBadGateway, status)

	_, resp := api.do(t, http.MethodGet, "/api/v1/matches", nil)
	var matches []domain.Match
	require.NoError(t, json.Unmarshal(resp.Data, &matches))
	assert.Len(t, matches, 1)
}

func TestAPI_AdminSwitch(t *testing.T) {
	api := newTestAPI(t)
	api.seed(t)
	api.do(t, http.MethodPost, "/api/v1/teams/1_2/ready", nil)

	status, _ := api.do(t, http.MethodPost, "/api/v1/admin/matchmaking/stop", nil)
	require.Equal(t, http.StatusOK, status)

	_, resp := api.do(t, http.MethodGet, "/api/v1/queues", nil)
	var queues map[domain.Mode][]domain.TeamKey
	require.NoError(t, json.Unmarshal(resp.Data, &queues))
	assert.Empty(t, queues[domain.ModeNM])

	status, _ = api.do(t, http.MethodPost, "/api/v1/teams/1_2/ready", nil)
	assert.Equal(t, http.StatusConflict, status)

	status, _ = api.do(t, http.MethodPost, "/api/v1/admin/matchmaking/start", nil)
	require.Equal(t, http.StatusOK, status)
	status, _ = api.do(t, http.MethodPost, "/api/v1/teams/1_2/ready", nil)
	assert.Equal(t, http.StatusOK, status)

	status, resp = api.do(t, http.MethodPost, "/api/v1/admin/reset", nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"teams_reset":2}`, string(resp.Data))
}

func TestAPI_Health(t *testing.T) {
	api := newTestAPI(t)

	status, _ := api.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, status)
	status, _ = api.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, status)

	api.handler.AddReadinessCheck("redis", func(ctx context.Context) error {
		return errors.New("connection refused")
	})
	status, resp := api.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "redis: connection refused", resp.Error)
}

func TestAPI_ChannelAndWorkers(t *testing.T) {
	api := newTestAPI(t)
	api.seed(t)

	status, _ := api.do(t, http.MethodPost, "/api/v1/teams/1_2/ready", nil)
	require.Equal(t, http.StatusOK, status)

	require.Eventually(t, func() bool {
		_, resp := api.do(t, http.MethodGet, "/api/v1/channels/1_2", nil)
		var channel struct {
			Subscribers int              `json:"subscribers"`
			Readiness   domain.Readiness `json:"readiness"`
		}
		return json.Unmarshal(resp.Data, &channel) == nil &&
			channel.Subscribers == 0 &&
			channel.Readiness == domain.ReadinessSearching
	}, time.Second, 10*time.Millisecond)

	status, resp := api.do(t, http.MethodGet, "/api/v1/admin/workers", nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"snapshot_writer":{"running":true}}`, string(resp.Data))
}
