package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/duel-matchmaker/internal/domain"
	"github.com/duel-matchmaker/internal/service"
	"github.com/duel-matchmaker/internal/websocket"
)

// Worker is a background worker whose state is reported by the admin API
type Worker interface {
	Stats() map[string]interface{}
}

// Handler provides HTTP handlers for the matchmaking API
type Handler struct {
	engine  *service.Engine
	hub     *websocket.Hub
	workers map[string]Worker
	checks  map[string]func(context.Context) error
	logger  *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(engine *service.Engine, hub *websocket.Hub, logger *slog.Logger) *Handler {
	return &Handler{
		engine:  engine,
		hub:     hub,
		workers: make(map[string]Worker),
		checks:  make(map[string]func(context.Context) error),
		logger:  logger,
	}
}

// AddReadinessCheck makes /ready fail while check returns an error
func (h *Handler) AddReadinessCheck(name string, check func(context.Context) error) {
	h.checks[name] = check
}

// AddWorker exposes a worker on the admin API under name
func (h *Handler) AddWorker(name string, w Worker) {
	h.workers[name] = w
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)

	// WebSocket endpoint
	r.Get("/ws", h.HandleWebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/players", func(r chi.Router) {
			r.Post("/", h.RegisterPlayer)
			r.Get("/", h.ListPlayers)

			r.Route("/{playerID}", func(r chi.Router) {
				r.Get("/", h.GetPlayer)
				r.Put("/modes", h.SetPlayerModes)
				r.Post("/modes/{mode}", h.TogglePlayerMode)
			})
		})

		r.Route("/teams", func(r chi.Router) {
			r.Post("/", h.CreateTeam)
			r.Get("/", h.ListTeams)

			r.Route("/{teamKey}", func(r chi.Router) {
				r.Get("/", h.GetTeam)
				r.Post("/ready", h.ToggleReady)
				r.Post("/messages", h.RelayMessage)
			})
		})

		r.Post("/duels/report", h.ReportDuel)

		r.Get("/queues", h.GetQueues)
		r.Get("/matches", h.ListMatches)
		r.Get("/status", h.GetStatus)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/matchmaking/start", h.StartMatchmaking)
			r.Post("/matchmaking/stop", h.StopMatchmaking)
			r.Post("/reset", h.ResetHistories)
			r.Delete("/matches/{matchID}", h.CancelMatch)
			r.Get("/workers", h.GetWorkers)
		})

		r.Get("/ws/stats", h.GetWebSocketStats)
		r.Get("/channels/{channel}", h.GetChannel)
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

// writeServiceError maps an engine error to a status code
func (h *Handler) writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case domain.IsNotFoundError(err):
		h.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, domain.ErrDataIntegrity):
		h.logger.Error("duel result rejected", "op", op, "error", err)
		h.writeError(w, http.StatusConflict, err)
	case domain.IsConflictError(err):
		h.writeError(w, http.StatusConflict, err)
	case errors.Is(err, domain.ErrInvalidRequest),
		errors.Is(err, domain.ErrInvalidMode):
		h.writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, domain.ErrInvalidTeam),
		errors.Is(err, domain.ErrInvalidDuelLink),
		errors.Is(err, domain.ErrNoEligibleMode):
		h.writeError(w, http.StatusUnprocessableEntity, err)
	case errors.Is(err, domain.ErrDuelFetch):
		h.logger.Warn("duel fetch failed", "op", op, "error", err)
		h.writeError(w, http.StatusBadGateway, err)
	case errors.Is(err, domain.ErrEngineStopped),
		errors.Is(err, context.DeadlineExceeded):
		h.writeError(w, http.StatusServiceUnavailable, err)
	default:
		h.logger.Error("request failed", "op", op, "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
	}
}

func (h *Handler) teamKey(w http.ResponseWriter, r *http.Request) (domain.TeamKey, bool) {
	key, err := domain.ParseTeamKey(chi.URLParam(r, "teamKey"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return "", false
	}
	return key, true
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]interface{}{
		"total_connections": h.hub.GetTotalConnections(),
	})
}

// GetChannel returns the notices, subscribers and readiness kept for a channel
func (h *Handler) GetChannel(w http.ResponseWriter, r *http.Request) {
	channel := chi.URLParam(r, "channel")

	data := map[string]interface{}{
		"channel":     channel,
		"subscribers": h.hub.GetSubscriberCount(channel),
		"notices":     h.hub.History(channel),
	}
	if state, ok := h.hub.Indicator(domain.TeamKey(channel)); ok {
		data["readiness"] = state
	}
	h.writeSuccess(w, data)
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck reports whether the engine loop is accepting commands
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	if _, err := h.engine.Status(r.Context()); err != nil {
		h.writeError(w, http.StatusServiceUnavailable, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.Warn("readiness check failed", "dependency", name, "error", err)
			h.writeError(w, http.StatusServiceUnavailable, fmt.Errorf("%s: %w", name, err))
			return
		}
	}
	h.writeSuccess(w, map[string]string{"status": "ready"})
}

// RegisterPlayer handles player registration
func (h *Handler) RegisterPlayer(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterPlayerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	player, err := h.engine.RegisterPlayer(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, "register player", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, APIResponse{
		Success: true,
		Data:    player,
	})
}

// ListPlayers returns every registered player
func (h *Handler) ListPlayers(w http.ResponseWriter, r *http.Request) {
	players, err := h.engine.Players(r.Context())
	if err != nil {
		h.writeServiceError(w, "list players", err)
		return
	}
	h.writeSuccess(w, players)
}

// GetPlayer returns a player by id
func (h *Handler) GetPlayer(w http.ResponseWriter, r *http.Request) {
	player, err := h.engine.Player(r.Context(), chi.URLParam(r, "playerID"))
	if err != nil {
		h.writeServiceError(w, "get player", err)
		return
	}
	h.writeSuccess(w, player)
}

// TogglePlayerMode signs a player up for a mode or withdraws them from it
func (h *Handler) TogglePlayerMode(w http.ResponseWriter, r *http.Request) {
	mode := domain.Mode(chi.URLParam(r, "mode"))
	player, err := h.engine.TogglePlayerMode(r.Context(), chi.URLParam(r, "playerID"), mode)
	if err != nil {
		h.writeServiceError(w, "toggle player mode", err)
		return
	}
	h.writeSuccess(w, player)
}

// SetPlayerModes replaces a player's modes
func (h *Handler) SetPlayerModes(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Modes []domain.Mode `json:"modes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	player, err := h.engine.SetPlayerModes(r.Context(), chi.URLParam(r, "playerID"), req.Modes)
	if err != nil {
		h.writeServiceError(w, "set player modes", err)
		return
	}
	h.writeSuccess(w, player)
}

// CreateTeam handles team creation
func (h *Handler) CreateTeam(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateTeamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	team, err := h.engine.CreateTeam(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, "create team", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, APIResponse{
		Success: true,
		Data:    team,
	})
}

// ListTeams returns every team
func (h *Handler) ListTeams(w http.ResponseWriter, r *http.Request) {
	teams, err := h.engine.Teams(r.Context())
	if err != nil {
		h.writeServiceError(w, "list teams", err)
		return
	}
	h.writeSuccess(w, teams)
}

// GetTeam returns a team by key, in either member order
func (h *Handler) GetTeam(w http.ResponseWriter, r *http.Request) {
	key, ok := h.teamKey(w, r)
	if !ok {
		return
	}

	team, err := h.engine.Team(r.Context(), key)
	if err != nil {
		h.writeServiceError(w, "get team", err)
		return
	}
	h.writeSuccess(w, team)
}

// ToggleReady flips a team between idle and searching
func (h *Handler) ToggleReady(w http.ResponseWriter, r *http.Request) {
	key, ok := h.teamKey(w, r)
	if !ok {
		return
	}

	readiness, err := h.engine.ToggleReady(r.Context(), key)
	if err != nil {
		h.writeServiceError(w, "toggle ready", err)
		return
	}
	h.writeSuccess(w, map[string]interface{}{
		"team":      key,
		"readiness": readiness,
	})
}

// RelayMessage forwards a message to the team's current opponent
func (h *Handler) RelayMessage(w http.ResponseWriter, r *http.Request) {
	key, ok := h.teamKey(w, r)
	if !ok {
		return
	}

	var req struct {
		AuthorID string `json:"author_id"`
		Text     string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	if err := h.engine.RelayMessage(r.Context(), key, req.AuthorID, req.Text); err != nil {
		h.writeServiceError(w, "relay message", err)
		return
	}
	h.writeSuccess(w, map[string]string{"status": "sent"})
}

// ReportDuel ingests a finished duel
func (h *Handler) ReportDuel(w http.ResponseWriter, r *http.Request) {
	var report domain.DuelReport
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}
	if report.ReporterID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	outcome, err := h.engine.ReportDuel(r.Context(), report)
	if err != nil {
		h.writeServiceError(w, "report duel", err)
		return
	}
	h.writeSuccess(w, outcome)
}

// GetQueues returns the pending teams of every mode
func (h *Handler) GetQueues(w http.ResponseWriter, r *http.Request) {
	queues, err := h.engine.Queues(r.Context())
	if err != nil {
		h.writeServiceError(w, "get queues", err)
		return
	}
	h.writeSuccess(w, queues)
}

// ListMatches returns the active matches
func (h *Handler) ListMatches(w http.ResponseWriter, r *http.Request) {
	matches, err := h.engine.ActiveMatches(r.Context())
	if err != nil {
		h.writeServiceError(w, "list matches", err)
		return
	}
	h.writeSuccess(w, matches)
}

// GetStatus returns engine counters
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.engine.Status(r.Context())
	if err != nil {
		h.writeServiceError(w, "get status", err)
		return
	}
	h.writeSuccess(w, status)
}

// GetWorkers returns the state of the background workers
func (h *Handler) GetWorkers(w http.ResponseWriter, r *http.Request) {
	stats := make(map[string]interface{}, len(h.workers))
	for name, worker := range h.workers {
		stats[name] = worker.Stats()
	}
	h.writeSuccess(w, stats)
}

// StartMatchmaking opens matchmaking
func (h *Handler) StartMatchmaking(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, true)
}

// StopMatchmaking closes matchmaking and empties the queues
func (h *Handler) StopMatchmaking(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, false)
}

func (h *Handler) setEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	if err := h.engine.SetEnabled(r.Context(), enabled); err != nil {
		h.writeServiceError(w, "set matchmaking", err)
		return
	}
	h.writeSuccess(w, map[string]bool{"enabled": enabled})
}

// ResetHistories clears every team's history
func (h *Handler) ResetHistories(w http.ResponseWriter, r *http.Request) {
	n, err := h.engine.ResetHistories(r.Context())
	if err != nil {
		h.writeServiceError(w, "reset histories", err)
		return
	}
	h.writeSuccess(w, map[string]int{"teams_reset": n})
}

// CancelMatch closes an active match without a result
func (h *Handler) CancelMatch(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.CancelMatch(r.Context(), chi.URLParam(r, "matchID")); err != nil {
		h.writeServiceError(w, "cancel match", err)
		return
	}
	h.writeSuccess(w, map[string]string{"status": "cancelled"})
}
