// Package gameservice reads duel results and player profiles from the game's public API.
package gameservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/duel-matchmaker/internal/config"
	"github.com/duel-matchmaker/internal/domain"
)

// ErrUnexpectedStatus is returned for any non-2xx response
var ErrUnexpectedStatus = errors.New("unexpected status from game service")

// Client talks to the duel and profile endpoints
type Client struct {
	http   *http.Client
	config *config.GameServiceConfig
	logger *slog.Logger
}

// NewClient creates a game service client
func NewClient(cfg *config.GameServiceConfig, logger *slog.Logger) *Client {
	return &Client{
		http:   &http.Client{Timeout: cfg.Timeout},
		config: cfg,
		logger: logger,
	}
}

type duelResponse struct {
	Result struct {
		WinningTeamID string `json:"winningTeamId"`
	} `json:"result"`
	Teams []struct {
		ID      string `json:"id"`
		Players []struct {
			PlayerID string `json:"playerId"`
		} `json:"players"`
	} `json:"teams"`
	Options struct {
		Map struct {
			Name string `json:"name"`
			Slug string `json:"slug"`
		} `json:"map"`
		MovementOptions domain.MovementOptions `json:"movementOptions"`
		InitialHealth   int                    `json:"initialHealth"`
	} `json:"options"`
	CurrentRoundNumber int `json:"currentRoundNumber"`
}

type profileResponse struct {
	CountryCode string `json:"countryCode"`
	IsProUser   bool   `json:"isProUser"`
}

// FetchDuel returns the result of a finished duel
func (c *Client) FetchDuel(ctx context.Context, duelID string) (*domain.DuelDetail, error) {
	var resp duelResponse
	if err := c.get(ctx, c.config.DuelURL, duelID, true, &resp); err != nil {
		return nil, err
	}
	if resp.Result.WinningTeamID == "" {
		return nil, fmt.Errorf("duel %s has no winning team", duelID)
	}

	detail := &domain.DuelDetail{
		ID:            duelID,
		Movement:      resp.Options.MovementOptions,
		Map:           domain.MapInfo{Name: resp.Options.Map.Name, Slug: resp.Options.Map.Slug},
		InitialHealth: resp.Options.InitialHealth,
		Rounds:        resp.CurrentRoundNumber,
	}
	for _, team := range resp.Teams {
		for _, p := range team.Players {
			if team.ID == resp.Result.WinningTeamID {
				detail.WinningPlayers = append(detail.WinningPlayers, p.PlayerID)
			} else {
				detail.LosingPlayers = append(detail.LosingPlayers, p.PlayerID)
			}
		}
	}

	c.logger.Debug("fetched duel",
		"duel_id", duelID,
		"winners", len(detail.WinningPlayers),
		"losers", len(detail.LosingPlayers),
	)
	return detail, nil
}

// FetchFlagAndProStatus returns a player's lowercase country code and pro status
func (c *Client) FetchFlagAndProStatus(ctx context.Context, profileID string) (string, bool, error) {
	var resp profileResponse
	if err := c.get(ctx, c.config.ProfileURL, profileID, false, &resp); err != nil {
		return "", false, err
	}
	return strings.ToLower(resp.CountryCode), resp.IsProUser, nil
}

func (c *Client) get(ctx context.Context, base, id string, authenticated bool, out interface{}) error {
	endpoint := strings.TrimRight(base, "/") + "/" + url.PathEscape(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if authenticated && c.config.AuthCookie != "" {
		req.AddCookie(&http.Cookie{Name: "_ncfa", Value: c.config.AuthCookie})
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("requesting %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%w: %s returned %d", ErrUnexpectedStatus, endpoint, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s: %w", endpoint, err)
	}
	return nil
}
