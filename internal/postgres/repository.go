package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/duel-matchmaker/internal/config"
	"github.com/duel-matchmaker/internal/domain"
)

// Sink event kinds
const (
	EventRegistration = "registration"
	EventTeam         = "team"
	EventDuel         = "duel"
)

// Repository stores the roster document and the external log in PostgreSQL
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// Ping checks the connection
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS players (
			discord_id VARCHAR(64) PRIMARY KEY,
			profile_id VARCHAR(64) NOT NULL,
			surname VARCHAR(255) NOT NULL DEFAULT '',
			flag VARCHAR(8) NOT NULL DEFAULT '',
			is_pro BOOLEAN NOT NULL DEFAULT FALSE,
			modes TEXT[] NOT NULL DEFAULT '{}',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS teams (
			team_key VARCHAR(130) PRIMARY KEY,
			member1_id VARCHAR(64) NOT NULL REFERENCES players(discord_id),
			member2_id VARCHAR(64) NOT NULL REFERENCES players(discord_id),
			outcomes TEXT[] NOT NULL DEFAULT '{}',
			previous_opponents TEXT[] NOT NULL DEFAULT '{}',
			previous_duel_ids TEXT[] NOT NULL DEFAULT '{}',
			last_gamemode VARCHAR(32) NOT NULL DEFAULT '',
			channel VARCHAR(255) NOT NULL,
			readiness VARCHAR(16) NOT NULL DEFAULT 'idle',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS sink_events (
			id BIGSERIAL PRIMARY KEY,
			kind VARCHAR(20) NOT NULL,
			subject VARCHAR(255) NOT NULL,
			payload JSONB NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sink_events_kind ON sink_events(kind, created_at DESC)`,
	}

	for _, migration := range migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

// LoadRoster reads every player and team
func (r *Repository) LoadRoster(ctx context.Context) (*domain.Roster, error) {
	roster := domain.NewRoster()

	rows, err := r.pool.Query(ctx, `
		SELECT discord_id, profile_id, surname, flag, is_pro, modes, created_at
		FROM players
	`)
	if err != nil {
		return nil, fmt.Errorf("loading players: %w", err)
	}
	for rows.Next() {
		var p domain.Player
		var modes []string
		if err := rows.Scan(&p.DiscordID, &p.ProfileID, &p.Surname, &p.Flag, &p.IsPro, &modes, &p.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning player: %w", err)
		}
		p.Modes = toModes(modes)
		roster.Players[p.DiscordID] = &p
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loading players: %w", err)
	}

	rows, err = r.pool.Query(ctx, `
		SELECT team_key, member1_id, member2_id, outcomes, previous_opponents, previous_duel_ids,
			   last_gamemode, channel, readiness, created_at
		FROM teams
	`)
	if err != nil {
		return nil, fmt.Errorf("loading teams: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			t                 domain.Team
			key, m1, m2       string
			readiness         string
			previousOpponents []string
		)
		err := rows.Scan(&key, &m1, &m2, &t.Outcomes, &previousOpponents, &t.PreviousDuelIDs,
			&t.LastGamemode, &t.Channel, &readiness, &t.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning team: %w", err)
		}
		member1, ok1 := roster.Players[m1]
		member2, ok2 := roster.Players[m2]
		if !ok1 || !ok2 {
			r.logger.Warn("skipping team with unknown member", "team", key)
			continue
		}
		t.Key = domain.TeamKey(key)
		t.Member1 = *member1
		t.Member2 = *member2
		t.Readiness = domain.Readiness(readiness)
		t.PreviousOpponents = make([]domain.TeamKey, len(previousOpponents))
		for i, o := range previousOpponents {
			t.PreviousOpponents[i] = domain.TeamKey(o)
		}
		roster.Teams[t.Key] = &t
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loading teams: %w", err)
	}

	return roster, nil
}

// SaveRoster replaces the stored roster in one transaction
func (r *Repository) SaveRoster(ctx context.Context, roster *domain.Roster) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	now := time.Now()

	playerIDs := make([]string, 0, len(roster.Players))
	for _, p := range roster.Players {
		playerIDs = append(playerIDs, p.DiscordID)
		batch.Queue(`
			INSERT INTO players (discord_id, profile_id, surname, flag, is_pro, modes, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (discord_id)
			DO UPDATE SET profile_id = $2, surname = $3, flag = $4, is_pro = $5, modes = $6
		`, p.DiscordID, p.ProfileID, p.Surname, p.Flag, p.IsPro, fromModes(p.Modes), createdAt(p.CreatedAt, now))
	}

	teamKeys := make([]string, 0, len(roster.Teams))
	for _, t := range roster.Teams {
		teamKeys = append(teamKeys, string(t.Key))
		opponents := make([]string, len(t.PreviousOpponents))
		for i, o := range t.PreviousOpponents {
			opponents[i] = string(o)
		}
		batch.Queue(`
			INSERT INTO teams (team_key, member1_id, member2_id, outcomes, previous_opponents, previous_duel_ids,
				last_gamemode, channel, readiness, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (team_key)
			DO UPDATE SET outcomes = $4, previous_opponents = $5, previous_duel_ids = $6,
				last_gamemode = $7, channel = $8, readiness = $9, updated_at = $11
		`, string(t.Key), t.Member1.DiscordID, t.Member2.DiscordID, nonNil(t.Outcomes), opponents,
			nonNil(t.PreviousDuelIDs), t.LastGamemode, t.Channel, string(t.Readiness),
			createdAt(t.CreatedAt, now), now)
	}

	batch.Queue(`DELETE FROM teams WHERE team_key <> ALL($1)`, teamKeys)
	batch.Queue(`DELETE FROM players WHERE discord_id <> ALL($1)`, playerIDs)

	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("saving roster: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("saving roster: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing roster: %w", err)
	}
	return nil
}

// RecordEvent appends an entry to the external log table
func (r *Repository) RecordEvent(ctx context.Context, kind, subject string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}

	query := `
		INSERT INTO sink_events (kind, subject, payload, created_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err = r.pool.Exec(ctx, query, kind, subject, data, time.Now())
	if err != nil {
		return fmt.Errorf("recording event: %w", err)
	}
	return nil
}

// AppendRegistration logs a new player
func (r *Repository) AppendRegistration(ctx context.Context, player domain.Player) error {
	return r.RecordEvent(ctx, EventRegistration, player.DiscordID, player)
}

// AppendTeam logs a new team
func (r *Repository) AppendTeam(ctx context.Context, team domain.Team) error {
	return r.RecordEvent(ctx, EventTeam, string(team.Key), team)
}

// AppendDuel logs a finished duel
func (r *Repository) AppendDuel(ctx context.Context, summary domain.DuelSummary) error {
	return r.RecordEvent(ctx, EventDuel, summary.Link, summary)
}

func toModes(values []string) []domain.Mode {
	modes := make([]domain.Mode, 0, len(values))
	for _, v := range values {
		modes = append(modes, domain.Mode(v))
	}
	return modes
}

func fromModes(modes []domain.Mode) []string {
	values := make([]string, 0, len(modes))
	for _, m := range modes {
		values = append(values, string(m))
	}
	return values
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func createdAt(t, fallback time.Time) time.Time {
	if t.IsZero() {
		return fallback
	}
	return t
}
