package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/duel-matchmaker/internal/config"
	"github.com/duel-matchmaker/internal/domain"
)

// StateStore keeps the matchmaking state document in Redis: one list per
// mode for the pending teams and one hash of JSON-encoded active matches.
type StateStore struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// NewStateStore creates a new Redis-backed matchmaking state store
func NewStateStore(cfg *config.RedisConfig, logger *slog.Logger) (*StateStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return NewStateStoreWithClient(client, cfg.KeyPrefix, logger), nil
}

// NewStateStoreWithClient wraps an existing client
func NewStateStoreWithClient(client *redis.Client, prefix string, logger *slog.Logger) *StateStore {
	return &StateStore{
		client: client,
		prefix: prefix,
		logger: logger,
	}
}

// Close closes the Redis connection
func (s *StateStore) Close() error {
	return s.client.Close()
}

// Ping checks the connection
func (s *StateStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// pendingKey returns the Redis key for a mode's pending list
func (s *StateStore) pendingKey(mode domain.Mode) string {
	return fmt.Sprintf("%s:pending:%s", s.prefix, mode)
}

// matchesKey returns the Redis key for the active matches hash
func (s *StateStore) matchesKey() string {
	return fmt.Sprintf("%s:matches", s.prefix)
}

// LoadState reads the whole document. Missing keys give an empty state.
func (s *StateStore) LoadState(ctx context.Context) (*domain.MatchmakingState, error) {
	state := domain.NewMatchmakingState()

	pipe := s.client.Pipeline()
	lists := make(map[domain.Mode]*redis.StringSliceCmd, len(domain.Modes))
	for _, mode := range domain.Modes {
		lists[mode] = pipe.LRange(ctx, s.pendingKey(mode), 0, -1)
	}
	matchesCmd := pipe.HGetAll(ctx, s.matchesKey())
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("loading matchmaking state: %w", err)
	}

	for mode, cmd := range lists {
		for _, key := range cmd.Val() {
			state.PendingTeams[mode] = append(state.PendingTeams[mode], domain.TeamKey(key))
		}
	}

	for id, raw := range matchesCmd.Val() {
		var m domain.Match
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			s.logger.Warn("skipping unreadable match", "match_id", id, "error", err)
			continue
		}
		state.CurrentMatches = append(state.CurrentMatches, m)
	}
	sort.Slice(state.CurrentMatches, func(i, j int) bool {
		return state.CurrentMatches[i].StartedAt.Before(state.CurrentMatches[j].StartedAt)
	})

	return state, nil
}

// SaveState replaces the whole document in one transaction
func (s *StateStore) SaveState(ctx context.Context, state *domain.MatchmakingState) error {
	matches := make([]interface{}, 0, 2*len(state.CurrentMatches))
	for _, m := range state.CurrentMatches {
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("marshaling match %s: %w", m.ID, err)
		}
		matches = append(matches, m.ID, string(data))
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, mode := range domain.Modes {
			key := s.pendingKey(mode)
			pipe.Del(ctx, key)
			if keys := state.PendingTeams[mode]; len(keys) > 0 {
				values := make([]interface{}, len(keys))
				for i, k := range keys {
					values[i] = string(k)
				}
				pipe.RPush(ctx, key, values...)
			}
		}
		pipe.Del(ctx, s.matchesKey())
		if len(matches) > 0 {
			pipe.HSet(ctx, s.matchesKey(), matches...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("saving matchmaking state: %w", err)
	}
	return nil
}
