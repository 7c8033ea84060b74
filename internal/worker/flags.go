package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/duel-matchmaker/internal/config"
	"github.com/duel-matchmaker/internal/domain"
	"github.com/duel-matchmaker/internal/service"
)

// ProfileUpdater is the part of the engine the flag sync needs
type ProfileUpdater interface {
	Players(ctx context.Context) ([]domain.Player, error)
	UpdatePlayerProfile(ctx context.Context, playerID, flag string, isPro bool) (bool, error)
}

// FlagSync periodically refreshes every player's country flag and pro status
type FlagSync struct {
	engine   ProfileUpdater
	profiles service.ProfileFetcher
	config   *config.FlagSyncConfig
	logger   *slog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
	mu       sync.Mutex
	running  bool
	lastRun  time.Time
}

// NewFlagSync creates a new flag sync worker
func NewFlagSync(
	engine ProfileUpdater,
	profiles service.ProfileFetcher,
	cfg *config.FlagSyncConfig,
	logger *slog.Logger,
) *FlagSync {
	return &FlagSync{
		engine:   engine,
		profiles: profiles,
		config:   cfg,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the background sync process
func (w *FlagSync) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("flag sync worker started", "interval", w.config.Interval)

	go w.run(ctx)
	return nil
}

// Stop gracefully stops the worker
func (w *FlagSync) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("flag sync worker stopped")
	return nil
}

func (w *FlagSync) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			if _, err := w.SyncAll(ctx); err != nil {
				w.logger.Error("flag sync failed", "error", err)
			}
		}
	}
}

// SyncAll refreshes every registered player and returns how many changed.
// A failed lookup skips that player.
func (w *FlagSync) SyncAll(ctx context.Context) (int, error) {
	players, err := w.engine.Players(ctx)
	if err != nil {
		return 0, err
	}

	startTime := time.Now()
	changed, failed := 0, 0
	for _, p := range players {
		if ctx.Err() != nil {
			return changed, ctx.Err()
		}

		flag, isPro, err := w.profiles.FetchFlagAndProStatus(ctx, p.ProfileID)
		if err != nil {
			failed++
			w.logger.Warn("profile lookup failed", "player", p.DiscordID, "profile", p.ProfileID, "error", err)
			continue
		}

		updated, err := w.engine.UpdatePlayerProfile(ctx, p.DiscordID, flag, isPro)
		if err != nil {
			return changed, err
		}
		if updated {
			changed++
		}
	}

	w.mu.Lock()
	w.lastRun = time.Now()
	w.mu.Unlock()

	w.logger.Info("flag sync completed",
		"players", len(players),
		"changed", changed,
		"failed", failed,
		"duration", time.Since(startTime),
	)
	return changed, nil
}

// LastRun returns when the last full sync finished
func (w *FlagSync) LastRun() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastRun
}

// Stats reports the sync state. last_run is omitted before the first sync.
func (w *FlagSync) Stats() map[string]interface{} {
	stats := map[string]interface{}{
		"running":  w.IsRunning(),
		"interval": w.config.Interval.String(),
	}
	if last := w.LastRun(); !last.IsZero() {
		stats["last_run"] = last
	}
	return stats
}

// IsRunning returns whether the worker is currently running
func (w *FlagSync) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}
