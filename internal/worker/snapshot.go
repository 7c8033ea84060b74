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

// SnapshotWriter persists the latest engine snapshot in the background.
// Only the newest snapshot is kept; older ones handed over before a write
// starts are dropped.
type SnapshotWriter struct {
	roster  service.RosterStore
	state   service.StateStore
	config  *config.SnapshotConfig
	logger  *slog.Logger
	stopCh  chan struct{}
	doneCh  chan struct{}
	wake    chan struct{}
	mu      sync.Mutex
	running bool
	pending *domain.Snapshot
	written uint64
}

// NewSnapshotWriter creates a new snapshot writer
func NewSnapshotWriter(
	roster service.RosterStore,
	state service.StateStore,
	cfg *config.SnapshotConfig,
	logger *slog.Logger,
) *SnapshotWriter {
	return &SnapshotWriter{
		roster: roster,
		state:  state,
		config: cfg,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		wake:   make(chan struct{}, 1),
	}
}

// Save hands over a snapshot without blocking
func (w *SnapshotWriter) Save(snapshot domain.Snapshot) {
	w.mu.Lock()
	if w.pending == nil || snapshot.Version > w.pending.Version {
		w.pending = &snapshot
	}
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Start begins the background write loop
func (w *SnapshotWriter) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("snapshot writer started", "interval", w.config.Interval)

	go w.run(ctx)
	return nil
}

// Stop writes any pending snapshot and stops the loop
func (w *SnapshotWriter) Stop() error {
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

	w.logger.Info("snapshot writer stopped")
	return nil
}

// run is the main worker loop
func (w *SnapshotWriter) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.flush(context.Background())
			return
		case <-w.stopCh:
			w.flush(context.Background())
			return
		case <-w.wake:
			w.flush(ctx)
		case <-ticker.C:
			// Retries a snapshot whose last write failed
			w.flush(ctx)
		}
	}
}

// flush writes the pending snapshot, if any. A failed write stays pending.
func (w *SnapshotWriter) flush(ctx context.Context) {
	w.mu.Lock()
	snapshot := w.pending
	w.pending = nil
	w.mu.Unlock()

	if snapshot == nil {
		return
	}

	if err := w.Write(ctx, *snapshot); err != nil {
		w.logger.Error("failed to write snapshot", "version", snapshot.Version, "error", err)
		w.mu.Lock()
		if w.pending == nil {
			w.pending = snapshot
		}
		w.mu.Unlock()
		return
	}
}

// Write stores both documents of a snapshot
func (w *SnapshotWriter) Write(ctx context.Context, snapshot domain.Snapshot) error {
	writeCtx, cancel := context.WithTimeout(ctx, w.config.WriteTimeout)
	defer cancel()

	startTime := time.Now()
	if snapshot.Roster != nil {
		if err := w.roster.SaveRoster(writeCtx, snapshot.Roster); err != nil {
			return err
		}
	}
	if snapshot.State != nil {
		if err := w.state.SaveState(writeCtx, snapshot.State); err != nil {
			return err
		}
	}

	w.mu.Lock()
	w.written = snapshot.Version
	w.mu.Unlock()

	w.logger.Debug("snapshot written",
		"version", snapshot.Version,
		"duration", time.Since(startTime),
	)
	return nil
}

// Load reads both documents, used once at start-up
func (w *SnapshotWriter) Load(ctx context.Context) (domain.Snapshot, error) {
	roster, err := w.roster.LoadRoster(ctx)
	if err != nil {
		return domain.Snapshot{}, err
	}
	state, err := w.state.LoadState(ctx)
	if err != nil {
		return domain.Snapshot{}, err
	}

	w.logger.Info("loaded persisted documents",
		"players", len(roster.Players),
		"teams", len(roster.Teams),
		"active_matches", len(state.CurrentMatches),
	)
	return domain.Snapshot{Roster: roster, State: state}, nil
}

// Written returns the version of the last snapshot stored
func (w *SnapshotWriter) Written() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

// Stats reports the writer state
func (w *SnapshotWriter) Stats() map[string]interface{} {
	w.mu.Lock()
	pending := w.pending != nil
	w.mu.Unlock()

	return map[string]interface{}{
		"running":         w.IsRunning(),
		"written_version": w.Written(),
		"pending":         pending,
	}
}

// IsRunning returns whether the worker is currently running
func (w *SnapshotWriter) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}
