package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tburke/arbiter/internal/model"
	"github.com/tburke/arbiter/internal/store"
)

// sweepBatchSize bounds how many ready tasks one sweep pass re-evaluates.
const sweepBatchSize = 100

// Sweeper periodically re-evaluates ready tasks so that a task whose
// operator pool shrank since the last admission can still reach quorum
// without waiting for another response to arrive.
type Sweeper struct {
	engine   *Engine
	store    store.Store
	interval time.Duration
	logger   *slog.Logger

	stop context.CancelFunc
	wg   sync.WaitGroup
}

// NewSweeper creates a sweeper running at the given interval.
func NewSweeper(e *Engine, s store.Store, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		engine:   e,
		store:    s,
		interval: interval,
		logger:   logger,
	}
}

// Start launches the sweep loop in a goroutine.
func (s *Sweeper) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.stop = cancel
	s.wg.Go(func() {
		s.run(ctx)
	})
}

// Stop cancels the sweep loop and waits for an in-flight pass to finish.
func (s *Sweeper) Stop() {
	if s.stop != nil {
		s.stop()
	}
	s.wg.Wait()
}

func (s *Sweeper) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// sweep evaluates every ready task once. Deferred and AlreadyFinalized
// outcomes are expected; only genuine failures are logged as errors.
func (s *Sweeper) sweep(ctx context.Context) {
	tasks, err := s.store.ListTasksByStatus(ctx, model.StatusReady, sweepBatchSize)
	if err != nil {
		s.logger.Error("sweep: list ready tasks", "error", err)
		return
	}

	for _, t := range tasks {
		outcome, err := s.engine.Evaluate(ctx, t.ID)
		if err != nil {
			s.logger.Error("sweep: evaluate task", "task_id", t.ID, "error", err)
			continue
		}
		if outcome.Kind != OutcomeDeferred && outcome.Kind != OutcomeAlreadyFinalized {
			s.logger.Info("sweep: task finalized", "task_id", t.ID, "outcome", outcome.Kind)
		}
	}
}
