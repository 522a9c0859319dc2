package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/custodia-labs/fhir-bridge/internal/core/domain"
	"github.com/custodia-labs/fhir-bridge/internal/core/ports/driving"
)

// Scheduler runs a sync pass on a fixed interval.
// A tick that finds a run already in flight is skipped.
type Scheduler struct {
	engine   driving.SyncEngine
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// SchedulerConfig holds configuration for the scheduler.
type SchedulerConfig struct {
	Engine   driving.SyncEngine
	Interval time.Duration // How often to start a sync (default: 24h)
	Logger   *slog.Logger
}

// NewScheduler creates a new scheduler.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	return &Scheduler{
		engine:   cfg.Engine,
		interval: interval,
		logger:   logger,
	}
}

// Start begins the scheduler loop.
// It runs until Stop is called or context is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	s.logger.Info("sync scheduler starting", "interval", s.interval)

	go s.run(ctx, s.stopCh, s.doneCh)
}

// Stop gracefully stops the scheduler and waits for the loop to exit.
// A pass already in flight is left to the engine.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	done := s.doneCh
	s.running = false
	s.mu.Unlock()

	<-done
	s.logger.Info("sync scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	err := s.engine.Trigger(ctx)
	switch {
	case err == nil:
		s.logger.Info("scheduled sync started")
	case errors.Is(err, domain.ErrSyncInProgress):
		s.logger.Debug("sync already running, skipping scheduled run")
	default:
		s.logger.Error("failed to start scheduled sync", "error", err)
	}
}
