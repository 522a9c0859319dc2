package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/custodia-labs/fhir-bridge/internal/core/domain"
)

// mockSyncEngine counts triggers and can report a run in progress
type mockSyncEngine struct {
	mu       sync.Mutex
	triggers int
	busy     bool
}

func (m *mockSyncEngine) Run(ctx context.Context) (*domain.SyncResult, error) {
	return &domain.SyncResult{Success: true}, nil
}

func (m *mockSyncEngine) Trigger(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.triggers++
	if m.busy {
		return domain.ErrSyncInProgress
	}
	return nil
}

func (m *mockSyncEngine) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.busy
}

func (m *mockSyncEngine) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.triggers
}

func TestNewScheduler_Defaults(t *testing.T) {
	s := NewScheduler(SchedulerConfig{Engine: &mockSyncEngine{}})
	if s.interval != 24*time.Hour {
		t.Errorf("expected default interval 24h, got %v", s.interval)
	}
	if s.logger == nil {
		t.Error("expected default logger")
	}
}

func TestScheduler_TriggersOnInterval(t *testing.T) {
	engine := &mockSyncEngine{}
	s := NewScheduler(SchedulerConfig{Engine: engine, Interval: 5 * time.Millisecond})

	s.Start(context.Background())
	waitFor(t, time.Second, func() bool { return engine.count() >= 3 })
	s.Stop()

	after := engine.count()
	time.Sleep(20 * time.Millisecond)
	if engine.count() != after {
		t.Error("no triggers expected after Stop")
	}
}

func TestScheduler_SkipsWhileBusy(t *testing.T) {
	engine := &mockSyncEngine{busy: true}
	s := NewScheduler(SchedulerConfig{Engine: engine, Interval: 5 * time.Millisecond})

	s.Start(context.Background())
	waitFor(t, time.Second, func() bool { return engine.count() >= 2 })
	s.Stop()
}

func TestScheduler_StartIsIdempotent(t *testing.T) {
	s := NewScheduler(SchedulerConfig{Engine: &mockSyncEngine{}, Interval: time.Hour})

	s.Start(context.Background())
	s.Start(context.Background())
	s.Stop()
	s.Stop()
}

func TestScheduler_StopsOnContextCancel(t *testing.T) {
	engine := &mockSyncEngine{}
	s := NewScheduler(SchedulerConfig{Engine: engine, Interval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	cancel()

	s.mu.Lock()
	done := s.doneCh
	s.mu.Unlock()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler loop did not exit on cancel")
	}
	s.Stop()
}
