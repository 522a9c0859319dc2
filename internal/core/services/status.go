package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/custodia-labs/fhir-bridge/internal/core/domain"
	"github.com/custodia-labs/fhir-bridge/internal/core/ports/driven"
	"github.com/custodia-labs/fhir-bridge/internal/core/ports/driving"
)

// Verify interface compliance
var _ driving.StatusNotifier = (*StatusNotifier)(nil)

// DefaultStatusService is the service name used when an update carries none
const DefaultStatusService = "1up Health"

// StatusNotifier upserts one status record per (service, dependency).
type StatusNotifier struct {
	store   driven.StatusStore
	service string
	logger  *slog.Logger

	// find-then-create is not atomic in the store, so serialize it here
	mu sync.Mutex
}

// StatusNotifierConfig holds dependencies for StatusNotifier.
type StatusNotifierConfig struct {
	Store   driven.StatusStore
	Service string
	Logger  *slog.Logger
}

// NewStatusNotifier creates a new status notifier.
func NewStatusNotifier(cfg StatusNotifierConfig) *StatusNotifier {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	service := cfg.Service
	if service == "" {
		service = DefaultStatusService
	}
	return &StatusNotifier{
		store:   cfg.Store,
		service: service,
		logger:  logger,
	}
}

// Notify patches the existing record for the pair or creates it.
func (n *StatusNotifier) Notify(ctx context.Context, update domain.StatusUpdate) error {
	if update.Service == "" {
		update.Service = n.service
	}
	if update.Dependency == "" {
		return fmt.Errorf("%w: %w: dependency is required", domain.ErrNotify, domain.ErrInvalidInput)
	}
	if !update.Status.IsValid() {
		return fmt.Errorf("%w: %w: unknown status %q", domain.ErrNotify, domain.ErrInvalidInput, update.Status)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	existing, err := n.store.Find(ctx, update.Service, update.Dependency)
	switch {
	case err == nil:
		if err := n.store.Patch(ctx, existing.ID, update); err != nil {
			return fmt.Errorf("%w: patch %s: %w", domain.ErrNotify, existing.ID, err)
		}
	case errors.Is(err, domain.ErrNotFound):
		record := &domain.StatusRecord{
			Service:    update.Service,
			Dependency: update.Dependency,
			UpdatedAt:  time.Now(),
		}
		record.Apply(update)
		if err := n.store.Create(ctx, record); err != nil {
			return fmt.Errorf("%w: create: %w", domain.ErrNotify, err)
		}
	default:
		return fmt.Errorf("%w: find: %w", domain.ErrNotify, err)
	}

	n.logger.Debug("status updated",
		"service", update.Service,
		"dependency", update.Dependency,
		"status", update.Status,
		"description", update.Description,
	)
	return nil
}
