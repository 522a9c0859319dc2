package driving

import (
	"context"

	"github.com/custodia-labs/fhir-bridge/internal/core/domain"
)

// SyncEngine mirrors every configured resource type into the destination
type SyncEngine interface {
	// Run performs one full pass and waits for it to finish.
	// Returns domain.ErrSyncInProgress if another run holds the guard.
	Run(ctx context.Context) (*domain.SyncResult, error)

	// Trigger starts a pass in the background and returns once the run
	// guard is held. The pass outlives ctx.
	Trigger(ctx context.Context) error

	// Running reports whether a pass is in flight in this process
	Running() bool
}

// StatusNotifier upserts the status record of a (service, dependency) pair
type StatusNotifier interface {
	Notify(ctx context.Context, update domain.StatusUpdate) error
}
