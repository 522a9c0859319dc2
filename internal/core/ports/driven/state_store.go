package driven

import (
	"context"

	"github.com/custodia-labs/fhir-bridge/internal/core/domain"
)

// OwnerStore persists the aggregator tokens on the owner user record
type OwnerStore interface {
	// FindOwner returns the user with role owner.
	// Returns domain.ErrOwnerNotFound if no such user exists.
	FindOwner(ctx context.Context) (*domain.Owner, error)

	// SaveOwnerTokens rewrites the token fields of the owner record
	SaveOwnerTokens(ctx context.Context, tokens domain.OwnerTokens) error
}

// StatusStore persists status records keyed by (service, dependency)
type StatusStore interface {
	// Find returns the record for the pair or domain.ErrNotFound
	Find(ctx context.Context, service, dependency string) (*domain.StatusRecord, error)

	// Create stores a new record and sets its ID
	Create(ctx context.Context, record *domain.StatusRecord) error

	// Patch updates status, description and error of an existing record
	Patch(ctx context.Context, id string, update domain.StatusUpdate) error
}

// HealthChecker is implemented by backends that can report reachability
type HealthChecker interface {
	Ping(ctx context.Context) error
}
