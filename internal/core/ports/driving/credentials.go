package driving

import (
	"context"

	"github.com/custodia-labs/fhir-bridge/internal/core/domain"
)

// CredentialManager owns the live aggregator credential
type CredentialManager interface {
	// Start looks up the owner, runs the handshake and launches the
	// refresh loop. Errors are fatal to startup.
	Start(ctx context.Context) error

	// Handshake obtains the first token pair for ownerID and persists it
	Handshake(ctx context.Context, ownerID string) (*domain.Credential, error)

	// RunRefreshLoop refreshes the credential every lifespan until ctx ends
	RunRefreshLoop(ctx context.Context, initialRefreshToken string)

	// CurrentToken blocks until a token exists, then returns a snapshot
	CurrentToken(ctx context.Context) (domain.CredentialSnapshot, error)

	// Ready reports whether the handshake has completed
	Ready() bool
}
