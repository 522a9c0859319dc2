package driven

import (
	"context"

	"github.com/custodia-labs/fhir-bridge/internal/core/domain"
)

// AggregatorAuth performs the user-management and OAuth2 exchanges
// against the source aggregator.
type AggregatorAuth interface {
	// BaseURL is the aggregator root every other URL is derived from
	BaseURL() string

	// ClientID identifies this application to the aggregator
	ClientID() string

	// CreateUser registers appUserID. Success is false for an existing user.
	CreateUser(ctx context.Context, appUserID string) (*domain.UserCreation, error)

	// RequestAuthCode issues a fresh authorization code for an existing user
	RequestAuthCode(ctx context.Context, appUserID string) (string, error)

	// ExchangeCode trades an authorization code for a token pair
	ExchangeCode(ctx context.Context, code string) (*domain.TokenPair, error)

	// Refresh trades a refresh token for a new token pair
	Refresh(ctx context.Context, refreshToken string) (*domain.TokenPair, error)
}

// ResourceSource reads FHIR bundles and resources from the aggregator
type ResourceSource interface {
	// FetchBundle GETs one search page
	FetchBundle(ctx context.Context, accessToken, pageURL string) (*domain.Bundle, error)

	// FetchResource GETs the full record an entry points at
	FetchResource(ctx context.Context, accessToken, fullURL string) (*domain.Resource, error)
}

// ResourceDestination writes mirrored resources to the destination store
type ResourceDestination interface {
	// Put stores resource under {base}/{resourceType}/{resource.ID}
	Put(ctx context.Context, resourceType string, resource *domain.Resource) error
}
