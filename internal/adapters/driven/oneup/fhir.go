package oneup

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/custodia-labs/fhir-bridge/internal/core/domain"
	"github.com/custodia-labs/fhir-bridge/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.ResourceSource = (*Client)(nil)

// FetchBundle GETs one search result page.
func (c *Client) FetchBundle(ctx context.Context, accessToken, pageURL string) (*domain.Bundle, error) {
	data, err := c.getFHIR(ctx, accessToken, pageURL)
	if err != nil {
		return nil, err
	}

	var bundle domain.Bundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return nil, fmt.Errorf("decode bundle: %w", err)
	}
	return &bundle, nil
}

// FetchResource GETs the record an entry's fullUrl points at.
func (c *Client) FetchResource(ctx context.Context, accessToken, fullURL string) (*domain.Resource, error) {
	data, err := c.getFHIR(ctx, accessToken, fullURL)
	if err != nil {
		return nil, err
	}

	resource, err := domain.ParseResource(data, fullURL)
	if err != nil {
		return nil, fmt.Errorf("decode resource: %w", err)
	}
	return resource, nil
}
