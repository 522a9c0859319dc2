// Package fhirstore writes mirrored resources to the destination FHIR server.
package fhirstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/custodia-labs/fhir-bridge/internal/core/domain"
	"github.com/custodia-labs/fhir-bridge/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.ResourceDestination = (*Client)(nil)

const contentType = "application/fhir+json"

// Client performs whole-resource updates against a FHIR base URL.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a destination client. A nil httpClient uses http.DefaultClient.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
	}
}

// Put replaces {base}/{resourceType}/{id} with the fetched body.
func (c *Client) Put(ctx context.Context, resourceType string, resource *domain.Resource) error {
	if resourceType == "" || resource == nil || resource.ID == "" {
		return fmt.Errorf("%w: resource type and id are required", domain.ErrInvalidInput)
	}

	target := c.baseURL + "/" + url.PathEscape(resourceType) + "/" + url.PathEscape(resource.ID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, bytes.NewReader(resource.Body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &domain.HTTPStatusError{
			Method:     http.MethodPut,
			URL:        target,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Ping checks that the server answers its capability statement.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/metadata", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: metadata status %d", domain.ErrServiceUnavailable, resp.StatusCode)
	}
	return nil
}
