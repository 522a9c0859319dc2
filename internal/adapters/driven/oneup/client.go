// Package oneup talks to the 1up Health aggregator: user management,
// OAuth2 token exchange and the FHIR DSTU2 read API.
package oneup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/time/rate"

	"github.com/custodia-labs/fhir-bridge/internal/core/domain"
)

// DefaultBaseURL is the public aggregator API
const DefaultBaseURL = "https://api.1up.health"

const (
	fhirAcceptHeader = "application/json+fhir"

	// maxErrorBody caps how much of a failed response ends up in an error
	maxErrorBody = 512
)

// Config holds aggregator connection settings.
type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string

	// HTTPClient is used for every request; nil means http.DefaultClient.
	HTTPClient *http.Client

	// RequestsPerSecond throttles outgoing requests; zero disables throttling.
	RequestsPerSecond float64
	Burst             int
}

// Client implements driven.AggregatorAuth and driven.ResourceSource.
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	limiter      *rate.Limiter
}

// NewClient creates a new aggregator client.
func NewClient(cfg Config) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	c := &Client{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		httpClient:   httpClient,
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return c
}

// BaseURL returns the aggregator root URL.
func (c *Client) BaseURL() string { return c.baseURL }

// ClientID returns the OAuth client identifier.
func (c *Client) ClientID() string { return c.clientID }

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// postJSON sends body as JSON and decodes a 2xx response into out.
func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	data, err := c.do(ctx, req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// getFHIR performs an authenticated GET and returns the raw body.
func (c *Client) getFHIR(ctx context.Context, accessToken, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", fhirAcceptHeader)

	return c.do(ctx, req)
}

func (c *Client) do(ctx context.Context, req *http.Request) ([]byte, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(req.Method, req.URL.String(), resp.StatusCode, data)
	}
	return data, nil
}

func statusError(method, url string, status int, body []byte) *domain.HTTPStatusError {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return &domain.HTTPStatusError{
		Method:     method,
		URL:        url,
		StatusCode: status,
		Body:       strings.TrimSpace(string(body)),
	}
}
