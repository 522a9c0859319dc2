// Package authapi is a client for the identity service that holds the
// owner user and the status records. The service exposes feathers-style
// REST collections behind a local-strategy JWT login.
package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/custodia-labs/fhir-bridge/internal/core/domain"
)

const (
	defaultStrategy    = "local"
	defaultRenewBefore = time.Minute
	maxErrorBody       = 512
)

// Config holds identity service connection settings.
type Config struct {
	BaseURL  string
	Username string
	Password string
	Strategy string // defaults to "local"

	// RenewBefore re-authenticates this long before the session JWT expires.
	RenewBefore time.Duration

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client authenticates once, caches the session token and renews it when
// it is about to expire or the service answers 401.
type Client struct {
	baseURL     string
	username    string
	password    string
	strategy    string
	renewBefore time.Duration
	httpClient  *http.Client
	logger      *slog.Logger

	mu     sync.Mutex
	token  string
	expiry time.Time
}

// NewClient creates a new identity service client.
func NewClient(cfg Config) *Client {
	strategy := cfg.Strategy
	if strategy == "" {
		strategy = defaultStrategy
	}
	renewBefore := cfg.RenewBefore
	if renewBefore <= 0 {
		renewBefore = defaultRenewBefore
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:     strings.TrimSuffix(cfg.BaseURL, "/"),
		username:    cfg.Username,
		password:    cfg.Password,
		strategy:    strategy,
		renewBefore: renewBefore,
		httpClient:  httpClient,
		logger:      logger,
	}
}

type authRequest struct {
	Strategy string `json:"strategy"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResponse struct {
	AccessToken string `json:"accessToken"`
}

// Authenticate logs in and caches the session token.
func (c *Client) Authenticate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticateLocked(ctx)
}

func (c *Client) authenticateLocked(ctx context.Context) error {
	var resp authResponse
	err := c.send(ctx, http.MethodPost, "/authentication", nil, authRequest{
		Strategy: c.strategy,
		Username: c.username,
		Password: c.password,
	}, "", &resp)
	if err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	if resp.AccessToken == "" {
		return errors.New("authenticate: empty access token")
	}

	c.token = resp.AccessToken
	c.expiry = tokenExpiry(resp.AccessToken)
	c.logger.Debug("authenticated with identity service", "expires_at", c.expiry)
	return nil
}

// tokenExpiry reads exp without verifying the signature; the service that
// issued it is the only one that checks it.
func tokenExpiry(token string) time.Time {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}

// bearer returns a session token, logging in when none is cached or the
// cached one is close to expiry.
func (c *Client) bearer(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stale := !c.expiry.IsZero() && time.Until(c.expiry) < c.renewBefore
	if c.token == "" || stale {
		if err := c.authenticateLocked(ctx); err != nil {
			return "", err
		}
	}
	return c.token, nil
}

func (c *Client) invalidate(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == token {
		c.token = ""
	}
}

// call performs an authenticated request, retrying once after a 401.
func (c *Client) call(ctx context.Context, method, path string, query url.Values, body, out any) error {
	for attempt := 0; ; attempt++ {
		token, err := c.bearer(ctx)
		if err != nil {
			return err
		}

		err = c.send(ctx, method, path, query, body, token, out)
		if attempt == 0 && domain.StatusCodeOf(err) == http.StatusUnauthorized {
			c.logger.Debug("identity service session rejected, re-authenticating")
			c.invalidate(token)
			continue
		}
		return err
	}
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, body any, token string, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if len(data) > maxErrorBody {
			data = data[:maxErrorBody]
		}
		return &domain.HTTPStatusError{
			Method:     method,
			URL:        c.baseURL + path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(data)),
		}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// find queries a collection. Both paginated ({"data": [...]}) and plain
// array responses are accepted.
func find[T any](ctx context.Context, c *Client, service string, query url.Values) ([]T, error) {
	var raw json.RawMessage
	if err := c.call(ctx, http.MethodGet, "/"+service, query, nil, &raw); err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []T
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("decode %s: %w", service, err)
		}
		return items, nil
	}

	var page struct {
		Data []T `json:"data"`
	}
	if err := json.Unmarshal(trimmed, &page); err != nil {
		return nil, fmt.Errorf("decode %s: %w", service, err)
	}
	return page.Data, nil
}

// Ping checks that the service accepts our credentials.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.bearer(ctx)
	return err
}

// recordID accepts both string and numeric ids, and mongo-style _id.
type recordID string

func (id *recordID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*id = recordID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("record id: %w", err)
	}
	*id = recordID(n.String())
	return nil
}

type recordKey struct {
	ID      recordID `json:"id"`
	MongoID recordID `json:"_id"`
}

func (k recordKey) value() string {
	if k.ID != "" {
		return string(k.ID)
	}
	return string(k.MongoID)
}
