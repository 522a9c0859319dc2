package oneup

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/custodia-labs/fhir-bridge/internal/core/domain"
	"github.com/custodia-labs/fhir-bridge/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.AggregatorAuth = (*Client)(nil)

const (
	createUserPath = "/user-management/v1/user"
	authCodePath   = "/user-management/v1/user/auth-code"
	tokenPath      = "/fhir/oauth2/token"
)

type userRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	AppUserID    string `json:"app_user_id"`
}

type userResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	OneUpID int64  `json:"oneup_user_id"`
	Error   string `json:"error"`
}

func (c *Client) userRequest(appUserID string) userRequest {
	return userRequest{
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
		AppUserID:    appUserID,
	}
}

// CreateUser registers appUserID with the aggregator.
func (c *Client) CreateUser(ctx context.Context, appUserID string) (*domain.UserCreation, error) {
	var resp userResponse
	if err := c.postJSON(ctx, createUserPath, c.userRequest(appUserID), &resp); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return &domain.UserCreation{
		Success: resp.Success,
		Code:    resp.Code,
		OneUpID: resp.OneUpID,
	}, nil
}

// RequestAuthCode asks for a new authorization code for an existing user.
func (c *Client) RequestAuthCode(ctx context.Context, appUserID string) (string, error) {
	var resp userResponse
	if err := c.postJSON(ctx, authCodePath, c.userRequest(appUserID), &resp); err != nil {
		return "", fmt.Errorf("request auth code: %w", err)
	}
	if !resp.Success && resp.Code == "" {
		return "", fmt.Errorf("request auth code: %s", resp.Error)
	}
	return resp.Code, nil
}

func (c *Client) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  c.baseURL + tokenPath,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

func (c *Client) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

// ExchangeCode trades an authorization code for tokens.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*domain.TokenPair, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	tok, err := c.oauthConfig().Exchange(c.oauthContext(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", c.tokenError(err))
	}
	return tokenPair(tok), nil
}

// Refresh trades a refresh token for new tokens.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("refresh: %w: empty refresh token", domain.ErrInvalidInput)
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	src := c.oauthConfig().TokenSource(c.oauthContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("refresh: %w", c.tokenError(err))
	}
	return tokenPair(tok), nil
}

func tokenPair(tok *oauth2.Token) *domain.TokenPair {
	return &domain.TokenPair{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}
}

// tokenError turns an OAuth2 endpoint failure into an HTTPStatusError so
// callers see the same shape as every other aggregator call.
func (c *Client) tokenError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		return statusError(http.MethodPost, c.baseURL+tokenPath, re.Response.StatusCode, re.Body)
	}
	return err
}
