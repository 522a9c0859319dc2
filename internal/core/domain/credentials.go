package domain

import "time"

// Credential is the live aggregator credential owned by the credential manager.
// AccessToken is empty until the first handshake has completed.
type Credential struct {
	BaseURL      string    `json:"base_url"`
	AccessToken  string    `json:"-"` // Never serialize
	RefreshToken string    `json:"-"` // Never serialize
	ClientID     string    `json:"client_id"`
	ClientSecret string    `json:"-"` // Never serialize
	Version      uint64    `json:"version"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CredentialSnapshot is the read-only view handed to consumers of the token
type CredentialSnapshot struct {
	BaseURL     string `json:"base_url"`
	AccessToken string `json:"-"`
	Version     uint64 `json:"version"`
}

// HasToken reports whether an access token has been obtained
func (c *Credential) HasToken() bool {
	return c != nil && c.AccessToken != ""
}

// Snapshot returns a copy of the fields consumers are allowed to see
func (c *Credential) Snapshot() CredentialSnapshot {
	return CredentialSnapshot{
		BaseURL:     c.BaseURL,
		AccessToken: c.AccessToken,
		Version:     c.Version,
	}
}

// TokenPair is the result of a code or refresh exchange
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	Expiry       time.Time `json:"expiry,omitempty"` // Zero when the aggregator omits expires_in
}

// UserCreation is the outcome of registering an app user with the aggregator.
// Success is false when the user already exists.
type UserCreation struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	OneUpID int64  `json:"oneup_user_id,omitempty"`
}
