package authapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/custodia-labs/fhir-bridge/internal/core/domain"
	"github.com/custodia-labs/fhir-bridge/internal/core/ports/driven"
)

// Verify interface compliance
var (
	_ driven.OwnerStore    = (*Client)(nil)
	_ driven.StatusStore   = (*Client)(nil)
	_ driven.HealthChecker = (*Client)(nil)
)

const (
	userService   = "user"
	statusService = "status"
)

type userRecord struct {
	recordKey
	Role              string `json:"role"`
	OneUpAccessToken  string `json:"oneUpAccessToken,omitempty"`
	OneUpRefreshToken string `json:"oneUpRefreshToken,omitempty"`
	OneUpClientID     string `json:"oneUpClientId,omitempty"`
}

type tokenPatch struct {
	OneUpAccessToken  string `json:"oneUpAccessToken"`
	OneUpRefreshToken string `json:"oneUpRefreshToken"`
	OneUpClientID     string `json:"oneUpClientId"`
}

// FindOwner returns the first user with role owner.
func (c *Client) FindOwner(ctx context.Context) (*domain.Owner, error) {
	users, err := find[userRecord](ctx, c, userService, url.Values{"role": {string(domain.RoleOwner)}})
	if err != nil {
		return nil, fmt.Errorf("find owner: %w", err)
	}
	if len(users) == 0 {
		return nil, domain.ErrOwnerNotFound
	}

	u := users[0]
	return &domain.Owner{
		ID:           u.value(),
		Role:         domain.Role(u.Role),
		AccessToken:  u.OneUpAccessToken,
		RefreshToken: u.OneUpRefreshToken,
		ClientID:     u.OneUpClientID,
	}, nil
}

// SaveOwnerTokens patches the token fields on every owner user.
func (c *Client) SaveOwnerTokens(ctx context.Context, tokens domain.OwnerTokens) error {
	err := c.call(ctx, http.MethodPatch, "/"+userService, url.Values{"role": {string(domain.RoleOwner)}}, tokenPatch{
		OneUpAccessToken:  tokens.AccessToken,
		OneUpRefreshToken: tokens.RefreshToken,
		OneUpClientID:     tokens.ClientID,
	}, nil)
	if err != nil {
		return fmt.Errorf("save owner tokens: %w", err)
	}
	return nil
}

type statusRecord struct {
	recordKey
	Service     string    `json:"service"`
	Dependency  string    `json:"dependency"`
	Status      string    `json:"status"`
	Description string    `json:"description"`
	Error       string    `json:"error"`
	UpdatedAt   time.Time `json:"updatedAt,omitempty"`
}

func (r statusRecord) toDomain() *domain.StatusRecord {
	return &domain.StatusRecord{
		ID:          r.value(),
		Service:     r.Service,
		Dependency:  r.Dependency,
		Status:      domain.StatusValue(r.Status),
		Description: r.Description,
		Error:       r.Error,
		UpdatedAt:   r.UpdatedAt,
	}
}

type statusCreate struct {
	Service     string `json:"service"`
	Dependency  string `json:"dependency"`
	Status      string `json:"status"`
	Description string `json:"description"`
	Error       string `json:"error"`
}

type statusPatch struct {
	Status      string `json:"status"`
	Description string `json:"description"`
	Error       string `json:"error"`
}

// Find returns the status record for (service, dependency).
func (c *Client) Find(ctx context.Context, service, dependency string) (*domain.StatusRecord, error) {
	records, err := find[statusRecord](ctx, c, statusService, url.Values{
		"service":    {service},
		"dependency": {dependency},
	})
	if err != nil {
		return nil, fmt.Errorf("find status: %w", err)
	}
	if len(records) == 0 {
		return nil, domain.ErrNotFound
	}
	return records[0].toDomain(), nil
}

// Create stores a new status record and sets its ID from the response.
func (c *Client) Create(ctx context.Context, record *domain.StatusRecord) error {
	var created statusRecord
	err := c.call(ctx, http.MethodPost, "/"+statusService, nil, statusCreate{
		Service:     record.Service,
		Dependency:  record.Dependency,
		Status:      string(record.Status),
		Description: record.Description,
		Error:       record.Error,
	}, &created)
	if err != nil {
		return fmt.Errorf("create status: %w", err)
	}
	record.ID = created.value()
	return nil
}

// Patch updates status, description and error of record id.
func (c *Client) Patch(ctx context.Context, id string, update domain.StatusUpdate) error {
	err := c.call(ctx, http.MethodPatch, "/"+statusService+"/"+url.PathEscape(id), nil, statusPatch{
		Status:      string(update.Status),
		Description: update.Description,
		Error:       update.Error,
	}, nil)
	if err != nil {
		return fmt.Errorf("patch status %s: %w", id, err)
	}
	return nil
}
