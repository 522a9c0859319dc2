package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/fhir-bridge/internal/core/domain"
	"github.com/custodia-labs/fhir-bridge/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.OwnerStore = (*OwnerStore)(nil)

// sealedTokens is the plaintext form of owners.tokens
type sealedTokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// OwnerStore implements driven.OwnerStore using PostgreSQL.
// Tokens never reach the table unencrypted.
type OwnerStore struct {
	db  *DB
	enc *SecretEncryptor
}

// NewOwnerStore creates a new OwnerStore
func NewOwnerStore(db *DB, enc *SecretEncryptor) *OwnerStore {
	return &OwnerStore{db: db, enc: enc}
}

// EnsureOwner inserts the owner row if it does not exist yet
func (s *OwnerStore) EnsureOwner(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: owner id is required", domain.ErrInvalidInput)
	}

	query := `
		INSERT INTO owners (id, role)
		VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query, id, string(domain.RoleOwner))
	return err
}

// FindOwner returns the oldest user with role owner
func (s *OwnerStore) FindOwner(ctx context.Context) (*domain.Owner, error) {
	query := `
		SELECT id, role, client_id, tokens
		FROM owners
		WHERE role = $1
		ORDER BY created_at
		LIMIT 1
	`

	var owner domain.Owner
	var blob []byte

	err := s.db.QueryRowContext(ctx, query, string(domain.RoleOwner)).Scan(
		&owner.ID,
		&owner.Role,
		&owner.ClientID,
		&blob,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrOwnerNotFound
	}
	if err != nil {
		return nil, err
	}

	if len(blob) > 0 {
		var tokens sealedTokens
		if err := s.enc.Decrypt(blob, &tokens); err != nil {
			return nil, fmt.Errorf("owner %s tokens: %w", owner.ID, err)
		}
		owner.AccessToken = tokens.AccessToken
		owner.RefreshToken = tokens.RefreshToken
	}

	return &owner, nil
}

// SaveOwnerTokens encrypts and stores the token pair on every owner row
func (s *OwnerStore) SaveOwnerTokens(ctx context.Context, tokens domain.OwnerTokens) error {
	blob, err := s.enc.Encrypt(sealedTokens{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
	})
	if err != nil {
		return err
	}

	query := `
		UPDATE owners
		SET client_id = $2, tokens = $3, updated_at = $4
		WHERE role = $1
	`
	result, err := s.db.ExecContext(ctx, query,
		string(domain.RoleOwner),
		tokens.ClientID,
		blob,
		time.Now(),
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrOwnerNotFound
	}
	return nil
}
