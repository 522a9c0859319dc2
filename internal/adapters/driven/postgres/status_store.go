package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/custodia-labs/fhir-bridge/internal/core/domain"
	"github.com/custodia-labs/fhir-bridge/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.StatusStore = (*StatusStore)(nil)

// StatusStore implements driven.StatusStore using PostgreSQL
type StatusStore struct {
	db *DB
}

// NewStatusStore creates a new StatusStore
func NewStatusStore(db *DB) *StatusStore {
	return &StatusStore{db: db}
}

// Find retrieves the record for a (service, dependency) pair
func (s *StatusStore) Find(ctx context.Context, service, dependency string) (*domain.StatusRecord, error) {
	query := `
		SELECT id, service, dependency, status, description, error, updated_at
		FROM statuses
		WHERE service = $1 AND dependency = $2
	`

	var record domain.StatusRecord
	var id int64

	err := s.db.QueryRowContext(ctx, query, service, dependency).Scan(
		&id,
		&record.Service,
		&record.Dependency,
		&record.Status,
		&record.Description,
		&record.Error,
		&record.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	record.ID = strconv.FormatInt(id, 10)
	return &record, nil
}

// Create inserts a record and sets its ID.
// A concurrent insert for the same pair turns into an update of that row.
func (s *StatusStore) Create(ctx context.Context, record *domain.StatusRecord) error {
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now()
	}

	query := `
		INSERT INTO statuses (service, dependency, status, description, error, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (service, dependency) DO UPDATE SET
			status = EXCLUDED.status,
			description = EXCLUDED.description,
			error = EXCLUDED.error,
			updated_at = EXCLUDED.updated_at
		RETURNING id
	`

	var id int64
	err := s.db.QueryRowContext(ctx, query,
		record.Service,
		record.Dependency,
		string(record.Status),
		record.Description,
		record.Error,
		record.UpdatedAt,
	).Scan(&id)
	if err != nil {
		return err
	}

	record.ID = strconv.FormatInt(id, 10)
	return nil
}

// Patch updates status, description and error of an existing record
func (s *StatusStore) Patch(ctx context.Context, id string, update domain.StatusUpdate) error {
	rowID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: status id %q", domain.ErrInvalidInput, id)
	}

	query := `
		UPDATE statuses
		SET status = $2, description = $3, error = $4, updated_at = $5
		WHERE id = $1
	`
	result, err := s.db.ExecContext(ctx, query,
		rowID,
		string(update.Status),
		update.Description,
		update.Error,
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
		return domain.ErrNotFound
	}
	return nil
}
