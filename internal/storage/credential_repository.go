package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"aigateway/internal/models"
)

const credentialColumns = `id, provider_id, name, value, credential_type, active, weight, usage_count,
	error, last_used_at, created_at, updated_at`

// CredentialFilter narrows a credential query. Zero values do not filter.
type CredentialFilter struct {
	ProviderIDs []uuid.UUID
	ActiveOnly  bool
}

// CredentialRepository handles credential database operations
type CredentialRepository struct {
	db *DB
}

// NewCredentialRepository creates a new credential repository
func NewCredentialRepository(db *DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// GetByID retrieves a credential by ID
func (r *CredentialRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Credential, error) {
	var cred models.Credential
	query := r.db.conn.Rebind(`SELECT ` + credentialColumns + ` FROM credentials WHERE id = ?`)

	if err := r.db.conn.GetContext(ctx, &cred, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCredentialNotFound
		}
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	return &cred, nil
}

// Find returns credentials matching the filter
func (r *CredentialRepository) Find(ctx context.Context, f CredentialFilter) ([]*models.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM credentials WHERE 1=1`
	var args []any
	if len(f.ProviderIDs) > 0 {
		query += ` AND provider_id IN (?)`
		args = append(args, f.ProviderIDs)
	}
	if f.ActiveOnly {
		query += ` AND active = ?`
		args = append(args, true)
	}
	query += ` ORDER BY created_at, id`

	q, a, err := r.db.in(query, args...)
	if err != nil {
		return nil, err
	}

	var creds []*models.Credential
	if err := r.db.conn.SelectContext(ctx, &creds, q, a...); err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	return creds, nil
}

// Create inserts a credential. Value must already be encrypted.
func (r *CredentialRepository) Create(ctx context.Context, c *models.Credential) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.CredentialType == "" {
		c.CredentialType = models.CredentialTypeAPIKey
	}
	if c.Weight <= 0 {
		c.Weight = models.DefaultCredentialWeight
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	query := `
		INSERT INTO credentials (` + credentialColumns + `)
		VALUES (:id, :provider_id, :name, :value, :credential_type, :active, :weight, :usage_count,
			:error, :last_used_at, :created_at, :updated_at)
	`
	if _, err := r.db.conn.NamedExecContext(ctx, query, c); err != nil {
		return fmt.Errorf("failed to create credential: %w", err)
	}
	return nil
}

// Update applies a patch to a credential
func (r *CredentialRepository) Update(ctx context.Context, id uuid.UUID, patch models.CredentialPatch) error {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC()}
	if patch.Active != nil {
		sets = append(sets, "active = ?")
		args = append(args, *patch.Active)
	}
	if patch.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, *patch.Error)
	}
	args = append(args, id)

	query := r.db.conn.Rebind(`UPDATE credentials SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`)
	res, err := r.db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update credential: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrCredentialNotFound
	}
	return nil
}

// IncrementUsage bumps the usage counter and last-used time of a credential
func (r *CredentialRepository) IncrementUsage(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := r.db.conn.Rebind(`UPDATE credentials SET usage_count = usage_count + 1, last_used_at = ? WHERE id = ?`)
	if _, err := r.db.conn.ExecContext(ctx, query, at.UTC(), id); err != nil {
		return fmt.Errorf("failed to increment credential usage: %w", err)
	}
	return nil
}
