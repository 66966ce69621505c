package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"aigateway/internal/models"
)

const providerColumns = `id, name, display_name, base_url, region, config, enabled, created_at, updated_at`

// ProviderFilter narrows a provider query. Zero values do not filter.
type ProviderFilter struct {
	Names       []string
	IDs         []uuid.UUID
	EnabledOnly bool
}

// ProviderRepository handles provider database operations
type ProviderRepository struct {
	db *DB
}

// NewProviderRepository creates a new provider repository
func NewProviderRepository(db *DB) *ProviderRepository {
	return &ProviderRepository{db: db}
}

// GetByName retrieves a provider by name
func (r *ProviderRepository) GetByName(ctx context.Context, name string) (*models.Provider, error) {
	var provider models.Provider
	query := r.db.conn.Rebind(`SELECT ` + providerColumns + ` FROM providers WHERE name = ?`)

	err := r.db.conn.GetContext(ctx, &provider, query, name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProviderNotFound
		}
		return nil, fmt.Errorf("failed to get provider: %w", err)
	}

	return &provider, nil
}

// GetByID retrieves a provider by ID
func (r *ProviderRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Provider, error) {
	var provider models.Provider
	query := r.db.conn.Rebind(`SELECT ` + providerColumns + ` FROM providers WHERE id = ?`)

	err := r.db.conn.GetContext(ctx, &provider, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProviderNotFound
		}
		return nil, fmt.Errorf("failed to get provider: %w", err)
	}

	return &provider, nil
}

// Find returns providers matching the filter, ordered by name
func (r *ProviderRepository) Find(ctx context.Context, f ProviderFilter) ([]*models.Provider, error) {
	query := `SELECT ` + providerColumns + ` FROM providers WHERE 1=1`
	var args []any
	if len(f.Names) > 0 {
		query += ` AND name IN (?)`
		args = append(args, f.Names)
	}
	if len(f.IDs) > 0 {
		query += ` AND id IN (?)`
		args = append(args, f.IDs)
	}
	if f.EnabledOnly {
		query += ` AND enabled = ?`
		args = append(args, true)
	}
	query += ` ORDER BY name`

	q, a, err := r.db.in(query, args...)
	if err != nil {
		return nil, err
	}

	var providers []*models.Provider
	if err := r.db.conn.SelectContext(ctx, &providers, q, a...); err != nil {
		return nil, fmt.Errorf("failed to list providers: %w", err)
	}
	return providers, nil
}

// Create inserts a provider, assigning an ID and timestamps when unset
func (r *ProviderRepository) Create(ctx context.Context, p *models.Provider) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	query := `
		INSERT INTO providers (` + providerColumns + `)
		VALUES (:id, :name, :display_name, :base_url, :region, :config, :enabled, :created_at, :updated_at)
	`
	if _, err := r.db.conn.NamedExecContext(ctx, query, p); err != nil {
		return fmt.Errorf("failed to create provider: %w", err)
	}
	return nil
}

// SetEnabled toggles a provider
func (r *ProviderRepository) SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	query := r.db.conn.Rebind(`UPDATE providers SET enabled = ?, updated_at = ? WHERE id = ?`)
	res, err := r.db.conn.ExecContext(ctx, query, enabled, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update provider: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrProviderNotFound
	}
	return nil
}
