package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"aigateway/internal/models"
)

const modelRateColumns = `id, provider_id, model, type, input_rate, output_rate, model_display, description,
	created_at, updated_at`

// ModelRateFilter narrows a model rate query. Zero values do not filter.
type ModelRateFilter struct {
	Model       string
	ProviderIDs []uuid.UUID
	Type        models.CallType
}

// ModelRateRepository handles model rate database operations
type ModelRateRepository struct {
	db *DB
}

// NewModelRateRepository creates a new model rate repository
func NewModelRateRepository(db *DB) *ModelRateRepository {
	return &ModelRateRepository{db: db}
}

// Find returns model rates matching the filter
func (r *ModelRateRepository) Find(ctx context.Context, f ModelRateFilter) ([]*models.ModelRate, error) {
	query := `SELECT ` + modelRateColumns + ` FROM model_rates WHERE 1=1`
	var args []any
	if f.Model != "" {
		query += ` AND model = ?`
		args = append(args, f.Model)
	}
	if len(f.ProviderIDs) > 0 {
		query += ` AND provider_id IN (?)`
		args = append(args, f.ProviderIDs)
	}
	if f.Type != "" {
		query += ` AND type = ?`
		args = append(args, string(f.Type))
	}
	query += ` ORDER BY model, provider_id`

	q, a, err := r.db.in(query, args...)
	if err != nil {
		return nil, err
	}

	var rates []*models.ModelRate
	if err := r.db.conn.SelectContext(ctx, &rates, q, a...); err != nil {
		return nil, fmt.Errorf("failed to list model rates: %w", err)
	}
	return rates, nil
}

// Create inserts a model rate
func (r *ModelRateRepository) Create(ctx context.Context, rate *models.ModelRate) error {
	if rate.ID == uuid.Nil {
		rate.ID = uuid.New()
	}
	now := time.Now().UTC()
	if rate.CreatedAt.IsZero() {
		rate.CreatedAt = now
	}
	rate.UpdatedAt = now

	query := `
		INSERT INTO model_rates (` + modelRateColumns + `)
		VALUES (:id, :provider_id, :model, :type, :input_rate, :output_rate, :model_display, :description,
			:created_at, :updated_at)
	`
	if _, err := r.db.conn.NamedExecContext(ctx, query, rate); err != nil {
		return fmt.Errorf("failed to create model rate: %w", err)
	}
	return nil
}
