package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"aigateway/internal/models"
)

const usageColumns = `id, user_did, app_id, type, model, provider_id, prompt_tokens, completion_tokens,
	number_of_image_generation, media_duration, used_credits, created_at`

const insertUsage = `
	INSERT INTO usages (` + usageColumns + `)
	VALUES (:id, :user_did, :app_id, :type, :model, :provider_id, :prompt_tokens, :completion_tokens,
		:number_of_image_generation, :media_duration, :used_credits, :created_at)
`

// UsageRepository handles usage database operations
type UsageRepository struct {
	db *DB
}

// NewUsageRepository creates a new usage repository
func NewUsageRepository(db *DB) *UsageRepository {
	return &UsageRepository{db: db}
}

// Create inserts a single usage row
func (r *UsageRepository) Create(ctx context.Context, usage *models.Usage) error {
	if usage.ID == uuid.Nil {
		usage.ID = uuid.New()
	}
	if _, err := r.db.conn.NamedExecContext(ctx, insertUsage, usage); err != nil {
		return fmt.Errorf("failed to create usage: %w", err)
	}
	return nil
}

// CreateBatch inserts usage rows in one transaction
func (r *UsageRepository) CreateBatch(ctx context.Context, usages []*models.Usage) error {
	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		for _, usage := range usages {
			if usage.ID == uuid.Nil {
				usage.ID = uuid.New()
			}
			if _, err := tx.NamedExecContext(ctx, insertUsage, usage); err != nil {
				return fmt.Errorf("failed to insert usage: %w", err)
			}
		}
		return nil
	})
}

// ListByUser returns a user's usage rows, newest first
func (r *UsageRepository) ListByUser(ctx context.Context, userDid string, limit int) ([]*models.Usage, error) {
	if limit <= 0 {
		limit = 100
	}
	query := r.db.conn.Rebind(`SELECT ` + usageColumns + ` FROM usages WHERE user_did = ? ORDER BY created_at DESC LIMIT ?`)

	var usages []*models.Usage
	if err := r.db.conn.SelectContext(ctx, &usages, query, userDid, limit); err != nil {
		return nil, fmt.Errorf("failed to list usages: %w", err)
	}
	return usages, nil
}
