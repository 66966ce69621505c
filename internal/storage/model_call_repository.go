package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"aigateway/internal/models"
)

const modelCallColumns = `id, request_id, user_did, app_id, provider_id, credential_id, model, type, status,
	error_reason, attempt, streaming, prompt_tokens, completion_tokens, total_tokens, duration_ms, call_time`

const insertModelCall = `
	INSERT INTO model_calls (` + modelCallColumns + `)
	VALUES (:id, :request_id, :user_did, :app_id, :provider_id, :credential_id, :model, :type, :status,
		:error_reason, :attempt, :streaming, :prompt_tokens, :completion_tokens, :total_tokens, :duration_ms, :call_time)
`

// ModelCallRepository handles model call database operations
type ModelCallRepository struct {
	db *DB
}

// NewModelCallRepository creates a new model call repository
func NewModelCallRepository(db *DB) *ModelCallRepository {
	return &ModelCallRepository{db: db}
}

// Create inserts a single model call
func (r *ModelCallRepository) Create(ctx context.Context, call *models.ModelCall) error {
	if call.ID == uuid.Nil {
		call.ID = uuid.New()
	}
	if _, err := r.db.conn.NamedExecContext(ctx, insertModelCall, call); err != nil {
		return fmt.Errorf("failed to create model call: %w", err)
	}
	return nil
}

// CreateBatch inserts model calls in one transaction
func (r *ModelCallRepository) CreateBatch(ctx context.Context, calls []*models.ModelCall) error {
	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		for _, call := range calls {
			if call.ID == uuid.Nil {
				call.ID = uuid.New()
			}
			if _, err := tx.NamedExecContext(ctx, insertModelCall, call); err != nil {
				return fmt.Errorf("failed to insert model call: %w", err)
			}
		}
		return nil
	})
}

// ListByRequest returns the attempts of one request in attempt order
func (r *ModelCallRepository) ListByRequest(ctx context.Context, requestID string) ([]*models.ModelCall, error) {
	query := r.db.conn.Rebind(`SELECT ` + modelCallColumns + ` FROM model_calls WHERE request_id = ? ORDER BY attempt, call_time`)

	var calls []*models.ModelCall
	if err := r.db.conn.SelectContext(ctx, &calls, query, requestID); err != nil {
		return nil, fmt.Errorf("failed to list model calls: %w", err)
	}
	return calls, nil
}

// withTx runs fn inside a transaction, committing only when fn succeeds.
func withTx(ctx context.Context, db *DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
