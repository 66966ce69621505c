package storage

import (
	"context"
	"fmt"
)

// schema is valid for both PostgreSQL and SQLite.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS providers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL DEFAULT '',
		base_url TEXT NOT NULL DEFAULT '',
		region TEXT NOT NULL DEFAULT '',
		config TEXT,
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS credentials (
		id TEXT PRIMARY KEY,
		provider_id TEXT NOT NULL REFERENCES providers(id),
		name TEXT NOT NULL DEFAULT '',
		value TEXT NOT NULL,
		credential_type TEXT NOT NULL DEFAULT 'api_key',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		weight INTEGER NOT NULL DEFAULT 100,
		usage_count BIGINT NOT NULL DEFAULT 0,
		error TEXT,
		last_used_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_credentials_provider ON credentials (provider_id, active)`,
	`CREATE TABLE IF NOT EXISTS model_rates (
		id TEXT PRIMARY KEY,
		provider_id TEXT NOT NULL REFERENCES providers(id),
		model TEXT NOT NULL,
		type TEXT NOT NULL,
		input_rate NUMERIC(20, 10) NOT NULL DEFAULT 0,
		output_rate NUMERIC(20, 10) NOT NULL DEFAULT 0,
		model_display TEXT,
		description TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE (provider_id, model, type)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_model_rates_model ON model_rates (model, type)`,
	`CREATE TABLE IF NOT EXISTS model_calls (
		id TEXT PRIMARY KEY,
		request_id TEXT NOT NULL,
		user_did TEXT NOT NULL,
		app_id TEXT NOT NULL DEFAULT '',
		provider_id TEXT NOT NULL,
		credential_id TEXT NOT NULL,
		model TEXT NOT NULL,
		type TEXT NOT NULL,
		status TEXT NOT NULL,
		error_reason TEXT,
		attempt INTEGER NOT NULL,
		streaming BOOLEAN NOT NULL DEFAULT FALSE,
		prompt_tokens INTEGER NOT NULL DEFAULT 0,
		completion_tokens INTEGER NOT NULL DEFAULT 0,
		total_tokens INTEGER NOT NULL DEFAULT 0,
		duration_ms BIGINT NOT NULL DEFAULT 0,
		call_time TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_model_calls_request ON model_calls (request_id)`,
	`CREATE TABLE IF NOT EXISTS usages (
		id TEXT PRIMARY KEY,
		user_did TEXT NOT NULL,
		app_id TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL,
		model TEXT NOT NULL,
		provider_id TEXT NOT NULL,
		prompt_tokens INTEGER NOT NULL DEFAULT 0,
		completion_tokens INTEGER NOT NULL DEFAULT 0,
		number_of_image_generation INTEGER NOT NULL DEFAULT 0,
		media_duration INTEGER NOT NULL DEFAULT 0,
		used_credits NUMERIC(30, 10),
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_usages_user ON usages (user_did, created_at)`,
}

// Migrate creates the gateway tables when they do not exist.
func (db *DB) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration step %d: %w", i, err)
		}
	}
	return nil
}
