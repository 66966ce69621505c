package storage

import (
	"context"

	"github.com/google/uuid"

	"aigateway/internal/models"
)

// Store groups the repositories behind the configuration store reads and the
// recorder writes.
type Store struct {
	db          *DB
	Providers   *ProviderRepository
	Credentials *CredentialRepository
	ModelRates  *ModelRateRepository
	ModelCalls  *ModelCallRepository
	Usages      *UsageRepository
}

// NewStore builds a Store over db
func NewStore(db *DB) *Store {
	return &Store{
		db:          db,
		Providers:   db.NewProviderRepository(),
		Credentials: db.NewCredentialRepository(),
		ModelRates:  db.NewModelRateRepository(),
		ModelCalls:  db.NewModelCallRepository(),
		Usages:      db.NewUsageRepository(),
	}
}

// DB returns the underlying database
func (s *Store) DB() *DB {
	return s.db
}

func (s *Store) FindProviders(ctx context.Context, f ProviderFilter) ([]*models.Provider, error) {
	return s.Providers.Find(ctx, f)
}

func (s *Store) FindCredentials(ctx context.Context, f CredentialFilter) ([]*models.Credential, error) {
	return s.Credentials.Find(ctx, f)
}

func (s *Store) FindModelRates(ctx context.Context, f ModelRateFilter) ([]*models.ModelRate, error) {
	return s.ModelRates.Find(ctx, f)
}

func (s *Store) UpdateCredential(ctx context.Context, id uuid.UUID, patch models.CredentialPatch) error {
	return s.Credentials.Update(ctx, id, patch)
}
