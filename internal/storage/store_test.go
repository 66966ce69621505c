package storage

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aigateway/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := NewDB(DBConfig{Driver: "sqlite", URL: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.Migrate(context.Background()))
	return NewStore(db)
}

func seedProvider(t *testing.T, s *Store, name string, enabled bool) *models.Provider {
	t.Helper()
	p := &models.Provider{Name: name, DisplayName: name, Enabled: enabled, Config: models.JSONB{"apiVersion": "v1"}}
	require.NoError(t, s.Providers.Create(context.Background(), p))
	return p
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.DB().Migrate(context.Background()))
	require.NoError(t, s.DB().Health(context.Background()))
}

func TestProviderRepository(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	openai := seedProvider(t, s, "openai", true)
	seedProvider(t, s, "anthropic", true)
	seedProvider(t, s, "poe", false)

	got, err := s.Providers.GetByName(ctx, "openai")
	require.NoError(t, err)
	assert.Equal(t, openai.ID, got.ID)
	assert.Equal(t, "v1", got.ConfigString("apiVersion"))
	assert.True(t, got.Enabled)

	byID, err := s.Providers.GetByID(ctx, openai.ID)
	require.NoError(t, err)
	assert.Equal(t, "openai", byID.Name)

	_, err = s.Providers.GetByName(ctx, "missing")
	assert.ErrorIs(t, err, ErrProviderNotFound)

	enabled, err := s.FindProviders(ctx, ProviderFilter{EnabledOnly: true})
	require.NoError(t, err)
	require.Len(t, enabled, 2)
	assert.Equal(t, "anthropic", enabled[0].Name)

	named, err := s.FindProviders(ctx, ProviderFilter{Names: []string{"poe", "openai"}})
	require.NoError(t, err)
	assert.Len(t, named, 2)

	require.NoError(t, s.Providers.SetEnabled(ctx, openai.ID, false))
	enabled, err = s.FindProviders(ctx, ProviderFilter{EnabledOnly: true, Names: []string{"openai"}})
	require.NoError(t, err)
	assert.Empty(t, enabled)

	assert.ErrorIs(t, s.Providers.SetEnabled(ctx, uuid.New(), true), ErrProviderNotFound)
}

func TestCredentialRepository(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	p := seedProvider(t, s, "openai", true)
	other := seedProvider(t, s, "xai", true)

	a := &models.Credential{ProviderID: p.ID, Name: "a", Value: "tok-a", Active: true, Weight: 10}
	b := &models.Credential{ProviderID: p.ID, Name: "b", Value: "tok-b", Active: false, Weight: 10}
	c := &models.Credential{ProviderID: other.ID, Name: "c", Value: "tok-c", Active: true}
	for _, cred := range []*models.Credential{a, b, c} {
		require.NoError(t, s.Credentials.Create(ctx, cred))
	}

	active, err := s.FindCredentials(ctx, CredentialFilter{ProviderIDs: []uuid.UUID{p.ID}, ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, a.ID, active[0].ID)
	assert.Equal(t, models.CredentialTypeAPIKey, active[0].CredentialType)

	both, err := s.FindCredentials(ctx, CredentialFilter{ProviderIDs: []uuid.UUID{p.ID, other.ID}, ActiveOnly: true})
	require.NoError(t, err)
	assert.Len(t, both, 2)

	stored, err := s.Credentials.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultCredentialWeight, stored.Weight)

	inactive := false
	reason := "401 invalid api key"
	require.NoError(t, s.UpdateCredential(ctx, a.ID, models.CredentialPatch{Active: &inactive, Error: &reason}))

	got, err := s.Credentials.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
	assert.Equal(t, sql.NullString{String: reason, Valid: true}, got.Error)

	require.NoError(t, s.Credentials.IncrementUsage(ctx, c.ID, time.Now()))
	got, err = s.Credentials.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.UsageCount)
	assert.True(t, got.LastUsedAt.Valid)

	assert.ErrorIs(t, s.UpdateCredential(ctx, uuid.New(), models.CredentialPatch{Active: &inactive}), ErrCredentialNotFound)
}

func TestModelRateRepository(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	p := seedProvider(t, s, "openai", true)

	rate := &models.ModelRate{
		ProviderID:   p.ID,
		Model:        "gpt-4o",
		Type:         models.CallTypeChatCompletion,
		InputRate:    decimal.RequireFromString("0.0025"),
		OutputRate:   decimal.RequireFromString("0.01"),
		ModelDisplay: sql.NullString{String: "GPT-4o", Valid: true},
	}
	require.NoError(t, s.ModelRates.Create(ctx, rate))

	rates, err := s.FindModelRates(ctx, ModelRateFilter{Model: "gpt-4o", Type: models.CallTypeChatCompletion})
	require.NoError(t, err)
	require.Len(t, rates, 1)
	assert.True(t, rates[0].InputRate.Equal(rate.InputRate), "input rate %s", rates[0].InputRate)
	assert.True(t, rates[0].OutputRate.Equal(rate.OutputRate), "output rate %s", rates[0].OutputRate)
	assert.Equal(t, sql.NullString{String: "GPT-4o", Valid: true}, rates[0].ModelDisplay)
	assert.False(t, rates[0].Description.Valid)

	none, err := s.FindModelRates(ctx, ModelRateFilter{Model: "gpt-4o", Type: models.CallTypeEmbedding})
	require.NoError(t, err)
	assert.Empty(t, none)

	scoped, err := s.FindModelRates(ctx, ModelRateFilter{Model: "gpt-4o", ProviderIDs: []uuid.UUID{uuid.New()}})
	require.NoError(t, err)
	assert.Empty(t, scoped)
}

func TestModelCallAndUsageRepositories(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	now := time.Now().UTC()
	calls := []*models.ModelCall{
		{RequestID: "req-1", UserDid: "did:abt:u1", ProviderID: uuid.New(), CredentialID: uuid.New(), Model: "gpt-4o",
			Type: models.CallTypeChatCompletion, Status: models.CallStatusFailed, Attempt: 1,
			ErrorReason: sql.NullString{String: "503", Valid: true}, CallTime: now},
		{RequestID: "req-1", UserDid: "did:abt:u1", ProviderID: uuid.New(), CredentialID: uuid.New(), Model: "gpt-4o",
			Type: models.CallTypeChatCompletion, Status: models.CallStatusSuccess, Attempt: 2,
			PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15, CallTime: now},
	}
	require.NoError(t, s.ModelCalls.CreateBatch(ctx, calls))
	require.NoError(t, s.ModelCalls.Create(ctx, &models.ModelCall{RequestID: "req-2", UserDid: "u", Model: "m",
		Type: models.CallTypeEmbedding, Status: models.CallStatusSuccess, Attempt: 1, CallTime: now}))

	got, err := s.ModelCalls.ListByRequest(ctx, "req-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, models.CallStatusFailed, got[0].Status)
	assert.Equal(t, "503", got[0].ErrorReason.String)
	assert.Equal(t, models.CallStatusSuccess, got[1].Status)
	assert.Equal(t, 15, got[1].TotalTokens)

	credits := decimal.NewNullDecimal(decimal.RequireFromString("0.075"))
	usages := []*models.Usage{
		{UserDid: "did:abt:u1", Type: models.CallTypeChatCompletion, Model: "gpt-4o", ProviderID: uuid.New(),
			PromptTokens: 10, CompletionTokens: 5, UsedCredits: credits, CreatedAt: now},
		{UserDid: "did:abt:u1", Type: models.CallTypeImageGeneration, Model: "dall-e-3", ProviderID: uuid.New(),
			NumberOfImageGeneration: 2, CreatedAt: now.Add(time.Second)},
	}
	require.NoError(t, s.Usages.CreateBatch(ctx, usages))

	list, err := s.Usages.ListByUser(ctx, "did:abt:u1", 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "dall-e-3", list[0].Model)
	assert.False(t, list[0].UsedCredits.Valid)
	assert.True(t, list[1].UsedCredits.Valid)
	assert.True(t, list[1].UsedCredits.Decimal.Equal(credits.Decimal))
}

func TestNewDBRejectsUnknownDriver(t *testing.T) {
	_, err := NewDB(DBConfig{Driver: "mysql", URL: "x"})
	assert.Error(t, err)
}
