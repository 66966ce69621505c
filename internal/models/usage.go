package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Usage is the billable consumption of a successful call. UsedCredits is null
// when no ModelRate existed for the model at record time.
type Usage struct {
	ID                      uuid.UUID           `db:"id" json:"id"`
	UserDid                 string              `db:"user_did" json:"userDid"`
	AppID                   string              `db:"app_id" json:"appId"`
	Type                    CallType            `db:"type" json:"type"`
	Model                   string              `db:"model" json:"model"`
	ProviderID              uuid.UUID           `db:"provider_id" json:"providerId"`
	PromptTokens            int                 `db:"prompt_tokens" json:"promptTokens"`
	CompletionTokens        int                 `db:"completion_tokens" json:"completionTokens"`
	NumberOfImageGeneration int                 `db:"number_of_image_generation" json:"numberOfImageGeneration"`
	MediaDuration           int                 `db:"media_duration" json:"mediaDuration"`
	UsedCredits             decimal.NullDecimal `db:"used_credits" json:"usedCredits"`
	CreatedAt               time.Time           `db:"created_at" json:"createdAt"`
}

// Meter describes the ledger meter that credits are charged against.
type Meter struct {
	Name       string `json:"name"`
	CurrencyID string `json:"currencyId"`
	Unit       string `json:"unit"`
}
