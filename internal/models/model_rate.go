package models

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CallType is the kind of model invocation.
type CallType string

const (
	CallTypeChatCompletion  CallType = "chatCompletion"
	CallTypeEmbedding       CallType = "embedding"
	CallTypeImageGeneration CallType = "imageGeneration"
	CallTypeVideo           CallType = "video"
)

// Valid reports whether t is one of the known call types.
func (t CallType) Valid() bool {
	switch t {
	case CallTypeChatCompletion, CallTypeEmbedding, CallTypeImageGeneration, CallTypeVideo:
		return true
	}
	return false
}

// ModelRate is the billing rate of a model on a provider.
// Token rates are per 1000 tokens; image rates per image; video rates per second.
type ModelRate struct {
	ID         uuid.UUID       `db:"id" json:"id"`
	ProviderID uuid.UUID       `db:"provider_id" json:"providerId"`
	Model      string          `db:"model" json:"model"`
	Type       CallType        `db:"type" json:"type"`
	InputRate  decimal.Decimal `db:"input_rate" json:"inputRate"`
	OutputRate decimal.Decimal `db:"output_rate" json:"outputRate"`
	// ModelDisplay and Description are optional labels for listings.
	ModelDisplay sql.NullString `db:"model_display" json:"-"`
	Description  sql.NullString `db:"description" json:"-"`
	CreatedAt    time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time      `db:"updated_at" json:"updatedAt"`
}
