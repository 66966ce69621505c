package models

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// CallStatus is the outcome of one provider attempt.
type CallStatus string

const (
	CallStatusSuccess CallStatus = "success"
	CallStatusFailed  CallStatus = "failed"
)

// ModelCall records a single provider attempt. A request that retries produces one
// row per attempt, and at most one of them has CallStatusSuccess.
type ModelCall struct {
	ID               uuid.UUID      `db:"id" json:"id"`
	RequestID        string         `db:"request_id" json:"requestId"`
	UserDid          string         `db:"user_did" json:"userDid"`
	AppID            string         `db:"app_id" json:"appId"`
	ProviderID       uuid.UUID      `db:"provider_id" json:"providerId"`
	CredentialID     uuid.UUID      `db:"credential_id" json:"credentialId"`
	Model            string         `db:"model" json:"model"`
	Type             CallType       `db:"type" json:"type"`
	Status           CallStatus     `db:"status" json:"status"`
	ErrorReason      sql.NullString `db:"error_reason" json:"errorReason"`
	Attempt          int            `db:"attempt" json:"attempt"`
	Streaming        bool           `db:"streaming" json:"streaming"`
	PromptTokens     int            `db:"prompt_tokens" json:"promptTokens"`
	CompletionTokens int            `db:"completion_tokens" json:"completionTokens"`
	TotalTokens      int            `db:"total_tokens" json:"totalTokens"`
	DurationMs       int64          `db:"duration_ms" json:"durationMs"`
	CallTime         time.Time      `db:"call_time" json:"callTime"`
}
