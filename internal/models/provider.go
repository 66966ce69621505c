package models

import (
	"time"

	"github.com/google/uuid"
)

// Provider is an upstream host able to serve models, identified by its vendor name
// (openai, anthropic, bedrock, openRouter, ...).
type Provider struct {
	ID          uuid.UUID `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	DisplayName string    `db:"display_name" json:"displayName"`
	BaseURL     string    `db:"base_url" json:"baseUrl"`
	Region      string    `db:"region" json:"region"`
	Config      JSONB     `db:"config" json:"config,omitempty"`
	Enabled     bool      `db:"enabled" json:"enabled"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time `db:"updated_at" json:"updatedAt"`
}

// ConfigString returns a string setting from Config, or "" when absent.
func (p *Provider) ConfigString(key string) string {
	if p == nil || p.Config == nil {
		return ""
	}
	if v, ok := p.Config[key].(string); ok {
		return v
	}
	return ""
}
