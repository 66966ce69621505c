package models

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// CredentialType tells adapters how to interpret a decrypted credential value.
type CredentialType string

const (
	CredentialTypeAPIKey        CredentialType = "api_key"
	CredentialTypeAccessKeyPair CredentialType = "access_key_pair"
)

// Credential is a secret attached to a provider. Value holds the encrypted token;
// it is decrypted only when an adapter is built for an attempt.
type Credential struct {
	ID             uuid.UUID      `db:"id" json:"id"`
	ProviderID     uuid.UUID      `db:"provider_id" json:"providerId"`
	Name           string         `db:"name" json:"name"`
	Value          string         `db:"value" json:"-"`
	CredentialType CredentialType `db:"credential_type" json:"credentialType"`
	Active         bool           `db:"active" json:"active"`
	Weight         int            `db:"weight" json:"weight"`
	UsageCount     int64          `db:"usage_count" json:"usageCount"`
	Error          sql.NullString `db:"error" json:"-"`
	LastUsedAt     sql.NullTime   `db:"last_used_at" json:"-"`
	CreatedAt      time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updatedAt"`
}

// DefaultCredentialWeight is the rotation weight of a credential created without one.
const DefaultCredentialWeight = 100

// EffectiveWeight is the rotation weight; non-positive weights count as the default.
func (c *Credential) EffectiveWeight() int {
	if c.Weight <= 0 {
		return DefaultCredentialWeight
	}
	return c.Weight
}

// AccessKeyPair is the decrypted form of an access_key_pair credential.
type AccessKeyPair struct {
	AccessKeyID     string `json:"accessKeyId"`
	SecretAccessKey string `json:"secretAccessKey"`
	SessionToken    string `json:"sessionToken,omitempty"`
}

// CredentialPatch lists the mutable fields of a credential. Nil fields are left unchanged.
type CredentialPatch struct {
	Active *bool
	Error  *string
}
