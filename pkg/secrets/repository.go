package secrets

import (
	"context"
	"errors"
	"time"
)

// ErrRecordNotFound is returned when no secret record exists for a key.
var ErrRecordNotFound = errors.New("secret record not found")

// Key identifies a secret record by its composite identity.
type Key struct {
	AccountID string
	Provider  string
}

// SecretRecord holds the per-account two-factor secret state. At most
// one of PendingSecret (enrollment in progress) and Enabled drives
// verification at a time: confirmation promotes PendingSecret into
// Secret and clears it.
type SecretRecord struct {
	AccountID     string    `json:"account_id"`
	Provider      string    `json:"provider"`
	Secret        string    `json:"secret,omitempty"`
	PendingSecret string    `json:"pending_secret,omitempty"`
	Enabled       bool      `json:"enabled"`
	LastUsedStep  int64     `json:"last_used_step"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Key returns the record's composite key.
func (r SecretRecord) Key() Key {
	return Key{AccountID: r.AccountID, Provider: r.Provider}
}

// SecretRepository defines the storage contract for secret records.
// Put is an upsert and must be atomic per key; no cross-key transactions
// are required.
type SecretRepository interface {
	Get(ctx context.Context, key Key) (SecretRecord, error)
	Put(ctx context.Context, record SecretRecord) error
	Delete(ctx context.Context, key Key) error
}
