package models

import (
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// KeyPrefixLen is how many leading characters of a raw key are stored in
// clear for lookup.
const KeyPrefixLen = 8

// APIKey is a bearer credential owned by an account. Only the bcrypt hash of
// the raw key is persisted.
type APIKey struct {
	ID         uuid.UUID  `db:"id"           json:"id"`
	AccountID  uuid.UUID  `db:"account_id"   json:"account_id"`
	Name       string     `db:"name"         json:"name"`
	KeyHash    string     `db:"key_hash"     json:"-"`
	KeyPrefix  string     `db:"key_prefix"   json:"key_prefix"`
	Scopes     []string   `db:"scopes"       json:"scopes"`
	LastUsedAt *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
	DeletedAt  *time.Time `db:"deleted_at"   json:"-"`
	CreatedAt  time.Time  `db:"created_at"   json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at"   json:"updated_at"`
}

// KeyPrefix returns the lookup prefix of raw, or false when raw is too short
// to be a key.
func KeyPrefix(raw string) (string, bool) {
	if len(raw) < KeyPrefixLen {
		return "", false
	}
	return raw[:KeyPrefixLen], true
}

// Matches reports whether raw hashes to this key. Revoked keys never match.
func (k *APIKey) Matches(raw string) bool {
	if k.DeletedAt != nil {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(k.KeyHash), []byte(raw)) == nil
}
