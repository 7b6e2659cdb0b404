package models

import (
	"encoding/json"
	"strings"
)

// APIKey is a DigitalOcean personal access token in the shared provider pool.
type APIKey struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Secret        string          `json:"-"`
	IsActive      bool            `json:"is_active"`
	LastError     *string         `json:"last_error,omitempty"`
	LastCheckedAt *int64          `json:"last_checked_at,omitempty"`
	LastBalance   json.RawMessage `json:"last_balance,omitempty"` // JSON text in DB
	CreatedAt     int64           `json:"created_at"`
	UpdatedAt     int64           `json:"updated_at"`
}

// Masked returns the secret with everything but the last four characters hidden.
func (k *APIKey) Masked() string {
	if len(k.Secret) <= 4 {
		return strings.Repeat("*", len(k.Secret))
	}
	return strings.Repeat("*", 8) + k.Secret[len(k.Secret)-4:]
}

// APIKeyView is the admin listing shape; the secret never leaves the server in full.
type APIKeyView struct {
	*APIKey
	MaskedKey string `json:"masked_key"`
}

func NewAPIKeyView(k *APIKey) *APIKeyView {
	return &APIKeyView{APIKey: k, MaskedKey: k.Masked()}
}
