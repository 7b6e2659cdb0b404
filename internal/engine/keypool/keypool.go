// Package keypool selects the DigitalOcean credential used for provider calls and
// retires credentials the provider rejects.
package keypool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"cloudcompanion/internal/engine/digitalocean"
	"cloudcompanion/internal/pkg/logger"
	"cloudcompanion/internal/pkg/metrics"
	"cloudcompanion/internal/platform/models"
)

var (
	ErrNoActiveKey = errors.New("no active DigitalOcean API key configured")
	ErrKeyNotFound = errors.New("API key not found")
)

type Store interface {
	GetOldestActive(ctx context.Context) (*models.APIKey, error)
	GetByID(ctx context.Context, id string) (*models.APIKey, error)
	List(ctx context.Context) ([]*models.APIKey, error)
	Deactivate(ctx context.Context, id, message string, at int64) error
	RecordBalance(ctx context.Context, id string, balance json.RawMessage, at int64) error
	RecordError(ctx context.Context, id, message string, at int64) error
}

type BillingProvider interface {
	Balance(ctx context.Context, token string) (json.RawMessage, error)
	BillingHistory(ctx context.Context, token string) (json.RawMessage, error)
}

type Manager struct {
	store    Store
	provider BillingProvider
	log      zerolog.Logger
	now      func() time.Time
}

func NewManager(store Store, provider BillingProvider) *Manager {
	return &Manager{
		store:    store,
		provider: provider,
		log:      logger.WithComponent("keypool"),
		now:      time.Now,
	}
}

// ActiveKey returns the earliest-created active key. It is read from the store on
// every call so a deactivation by any process takes effect immediately.
func (m *Manager) ActiveKey(ctx context.Context) (*models.APIKey, error) {
	key, err := m.store.GetOldestActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("load active key: %w", err)
	}
	if key == nil {
		return nil, ErrNoActiveKey
	}
	return key, nil
}

func (m *Manager) Deactivate(ctx context.Context, keyID, message string) error {
	if err := m.store.Deactivate(ctx, keyID, message, m.now().Unix()); err != nil {
		return fmt.Errorf("deactivate key: %w", err)
	}
	metrics.KeyDeactivationsTotal.Inc()
	return nil
}

// Report inspects the outcome of a provider call made with key. Authentication
// failures retire the key; everything else leaves it alone. A failed deactivation
// is logged and swallowed.
func (m *Manager) Report(ctx context.Context, key *models.APIKey, err error) {
	if key == nil || !digitalocean.IsAuthError(err) {
		return
	}

	ctx = context.WithoutCancel(ctx)
	if derr := m.Deactivate(ctx, key.ID, err.Error()); derr != nil {
		m.log.Error().Err(derr).
			Str("key_id", key.ID).
			Str("key_suffix", logger.KeySuffix(key.Secret)).
			Msg("failed to deactivate rejected API key")
		return
	}
	m.log.Warn().
		Str("key_id", key.ID).
		Str("key_suffix", logger.KeySuffix(key.Secret)).
		Str("reason", err.Error()).
		Msg("API key deactivated after authentication failure")
}

// BalanceResult is what an admin sees after a balance check.
type BalanceResult struct {
	KeyID          string          `json:"keyId"`
	IsActive       bool            `json:"isActive"`
	Balance        json.RawMessage `json:"balance,omitempty"`
	BillingHistory json.RawMessage `json:"billingHistory,omitempty"`
	Error          string          `json:"error,omitempty"`
}

// CheckBalance probes one key against the billing endpoints and records the outcome.
func (m *Manager) CheckBalance(ctx context.Context, keyID string) (*BalanceResult, error) {
	key, err := m.store.GetByID(ctx, keyID)
	if err != nil {
		return nil, fmt.Errorf("load key: %w", err)
	}
	if key == nil {
		return nil, ErrKeyNotFound
	}

	now := m.now().Unix()
	balance, err := m.provider.Balance(ctx, key.Secret)
	var history json.RawMessage
	if err == nil {
		history, err = m.provider.BillingHistory(ctx, key.Secret)
	}

	if err != nil {
		if digitalocean.IsAuthError(err) {
			if derr := m.Deactivate(ctx, key.ID, err.Error()); derr != nil {
				return nil, derr
			}
			m.log.Warn().Str("key_id", key.ID).Str("key_suffix", logger.KeySuffix(key.Secret)).
				Msg("API key deactivated by balance check")
			return &BalanceResult{KeyID: key.ID, IsActive: false, Error: err.Error()}, nil
		}
		if rerr := m.store.RecordError(ctx, key.ID, err.Error(), now); rerr != nil {
			return nil, fmt.Errorf("record key error: %w", rerr)
		}
		return &BalanceResult{KeyID: key.ID, IsActive: key.IsActive, Error: err.Error()}, nil
	}

	snapshot, err := json.Marshal(map[string]json.RawMessage{
		"balance":         nonNull(balance),
		"billing_history": nonNull(history),
	})
	if err != nil {
		return nil, fmt.Errorf("encode balance: %w", err)
	}
	if err := m.store.RecordBalance(ctx, key.ID, snapshot, now); err != nil {
		return nil, fmt.Errorf("record balance: %w", err)
	}

	return &BalanceResult{
		KeyID:          key.ID,
		IsActive:       key.IsActive,
		Balance:        balance,
		BillingHistory: history,
	}, nil
}

// CheckAll runs CheckBalance over every key, active or not, and returns how many
// were checked and how many ended with an error.
func (m *Manager) CheckAll(ctx context.Context) (checked, failed int, err error) {
	keys, err := m.store.List(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("list keys: %w", err)
	}

	for _, key := range keys {
		if ctx.Err() != nil {
			return checked, failed, ctx.Err()
		}
		res, err := m.CheckBalance(ctx, key.ID)
		checked++
		if err != nil {
			failed++
			m.log.Error().Err(err).Str("key_id", key.ID).Msg("balance check failed")
			continue
		}
		if res.Error != "" {
			failed++
		}
	}
	return checked, failed, nil
}

func nonNull(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	return raw
}
