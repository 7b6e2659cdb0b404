package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"cloudcompanion/internal/platform/models"
)

type rowScanner interface {
	Scan(dest ...interface{}) error
}

type APIKeyRepository struct {
	db *sqlx.DB
}

func NewAPIKeyRepository(db *sqlx.DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

const apiKeyColumns = `id, name, api_key, is_active, last_error, last_checked_at, last_balance, created_at, updated_at`

func scanAPIKey(row rowScanner) (*models.APIKey, error) {
	var k models.APIKey
	var lastError sql.NullString
	var lastChecked sql.NullInt64
	var lastBalance sql.NullString

	if err := row.Scan(&k.ID, &k.Name, &k.Secret, &k.IsActive, &lastError, &lastChecked, &lastBalance, &k.CreatedAt, &k.UpdatedAt); err != nil {
		return nil, err
	}

	if lastError.Valid {
		k.LastError = &lastError.String
	}
	if lastChecked.Valid {
		k.LastCheckedAt = new(int64)
		*k.LastCheckedAt = lastChecked.Int64
	}
	if lastBalance.Valid && lastBalance.String != "" {
		k.LastBalance = json.RawMessage(lastBalance.String)
	}
	return &k, nil
}

func (r *APIKeyRepository) Create(ctx context.Context, key *models.APIKey) error {
	if key.ID == "" {
		key.ID = "key_" + uuid.New().String()
	}
	now := time.Now().Unix()
	key.CreatedAt = now
	key.UpdatedAt = now
	key.IsActive = true

	query := r.db.Rebind(`
		INSERT INTO digitalocean_api_keys (id, name, api_key, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	_, err := r.db.ExecContext(ctx, query, key.ID, key.Name, key.Secret, key.IsActive, key.CreatedAt, key.UpdatedAt)
	return err
}

func (r *APIKeyRepository) GetByID(ctx context.Context, id string) (*models.APIKey, error) {
	query := r.db.Rebind(`SELECT ` + apiKeyColumns + ` FROM digitalocean_api_keys WHERE id = ?`)
	k, err := scanAPIKey(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return k, nil
}

// GetOldestActive returns the current key of the pool: the earliest-created active key.
func (r *APIKeyRepository) GetOldestActive(ctx context.Context) (*models.APIKey, error) {
	query := r.db.Rebind(`
		SELECT ` + apiKeyColumns + ` FROM digitalocean_api_keys
		WHERE is_active = ?
		ORDER BY created_at ASC, id ASC
		LIMIT 1
	`)
	k, err := scanAPIKey(r.db.QueryRowContext(ctx, query, true))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return k, nil
}

func (r *APIKeyRepository) List(ctx context.Context) ([]*models.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM digitalocean_api_keys ORDER BY created_at ASC, id ASC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := []*models.APIKey{}
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Update applies the non-nil fields. Reactivating a key clears its last error.
func (r *APIKeyRepository) Update(ctx context.Context, id string, name *string, isActive *bool) error {
	now := time.Now().Unix()
	if name != nil {
		query := r.db.Rebind(`UPDATE digitalocean_api_keys SET name = ?, updated_at = ? WHERE id = ?`)
		if _, err := r.db.ExecContext(ctx, query, *name, now, id); err != nil {
			return err
		}
	}
	if isActive != nil {
		query := `UPDATE digitalocean_api_keys SET is_active = ?, updated_at = ? WHERE id = ?`
		if *isActive {
			query = `UPDATE digitalocean_api_keys SET is_active = ?, last_error = NULL, updated_at = ? WHERE id = ?`
		}
		if _, err := r.db.ExecContext(ctx, r.db.Rebind(query), *isActive, now, id); err != nil {
			return err
		}
	}
	return nil
}

func (r *APIKeyRepository) Deactivate(ctx context.Context, id, message string, at int64) error {
	query := r.db.Rebind(`
		UPDATE digitalocean_api_keys
		SET is_active = ?, last_error = ?, last_checked_at = ?, updated_at = ?
		WHERE id = ?
	`)
	_, err := r.db.ExecContext(ctx, query, false, message, at, at, id)
	return err
}

func (r *APIKeyRepository) RecordBalance(ctx context.Context, id string, balance json.RawMessage, at int64) error {
	query := r.db.Rebind(`
		UPDATE digitalocean_api_keys
		SET last_balance = ?, last_error = NULL, last_checked_at = ?, updated_at = ?
		WHERE id = ?
	`)
	_, err := r.db.ExecContext(ctx, query, string(balance), at, at, id)
	return err
}

func (r *APIKeyRepository) RecordError(ctx context.Context, id, message string, at int64) error {
	query := r.db.Rebind(`
		UPDATE digitalocean_api_keys
		SET last_error = ?, last_checked_at = ?, updated_at = ?
		WHERE id = ?
	`)
	_, err := r.db.ExecContext(ctx, query, message, at, at, id)
	return err
}

func (r *APIKeyRepository) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM digitalocean_api_keys WHERE id = ?`), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
