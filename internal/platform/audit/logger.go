package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
)

type AuditLog struct {
	ID           string                 `json:"id"`
	UserID       string                 `json:"user_id"`
	Action       string                 `json:"action"`
	ResourceType string                 `json:"resource_type"`
	ResourceID   string                 `json:"resource_id"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt    int64                  `json:"created_at"`
}

// Logger records mutating actions. Writes happen off the request path.
type Logger struct {
	db *sqlx.DB
	wg sync.WaitGroup
}

func NewLogger(db *sqlx.DB) *Logger {
	return &Logger{db: db}
}

func (l *Logger) Log(userID, action, resourceType, resourceID string, metadata map[string]interface{}) {
	entry := &AuditLog{
		ID:           "audit_" + uuid.New().String(),
		UserID:       userID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Metadata:     metadata,
		CreatedAt:    time.Now().Unix(),
	}

	var meta interface{}
	if len(metadata) > 0 {
		b, _ := json.Marshal(metadata)
		meta = string(b)
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		query := l.db.Rebind(`
			INSERT INTO audit_logs (id, user_id, action, resource_type, resource_id, metadata, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`)
		if _, err := l.db.Exec(query, entry.ID, entry.UserID, entry.Action, entry.ResourceType, entry.ResourceID, meta, entry.CreatedAt); err != nil {
			log.Error().Err(err).Str("action", action).Msg("failed to write audit log")
		}
	}()
}

// Wait blocks until pending writes have finished.
func (l *Logger) Wait() {
	l.wg.Wait()
}

func (l *Logger) List(ctx context.Context, limit int) ([]*AuditLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := l.db.QueryContext(ctx, l.db.Rebind(`
		SELECT id, user_id, action, resource_type, resource_id, metadata, created_at
		FROM audit_logs ORDER BY created_at DESC LIMIT ?
	`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := []*AuditLog{}
	for rows.Next() {
		entry := &AuditLog{}
		var meta sql.NullString
		if err := rows.Scan(&entry.ID, &entry.UserID, &entry.Action, &entry.ResourceType, &entry.ResourceID, &meta, &entry.CreatedAt); err != nil {
			return nil, err
		}
		if meta.Valid && meta.String != "" {
			_ = json.Unmarshal([]byte(meta.String), &entry.Metadata)
		}
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}
