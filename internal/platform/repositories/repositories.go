package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"cloudcompanion/internal/platform/models"
)

type UserRepository struct {
	db *sqlx.DB
}

func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	return r.db.BeginTxx(ctx, nil)
}

func (r *UserRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, user *models.User) error {
	_, err := tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO users (id, email, password_hash, created_at)
		VALUES (?, ?, ?, ?)
	`), user.ID, user.Email, user.PasswordHash, user.CreatedAt)
	return err
}

func (r *UserRepository) CreateProfileTx(ctx context.Context, tx *sqlx.Tx, p *models.Profile) error {
	_, err := tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO profiles (id, email, full_name, created_at)
		VALUES (?, ?, ?, ?)
	`), p.ID, p.Email, p.FullName, p.CreatedAt)
	return err
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getOne(ctx, `SELECT id, email, password_hash, last_login_at, created_at FROM users WHERE email = ?`, email)
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	return r.getOne(ctx, `SELECT id, email, password_hash, last_login_at, created_at FROM users WHERE id = ?`, id)
}

func (r *UserRepository) getOne(ctx context.Context, query string, arg interface{}) (*models.User, error) {
	user := &models.User{}
	var lastLogin sql.NullInt64
	err := r.db.QueryRowContext(ctx, r.db.Rebind(query), arg).
		Scan(&user.ID, &user.Email, &user.PasswordHash, &lastLogin, &user.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if lastLogin.Valid {
		user.LastLoginAt = &lastLogin.Int64
	}
	return user, nil
}

func (r *UserRepository) UpdateLastLogin(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE users SET last_login_at = ? WHERE id = ?`), time.Now().Unix(), id)
	return err
}

func (r *UserRepository) GetProfile(ctx context.Context, id string) (*models.Profile, error) {
	p := &models.Profile{}
	err := r.db.QueryRowContext(ctx, r.db.Rebind(`
		SELECT id, email, full_name, created_at FROM profiles WHERE id = ?
	`), id).Scan(&p.ID, &p.Email, &p.FullName, &p.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

// ListSummaries returns every profile with its role, limits and droplet count.
func (r *UserRepository) ListSummaries(ctx context.Context) ([]*models.UserSummary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT p.id, p.email, p.full_name, p.created_at,
		       COALESCE(ur.role, 'user'),
		       ul.max_droplets, ul.allowed_sizes, ul.auto_destroy_days, ul.updated_at,
		       (SELECT COUNT(*) FROM droplets d WHERE d.user_id = p.id)
		FROM profiles p
		LEFT JOIN user_roles ur ON ur.user_id = p.id
		LEFT JOIN user_limits ul ON ul.user_id = p.id
		ORDER BY p.created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := []*models.UserSummary{}
	for rows.Next() {
		s := &models.UserSummary{}
		var maxDroplets, autoDestroy sql.NullInt64
		var limitsUpdated sql.NullInt64
		var sizes pq.StringArray
		if err := rows.Scan(&s.ID, &s.Email, &s.FullName, &s.CreatedAt, &s.Role,
			&maxDroplets, &sizes, &autoDestroy, &limitsUpdated, &s.DropletCount); err != nil {
			return nil, err
		}
		if maxDroplets.Valid {
			s.Limits = &models.UserLimits{
				UserID:          s.ID,
				MaxDroplets:     int(maxDroplets.Int64),
				AllowedSizes:    sizes,
				AutoDestroyDays: int(autoDestroy.Int64),
				UpdatedAt:       limitsUpdated.Int64,
			}
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

type RoleRepository struct {
	db *sqlx.DB
}

func NewRoleRepository(db *sqlx.DB) *RoleRepository {
	return &RoleRepository{db: db}
}

// GetRole returns the stored role, defaulting to "user" when none is recorded.
func (r *RoleRepository) GetRole(ctx context.Context, userID string) (string, error) {
	var role string
	err := r.db.QueryRowContext(ctx, r.db.Rebind(`SELECT role FROM user_roles WHERE user_id = ?`), userID).Scan(&role)
	if err != nil {
		if err == sql.ErrNoRows {
			return models.RoleUser, nil
		}
		return "", err
	}
	return role, nil
}

func (r *RoleRepository) SetRole(ctx context.Context, userID, role string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(upsertRole), userID, role)
	return err
}

func (r *RoleRepository) SetRoleTx(ctx context.Context, tx *sqlx.Tx, userID, role string) error {
	_, err := tx.ExecContext(ctx, tx.Rebind(upsertRole), userID, role)
	return err
}

const upsertRole = `
	INSERT INTO user_roles (user_id, role) VALUES (?, ?)
	ON CONFLICT (user_id) DO UPDATE SET role = excluded.role
`

type LimitsRepository struct {
	db *sqlx.DB
}

func NewLimitsRepository(db *sqlx.DB) *LimitsRepository {
	return &LimitsRepository{db: db}
}

const upsertLimits = `
	INSERT INTO user_limits (user_id, max_droplets, allowed_sizes, auto_destroy_days, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT (user_id) DO UPDATE SET
		max_droplets = excluded.max_droplets,
		allowed_sizes = excluded.allowed_sizes,
		auto_destroy_days = excluded.auto_destroy_days,
		updated_at = excluded.updated_at
`

func (r *LimitsRepository) Get(ctx context.Context, userID string) (*models.UserLimits, error) {
	l := &models.UserLimits{}
	err := r.db.QueryRowContext(ctx, r.db.Rebind(`
		SELECT user_id, max_droplets, allowed_sizes, auto_destroy_days, updated_at
		FROM user_limits WHERE user_id = ?
	`), userID).Scan(&l.UserID, &l.MaxDroplets, &l.AllowedSizes, &l.AutoDestroyDays, &l.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return l, nil
}

// Upsert stores l. A nil AllowedSizes is stored as an empty list, which means any size.
func (r *LimitsRepository) Upsert(ctx context.Context, l *models.UserLimits) error {
	prepareLimits(l)
	_, err := r.db.ExecContext(ctx, r.db.Rebind(upsertLimits), l.UserID, l.MaxDroplets, l.AllowedSizes, l.AutoDestroyDays, l.UpdatedAt)
	return err
}

func (r *LimitsRepository) UpsertTx(ctx context.Context, tx *sqlx.Tx, l *models.UserLimits) error {
	prepareLimits(l)
	_, err := tx.ExecContext(ctx, tx.Rebind(upsertLimits), l.UserID, l.MaxDroplets, l.AllowedSizes, l.AutoDestroyDays, l.UpdatedAt)
	return err
}

func prepareLimits(l *models.UserLimits) {
	if l.AllowedSizes == nil {
		l.AllowedSizes = pq.StringArray{}
	}
	l.UpdatedAt = time.Now().Unix()
}

// ListAutoDestroy returns the limits rows that opt in to auto-destroy.
func (r *LimitsRepository) ListAutoDestroy(ctx context.Context) ([]*models.UserLimits, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id, max_droplets, allowed_sizes, auto_destroy_days, updated_at
		FROM user_limits WHERE auto_destroy_days > 0
		ORDER BY user_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.UserLimits
	for rows.Next() {
		l := &models.UserLimits{}
		if err := rows.Scan(&l.UserID, &l.MaxDroplets, &l.AllowedSizes, &l.AutoDestroyDays, &l.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

type InviteRepository struct {
	db *sqlx.DB
}

func NewInviteRepository(db *sqlx.DB) *InviteRepository {
	return &InviteRepository{db: db}
}

const inviteColumns = `id, key, is_active, used_by, used_at, max_uses, current_uses, preset_limits, created_by, created_at`

func scanInvite(row rowScanner) (*models.InviteKey, error) {
	inv := &models.InviteKey{}
	var usedBy, preset, createdBy sql.NullString
	var usedAt sql.NullInt64
	if err := row.Scan(&inv.ID, &inv.Key, &inv.IsActive, &usedBy, &usedAt, &inv.MaxUses, &inv.CurrentUses, &preset, &createdBy, &inv.CreatedAt); err != nil {
		return nil, err
	}
	if usedBy.Valid {
		inv.UsedBy = &usedBy.String
	}
	if usedAt.Valid {
		inv.UsedAt = &usedAt.Int64
	}
	if createdBy.Valid {
		inv.CreatedBy = &createdBy.String
	}
	if preset.Valid && preset.String != "" {
		var p models.LimitsPreset
		if err := json.Unmarshal([]byte(preset.String), &p); err != nil {
			return nil, err
		}
		inv.PresetLimits = &p
	}
	return inv, nil
}

func (r *InviteRepository) Create(ctx context.Context, inv *models.InviteKey) error {
	if inv.ID == "" {
		inv.ID = "inv_" + uuid.New().String()
	}
	inv.CreatedAt = time.Now().Unix()
	inv.IsActive = true
	if inv.MaxUses <= 0 {
		inv.MaxUses = 1
	}

	var preset interface{}
	if inv.PresetLimits != nil {
		b, err := json.Marshal(inv.PresetLimits)
		if err != nil {
			return err
		}
		preset = string(b)
	}

	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO invite_keys (id, key, is_active, max_uses, current_uses, preset_limits, created_by, created_at)
		VALUES (?, ?, ?, ?, 0, ?, ?, ?)
	`), inv.ID, inv.Key, inv.IsActive, inv.MaxUses, preset, inv.CreatedBy, inv.CreatedAt)
	return err
}

func (r *InviteRepository) GetByKey(ctx context.Context, key string) (*models.InviteKey, error) {
	inv, err := scanInvite(r.db.QueryRowContext(ctx, r.db.Rebind(`SELECT `+inviteColumns+` FROM invite_keys WHERE key = ?`), key))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return inv, nil
}

func (r *InviteRepository) GetByKeyTx(ctx context.Context, tx *sqlx.Tx, key string) (*models.InviteKey, error) {
	inv, err := scanInvite(tx.QueryRowContext(ctx, tx.Rebind(`SELECT `+inviteColumns+` FROM invite_keys WHERE key = ?`), key))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return inv, nil
}

func (r *InviteRepository) List(ctx context.Context) ([]*models.InviteKey, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+inviteColumns+` FROM invite_keys ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	invites := []*models.InviteKey{}
	for rows.Next() {
		inv, err := scanInvite(rows)
		if err != nil {
			return nil, err
		}
		invites = append(invites, inv)
	}
	return invites, rows.Err()
}

// ConsumeTx takes one use of the key. The guard lives in the WHERE clause so that
// concurrent signups can never push current_uses past max_uses; false means the key
// was missing, inactive or exhausted at the moment of the update.
func (r *InviteRepository) ConsumeTx(ctx context.Context, tx *sqlx.Tx, key, userID string) (bool, error) {
	res, err := tx.ExecContext(ctx, tx.Rebind(`
		UPDATE invite_keys
		SET current_uses = current_uses + 1, used_by = ?, used_at = ?
		WHERE key = ? AND is_active = ? AND current_uses < max_uses
	`), userID, time.Now().Unix(), key, true)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *InviteRepository) Deactivate(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE invite_keys SET is_active = ? WHERE id = ?`), false, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
