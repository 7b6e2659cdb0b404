package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"cloudcompanion/internal/platform/models"
)

type DropletRepository struct {
	db *sqlx.DB
}

func NewDropletRepository(db *sqlx.DB) *DropletRepository {
	return &DropletRepository{db: db}
}

const dropletColumns = `d.id, d.user_id, d.digitalocean_id, d.name, d.status, d.region, d.size, d.image, d.ip_address, d.created_at, d.updated_at`

func scanDroplet(row rowScanner, extra ...interface{}) (*models.Droplet, error) {
	d := &models.Droplet{}
	var doID sql.NullInt64
	var ip sql.NullString
	dest := []interface{}{&d.ID, &d.UserID, &doID, &d.Name, &d.Status, &d.Region, &d.Size, &d.Image, &ip, &d.CreatedAt, &d.UpdatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	if doID.Valid {
		d.DigitalOceanID = &doID.Int64
	}
	if ip.Valid {
		d.IPAddress = &ip.String
	}
	return d, nil
}

func (r *DropletRepository) Create(ctx context.Context, d *models.Droplet) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	now := time.Now().Unix()
	if d.CreatedAt == 0 {
		d.CreatedAt = now
	}
	d.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO droplets (id, user_id, digitalocean_id, name, status, region, size, image, ip_address, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), d.ID, d.UserID, d.DigitalOceanID, d.Name, d.Status, d.Region, d.Size, d.Image, d.IPAddress, d.CreatedAt, d.UpdatedAt)
	return err
}

func (r *DropletRepository) GetByID(ctx context.Context, id string) (*models.Droplet, error) {
	d, err := scanDroplet(r.db.QueryRowContext(ctx, r.db.Rebind(`SELECT `+dropletColumns+` FROM droplets d WHERE d.id = ?`), id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return d, nil
}

// GetForUser only returns the droplet when userID owns it.
func (r *DropletRepository) GetForUser(ctx context.Context, id, userID string) (*models.Droplet, error) {
	d, err := scanDroplet(r.db.QueryRowContext(ctx, r.db.Rebind(`
		SELECT `+dropletColumns+` FROM droplets d WHERE d.id = ? AND d.user_id = ?
	`), id, userID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return d, nil
}

func (r *DropletRepository) ListByUser(ctx context.Context, userID string) ([]*models.Droplet, error) {
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(`
		SELECT `+dropletColumns+` FROM droplets d
		WHERE d.user_id = ?
		ORDER BY d.created_at DESC
	`), userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	droplets := []*models.Droplet{}
	for rows.Next() {
		d, err := scanDroplet(rows)
		if err != nil {
			return nil, err
		}
		droplets = append(droplets, d)
	}
	return droplets, rows.Err()
}

// ListAll returns every droplet with its owner's email, newest first.
func (r *DropletRepository) ListAll(ctx context.Context) ([]*models.Droplet, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+dropletColumns+`, COALESCE(p.email, '')
		FROM droplets d
		LEFT JOIN profiles p ON p.id = d.user_id
		ORDER BY d.created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	droplets := []*models.Droplet{}
	for rows.Next() {
		var email string
		d, err := scanDroplet(rows, &email)
		if err != nil {
			return nil, err
		}
		d.OwnerEmail = email
		droplets = append(droplets, d)
	}
	return droplets, rows.Err()
}

func (r *DropletRepository) CountByUser(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, r.db.Rebind(`SELECT COUNT(*) FROM droplets WHERE user_id = ?`), userID).Scan(&n)
	return n, err
}

// UpdateState overwrites the cached provider status and public address.
func (r *DropletRepository) UpdateState(ctx context.Context, id, status string, ip *string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE droplets SET status = ?, ip_address = ?, updated_at = ? WHERE id = ?
	`), status, ip, time.Now().Unix(), id)
	return err
}

func (r *DropletRepository) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM droplets WHERE id = ?`), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ListCreatedBefore returns the user's droplets created at or before cutoff (unix seconds).
func (r *DropletRepository) ListCreatedBefore(ctx context.Context, userID string, cutoff int64) ([]*models.Droplet, error) {
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(`
		SELECT `+dropletColumns+` FROM droplets d
		WHERE d.user_id = ? AND d.created_at <= ?
		ORDER BY d.created_at ASC
	`), userID, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var droplets []*models.Droplet
	for rows.Next() {
		d, err := scanDroplet(rows)
		if err != nil {
			return nil, err
		}
		droplets = append(droplets, d)
	}
	return droplets, rows.Err()
}
