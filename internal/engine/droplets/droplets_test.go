package droplets

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cloudcompanion/internal/engine/digitalocean"
	"cloudcompanion/internal/engine/keypool"
	"cloudcompanion/internal/platform/config"
	"cloudcompanion/internal/platform/database"
	"cloudcompanion/internal/platform/models"
	"cloudcompanion/internal/platform/repositories"
)

type fakeProvider struct {
	mu        sync.Mutex
	droplets  map[int64]*digitalocean.Droplet
	getErr    map[int64]error
	deleteErr error
	deleted   []int64
}

func (f *fakeProvider) GetDroplet(ctx context.Context, token string, id int64) (*digitalocean.Droplet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.getErr[id]; err != nil {
		return nil, err
	}
	d, ok := f.droplets[id]
	if !ok {
		return nil, &digitalocean.APIError{StatusCode: 404, Message: "not found"}
	}
	return d, nil
}

func (f *fakeProvider) DeleteDroplet(ctx context.Context, token string, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return f.deleteErr
}

type fakeKeys struct {
	key      *models.APIKey
	reported []error
}

func (f *fakeKeys) ActiveKey(ctx context.Context) (*models.APIKey, error) {
	if f.key == nil || !f.key.IsActive {
		return nil, keypool.ErrNoActiveKey
	}
	return f.key, nil
}

func (f *fakeKeys) Report(ctx context.Context, key *models.APIKey, err error) {
	f.reported = append(f.reported, err)
	if digitalocean.IsAuthError(err) {
		key.IsActive = false
	}
}

func setupDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{Driver: "sqlite3", URL: ":memory:", MaxConnections: 1})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db, "up"))
	t.Cleanup(func() { db.Close() })
	return db
}

func ptr[T any](v T) *T { return &v }

func publicDroplet(id int64, status, ip string) *digitalocean.Droplet {
	d := &digitalocean.Droplet{ID: id, Status: status}
	if ip != "" {
		d.Networks.V4 = []digitalocean.NetworkV4{{IPAddress: ip, Type: "public"}}
	}
	return d
}

func TestReconcile_UpdatesDriftedRows(t *testing.T) {
	db := setupDB(t)
	repo := repositories.NewDropletRepository(db)
	ctx := context.Background()

	stale := &models.Droplet{ID: "d1", UserID: "u1", DigitalOceanID: ptr(int64(1)), Name: "a", Status: "new", Region: "nyc1", Size: "s", Image: "i"}
	fresh := &models.Droplet{ID: "d2", UserID: "u1", DigitalOceanID: ptr(int64(2)), Name: "b", Status: "active", Region: "nyc1", Size: "s", Image: "i", IPAddress: ptr("198.51.100.2")}
	require.NoError(t, repo.Create(ctx, stale))
	require.NoError(t, repo.Create(ctx, fresh))

	provider := &fakeProvider{droplets: map[int64]*digitalocean.Droplet{
		1: publicDroplet(1, "active", "198.51.100.1"),
		2: publicDroplet(2, "active", "198.51.100.2"),
	}}
	r := NewReconciler(provider, repo, &fakeKeys{})

	list, err := repo.ListByUser(ctx, "u1")
	require.NoError(t, err)
	out := r.Reconcile(ctx, &models.APIKey{ID: "k", Secret: "s"}, list)
	require.Len(t, out, 2)

	stored, err := repo.GetByID(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "active", stored.Status)
	require.NotNil(t, stored.IPAddress)
	assert.Equal(t, "198.51.100.1", *stored.IPAddress)

	for _, d := range out {
		assert.Equal(t, "active", d.Status)
	}
}

func TestReconcile_FailuresKeepDroplets(t *testing.T) {
	db := setupDB(t)
	repo := repositories.NewDropletRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &models.Droplet{ID: "gone", UserID: "u1", DigitalOceanID: ptr(int64(404)), Name: "a", Status: "active", Region: "r", Size: "s", Image: "i"}))
	require.NoError(t, repo.Create(ctx, &models.Droplet{ID: "flaky", UserID: "u1", DigitalOceanID: ptr(int64(500)), Name: "b", Status: "active", Region: "r", Size: "s", Image: "i"}))
	require.NoError(t, repo.Create(ctx, &models.Droplet{ID: "pending", UserID: "u1", Name: "c", Status: "new", Region: "r", Size: "s", Image: "i"}))

	provider := &fakeProvider{
		droplets: map[int64]*digitalocean.Droplet{},
		getErr:   map[int64]error{500: &digitalocean.APIError{StatusCode: 500, Message: "boom"}},
	}
	r := NewReconciler(provider, repo, &fakeKeys{})

	list, err := repo.ListByUser(ctx, "u1")
	require.NoError(t, err)
	out := r.Reconcile(ctx, &models.APIKey{Secret: "s"}, list)
	assert.Len(t, out, 3)

	count, err := repo.CountByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, count, "reconciliation never deletes local rows")
}

func TestReconcile_AuthErrorStopsPass(t *testing.T) {
	provider := &fakeProvider{getErr: map[int64]error{
		1: &digitalocean.APIError{StatusCode: 401, Message: "Unable to authenticate you", IsAuthError: true},
	}}
	keys := &fakeKeys{}
	r := NewReconciler(provider, nil, keys)

	list := []*models.Droplet{
		{ID: "a", DigitalOceanID: ptr(int64(1)), Status: "active"},
		{ID: "b", DigitalOceanID: ptr(int64(2)), Status: "active"},
	}
	out := r.Reconcile(context.Background(), &models.APIKey{ID: "k", Secret: "s", IsActive: true}, list)
	assert.Len(t, out, 2)
	require.Len(t, keys.reported, 1)
	assert.True(t, digitalocean.IsAuthError(keys.reported[0]))
}

func TestSweep_RespectsWindow(t *testing.T) {
	db := setupDB(t)
	dropletRepo := repositories.NewDropletRepository(db)
	limitsRepo := repositories.NewLimitsRepository(db)
	ctx := context.Background()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	require.NoError(t, limitsRepo.Upsert(ctx, &models.UserLimits{UserID: "u1", MaxDroplets: 5, AutoDestroyDays: 1}))
	require.NoError(t, limitsRepo.Upsert(ctx, &models.UserLimits{UserID: "u2", MaxDroplets: 5, AutoDestroyDays: 0}))

	require.NoError(t, dropletRepo.Create(ctx, &models.Droplet{ID: "expired", UserID: "u1", DigitalOceanID: ptr(int64(1)), Name: "a", Status: "active", Region: "r", Size: "s", Image: "i", CreatedAt: now.Add(-25 * time.Hour).Unix()}))
	require.NoError(t, dropletRepo.Create(ctx, &models.Droplet{ID: "young", UserID: "u1", DigitalOceanID: ptr(int64(2)), Name: "b", Status: "active", Region: "r", Size: "s", Image: "i", CreatedAt: now.Add(-23 * time.Hour).Unix()}))
	require.NoError(t, dropletRepo.Create(ctx, &models.Droplet{ID: "exempt", UserID: "u2", DigitalOceanID: ptr(int64(3)), Name: "c", Status: "active", Region: "r", Size: "s", Image: "i", CreatedAt: now.Add(-900 * time.Hour).Unix()}))

	provider := &fakeProvider{}
	keys := &fakeKeys{key: &models.APIKey{ID: "k", Secret: "s", IsActive: true}}
	s := NewSweeper(limitsRepo, dropletRepo, provider, keys).WithClock(func() time.Time { return now })

	result, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.UsersChecked)
	assert.Equal(t, 1, result.DropletsDestroyed)
	assert.Equal(t, 0, result.ProviderFailures)
	assert.Equal(t, []int64{1}, provider.deleted)

	gone, err := dropletRepo.GetByID(ctx, "expired")
	require.NoError(t, err)
	assert.Nil(t, gone)

	kept, err := dropletRepo.GetByID(ctx, "young")
	require.NoError(t, err)
	assert.NotNil(t, kept)

	exempt, err := dropletRepo.GetByID(ctx, "exempt")
	require.NoError(t, err)
	assert.NotNil(t, exempt)
}

func TestSweep_ProviderFailureStillDeletesLocally(t *testing.T) {
	db := setupDB(t)
	dropletRepo := repositories.NewDropletRepository(db)
	limitsRepo := repositories.NewLimitsRepository(db)
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, limitsRepo.Upsert(ctx, &models.UserLimits{UserID: "u1", AutoDestroyDays: 2}))
	require.NoError(t, dropletRepo.Create(ctx, &models.Droplet{ID: "a", UserID: "u1", DigitalOceanID: ptr(int64(1)), Name: "a", Status: "active", Region: "r", Size: "s", Image: "i", CreatedAt: now.Add(-72 * time.Hour).Unix()}))
	require.NoError(t, dropletRepo.Create(ctx, &models.Droplet{ID: "b", UserID: "u1", DigitalOceanID: ptr(int64(2)), Name: "b", Status: "active", Region: "r", Size: "s", Image: "i", CreatedAt: now.Add(-72 * time.Hour).Unix()}))

	provider := &fakeProvider{deleteErr: &digitalocean.APIError{StatusCode: 500, Message: "Server Error"}}
	keys := &fakeKeys{key: &models.APIKey{ID: "k", Secret: "s", IsActive: true}}
	s := NewSweeper(limitsRepo, dropletRepo, provider, keys).WithClock(func() time.Time { return now })

	result, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.DropletsDestroyed)
	assert.Equal(t, 2, result.ProviderFailures)

	count, err := dropletRepo.CountByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestSweep_NoActiveKeyAborts(t *testing.T) {
	db := setupDB(t)
	dropletRepo := repositories.NewDropletRepository(db)
	limitsRepo := repositories.NewLimitsRepository(db)
	ctx := context.Background()

	require.NoError(t, limitsRepo.Upsert(ctx, &models.UserLimits{UserID: "u1", AutoDestroyDays: 1}))
	require.NoError(t, dropletRepo.Create(ctx, &models.Droplet{ID: "a", UserID: "u1", Name: "a", Status: "active", Region: "r", Size: "s", Image: "i", CreatedAt: 1}))

	s := NewSweeper(limitsRepo, dropletRepo, &fakeProvider{}, &fakeKeys{})
	_, err := s.Sweep(ctx)
	assert.ErrorIs(t, err, keypool.ErrNoActiveKey)

	count, err := dropletRepo.CountByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
