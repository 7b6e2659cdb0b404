package droplets

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"cloudcompanion/internal/engine/digitalocean"
	"cloudcompanion/internal/pkg/logger"
	"cloudcompanion/internal/pkg/metrics"
	"cloudcompanion/internal/platform/models"
)

type KeySource interface {
	ActiveKey(ctx context.Context) (*models.APIKey, error)
	KeyReporter
}

type LimitsLister interface {
	ListAutoDestroy(ctx context.Context) ([]*models.UserLimits, error)
}

type ExpiryStore interface {
	ListCreatedBefore(ctx context.Context, userID string, cutoff int64) ([]*models.Droplet, error)
	Delete(ctx context.Context, id string) (bool, error)
}

type SweepResult struct {
	UsersChecked      int `json:"usersChecked"`
	DropletsDestroyed int `json:"dropletsDestroyed"`
	ProviderFailures  int `json:"providerFailures"`
}

type Sweeper struct {
	limits   LimitsLister
	droplets ExpiryStore
	provider Provider
	keys     KeySource
	log      zerolog.Logger
	now      func() time.Time
}

func NewSweeper(limits LimitsLister, droplets ExpiryStore, provider Provider, keys KeySource) *Sweeper {
	return &Sweeper{
		limits:   limits,
		droplets: droplets,
		provider: provider,
		keys:     keys,
		log:      logger.WithComponent("sweeper"),
		now:      time.Now,
	}
}

// WithClock replaces the time source.
func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	s.now = now
	return s
}

// Sweep destroys every droplet older than its owner's auto-destroy window.
// The provider delete is best effort; the local row is removed either way.
// Without an active key nothing is touched.
func (s *Sweeper) Sweep(ctx context.Context) (*SweepResult, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SweepDuration)

	key, err := s.keys.ActiveKey(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := s.limits.ListAutoDestroy(ctx)
	if err != nil {
		return nil, fmt.Errorf("list auto-destroy limits: %w", err)
	}

	result := &SweepResult{}
	now := s.now()
	for _, limits := range rows {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		result.UsersChecked++

		cutoff := now.Add(-time.Duration(limits.AutoDestroyDays) * 24 * time.Hour).Unix()
		expired, err := s.droplets.ListCreatedBefore(ctx, limits.UserID, cutoff)
		if err != nil {
			s.log.Error().Err(err).Str("user_id", limits.UserID).Msg("failed to list expired droplets")
			continue
		}

		for _, d := range expired {
			key = s.destroyRemote(ctx, key, d, result)

			deleted, err := s.droplets.Delete(ctx, d.ID)
			if err != nil {
				s.log.Error().Err(err).Str("droplet_id", d.ID).Msg("failed to delete droplet row")
				continue
			}
			if deleted {
				result.DropletsDestroyed++
				metrics.SweptDropletsTotal.Inc()
				s.log.Info().
					Str("droplet_id", d.ID).
					Str("user_id", d.UserID).
					Int("auto_destroy_days", limits.AutoDestroyDays).
					Msg("droplet auto-destroyed")
			}
		}
	}

	s.log.Info().
		Int("users_checked", result.UsersChecked).
		Int("droplets_destroyed", result.DropletsDestroyed).
		Int("provider_failures", result.ProviderFailures).
		Msg("auto-destroy sweep finished")
	return result, nil
}

// destroyRemote deletes the provider-side machine and returns the key to use next.
// When the key is rejected mid-sweep the next active key takes over; with none left,
// remaining provider deletes are counted as failures.
func (s *Sweeper) destroyRemote(ctx context.Context, key *models.APIKey, d *models.Droplet, result *SweepResult) *models.APIKey {
	if d.DigitalOceanID == nil {
		return key
	}
	if key == nil {
		result.ProviderFailures++
		return nil
	}

	err := s.provider.DeleteDroplet(ctx, key.Secret, *d.DigitalOceanID)
	if err == nil || digitalocean.IsNotFound(err) {
		return key
	}

	result.ProviderFailures++
	s.log.Warn().Err(err).
		Str("droplet_id", d.ID).
		Int64("digitalocean_id", *d.DigitalOceanID).
		Msg("provider delete failed, removing local record anyway")

	if !digitalocean.IsAuthError(err) {
		return key
	}
	s.keys.Report(ctx, key, err)
	next, nerr := s.keys.ActiveKey(ctx)
	if nerr != nil {
		return nil
	}
	return next
}
