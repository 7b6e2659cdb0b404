// Package droplets keeps local droplet rows consistent with the provider: the
// reconciler refreshes cached state on read and the sweeper retires expired machines.
package droplets

import (
	"context"

	"github.com/rs/zerolog"

	"cloudcompanion/internal/engine/digitalocean"
	"cloudcompanion/internal/pkg/logger"
	"cloudcompanion/internal/pkg/metrics"
	"cloudcompanion/internal/platform/models"
)

type Provider interface {
	GetDroplet(ctx context.Context, token string, id int64) (*digitalocean.Droplet, error)
	DeleteDroplet(ctx context.Context, token string, id int64) error
}

type KeyReporter interface {
	Report(ctx context.Context, key *models.APIKey, err error)
}

type StateStore interface {
	UpdateState(ctx context.Context, id, status string, ip *string) error
}

type Reconciler struct {
	provider Provider
	store    StateStore
	keys     KeyReporter
	log      zerolog.Logger
}

func NewReconciler(provider Provider, store StateStore, keys KeyReporter) *Reconciler {
	return &Reconciler{
		provider: provider,
		store:    store,
		keys:     keys,
		log:      logger.WithComponent("reconciler"),
	}
}

// Reconcile refreshes status and public IPv4 of each droplet from the provider and
// patches rows that drifted. The slice is updated in place and returned.
// Failures never remove a droplet from the result or from storage.
func (r *Reconciler) Reconcile(ctx context.Context, key *models.APIKey, list []*models.Droplet) []*models.Droplet {
	for _, d := range list {
		if d.DigitalOceanID == nil {
			metrics.ReconciledDropletsTotal.WithLabelValues("skipped").Inc()
			continue
		}
		if ctx.Err() != nil {
			return list
		}

		live, err := r.provider.GetDroplet(ctx, key.Secret, *d.DigitalOceanID)
		if err != nil {
			metrics.ReconciledDropletsTotal.WithLabelValues("error").Inc()
			if digitalocean.IsAuthError(err) {
				r.keys.Report(ctx, key, err)
				r.log.Warn().Err(err).Str("droplet_id", d.ID).Msg("reconcile stopped: API key rejected")
				return list
			}
			r.log.Warn().Err(err).
				Str("droplet_id", d.ID).
				Int64("digitalocean_id", *d.DigitalOceanID).
				Msg("failed to fetch droplet state, keeping cached values")
			continue
		}

		ip := live.PublicIPv4()
		if live.Status == d.Status && ip == deref(d.IPAddress) {
			metrics.ReconciledDropletsTotal.WithLabelValues("unchanged").Inc()
			continue
		}

		var ipPtr *string
		if ip != "" {
			ipPtr = &ip
		}
		if err := r.store.UpdateState(ctx, d.ID, live.Status, ipPtr); err != nil {
			metrics.ReconciledDropletsTotal.WithLabelValues("error").Inc()
			r.log.Error().Err(err).Str("droplet_id", d.ID).Msg("failed to persist droplet state")
			continue
		}

		r.log.Debug().Str("droplet_id", d.ID).Str("from", d.Status).Str("to", live.Status).Msg("droplet state updated")
		d.Status = live.Status
		d.IPAddress = ipPtr
		metrics.ReconciledDropletsTotal.WithLabelValues("updated").Inc()
	}
	return list
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
