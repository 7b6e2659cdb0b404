// Package workers holds the background jobs run by cmd/worker.
package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"cloudcompanion/internal/engine/droplets"
	"cloudcompanion/internal/pkg/logger"
	"cloudcompanion/internal/platform/config"
)

type Sweeper interface {
	Sweep(ctx context.Context) (*droplets.SweepResult, error)
}

type BalanceChecker interface {
	CheckAll(ctx context.Context) (checked, failed int, err error)
}

type Jobs struct {
	sweeper  Sweeper
	balances BalanceChecker
	timeout  time.Duration
	log      zerolog.Logger
}

func NewJobs(sweeper Sweeper, balances BalanceChecker) *Jobs {
	return &Jobs{
		sweeper:  sweeper,
		balances: balances,
		timeout:  15 * time.Minute,
		log:      logger.WithComponent("workers"),
	}
}

// AutoDestroy runs one sweep of expired droplets.
func (j *Jobs) AutoDestroy(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	j.log.Info().Msg("running auto-destroy sweep")
	res, err := j.sweeper.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("auto-destroy sweep: %w", err)
	}
	j.log.Info().
		Int("users_checked", res.UsersChecked).
		Int("droplets_destroyed", res.DropletsDestroyed).
		Int("provider_failures", res.ProviderFailures).
		Msg("auto-destroy sweep finished")
	return nil
}

// CheckBalances probes every pooled key, deactivating the ones the provider rejects.
func (j *Jobs) CheckBalances(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	checked, failed, err := j.balances.CheckAll(ctx)
	if err != nil {
		return fmt.Errorf("balance check: %w", err)
	}
	j.log.Info().Int("checked", checked).Int("failed", failed).Msg("balance check finished")
	return nil
}

// Schedule registers both jobs on c. An empty schedule disables that job.
func (j *Jobs) Schedule(ctx context.Context, c *cron.Cron, cfg config.SweeperConfig) error {
	if cfg.Schedule != "" {
		if _, err := c.AddFunc(cfg.Schedule, func() {
			if err := j.AutoDestroy(ctx); err != nil {
				j.log.Error().Err(err).Msg("scheduled sweep failed")
			}
		}); err != nil {
			return fmt.Errorf("schedule auto-destroy %q: %w", cfg.Schedule, err)
		}
	}
	if cfg.BalanceCheckSchedule != "" {
		if _, err := c.AddFunc(cfg.BalanceCheckSchedule, func() {
			if err := j.CheckBalances(ctx); err != nil {
				j.log.Error().Err(err).Msg("scheduled balance check failed")
			}
		}); err != nil {
			return fmt.Errorf("schedule balance check %q: %w", cfg.BalanceCheckSchedule, err)
		}
	}
	return nil
}
