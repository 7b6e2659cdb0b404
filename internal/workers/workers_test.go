package workers

import (
	"context"
	"errors"
	"testing"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cloudcompanion/internal/engine/droplets"
	"cloudcompanion/internal/platform/config"
)

type fakeSweeper struct {
	calls int
	err   error
}

func (f *fakeSweeper) Sweep(ctx context.Context) (*droplets.SweepResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &droplets.SweepResult{UsersChecked: 1, DropletsDestroyed: 2}, nil
}

type fakeBalances struct {
	calls int
	err   error
}

func (f *fakeBalances) CheckAll(ctx context.Context) (int, int, error) {
	f.calls++
	return 3, 1, f.err
}

func TestJobs_RunOnce(t *testing.T) {
	sw, bal := &fakeSweeper{}, &fakeBalances{}
	jobs := NewJobs(sw, bal)

	require.NoError(t, jobs.AutoDestroy(context.Background()))
	require.NoError(t, jobs.CheckBalances(context.Background()))
	assert.Equal(t, 1, sw.calls)
	assert.Equal(t, 1, bal.calls)

	sw.err = errors.New("no active key")
	assert.ErrorContains(t, jobs.AutoDestroy(context.Background()), "no active key")
}

func TestJobs_Schedule(t *testing.T) {
	jobs := NewJobs(&fakeSweeper{}, &fakeBalances{})

	c := cron.New()
	require.NoError(t, jobs.Schedule(context.Background(), c, config.SweeperConfig{
		Schedule:             "@hourly",
		BalanceCheckSchedule: "@daily",
	}))
	assert.Len(t, c.Entries(), 2)

	c = cron.New()
	require.NoError(t, jobs.Schedule(context.Background(), c, config.SweeperConfig{Schedule: "@every 30m"}))
	assert.Len(t, c.Entries(), 1)

	err := jobs.Schedule(context.Background(), cron.New(), config.SweeperConfig{Schedule: "whenever"})
	assert.Error(t, err)
}
