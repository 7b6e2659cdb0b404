package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"cloudcompanion/internal/engine/digitalocean"
	"cloudcompanion/internal/engine/droplets"
	"cloudcompanion/internal/engine/keypool"
	"cloudcompanion/internal/pkg/logger"
	"cloudcompanion/internal/platform/config"
	"cloudcompanion/internal/platform/database"
	"cloudcompanion/internal/platform/repositories"
	"cloudcompanion/internal/workers"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "worker",
	Short:        "Background jobs for cloudcompanion",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "configs/config.yaml", "Path to config file")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(checkBalancesCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduled jobs until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		jobs, cfg, cleanup, err := setup()
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		c := cron.New()
		if err := jobs.Schedule(ctx, c, cfg.Sweeper); err != nil {
			return err
		}
		c.Start()
		log.Info().
			Str("sweep_schedule", cfg.Sweeper.Schedule).
			Str("balance_schedule", cfg.Sweeper.BalanceCheckSchedule).
			Msg("Worker started")

		<-ctx.Done()
		log.Info().Msg("Worker stopping, waiting for running jobs")
		<-c.Stop().Done()
		return nil
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Destroy expired droplets once and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		jobs, _, cleanup, err := setup()
		if err != nil {
			return err
		}
		defer cleanup()
		return jobs.AutoDestroy(cmd.Context())
	},
}

var checkBalancesCmd = &cobra.Command{
	Use:   "check-balances",
	Short: "Check every pooled API key once and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		jobs, _, cleanup, err := setup()
		if err != nil {
			return err
		}
		defer cleanup()
		return jobs.CheckBalances(cmd.Context())
	},
}

func setup() (*workers.Jobs, *config.Config, func(), error) {
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.Logging)

	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect database: %w", err)
	}

	client := digitalocean.NewClient(cfg.DigitalOcean.BaseURL, cfg.DigitalOcean.Timeout)
	apiKeys := repositories.NewAPIKeyRepository(db)
	dropletRepo := repositories.NewDropletRepository(db)
	pool := keypool.NewManager(apiKeys, client)
	sweeper := droplets.NewSweeper(repositories.NewLimitsRepository(db), dropletRepo, client, pool)

	return workers.NewJobs(sweeper, pool), cfg, func() { db.Close() }, nil
}
