package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"cloudcompanion/internal/pkg/logger"
	"cloudcompanion/internal/platform/config"
	"cloudcompanion/internal/platform/database"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Init(cfg.Logging)

	if *direction != "up" && *direction != "down" {
		log.Fatal().Str("direction", *direction).Msg("Invalid direction: must be 'up' or 'down'")
	}

	db, err := database.Open(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	if err := database.Migrate(db, *direction); err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}
	log.Info().Str("driver", cfg.Database.Driver).Str("direction", *direction).Msg("Migration completed successfully")
}
