package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/track360/track360-backend/internal/video/repository"
	"github.com/track360/track360-backend/internal/video/service"
	"github.com/track360/track360-backend/pkg/config"
	"github.com/track360/track360-backend/pkg/logger"
)

const serviceName = "track360-seed"

func main() {
	migrateLegacy := flag.Bool("migrate-legacy", false, "rename legacy MongoDB collections before seeding")
	timeout := flag.Duration("timeout", 2*time.Minute, "overall time limit")
	flag.Parse()

	cfg, err := config.LoadWithValidation(serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewWithOptions(serviceName, cfg.Server.Environment, logger.Options{
		Level: cfg.Log.Level,
		File:  cfg.Log.File,
	})

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	store, closeStore, err := repository.Open(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer closeStore()

	if err := store.EnsureSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to prepare store schema")
	}

	// Unique indexes exist before legacy documents are merged in.
	if *migrateLegacy {
		mongoStore, ok := store.(*repository.MongoStore)
		if !ok {
			log.Fatal().Str("store", cfg.Store.Driver).Msg("legacy collection migration requires the mongo store")
		}
		results, err := mongoStore.MigrateLegacyCollections(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to migrate legacy collections")
		}
		for _, res := range results {
			log.Info().
				Str("from", res.From).
				Str("to", res.To).
				Bool("renamed", res.Renamed).
				Int("moved", res.Moved).
				Int("skipped", len(res.Skipped)).
				Msg("legacy collection migrated")
		}
		if len(results) == 0 {
			log.Info().Msg("no legacy collections found")
		}
	}

	report, err := service.NewSeeder(store, log).Seed(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("seeding failed")
	}

	log.Info().
		Bool("skipped", report.Skipped).
		Int("videos", report.Videos).
		Int("detection_results", report.DetectionResults).
		Int("riders", report.Riders).
		Int("rewards", report.Rewards).
		Msg(report.Message)
}
