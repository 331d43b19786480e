package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/uptrace/bun"

	"ms-engagements/internal/config"
	"ms-engagements/internal/database"
	"ms-engagements/internal/logger"
	"ms-engagements/internal/models"
)

func main() {
	reset := flag.Bool("reset", false, "drop every table before creating the schema")
	seed := flag.Bool("seed", false, "insert a free and a paid sample event")
	flag.Parse()

	logger := logger.NewLogger()
	defer logger.Close()

	if err := godotenv.Load(); err != nil {
		logger.Warn("CONFIG", ".env file not found, using environment variables")
	}
	cfg := config.Load()
	ctx := context.Background()

	db, err := database.Connect(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatal("DATABASE", err.Error())
	}
	defer db.Close()

	if *reset {
		logger.Warn("MIGRATE", "Dropping tables...")
		if err := database.DropSchema(ctx, db); err != nil {
			logger.Fatal("MIGRATE", fmt.Sprintf("Failed to drop tables: %v", err))
		}
	}

	logger.Info("MIGRATE", "Creating tables...")
	if err := database.CreateSchema(ctx, db); err != nil {
		logger.Fatal("MIGRATE", fmt.Sprintf("Failed to create tables: %v", err))
	}

	if *seed {
		logger.Info("MIGRATE", "Seeding sample data...")
		if err := seedData(ctx, db); err != nil {
			logger.Fatal("MIGRATE", fmt.Sprintf("Failed to seed: %v", err))
		}
	}
	logger.Info("MIGRATE", "Done.")
}

func seedData(ctx context.Context, db *bun.DB) error {
	now := time.Now().UTC()
	sample := []models.Event{
		{
			ID:        "event001",
			HostID:    "user001",
			Name:      "Open Rehearsal",
			StartsAt:  now.AddDate(0, 0, 14),
			CreatedAt: now,
		},
		{
			ID:               "event002",
			HostID:           "user001",
			Name:             "Summer Fest 2026",
			TicketPriceCents: 2500,
			StartsAt:         now.AddDate(0, 1, 0),
			CreatedAt:        now,
		},
	}
	_, err := db.NewInsert().Model(&sample).On("CONFLICT (id) DO NOTHING").Exec(ctx)
	return err
}
