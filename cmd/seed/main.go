package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"cardshift/backend/internal/config"
	"cardshift/backend/internal/logging"
	"cardshift/backend/internal/repository"
	"cardshift/backend/pkg/models"
)

func main() {
	ctx := context.Background()
	logger := logging.NewLogger()

	// Load config
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Connect to DB
	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer pool.Close()

	store := repository.NewPostgresStore(pool)

	// 1. Create the schema
	if err := store.Migrate(ctx); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	logger.Info("Schema migrated")

	// 2. Seed the active connection from the environment, if provided
	token := os.Getenv("SEED_UPSTREAM_TOKEN")
	orgID := os.Getenv("SEED_ORGANIZATION_ID")
	if token == "" || orgID == "" {
		logger.Info("No SEED_UPSTREAM_TOKEN / SEED_ORGANIZATION_ID set, skipping connection seed")
		logger.Info("Seeding complete!")
		return
	}

	existing, err := store.GetConnection(ctx)
	if err != nil {
		log.Fatalf("Failed to check existing connection: %v", err)
	}
	if existing != nil {
		logger.Info("Connection already present, leaving it alone", "organization", existing.OrganizationID)
		logger.Info("Seeding complete!")
		return
	}

	conn := &models.Connection{
		OrganizationID: orgID,
		Token:          token,
		AccountEmail:   os.Getenv("SEED_ACCOUNT_EMAIL"),
	}
	if err := store.SaveConnection(ctx, conn); err != nil {
		log.Fatalf("Failed to seed connection: %v", err)
	}
	logger.Info("Seeded connection", "organization", orgID)
	logger.Info("Seeding complete!")
}
