package main

import (
	"context"
	"flag"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"

	"complianceflow/backend/internal/config"
	"complianceflow/backend/internal/logging"
	"complianceflow/backend/internal/repository"
	"complianceflow/backend/internal/workflow"
)

func main() {
	ctx := context.Background()
	logger := logging.NewLogger()

	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if !cfg.UsePostgres() {
		log.Fatalf("db.host is not configured; nothing to seed")
	}

	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer pool.Close()

	if err := repository.Migrate(ctx, pool); err != nil {
		log.Fatalf("Failed to migrate: %v", err)
	}

	catalog := workflow.NewCatalog(repository.NewPostgresTemplateStore(pool), nil)
	if err := catalog.Load(ctx); err != nil {
		logger.Warn("Some stored templates were skipped", "error", err)
	}

	for _, t := range workflow.BuiltinTemplates() {
		if _, err := catalog.Get(t.ID); err == nil {
			logger.Info("Skipping existing template", "id", t.ID)
		}
	}

	added, err := workflow.RegisterBuiltins(ctx, catalog)
	if err != nil {
		log.Fatalf("Failed to seed templates: %v", err)
	}
	logger.Info("Seeding complete!", "added", added)
}
