package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"complianceflow/backend/internal/config"
	"complianceflow/backend/internal/logging"
	"complianceflow/backend/internal/repository"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "server",
		Short: "ComplianceFlow workflow service",
		Long: `Serves the workflow REST API and MCP tools.

Without a database host the service keeps templates and instances in memory
and registers the built-in templates on startup.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(configPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, logger)
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default ./config.yaml)")

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(configPath)
			if err != nil {
				return err
			}
			if !cfg.UsePostgres() {
				return fmt.Errorf("db.host is not configured")
			}
			pool, err := initDatabase(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := repository.Migrate(cmd.Context(), pool); err != nil {
				return err
			}
			logger.Info("Database schema is up to date")
			return nil
		},
	}
	rootCmd.AddCommand(migrateCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func setup(configPath string) (*config.Config, *logging.Logger, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("configuration loading failed: %w", err)
	}
	logger := logging.New(logging.Options{Level: cfg.Log.Level, Console: cfg.Log.Console || cfg.IsDev()})
	logger.Info("Configuration loaded",
		"environment", cfg.Environment,
		"config_file", viper.ConfigFileUsed(),
		"postgres", cfg.UsePostgres(),
		"redis", cfg.Redis.Addr != "",
		"directory_url", cfg.Directory.URL,
		"issuer", cfg.Auth.Issuer,
		"swagger_client_id", cfg.Auth.SwaggerClientID,
	)
	if cfg.Auth.SwaggerClientID != "" && cfg.Auth.SwaggerClientID == cfg.Auth.ClientID {
		logger.Warn("Swagger client id matches the backend client id; PKCE logins from Swagger UI will fail if the backend client requires a secret")
	}
	return cfg, logger, nil
}

func initDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*pgxpool.Pool, error) {
	logger.Debug("Initializing database connection", "host", cfg.DB.Host, "name", cfg.DB.Name)

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}
