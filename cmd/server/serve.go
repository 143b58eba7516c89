package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"complianceflow/backend/internal/api"
	"complianceflow/backend/internal/auth"
	"complianceflow/backend/internal/config"
	"complianceflow/backend/internal/events"
	"complianceflow/backend/internal/logging"
	"complianceflow/backend/internal/mcp"
	"complianceflow/backend/internal/repository"
	"complianceflow/backend/internal/services"
	"complianceflow/backend/internal/telemetry"
	"complianceflow/backend/internal/tls"
	"complianceflow/backend/internal/workflow"
)

func serve(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	logger.Info("Starting ComplianceFlow workflow service")

	checks := map[string]api.HealthCheck{}
	opts := []workflow.Option{
		workflow.WithLogger(logger.With("component", "engine")),
	}

	var templateStore repository.TemplateStore
	var instanceStore repository.InstanceStore
	if cfg.UsePostgres() {
		pool, err := initDatabase(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := repository.Migrate(ctx, pool); err != nil {
			return err
		}
		templateStore = repository.NewPostgresTemplateStore(pool)
		instanceStore = repository.NewPostgresInstanceStore(pool)
		checks["database"] = pool.Ping
		logger.Info("Database connected")
	} else {
		templateStore = repository.NewMemoryTemplateStore()
		instanceStore = repository.NewMemoryInstanceStore()
		logger.Warn("No database configured; workflow state is kept in memory")
	}

	publishers := events.Fanout{events.NewLogPublisher(logger.With("component", "events"))}
	if cfg.Redis.Addr != "" {
		client, err := events.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		defer client.Close()
		publishers = append(publishers,
			events.NewRedisStreamPublisher(client, cfg.Redis.Stream, events.WithMaxLength(cfg.Redis.MaxLength)))
		checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		logger.Info("Publishing workflow events to Redis", "stream", cfg.Redis.Stream)
	}
	opts = append(opts, workflow.WithPublisher(publishers))

	if cfg.Directory.URL != "" {
		opts = append(opts,
			workflow.WithEntityDirectory(services.NewHTTPDirectory(cfg.Directory.URL, "entities", nil)),
			workflow.WithActorDirectory(services.NewHTTPDirectory(cfg.Directory.URL, "users", nil)),
		)
	}

	var metrics *telemetry.Metrics
	if cfg.Metrics.Enable {
		var err error
		metrics, err = telemetry.NewMetrics()
		if err != nil {
			return err
		}
		defer metrics.Shutdown(context.Background())
		opts = append(opts, workflow.WithMeter(metrics.Meter()))
	}

	catalog := workflow.NewCatalog(templateStore, nil)
	if err := catalog.Load(ctx); err != nil {
		// Invalid stored templates are skipped; the rest of the catalog is usable.
		logger.Error("Some stored templates were not loaded", "error", err)
	}
	if !cfg.UsePostgres() {
		added, err := workflow.RegisterBuiltins(ctx, catalog)
		if err != nil {
			return err
		}
		logger.Info("Registered built-in templates", "count", added)
	}
	engine := workflow.NewEngine(catalog, instanceStore, opts...)

	logger.Info("Workflow engine initialized")

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go redeliverEvents(sweepCtx, engine, cfg.Events.RedeliverInterval, logger)

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = api.ErrorHandler(logger)

	e.Use(middleware.RequestID())
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(otelecho.Middleware("complianceflow"))

	authz, err := auth.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize auth", "error", err)
		return err
	}

	e.GET("/login", echo.WrapHandler(http.HandlerFunc(authz.LoginHandler)))
	e.GET("/auth/callback", echo.WrapHandler(http.HandlerFunc(authz.CallbackHandler)))
	e.GET("/logout", echo.WrapHandler(http.HandlerFunc(authz.LogoutHandler)))
	e.GET("/health", api.NewHandler(checks).HandleHealth)
	if metrics != nil {
		e.GET("/metrics", echo.WrapHandler(metrics.Handler()))
	}

	apiGroup := e.Group("/api/v1")
	apiGroup.Use(echo.WrapMiddleware(authz.RequireAuth))
	api.RegisterHandlers(apiGroup, api.NewServer(engine))

	logger.Info("REST API handlers mounted")

	mcpServer := mcp.NewServer(engine)
	mcpHandlers := http.NewServeMux()
	mcp.MountHTTPHandlers(mcpHandlers, mcpServer.GetMCPServer())
	e.Any("/mcp", echo.WrapHandler(authz.RequireAuth(mcpHandlers)))
	e.Any("/mcp/*", echo.WrapHandler(authz.RequireAuth(mcpHandlers)))

	logger.Info("MCP protocol handlers mounted")

	e.GET("/openapi.yaml", echo.WrapHandler(api.SpecHandler(cfg.Auth.Issuer)))
	e.GET("/docs", echo.WrapHandler(api.SwaggerHandler(cfg.Auth.SwaggerClientID)))
	e.GET("/docs/oauth2-redirect.html", echo.WrapHandler(api.OAuth2RedirectHandler()))

	addr := cfg.Server.Addr
	if cfg.TLS.Enable {
		addr = cfg.Server.TLSAddr
		created, err := tls.EnsureCertificate(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.Hostnames)
		if err != nil {
			return err
		}
		if created {
			logger.Info("Generated self-signed certificate", "cert_file", cfg.TLS.CertFile)
		}
	}
	server := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  15 * time.Second,
		// SSE streams for MCP stay open, so writes are not bounded.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "address", addr, "tls", cfg.TLS.Enable)
		if cfg.TLS.Enable {
			serverErrors <- server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
			return
		}
		serverErrors <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", "error", err)
			return err
		}
	case sig := <-shutdown:
		logger.Info("Shutdown signal received", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", "error", err)
			if err := server.Close(); err != nil {
				logger.Error("Server close error", "error", err)
			}
		}

		logger.Info("Server stopped gracefully")
	}
	return nil
}

// redeliverEvents publishes undelivered workflow events once at startup and
// then on every tick until ctx is done.
func redeliverEvents(ctx context.Context, engine *workflow.Engine, every time.Duration, logger *logging.Logger) {
	sweep := func() {
		if _, err := engine.RedeliverPending(ctx); err != nil && ctx.Err() == nil {
			logger.Error("Event redelivery sweep failed", "error", err)
		}
	}
	sweep()
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}
