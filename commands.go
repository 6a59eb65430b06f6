package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/trialmatch/protocol-engine/pkg/audit"
	"github.com/trialmatch/protocol-engine/pkg/auth"
	"github.com/trialmatch/protocol-engine/pkg/database"
	"github.com/trialmatch/protocol-engine/pkg/handlers"
	"github.com/trialmatch/protocol-engine/pkg/logging"
	"github.com/trialmatch/protocol-engine/pkg/metrics"
	"github.com/trialmatch/protocol-engine/pkg/middleware"
	"github.com/trialmatch/protocol-engine/pkg/models"
	"github.com/trialmatch/protocol-engine/pkg/repositories"
	"github.com/trialmatch/protocol-engine/pkg/retry"
	"github.com/trialmatch/protocol-engine/pkg/services"
)

// ============================================================================
// serve
// ============================================================================

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func serve(ctx context.Context) error {
	logger.Info("Configuration loaded",
		zap.String("version", cfg.Version),
		zap.String("env", cfg.Env),
		zap.String("listen_addr", cfg.ListenAddr()),
		zap.Bool("auth_verification", cfg.Auth.EnableVerification),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.URL())),
		zap.Int("candidate_pool_cap", cfg.Matching.CandidatePoolCap),
		zap.Duration("pool_cache_ttl", cfg.Matching.PoolCacheTTL))

	db, err := connect(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	if cfg.Database.MigrateOnStart {
		if err := migrateUp(db); err != nil {
			return err
		}
	}

	validator, err := auth.NewJWKSClient(&auth.JWKSConfig{
		EnableVerification: cfg.Auth.EnableVerification,
		JWKSEndpoints:      cfg.Auth.JWKSEndpoints,
		Audience:           cfg.Auth.Audience,
	})
	if err != nil {
		return fmt.Errorf("initializing JWKS client: %w", err)
	}
	defer validator.Close()
	if !cfg.Auth.EnableVerification {
		logger.Warn("JWT verification is disabled; tokens are trusted without signature checks")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	protocolRepo := repositories.NewProtocolRepository()
	teamRepo := repositories.NewTeamMemberRepository()
	siteRepo := repositories.NewSiteRepository()

	userService := services.NewUserService(repositories.NewUserRepository(), logger)
	random := services.NewRandomSource()
	protocolService := services.NewProtocolService(
		protocolRepo, siteRepo, services.NewAccessPolicy(teamRepo),
		audit.NewSecurityAuditor(logger), m, logger)
	siteMatcher := services.NewSiteMatcher(protocolService, protocolRepo, siteRepo, random, cfg.Matching, m, logger)
	compliance := services.NewComplianceSimulator(protocolRepo, random, m, logger)

	mux := http.NewServeMux()
	authMiddleware := auth.NewMiddleware(auth.NewAuthService(validator, logger), logger)
	scope := handlers.ScopeMiddleware(database.WithScopeContext(db, logger))

	handlers.NewHealthHandler(cfg, db, logger).RegisterRoutes(mux)
	handlers.NewProtocolsHandler(protocolService, userService, siteMatcher, compliance, logger.Named("http")).
		RegisterRoutes(mux, authMiddleware, scope)
	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	// RequestMetrics reads the matched pattern, so it must receive the same
	// request the mux does.
	handler := audit.WithClientIP(
		middleware.RequestLogger(logger)(
			middleware.RequestMetrics(m)(mux)))

	server := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting protocol-engine",
			zap.String("addr", server.Addr),
			zap.Bool("tls", cfg.TLSEnabled()))
		var err error
		if cfg.TLSEnabled() {
			err = server.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
		} else {
			err = server.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down", zap.Duration("timeout", cfg.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	stats := db.Stats()
	logger.Info("Server stopped",
		zap.Int32("db_conns_total", stats.Total),
		zap.Int32("db_conns_in_use", stats.InUse))
	return nil
}

// connect opens the pool, retrying while the database comes up.
func connect(ctx context.Context) (*database.DB, error) {
	dbCfg := &database.Config{
		URL:             cfg.Database.URL(),
		ApplicationName: "protocol-engine",
		MaxConnections:  cfg.Database.MaxConnections,
		MinConnections:  cfg.Database.MinConnections,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
		HealthCheck:     cfg.Database.HealthCheck,
	}

	attempt := 0
	db, err := retry.DoWithResult(ctx, retry.DefaultConfig(), retry.IsRetryable, func() (*database.DB, error) {
		attempt++
		db, err := database.NewConnection(ctx, dbCfg)
		if err != nil {
			logger.Warn("Database connection failed",
				zap.Int("attempt", attempt),
				zap.String("error", logging.SanitizeError(err)))
		}
		return db, err
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %s", logging.SanitizeError(err))
	}
	return db, nil
}

// ============================================================================
// migrate
// ============================================================================

var (
	migrateDown  bool
	migrateSteps int
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply (or roll back) database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := connect(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		if !migrateDown {
			return migrateUp(db)
		}

		sqlDB := stdlib.OpenDBFromPool(db.Pool)
		defer sqlDB.Close()
		return database.RollbackMigrations(sqlDB, migrateSteps, logger)
	},
}

func migrateUp(db *database.DB) error {
	sqlDB := stdlib.OpenDBFromPool(db.Pool)
	defer sqlDB.Close()
	if err := database.RunMigrations(sqlDB, logger); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// ============================================================================
// seed-sites
// ============================================================================

// siteSeedFile is the layout of a seed-sites YAML file.
type siteSeedFile struct {
	Sites []*models.Site `yaml:"sites"`
}

var seedSitesCmd = &cobra.Command{
	Use:   "seed-sites <file.yaml>",
	Short: "Upsert investigator sites from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sites, err := readSeedFile(args[0])
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		db, err := connect(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		scoped, release, err := db.ScopedContext(ctx)
		if err != nil {
			return err
		}
		defer release()

		if err := repositories.NewSiteRepository().Seed(scoped, sites); err != nil {
			return fmt.Errorf("seeding sites: %w", err)
		}

		logger.Info("Seeded sites", zap.String("file", args[0]), zap.Int("count", len(sites)))
		return nil
	},
}

func readSeedFile(path string) ([]*models.Site, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var file siteSeedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	for i, s := range file.Sites {
		if s.DoctorID == "" {
			return nil, fmt.Errorf("%s: sites[%d] has no doctor_id", path, i)
		}
	}
	return file.Sites, nil
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateDown, "down", false, "Roll back instead of applying")
	migrateCmd.Flags().IntVar(&migrateSteps, "steps", 0, "Migrations to roll back with --down (0 = all)")
}
