package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/sdoh/internal/config"
	"github.com/ehr/sdoh/internal/domain/directory"
	"github.com/ehr/sdoh/internal/domain/matching"
	"github.com/ehr/sdoh/internal/domain/referral"
	"github.com/ehr/sdoh/internal/domain/resource"
	"github.com/ehr/sdoh/internal/platform/auth"
	"github.com/ehr/sdoh/internal/platform/db"
	"github.com/ehr/sdoh/internal/platform/events"
	"github.com/ehr/sdoh/internal/platform/lock"
	"github.com/ehr/sdoh/internal/platform/metrics"
	"github.com/ehr/sdoh/internal/platform/middleware"
	"github.com/ehr/sdoh/internal/platform/sandbox"
	"github.com/ehr/sdoh/internal/platform/webhook"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:          "sdoh-server",
		Short:        "SDOH resource matching and closed-loop referral API",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(verifySweepCmd())
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			target, _ := cmd.Flags().GetInt("to")

			return withMigrator(cmd.Context(), dir, func(ctx context.Context, m *db.Migrator) error {
				count, err := m.UpTo(ctx, target)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	upCmd.Flags().Int("to", 0, "Stop after this version (0 applies all)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			return withMigrator(cmd.Context(), dir, func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				printMigrationStatus(cmd.OutOrStdout(), statuses)
				return nil
			})
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func withMigrator(ctx context.Context, dir string, fn func(context.Context, *db.Migrator) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required for migrations")
	}
	if dir == "" {
		dir = cfg.MigrationsDir
	}

	pool, err := db.NewPool(ctx, poolConfig(cfg))
	if err != nil {
		return err
	}
	defer pool.Close()

	return fn(ctx, db.NewMigrator(pool, dir))
}

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Import resources from the configured external directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			var req directory.SyncRequest
			req.Query, _ = cmd.Flags().GetString("query")
			req.Zip, _ = cmd.Flags().GetString("zip")
			req.Providers, _ = cmd.Flags().GetStringSlice("provider")
			req.MaxPages, _ = cmd.Flags().GetInt("max-pages")

			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				if len(a.syncer.Providers()) == 0 {
					return fmt.Errorf("no directory providers configured")
				}
				report := a.syncer.SyncAll(ctx, req)
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
				if report.Failed == len(report.Providers) {
					return fmt.Errorf("every provider failed")
				}
				return nil
			})
		},
	}
	cmd.Flags().String("query", "", "Free-text query sent to each directory")
	cmd.Flags().String("zip", "", "ZIP code to search around")
	cmd.Flags().StringSlice("provider", nil, "Limit the sync to these providers")
	cmd.Flags().Int("max-pages", 0, "Pages to read per provider (0 uses the default)")
	return cmd
}

func verifySweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify-sweep",
		Short: "List resources that are unverified or overdue for re-verification",
		RunE: func(cmd *cobra.Command, args []string) error {
			days, _ := cmd.Flags().GetInt("days")

			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				if days <= 0 {
					days = a.cfg.VerificationStaleDays
				}
				stale, err := a.resources.NeedingVerification(ctx, days)
				if err != nil {
					return err
				}
				printVerificationSweep(cmd.OutOrStdout(), stale, days)
				return nil
			})
		},
	}
	cmd.Flags().Int("days", 0, "Staleness threshold in days (defaults to VERIFICATION_STALE_DAYS)")
	return cmd
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load synthetic community resources for demos and local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			seedCfg := sandbox.DefaultSeedConfig()
			seedCfg.ResourceCount, _ = cmd.Flags().GetInt("count")
			seedCfg.Seed, _ = cmd.Flags().GetInt64("seed")

			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				if a.cfg.IsProduction() {
					return fmt.Errorf("refusing to seed synthetic data in production")
				}
				result, err := a.seeder.Seed(ctx, seedCfg)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			})
		},
	}
	cmd.Flags().Int("count", sandbox.DefaultSeedConfig().ResourceCount, "Number of resources to generate")
	cmd.Flags().Int64("seed", 0, "Random seed (0 picks one from the clock)")
	return cmd
}

func withApp(ctx context.Context, fn func(context.Context, *app) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := newLogger(cfg)

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

func poolConfig(cfg *config.Config) db.PoolConfig {
	return db.PoolConfig{
		URL:             cfg.DatabaseURL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		MaxConnLifetime: time.Hour,
	}
}

// app is the wired object graph shared by the server and the one-shot
// commands.
type app struct {
	cfg       *config.Config
	logger    zerolog.Logger
	metrics   *metrics.Metrics
	resources *resource.Service
	matcher   *matching.Service
	referrals *referral.Service
	syncer    *directory.Syncer
	webhooks  *webhook.Manager
	seeder    *sandbox.Seeder
	checkers  []db.Checker
	pool      *pgxpool.Pool
	closers   []func()
}

func buildApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, metrics: metrics.New(nil)}

	var (
		resourceRepo resource.Repository
		referralRepo referral.Repository
	)
	if cfg.UsePostgres() {
		pool, err := db.NewPool(ctx, poolConfig(cfg))
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		a.pool = pool
		a.closers = append(a.closers, pool.Close)
		a.checkers = append(a.checkers, db.PoolChecker(pool))
		resourceRepo = resource.NewRepoPG(pool)
		referralRepo = referral.NewRepoPG(pool)
		logger.Info().Msg("connected to database")
	} else {
		resourceRepo = resource.NewInMemoryRepository()
		referralRepo = referral.NewInMemoryRepository()
		logger.Warn().Msg("using in-memory storage; data is lost on restart")
	}

	a.resources = resource.NewService(resourceRepo, logger)
	a.referrals = referral.NewService(referralRepo, a.resources, logger)
	a.referrals.SetMetrics(a.metrics)
	a.resources.SetReferenceChecker(a.referrals)

	a.matcher = matching.NewService(a.resources, logger)
	a.matcher.SetMetrics(a.metrics)

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			a.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		a.checkers = append(a.checkers, db.CheckFunc{Label: "redis", Fn: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}})
		a.referrals.SetLocker(lock.NewRedisLocker(client, "sdoh:lock:", lock.DefaultLockTTL, logger))
		logger.Info().Msg("using redis referral locks")
	}

	// partner webhooks always receive events; Kafka is added when configured
	a.webhooks = webhook.NewManager(webhook.NewInMemoryStore(), logger)
	a.closers = append(a.closers, func() { _ = a.webhooks.Close() })
	publishers := events.Multi{a.webhooks}
	if len(cfg.KafkaBrokers) > 0 {
		pub, err := events.NewKafkaPublisher(events.KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.ReferralEventsTopic,
		}, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = pub.Close() })
		publishers = append(publishers, pub)
		logger.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.ReferralEventsTopic).Msg("publishing referral events")
	}
	a.referrals.SetPublisher(publishers)

	a.syncer = directory.NewSyncer(a.resources, logger, directoryAdapters(cfg)...)
	a.syncer.SetTimeout(cfg.SyncProviderTimeout)
	a.syncer.SetMetrics(a.metrics)

	a.seeder = sandbox.NewSeeder(a.resources)

	return a, nil
}

func directoryAdapters(cfg *config.Config) []directory.Adapter {
	var adapters []directory.Adapter
	findhelp := directory.ProviderConfig{
		APIKey:     cfg.FindhelpAPIKey,
		APIURL:     cfg.FindhelpAPIURL,
		ProviderID: cfg.FindhelpProviderID,
		Retries:    2,
	}
	if findhelp.Configured() {
		adapters = append(adapters, directory.NewFindhelpAdapter(findhelp))
	}
	twoOneOne := directory.ProviderConfig{
		APIKey:         cfg.TwoOneOneAPIKey,
		APIURL:         cfg.TwoOneOneAPIURL,
		OrganizationID: cfg.TwoOneOneOrganizationID,
		Retries:        2,
	}
	if twoOneOne.Configured() {
		adapters = append(adapters, directory.NewTwoOneOneAdapter(twoOneOne))
	}
	return adapters
}

// Close releases connections in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func newServer(a *app) *echo.Echo {
	cfg := a.cfg

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	e.Use(a.metrics.Middleware())
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))

	// Auth middleware
	if cfg.IsDev() {
		e.Use(auth.Skip(auth.DevAuthMiddleware()))
	} else {
		e.Use(auth.Skip(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
		})))
	}

	e.GET("/health", db.HealthHandler(a.checkers...))
	if a.pool != nil {
		e.GET("/health/db", db.PoolHandler(a.pool))
	}
	e.GET("/metrics", echo.WrapHandler(a.metrics.Handler()))
	e.GET("/version", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"version": version})
	})

	apiV1 := e.Group("/api/v1")

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))
	apiV1.Use(middleware.RequestTimeout(cfg.RequestTimeout, "/api/v1/directory/"))

	resource.NewHandler(a.resources).RegisterRoutes(apiV1)
	matching.NewHandler(a.matcher).RegisterRoutes(apiV1)
	referral.NewHandler(a.referrals).RegisterRoutes(apiV1)
	directory.NewHandler(a.syncer).RegisterRoutes(apiV1)
	webhook.NewHandler(a.webhooks).RegisterRoutes(apiV1)
	if cfg.IsDev() {
		sandbox.NewHandler(a.seeder).RegisterRoutes(apiV1)
	}

	return e
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}
	if cfg.IsDev() {
		logger.Warn().Msg("development mode: requests without a token are treated as admin")
	}

	ctx := context.Background()
	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to start")
		return err
	}
	defer a.Close()

	if n := cfg.SandboxSeedResources; n > 0 {
		result, err := a.seeder.Seed(ctx, sandbox.SeedConfig{ResourceCount: n})
		if err != nil {
			logger.Error().Err(err).Msg("sandbox seeding failed")
			return err
		}
		logger.Info().Int("resources", result.Resources).Msg("seeded sandbox resources")
	}

	e := newServer(a)

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("storage", cfg.Storage).
			Strs("providers", a.syncer.Providers()).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
