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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackgods/healthcare-booking/internal/api"
	"github.com/hackgods/healthcare-booking/internal/appointment"
	"github.com/hackgods/healthcare-booking/internal/auth"
	"github.com/hackgods/healthcare-booking/internal/catalog"
	"github.com/hackgods/healthcare-booking/internal/config"
	"github.com/hackgods/healthcare-booking/internal/db"
	"github.com/hackgods/healthcare-booking/internal/logging"
	"github.com/hackgods/healthcare-booking/internal/metrics"
	"github.com/hackgods/healthcare-booking/internal/payment"
	redisclient "github.com/hackgods/healthcare-booking/internal/redis"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:          "api-server",
		Short:        "Healthcare booking API",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			autoMigrate, _ := cmd.Flags().GetBool("migrate")
			return runServer(autoMigrate)
		},
	}
	cmd.Flags().Bool("migrate", false, "Apply pending migrations before serving")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s).\n", count)
			return nil
		},
	}
}

func runServer(autoMigrate bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.Env, "api-server")
	if err != nil {
		return err
	}
	logger.Info().Str("http_port", cfg.HTTPPort).Str("version", version).Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, cfg.DBMaxConns, cfg.DBMinConns)
	cancelPg()
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	if autoMigrate {
		applied, err := db.NewMigrator(pgPool).Up(rootCtx)
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		logger.Info().Int("applied", applied).Msg("migrations up to date")
	}

	rdb, err := redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn().Err(err).Msg("error closing redis")
		}
	}()
	logger.Info().Msg("connected to Redis")

	m := metrics.NewCollector("booking")

	catalogSvc := catalog.NewCatalog(catalog.NewPgRepository(pgPool), logger)
	apptRepo := appointment.NewPgRepository(pgPool)
	locker := redisclient.NewRedisLocker(rdb, cfg.LockTTL)
	apptSvc := appointment.NewService(apptRepo, catalogSvc, locker, cfg, logger, m)

	gateway := payment.NewSSLCommerzClient(cfg.Gateway, logger, m)
	paySvc := payment.NewService(apptRepo, catalogSvc, gateway, cfg, logger, m)

	router := api.NewRouter(api.RouterConfig{
		Appointments:           apptSvc,
		Payments:               paySvc,
		Catalog:                catalogSvc,
		Tokens:                 auth.NewTokenManager(cfg.JWTSecret, cfg.JWTIssuer, 24*time.Hour),
		Metrics:                m,
		Logger:                 logger,
		Health:                 dependencies(pgPool, rdb),
		FrontendURL:            cfg.FrontendURL,
		CallbackRateLimitRPS:   cfg.CallbackRateLimitRPS,
		CallbackRateLimitBurst: cfg.CallbackRateLimitBurst,
		Env:                    cfg.Env,
		Version:                version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-rootCtx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	return shutdown(srv, cfg.ShutdownTimeout, logger)
}

func dependencies(pool *pgxpool.Pool, rdb *redis.Client) []api.Dependency {
	return []api.Dependency{
		{Name: "postgres", Critical: true, Ping: pool.Ping},
		{Name: "redis", Critical: true, Ping: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}},
	}
}

func shutdown(srv *http.Server, timeout time.Duration, logger zerolog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	logger.Info().Msg("api-server stopped")
	return nil
}
