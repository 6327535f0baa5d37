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

	"github.com/rs/zerolog"

	"github.com/hackgods/healthcare-booking/internal/appointment"
	"github.com/hackgods/healthcare-booking/internal/catalog"
	"github.com/hackgods/healthcare-booking/internal/config"
	"github.com/hackgods/healthcare-booking/internal/db"
	"github.com/hackgods/healthcare-booking/internal/logging"
	"github.com/hackgods/healthcare-booking/internal/metrics"
	redisclient "github.com/hackgods/healthcare-booking/internal/redis"
)

func main() {
	if err := run(); err != nil {
		l := zerolog.New(os.Stderr).With().Timestamp().Str("service", "expiry-worker").Logger()
		l.Error().Err(err).Msg("expiry-worker exited")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.Env, "expiry-worker")
	if err != nil {
		return err
	}
	logger.Info().
		Dur("interval", cfg.WorkerInterval).
		Dur("payment_session_ttl", cfg.PaymentSessionTTL).
		Msg("expiry-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, cfg.DBMaxConns, cfg.DBMinConns)
	cancelPg()
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pgPool.Close()

	rdb, err := redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn().Err(err).Msg("error closing redis")
		}
	}()

	m := metrics.NewCollector("booking")
	metricsSrv := metricsServer(cfg.WorkerMetricsPort, m)
	go func() {
		logger.Info().Str("addr", metricsSrv.Addr).Msg("metrics listener up")
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics listener failed")
		}
	}()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := metricsSrv.Shutdown(ctx); err != nil {
			logger.Warn().Err(err).Msg("metrics listener shutdown")
		}
	}()

	dir := catalog.NewCatalog(catalog.NewPgRepository(pgPool), logger)
	svc := appointment.NewService(
		appointment.NewPgRepository(pgPool),
		dir,
		redisclient.NewRedisLocker(rdb, cfg.LockTTL),
		cfg,
		logger,
		m,
	)

	runOnce(rootCtx, svc, logger)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info().Msg("shutdown signal received, stopping expiry worker")
			return nil
		case <-ticker.C:
			runOnce(rootCtx, svc, logger)
		}
	}
}

type expirer interface {
	ExpireAbandonedPayments(ctx context.Context) (int, error)
}

func metricsServer(port string, m *metrics.Collector) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func runOnce(ctx context.Context, svc expirer, logger zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	released, err := svc.ExpireAbandonedPayments(runCtx)
	if err != nil {
		logger.Error().Err(err).Msg("expiry run failed")
		return
	}
	logger.Info().Int("released", released).Dur("took", time.Since(start)).Msg("expiry run complete")
}
