// Package main is the entry point for the proctoring session engine.
//
// The service holds one live session per (user, course) pair, ingests
// video/audio/client observations over WebSocket, scores violations in real
// time and produces a persisted certificate verdict when the test is
// submitted.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/learnquest/proctoring-engine/config"
	"github.com/learnquest/proctoring-engine/internal/application/engine"
	"github.com/learnquest/proctoring-engine/internal/infrastructure/detector"
	"github.com/learnquest/proctoring-engine/internal/infrastructure/messaging"
	"github.com/learnquest/proctoring-engine/internal/infrastructure/metrics"
	"github.com/learnquest/proctoring-engine/internal/infrastructure/persistence/postgres"
	redisstore "github.com/learnquest/proctoring-engine/internal/infrastructure/persistence/redis"
	"github.com/learnquest/proctoring-engine/internal/infrastructure/scheduler"
	"github.com/learnquest/proctoring-engine/internal/infrastructure/scheduler/jobs"
	httpserver "github.com/learnquest/proctoring-engine/internal/interface/http"
	"github.com/learnquest/proctoring-engine/pkg/logger"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// 1. Configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// 2. Logging
	log := logger.New(logger.Options{
		Output: os.Stdout,
		Level:  logger.ParseLevel(cfg.Observability.LogLevel),
	})
	slogger := setupSlog(cfg)

	log.Info("starting proctoring engine",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
	)

	// 3. Database
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL is required")
	}
	log.Info("connecting to database")
	dbConn, err := postgres.NewConnectionFromURL(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		log.Info("closing database connection")
		dbConn.Close()
	}()

	if err := dbConn.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	// 4. Migrations
	if cfg.Database.Migrate {
		log.Info("running database migrations")
		migrator := postgres.NewMigrator(dbConn)
		if err := migrator.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	// 5. Repositories
	resultRepo := postgres.NewResultRepository(dbConn)
	violationRepo := postgres.NewViolationRepository(dbConn)

	// 6. Redis (optional: verdict cache and live score channel)
	var verdictCache httpserver.VerdictCache
	var scoreSink messaging.ScoreSink

	if !cfg.Redis.Disabled {
		log.Info("connecting to Redis")
		redisCfg := redisstore.Config{
			Host:         cfg.Redis.Host,
			Port:         cfg.Redis.Port,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		}
		redisClient, err := redisstore.NewClient(ctx, redisCfg)
		if err != nil {
			log.Warn("Redis unavailable, verdict cache and score channel disabled", logger.Err(err))
		} else {
			defer redisClient.Close()
			verdictCache = redisstore.NewVerdictCache(redisClient, cfg.Redis.VerdictTTL)
			scoreSink = redisstore.NewScorePublisher(redisClient)
			log.Info("Redis connection established")
		}
	}

	// 7. Event bus and handlers
	busCfg := messaging.DefaultInMemoryEventBusConfig()
	busCfg.Logger = slogger
	bus := messaging.NewInMemoryEventBus(busCfg)
	defer func() {
		log.Info("closing event bus")
		_ = bus.Close()
	}()

	auditWriter := messaging.NewAuditWriter(violationRepo, slogger)
	if err := auditWriter.Register(bus); err != nil {
		return fmt.Errorf("failed to register audit writer: %w", err)
	}
	if scoreSink != nil {
		relay := messaging.NewScoreRelay(scoreSink, slogger)
		if err := relay.Register(bus); err != nil {
			return fmt.Errorf("failed to register score relay: %w", err)
		}
	}

	// 8. Metrics
	collector := metrics.New()

	// 9. Session engine
	engineCfg := engine.Config{
		FaceAbsenceWindow: cfg.Proctoring.FaceAbsenceWindow,
		TestDuration:      cfg.Proctoring.TestDuration,
		QueueSize:         cfg.Proctoring.QueueSize,
		IdleTimeout:       cfg.Proctoring.IdleTimeout,
		ReconnectGrace:    cfg.Proctoring.ReconnectGrace,
		PersistTimeout:    cfg.Proctoring.PersistTimeout,
	}
	finalizer := engine.NewFinalizer(resultRepo, bus, collector, log)
	registry := engine.NewRegistry(engineCfg, finalizer, bus, collector, log)

	// 10. Detector clients
	videoCfg := detector.DefaultConfig(cfg.Detector.VideoURL)
	videoCfg.Timeout = cfg.Detector.RequestTimeout
	videoCfg.Logger = log
	videoDetector := detector.NewVideoClient(videoCfg)

	audioCfg := detector.DefaultConfig(cfg.Detector.AudioURL)
	audioCfg.Timeout = cfg.Detector.RequestTimeout
	audioCfg.Logger = log
	audioDetector := detector.NewAudioClient(audioCfg)

	// 11. Background scheduler
	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched = scheduler.New(slogger)
		sweepJob := jobs.NewSweepSessionsJob(registry, slogger)
		if err := sched.Register(sweepJob, scheduler.NewIntervalSchedule(cfg.Scheduler.SweepInterval)); err != nil {
			return fmt.Errorf("failed to register sweep job: %w", err)
		}
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	// 12. HTTP server
	httpCfg := httpserver.DefaultConfig()
	httpCfg.Host = cfg.HTTP.Host
	httpCfg.Port = cfg.HTTP.Port
	httpCfg.ReadTimeout = cfg.HTTP.ReadTimeout
	httpCfg.IdleTimeout = cfg.HTTP.IdleTimeout
	httpCfg.EnableCORS = cfg.HTTP.EnableCORS
	httpCfg.AllowedOrigins = cfg.HTTP.AllowedOrigins
	httpCfg.EnableMetrics = cfg.HTTP.EnableMetrics

	httpServer := httpserver.NewServer(httpCfg, httpserver.Dependencies{
		Registry:       registry,
		Results:        resultRepo,
		Violations:     violationRepo,
		Cache:          verdictCache,
		VideoDetector:  videoDetector,
		AudioDetector:  audioDetector,
		Database:       dbConn,
		MetricsHandler: collector.Handler(),
		Logger:         log,
	})

	errCh := httpServer.StartAsync()

	log.Info("proctoring engine is running",
		logger.String("address", httpCfg.Address()),
		logger.Bool("redis", verdictCache != nil),
		logger.Bool("scheduler", sched != nil),
	)

	// 13. Wait for shutdown signal or server failure
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", logger.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			log.Error("http server failed", logger.Err(err))
			return err
		}
	}

	// 14. Graceful shutdown: stop accepting work, then drain live sessions
	// so every open session gets a persisted verdict.
	log.Info("starting graceful shutdown", logger.Duration("timeout", cfg.App.ShutdownTimeout))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer shutdownCancel()

	var shutdownErr error

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown failed", logger.Err(err))
		shutdownErr = err
	}

	if sched != nil {
		if err := sched.Stop(); err != nil {
			log.Error("scheduler stop failed", logger.Err(err))
			shutdownErr = err
		}
	}

	if err := registry.Shutdown(shutdownCtx); err != nil {
		log.Error("session drain failed", logger.Err(err))
		shutdownErr = err
	}

	if shutdownErr != nil {
		log.Warn("shutdown completed with errors")
	} else {
		log.Info("shutdown completed")
	}
	return shutdownErr
}

// setupSlog configures the process-wide slog logger used by the event bus
// and scheduler.
func setupSlog(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if cfg.App.Debug {
		opts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Observability.LogFormat == "json" || cfg.IsProduction() {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	log := slog.New(handler)
	slog.SetDefault(log)
	return log
}
