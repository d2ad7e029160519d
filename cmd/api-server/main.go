package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/agendaflow/conflict-engine/internal/api"
	"github.com/agendaflow/conflict-engine/internal/booking"
	"github.com/agendaflow/conflict-engine/internal/config"
	"github.com/agendaflow/conflict-engine/internal/conflict"
	"github.com/agendaflow/conflict-engine/internal/db"
	"github.com/agendaflow/conflict-engine/internal/events"
	"github.com/agendaflow/conflict-engine/internal/interval"
	"github.com/agendaflow/conflict-engine/internal/logging"
	"github.com/agendaflow/conflict-engine/internal/metrics"
	redisclient "github.com/agendaflow/conflict-engine/internal/redis"
	"github.com/agendaflow/conflict-engine/internal/resolution"
	"github.com/agendaflow/conflict-engine/internal/scheduler"
	"github.com/agendaflow/conflict-engine/internal/waitlist"
)

const version = "0.3.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config load error: " + err.Error() + "\n")
		os.Exit(1)
	}

	log, err := logging.New(cfg.Env)
	if err != nil {
		os.Stderr.WriteString("logger init error: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("api-server starting",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("version", version))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatal("postgres connection", zap.Error(err))
	}
	defer pgPool.Close()
	log.Info("connected to postgres")

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword, cfg.RedisPoolSize)
	if err != nil {
		log.Fatal("redis connection", zap.Error(err))
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Warn("closing redis", zap.Error(err))
		}
	}()
	log.Info("connected to redis")

	bookingRepo := booking.NewPgRepository(pgPool)
	conflictRepo := conflict.NewPgRepository(pgPool)
	waitlistRepo := waitlist.NewPgRepository(pgPool)

	m := metrics.New()
	sink := events.NewLogSink(events.NewPgRepository(pgPool), log)

	index := interval.NewIndex()
	detector := conflict.NewDetector(index, bookingRepo, conflictRepo, conflictRepo,
		sink, m, log, cfg.CapacityCeiling)

	locker := redisclient.NewRedisResourceLocker(rdb, cfg.LockTTL, cfg.LockAcquireTimeout)

	// The predictor seam stays nil until a model service is deployed; a
	// nil predictor makes the strategy decline every conflict.
	var predictor resolution.Predictor
	registry := resolution.NewRegistry(
		resolution.NewRuleBased(detector),
		resolution.NewSearchBased(index, cfg.SearchWindow, cfg.SearchStep),
		resolution.NewMLAssisted(predictor),
	)
	orchestrator := resolution.NewOrchestrator(index, bookingRepo, conflictRepo,
		registry, resolution.NewPgCommitter(pgPool), locker, sink, m, log,
		resolution.Config{
			AutoResolveThreshold: cfg.AutoResolveThreshold,
			StrategyTimeout:      cfg.StrategyTimeout,
			CommitRetries:        cfg.CommitRetries,
			CommitRetryBackoff:   cfg.CommitRetryBackoff,
		})

	matcher := waitlist.NewMatcher(waitlistRepo, sink, m, log)

	svc := scheduler.NewService(index, bookingRepo, conflictRepo, detector,
		orchestrator, matcher, locker, sink, log)

	loadCtx, cancelLoad := context.WithTimeout(rootCtx, 30*time.Second)
	loaded, err := svc.LoadIndex(loadCtx)
	cancelLoad()
	if err != nil {
		log.Fatal("index load", zap.Error(err))
	}
	log.Info("index ready", zap.Int("entries", loaded))

	router := api.NewRouter(api.RouterConfig{
		Service:   svc,
		Bookings:  bookingRepo,
		Conflicts: conflictRepo,
		Waitlist:  waitlistRepo,
		Metrics:   m,
		PgPool:    pgPool,
		Redis:     rdb,
		Log:       log,
		Env:       cfg.Env,
		Version:   version,
	})

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server", zap.Error(err))
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown", zap.Error(err))
	}
}
