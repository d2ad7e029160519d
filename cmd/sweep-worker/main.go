package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

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

const (
	taskSweep           = "conflict:sweep"
	taskCleanup         = "conflict:cleanup"
	taskWaitlistOverdue = "waitlist:overdue"
)

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

	log.Info("sweep-worker starting",
		zap.String("env", cfg.Env),
		zap.Duration("sweep_interval", cfg.SweepInterval),
		zap.Duration("cleanup_interval", cfg.CleanupInterval),
		zap.Duration("overdue_interval", cfg.OverdueInterval))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatal("postgres connection", zap.Error(err))
	}
	defer pgPool.Close()

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword, cfg.RedisPoolSize)
	if err != nil {
		log.Fatal("redis connection", zap.Error(err))
	}
	defer rdb.Close()

	bookingRepo := booking.NewPgRepository(pgPool)
	conflictRepo := conflict.NewPgRepository(pgPool)
	waitlistRepo := waitlist.NewPgRepository(pgPool)

	m := metrics.New()
	sink := events.NewLogSink(events.NewPgRepository(pgPool), log)

	index := interval.NewIndex()
	detector := conflict.NewDetector(index, bookingRepo, conflictRepo, conflictRepo,
		sink, m, log, cfg.CapacityCeiling)

	locker := redisclient.NewRedisResourceLocker(rdb, cfg.LockTTL, cfg.LockAcquireTimeout)
	var predictor resolution.Predictor // nil until a model service is deployed
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
	if _, err := svc.LoadIndex(loadCtx); err != nil {
		cancelLoad()
		log.Fatal("index load", zap.Error(err))
	}
	cancelLoad()

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	}

	mux := asynq.NewServeMux()
	mux.HandleFunc(taskSweep, func(ctx context.Context, t *asynq.Task) error {
		report, err := svc.Sweep(ctx)
		if err != nil {
			return fmt.Errorf("sweep: %w", err)
		}
		log.Info("scheduled sweep done",
			zap.Int("bookings", report.BookingsScanned),
			zap.Int("new_conflicts", report.NewConflicts),
			zap.Int("failed", report.Failed))
		// Failed bookings are retried implicitly by the next sweep.
		return nil
	})
	mux.HandleFunc(taskCleanup, func(ctx context.Context, t *asynq.Task) error {
		cutoff := time.Now().Add(-cfg.CleanupRetention)
		n, err := conflictRepo.DeleteResolvedBefore(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("cleanup resolved conflicts: %w", err)
		}
		log.Info("stale resolved conflicts pruned",
			zap.Int64("deleted", n),
			zap.Time("cutoff", cutoff))
		return nil
	})
	mux.HandleFunc(taskWaitlistOverdue, func(ctx context.Context, t *asynq.Task) error {
		flagged, err := matcher.FlagOverdue(ctx, time.Now())
		if err != nil {
			return fmt.Errorf("flag overdue waitlist entries: %w", err)
		}
		if flagged > 0 {
			log.Info("waitlist overdue check done", zap.Int("flagged", flagged))
		}
		return nil
	})

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 2,
		Queues:      map[string]int{"default": 1},
		Logger:      asynqZap{log},
	})

	sched := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{})
	register := func(interval time.Duration, taskType string) {
		spec := fmt.Sprintf("@every %s", interval)
		if _, err := sched.Register(spec, asynq.NewTask(taskType, nil)); err != nil {
			log.Fatal("register scheduled task", zap.String("task", taskType), zap.Error(err))
		}
	}
	register(cfg.SweepInterval, taskSweep)
	register(cfg.CleanupInterval, taskCleanup)
	register(cfg.OverdueInterval, taskWaitlistOverdue)

	// One sweep right away so a restart doesn't wait a full interval.
	go func() {
		if report, err := svc.Sweep(rootCtx); err != nil {
			log.Warn("initial sweep failed", zap.Error(err))
		} else {
			log.Info("initial sweep done", zap.Int("new_conflicts", report.NewConflicts))
		}
	}()

	go func() {
		if err := sched.Run(); err != nil {
			log.Error("scheduler stopped", zap.Error(err))
			stop()
		}
	}()
	go func() {
		if err := srv.Run(mux); err != nil {
			log.Error("worker stopped", zap.Error(err))
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutting down sweep-worker")
	sched.Shutdown()
	srv.Shutdown()
}

// asynqZap adapts the process logger to asynq's Logger interface.
type asynqZap struct {
	log *zap.Logger
}

func (a asynqZap) Debug(args ...interface{}) { a.log.Sugar().Debug(args...) }
func (a asynqZap) Info(args ...interface{})  { a.log.Sugar().Info(args...) }
func (a asynqZap) Warn(args ...interface{})  { a.log.Sugar().Warn(args...) }
func (a asynqZap) Error(args ...interface{}) { a.log.Sugar().Error(args...) }
func (a asynqZap) Fatal(args ...interface{}) { a.log.Sugar().Fatal(args...) }
