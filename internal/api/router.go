package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/agendaflow/conflict-engine/internal/booking"
	"github.com/agendaflow/conflict-engine/internal/conflict"
	"github.com/agendaflow/conflict-engine/internal/metrics"
	"github.com/agendaflow/conflict-engine/internal/scheduler"
	"github.com/agendaflow/conflict-engine/internal/waitlist"
)

type RouterConfig struct {
	Service   *scheduler.Service
	Bookings  booking.Repository
	Conflicts conflict.Repository
	Waitlist  waitlist.Repository
	Metrics   *metrics.Metrics
	PgPool    *pgxpool.Pool
	Redis     *redis.Client
	Log       *zap.Logger
	Env       string
	Version   string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Log))

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics.Handler())
	}

	r.Post("/bookings", createBookingHandler(cfg.Service))
	r.Get("/bookings/{id}", getBookingHandler(cfg.Bookings))
	r.Post("/bookings/{id}/confirm", bookingTransitionHandler(func(req *http.Request, id uuid.UUID) (*booking.Booking, error) {
		return cfg.Service.Confirm(req.Context(), id)
	}))
	r.Post("/bookings/{id}/cancel", bookingTransitionHandler(func(req *http.Request, id uuid.UUID) (*booking.Booking, error) {
		return cfg.Service.Cancel(req.Context(), id)
	}))
	r.Post("/bookings/{id}/complete", bookingTransitionHandler(func(req *http.Request, id uuid.UUID) (*booking.Booking, error) {
		return cfg.Service.Complete(req.Context(), id)
	}))
	r.Post("/bookings/{id}/reschedule", rescheduleBookingHandler(cfg.Service))
	r.Post("/bookings/{id}/detect", detectNowHandler(cfg.Service))

	r.Post("/schedule-entries", createScheduleEntryHandler(cfg.Service))

	r.Get("/conflicts", listConflictsHandler(cfg.Conflicts))
	r.Get("/conflicts/{id}", getConflictHandler(cfg.Conflicts))
	r.Post("/conflicts/{id}/resolve", resolveConflictHandler(cfg.Service, cfg.Conflicts))

	r.Post("/waitlist", createWaitlistEntryHandler(cfg.Waitlist))
	r.Get("/waitlist/overdue", listOverdueWaitlistHandler(cfg.Waitlist))
	r.Get("/waitlist/{id}", getWaitlistEntryHandler(cfg.Waitlist))
	r.Post("/waitlist/{id}/cancel", cancelWaitlistEntryHandler(cfg.Waitlist))

	return r
}
