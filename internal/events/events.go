package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	TypeConflictDetected = "CONFLICT_DETECTED"
	TypeConflictResolved = "CONFLICT_RESOLVED"
	TypeConflictEscalated = "CONFLICT_ESCALATED"
	TypeWaitlistMatched  = "WAITLIST_MATCHED"
	TypeWaitlistOverdue  = "WAITLIST_OVERDUE"
	TypeBookingCancelled = "BOOKING_CANCELLED"
)

type Event struct {
	Type      string
	SubjectID uuid.UUID
	Payload   map[string]any
	CreatedAt time.Time
}

// Sink receives engine outcomes. Emitting must never fail the caller;
// implementations log their own errors.
type Sink interface {
	Emit(ctx context.Context, ev Event)
}

// Repository persists events for external listeners to poll.
type Repository interface {
	InsertEvent(ctx context.Context, eventType string, subjectID uuid.UUID, payload []byte, createdAt time.Time) error
}

// LogSink persists every event and mirrors it to the logger.
type LogSink struct {
	repo Repository
	log  *zap.Logger
}

func NewLogSink(repo Repository, log *zap.Logger) *LogSink {
	return &LogSink{repo: repo, log: log}
}

func (s *LogSink) Emit(ctx context.Context, ev Event) {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}

	data, err := json.Marshal(ev.Payload)
	if err != nil {
		s.log.Error("marshal event payload", zap.String("type", ev.Type), zap.Error(err))
		data = nil
	}

	if err := s.repo.InsertEvent(ctx, ev.Type, ev.SubjectID, data, ev.CreatedAt); err != nil {
		s.log.Error("insert event log",
			zap.String("type", ev.Type),
			zap.String("subject_id", ev.SubjectID.String()),
			zap.Error(err))
		return
	}

	s.log.Info("event emitted",
		zap.String("type", ev.Type),
		zap.String("subject_id", ev.SubjectID.String()))
}

// Fanout forwards each event to every sink.
type Fanout []Sink

func (f Fanout) Emit(ctx context.Context, ev Event) {
	for _, s := range f {
		s.Emit(ctx, ev)
	}
}
