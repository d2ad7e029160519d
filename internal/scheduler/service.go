package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agendaflow/conflict-engine/internal/booking"
	"github.com/agendaflow/conflict-engine/internal/conflict"
	"github.com/agendaflow/conflict-engine/internal/events"
	"github.com/agendaflow/conflict-engine/internal/interval"
	redisclient "github.com/agendaflow/conflict-engine/internal/redis"
	"github.com/agendaflow/conflict-engine/internal/resolution"
	"github.com/agendaflow/conflict-engine/internal/waitlist"
)

var (
	// ErrScheduleBlocked rejects bookings that land on a maintenance or
	// hold window; blocks never become conflicts, they are hard walls.
	ErrScheduleBlocked = errors.New("requested range is blocked on a required resource")
	// ErrBlockOverlap rejects schedule entries that overlap existing
	// occupancy on the same resource.
	ErrBlockOverlap = errors.New("schedule entry overlaps existing occupancy")
)

// Service is the write path of the engine: every booking mutation goes
// through here so the index, the store, detection and resolution stay
// consistent.
type Service struct {
	index        *interval.Index
	bookings     booking.Repository
	conflicts    conflict.Repository
	detector     *conflict.Detector
	orchestrator *resolution.Orchestrator
	matcher      *waitlist.Matcher
	locker       redisclient.Locker
	sink         events.Sink
	log          *zap.Logger

	mu     sync.RWMutex
	blocks map[uuid.UUID]struct{} // index owners that are schedule entries
}

func NewService(
	index *interval.Index,
	bookings booking.Repository,
	conflicts conflict.Repository,
	detector *conflict.Detector,
	orchestrator *resolution.Orchestrator,
	matcher *waitlist.Matcher,
	locker redisclient.Locker,
	sink events.Sink,
	log *zap.Logger,
) *Service {
	return &Service{
		index:        index,
		bookings:     bookings,
		conflicts:    conflicts,
		detector:     detector,
		orchestrator: orchestrator,
		matcher:      matcher,
		locker:       locker,
		sink:         sink,
		log:          log,
		blocks:       make(map[uuid.UUID]struct{}),
	}
}

// LoadIndex hydrates the in-memory index from the store; called once on
// startup before the service accepts traffic.
func (s *Service) LoadIndex(ctx context.Context) (int, error) {
	bookings, err := s.bookings.ListActiveBookings(ctx)
	if err != nil {
		return 0, fmt.Errorf("load active bookings: %w", err)
	}
	for i := range bookings {
		b := &bookings[i]
		for _, key := range b.ResourceKeys() {
			s.index.Insert(key, b.ID, b.Range())
		}
	}

	entries, err := s.bookings.ListScheduleEntries(ctx)
	if err != nil {
		return 0, fmt.Errorf("load schedule entries: %w", err)
	}
	s.mu.Lock()
	for i := range entries {
		e := &entries[i]
		s.index.Insert(e.ResourceKey(), e.ID, e.EffectiveRange())
		s.blocks[e.ID] = struct{}{}
	}
	s.mu.Unlock()

	s.log.Info("interval index loaded",
		zap.Int("bookings", len(bookings)),
		zap.Int("schedule_entries", len(entries)))
	return len(bookings) + len(entries), nil
}

func (s *Service) isBlock(owner uuid.UUID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blocks[owner]
	return ok
}

// blockedOn returns the first resource key where the range hits a
// schedule block, excluding the booking's own entries.
func (s *Service) blockedOn(b *booking.Booking, r interval.Range) (string, bool) {
	for _, key := range b.ResourceKeys() {
		if key == booking.SiteKey {
			continue
		}
		for _, e := range s.index.OverlappingExcluding(key, r, b.ID) {
			if s.isBlock(e.Owner) {
				return key, true
			}
		}
	}
	return "", false
}

// CreateBooking validates, persists and indexes a booking, then runs
// detection inside the resource critical section. Detected conflicts are
// handed to the orchestrator after the locks are released.
func (s *Service) CreateBooking(ctx context.Context, b *booking.Booking) ([]conflict.Conflict, error) {
	r, err := interval.NewRange(b.StartTime, b.EndTime)
	if err != nil {
		return nil, err
	}
	if b.Status == "" {
		b.Status = booking.StatusTentative
	}
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}

	var detected []conflict.Conflict
	err = s.locker.WithResourceLocks(ctx, b.ResourceKeys(), func(lockCtx context.Context) error {
		if key, blocked := s.blockedOn(b, r); blocked {
			return fmt.Errorf("%w: %s", ErrScheduleBlocked, key)
		}

		if err := s.bookings.CreateBooking(lockCtx, b); err != nil {
			return fmt.Errorf("persist booking: %w", err)
		}
		for _, key := range b.ResourceKeys() {
			s.index.Insert(key, b.ID, r)
		}

		detected, err = s.detector.Detect(lockCtx, b)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.resolveAsync(ctx, detected)
	return detected, nil
}

// Confirm moves a tentative booking to confirmed.
func (s *Service) Confirm(ctx context.Context, id uuid.UUID) (*booking.Booking, error) {
	b, err := s.bookings.UpdateBookingStatus(ctx, id, booking.StatusTentative, booking.StatusConfirmed)
	if err != nil {
		if errors.Is(err, booking.ErrBookingNotFound) {
			return nil, s.transitionError(ctx, id, booking.StatusConfirmed)
		}
		return nil, err
	}
	return b, nil
}

// Complete closes out a confirmed booking and releases its index entries.
func (s *Service) Complete(ctx context.Context, id uuid.UUID) (*booking.Booking, error) {
	b, err := s.bookings.UpdateBookingStatus(ctx, id, booking.StatusConfirmed, booking.StatusCompleted)
	if err != nil {
		if errors.Is(err, booking.ErrBookingNotFound) {
			return nil, s.transitionError(ctx, id, booking.StatusCompleted)
		}
		return nil, err
	}
	for _, key := range b.ResourceKeys() {
		s.index.RemoveOwner(key, b.ID)
	}
	return b, nil
}

// Reschedule moves a booking to a new range under its resource locks and
// re-runs detection. The caller passes the version it read; a stale
// version surfaces as ErrConcurrentModification.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, version int64, newRange interval.Range) (*booking.Booking, []conflict.Conflict, error) {
	if _, err := interval.NewRange(newRange.Start, newRange.End); err != nil {
		return nil, nil, err
	}
	b, err := s.bookings.GetBookingByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if b.Status.Terminal() {
		return nil, nil, booking.ErrInvalidStatusTransition
	}

	var moved *booking.Booking
	var detected []conflict.Conflict
	err = s.locker.WithResourceLocks(ctx, b.ResourceKeys(), func(lockCtx context.Context) error {
		if key, blocked := s.blockedOn(b, newRange); blocked {
			return fmt.Errorf("%w: %s", ErrScheduleBlocked, key)
		}

		moved, err = s.bookings.Reschedule(lockCtx, id, version, newRange)
		if err != nil {
			return err
		}
		for _, key := range moved.ResourceKeys() {
			s.index.RemoveOwner(key, moved.ID)
			s.index.Insert(key, moved.ID, newRange)
		}

		detected, err = s.detector.Detect(lockCtx, moved)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	// The vacated slot may serve someone waiting.
	s.offerFreedSlot(ctx, b, b.Range())

	s.resolveAsync(ctx, detected)
	return moved, detected, nil
}

// Cancel is allowed from any non-terminal state. It frees the booking's
// capacity and offers the freed slot to the waitlist.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*booking.Booking, error) {
	b, err := s.bookings.GetBookingByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status.Terminal() {
		return nil, booking.ErrInvalidStatusTransition
	}

	cancelled, err := s.bookings.UpdateBookingStatus(ctx, id, b.Status, booking.StatusCancelled)
	if err != nil {
		return nil, err
	}
	for _, key := range cancelled.ResourceKeys() {
		s.index.RemoveOwner(key, cancelled.ID)
	}

	s.sink.Emit(ctx, events.Event{
		Type:      events.TypeBookingCancelled,
		SubjectID: cancelled.ID,
		Payload: map[string]any{
			"booking_id":      cancelled.ID.String(),
			"professional_id": cancelled.ProfessionalID.String(),
			"start":           cancelled.StartTime,
			"end":             cancelled.EndTime,
		},
	})

	s.offerFreedSlot(ctx, cancelled, cancelled.Range())
	return cancelled, nil
}

func (s *Service) offerFreedSlot(ctx context.Context, b *booking.Booking, r interval.Range) {
	if s.matcher == nil {
		return
	}
	slot := waitlist.FreedSlot{
		ProfessionalID: b.ProfessionalID,
		RoomID:         b.RoomID,
		Range:          r,
	}
	if _, err := s.matcher.MatchFreedSlot(ctx, slot); err != nil {
		s.log.Warn("waitlist match for freed slot failed",
			zap.String("booking_id", b.ID.String()),
			zap.Error(err))
	}
}

// DetectNow runs on-demand detection for one booking.
func (s *Service) DetectNow(ctx context.Context, id uuid.UUID) ([]conflict.Conflict, error) {
	b, err := s.bookings.GetBookingByID(ctx, id)
	if err != nil {
		return nil, err
	}
	detected, err := s.detector.Detect(ctx, b)
	if err != nil {
		return nil, err
	}
	s.resolveAsync(ctx, detected)
	return detected, nil
}

// Sweep runs full-scan detection and then an auto-resolution pass over
// everything sitting in detected.
func (s *Service) Sweep(ctx context.Context) (conflict.SweepReport, error) {
	report, err := s.detector.Sweep(ctx)
	if err != nil {
		return report, err
	}
	s.ResolveDetected(ctx, 0)
	return report, nil
}

// ResolveDetected drives pending detected conflicts through the
// orchestrator. Per-conflict failures are logged and left for the next
// pass; limit 0 means no limit.
func (s *Service) ResolveDetected(ctx context.Context, limit int) {
	if s.orchestrator == nil {
		return
	}
	pending, err := s.conflicts.ListConflicts(ctx, conflict.StatusDetected, limit)
	if err != nil {
		s.log.Error("list detected conflicts", zap.Error(err))
		return
	}
	s.resolveAsync(ctx, pending)
}

func (s *Service) resolveAsync(ctx context.Context, detected []conflict.Conflict) {
	if s.orchestrator == nil {
		return
	}
	for i := range detected {
		c := detected[i]
		if _, err := s.orchestrator.Resolve(ctx, &c); err != nil {
			s.log.Error("resolution failed; conflict left open",
				zap.String("conflict_id", c.ID.String()),
				zap.Error(err))
		}
	}
}

// ResolveConflictManually applies an operator-chosen slot to one side
// of a conflict; works on escalated conflicts too.
func (s *Service) ResolveConflictManually(ctx context.Context, conflictID, bookingID uuid.UUID, newRange interval.Range, note string) (*resolution.Outcome, error) {
	if _, err := interval.NewRange(newRange.Start, newRange.End); err != nil {
		return nil, err
	}
	return s.orchestrator.ResolveManually(ctx, conflictID, bookingID, newRange, note)
}

// CreateScheduleEntry registers a resource block. Blocks are hard
// occupancy: overlap with anything already on the resource is rejected
// up front instead of becoming a conflict.
func (s *Service) CreateScheduleEntry(ctx context.Context, e *booking.ScheduleEntry) error {
	if _, err := interval.NewRange(e.StartTime, e.EndTime); err != nil {
		return err
	}

	key := e.ResourceKey()
	return s.locker.WithResourceLocks(ctx, []string{key}, func(lockCtx context.Context) error {
		if hits := s.index.Overlapping(key, e.EffectiveRange()); len(hits) > 0 {
			return fmt.Errorf("%w: %s", ErrBlockOverlap, key)
		}

		if err := s.bookings.CreateScheduleEntry(lockCtx, e); err != nil {
			return fmt.Errorf("persist schedule entry: %w", err)
		}

		s.index.Insert(key, e.ID, e.EffectiveRange())
		s.mu.Lock()
		s.blocks[e.ID] = struct{}{}
		s.mu.Unlock()
		return nil
	})
}

// transitionError distinguishes "booking missing" from "wrong state" for
// callers mapping errors to HTTP statuses.
func (s *Service) transitionError(ctx context.Context, id uuid.UUID, to booking.Status) error {
	if _, err := s.bookings.GetBookingByID(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("%w: cannot move booking %s to %s", booking.ErrInvalidStatusTransition, id, to)
}
