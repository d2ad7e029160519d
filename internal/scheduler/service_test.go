package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agendaflow/conflict-engine/internal/booking"
	"github.com/agendaflow/conflict-engine/internal/conflict"
	"github.com/agendaflow/conflict-engine/internal/events"
	"github.com/agendaflow/conflict-engine/internal/interval"
	"github.com/agendaflow/conflict-engine/internal/resolution"
	"github.com/agendaflow/conflict-engine/internal/waitlist"
)

type captureSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *captureSink) Emit(ctx context.Context, ev events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *captureSink) countType(typ string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ev := range s.events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

type noopLocker struct{}

func (noopLocker) WithResourceLocks(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fixture struct {
	service   *Service
	index     *interval.Index
	bookings  *booking.MemoryRepository
	conflicts *conflict.MemoryRepository
	waitlist  *waitlist.MemoryRepository
	sink      *captureSink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := zap.NewNop()
	f := &fixture{
		index:     interval.NewIndex(),
		bookings:  booking.NewMemoryRepository(),
		conflicts: conflict.NewMemoryRepository(),
		waitlist:  waitlist.NewMemoryRepository(),
		sink:      &captureSink{},
	}

	detector := conflict.NewDetector(f.index, f.bookings, f.conflicts,
		conflict.StaticRules(conflict.DefaultRules()), f.sink, nil, log, 0)

	registry := resolution.NewRegistry(
		resolution.NewSearchBased(f.index, 24*time.Hour, 15*time.Minute),
	)
	orchestrator := resolution.NewOrchestrator(f.index, f.bookings, f.conflicts,
		registry, resolution.NewRepoCommitter(f.bookings, f.conflicts),
		noopLocker{}, f.sink, nil, log, resolution.Config{})

	matcher := waitlist.NewMatcher(f.waitlist, f.sink, nil, log)

	f.service = NewService(f.index, f.bookings, f.conflicts, detector,
		orchestrator, matcher, noopLocker{}, f.sink, log)
	return f
}

func at(t *testing.T, hour, min int) time.Time {
	t.Helper()
	return time.Date(2026, 3, 2, hour, min, 0, 0, time.UTC)
}

func newBooking(t *testing.T, prof uuid.UUID, fromH, fromM, toH, toM, priority int) *booking.Booking {
	t.Helper()
	return &booking.Booking{
		PatientID:         uuid.New(),
		ProfessionalID:    prof,
		StartTime:         at(t, fromH, fromM),
		EndTime:           at(t, toH, toM),
		Priority:          priority,
		AutoReschedulable: true,
	}
}

func TestCreateBookingRejectsInvalidRange(t *testing.T) {
	f := newFixture(t)
	b := newBooking(t, uuid.New(), 10, 0, 9, 0, 5)

	_, err := f.service.CreateBooking(context.Background(), b)
	require.ErrorIs(t, err, interval.ErrInvalidRange)
	assert.Zero(t, f.index.Len(booking.ProfessionalKey(b.ProfessionalID)),
		"nothing touches the index on validation failure")
}

func TestCreateBookingNoConflictFastPath(t *testing.T) {
	f := newFixture(t)
	prof := uuid.New()

	detected, err := f.service.CreateBooking(context.Background(), newBooking(t, prof, 9, 0, 9, 30, 5))
	require.NoError(t, err)
	assert.Empty(t, detected)

	detected, err = f.service.CreateBooking(context.Background(), newBooking(t, prof, 9, 30, 10, 0, 5))
	require.NoError(t, err)
	assert.Empty(t, detected, "touching ranges do not conflict")
}

func TestCreateBookingDetectsAndAutoResolves(t *testing.T) {
	f := newFixture(t)
	prof := uuid.New()

	_, err := f.service.CreateBooking(context.Background(), newBooking(t, prof, 9, 0, 9, 30, 8))
	require.NoError(t, err)

	low := newBooking(t, prof, 9, 15, 9, 45, 3)
	detected, err := f.service.CreateBooking(context.Background(), low)
	require.NoError(t, err)
	require.Len(t, detected, 1)

	resolved, err := f.conflicts.GetConflictByID(context.Background(), detected[0].ID)
	require.NoError(t, err)
	assert.Equal(t, conflict.StatusResolved, resolved.Status)

	moved, err := f.bookings.GetBookingByID(context.Background(), low.ID)
	require.NoError(t, err)
	assert.True(t, moved.StartTime.After(at(t, 9, 15)), "low-priority booking was moved out of the way")

	// The moved slot introduces nothing new.
	again, err := f.service.DetectNow(context.Background(), low.ID)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestCreateBookingRejectsBlockedRange(t *testing.T) {
	f := newFixture(t)
	room := uuid.New()

	require.NoError(t, f.service.CreateScheduleEntry(context.Background(), &booking.ScheduleEntry{
		ResourceType: "room",
		ResourceID:   room,
		StartTime:    at(t, 9, 0),
		EndTime:      at(t, 12, 0),
	}))

	b := newBooking(t, uuid.New(), 10, 0, 10, 30, 5)
	b.RoomID = &room
	_, err := f.service.CreateBooking(context.Background(), b)
	require.ErrorIs(t, err, ErrScheduleBlocked)

	_, getErr := f.bookings.GetBookingByID(context.Background(), b.ID)
	assert.ErrorIs(t, getErr, booking.ErrBookingNotFound, "rejected booking never persisted")
}

func TestScheduleEntryBufferWidensBlock(t *testing.T) {
	f := newFixture(t)
	room := uuid.New()

	require.NoError(t, f.service.CreateScheduleEntry(context.Background(), &booking.ScheduleEntry{
		ResourceType: "room",
		ResourceID:   room,
		StartTime:    at(t, 9, 0),
		EndTime:      at(t, 10, 0),
		BufferAfter:  30 * time.Minute,
	}))

	b := newBooking(t, uuid.New(), 10, 15, 10, 45, 5)
	b.RoomID = &room
	_, err := f.service.CreateBooking(context.Background(), b)
	require.ErrorIs(t, err, ErrScheduleBlocked, "buffer extends the blocked window")
}

func TestCreateScheduleEntryRejectsOverlap(t *testing.T) {
	f := newFixture(t)
	room := uuid.New()

	b := newBooking(t, uuid.New(), 9, 0, 10, 0, 5)
	b.RoomID = &room
	_, err := f.service.CreateBooking(context.Background(), b)
	require.NoError(t, err)

	err = f.service.CreateScheduleEntry(context.Background(), &booking.ScheduleEntry{
		ResourceType: "room",
		ResourceID:   room,
		StartTime:    at(t, 9, 30),
		EndTime:      at(t, 11, 0),
	})
	require.ErrorIs(t, err, ErrBlockOverlap)
}

func TestConfirmCompleteLifecycle(t *testing.T) {
	f := newFixture(t)
	prof := uuid.New()

	b := newBooking(t, prof, 9, 0, 9, 30, 5)
	_, err := f.service.CreateBooking(context.Background(), b)
	require.NoError(t, err)

	confirmed, err := f.service.Confirm(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusConfirmed, confirmed.Status)

	// Confirming twice is an invalid transition, not a missing booking.
	_, err = f.service.Confirm(context.Background(), b.ID)
	require.ErrorIs(t, err, booking.ErrInvalidStatusTransition)

	completed, err := f.service.Complete(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusCompleted, completed.Status)
	assert.Zero(t, f.index.Len(booking.ProfessionalKey(prof)), "completed booking releases its slots")
}

func TestCancelFreesSlotForWaitlist(t *testing.T) {
	f := newFixture(t)
	prof := uuid.New()

	b := newBooking(t, prof, 9, 0, 10, 0, 5)
	_, err := f.service.CreateBooking(context.Background(), b)
	require.NoError(t, err)

	entry := &waitlist.Entry{
		PatientID:     uuid.New(),
		TreatmentType: "physio",
		Duration:      45 * time.Minute,
		EarliestDate:  at(t, 0, 0),
		LatestDate:    at(t, 23, 0),
		Priority:      5,
		Urgency:       waitlist.UrgencyHigh,
		MaxWait:       7 * 24 * time.Hour,
	}
	require.NoError(t, f.waitlist.CreateEntry(context.Background(), entry))

	cancelled, err := f.service.Cancel(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusCancelled, cancelled.Status)
	assert.Zero(t, f.index.Len(booking.ProfessionalKey(prof)))

	assert.Equal(t, 1, f.sink.countType(events.TypeBookingCancelled))
	assert.Equal(t, 1, f.sink.countType(events.TypeWaitlistMatched))

	notified, err := f.waitlist.GetEntryByID(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.Equal(t, waitlist.StatusNotified, notified.Status)

	// Cancelling again is rejected; the slot is only freed once.
	_, err = f.service.Cancel(context.Background(), b.ID)
	require.ErrorIs(t, err, booking.ErrInvalidStatusTransition)
}

func TestRescheduleStaleVersion(t *testing.T) {
	f := newFixture(t)
	prof := uuid.New()

	b := newBooking(t, prof, 9, 0, 9, 30, 5)
	_, err := f.service.CreateBooking(context.Background(), b)
	require.NoError(t, err)

	target := interval.Range{Start: at(t, 11, 0), End: at(t, 11, 30)}
	_, _, err = f.service.Reschedule(context.Background(), b.ID, b.Version+1, target)
	require.ErrorIs(t, err, booking.ErrConcurrentModification)

	moved, detected, err := f.service.Reschedule(context.Background(), b.ID, b.Version, target)
	require.NoError(t, err)
	assert.Empty(t, detected)
	assert.Equal(t, target.Start, moved.StartTime)
	assert.Equal(t, int64(2), moved.Version)
}

func TestLoadIndexHydratesFromStore(t *testing.T) {
	f := newFixture(t)
	prof := uuid.New()
	room := uuid.New()

	b := newBooking(t, prof, 9, 0, 10, 0, 5)
	require.NoError(t, f.bookings.CreateBooking(context.Background(), b))
	require.NoError(t, f.bookings.CreateScheduleEntry(context.Background(), &booking.ScheduleEntry{
		ResourceType: "room",
		ResourceID:   room,
		StartTime:    at(t, 9, 0),
		EndTime:      at(t, 12, 0),
	}))

	n, err := f.service.LoadIndex(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, f.index.Len(booking.ProfessionalKey(prof)))
	assert.Equal(t, 1, f.index.Len(booking.RoomKey(room)))

	// The hydrated block rejects bookings just like a fresh one.
	blocked := newBooking(t, uuid.New(), 10, 0, 10, 30, 5)
	blocked.RoomID = &room
	_, err = f.service.CreateBooking(context.Background(), blocked)
	require.ErrorIs(t, err, ErrScheduleBlocked)
}

func TestSweepResolvesBacklog(t *testing.T) {
	f := newFixture(t)
	prof := uuid.New()

	// Seed overlapping bookings directly, bypassing create-time detection.
	a := newBooking(t, prof, 9, 0, 9, 30, 8)
	b := newBooking(t, prof, 9, 15, 9, 45, 3)
	for _, bk := range []*booking.Booking{a, b} {
		bk.Status = booking.StatusConfirmed
		require.NoError(t, f.bookings.CreateBooking(context.Background(), bk))
		for _, key := range bk.ResourceKeys() {
			f.index.Insert(key, bk.ID, bk.Range())
		}
	}

	report, err := f.service.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.NewConflicts)

	open, err := f.conflicts.ListConflicts(context.Background(), conflict.StatusDetected, 0)
	require.NoError(t, err)
	assert.Empty(t, open, "sweep's resolution pass drains the detected backlog")

	resolved, err := f.conflicts.ListConflicts(context.Background(), conflict.StatusResolved, 0)
	require.NoError(t, err)
	assert.Len(t, resolved, 1)
}
