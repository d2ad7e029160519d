package booking

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agendaflow/conflict-engine/internal/interval"
)

// MemoryRepository is an in-memory Repository used by tests and local
// development. It honors the same compare-and-swap semantics as the
// Postgres implementation.
type MemoryRepository struct {
	mu       sync.RWMutex
	bookings map[uuid.UUID]*Booking
	entries  map[uuid.UUID]*ScheduleEntry
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		bookings: make(map[uuid.UUID]*Booking),
		entries:  make(map[uuid.UUID]*ScheduleEntry),
	}
}

func (r *MemoryRepository) GetBookingByID(ctx context.Context, id uuid.UUID) (*Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bookings[id]
	if !ok {
		return nil, ErrBookingNotFound
	}
	cp := *b
	return &cp, nil
}

func (r *MemoryRepository) CreateBooking(ctx context.Context, b *Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.Status == "" {
		b.Status = StatusTentative
	}
	now := time.Now()
	b.Version = 1
	b.CreatedAt = now
	b.UpdatedAt = now
	cp := *b
	r.bookings[b.ID] = &cp
	return nil
}

func (r *MemoryRepository) UpdateBookingStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok || b.Status != from {
		return nil, ErrBookingNotFound
	}
	b.Status = to
	b.UpdatedAt = time.Now()
	cp := *b
	return &cp, nil
}

func (r *MemoryRepository) Reschedule(ctx context.Context, id uuid.UUID, version int64, rng interval.Range) (*Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok {
		return nil, ErrBookingNotFound
	}
	if b.Version != version {
		return nil, ErrConcurrentModification
	}
	b.StartTime = rng.Start
	b.EndTime = rng.End
	b.Version++
	b.UpdatedAt = time.Now()
	cp := *b
	return &cp, nil
}

func (r *MemoryRepository) ListActiveBookings(ctx context.Context) ([]Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Booking
	for _, b := range r.bookings {
		if b.Status.Active() {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (r *MemoryRepository) ListActiveBookingsForProfessional(ctx context.Context, professionalID uuid.UUID, day time.Time) ([]Booking, error) {
	dayStart := day.Truncate(24 * time.Hour)
	dayEnd := dayStart.Add(24 * time.Hour)

	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Booking
	for _, b := range r.bookings {
		if b.ProfessionalID != professionalID || !b.Status.Active() {
			continue
		}
		if b.StartTime.Before(dayStart) || !b.StartTime.Before(dayEnd) {
			continue
		}
		out = append(out, *b)
	}
	return out, nil
}

func (r *MemoryRepository) CreateScheduleEntry(ctx context.Context, e *ScheduleEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.CreatedAt = time.Now()
	cp := *e
	r.entries[e.ID] = &cp
	return nil
}

func (r *MemoryRepository) ListScheduleEntries(ctx context.Context) ([]ScheduleEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []ScheduleEntry
	for _, e := range r.entries {
		out = append(out, *e)
	}
	return out, nil
}
