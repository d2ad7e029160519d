package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/agendaflow/conflict-engine/internal/interval"
)

var (
	ErrBookingNotFound         = errors.New("booking not found")
	ErrScheduleEntryNotFound   = errors.New("schedule entry not found")
	ErrConcurrentModification  = errors.New("booking modified concurrently")
	ErrInvalidStatusTransition = errors.New("invalid booking status transition")
)

// Repository contains all DB interactions needed by the engine.
type Repository interface {
	GetBookingByID(ctx context.Context, id uuid.UUID) (*Booking, error)
	CreateBooking(ctx context.Context, b *Booking) error
	// UpdateBookingStatus is a compare-and-swap on status; returns
	// ErrBookingNotFound if the booking is missing or not in `from`.
	UpdateBookingStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Booking, error)
	// Reschedule moves the booking iff its version still matches;
	// returns ErrConcurrentModification otherwise.
	Reschedule(ctx context.Context, id uuid.UUID, version int64, r interval.Range) (*Booking, error)

	// Index load and sweep
	ListActiveBookings(ctx context.Context) ([]Booking, error)
	ListActiveBookingsForProfessional(ctx context.Context, professionalID uuid.UUID, day time.Time) ([]Booking, error)

	CreateScheduleEntry(ctx context.Context, e *ScheduleEntry) error
	ListScheduleEntries(ctx context.Context) ([]ScheduleEntry, error)
}
