package resolution

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/agendaflow/conflict-engine/internal/booking"
	"github.com/agendaflow/conflict-engine/internal/conflict"
	"github.com/agendaflow/conflict-engine/internal/interval"
)

// RepoCommitter commits through the repository interfaces in two steps.
// It is not transactional across the two stores; production wiring uses
// PgCommitter, this one backs tests and in-memory setups.
type RepoCommitter struct {
	bookings  booking.Repository
	conflicts conflict.Repository
}

func NewRepoCommitter(bookings booking.Repository, conflicts conflict.Repository) *RepoCommitter {
	return &RepoCommitter{bookings: bookings, conflicts: conflicts}
}

func (c *RepoCommitter) CommitResolution(ctx context.Context, conflictID uuid.UUID, target *booking.Booking, newRange interval.Range, method conflict.ResolutionMethod, details *conflict.ResolutionDetails) (*booking.Booking, error) {
	moved, err := c.bookings.Reschedule(ctx, target.ID, target.Version, newRange)
	if err != nil {
		return nil, err
	}
	if _, err := c.conflicts.MarkResolved(ctx, conflictID, method, details); err != nil {
		return nil, fmt.Errorf("mark conflict resolved: %w", err)
	}
	return moved, nil
}
