package waitlist

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrEntryNotFound = errors.New("waitlist entry not found")

// Repository contains all DB interactions for the waitlist.
type Repository interface {
	GetEntryByID(ctx context.Context, id uuid.UUID) (*Entry, error)
	CreateEntry(ctx context.Context, e *Entry) error
	// UpdateEntryStatus is a compare-and-swap on status; notified_at is
	// stamped when the entry moves to notified.
	UpdateEntryStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Entry, error)
	// ListActiveRanked returns active entries in matching order:
	// urgency rank desc, priority desc, created_at asc.
	ListActiveRanked(ctx context.Context) ([]Entry, error)
	// ListOverdue returns active entries whose wait exceeds max_wait,
	// escalated or not, for the operator surface.
	ListOverdue(ctx context.Context, now time.Time) ([]Entry, error)
	// MarkEscalated stamps escalated_at on an active overdue entry;
	// idempotent per entry.
	MarkEscalated(ctx context.Context, id uuid.UUID, at time.Time) error
}
