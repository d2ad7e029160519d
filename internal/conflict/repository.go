package conflict

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrConflictNotFound = errors.New("conflict not found")
	ErrDuplicatePair    = errors.New("open conflict already exists for booking pair")
)

// Repository contains all DB interactions for conflicts and rules.
type Repository interface {
	GetConflictByID(ctx context.Context, id uuid.UUID) (*Conflict, error)
	// GetOpenByPair looks up a detected/resolving conflict for the
	// unordered pair; ErrConflictNotFound when none is open.
	GetOpenByPair(ctx context.Context, a, b uuid.UUID) (*Conflict, error)
	CreateConflict(ctx context.Context, c *Conflict) error
	// UpdateConflictStatus is a compare-and-swap on status.
	UpdateConflictStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Conflict, error)
	// MarkResolved sets resolved_at, method and details in the same
	// statement; resolution is atomic per the data model.
	MarkResolved(ctx context.Context, id uuid.UUID, method ResolutionMethod, details *ResolutionDetails) (*Conflict, error)
	MarkEscalated(ctx context.Context, id uuid.UUID, reason string) (*Conflict, error)

	ListConflicts(ctx context.Context, status Status, limit int) ([]Conflict, error)
	ListOpenForBooking(ctx context.Context, bookingID uuid.UUID) ([]Conflict, error)
	// DeleteResolvedBefore prunes conflicts resolved before the cutoff;
	// the weekly cleanup job calls this.
	DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error)

	InsertResolutionAttempt(ctx context.Context, a *ResolutionAttempt) error
}

// ResolutionAttempt records one strategy run against a conflict.
// Immutable once written; retries create new records.
type ResolutionAttempt struct {
	ID           uuid.UUID
	ConflictID   uuid.UUID
	StrategyType string
	Parameters   []byte
	Elapsed      time.Duration
	SuccessScore float64
	CreatedAt    time.Time
}
