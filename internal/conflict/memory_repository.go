package conflict

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-memory Repository for tests and local
// development, with the same pair-dedup and CAS semantics as Postgres.
type MemoryRepository struct {
	mu        sync.RWMutex
	conflicts map[uuid.UUID]*Conflict
	attempts  []ResolutionAttempt
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{conflicts: make(map[uuid.UUID]*Conflict)}
}

func (r *MemoryRepository) GetConflictByID(ctx context.Context, id uuid.UUID) (*Conflict, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conflicts[id]
	if !ok {
		return nil, ErrConflictNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *MemoryRepository) GetOpenByPair(ctx context.Context, a, b uuid.UUID) (*Conflict, error) {
	lo, hi := PairKey(a, b)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.conflicts {
		if c.BookingA == lo && c.BookingB == hi && c.Status.Open() {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrConflictNotFound
}

func (r *MemoryRepository) CreateConflict(ctx context.Context, c *Conflict) error {
	c.BookingA, c.BookingB = PairKey(c.BookingA, c.BookingB)

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.conflicts {
		if existing.BookingA == c.BookingA && existing.BookingB == c.BookingB && existing.Status.Open() {
			return ErrDuplicatePair
		}
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.DetectedAt.IsZero() {
		c.DetectedAt = time.Now()
	}
	c.Status = StatusDetected
	cp := *c
	r.conflicts[c.ID] = &cp
	return nil
}

func (r *MemoryRepository) UpdateConflictStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Conflict, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conflicts[id]
	if !ok || c.Status != from {
		return nil, ErrConflictNotFound
	}
	c.Status = to
	if to.Open() {
		// Mirrors Postgres: an open conflict carries no resolution stamp.
		c.ResolvedAt = nil
		c.Method = nil
		c.Details = nil
	}
	cp := *c
	return &cp, nil
}

func (r *MemoryRepository) MarkResolved(ctx context.Context, id uuid.UUID, method ResolutionMethod, details *ResolutionDetails) (*Conflict, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conflicts[id]
	if !ok || c.Status != StatusResolving {
		return nil, ErrConflictNotFound
	}
	now := time.Now()
	c.Status = StatusResolved
	c.ResolvedAt = &now
	c.Method = &method
	c.Details = details
	cp := *c
	return &cp, nil
}

func (r *MemoryRepository) MarkEscalated(ctx context.Context, id uuid.UUID, reason string) (*Conflict, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conflicts[id]
	if !ok || !c.Status.Open() {
		return nil, ErrConflictNotFound
	}
	now := time.Now()
	method := MethodEscalation
	c.Status = StatusEscalated
	c.ResolvedAt = &now
	c.Method = &method
	c.Details = &ResolutionDetails{Rationale: reason}
	cp := *c
	return &cp, nil
}

func (r *MemoryRepository) ListConflicts(ctx context.Context, status Status, limit int) ([]Conflict, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Conflict
	for _, c := range r.conflicts {
		if status != "" && c.Status != status {
			continue
		}
		out = append(out, *c)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *MemoryRepository) ListOpenForBooking(ctx context.Context, bookingID uuid.UUID) ([]Conflict, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Conflict
	for _, c := range r.conflicts {
		if c.Status.Open() && c.Involves(bookingID) {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (r *MemoryRepository) DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, c := range r.conflicts {
		if !c.Status.Open() && c.ResolvedAt != nil && c.ResolvedAt.Before(cutoff) {
			delete(r.conflicts, id)
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) InsertResolutionAttempt(ctx context.Context, a *ResolutionAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	r.attempts = append(r.attempts, *a)
	return nil
}
