package waitlist

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-memory Repository for tests and local
// development, with the same CAS semantics as the Postgres one.
type MemoryRepository struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*Entry
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{entries: make(map[uuid.UUID]*Entry)}
}

func (r *MemoryRepository) GetEntryByID(ctx context.Context, id uuid.UUID) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, ErrEntryNotFound
	}
	cp := *e
	return &cp, nil
}

func (r *MemoryRepository) CreateEntry(ctx context.Context, e *Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Urgency == "" {
		e.Urgency = UrgencyNormal
	}
	now := time.Now()
	e.Status = StatusActive
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	cp := *e
	r.entries[e.ID] = &cp
	return nil
}

func (r *MemoryRepository) UpdateEntryStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok || e.Status != from {
		return nil, ErrEntryNotFound
	}
	e.Status = to
	if to == StatusNotified {
		now := time.Now()
		e.NotifiedAt = &now
	}
	e.UpdatedAt = time.Now()
	cp := *e
	return &cp, nil
}

func (r *MemoryRepository) ListActiveRanked(ctx context.Context) ([]Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Entry
	for _, e := range r.entries {
		if e.Status == StatusActive {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return Less(&out[i], &out[j]) })
	return out, nil
}

func (r *MemoryRepository) ListOverdue(ctx context.Context, now time.Time) ([]Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Entry
	for _, e := range r.entries {
		if e.Status == StatusActive && now.Sub(e.CreatedAt) > e.MaxWait {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) MarkEscalated(ctx context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok || e.Status != StatusActive || e.EscalatedAt != nil {
		return ErrEntryNotFound
	}
	e.EscalatedAt = &at
	e.UpdatedAt = time.Now()
	return nil
}
