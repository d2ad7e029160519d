package waitlist

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agendaflow/conflict-engine/internal/events"
	"github.com/agendaflow/conflict-engine/internal/interval"
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

func newMatcher() (*Matcher, *MemoryRepository, *captureSink) {
	repo := NewMemoryRepository()
	sink := &captureSink{}
	return NewMatcher(repo, sink, nil, zap.NewNop()), repo, sink
}

func mustCreate(t *testing.T, repo *MemoryRepository, e *Entry) *Entry {
	t.Helper()
	if e.Priority == 0 {
		e.Priority = 5
	}
	if e.Duration == 0 {
		e.Duration = 30 * time.Minute
	}
	if e.EarliestDate.IsZero() {
		e.EarliestDate = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	}
	if e.LatestDate.IsZero() {
		e.LatestDate = time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)
	}
	if e.MaxWait == 0 {
		e.MaxWait = 30 * 24 * time.Hour
	}
	require.NoError(t, repo.CreateEntry(context.Background(), e))
	return e
}

func slotAt(hour int, d time.Duration) FreedSlot {
	start := time.Date(2026, 3, 10, hour, 0, 0, 0, time.UTC)
	return FreedSlot{
		ProfessionalID: uuid.New(),
		Range:          interval.Range{Start: start, End: start.Add(d)},
	}
}

func TestMatchingOrderIsTotal(t *testing.T) {
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	entries := []*Entry{
		{ID: uuid.New(), Urgency: UrgencyNormal, Priority: 9, CreatedAt: base},
		{ID: uuid.New(), Urgency: UrgencyEmergency, Priority: 1, CreatedAt: base.Add(time.Hour)},
		{ID: uuid.New(), Urgency: UrgencyHigh, Priority: 5, CreatedAt: base},
		{ID: uuid.New(), Urgency: UrgencyHigh, Priority: 5, CreatedAt: base.Add(-time.Hour)},
		{ID: uuid.New(), Urgency: UrgencyLow, Priority: 10, CreatedAt: base},
	}

	sorted := make([]*Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return Less(sorted[i], sorted[j]) })

	assert.Equal(t, UrgencyEmergency, sorted[0].Urgency, "urgency beats priority")
	assert.Equal(t, UrgencyHigh, sorted[1].Urgency)
	assert.True(t, sorted[1].CreatedAt.Before(sorted[2].CreatedAt), "equal urgency and priority: oldest first")
	assert.Equal(t, UrgencyNormal, sorted[3].Urgency)
	assert.Equal(t, UrgencyLow, sorted[4].Urgency)
}

func TestUrgencyRankLadder(t *testing.T) {
	ordered := []Urgency{UrgencyLow, UrgencyNormal, UrgencyHigh, UrgencyUrgent, UrgencyEmergency}
	for i := 1; i < len(ordered); i++ {
		assert.Greater(t, ordered[i].Rank(), ordered[i-1].Rank(),
			"%s outranks %s", ordered[i], ordered[i-1])
	}
	for _, u := range ordered {
		assert.True(t, u.Valid(), "%s is a defined level", u)
	}
	assert.False(t, Urgency("asap").Valid())
	assert.False(t, Urgency("").Valid())
}

func TestUrgentOutranksLowInMatchingOrder(t *testing.T) {
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	urgent := &Entry{ID: uuid.New(), Urgency: UrgencyUrgent, Priority: 1, CreatedAt: base}
	low := &Entry{ID: uuid.New(), Urgency: UrgencyLow, Priority: 10, CreatedAt: base}
	emergency := &Entry{ID: uuid.New(), Urgency: UrgencyEmergency, Priority: 1, CreatedAt: base}

	assert.True(t, Less(urgent, low), "urgent matches before low regardless of priority")
	assert.False(t, Less(low, urgent))
	assert.True(t, Less(emergency, urgent), "emergency still beats urgent")
}

func TestMatchFreedSlotPrefersUrgent(t *testing.T) {
	m, repo, sink := newMatcher()

	mustCreate(t, repo, &Entry{PatientID: uuid.New(), Urgency: UrgencyNormal, Priority: 9})
	urgent := mustCreate(t, repo, &Entry{PatientID: uuid.New(), Urgency: UrgencyEmergency, Priority: 2})

	matched, err := m.MatchFreedSlot(context.Background(), slotAt(10, time.Hour))
	require.NoError(t, err)
	require.NotNil(t, matched)
	assert.Equal(t, urgent.ID, matched.ID)
	assert.Equal(t, StatusNotified, matched.Status)
	require.NotNil(t, matched.NotifiedAt)

	require.Len(t, sink.events, 1)
	assert.Equal(t, events.TypeWaitlistMatched, sink.events[0].Type)
}

func TestMatchFreedSlotSkipsUnsatisfiable(t *testing.T) {
	m, repo, _ := newMatcher()
	otherProf := uuid.New()

	// Best-ranked entry wants a different professional; next one fits.
	mustCreate(t, repo, &Entry{
		PatientID: uuid.New(), Urgency: UrgencyEmergency,
		PreferredProfessionalID: &otherProf,
	})
	fallback := mustCreate(t, repo, &Entry{PatientID: uuid.New(), Urgency: UrgencyNormal})

	matched, err := m.MatchFreedSlot(context.Background(), slotAt(10, time.Hour))
	require.NoError(t, err)
	require.NotNil(t, matched)
	assert.Equal(t, fallback.ID, matched.ID)
}

func TestMatchFreedSlotRespectsDurationAndTimePrefs(t *testing.T) {
	m, repo, _ := newMatcher()

	mustCreate(t, repo, &Entry{
		PatientID: uuid.New(), Urgency: UrgencyHigh,
		Duration: 2 * time.Hour, // longer than the slot
	})
	mustCreate(t, repo, &Entry{
		PatientID: uuid.New(), Urgency: UrgencyHigh,
		TimePrefs: []string{"evening"}, // slot is at 10:00
	})
	morning := mustCreate(t, repo, &Entry{
		PatientID: uuid.New(), Urgency: UrgencyNormal,
		TimePrefs: []string{"morning"},
	})

	matched, err := m.MatchFreedSlot(context.Background(), slotAt(10, time.Hour))
	require.NoError(t, err)
	require.NotNil(t, matched)
	assert.Equal(t, morning.ID, matched.ID)
}

func TestMatchFreedSlotNoCandidate(t *testing.T) {
	m, repo, sink := newMatcher()
	mustCreate(t, repo, &Entry{
		PatientID: uuid.New(),
		Duration:  4 * time.Hour,
	})

	matched, err := m.MatchFreedSlot(context.Background(), slotAt(10, time.Hour))
	require.NoError(t, err)
	assert.Nil(t, matched)
	assert.Empty(t, sink.events)
}

func TestFlagOverdueEscalatesOnce(t *testing.T) {
	m, repo, sink := newMatcher()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	late := mustCreate(t, repo, &Entry{
		PatientID: uuid.New(),
		CreatedAt: now.Add(-72 * time.Hour),
		MaxWait:   48 * time.Hour,
	})
	mustCreate(t, repo, &Entry{
		PatientID: uuid.New(),
		CreatedAt: now.Add(-time.Hour),
		MaxWait:   48 * time.Hour,
	})

	flagged, err := m.FlagOverdue(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, flagged)

	stored, err := repo.GetEntryByID(context.Background(), late.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.EscalatedAt)
	assert.Equal(t, StatusActive, stored.Status, "overdue entries stay active, never silently expired")

	require.Len(t, sink.events, 1)
	assert.Equal(t, events.TypeWaitlistOverdue, sink.events[0].Type)

	// Second run is a no-op.
	flagged, err = m.FlagOverdue(context.Background(), now)
	require.NoError(t, err)
	assert.Zero(t, flagged)
}

func TestStatusTransitionsMonotonic(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusActive, StatusNotified, true},
		{StatusActive, StatusCancelled, true},
		{StatusActive, StatusExpired, true},
		{StatusActive, StatusBooked, false},
		{StatusNotified, StatusBooked, true},
		{StatusNotified, StatusExpired, true},
		{StatusNotified, StatusActive, false},
		{StatusBooked, StatusActive, false},
		{StatusExpired, StatusNotified, false},
		{StatusCancelled, StatusActive, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, tc.from.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}
}
