package resolution

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agendaflow/conflict-engine/internal/booking"
	"github.com/agendaflow/conflict-engine/internal/conflict"
	"github.com/agendaflow/conflict-engine/internal/interval"
)

func TestPairLowerTotalOrder(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	t.Run("priority decides", func(t *testing.T) {
		a := &booking.Booking{ID: uuid.New(), Priority: 3, CreatedAt: now}
		b := &booking.Booking{ID: uuid.New(), Priority: 8, CreatedAt: now}
		assert.Same(t, a, Pair{A: a, B: b}.Lower())
		assert.Same(t, a, Pair{A: b, B: a}.Lower(), "order of the pair never matters")
		assert.Same(t, b, Pair{A: a, B: b}.Higher())
	})

	t.Run("equal priority, newer booking loses", func(t *testing.T) {
		a := &booking.Booking{ID: uuid.New(), Priority: 5, CreatedAt: now}
		b := &booking.Booking{ID: uuid.New(), Priority: 5, CreatedAt: now.Add(time.Minute)}
		assert.Same(t, b, Pair{A: a, B: b}.Lower())
		assert.Same(t, b, Pair{A: b, B: a}.Lower())
	})

	t.Run("full tie falls back to id bytes", func(t *testing.T) {
		a := &booking.Booking{ID: uuid.MustParse("00000000-0000-0000-0000-000000000001"), Priority: 5, CreatedAt: now}
		b := &booking.Booking{ID: uuid.MustParse("00000000-0000-0000-0000-000000000002"), Priority: 5, CreatedAt: now}
		assert.Same(t, b, Pair{A: a, B: b}.Lower())
		assert.Same(t, b, Pair{A: b, B: a}.Lower())
	})
}

type staticHints []conflict.Rule

func (h staticHints) MatchingRule(ctx context.Context, typ conflict.Type) (conflict.Rule, bool) {
	if len(h) == 0 {
		return conflict.Rule{}, false
	}
	return h[0], true
}

func TestRuleBasedProposesHintedShift(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	low := &booking.Booking{ID: uuid.New(), Priority: 3, StartTime: now, EndTime: now.Add(30 * time.Minute), CreatedAt: now}
	high := &booking.Booking{ID: uuid.New(), Priority: 8, StartTime: now, EndTime: now.Add(time.Hour), CreatedAt: now}

	s := NewRuleBased(staticHints{{Name: "professional double booking", StrategyHint: "shift_lower:30m", Enabled: true}})
	ps, err := s.Propose(context.Background(), &conflict.Conflict{Type: conflict.TypeResourceConflict}, Pair{A: high, B: low})
	require.NoError(t, err)
	require.Len(t, ps, 1)

	assert.Equal(t, low.ID, ps[0].BookingID)
	assert.Equal(t, now.Add(30*time.Minute), ps[0].NewRange.Start)
	assert.Equal(t, now.Add(time.Hour), ps[0].NewRange.End)
	assert.Equal(t, ruleBasedConfidence, ps[0].Confidence)
}

func TestRuleBasedRejectsMalformedHint(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	low := &booking.Booking{ID: uuid.New(), Priority: 3, StartTime: now, EndTime: now.Add(30 * time.Minute)}
	high := &booking.Booking{ID: uuid.New(), Priority: 8, StartTime: now, EndTime: now.Add(time.Hour)}

	s := NewRuleBased(staticHints{{Name: "bad", StrategyHint: "swap_rooms", Enabled: true}})
	_, err := s.Propose(context.Background(), &conflict.Conflict{}, Pair{A: high, B: low})
	assert.Error(t, err)
}

func TestSearchBasedFindsEarliestFreeSlot(t *testing.T) {
	ix := interval.NewIndex()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	prof := uuid.New()

	high := &booking.Booking{
		ID: uuid.New(), ProfessionalID: prof, Priority: 8,
		StartTime: now, EndTime: now.Add(time.Hour), CreatedAt: now,
	}
	low := &booking.Booking{
		ID: uuid.New(), ProfessionalID: prof, Priority: 3,
		StartTime: now.Add(30 * time.Minute), EndTime: now.Add(time.Hour), CreatedAt: now,
	}
	for _, b := range []*booking.Booking{high, low} {
		for _, key := range b.ResourceKeys() {
			ix.Insert(key, b.ID, b.Range())
		}
	}
	// Block the slot right after the higher booking too.
	blocker := &booking.Booking{ID: uuid.New(), ProfessionalID: prof,
		StartTime: now.Add(time.Hour), EndTime: now.Add(90 * time.Minute)}
	ix.Insert(booking.ProfessionalKey(prof), blocker.ID, blocker.Range())

	s := NewSearchBased(ix, 24*time.Hour, 15*time.Minute)
	ps, err := s.Propose(context.Background(), &conflict.Conflict{}, Pair{A: high, B: low})
	require.NoError(t, err)
	require.Len(t, ps, 1)

	// Earliest 30-minute slot clear of high, low's own entry, and the
	// blocker starts at 10:30.
	assert.Equal(t, now.Add(90*time.Minute), ps[0].NewRange.Start)
	assert.Equal(t, now.Add(2*time.Hour), ps[0].NewRange.End)
	assert.Equal(t, low.ID, ps[0].BookingID)
	assert.Greater(t, ps[0].Confidence, 0.9, "slots near the original keep high confidence")
}

func TestSearchBasedRespectsCancellation(t *testing.T) {
	ix := interval.NewIndex()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	prof := uuid.New()
	low := &booking.Booking{ID: uuid.New(), ProfessionalID: prof, Priority: 3,
		StartTime: now, EndTime: now.Add(30 * time.Minute)}
	high := &booking.Booking{ID: uuid.New(), ProfessionalID: prof, Priority: 8,
		StartTime: now, EndTime: now.Add(30 * time.Minute)}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewSearchBased(ix, 7*24*time.Hour, 15*time.Minute)
	_, err := s.Propose(ctx, &conflict.Conflict{}, Pair{A: high, B: low})
	assert.ErrorIs(t, err, context.Canceled)
}
