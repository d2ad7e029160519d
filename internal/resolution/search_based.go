package resolution

import (
	"context"
	"fmt"
	"time"

	"github.com/agendaflow/conflict-engine/internal/booking"
	"github.com/agendaflow/conflict-engine/internal/conflict"
	"github.com/agendaflow/conflict-engine/internal/interval"
)

// SearchBased scans a bounded future window for the earliest slot where
// the lower-priority booking is free on every resource it touches. It
// reads the live index without holding any resource lock; the
// orchestrator re-validates atomically at commit.
type SearchBased struct {
	index  *interval.Index
	window time.Duration
	step   time.Duration
}

func NewSearchBased(index *interval.Index, window, step time.Duration) *SearchBased {
	if window <= 0 {
		window = 7 * 24 * time.Hour
	}
	if step <= 0 {
		step = 15 * time.Minute
	}
	return &SearchBased{index: index, window: window, step: step}
}

func (s *SearchBased) Type() StrategyType { return StrategySearchBased }

func (s *SearchBased) Propose(ctx context.Context, c *conflict.Conflict, pair Pair) ([]Proposal, error) {
	lower := pair.Lower()
	original := lower.Range()

	for offset := s.step; offset <= s.window; offset += s.step {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		cand := original.Shift(offset)
		if s.slotFree(lower, cand) {
			return []Proposal{{
				BookingID:  lower.ID,
				NewRange:   cand,
				Confidence: s.confidence(offset),
				Rationale:  fmt.Sprintf("earliest free slot %s after original time", offset),
				Strategy:   StrategySearchBased,
			}}, nil
		}
	}

	return nil, nil
}

func (s *SearchBased) slotFree(b *booking.Booking, cand interval.Range) bool {
	for _, key := range b.ResourceKeys() {
		if key == booking.SiteKey {
			continue
		}
		if len(s.index.OverlappingExcluding(key, cand, b.ID)) > 0 {
			return false
		}
	}
	return true
}

// confidence decays linearly with distance from the original time,
// floored so a found slot is never worth nothing.
func (s *SearchBased) confidence(offset time.Duration) float64 {
	conf := 0.95 * (1 - float64(offset)/float64(s.window+s.step))
	if conf < 0.1 {
		return 0.1
	}
	return conf
}
