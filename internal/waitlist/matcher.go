package waitlist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/agendaflow/conflict-engine/internal/events"
	"github.com/agendaflow/conflict-engine/internal/metrics"
)

// Matcher hands freed capacity to waiting patients and flags entries
// that have waited too long.
type Matcher struct {
	repo    Repository
	sink    events.Sink
	metrics *metrics.Metrics
	log     *zap.Logger
}

func NewMatcher(repo Repository, sink events.Sink, m *metrics.Metrics, log *zap.Logger) *Matcher {
	return &Matcher{repo: repo, sink: sink, metrics: m, log: log}
}

// MatchFreedSlot proposes the freed slot to the best-ranked entry it can
// serve and moves that entry to notified. Returns nil when nobody on the
// list fits the slot. The status CAS makes concurrent matchers safe: the
// loser of a race just moves on to the next entry.
func (m *Matcher) MatchFreedSlot(ctx context.Context, slot FreedSlot) (*Entry, error) {
	entries, err := m.repo.ListActiveRanked(ctx)
	if err != nil {
		return nil, fmt.Errorf("list waitlist: %w", err)
	}

	for i := range entries {
		e := &entries[i]
		if !e.Satisfies(slot) {
			continue
		}

		notified, err := m.repo.UpdateEntryStatus(ctx, e.ID, StatusActive, StatusNotified)
		if err != nil {
			if errors.Is(err, ErrEntryNotFound) {
				continue
			}
			return nil, fmt.Errorf("notify waitlist entry: %w", err)
		}

		if m.metrics != nil {
			m.metrics.WaitlistMatches.Inc()
		}
		m.sink.Emit(ctx, events.Event{
			Type:      events.TypeWaitlistMatched,
			SubjectID: notified.ID,
			Payload: map[string]any{
				"entry_id":        notified.ID.String(),
				"patient_id":      notified.PatientID.String(),
				"professional_id": slot.ProfessionalID.String(),
				"slot_start":      slot.Range.Start,
				"slot_end":        slot.Range.End,
			},
		})
		m.log.Info("waitlist entry matched to freed slot",
			zap.String("entry_id", notified.ID.String()),
			zap.String("urgency", string(notified.Urgency)),
			zap.Time("slot_start", slot.Range.Start))
		return notified, nil
	}

	return nil, nil
}

// FlagOverdue escalates every active entry past its max wait. Entries
// are flagged for operator attention, never silently expired.
func (m *Matcher) FlagOverdue(ctx context.Context, now time.Time) (int, error) {
	overdue, err := m.repo.ListOverdue(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list overdue waitlist entries: %w", err)
	}

	flagged := 0
	for i := range overdue {
		e := &overdue[i]
		if e.EscalatedAt != nil {
			continue
		}
		if err := m.repo.MarkEscalated(ctx, e.ID, now); err != nil {
			if errors.Is(err, ErrEntryNotFound) {
				continue
			}
			return flagged, fmt.Errorf("escalate waitlist entry %s: %w", e.ID, err)
		}
		flagged++

		if m.metrics != nil {
			m.metrics.WaitlistOverdue.Inc()
		}
		m.sink.Emit(ctx, events.Event{
			Type:      events.TypeWaitlistOverdue,
			SubjectID: e.ID,
			Payload: map[string]any{
				"entry_id":   e.ID.String(),
				"patient_id": e.PatientID.String(),
				"waited":     now.Sub(e.CreatedAt).String(),
				"max_wait":   e.MaxWait.String(),
			},
		})
	}

	if flagged > 0 {
		m.log.Info("overdue waitlist entries flagged", zap.Int("count", flagged))
	}
	return flagged, nil
}
