package resolution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agendaflow/conflict-engine/internal/booking"
	"github.com/agendaflow/conflict-engine/internal/conflict"
	"github.com/agendaflow/conflict-engine/internal/events"
	"github.com/agendaflow/conflict-engine/internal/interval"
	"github.com/agendaflow/conflict-engine/internal/metrics"
	redisclient "github.com/agendaflow/conflict-engine/internal/redis"
)

var (
	// ErrNoValidProposal is a normal outcome, not a failure; it routes
	// the conflict to escalation.
	ErrNoValidProposal = errors.New("no valid resolution proposal")
	ErrStrategyTimeout = errors.New("strategy exceeded its time budget")
)

// BookingSource is the slice of the booking repository the orchestrator needs.
type BookingSource interface {
	GetBookingByID(ctx context.Context, id uuid.UUID) (*booking.Booking, error)
}

// Committer applies a winning proposal atomically: booking move and
// conflict resolution land in one transaction or not at all.
type Committer interface {
	CommitResolution(ctx context.Context, conflictID uuid.UUID, target *booking.Booking, newRange interval.Range, method conflict.ResolutionMethod, details *conflict.ResolutionDetails) (*booking.Booking, error)
}

type Config struct {
	AutoResolveThreshold int
	StrategyTimeout      time.Duration
	CommitRetries        int
	CommitRetryBackoff   time.Duration
}

// Outcome reports what happened to one conflict.
type Outcome struct {
	Resolved  bool
	Escalated bool
	Proposal  *Proposal
	Reason    string
}

// Orchestrator runs the auto-resolution policy: eligibility check,
// strategy fan-out, proposal validation, atomic commit, escalation.
type Orchestrator struct {
	index     *interval.Index
	bookings  BookingSource
	conflicts conflict.Repository
	registry  *Registry
	committer Committer
	locker    redisclient.Locker
	sink      events.Sink
	metrics   *metrics.Metrics
	log       *zap.Logger
	cfg       Config
}

func NewOrchestrator(
	index *interval.Index,
	bookings BookingSource,
	conflicts conflict.Repository,
	registry *Registry,
	committer Committer,
	locker redisclient.Locker,
	sink events.Sink,
	m *metrics.Metrics,
	log *zap.Logger,
	cfg Config,
) *Orchestrator {
	if cfg.AutoResolveThreshold == 0 {
		cfg.AutoResolveThreshold = 3
	}
	if cfg.StrategyTimeout == 0 {
		cfg.StrategyTimeout = 2 * time.Second
	}
	if cfg.CommitRetries == 0 {
		cfg.CommitRetries = 3
	}
	if cfg.CommitRetryBackoff == 0 {
		cfg.CommitRetryBackoff = 100 * time.Millisecond
	}
	return &Orchestrator{
		index:     index,
		bookings:  bookings,
		conflicts: conflicts,
		registry:  registry,
		committer: committer,
		locker:    locker,
		sink:      sink,
		metrics:   m,
		log:       log,
		cfg:       cfg,
	}
}

// Resolve drives one conflict to resolved or escalated. It never leaves
// the conflict stuck in resolving: every exit path either commits,
// escalates, or returns the conflict to detected.
func (o *Orchestrator) Resolve(ctx context.Context, c *conflict.Conflict) (*Outcome, error) {
	pair, err := o.loadPair(ctx, c)
	if err != nil {
		if errors.Is(err, booking.ErrBookingNotFound) {
			return o.escalate(ctx, c, "conflicting booking no longer exists")
		}
		return nil, err
	}

	lower := pair.Lower()
	if c.Severity > o.cfg.AutoResolveThreshold {
		return o.escalate(ctx, c, fmt.Sprintf("severity %d exceeds auto-resolve threshold %d", c.Severity, o.cfg.AutoResolveThreshold))
	}
	if !lower.AutoReschedulable {
		return o.escalate(ctx, c, "lower-priority booking is not auto-reschedulable")
	}

	if _, err := o.conflicts.UpdateConflictStatus(ctx, c.ID, conflict.StatusDetected, conflict.StatusResolving); err != nil {
		if errors.Is(err, conflict.ErrConflictNotFound) {
			// Another resolver claimed it or it is already closed.
			return &Outcome{Reason: "conflict no longer in detected state"}, nil
		}
		return nil, fmt.Errorf("claim conflict: %w", err)
	}

	proposals := o.collectProposals(ctx, c, pair)
	valid := o.validateProposals(pair, proposals)

	best, ok := pickBest(valid)
	if !ok {
		o.log.Info("no valid proposal, escalating",
			zap.String("conflict_id", c.ID.String()),
			zap.Int("raw_proposals", len(proposals)))
		return o.escalateFromResolving(ctx, c, ErrNoValidProposal.Error())
	}

	return o.commit(ctx, c, pair, best)
}

func (o *Orchestrator) loadPair(ctx context.Context, c *conflict.Conflict) (Pair, error) {
	a, err := o.bookings.GetBookingByID(ctx, c.BookingA)
	if err != nil {
		return Pair{}, err
	}
	b, err := o.bookings.GetBookingByID(ctx, c.BookingB)
	if err != nil {
		return Pair{}, err
	}
	return Pair{A: a, B: b}, nil
}

// collectProposals runs every registered strategy under its own time
// budget. A timed-out or failing strategy loses its proposals; the rest
// still compete.
func (o *Orchestrator) collectProposals(ctx context.Context, c *conflict.Conflict, pair Pair) []Proposal {
	var all []Proposal
	for _, strat := range o.registry.Strategies() {
		sctx, cancel := context.WithTimeout(ctx, o.cfg.StrategyTimeout)
		started := time.Now()
		ps, err := strat.Propose(sctx, c, pair)
		elapsed := time.Since(started)
		cancel()

		o.recordAttempt(ctx, c.ID, strat.Type(), elapsed, ps, err)

		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				o.log.Warn("strategy timed out, discarding its proposals",
					zap.String("conflict_id", c.ID.String()),
					zap.String("strategy", string(strat.Type())),
					zap.Duration("budget", o.cfg.StrategyTimeout))
			} else {
				o.log.Warn("strategy failed",
					zap.String("conflict_id", c.ID.String()),
					zap.String("strategy", string(strat.Type())),
					zap.Error(err))
			}
			continue
		}
		all = append(all, ps...)
	}
	return all
}

func (o *Orchestrator) recordAttempt(ctx context.Context, conflictID uuid.UUID, st StrategyType, elapsed time.Duration, ps []Proposal, err error) {
	score := 0.0
	for _, p := range ps {
		if p.Confidence > score {
			score = p.Confidence
		}
	}
	params, _ := json.Marshal(map[string]any{
		"proposals": len(ps),
		"error":     err != nil,
	})
	attempt := &conflict.ResolutionAttempt{
		ConflictID:   conflictID,
		StrategyType: string(st),
		Parameters:   params,
		Elapsed:      elapsed,
		SuccessScore: score,
	}
	if insErr := o.conflicts.InsertResolutionAttempt(ctx, attempt); insErr != nil {
		o.log.Warn("record resolution attempt", zap.Error(insErr))
	}
}

// validateProposals keeps proposals that target one of the pair and
// would introduce zero new conflicts when checked in isolation.
func (o *Orchestrator) validateProposals(pair Pair, proposals []Proposal) []Proposal {
	var valid []Proposal
	for _, p := range proposals {
		if o.proposalValid(pair, p) {
			valid = append(valid, p)
		}
	}
	return valid
}

func (o *Orchestrator) proposalValid(pair Pair, p Proposal) bool {
	target := pair.Get(p.BookingID)
	if target == nil {
		return false
	}
	if !p.NewRange.End.After(p.NewRange.Start) {
		return false
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return false
	}
	for _, key := range target.ResourceKeys() {
		if key == booking.SiteKey {
			continue
		}
		// Only the moving booking's own entries are excluded; landing
		// back on the counterpart is still a conflict.
		if len(o.index.OverlappingExcluding(key, p.NewRange, target.ID)) > 0 {
			return false
		}
	}
	return true
}

// pickBest selects the highest confidence; ties keep the earliest
// proposal, which follows strategy registration order.
func pickBest(proposals []Proposal) (Proposal, bool) {
	if len(proposals) == 0 {
		return Proposal{}, false
	}
	best := proposals[0]
	for _, p := range proposals[1:] {
		if p.Confidence > best.Confidence {
			best = p
		}
	}
	return best, true
}

func (o *Orchestrator) commit(ctx context.Context, c *conflict.Conflict, pair Pair, p Proposal) (*Outcome, error) {
	target := pair.Get(p.BookingID)
	details := &conflict.ResolutionDetails{
		BookingID:  target.ID,
		OldStart:   target.StartTime,
		OldEnd:     target.EndTime,
		NewStart:   p.NewRange.Start,
		NewEnd:     p.NewRange.End,
		Confidence: p.Confidence,
		Rationale:  p.Rationale,
		Strategy:   string(p.Strategy),
	}

	for attempt := 0; attempt <= o.cfg.CommitRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return o.escalateFromResolving(ctx, c, "context cancelled during commit")
			case <-time.After(o.cfg.CommitRetryBackoff * time.Duration(attempt)):
			}

			fresh, err := o.bookings.GetBookingByID(ctx, target.ID)
			if err != nil {
				return o.escalateFromResolving(ctx, c, "target booking disappeared during commit")
			}
			target = fresh
			// The race that forced the retry may have moved the booking;
			// the audit trail records the range we actually moved from.
			details.OldStart = fresh.StartTime
			details.OldEnd = fresh.EndTime
		}

		var revalidationFailed bool

		err := o.locker.WithResourceLocks(ctx, target.ResourceKeys(), func(lockCtx context.Context) error {
			// The index may have moved since validation; re-check inside
			// the critical section before touching the store.
			if !o.proposalValid(pair, p) {
				revalidationFailed = true
				return nil
			}

			if _, err := o.committer.CommitResolution(lockCtx, c.ID, target, p.NewRange, conflict.MethodAutomaticReschedule, details); err != nil {
				return err
			}

			for _, key := range target.ResourceKeys() {
				o.index.RemoveOwner(key, target.ID)
				o.index.Insert(key, target.ID, p.NewRange)
			}
			return nil
		})

		if revalidationFailed {
			// Log with rationale and hand the conflict back for
			// reprocessing instead of marking it resolved incorrectly.
			o.log.Warn("proposal failed re-validation at commit",
				zap.String("conflict_id", c.ID.String()),
				zap.String("booking_id", target.ID.String()),
				zap.String("rationale", p.Rationale))
			if _, uerr := o.conflicts.UpdateConflictStatus(ctx, c.ID, conflict.StatusResolving, conflict.StatusDetected); uerr != nil {
				o.log.Error("return conflict to detected", zap.Error(uerr))
			}
			return &Outcome{Reason: "proposal failed re-validation, conflict returned to detected"}, nil
		}

		if err != nil {
			if errors.Is(err, booking.ErrConcurrentModification) {
				o.log.Debug("concurrent modification, retrying commit",
					zap.String("conflict_id", c.ID.String()),
					zap.Int("attempt", attempt+1))
				continue
			}
			if errors.Is(err, redisclient.ErrLockNotAcquired) {
				continue
			}
			if _, uerr := o.conflicts.UpdateConflictStatus(ctx, c.ID, conflict.StatusResolving, conflict.StatusDetected); uerr != nil {
				o.log.Error("return conflict to detected", zap.Error(uerr))
			}
			return nil, fmt.Errorf("commit resolution: %w", err)
		}

		o.finishResolved(ctx, c, p, details)
		return &Outcome{Resolved: true, Proposal: &p}, nil
	}

	return o.escalateFromResolving(ctx, c, "concurrent modification retries exhausted")
}

func (o *Orchestrator) finishResolved(ctx context.Context, c *conflict.Conflict, p Proposal, details *conflict.ResolutionDetails) {
	if o.metrics != nil {
		o.metrics.Resolutions.WithLabelValues(string(conflict.MethodAutomaticReschedule)).Inc()
	}
	o.sink.Emit(ctx, events.Event{
		Type:      events.TypeConflictResolved,
		SubjectID: c.ID,
		Payload: map[string]any{
			"conflict_id": c.ID.String(),
			"method":      string(conflict.MethodAutomaticReschedule),
			"confidence":  p.Confidence,
			"old_start":   details.OldStart,
			"old_end":     details.OldEnd,
			"new_start":   details.NewStart,
			"new_end":     details.NewEnd,
		},
	})
}

func (o *Orchestrator) escalate(ctx context.Context, c *conflict.Conflict, reason string) (*Outcome, error) {
	if _, err := o.conflicts.MarkEscalated(ctx, c.ID, reason); err != nil {
		if errors.Is(err, conflict.ErrConflictNotFound) {
			return &Outcome{Reason: "conflict already closed"}, nil
		}
		return nil, fmt.Errorf("escalate conflict: %w", err)
	}

	if o.metrics != nil {
		o.metrics.Escalations.Inc()
	}
	o.sink.Emit(ctx, events.Event{
		Type:      events.TypeConflictEscalated,
		SubjectID: c.ID,
		Payload: map[string]any{
			"conflict_id": c.ID.String(),
			"severity":    c.Severity,
			"reason":      reason,
		},
	})
	o.log.Info("conflict escalated",
		zap.String("conflict_id", c.ID.String()),
		zap.Int("severity", c.Severity),
		zap.String("reason", reason))

	return &Outcome{Escalated: true, Reason: reason}, nil
}

// escalateFromResolving is escalate for conflicts already claimed; the
// MarkEscalated CAS accepts both detected and resolving.
func (o *Orchestrator) escalateFromResolving(ctx context.Context, c *conflict.Conflict, reason string) (*Outcome, error) {
	return o.escalate(ctx, c, reason)
}

// ResolveManually applies an operator-chosen range to one side of the
// conflict, bypassing strategies but not validation.
func (o *Orchestrator) ResolveManually(ctx context.Context, conflictID, bookingID uuid.UUID, newRange interval.Range, note string) (*Outcome, error) {
	c, err := o.conflicts.GetConflictByID(ctx, conflictID)
	if err != nil {
		return nil, err
	}
	if c.Status == conflict.StatusResolved {
		return nil, fmt.Errorf("conflict %s already resolved", conflictID)
	}

	pair, err := o.loadPair(ctx, c)
	if err != nil {
		return nil, err
	}
	target := pair.Get(bookingID)
	if target == nil {
		return nil, fmt.Errorf("booking %s is not part of conflict %s", bookingID, conflictID)
	}

	// Claim the conflict; manual override also reclaims escalated ones.
	if c.Status != conflict.StatusResolving {
		if _, err := o.conflicts.UpdateConflictStatus(ctx, c.ID, c.Status, conflict.StatusResolving); err != nil {
			return nil, fmt.Errorf("claim conflict: %w", err)
		}
	}

	release := func() {
		if _, err := o.conflicts.UpdateConflictStatus(ctx, c.ID, conflict.StatusResolving, conflict.StatusDetected); err != nil {
			o.log.Error("return conflict to detected", zap.Error(err))
		}
	}

	p := Proposal{
		BookingID:  bookingID,
		NewRange:   newRange,
		Confidence: 1,
		Rationale:  note,
		Strategy:   StrategyRuleBased,
	}
	if !o.proposalValid(pair, p) {
		release()
		return nil, ErrNoValidProposal
	}

	details := &conflict.ResolutionDetails{
		BookingID:  target.ID,
		OldStart:   target.StartTime,
		OldEnd:     target.EndTime,
		NewStart:   newRange.Start,
		NewEnd:     newRange.End,
		Confidence: 1,
		Rationale:  note,
		Strategy:   string(conflict.MethodManualOverride),
	}

	var outcome *Outcome
	err = o.locker.WithResourceLocks(ctx, target.ResourceKeys(), func(lockCtx context.Context) error {
		if !o.proposalValid(pair, p) {
			return ErrNoValidProposal
		}
		if _, err := o.committer.CommitResolution(lockCtx, c.ID, target, newRange, conflict.MethodManualOverride, details); err != nil {
			return err
		}
		for _, key := range target.ResourceKeys() {
			o.index.RemoveOwner(key, target.ID)
			o.index.Insert(key, target.ID, newRange)
		}
		outcome = &Outcome{Resolved: true, Proposal: &p}
		return nil
	})
	if err != nil {
		release()
		return nil, err
	}

	if o.metrics != nil {
		o.metrics.Resolutions.WithLabelValues(string(conflict.MethodManualOverride)).Inc()
	}
	o.sink.Emit(ctx, events.Event{
		Type:      events.TypeConflictResolved,
		SubjectID: c.ID,
		Payload: map[string]any{
			"conflict_id": c.ID.String(),
			"method":      string(conflict.MethodManualOverride),
			"confidence":  1.0,
		},
	})
	return outcome, nil
}
