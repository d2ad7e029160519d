package conflict

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agendaflow/conflict-engine/internal/booking"
	"github.com/agendaflow/conflict-engine/internal/events"
	"github.com/agendaflow/conflict-engine/internal/interval"
	"github.com/agendaflow/conflict-engine/internal/metrics"
)

// BookingSource is the slice of the booking repository the detector needs.
type BookingSource interface {
	GetBookingByID(ctx context.Context, id uuid.UUID) (*booking.Booking, error)
	ListActiveBookings(ctx context.Context) ([]booking.Booking, error)
	ListActiveBookingsForProfessional(ctx context.Context, professionalID uuid.UUID, day time.Time) ([]booking.Booking, error)
}

// Detector finds contention between a booking and everything already in
// the interval index, classifies it, and persists deduplicated conflicts.
type Detector struct {
	index           *interval.Index
	bookings        BookingSource
	conflicts       Repository
	rules           RuleSource
	sink            events.Sink
	metrics         *metrics.Metrics
	log             *zap.Logger
	capacityCeiling int
}

func NewDetector(
	index *interval.Index,
	bookings BookingSource,
	conflicts Repository,
	rules RuleSource,
	sink events.Sink,
	m *metrics.Metrics,
	log *zap.Logger,
	capacityCeiling int,
) *Detector {
	return &Detector{
		index:           index,
		bookings:        bookings,
		conflicts:       conflicts,
		rules:           rules,
		sink:            sink,
		metrics:         m,
		log:             log,
		capacityCeiling: capacityCeiling,
	}
}

// candidate accumulates the dimensions on which one counterpart booking
// contends with the trigger booking.
type candidate struct {
	other uuid.UUID
	kinds map[ResourceKind]Rule
}

// Detect runs incremental detection for one booking. The booking's own
// index entries are excluded, pairs are deduplicated by unordered key,
// and an already-open conflict for a pair is never duplicated, so
// re-running against an unchanged schedule creates nothing new.
func (d *Detector) Detect(ctx context.Context, b *booking.Booking) ([]Conflict, error) {
	started := time.Now()

	created, err := d.detect(ctx, b, nil)
	if err != nil {
		return nil, err
	}

	if d.metrics != nil {
		d.metrics.ObserveDetection("mutation", time.Since(started))
	}
	if len(created) > 0 {
		d.sink.Emit(ctx, events.Event{
			Type:      events.TypeConflictDetected,
			SubjectID: b.ID,
			Payload: map[string]any{
				"booking_id":     b.ID.String(),
				"conflict_count": len(created),
			},
		})
	}
	return created, nil
}

func (d *Detector) detect(ctx context.Context, b *booking.Booking, seen map[[2]uuid.UUID]struct{}) ([]Conflict, error) {
	rules, err := d.rules.ActiveRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("load detection rules: %w", err)
	}

	candidates := make(map[uuid.UUID]*candidate)

	d.collectDimension(b, KindProfessional, booking.ProfessionalKey(b.ProfessionalID), rules, candidates)
	if b.RoomID != nil {
		d.collectDimension(b, KindRoom, booking.RoomKey(*b.RoomID), rules, candidates)
	}
	for _, eq := range b.EquipmentIDs {
		d.collectDimension(b, KindEquipment, booking.EquipmentKey(eq), rules, candidates)
	}
	d.collectSiteDimension(b, rules, candidates)

	if err := d.collectMaxDaily(ctx, b, rules, candidates); err != nil {
		d.log.Warn("max daily evaluation failed", zap.String("booking_id", b.ID.String()), zap.Error(err))
	}

	var createdConflicts []Conflict
	for _, cand := range candidates {
		lo, hi := PairKey(b.ID, cand.other)
		if seen != nil {
			if _, dup := seen[[2]uuid.UUID{lo, hi}]; dup {
				continue
			}
			seen[[2]uuid.UUID{lo, hi}] = struct{}{}
		}

		other, err := d.bookings.GetBookingByID(ctx, cand.other)
		if err != nil {
			if errors.Is(err, booking.ErrBookingNotFound) {
				// Index entry owned by a resource schedule block, not a
				// booking; block contention is rejected at insert time.
				continue
			}
			return createdConflicts, fmt.Errorf("load counterpart booking: %w", err)
		}
		if !other.Status.Active() {
			continue
		}

		conflictType, rule := classify(cand)
		severity := rule.SeverityOverride
		if severity == 0 {
			severity = SeverityFor(b.Priority, other.Priority)
		}

		c := Conflict{
			BookingA: lo,
			BookingB: hi,
			Type:     conflictType,
			Severity: severity,
			Status:   StatusDetected,
		}

		if _, err := d.conflicts.GetOpenByPair(ctx, lo, hi); err == nil {
			continue
		} else if !errors.Is(err, ErrConflictNotFound) {
			return createdConflicts, fmt.Errorf("check open conflict: %w", err)
		}

		if err := d.conflicts.CreateConflict(ctx, &c); err != nil {
			if errors.Is(err, ErrDuplicatePair) {
				continue
			}
			return createdConflicts, fmt.Errorf("persist conflict: %w", err)
		}

		if d.metrics != nil {
			d.metrics.CountConflict(string(c.Type), c.Severity)
		}
		createdConflicts = append(createdConflicts, c)
	}

	return createdConflicts, nil
}

func (d *Detector) collectDimension(b *booking.Booking, kind ResourceKind, key string, rules []Rule, candidates map[uuid.UUID]*candidate) {
	rule, ok := firstRuleFor(rules, kind)
	if !ok {
		return
	}

	query := b.Range()
	if rule.Condition == ConditionMinGap {
		query = query.Pad(rule.MinGap, rule.MinGap)
	}

	for _, e := range d.index.OverlappingExcluding(key, query, b.ID) {
		if !rule.Matches(b.Range(), e.Range) {
			continue
		}
		addCandidate(candidates, e.Owner, kind, rule)
	}
}

// collectSiteDimension enforces the capacity ceiling: pairs that share no
// named resource only become conflicts when site-wide concurrency exceeds
// the ceiling, unless an operator rule explicitly flags co-occurrence.
func (d *Detector) collectSiteDimension(b *booking.Booking, rules []Rule, candidates map[uuid.UUID]*candidate) {
	rule, ok := firstRuleFor(rules, KindSite)
	if !ok {
		return
	}

	overlaps := d.index.OverlappingExcluding(booking.SiteKey, b.Range(), b.ID)
	concurrent := len(overlaps) + 1

	overCeiling := d.capacityCeiling > 0 && concurrent > d.capacityCeiling
	flagAll := rule.SeverityOverride > 0
	if !overCeiling && !flagAll {
		return
	}

	for _, e := range overlaps {
		if _, already := candidates[e.Owner]; already {
			// Shares a named resource; classified on that dimension.
			continue
		}
		addCandidate(candidates, e.Owner, KindSite, rule)
		if overCeiling {
			// Remember the stronger classification.
			candidates[e.Owner].kinds["capacity"] = rule
		}
	}
}

// collectMaxDaily evaluates aggregate daily-hours rules for the
// professional: when the day's booked time would exceed the cap, the
// booking conflicts with the professional's adjacent booking that day.
func (d *Detector) collectMaxDaily(ctx context.Context, b *booking.Booking, rules []Rule, candidates map[uuid.UUID]*candidate) error {
	var rule Rule
	found := false
	for _, r := range rules {
		if r.Enabled && r.Kind == KindProfessional && r.Condition == ConditionMaxDaily && r.MaxDaily > 0 {
			rule = r
			found = true
			break
		}
	}
	if !found {
		return nil
	}

	day := b.StartTime.UTC()
	existing, err := d.bookings.ListActiveBookingsForProfessional(ctx, b.ProfessionalID, day)
	if err != nil {
		return err
	}

	total := b.Range().Duration()
	var latest *booking.Booking
	for i := range existing {
		if existing[i].ID == b.ID {
			continue
		}
		total += existing[i].Range().Duration()
		if latest == nil || existing[i].StartTime.After(latest.StartTime) {
			latest = &existing[i]
		}
	}

	if total <= rule.MaxDaily || latest == nil {
		return nil
	}
	addCandidate(candidates, latest.ID, KindProfessional, rule)
	return nil
}

func addCandidate(candidates map[uuid.UUID]*candidate, other uuid.UUID, kind ResourceKind, rule Rule) {
	c, ok := candidates[other]
	if !ok {
		c = &candidate{other: other, kinds: make(map[ResourceKind]Rule)}
		candidates[other] = c
	}
	if _, exists := c.kinds[kind]; !exists {
		c.kinds[kind] = rule
	}
}

// classify picks the most specific conflict type a candidate pair shares.
func classify(c *candidate) (Type, Rule) {
	if rule, ok := c.kinds[KindProfessional]; ok {
		return TypeResourceConflict, rule
	}
	if rule, ok := c.kinds[KindRoom]; ok {
		return TypeRoomConflict, rule
	}
	if rule, ok := c.kinds[KindEquipment]; ok {
		return TypeEquipmentConflict, rule
	}
	if rule, ok := c.kinds["capacity"]; ok {
		return TypeCapacityLimit, rule
	}
	rule := c.kinds[KindSite]
	return TypeTimeOverlap, rule
}

// MatchingRule exposes the rule that governs a conflict type; the
// rule-based strategy uses its hint.
func (d *Detector) MatchingRule(ctx context.Context, t Type) (Rule, bool) {
	rules, err := d.rules.ActiveRules(ctx)
	if err != nil {
		return Rule{}, false
	}
	var kind ResourceKind
	switch t {
	case TypeResourceConflict:
		kind = KindProfessional
	case TypeRoomConflict:
		kind = KindRoom
	case TypeEquipmentConflict:
		kind = KindEquipment
	default:
		kind = KindSite
	}
	return firstRuleFor(rules, kind)
}

type SweepReport struct {
	BookingsScanned int
	NewConflicts    int
	Failed          int
	Elapsed         time.Duration
}

// Sweep runs full-scan detection over every active booking. Pairs are
// visited once, already-open conflicts are skipped, and per-booking
// failures are logged and retried on the next sweep rather than aborting
// the run.
func (d *Detector) Sweep(ctx context.Context) (SweepReport, error) {
	started := time.Now()

	bookings, err := d.bookings.ListActiveBookings(ctx)
	if err != nil {
		return SweepReport{}, fmt.Errorf("list active bookings: %w", err)
	}

	seen := make(map[[2]uuid.UUID]struct{})
	report := SweepReport{BookingsScanned: len(bookings)}

	for i := range bookings {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		created, err := d.detect(ctx, &bookings[i], seen)
		report.NewConflicts += len(created)
		if err != nil {
			report.Failed++
			d.log.Warn("sweep detection failed for booking; deferred to next sweep",
				zap.String("booking_id", bookings[i].ID.String()),
				zap.Error(err))
			continue
		}
		if len(created) > 0 {
			d.sink.Emit(ctx, events.Event{
				Type:      events.TypeConflictDetected,
				SubjectID: bookings[i].ID,
				Payload: map[string]any{
					"booking_id":     bookings[i].ID.String(),
					"conflict_count": len(created),
					"trigger":        "sweep",
				},
			})
		}
	}

	report.Elapsed = time.Since(started)
	if d.metrics != nil {
		d.metrics.SweepDuration.Observe(report.Elapsed.Seconds())
		d.metrics.ObserveDetection("sweep", report.Elapsed)
	}

	d.log.Info("sweep complete",
		zap.Int("bookings", report.BookingsScanned),
		zap.Int("new_conflicts", report.NewConflicts),
		zap.Int("failed", report.Failed),
		zap.Duration("elapsed", report.Elapsed))

	return report, nil
}
