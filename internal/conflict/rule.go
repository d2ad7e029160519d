package conflict

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/agendaflow/conflict-engine/internal/interval"
)

// ResourceKind selects which index dimension a rule applies to.
type ResourceKind string

const (
	KindProfessional ResourceKind = "professional"
	KindRoom         ResourceKind = "room"
	KindEquipment    ResourceKind = "equipment"
	KindSite         ResourceKind = "site"
)

type Condition string

const (
	// ConditionOverlap fires when two ranges share any instant.
	ConditionOverlap Condition = "overlap"
	// ConditionMinGap fires when two ranges sit closer than MinGap,
	// overlapping or not.
	ConditionMinGap Condition = "min_gap"
	// ConditionMaxDaily fires when a professional's booked time in one
	// day exceeds MaxDaily.
	ConditionMaxDaily Condition = "max_daily"
)

// Rule is an operator-editable detection predicate. Rules are data so new
// constraint types land without engine changes.
type Rule struct {
	ID               uuid.UUID
	Name             string
	Kind             ResourceKind
	Condition        Condition
	MinGap           time.Duration
	MaxDaily         time.Duration
	SeverityOverride int // 0 means derive from booking priorities
	AutoResolve      bool
	StrategyHint     string // e.g. "shift_lower:30m"
	Enabled          bool
}

// Matches evaluates the rule's pairwise condition against two ranges.
// ConditionMaxDaily is aggregate, not pairwise, and always returns false
// here; the detector evaluates it separately.
func (r Rule) Matches(a, b interval.Range) bool {
	if !r.Enabled {
		return false
	}
	switch r.Condition {
	case ConditionOverlap:
		return a.Overlaps(b)
	case ConditionMinGap:
		return a.Pad(r.MinGap, r.MinGap).Overlaps(b)
	default:
		return false
	}
}

// RuleSource provides the active rule set. Implementations may cache.
type RuleSource interface {
	ActiveRules(ctx context.Context) ([]Rule, error)
}

// DefaultRules is the built-in rule set used when the store has none
// configured: overlap on each named resource dimension plus the
// site-wide capacity ceiling.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:         "professional double booking",
			Kind:         KindProfessional,
			Condition:    ConditionOverlap,
			AutoResolve:  true,
			StrategyHint: "shift_lower:30m",
			Enabled:      true,
		},
		{
			Name:         "room double booking",
			Kind:         KindRoom,
			Condition:    ConditionOverlap,
			AutoResolve:  true,
			StrategyHint: "shift_lower:30m",
			Enabled:      true,
		},
		{
			Name:         "equipment double booking",
			Kind:         KindEquipment,
			Condition:    ConditionOverlap,
			AutoResolve:  true,
			StrategyHint: "shift_lower:15m",
			Enabled:      true,
		},
		{
			Name:      "site capacity ceiling",
			Kind:      KindSite,
			Condition: ConditionOverlap,
			Enabled:   true,
		},
	}
}

// StaticRules adapts a fixed rule slice to RuleSource; used in tests and
// as the fallback when the conflict_rules table is empty.
type StaticRules []Rule

func (s StaticRules) ActiveRules(ctx context.Context) ([]Rule, error) {
	return s, nil
}

// firstRuleFor returns the first enabled rule for a dimension kind, in
// declaration order.
func firstRuleFor(rules []Rule, kind ResourceKind) (Rule, bool) {
	for _, r := range rules {
		if r.Enabled && r.Kind == kind {
			return r, true
		}
	}
	return Rule{}, false
}
