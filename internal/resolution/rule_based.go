package resolution

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/agendaflow/conflict-engine/internal/conflict"
)

// HintSource exposes the detection rule governing a conflict type; the
// detector implements it.
type HintSource interface {
	MatchingRule(ctx context.Context, t conflict.Type) (conflict.Rule, bool)
}

// RuleBased produces the deterministic proposal encoded in the matching
// detection rule's strategy hint, e.g. "shift_lower:30m".
type RuleBased struct {
	hints HintSource
}

func NewRuleBased(hints HintSource) *RuleBased {
	return &RuleBased{hints: hints}
}

func (s *RuleBased) Type() StrategyType { return StrategyRuleBased }

const ruleBasedConfidence = 0.75

func (s *RuleBased) Propose(ctx context.Context, c *conflict.Conflict, pair Pair) ([]Proposal, error) {
	rule, ok := s.hints.MatchingRule(ctx, c.Type)
	if !ok || rule.StrategyHint == "" {
		return nil, nil
	}

	offset, err := parseShiftHint(rule.StrategyHint)
	if err != nil {
		return nil, fmt.Errorf("rule %q: %w", rule.Name, err)
	}

	lower := pair.Lower()
	return []Proposal{{
		BookingID:  lower.ID,
		NewRange:   lower.Range().Shift(offset),
		Confidence: ruleBasedConfidence,
		Rationale:  fmt.Sprintf("rule %q: shift lower-priority booking by %s", rule.Name, offset),
		Strategy:   StrategyRuleBased,
	}}, nil
}

func parseShiftHint(hint string) (time.Duration, error) {
	raw, ok := strings.CutPrefix(hint, "shift_lower:")
	if !ok {
		return 0, fmt.Errorf("unsupported strategy hint %q", hint)
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid shift offset %q", raw)
	}
	return d, nil
}
