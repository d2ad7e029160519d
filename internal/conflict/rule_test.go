package conflict

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/agendaflow/conflict-engine/internal/interval"
)

func rng(t *testing.T, startMin, endMin int) interval.Range {
	t.Helper()
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	return interval.Range{Start: base.Add(time.Duration(startMin) * time.Minute), End: base.Add(time.Duration(endMin) * time.Minute)}
}

func TestRuleMatchesOverlap(t *testing.T) {
	rule := Rule{Condition: ConditionOverlap, Enabled: true}

	assert.True(t, rule.Matches(rng(t, 0, 30), rng(t, 15, 45)))
	assert.False(t, rule.Matches(rng(t, 0, 30), rng(t, 30, 60)), "touching ranges do not overlap")
	assert.False(t, rule.Matches(rng(t, 0, 30), rng(t, 60, 90)))
}

func TestRuleMatchesMinGap(t *testing.T) {
	rule := Rule{Condition: ConditionMinGap, MinGap: 10 * time.Minute, Enabled: true}

	assert.True(t, rule.Matches(rng(t, 0, 30), rng(t, 35, 60)), "5 minute gap violates a 10 minute minimum")
	assert.False(t, rule.Matches(rng(t, 0, 30), rng(t, 40, 60)), "exactly the minimum gap is allowed")
	assert.False(t, rule.Matches(rng(t, 0, 30), rng(t, 50, 80)))
}

func TestDisabledRuleNeverMatches(t *testing.T) {
	rule := Rule{Condition: ConditionOverlap, Enabled: false}
	assert.False(t, rule.Matches(rng(t, 0, 30), rng(t, 15, 45)))
}

func TestFirstRuleForDeclarationOrder(t *testing.T) {
	rules := []Rule{
		{Name: "disabled prof", Kind: KindProfessional, Enabled: false},
		{Name: "first prof", Kind: KindProfessional, Enabled: true},
		{Name: "second prof", Kind: KindProfessional, Enabled: true},
		{Name: "room", Kind: KindRoom, Enabled: true},
	}

	got, ok := firstRuleFor(rules, KindProfessional)
	assert.True(t, ok)
	assert.Equal(t, "first prof", got.Name)

	_, ok = firstRuleFor(rules, KindEquipment)
	assert.False(t, ok)
}
