package resolution

import (
	"bytes"
	"context"

	"github.com/google/uuid"

	"github.com/agendaflow/conflict-engine/internal/booking"
	"github.com/agendaflow/conflict-engine/internal/conflict"
	"github.com/agendaflow/conflict-engine/internal/interval"
)

type StrategyType string

const (
	StrategyRuleBased   StrategyType = "rule_based"
	StrategySearchBased StrategyType = "search_based"
	StrategyMLAssisted  StrategyType = "ml_assisted"
	StrategyHybrid      StrategyType = "hybrid"
)

// Pair holds the two hydrated bookings of a conflict.
type Pair struct {
	A *booking.Booking
	B *booking.Booking
}

// Lower returns the booking that loses the contention: lower priority
// first, then newer creation, then larger id. The ordering is total so
// concurrent resolvers pick the same victim.
func (p Pair) Lower() *booking.Booking {
	if p.A.Priority != p.B.Priority {
		if p.A.Priority < p.B.Priority {
			return p.A
		}
		return p.B
	}
	if !p.A.CreatedAt.Equal(p.B.CreatedAt) {
		if p.A.CreatedAt.After(p.B.CreatedAt) {
			return p.A
		}
		return p.B
	}
	if bytes.Compare(p.A.ID[:], p.B.ID[:]) > 0 {
		return p.A
	}
	return p.B
}

func (p Pair) Higher() *booking.Booking {
	if p.Lower() == p.A {
		return p.B
	}
	return p.A
}

func (p Pair) Get(id uuid.UUID) *booking.Booking {
	if p.A.ID == id {
		return p.A
	}
	if p.B.ID == id {
		return p.B
	}
	return nil
}

// Proposal is a candidate resolution produced by a strategy.
type Proposal struct {
	BookingID  uuid.UUID
	NewRange   interval.Range
	Confidence float64 // [0,1]
	Rationale  string
	Strategy   StrategyType
}

// Strategy turns a conflict into zero or more proposals. Implementations
// must respect ctx cancellation; the orchestrator timeboxes each call.
type Strategy interface {
	Type() StrategyType
	Propose(ctx context.Context, c *conflict.Conflict, pair Pair) ([]Proposal, error)
}

// Registry holds strategies in declaration order; order breaks
// confidence ties.
type Registry struct {
	strategies []Strategy
}

func NewRegistry(strategies ...Strategy) *Registry {
	return &Registry{strategies: strategies}
}

func (r *Registry) Register(s Strategy) {
	r.strategies = append(r.strategies, s)
}

func (r *Registry) Strategies() []Strategy {
	return r.strategies
}
