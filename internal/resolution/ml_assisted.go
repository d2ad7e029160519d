package resolution

import (
	"context"
	"time"

	"github.com/agendaflow/conflict-engine/internal/conflict"
	"github.com/agendaflow/conflict-engine/internal/interval"
)

// Features is the precomputed input handed to an external predictor.
type Features struct {
	ConflictType   string
	Severity       int
	LowerPriority  int
	HigherPriority int
	Start          time.Time
	End            time.Time
	HourOfDay      int
	DayOfWeek      time.Weekday
}

type Prediction struct {
	Start      time.Time
	End        time.Time
	Confidence float64
	Rationale  string
}

// Predictor is the pluggable model boundary. The engine never inspects
// how a prediction was made.
type Predictor interface {
	Predict(ctx context.Context, f Features) (*Prediction, error)
}

// MLAssisted adapts an external predictor to the Strategy interface; its
// proposals compete with the other strategies on confidence alone.
type MLAssisted struct {
	predictor Predictor
}

func NewMLAssisted(predictor Predictor) *MLAssisted {
	return &MLAssisted{predictor: predictor}
}

func (s *MLAssisted) Type() StrategyType { return StrategyMLAssisted }

func (s *MLAssisted) Propose(ctx context.Context, c *conflict.Conflict, pair Pair) ([]Proposal, error) {
	if s.predictor == nil {
		return nil, nil
	}

	lower := pair.Lower()
	f := Features{
		ConflictType:   string(c.Type),
		Severity:       c.Severity,
		LowerPriority:  lower.Priority,
		HigherPriority: pair.Higher().Priority,
		Start:          lower.StartTime,
		End:            lower.EndTime,
		HourOfDay:      lower.StartTime.Hour(),
		DayOfWeek:      lower.StartTime.Weekday(),
	}

	pred, err := s.predictor.Predict(ctx, f)
	if err != nil {
		return nil, err
	}
	if pred == nil {
		return nil, nil
	}

	r, err := interval.NewRange(pred.Start, pred.End)
	if err != nil {
		return nil, err
	}

	return []Proposal{{
		BookingID:  lower.ID,
		NewRange:   r,
		Confidence: pred.Confidence,
		Rationale:  pred.Rationale,
		Strategy:   StrategyMLAssisted,
	}}, nil
}
