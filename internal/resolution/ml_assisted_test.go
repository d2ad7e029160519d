package resolution

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agendaflow/conflict-engine/internal/booking"
	"github.com/agendaflow/conflict-engine/internal/conflict"
	"github.com/agendaflow/conflict-engine/internal/interval"
)

type fakePredictor struct {
	prediction *Prediction
	err        error
	features   *Features
}

func (p *fakePredictor) Predict(ctx context.Context, f Features) (*Prediction, error) {
	p.features = &f
	return p.prediction, p.err
}

func mlPair(t *testing.T) Pair {
	t.Helper()
	prof := uuid.New()
	return Pair{
		A: &booking.Booking{
			ID: uuid.New(), ProfessionalID: prof,
			StartTime: at(t, 9, 0), EndTime: at(t, 10, 0),
			Priority: 8, AutoReschedulable: true,
		},
		B: &booking.Booking{
			ID: uuid.New(), ProfessionalID: prof,
			StartTime: at(t, 9, 30), EndTime: at(t, 10, 30),
			Priority: 3, AutoReschedulable: true,
		},
	}
}

func TestMLAssistedProposesForLowerBooking(t *testing.T) {
	pair := mlPair(t)
	pred := &fakePredictor{prediction: &Prediction{
		Start:      at(t, 14, 0),
		End:        at(t, 15, 0),
		Confidence: 0.72,
		Rationale:  "historical afternoon availability",
	}}

	s := NewMLAssisted(pred)
	c := &conflict.Conflict{Type: conflict.TypeResourceConflict, Severity: 2}

	proposals, err := s.Propose(context.Background(), c, pair)
	require.NoError(t, err)
	require.Len(t, proposals, 1)

	p := proposals[0]
	assert.Equal(t, pair.Lower().ID, p.BookingID, "the model only ever moves the losing booking")
	assert.Equal(t, interval.Range{Start: at(t, 14, 0), End: at(t, 15, 0)}, p.NewRange)
	assert.Equal(t, 0.72, p.Confidence)
	assert.Equal(t, StrategyMLAssisted, p.Strategy)

	require.NotNil(t, pred.features)
	assert.Equal(t, pair.Lower().StartTime, pred.features.Start)
	assert.Equal(t, 3, pred.features.LowerPriority)
	assert.Equal(t, 8, pred.features.HigherPriority)
	assert.Equal(t, string(conflict.TypeResourceConflict), pred.features.ConflictType)
}

func TestMLAssistedNilPredictorIsInert(t *testing.T) {
	s := NewMLAssisted(nil)
	proposals, err := s.Propose(context.Background(), &conflict.Conflict{}, mlPair(t))
	require.NoError(t, err)
	assert.Nil(t, proposals)
}

func TestMLAssistedPredictorErrorPropagates(t *testing.T) {
	boom := errors.New("model unavailable")
	s := NewMLAssisted(&fakePredictor{err: boom})

	_, err := s.Propose(context.Background(), &conflict.Conflict{}, mlPair(t))
	require.ErrorIs(t, err, boom)
}

func TestMLAssistedRejectsInvalidPredictionWindow(t *testing.T) {
	s := NewMLAssisted(&fakePredictor{prediction: &Prediction{
		Start: at(t, 15, 0), End: at(t, 14, 0), Confidence: 0.9,
	}})

	_, err := s.Propose(context.Background(), &conflict.Conflict{}, mlPair(t))
	require.ErrorIs(t, err, interval.ErrInvalidRange)

	// A nil prediction is a decline, not an error.
	quiet := NewMLAssisted(&fakePredictor{})
	proposals, err := quiet.Propose(context.Background(), &conflict.Conflict{}, mlPair(t))
	require.NoError(t, err)
	assert.Nil(t, proposals)
}

func TestResolveCommitsPredictorProposal(t *testing.T) {
	f := newFixture()
	prof := uuid.New()

	high := f.addBooking(t, &booking.Booking{
		PatientID: uuid.New(), ProfessionalID: prof,
		StartTime: at(t, 9, 0), EndTime: at(t, 9, 30),
		Priority: 8, AutoReschedulable: true,
	})
	low := f.addBooking(t, &booking.Booking{
		PatientID: uuid.New(), ProfessionalID: prof,
		StartTime: at(t, 9, 15), EndTime: at(t, 9, 45),
		Priority: 3, AutoReschedulable: true,
	})
	c := f.addConflict(t, high, low, 2)

	pred := &fakePredictor{prediction: &Prediction{
		Start: at(t, 11, 0), End: at(t, 11, 30), Confidence: 0.8,
	}}

	// The predictor-backed strategy competes like any other built-in.
	o := f.orchestrator(Config{}, NewMLAssisted(pred))
	out, err := o.Resolve(context.Background(), c)
	require.NoError(t, err)
	require.True(t, out.Resolved)
	assert.Equal(t, StrategyMLAssisted, out.Proposal.Strategy)

	moved, err := f.bookings.GetBookingByID(context.Background(), low.ID)
	require.NoError(t, err)
	assert.Equal(t, at(t, 11, 0), moved.StartTime)
}
