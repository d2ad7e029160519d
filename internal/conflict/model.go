package conflict

import (
	"bytes"
	"time"

	"github.com/google/uuid"

	"github.com/agendaflow/conflict-engine/internal/interval"
)

type Type string

const (
	TypeTimeOverlap       Type = "time_overlap"
	TypeResourceConflict  Type = "resource_conflict"
	TypeRoomConflict      Type = "room_conflict"
	TypeEquipmentConflict Type = "equipment_conflict"
	TypeCapacityLimit     Type = "capacity_limit"
)

type Status string

const (
	StatusDetected  Status = "detected"
	StatusResolving Status = "resolving"
	StatusResolved  Status = "resolved"
	StatusEscalated Status = "escalated"
)

type ResolutionMethod string

const (
	MethodAutomaticReschedule  ResolutionMethod = "automatic_reschedule"
	MethodManualOverride       ResolutionMethod = "manual_override"
	MethodResourceReallocation ResolutionMethod = "resource_reallocation"
	MethodEscalation           ResolutionMethod = "escalation"
)

// Conflict references an unordered pair of bookings; BookingA is always
// the smaller id so the pair has a single representation.
type Conflict struct {
	ID         uuid.UUID
	BookingA   uuid.UUID
	BookingB   uuid.UUID
	Type       Type
	Severity   int // 1-5
	Status     Status
	DetectedAt time.Time
	ResolvedAt *time.Time
	Method     *ResolutionMethod
	Details    *ResolutionDetails
}

// ResolutionDetails is the structured payload stored with a resolved
// conflict: what moved, where, and why.
type ResolutionDetails struct {
	BookingID  uuid.UUID `json:"booking_id"`
	OldStart   time.Time `json:"old_start"`
	OldEnd     time.Time `json:"old_end"`
	NewStart   time.Time `json:"new_start"`
	NewEnd     time.Time `json:"new_end"`
	Confidence float64   `json:"confidence"`
	Rationale  string    `json:"rationale"`
	Strategy   string    `json:"strategy"`
}

func (d *ResolutionDetails) OldRange() interval.Range {
	return interval.Range{Start: d.OldStart, End: d.OldEnd}
}

func (d *ResolutionDetails) NewRange() interval.Range {
	return interval.Range{Start: d.NewStart, End: d.NewEnd}
}

// PairKey orders two booking ids so (A,B) and (B,A) collapse to one key.
func PairKey(a, b uuid.UUID) (lo, hi uuid.UUID) {
	if bytes.Compare(a[:], b[:]) <= 0 {
		return a, b
	}
	return b, a
}

// Involves reports whether the conflict references the given booking.
func (c *Conflict) Involves(id uuid.UUID) bool {
	return c.BookingA == id || c.BookingB == id
}

// Other returns the counterpart booking id of the pair.
func (c *Conflict) Other(id uuid.UUID) uuid.UUID {
	if c.BookingA == id {
		return c.BookingB
	}
	return c.BookingA
}

// SeverityFor buckets the combined priority of the two bookings.
func SeverityFor(priorityA, priorityB int) int {
	sum := priorityA + priorityB
	switch {
	case sum > 15:
		return 5
	case sum > 12:
		return 4
	case sum > 9:
		return 3
	case sum > 6:
		return 2
	default:
		return 1
	}
}

var statusTransitions = map[Status][]Status{
	StatusDetected:  {StatusResolving, StatusEscalated},
	StatusResolving: {StatusResolved, StatusEscalated, StatusDetected},
	StatusEscalated: {StatusResolving},
}

// CanTransitionTo enforces detected -> resolving -> {resolved|escalated};
// resolving may fall back to detected when a commit fails re-validation,
// and a manual override may reclaim an escalated conflict.
func (s Status) CanTransitionTo(to Status) bool {
	for _, next := range statusTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

func (s Status) Open() bool {
	return s == StatusDetected || s == StatusResolving
}
