package booking

import (
	"time"

	"github.com/google/uuid"

	"github.com/agendaflow/conflict-engine/internal/interval"
)

type Status string

const (
	StatusTentative Status = "tentative"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

var transitions = map[Status][]Status{
	StatusTentative: {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCompleted, StatusCancelled},
}

// CanTransitionTo reports whether the status machine allows s -> to.
// Cancellation is reachable from every non-terminal state.
func (s Status) CanTransitionTo(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

// Active means the booking occupies resource time.
func (s Status) Active() bool {
	return s == StatusTentative || s == StatusConfirmed
}

type Booking struct {
	ID                uuid.UUID
	PatientID         uuid.UUID
	ProfessionalID    uuid.UUID
	RoomID            *uuid.UUID
	EquipmentIDs      []uuid.UUID
	TreatmentType     string
	StartTime         time.Time
	EndTime           time.Time
	Status            Status
	Priority          int // 1-10, higher wins contention
	AutoReschedulable bool
	Version           int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (b *Booking) Range() interval.Range {
	return interval.Range{Start: b.StartTime, End: b.EndTime}
}

// ResourceKeys lists every index dimension this booking occupies,
// including the site-wide capacity dimension.
func (b *Booking) ResourceKeys() []string {
	keys := []string{ProfessionalKey(b.ProfessionalID)}
	if b.RoomID != nil {
		keys = append(keys, RoomKey(*b.RoomID))
	}
	for _, eq := range b.EquipmentIDs {
		keys = append(keys, EquipmentKey(eq))
	}
	keys = append(keys, SiteKey)
	return keys
}

// SiteKey is the shared dimension every booking is indexed under; it
// backs capacity-ceiling and pure time-overlap detection.
const SiteKey = "site:default"

func ProfessionalKey(id uuid.UUID) string { return "prof:" + id.String() }
func RoomKey(id uuid.UUID) string         { return "room:" + id.String() }
func EquipmentKey(id uuid.UUID) string    { return "equip:" + id.String() }

// ScheduleEntry blocks resource time outside of bookings: maintenance
// windows, room holds, equipment service. Buffers widen the occupied
// range on each side.
type ScheduleEntry struct {
	ID           uuid.UUID
	ResourceType string // room, equipment, professional
	ResourceID   uuid.UUID
	StartTime    time.Time
	EndTime      time.Time
	BufferBefore time.Duration
	BufferAfter  time.Duration
	Capabilities []string
	CreatedAt    time.Time
}

func (e *ScheduleEntry) EffectiveRange() interval.Range {
	return interval.Range{Start: e.StartTime, End: e.EndTime}.Pad(e.BufferBefore, e.BufferAfter)
}

func (e *ScheduleEntry) ResourceKey() string {
	switch e.ResourceType {
	case "room":
		return RoomKey(e.ResourceID)
	case "equipment":
		return EquipmentKey(e.ResourceID)
	case "professional":
		return ProfessionalKey(e.ResourceID)
	default:
		return e.ResourceType + ":" + e.ResourceID.String()
	}
}
