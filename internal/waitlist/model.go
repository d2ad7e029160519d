package waitlist

import (
	"time"

	"github.com/google/uuid"

	"github.com/agendaflow/conflict-engine/internal/interval"
)

type Urgency string

const (
	UrgencyLow       Urgency = "low"
	UrgencyNormal    Urgency = "normal"
	UrgencyHigh      Urgency = "high"
	UrgencyUrgent    Urgency = "urgent"
	UrgencyEmergency Urgency = "emergency"
)

// Rank orders urgencies for matching; unknown values sort below low.
func (u Urgency) Rank() int {
	switch u {
	case UrgencyEmergency:
		return 5
	case UrgencyUrgent:
		return 4
	case UrgencyHigh:
		return 3
	case UrgencyNormal:
		return 2
	case UrgencyLow:
		return 1
	default:
		return 0
	}
}

// Valid reports whether u is one of the defined urgency levels.
func (u Urgency) Valid() bool {
	return u.Rank() > 0
}

type Status string

const (
	StatusActive    Status = "active"
	StatusNotified  Status = "notified"
	StatusBooked    Status = "booked"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

var statusTransitions = map[Status][]Status{
	StatusActive:   {StatusNotified, StatusExpired, StatusCancelled},
	StatusNotified: {StatusBooked, StatusExpired, StatusCancelled},
}

// CanTransitionTo enforces the monotonic waitlist lifecycle; entries
// never move backwards.
func (s Status) CanTransitionTo(to Status) bool {
	for _, next := range statusTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusBooked || s == StatusExpired || s == StatusCancelled
}

// Entry is a patient waiting for capacity to free up.
type Entry struct {
	ID                      uuid.UUID
	PatientID               uuid.UUID
	TreatmentType           string
	Duration                time.Duration
	PreferredProfessionalID *uuid.UUID
	EarliestDate            time.Time
	LatestDate              time.Time
	TimePrefs               []string // morning, afternoon, evening
	Priority                int      // 1-10
	Urgency                 Urgency
	MaxWait                 time.Duration
	Status                  Status
	EscalatedAt             *time.Time
	NotifiedAt              *time.Time
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// FreedSlot describes capacity released by a cancellation or reschedule.
type FreedSlot struct {
	ProfessionalID uuid.UUID
	RoomID         *uuid.UUID
	Range          interval.Range
}

// Satisfies reports whether the freed slot can serve this entry: long
// enough, inside the entry's date window, on an acceptable professional
// and time of day.
func (e *Entry) Satisfies(slot FreedSlot) bool {
	if slot.Range.Duration() < e.Duration {
		return false
	}
	if e.PreferredProfessionalID != nil && *e.PreferredProfessionalID != slot.ProfessionalID {
		return false
	}
	if slot.Range.Start.Before(e.EarliestDate) || slot.Range.Start.After(e.LatestDate) {
		return false
	}
	if len(e.TimePrefs) > 0 && !matchesTimePref(e.TimePrefs, slot.Range.Start) {
		return false
	}
	return true
}

func matchesTimePref(prefs []string, start time.Time) bool {
	hour := start.Hour()
	for _, p := range prefs {
		switch p {
		case "morning":
			if hour < 12 {
				return true
			}
		case "afternoon":
			if hour >= 12 && hour < 17 {
				return true
			}
		case "evening":
			if hour >= 17 {
				return true
			}
		}
	}
	return false
}

// Overdue reports whether an active entry has waited past its max wait
// and has not been escalated yet.
func (e *Entry) Overdue(now time.Time) bool {
	return e.Status == StatusActive &&
		e.EscalatedAt == nil &&
		now.Sub(e.CreatedAt) > e.MaxWait
}

// Less is the matching order: urgency rank desc, priority desc, oldest
// first. The order is total over (urgency, priority, created_at, id).
func Less(a, b *Entry) bool {
	if a.Urgency.Rank() != b.Urgency.Rank() {
		return a.Urgency.Rank() > b.Urgency.Rank()
	}
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID.String() < b.ID.String()
}
