package api

import (
	"time"

	"github.com/google/uuid"
)

type CreateBookingRequest struct {
	PatientID         string   `json:"patient_id"`
	ProfessionalID    string   `json:"professional_id"`
	RoomID            string   `json:"room_id,omitempty"`
	EquipmentIDs      []string `json:"equipment_ids,omitempty"`
	TreatmentType     string   `json:"treatment_type"`
	StartTime         string   `json:"start_time"`
	EndTime           string   `json:"end_time"`
	Priority          int      `json:"priority"`
	AutoReschedulable *bool    `json:"auto_reschedulable,omitempty"`
}

type RescheduleRequest struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Version   int64  `json:"version"`
}

type BookingResponse struct {
	ID                uuid.UUID   `json:"id"`
	PatientID         uuid.UUID   `json:"patient_id"`
	ProfessionalID    uuid.UUID   `json:"professional_id"`
	RoomID            *uuid.UUID  `json:"room_id,omitempty"`
	EquipmentIDs      []uuid.UUID `json:"equipment_ids,omitempty"`
	TreatmentType     string      `json:"treatment_type"`
	StartTime         time.Time   `json:"start_time"`
	EndTime           time.Time   `json:"end_time"`
	Status            string      `json:"status"`
	Priority          int         `json:"priority"`
	AutoReschedulable bool        `json:"auto_reschedulable"`
	Version           int64       `json:"version"`
	Conflicts         []ConflictResponse `json:"conflicts,omitempty"`
}

type ConflictResponse struct {
	ID         uuid.UUID  `json:"id"`
	BookingA   uuid.UUID  `json:"booking_a"`
	BookingB   uuid.UUID  `json:"booking_b"`
	Type       string     `json:"type"`
	Severity   int        `json:"severity"`
	Status     string     `json:"status"`
	DetectedAt time.Time  `json:"detected_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	Method     string     `json:"resolution_method,omitempty"`
}

type ResolveConflictRequest struct {
	BookingID string `json:"booking_id"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Note      string `json:"note,omitempty"`
}

type CreateScheduleEntryRequest struct {
	ResourceType     string   `json:"resource_type"`
	ResourceID       string   `json:"resource_id"`
	StartTime        string   `json:"start_time"`
	EndTime          string   `json:"end_time"`
	BufferBeforeSecs int64    `json:"buffer_before_secs,omitempty"`
	BufferAfterSecs  int64    `json:"buffer_after_secs,omitempty"`
	Capabilities     []string `json:"capabilities,omitempty"`
}

type CreateWaitlistEntryRequest struct {
	PatientID               string   `json:"patient_id"`
	TreatmentType           string   `json:"treatment_type"`
	DurationSecs            int64    `json:"duration_secs"`
	PreferredProfessionalID string   `json:"preferred_professional_id,omitempty"`
	EarliestDate            string   `json:"earliest_date"`
	LatestDate              string   `json:"latest_date"`
	TimePrefs               []string `json:"time_prefs,omitempty"`
	Priority                int      `json:"priority"`
	Urgency                 string   `json:"urgency,omitempty"`
	MaxWaitSecs             int64    `json:"max_wait_secs"`
}

type WaitlistEntryResponse struct {
	ID                      uuid.UUID  `json:"id"`
	PatientID               uuid.UUID  `json:"patient_id"`
	TreatmentType           string     `json:"treatment_type"`
	DurationSecs            int64      `json:"duration_secs"`
	PreferredProfessionalID *uuid.UUID `json:"preferred_professional_id,omitempty"`
	EarliestDate            time.Time  `json:"earliest_date"`
	LatestDate              time.Time  `json:"latest_date"`
	TimePrefs               []string   `json:"time_prefs,omitempty"`
	Priority                int        `json:"priority"`
	Urgency                 string     `json:"urgency"`
	MaxWaitSecs             int64      `json:"max_wait_secs"`
	Status                  string     `json:"status"`
	EscalatedAt             *time.Time `json:"escalated_at,omitempty"`
	NotifiedAt              *time.Time `json:"notified_at,omitempty"`
	CreatedAt               time.Time  `json:"created_at"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
