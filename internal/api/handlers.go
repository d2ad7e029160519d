package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/agendaflow/conflict-engine/internal/booking"
	"github.com/agendaflow/conflict-engine/internal/conflict"
	"github.com/agendaflow/conflict-engine/internal/interval"
	redisclient "github.com/agendaflow/conflict-engine/internal/redis"
	"github.com/agendaflow/conflict-engine/internal/resolution"
	"github.com/agendaflow/conflict-engine/internal/scheduler"
	"github.com/agendaflow/conflict-engine/internal/waitlist"
)

func bookingResponse(b *booking.Booking, conflicts []conflict.Conflict) BookingResponse {
	resp := BookingResponse{
		ID:                b.ID,
		PatientID:         b.PatientID,
		ProfessionalID:    b.ProfessionalID,
		RoomID:            b.RoomID,
		EquipmentIDs:      b.EquipmentIDs,
		TreatmentType:     b.TreatmentType,
		StartTime:         b.StartTime,
		EndTime:           b.EndTime,
		Status:            string(b.Status),
		Priority:          b.Priority,
		AutoReschedulable: b.AutoReschedulable,
		Version:           b.Version,
	}
	for i := range conflicts {
		resp.Conflicts = append(resp.Conflicts, conflictResponse(&conflicts[i]))
	}
	return resp
}

func conflictResponse(c *conflict.Conflict) ConflictResponse {
	resp := ConflictResponse{
		ID:         c.ID,
		BookingA:   c.BookingA,
		BookingB:   c.BookingB,
		Type:       string(c.Type),
		Severity:   c.Severity,
		Status:     string(c.Status),
		DetectedAt: c.DetectedAt,
		ResolvedAt: c.ResolvedAt,
	}
	if c.Method != nil {
		resp.Method = string(*c.Method)
	}
	return resp
}

func waitlistResponse(e *waitlist.Entry) WaitlistEntryResponse {
	return WaitlistEntryResponse{
		ID:                      e.ID,
		PatientID:               e.PatientID,
		TreatmentType:           e.TreatmentType,
		DurationSecs:            int64(e.Duration / time.Second),
		PreferredProfessionalID: e.PreferredProfessionalID,
		EarliestDate:            e.EarliestDate,
		LatestDate:              e.LatestDate,
		TimePrefs:               e.TimePrefs,
		Priority:                e.Priority,
		Urgency:                 string(e.Urgency),
		MaxWaitSecs:             int64(e.MaxWait / time.Second),
		Status:                  string(e.Status),
		EscalatedAt:             e.EscalatedAt,
		NotifiedAt:              e.NotifiedAt,
		CreatedAt:               e.CreatedAt,
	}
}

func parseTime(raw string) (time.Time, error) {
	return time.Parse(time.RFC3339, raw)
}

func createBookingHandler(svc *scheduler.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateBookingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}
		professionalID, err := uuid.Parse(req.ProfessionalID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_professional_id", "professional_id must be a valid UUID")
			return
		}

		b := &booking.Booking{
			PatientID:         patientID,
			ProfessionalID:    professionalID,
			TreatmentType:     req.TreatmentType,
			Priority:          req.Priority,
			AutoReschedulable: true,
		}
		if req.AutoReschedulable != nil {
			b.AutoReschedulable = *req.AutoReschedulable
		}
		if b.Priority == 0 {
			b.Priority = 5
		}

		if req.RoomID != "" {
			roomID, err := uuid.Parse(req.RoomID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_room_id", "room_id must be a valid UUID")
				return
			}
			b.RoomID = &roomID
		}
		for _, raw := range req.EquipmentIDs {
			eqID, err := uuid.Parse(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_equipment_id", "equipment_ids must be valid UUIDs")
				return
			}
			b.EquipmentIDs = append(b.EquipmentIDs, eqID)
		}

		if b.StartTime, err = parseTime(req.StartTime); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_start_time", "start_time must be RFC3339")
			return
		}
		if b.EndTime, err = parseTime(req.EndTime); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_end_time", "end_time must be RFC3339")
			return
		}

		detected, err := svc.CreateBooking(r.Context(), b)
		if err != nil {
			handleBookingError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, bookingResponse(b, detected))
	}
}

func getBookingHandler(repo booking.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_booking_id", "id must be a valid UUID")
			return
		}

		b, err := repo.GetBookingByID(r.Context(), id)
		if err != nil {
			handleBookingError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, bookingResponse(b, nil))
	}
}

func bookingTransitionHandler(apply func(r *http.Request, id uuid.UUID) (*booking.Booking, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_booking_id", "id must be a valid UUID")
			return
		}

		b, err := apply(r, id)
		if err != nil {
			handleBookingError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, bookingResponse(b, nil))
	}
}

func rescheduleBookingHandler(svc *scheduler.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_booking_id", "id must be a valid UUID")
			return
		}

		var req RescheduleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		start, err := parseTime(req.StartTime)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_start_time", "start_time must be RFC3339")
			return
		}
		end, err := parseTime(req.EndTime)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_end_time", "end_time must be RFC3339")
			return
		}

		moved, detected, err := svc.Reschedule(r.Context(), id, req.Version, interval.Range{Start: start, End: end})
		if err != nil {
			handleBookingError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, bookingResponse(moved, detected))
	}
}

func detectNowHandler(svc *scheduler.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_booking_id", "id must be a valid UUID")
			return
		}

		detected, err := svc.DetectNow(r.Context(), id)
		if err != nil {
			handleBookingError(w, err)
			return
		}

		resp := make([]ConflictResponse, 0, len(detected))
		for i := range detected {
			resp = append(resp, conflictResponse(&detected[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func createScheduleEntryHandler(svc *scheduler.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateScheduleEntryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		resourceID, err := uuid.Parse(req.ResourceID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_resource_id", "resource_id must be a valid UUID")
			return
		}

		e := &booking.ScheduleEntry{
			ResourceType: req.ResourceType,
			ResourceID:   resourceID,
			BufferBefore: time.Duration(req.BufferBeforeSecs) * time.Second,
			BufferAfter:  time.Duration(req.BufferAfterSecs) * time.Second,
			Capabilities: req.Capabilities,
		}
		if e.StartTime, err = parseTime(req.StartTime); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_start_time", "start_time must be RFC3339")
			return
		}
		if e.EndTime, err = parseTime(req.EndTime); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_end_time", "end_time must be RFC3339")
			return
		}

		if err := svc.CreateScheduleEntry(r.Context(), e); err != nil {
			handleBookingError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, e)
	}
}

func listConflictsHandler(repo conflict.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := conflict.Status(r.URL.Query().Get("status"))
		switch status {
		case "", conflict.StatusDetected, conflict.StatusResolving, conflict.StatusResolved, conflict.StatusEscalated:
		default:
			writeError(w, http.StatusBadRequest, "invalid_status", "unknown conflict status")
			return
		}

		conflicts, err := repo.ListConflicts(r.Context(), status, 500)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		resp := make([]ConflictResponse, 0, len(conflicts))
		for i := range conflicts {
			resp = append(resp, conflictResponse(&conflicts[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func getConflictHandler(repo conflict.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_conflict_id", "id must be a valid UUID")
			return
		}

		c, err := repo.GetConflictByID(r.Context(), id)
		if err != nil {
			handleConflictError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, conflictResponse(c))
	}
}

func resolveConflictHandler(svc *scheduler.Service, repo conflict.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_conflict_id", "id must be a valid UUID")
			return
		}

		var req ResolveConflictRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		bookingID, err := uuid.Parse(req.BookingID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_booking_id", "booking_id must be a valid UUID")
			return
		}
		start, err := parseTime(req.StartTime)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_start_time", "start_time must be RFC3339")
			return
		}
		end, err := parseTime(req.EndTime)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_end_time", "end_time must be RFC3339")
			return
		}

		if _, err := svc.ResolveConflictManually(r.Context(), id, bookingID, interval.Range{Start: start, End: end}, req.Note); err != nil {
			handleConflictError(w, err)
			return
		}

		c, err := repo.GetConflictByID(r.Context(), id)
		if err != nil {
			handleConflictError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, conflictResponse(c))
	}
}

func createWaitlistEntryHandler(repo waitlist.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateWaitlistEntryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}

		e := &waitlist.Entry{
			PatientID:     patientID,
			TreatmentType: req.TreatmentType,
			Duration:      time.Duration(req.DurationSecs) * time.Second,
			TimePrefs:     req.TimePrefs,
			Priority:      req.Priority,
			Urgency:       waitlist.Urgency(req.Urgency),
			MaxWait:       time.Duration(req.MaxWaitSecs) * time.Second,
		}
		if e.Priority == 0 {
			e.Priority = 5
		}
		if e.Urgency == "" {
			e.Urgency = waitlist.UrgencyNormal
		}
		if !e.Urgency.Valid() {
			writeError(w, http.StatusBadRequest, "invalid_urgency", "urgency must be one of low, normal, high, urgent, emergency")
			return
		}
		if req.PreferredProfessionalID != "" {
			profID, err := uuid.Parse(req.PreferredProfessionalID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_professional_id", "preferred_professional_id must be a valid UUID")
				return
			}
			e.PreferredProfessionalID = &profID
		}
		if e.EarliestDate, err = parseTime(req.EarliestDate); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_earliest_date", "earliest_date must be RFC3339")
			return
		}
		if e.LatestDate, err = parseTime(req.LatestDate); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_latest_date", "latest_date must be RFC3339")
			return
		}

		if err := repo.CreateEntry(r.Context(), e); err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, waitlistResponse(e))
	}
}

func getWaitlistEntryHandler(repo waitlist.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_entry_id", "id must be a valid UUID")
			return
		}

		e, err := repo.GetEntryByID(r.Context(), id)
		if err != nil {
			handleWaitlistError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, waitlistResponse(e))
	}
}

func cancelWaitlistEntryHandler(repo waitlist.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_entry_id", "id must be a valid UUID")
			return
		}

		e, err := repo.GetEntryByID(r.Context(), id)
		if err != nil {
			handleWaitlistError(w, err)
			return
		}
		if !e.Status.CanTransitionTo(waitlist.StatusCancelled) {
			writeError(w, http.StatusConflict, "invalid_status_transition", "entry is already closed")
			return
		}

		cancelled, err := repo.UpdateEntryStatus(r.Context(), id, e.Status, waitlist.StatusCancelled)
		if err != nil {
			handleWaitlistError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, waitlistResponse(cancelled))
	}
}

func listOverdueWaitlistHandler(repo waitlist.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := repo.ListOverdue(r.Context(), time.Now())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		resp := make([]WaitlistEntryResponse, 0, len(entries))
		for i := range entries {
			resp = append(resp, waitlistResponse(&entries[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleBookingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, interval.ErrInvalidRange):
		writeError(w, http.StatusBadRequest, "invalid_range", err.Error())
	case errors.Is(err, booking.ErrBookingNotFound):
		writeError(w, http.StatusNotFound, "booking_not_found", err.Error())
	case errors.Is(err, booking.ErrScheduleEntryNotFound):
		writeError(w, http.StatusNotFound, "schedule_entry_not_found", err.Error())
	case errors.Is(err, booking.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, booking.ErrConcurrentModification):
		writeError(w, http.StatusConflict, "concurrent_modification", "booking changed since it was read, retry with the current version")
	case errors.Is(err, scheduler.ErrScheduleBlocked):
		writeError(w, http.StatusConflict, "schedule_blocked", err.Error())
	case errors.Is(err, scheduler.ErrBlockOverlap):
		writeError(w, http.StatusConflict, "block_overlap", err.Error())
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "resources_busy", "resources are locked by another operation, please retry shortly")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func handleConflictError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, conflict.ErrConflictNotFound):
		writeError(w, http.StatusNotFound, "conflict_not_found", err.Error())
	case errors.Is(err, booking.ErrBookingNotFound):
		writeError(w, http.StatusNotFound, "booking_not_found", err.Error())
	case errors.Is(err, interval.ErrInvalidRange):
		writeError(w, http.StatusBadRequest, "invalid_range", err.Error())
	case errors.Is(err, booking.ErrConcurrentModification):
		writeError(w, http.StatusConflict, "concurrent_modification", err.Error())
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "resources_busy", "resources are locked by another operation, please retry shortly")
	case errors.Is(err, resolution.ErrNoValidProposal):
		writeError(w, http.StatusConflict, "slot_not_free", "requested slot would introduce a new conflict")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func handleWaitlistError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, waitlist.ErrEntryNotFound):
		writeError(w, http.StatusNotFound, "waitlist_entry_not_found", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
