package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agendaflow/conflict-engine/internal/booking"
	"github.com/agendaflow/conflict-engine/internal/conflict"
	"github.com/agendaflow/conflict-engine/internal/events"
	"github.com/agendaflow/conflict-engine/internal/interval"
	"github.com/agendaflow/conflict-engine/internal/resolution"
	"github.com/agendaflow/conflict-engine/internal/scheduler"
	"github.com/agendaflow/conflict-engine/internal/waitlist"
)

type nullSink struct{}

func (nullSink) Emit(ctx context.Context, ev events.Event) {}

type noopLocker struct{}

func (noopLocker) WithResourceLocks(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type testServer struct {
	router    http.Handler
	bookings  *booking.MemoryRepository
	conflicts *conflict.MemoryRepository
	waitlist  *waitlist.MemoryRepository
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := zap.NewNop()
	index := interval.NewIndex()
	bookings := booking.NewMemoryRepository()
	conflicts := conflict.NewMemoryRepository()
	wl := waitlist.NewMemoryRepository()
	sink := nullSink{}

	detector := conflict.NewDetector(index, bookings, conflicts,
		conflict.StaticRules(conflict.DefaultRules()), sink, nil, log, 0)
	orchestrator := resolution.NewOrchestrator(index, bookings, conflicts,
		resolution.NewRegistry(resolution.NewSearchBased(index, 24*time.Hour, 15*time.Minute)),
		resolution.NewRepoCommitter(bookings, conflicts),
		noopLocker{}, sink, nil, log, resolution.Config{})
	matcher := waitlist.NewMatcher(wl, sink, nil, log)
	svc := scheduler.NewService(index, bookings, conflicts, detector,
		orchestrator, matcher, noopLocker{}, sink, log)

	router := NewRouter(RouterConfig{
		Service:   svc,
		Bookings:  bookings,
		Conflicts: conflicts,
		Waitlist:  wl,
		Log:       log,
		Env:       "test",
		Version:   "test",
	})
	return &testServer{router: router, bookings: bookings, conflicts: conflicts, waitlist: wl}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func bookingPayload(prof uuid.UUID, start, end time.Time) CreateBookingRequest {
	return CreateBookingRequest{
		PatientID:      uuid.NewString(),
		ProfessionalID: prof.String(),
		TreatmentType:  "physio",
		StartTime:      start.Format(time.RFC3339),
		EndTime:        end.Format(time.RFC3339),
		Priority:       5,
	}
}

func TestCreateBookingEndpoint(t *testing.T) {
	s := newTestServer(t)
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	rec := s.do(t, http.MethodPost, "/bookings", bookingPayload(uuid.New(), start, start.Add(30*time.Minute)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	resp := decode[BookingResponse](t, rec)
	assert.Equal(t, "tentative", resp.Status)
	assert.Equal(t, int64(1), resp.Version)
	assert.Empty(t, resp.Conflicts)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestCreateBookingInvalidRange(t *testing.T) {
	s := newTestServer(t)
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	rec := s.do(t, http.MethodPost, "/bookings", bookingPayload(uuid.New(), start, start))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_range", decode[ErrorResponse](t, rec).Error)
}

func TestCreateBookingReportsResolvedConflict(t *testing.T) {
	s := newTestServer(t)
	prof := uuid.New()
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	rec := s.do(t, http.MethodPost, "/bookings", bookingPayload(prof, start, start.Add(30*time.Minute)))
	require.Equal(t, http.StatusCreated, rec.Code)

	overlapping := bookingPayload(prof, start.Add(15*time.Minute), start.Add(45*time.Minute))
	overlapping.Priority = 3
	rec = s.do(t, http.MethodPost, "/bookings", overlapping)
	require.Equal(t, http.StatusCreated, rec.Code)

	resp := decode[BookingResponse](t, rec)
	require.Len(t, resp.Conflicts, 1)
	assert.Equal(t, "resource_conflict", resp.Conflicts[0].Type)

	// The auto-resolver already handled it.
	rec = s.do(t, http.MethodGet, "/conflicts?status=resolved", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]ConflictResponse](t, rec), 1)
}

func TestBookingLifecycleEndpoints(t *testing.T) {
	s := newTestServer(t)
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	created := decode[BookingResponse](t, s.do(t, http.MethodPost, "/bookings",
		bookingPayload(uuid.New(), start, start.Add(30*time.Minute))))

	rec := s.do(t, http.MethodPost, fmt.Sprintf("/bookings/%s/confirm", created.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "confirmed", decode[BookingResponse](t, rec).Status)

	rec = s.do(t, http.MethodPost, fmt.Sprintf("/bookings/%s/confirm", created.ID), nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "double confirm maps to 409")

	rec = s.do(t, http.MethodPost, fmt.Sprintf("/bookings/%s/cancel", created.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cancelled", decode[BookingResponse](t, rec).Status)

	rec = s.do(t, http.MethodGet, fmt.Sprintf("/bookings/%s", uuid.New()), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRescheduleStaleVersionEndpoint(t *testing.T) {
	s := newTestServer(t)
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	created := decode[BookingResponse](t, s.do(t, http.MethodPost, "/bookings",
		bookingPayload(uuid.New(), start, start.Add(30*time.Minute))))

	rec := s.do(t, http.MethodPost, fmt.Sprintf("/bookings/%s/reschedule", created.ID), RescheduleRequest{
		StartTime: start.Add(2 * time.Hour).Format(time.RFC3339),
		EndTime:   start.Add(2*time.Hour + 30*time.Minute).Format(time.RFC3339),
		Version:   99,
	})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "concurrent_modification", decode[ErrorResponse](t, rec).Error)

	rec = s.do(t, http.MethodPost, fmt.Sprintf("/bookings/%s/reschedule", created.ID), RescheduleRequest{
		StartTime: start.Add(2 * time.Hour).Format(time.RFC3339),
		EndTime:   start.Add(2*time.Hour + 30*time.Minute).Format(time.RFC3339),
		Version:   created.Version,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(2), decode[BookingResponse](t, rec).Version)
}

func TestManualResolveEndpoint(t *testing.T) {
	s := newTestServer(t)
	prof := uuid.New()
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	first := decode[BookingResponse](t, s.do(t, http.MethodPost, "/bookings",
		bookingPayload(prof, start, start.Add(time.Hour))))

	// High severity, not auto-reschedulable: lands in escalated.
	blockedReq := bookingPayload(prof, start.Add(30*time.Minute), start.Add(90*time.Minute))
	blockedReq.Priority = 10
	auto := false
	blockedReq.AutoReschedulable = &auto
	second := decode[BookingResponse](t, s.do(t, http.MethodPost, "/bookings", blockedReq))
	require.Len(t, second.Conflicts, 1)
	conflictID := second.Conflicts[0].ID

	rec := s.do(t, http.MethodGet, "/conflicts?status=escalated", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decode[[]ConflictResponse](t, rec), 1, "escalated conflicts are enumerable")

	rec = s.do(t, http.MethodPost, fmt.Sprintf("/conflicts/%s/resolve", conflictID), ResolveConflictRequest{
		BookingID: first.ID.String(),
		StartTime: start.Add(3 * time.Hour).Format(time.RFC3339),
		EndTime:   start.Add(4 * time.Hour).Format(time.RFC3339),
		Note:      "moved per patient call",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resolved := decode[ConflictResponse](t, rec)
	assert.Equal(t, "resolved", resolved.Status)
	assert.Equal(t, "manual_override", resolved.Method)
}

func TestWaitlistEndpoints(t *testing.T) {
	s := newTestServer(t)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	rec := s.do(t, http.MethodPost, "/waitlist", CreateWaitlistEntryRequest{
		PatientID:     uuid.NewString(),
		TreatmentType: "physio",
		DurationSecs:  1800,
		EarliestDate:  now.Format(time.RFC3339),
		LatestDate:    now.Add(30 * 24 * time.Hour).Format(time.RFC3339),
		Urgency:       "high",
		MaxWaitSecs:   3600 * 48,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	entry := decode[WaitlistEntryResponse](t, rec)
	assert.Equal(t, "active", entry.Status)
	assert.Equal(t, "high", entry.Urgency)

	rec = s.do(t, http.MethodGet, "/waitlist/overdue", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]WaitlistEntryResponse](t, rec))

	rec = s.do(t, http.MethodPost, fmt.Sprintf("/waitlist/%s/cancel", entry.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cancelled", decode[WaitlistEntryResponse](t, rec).Status)

	rec = s.do(t, http.MethodPost, fmt.Sprintf("/waitlist/%s/cancel", entry.ID), nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "cancel is not repeatable, the lifecycle is monotonic")
}

func TestCreateWaitlistEntryUrgencyValidation(t *testing.T) {
	s := newTestServer(t)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	payload := func(urgency string) CreateWaitlistEntryRequest {
		return CreateWaitlistEntryRequest{
			PatientID:     uuid.NewString(),
			TreatmentType: "physio",
			DurationSecs:  1800,
			EarliestDate:  now.Format(time.RFC3339),
			LatestDate:    now.Add(30 * 24 * time.Hour).Format(time.RFC3339),
			Urgency:       urgency,
			MaxWaitSecs:   3600 * 48,
		}
	}

	rec := s.do(t, http.MethodPost, "/waitlist", payload("urgent"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "urgent", decode[WaitlistEntryResponse](t, rec).Urgency)

	rec = s.do(t, http.MethodPost, "/waitlist", payload("asap"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_urgency", decode[ErrorResponse](t, rec).Error)
}

func TestListConflictsRejectsUnknownStatus(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/conflicts?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
