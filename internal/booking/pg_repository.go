package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agendaflow/conflict-engine/internal/interval"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const bookingColumns = `
	id, patient_id, professional_id, room_id, equipment_ids, treatment_type,
	start_time, end_time, status, priority, auto_reschedulable, version,
	created_at, updated_at`

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking
	var roomID *uuid.UUID

	err := row.Scan(
		&b.ID,
		&b.PatientID,
		&b.ProfessionalID,
		&roomID,
		&b.EquipmentIDs,
		&b.TreatmentType,
		&b.StartTime,
		&b.EndTime,
		&b.Status,
		&b.Priority,
		&b.AutoReschedulable,
		&b.Version,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}

	b.RoomID = roomID
	return &b, nil
}

func scanScheduleEntry(row pgx.Row) (*ScheduleEntry, error) {
	var e ScheduleEntry
	var bufferBeforeSecs, bufferAfterSecs int64

	err := row.Scan(
		&e.ID,
		&e.ResourceType,
		&e.ResourceID,
		&e.StartTime,
		&e.EndTime,
		&bufferBeforeSecs,
		&bufferAfterSecs,
		&e.Capabilities,
		&e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrScheduleEntryNotFound
		}
		return nil, err
	}

	e.BufferBefore = time.Duration(bufferBeforeSecs) * time.Second
	e.BufferAfter = time.Duration(bufferAfterSecs) * time.Second
	return &e, nil
}

func (r *PgRepository) GetBookingByID(ctx context.Context, id uuid.UUID) (*Booking, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE id = $1
	`, id)
	return scanBooking(row)
}

func (r *PgRepository) CreateBooking(ctx context.Context, b *Booking) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.EquipmentIDs == nil {
		b.EquipmentIDs = []uuid.UUID{}
	}
	if b.Status == "" {
		b.Status = StatusTentative
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO bookings (
			id, patient_id, professional_id, room_id, equipment_ids, treatment_type,
			start_time, end_time, status, priority, auto_reschedulable, version,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 1, now(), now())
		RETURNING `+bookingColumns+`
	`, b.ID, b.PatientID, b.ProfessionalID, b.RoomID, b.EquipmentIDs, b.TreatmentType,
		b.StartTime, b.EndTime, b.Status, b.Priority, b.AutoReschedulable)

	created, err := scanBooking(row)
	if err != nil {
		return fmt.Errorf("create booking: %w", err)
	}
	*b = *created
	return nil
}

func (r *PgRepository) UpdateBookingStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Booking, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE bookings
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+bookingColumns+`
	`, id, to, from)

	return scanBooking(row)
}

func (r *PgRepository) Reschedule(ctx context.Context, id uuid.UUID, version int64, rng interval.Range) (*Booking, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE bookings
		SET start_time = $3,
		    end_time = $4,
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1
		  AND version = $2
		RETURNING `+bookingColumns+`
	`, id, version, rng.Start, rng.End)

	b, err := scanBooking(row)
	if err != nil {
		if errors.Is(err, ErrBookingNotFound) {
			// Either the booking is gone or its version moved under us.
			if _, getErr := r.GetBookingByID(ctx, id); getErr == nil {
				return nil, ErrConcurrentModification
			}
			return nil, ErrBookingNotFound
		}
		return nil, err
	}
	return b, nil
}

func (r *PgRepository) ListActiveBookings(ctx context.Context) ([]Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE status IN ('tentative', 'confirmed')
		ORDER BY start_time
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectBookings(rows)
}

func (r *PgRepository) ListActiveBookingsForProfessional(ctx context.Context, professionalID uuid.UUID, day time.Time) ([]Booking, error) {
	dayStart := day.Truncate(24 * time.Hour)
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE professional_id = $1
		  AND status IN ('tentative', 'confirmed')
		  AND start_time >= $2
		  AND start_time < $3
		ORDER BY start_time
	`, professionalID, dayStart, dayStart.Add(24*time.Hour))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectBookings(rows)
}

func collectBookings(rows pgx.Rows) ([]Booking, error) {
	var result []Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) CreateScheduleEntry(ctx context.Context, e *ScheduleEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Capabilities == nil {
		e.Capabilities = []string{}
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO resource_schedule_entries (
			id, resource_type, resource_id, start_time, end_time,
			buffer_before_secs, buffer_after_secs, capabilities, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		RETURNING id, resource_type, resource_id, start_time, end_time,
		          buffer_before_secs, buffer_after_secs, capabilities, created_at
	`, e.ID, e.ResourceType, e.ResourceID, e.StartTime, e.EndTime,
		int64(e.BufferBefore/time.Second), int64(e.BufferAfter/time.Second), e.Capabilities)

	created, err := scanScheduleEntry(row)
	if err != nil {
		return fmt.Errorf("create schedule entry: %w", err)
	}
	*e = *created
	return nil
}

func (r *PgRepository) ListScheduleEntries(ctx context.Context) ([]ScheduleEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, resource_type, resource_id, start_time, end_time,
		       buffer_before_secs, buffer_after_secs, capabilities, created_at
		FROM resource_schedule_entries
		ORDER BY start_time
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []ScheduleEntry
	for rows.Next() {
		e, err := scanScheduleEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
