package resolution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agendaflow/conflict-engine/internal/booking"
	"github.com/agendaflow/conflict-engine/internal/conflict"
	"github.com/agendaflow/conflict-engine/internal/interval"
)

// PgCommitter moves the booking and closes the conflict in a single
// transaction, so a crash between the two can never leave a resolved
// conflict pointing at an unmoved booking.
type PgCommitter struct {
	pool *pgxpool.Pool
}

func NewPgCommitter(pool *pgxpool.Pool) *PgCommitter {
	return &PgCommitter{pool: pool}
}

func (c *PgCommitter) CommitResolution(ctx context.Context, conflictID uuid.UUID, target *booking.Booking, newRange interval.Range, method conflict.ResolutionMethod, details *conflict.ResolutionDetails) (*booking.Booking, error) {
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("marshal resolution details: %w", err)
	}

	tx, err := c.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin resolution tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var moved booking.Booking
	var roomID *uuid.UUID
	err = tx.QueryRow(ctx, `
		UPDATE bookings
		SET start_time = $3,
		    end_time = $4,
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1
		  AND version = $2
		RETURNING id, patient_id, professional_id, room_id, equipment_ids, treatment_type,
		          start_time, end_time, status, priority, auto_reschedulable, version,
		          created_at, updated_at
	`, target.ID, target.Version, newRange.Start, newRange.End).Scan(
		&moved.ID,
		&moved.PatientID,
		&moved.ProfessionalID,
		&roomID,
		&moved.EquipmentIDs,
		&moved.TreatmentType,
		&moved.StartTime,
		&moved.EndTime,
		&moved.Status,
		&moved.Priority,
		&moved.AutoReschedulable,
		&moved.Version,
		&moved.CreatedAt,
		&moved.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, booking.ErrConcurrentModification
		}
		return nil, fmt.Errorf("move booking: %w", err)
	}
	moved.RoomID = roomID

	// Escalated conflicts are closable too: a manual override resolves
	// them without walking back through detected/resolving.
	tag, err := tx.Exec(ctx, `
		UPDATE conflicts
		SET status = 'resolved',
		    resolved_at = now(),
		    resolution_method = $2,
		    resolution_details = $3
		WHERE id = $1
		  AND status IN ('detected', 'resolving', 'escalated')
	`, conflictID, method, detailsJSON)
	if err != nil {
		return nil, fmt.Errorf("close conflict: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, conflict.ErrConflictNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit resolution tx: %w", err)
	}
	return &moved, nil
}
