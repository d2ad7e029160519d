package waitlist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const entryColumns = `
	id, patient_id, treatment_type, duration_secs, preferred_professional_id,
	earliest_date, latest_date, time_prefs, priority, urgency, max_wait_secs,
	status, escalated_at, notified_at, created_at, updated_at`

// urgencyRankSQL mirrors Urgency.Rank for ordering in the store.
const urgencyRankSQL = `
	CASE urgency
		WHEN 'emergency' THEN 5
		WHEN 'urgent' THEN 4
		WHEN 'high' THEN 3
		WHEN 'normal' THEN 2
		WHEN 'low' THEN 1
		ELSE 0
	END`

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	var durationSecs, maxWaitSecs int64
	var preferredProf *uuid.UUID

	err := row.Scan(
		&e.ID,
		&e.PatientID,
		&e.TreatmentType,
		&durationSecs,
		&preferredProf,
		&e.EarliestDate,
		&e.LatestDate,
		&e.TimePrefs,
		&e.Priority,
		&e.Urgency,
		&maxWaitSecs,
		&e.Status,
		&e.EscalatedAt,
		&e.NotifiedAt,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, err
	}

	e.Duration = time.Duration(durationSecs) * time.Second
	e.MaxWait = time.Duration(maxWaitSecs) * time.Second
	e.PreferredProfessionalID = preferredProf
	return &e, nil
}

func (r *PgRepository) GetEntryByID(ctx context.Context, id uuid.UUID) (*Entry, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM waitlist_entries
		WHERE id = $1
	`, id)
	return scanEntry(row)
}

func (r *PgRepository) CreateEntry(ctx context.Context, e *Entry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.TimePrefs == nil {
		e.TimePrefs = []string{}
	}
	if e.Urgency == "" {
		e.Urgency = UrgencyNormal
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO waitlist_entries (
			id, patient_id, treatment_type, duration_secs, preferred_professional_id,
			earliest_date, latest_date, time_prefs, priority, urgency, max_wait_secs,
			status, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 'active', now(), now())
		RETURNING `+entryColumns+`
	`, e.ID, e.PatientID, e.TreatmentType, int64(e.Duration/time.Second), e.PreferredProfessionalID,
		e.EarliestDate, e.LatestDate, e.TimePrefs, e.Priority, e.Urgency, int64(e.MaxWait/time.Second))

	created, err := scanEntry(row)
	if err != nil {
		return fmt.Errorf("create waitlist entry: %w", err)
	}
	*e = *created
	return nil
}

func (r *PgRepository) UpdateEntryStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Entry, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE waitlist_entries
		SET status = $2,
		    notified_at = CASE WHEN $2 = 'notified' THEN now() ELSE notified_at END,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+entryColumns+`
	`, id, to, from)

	return scanEntry(row)
}

func (r *PgRepository) ListActiveRanked(ctx context.Context) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+entryColumns+`
		FROM waitlist_entries
		WHERE status = 'active'
		ORDER BY `+urgencyRankSQL+` DESC, priority DESC, created_at ASC, id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectEntries(rows)
}

func (r *PgRepository) ListOverdue(ctx context.Context, now time.Time) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+entryColumns+`
		FROM waitlist_entries
		WHERE status = 'active'
		  AND created_at + make_interval(secs => max_wait_secs) < $1
		ORDER BY created_at ASC
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectEntries(rows)
}

func (r *PgRepository) MarkEscalated(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE waitlist_entries
		SET escalated_at = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'active'
		  AND escalated_at IS NULL
	`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

func collectEntries(rows pgx.Rows) ([]Entry, error) {
	var result []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
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
