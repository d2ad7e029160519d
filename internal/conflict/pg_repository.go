package conflict

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const conflictColumns = `
	id, booking_a, booking_b, conflict_type, severity, status,
	detected_at, resolved_at, resolution_method, resolution_details`

func scanConflict(row pgx.Row) (*Conflict, error) {
	var c Conflict
	var resolvedAt *time.Time
	var method *string
	var details []byte

	err := row.Scan(
		&c.ID,
		&c.BookingA,
		&c.BookingB,
		&c.Type,
		&c.Severity,
		&c.Status,
		&c.DetectedAt,
		&resolvedAt,
		&method,
		&details,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConflictNotFound
		}
		return nil, err
	}

	c.ResolvedAt = resolvedAt
	if method != nil {
		m := ResolutionMethod(*method)
		c.Method = &m
	}
	if len(details) > 0 {
		var d ResolutionDetails
		if err := json.Unmarshal(details, &d); err != nil {
			return nil, fmt.Errorf("decode resolution details: %w", err)
		}
		c.Details = &d
	}

	return &c, nil
}

func (r *PgRepository) GetConflictByID(ctx context.Context, id uuid.UUID) (*Conflict, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+conflictColumns+`
		FROM conflicts
		WHERE id = $1
	`, id)
	return scanConflict(row)
}

func (r *PgRepository) GetOpenByPair(ctx context.Context, a, b uuid.UUID) (*Conflict, error) {
	lo, hi := PairKey(a, b)
	row := r.pool.QueryRow(ctx, `
		SELECT `+conflictColumns+`
		FROM conflicts
		WHERE booking_a = $1
		  AND booking_b = $2
		  AND status IN ('detected', 'resolving')
	`, lo, hi)
	return scanConflict(row)
}

func (r *PgRepository) CreateConflict(ctx context.Context, c *Conflict) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.BookingA, c.BookingB = PairKey(c.BookingA, c.BookingB)

	row := r.pool.QueryRow(ctx, `
		INSERT INTO conflicts (id, booking_a, booking_b, conflict_type, severity, status, detected_at)
		VALUES ($1, $2, $3, $4, $5, 'detected', COALESCE($6, now()))
		RETURNING `+conflictColumns+`
	`, c.ID, c.BookingA, c.BookingB, c.Type, c.Severity, nullableTime(c.DetectedAt))

	created, err := scanConflict(row)
	if err != nil {
		var pgErr *pgconn.PgError
		// 23505: the partial unique index on open pairs caught a duplicate.
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicatePair
		}
		return fmt.Errorf("create conflict: %w", err)
	}
	*c = *created
	return nil
}

func (r *PgRepository) UpdateConflictStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Conflict, error) {
	// Re-opening (detected/resolving) clears any resolution stamp a prior
	// escalation left; resolved_at stays null while a conflict is open.
	row := r.pool.QueryRow(ctx, `
		UPDATE conflicts
		SET status = $2,
		    resolved_at = CASE WHEN $2 IN ('detected', 'resolving') THEN NULL ELSE resolved_at END,
		    resolution_method = CASE WHEN $2 IN ('detected', 'resolving') THEN NULL ELSE resolution_method END,
		    resolution_details = CASE WHEN $2 IN ('detected', 'resolving') THEN NULL ELSE resolution_details END
		WHERE id = $1
		  AND status = $3
		RETURNING `+conflictColumns+`
	`, id, to, from)
	return scanConflict(row)
}

func (r *PgRepository) MarkResolved(ctx context.Context, id uuid.UUID, method ResolutionMethod, details *ResolutionDetails) (*Conflict, error) {
	payload, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("encode resolution details: %w", err)
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE conflicts
		SET status = 'resolved',
		    resolved_at = now(),
		    resolution_method = $2,
		    resolution_details = $3
		WHERE id = $1
		  AND status = 'resolving'
		RETURNING `+conflictColumns+`
	`, id, method, payload)
	return scanConflict(row)
}

func (r *PgRepository) MarkEscalated(ctx context.Context, id uuid.UUID, reason string) (*Conflict, error) {
	payload, err := json.Marshal(map[string]string{"reason": reason})
	if err != nil {
		return nil, fmt.Errorf("encode escalation reason: %w", err)
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE conflicts
		SET status = 'escalated',
		    resolved_at = now(),
		    resolution_method = 'escalation',
		    resolution_details = $2
		WHERE id = $1
		  AND status IN ('detected', 'resolving')
		RETURNING `+conflictColumns+`
	`, id, payload)
	return scanConflict(row)
}

func (r *PgRepository) ListConflicts(ctx context.Context, status Status, limit int) ([]Conflict, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var rows pgx.Rows
	var err error
	if status == "" {
		rows, err = r.pool.Query(ctx, `
			SELECT `+conflictColumns+`
			FROM conflicts
			ORDER BY detected_at DESC
			LIMIT $1
		`, limit)
	} else {
		rows, err = r.pool.Query(ctx, `
			SELECT `+conflictColumns+`
			FROM conflicts
			WHERE status = $1
			ORDER BY detected_at DESC
			LIMIT $2
		`, status, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectConflicts(rows)
}

func (r *PgRepository) ListOpenForBooking(ctx context.Context, bookingID uuid.UUID) ([]Conflict, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+conflictColumns+`
		FROM conflicts
		WHERE (booking_a = $1 OR booking_b = $1)
		  AND status IN ('detected', 'resolving')
		ORDER BY detected_at
	`, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectConflicts(rows)
}

func collectConflicts(rows pgx.Rows) ([]Conflict, error) {
	var result []Conflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM conflicts
		WHERE status IN ('resolved', 'escalated')
		  AND resolved_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete stale conflicts: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PgRepository) InsertResolutionAttempt(ctx context.Context, a *ResolutionAttempt) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO resolution_attempts (id, conflict_id, strategy_type, parameters, elapsed_ms, success_score, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, now()))
	`, a.ID, a.ConflictID, a.StrategyType, a.Parameters, a.Elapsed.Milliseconds(), a.SuccessScore, nullableTime(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert resolution attempt: %w", err)
	}
	return nil
}

// ActiveRules loads enabled detection rules; falls back to the built-in
// defaults when the table is empty.
func (r *PgRepository) ActiveRules(ctx context.Context) ([]Rule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, resource_kind, condition, min_gap_secs, max_daily_secs,
		       severity_override, auto_resolve, strategy_hint, enabled
		FROM conflict_rules
		WHERE enabled = true
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		var rule Rule
		var minGapSecs, maxDailySecs int64
		err := rows.Scan(
			&rule.ID,
			&rule.Name,
			&rule.Kind,
			&rule.Condition,
			&minGapSecs,
			&maxDailySecs,
			&rule.SeverityOverride,
			&rule.AutoResolve,
			&rule.StrategyHint,
			&rule.Enabled,
		)
		if err != nil {
			return nil, err
		}
		rule.MinGap = time.Duration(minGapSecs) * time.Second
		rule.MaxDaily = time.Duration(maxDailySecs) * time.Second
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(rules) == 0 {
		return DefaultRules(), nil
	}
	return rules, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
