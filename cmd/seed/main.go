package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agendaflow/conflict-engine/internal/conflict"
	"github.com/agendaflow/conflict-engine/internal/db"
)

var treatments = []string{
	"physiotherapy",
	"massage therapy",
	"chiropractic",
	"acupuncture",
	"occupational therapy",
	"sports rehab",
	"hydrotherapy",
	"osteopathy",
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	background := context.Background()

	professionals, err := seedProfessionals(background, pool, 40)
	if err != nil {
		log.Fatalf("seed professionals: %v", err)
	}
	rooms, err := seedRooms(background, pool, 12)
	if err != nil {
		log.Fatalf("seed rooms: %v", err)
	}
	equipment, err := seedEquipment(background, pool, 20)
	if err != nil {
		log.Fatalf("seed equipment: %v", err)
	}
	patients, err := seedPatients(background, pool, 2000)
	if err != nil {
		log.Fatalf("seed patients: %v", err)
	}
	if err := seedRules(background, pool); err != nil {
		log.Fatalf("seed rules: %v", err)
	}
	if err := seedBookings(background, pool, 3000, professionals, rooms, equipment, patients); err != nil {
		log.Fatalf("seed bookings: %v", err)
	}
	if err := seedWaitlist(background, pool, 150, professionals, patients); err != nil {
		log.Fatalf("seed waitlist: %v", err)
	}

	log.Println("seed complete")
}

func seedProfessionals(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d professionals", count)

	specialties := []string{
		"Physiotherapy",
		"Sports Medicine",
		"Chiropractic",
		"Occupational Therapy",
		"Massage Therapy",
		"Osteopathy",
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		_, err := tx.Exec(ctx, `
			INSERT INTO professionals (id, name, specialty, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, id, gofakeit.Name(), specialties[gofakeit.Number(0, len(specialties)-1)])
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, tx.Commit(ctx)
}

func seedRooms(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d rooms", count)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	capabilitySets := [][]string{
		{"treatment_table"},
		{"treatment_table", "ultrasound"},
		{"gym", "parallel_bars"},
		{"hydro_pool"},
	}

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		caps := capabilitySets[gofakeit.Number(0, len(capabilitySets)-1)]
		_, err := tx.Exec(ctx, `
			INSERT INTO rooms (id, name, capabilities, created_at)
			VALUES ($1, $2, $3, now())
		`, id, "Room "+gofakeit.LetterN(1)+gofakeit.DigitN(2), caps)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, tx.Commit(ctx)
}

func seedEquipment(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d equipment items", count)

	kinds := []string{"Ultrasound", "TENS Unit", "Treadmill", "Laser", "Shockwave", "Traction Table"}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		name := kinds[gofakeit.Number(0, len(kinds)-1)] + " " + gofakeit.DigitN(3)
		_, err := tx.Exec(ctx, `
			INSERT INTO equipment (id, name, created_at)
			VALUES ($1, $2, now())
		`, id, name)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, tx.Commit(ctx)
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d patients", count)

	const batchSize = 500
	ids := make([]uuid.UUID, 0, count)

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return nil, err
		}

		for i := offset; i < end; i++ {
			id := uuid.New()
			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, name, email, created_at, updated_at)
				VALUES ($1, $2, $3, now(), now())
			`, id, gofakeit.Name(), gofakeit.Email())
			if err != nil {
				_ = tx.Rollback(ctx)
				return nil, err
			}
			ids = append(ids, id)
		}

		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}
	}

	return ids, nil
}

func seedRules(ctx context.Context, pool *pgxpool.Pool) error {
	log.Println("seeding detection rules")

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, r := range conflict.DefaultRules() {
		_, err := tx.Exec(ctx, `
			INSERT INTO conflict_rules (
				id, name, resource_kind, condition, min_gap_secs, max_daily_secs,
				severity_override, auto_resolve, strategy_hint, enabled, created_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		`, uuid.New(), r.Name, string(r.Kind), string(r.Condition),
			int64(r.MinGap/time.Second), int64(r.MaxDaily/time.Second),
			r.SeverityOverride, r.AutoResolve, r.StrategyHint, r.Enabled)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// seedBookings writes mostly clean schedules with a slice of deliberate
// overlap so sweeps and resolution have something to chew on.
func seedBookings(ctx context.Context, pool *pgxpool.Pool, count int, professionals, rooms, equipment, patients []uuid.UUID) error {
	log.Printf("seeding %d bookings", count)

	const batchSize = 500
	const overlapRatio = 0.15

	base := time.Now().Truncate(24 * time.Hour).Add(8 * time.Hour)
	var lastStart time.Time
	var lastProf uuid.UUID

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			id := uuid.New()
			prof := professionals[gofakeit.Number(0, len(professionals)-1)]
			day := gofakeit.Number(0, 13)
			slot := gofakeit.Number(0, 17) // half-hour slots 08:00-17:00
			start := base.AddDate(0, 0, day).Add(time.Duration(slot) * 30 * time.Minute)
			duration := time.Duration(gofakeit.Number(1, 3)) * 30 * time.Minute

			// A slice of deliberately overlapping bookings.
			if !lastStart.IsZero() && gofakeit.Float64Range(0, 1) < overlapRatio {
				prof = lastProf
				start = lastStart.Add(15 * time.Minute)
			}
			lastStart = start
			lastProf = prof

			var roomID *uuid.UUID
			if gofakeit.Bool() {
				r := rooms[gofakeit.Number(0, len(rooms)-1)]
				roomID = &r
			}
			equipmentIDs := []uuid.UUID{}
			if gofakeit.Number(0, 3) == 0 {
				equipmentIDs = append(equipmentIDs, equipment[gofakeit.Number(0, len(equipment)-1)])
			}

			status := "confirmed"
			if gofakeit.Number(0, 4) == 0 {
				status = "tentative"
			}

			_, err := tx.Exec(ctx, `
				INSERT INTO bookings (
					id, patient_id, professional_id, room_id, equipment_ids, treatment_type,
					start_time, end_time, status, priority, auto_reschedulable, version,
					created_at, updated_at
				)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 1, now(), now())
			`, id, patients[gofakeit.Number(0, len(patients)-1)], prof, roomID, equipmentIDs,
				treatments[gofakeit.Number(0, len(treatments)-1)],
				start, start.Add(duration), status,
				gofakeit.Number(1, 10), gofakeit.Number(0, 9) > 1)
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}
	}

	log.Println("bookings seeded")
	return nil
}

func seedWaitlist(ctx context.Context, pool *pgxpool.Pool, count int, professionals, patients []uuid.UUID) error {
	log.Printf("seeding %d waitlist entries", count)

	urgencies := []string{"low", "normal", "normal", "normal", "high", "urgent", "emergency"}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	now := time.Now()
	for i := 0; i < count; i++ {
		var prefProf *uuid.UUID
		if gofakeit.Bool() {
			p := professionals[gofakeit.Number(0, len(professionals)-1)]
			prefProf = &p
		}

		timePrefs := []string{}
		if gofakeit.Number(0, 2) == 0 {
			timePrefs = append(timePrefs, []string{"morning", "afternoon", "evening"}[gofakeit.Number(0, 2)])
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO waitlist_entries (
				id, patient_id, treatment_type, duration_secs, preferred_professional_id,
				earliest_date, latest_date, time_prefs, priority, urgency, max_wait_secs,
				status, created_at, updated_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 'active', now(), now())
		`, uuid.New(), patients[gofakeit.Number(0, len(patients)-1)],
			treatments[gofakeit.Number(0, len(treatments)-1)],
			int64(gofakeit.Number(1, 4)*1800),
			prefProf,
			now, now.AddDate(0, 1, 0), timePrefs,
			gofakeit.Number(1, 10),
			urgencies[gofakeit.Number(0, len(urgencies)-1)],
			int64(gofakeit.Number(2, 14)*24*3600))
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}
