package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agendaflow/conflict-engine/internal/config"
	"github.com/agendaflow/conflict-engine/internal/db"
)

// The simulator hammers the booking API with deliberately clustered slots so
// a meaningful share of creates collide and exercise detection + resolution.

type SimConfig struct {
	APIBaseURL    string
	Duration      time.Duration
	Workers       int
	CreateRatio   float64
	MoveRatio     float64
	ReadRatio     float64
	PatientLimit  int
	ProfLimit     int
	ContentionFan int // professionals each worker targets; smaller = more collisions
	PostgresDSN   string
}

type DataPool struct {
	Patients      []uuid.UUID
	Professionals []uuid.UUID

	mu       sync.RWMutex
	bookings []createdBooking
}

type createdBooking struct {
	ID      uuid.UUID
	Version int64
	Start   time.Time
	End     time.Time
}

func (dp *DataPool) Add(b createdBooking) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.bookings = append(dp.bookings, b)
}

func (dp *DataPool) Random(rng *rand.Rand) (createdBooking, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.bookings) == 0 {
		return createdBooking{}, false
	}
	return dp.bookings[rng.Intn(len(dp.bookings))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	mu        sync.Mutex
	latencies []time.Duration
}

func (om *OperationMetrics) Record(latency time.Duration, status int, err error) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case err == nil && status >= 200 && status < 300:
		atomic.AddInt64(&om.Success, 1)
	case err == nil && status == http.StatusConflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.latencies = append(om.latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	sorted := make([]time.Duration, len(om.latencies))
	copy(sorted, om.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, l := range sorted {
		sum += l
	}

	avg = sum / time.Duration(len(sorted))
	min = sorted[0]
	max = sorted[len(sorted)-1]
	p50 = sorted[len(sorted)*50/100]
	p95 = sorted[min2(len(sorted)*95/100, len(sorted)-1)]
	return
}

func min2(a, b int) int {
	if a < b {
		return a
	}
	return b
}

type Metrics struct {
	Create        OperationMetrics
	Reschedule    OperationMetrics
	ReadBooking   OperationMetrics
	ListConflicts OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	base    time.Time
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg := loadSimConfig()
	if err := validateSimConfig(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	log.Printf("config: duration=%s workers=%d create=%.2f move=%.2f read=%.2f fan=%d",
		cfg.Duration, cfg.Workers, cfg.CreateRatio, cfg.MoveRatio, cfg.ReadRatio, cfg.ContentionFan)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		log.Fatalf("load data pool: %v", err)
	}
	log.Printf("loaded: %d patients, %d professionals",
		len(dataPool.Patients), len(dataPool.Professionals))

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		// All simulated slots land in a tight two-day window to force contention.
		base: time.Now().Truncate(time.Hour).Add(24 * time.Hour),
	}

	sim.Run()
	sim.PrintReport()
}

func loadSimConfig() SimConfig {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load base config: %v", err)
	}

	cfg := SimConfig{
		APIBaseURL:    getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:      getDuration("SIM_DURATION", 30*time.Second),
		Workers:       getInt("SIM_WORKERS", 10),
		CreateRatio:   getFloat("SIM_CREATE_RATIO", 0.5),
		MoveRatio:     getFloat("SIM_MOVE_RATIO", 0.2),
		ReadRatio:     getFloat("SIM_READ_RATIO", 0.3),
		PatientLimit:  getInt("SIM_PATIENT_LIMIT", 2000),
		ProfLimit:     getInt("SIM_PROF_LIMIT", 40),
		ContentionFan: getInt("SIM_CONTENTION_FAN", 8),
		PostgresDSN:   baseCfg.PostgresDSN,
	}

	total := cfg.CreateRatio + cfg.MoveRatio + cfg.ReadRatio
	if total > 0 {
		cfg.CreateRatio /= total
		cfg.MoveRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateSimConfig(cfg SimConfig) error {
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required (set in .env or environment)")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.ContentionFan <= 0 {
		return fmt.Errorf("SIM_CONTENTION_FAN must be > 0")
	}
	return nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{}

	rows, err := pool.Query(ctx, `SELECT id FROM patients LIMIT $1`, cfg.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		dataPool.Patients = append(dataPool.Patients, id)
	}

	rows, err = pool.Query(ctx, `SELECT id FROM professionals LIMIT $1`, cfg.ProfLimit)
	if err != nil {
		return nil, fmt.Errorf("load professionals: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		dataPool.Professionals = append(dataPool.Professionals, id)
	}

	if len(dataPool.Patients) == 0 {
		return nil, fmt.Errorf("no patients loaded, run cmd/seed first")
	}
	if len(dataPool.Professionals) == 0 {
		return nil, fmt.Errorf("no professionals loaded, run cmd/seed first")
	}

	return dataPool, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	log.Printf("starting simulation for %s with %d workers", s.config.Duration, s.config.Workers)

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	log.Println("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < s.config.CreateRatio:
				s.doCreate(ctx, rng)
			case r < s.config.CreateRatio+s.config.MoveRatio:
				s.doReschedule(ctx, rng)
			default:
				if rng.Intn(2) == 0 {
					s.doReadBooking(ctx, rng)
				} else {
					s.doListConflicts(ctx, rng)
				}
			}
		}
	}
}

// contendedSlot picks a start time from a small pool of half-hour slots so
// concurrent workers regularly land on the same professional at the same time.
func (s *Simulator) contendedSlot(rng *rand.Rand) (prof uuid.UUID, start, end time.Time) {
	prof = s.pool.Professionals[rng.Intn(min2(s.config.ContentionFan, len(s.pool.Professionals)))]
	slot := rng.Intn(32) // 16h of half-hour slots over two days
	start = s.base.Add(time.Duration(slot) * 30 * time.Minute)
	end = start.Add(time.Duration(rng.Intn(2)+1) * 30 * time.Minute)
	return
}

func (s *Simulator) doCreate(ctx context.Context, rng *rand.Rand) {
	prof, start, end := s.contendedSlot(rng)
	patient := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	reqBody := map[string]any{
		"patient_id":      patient.String(),
		"professional_id": prof.String(),
		"treatment_type":  "physiotherapy",
		"start_time":      start.Format(time.RFC3339),
		"end_time":        end.Format(time.RFC3339),
		"priority":        rng.Intn(10) + 1,
	}
	body, _ := json.Marshal(reqBody)

	began := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost,
		s.config.APIBaseURL+"/bookings", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	latency := time.Since(began)

	status := 0
	if err == nil {
		status = resp.StatusCode
		if resp.StatusCode == http.StatusCreated {
			var created struct {
				ID      uuid.UUID `json:"id"`
				Version int64     `json:"version"`
			}
			data, _ := io.ReadAll(resp.Body)
			if json.Unmarshal(data, &created) == nil && created.ID != uuid.Nil {
				s.pool.Add(createdBooking{ID: created.ID, Version: created.Version, Start: start, End: end})
			}
		}
		resp.Body.Close()
	}

	s.metrics.Create.Record(latency, status, err)
}

func (s *Simulator) doReschedule(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.Random(rng)
	if !ok {
		return
	}

	// Deliberately reuses the stored version; a stale one after a server-side
	// auto-reschedule is exactly the concurrency case worth measuring.
	shift := time.Duration(rng.Intn(4)+1) * 30 * time.Minute
	reqBody := map[string]any{
		"start_time": b.Start.Add(shift).Format(time.RFC3339),
		"end_time":   b.End.Add(shift).Format(time.RFC3339),
		"version":    b.Version,
	}
	body, _ := json.Marshal(reqBody)

	began := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/bookings/%s/reschedule", s.config.APIBaseURL, b.ID), bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	latency := time.Since(began)

	status := 0
	if err == nil {
		status = resp.StatusCode
		resp.Body.Close()
	}

	s.metrics.Reschedule.Record(latency, status, err)
}

func (s *Simulator) doReadBooking(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.Random(rng)
	if !ok {
		return
	}

	began := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/bookings/%s", s.config.APIBaseURL, b.ID), nil)

	resp, err := s.client.Do(req)
	latency := time.Since(began)

	status := 0
	if err == nil {
		status = resp.StatusCode
		resp.Body.Close()
	}

	s.metrics.ReadBooking.Record(latency, status, err)
}

func (s *Simulator) doListConflicts(ctx context.Context, rng *rand.Rand) {
	statuses := []string{"detected", "resolved", "escalated"}
	q := statuses[rng.Intn(len(statuses))]

	began := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/conflicts?status=%s", s.config.APIBaseURL, q), nil)

	resp, err := s.client.Do(req)
	latency := time.Since(began)

	status := 0
	if err == nil {
		status = resp.StatusCode
		resp.Body.Close()
	}

	s.metrics.ListConflicts.Record(latency, status, err)
}

func (s *Simulator) PrintReport() {
	line := "================================================================================"
	fmt.Println("\n" + line)
	fmt.Println("SIMULATION REPORT")
	fmt.Println(line)
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Create Booking", &s.metrics.Create)
	printOperationReport("Reschedule", &s.metrics.Reschedule)
	printOperationReport("Read Booking", &s.metrics.ReadBooking)
	printOperationReport("List Conflicts", &s.metrics.ListConflicts)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflicted := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflicted > 0 {
		fmt.Printf("  Conflicts (409): %d (%.1f%%)\n", conflicted, float64(conflicted)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
