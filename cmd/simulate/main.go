package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackgods/healthcare-booking/internal/auth"
	"github.com/hackgods/healthcare-booking/internal/catalog"
	"github.com/hackgods/healthcare-booking/internal/config"
	"github.com/hackgods/healthcare-booking/internal/db"
	"github.com/hackgods/healthcare-booking/internal/logging"
)

// SimConfig drives a contention run: every round fires Contenders bookings at
// one (doctor, date, time) slot at the same instant.
type SimConfig struct {
	APIBaseURL   string
	Rounds       int
	Contenders   int
	PatientLimit int
	Paid         bool
}

type target struct {
	DoctorID  uuid.UUID
	ServiceID uuid.UUID
}

type outcome int

const (
	outcomeCreated outcome = iota
	outcomeSlotConflict
	outcomeQuota
	outcomeInProgress
	outcomeError
)

var outcomeNames = map[outcome]string{
	outcomeCreated:      "created",
	outcomeSlotConflict: "slot_conflict",
	outcomeQuota:        "free_quota_exceeded",
	outcomeInProgress:   "booking_in_progress",
	outcomeError:        "error",
}

type report struct {
	mu           sync.Mutex
	counts       map[outcome]int
	latencies    []time.Duration
	doubleBooked int
}

func (r *report) record(o outcome, latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[o]++
	r.latencies = append(r.latencies, latency)
}

type Simulator struct {
	cfg      SimConfig
	client   *http.Client
	tokens   *auth.TokenManager
	patients []uuid.UUID
	targets  []target
	report   *report
	logger   zerolog.Logger
}

func main() {
	var sc SimConfig

	cmd := &cobra.Command{
		Use:          "simulate",
		Short:        "Race concurrent bookings for the same slot against a running API",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), sc)
		},
	}
	cmd.Flags().StringVar(&sc.APIBaseURL, "api", "http://localhost:8080", "API base URL")
	cmd.Flags().IntVar(&sc.Rounds, "rounds", 20, "Number of contested slots")
	cmd.Flags().IntVar(&sc.Contenders, "contenders", 10, "Concurrent patients per slot")
	cmd.Flags().IntVar(&sc.PatientLimit, "patients", 500, "Patients to load from the database")
	cmd.Flags().BoolVar(&sc.Paid, "paid", false, "Book with requiresPayment=true")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, sc SimConfig) error {
	if sc.Rounds <= 0 || sc.Contenders <= 0 {
		return fmt.Errorf("rounds and contenders must be > 0")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.Env, "simulate")
	if err != nil {
		return err
	}

	loadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(loadCtx, cfg.PostgresDSN, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	patients, targets, err := loadData(loadCtx, pool, sc.PatientLimit)
	if err != nil {
		return err
	}
	logger.Info().Int("patients", len(patients)).Int("targets", len(targets)).Msg("data loaded")

	sim := &Simulator{
		cfg:      sc,
		client:   &http.Client{Timeout: 10 * time.Second},
		tokens:   auth.NewTokenManager(cfg.JWTSecret, cfg.JWTIssuer, time.Hour),
		patients: patients,
		targets:  targets,
		report:   &report{counts: make(map[outcome]int)},
		logger:   logger,
	}

	sim.Run(ctx)
	sim.PrintReport()
	return nil
}

func loadData(ctx context.Context, pool *pgxpool.Pool, limit int) ([]uuid.UUID, []target, error) {
	rows, err := pool.Query(ctx, `SELECT id FROM users WHERE role = 'patient' LIMIT $1`, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("load patients: %w", err)
	}
	var patients []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, nil, err
		}
		patients = append(patients, id)
	}
	rows.Close()

	rows, err = pool.Query(ctx, `
		SELECT sd.doctor_id, sd.service_id
		FROM service_doctors sd
		JOIN services s ON s.id = sd.service_id
		WHERE s.is_active
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load doctor/service pairs: %w", err)
	}
	defer rows.Close()

	var targets []target
	for rows.Next() {
		var t target
		if err := rows.Scan(&t.DoctorID, &t.ServiceID); err != nil {
			return nil, nil, err
		}
		targets = append(targets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	if len(patients) == 0 {
		return nil, nil, fmt.Errorf("no patients found, run seed first")
	}
	if len(targets) == 0 {
		return nil, nil, fmt.Errorf("no doctor/service pairs found, run seed first")
	}
	return patients, targets, nil
}

func (s *Simulator) Run(ctx context.Context) {
	// far enough out that a real schedule is unlikely to collide
	base := time.Now().AddDate(1, 0, rand.IntN(300))

	for round := range s.cfg.Rounds {
		t := s.targets[rand.IntN(len(s.targets))]
		day := base.AddDate(0, 0, round/16).Format("2006-01-02")
		clock := fmt.Sprintf("%02d:%02d", 9+(round%16)/2, (round%2)*30)

		s.contest(ctx, t, day, clock)
	}
}

// contest releases all contenders for one slot together and checks that at
// most one of them won it.
func (s *Simulator) contest(ctx context.Context, t target, day, clock string) {
	var (
		wg      sync.WaitGroup
		start   = make(chan struct{})
		mu      sync.Mutex
		winners int
	)

	for i := range s.cfg.Contenders {
		patient := s.patients[(rand.IntN(len(s.patients))+i)%len(s.patients)]
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			o, latency := s.book(ctx, patient, t, day, clock)
			s.report.record(o, latency)
			if o == outcomeCreated {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}

	close(start)
	wg.Wait()

	if winners > 1 {
		s.report.mu.Lock()
		s.report.doubleBooked++
		s.report.mu.Unlock()
		s.logger.Error().
			Str("doctor_id", t.DoctorID.String()).
			Str("date", day).
			Str("time", clock).
			Int("winners", winners).
			Msg("slot booked more than once")
	}
}

func (s *Simulator) book(ctx context.Context, patient uuid.UUID, t target, day, clock string) (outcome, time.Duration) {
	token, err := s.tokens.Issue(auth.Actor{ID: patient, Role: catalog.RolePatient})
	if err != nil {
		return outcomeError, 0
	}

	body, _ := json.Marshal(map[string]any{
		"doctorId":        t.DoctorID,
		"serviceId":       t.ServiceID,
		"date":            day,
		"time":            clock,
		"requiresPayment": s.cfg.Paid,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.APIBaseURL+"/api/appointments", bytes.NewReader(body))
	if err != nil {
		return outcomeError, 0
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return outcomeError, latency
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusCreated {
		return outcomeCreated, latency
	}

	var e struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(raw, &e)

	switch e.Error {
	case "slot_conflict":
		return outcomeSlotConflict, latency
	case "free_quota_exceeded":
		return outcomeQuota, latency
	case "booking_in_progress":
		return outcomeInProgress, latency
	default:
		return outcomeError, latency
	}
}

func percentile(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := len(sorted) * p / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func (s *Simulator) PrintReport() {
	r := s.report
	r.mu.Lock()
	defer r.mu.Unlock()

	latencies := slices.Clone(r.latencies)
	slices.Sort(latencies)

	total := len(latencies)
	fmt.Println("\n" + strings.Repeat("=", 60))
	fmt.Println("SLOT CONTENTION REPORT")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("Rounds: %d  Contenders per slot: %d  Requests: %d\n\n", s.cfg.Rounds, s.cfg.Contenders, total)

	for o := outcomeCreated; o <= outcomeError; o++ {
		n := r.counts[o]
		if n == 0 {
			continue
		}
		fmt.Printf("  %-22s %6d (%.1f%%)\n", outcomeNames[o], n, float64(n)/float64(total)*100)
	}

	if total > 0 {
		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		fmt.Printf("\nLatency: avg=%s p50=%s p95=%s max=%s\n",
			(sum / time.Duration(total)).Round(time.Millisecond),
			percentile(latencies, 50).Round(time.Millisecond),
			percentile(latencies, 95).Round(time.Millisecond),
			latencies[total-1].Round(time.Millisecond))
	}

	if r.doubleBooked > 0 {
		fmt.Printf("\nDOUBLE BOOKINGS: %d slot(s) had more than one winner\n", r.doubleBooked)
	} else {
		fmt.Println("\nNo slot was booked more than once.")
	}
}
