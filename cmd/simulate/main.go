package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointment-scheduling/internal/logging"
)

type SimConfig struct {
	APIBaseURL   string
	Contenders   int
	Duration     time.Duration
	Workers      int
	BookingRatio float64
	ConfirmRatio float64
	CancelRatio  float64
	ReadRatio    float64
	Patients     int
}

type patient struct {
	ID    string
	Email string
}

// DataPool tracks the bookings created during the run so confirm, cancel and
// read operations have something to work on.
type DataPool struct {
	Patients []patient
	Dates    []string
	Labels   []string

	mu       sync.RWMutex
	bookings map[string]string // booking id -> patient id
	ids      []string
}

func (dp *DataPool) AddBooking(bookingID, patientID string) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.bookings[bookingID] = patientID
	dp.ids = append(dp.ids, bookingID)
}

func (dp *DataPool) RandomBooking(rng *rand.Rand) (bookingID, patientID string, ok bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.ids) == 0 {
		return "", "", false
	}
	id := dp.ids[rng.Intn(len(dp.ids))]
	return id, dp.bookings[id], true
}

type OperationMetrics struct {
	Total       int64
	Success     int64
	Conflict    int64
	RateLimited int64
	Error       int64
	Latencies   []time.Duration
	mu          sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, status int) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case status >= 200 && status < 300:
		atomic.AddInt64(&om.Success, 1)
	case status == http.StatusConflict:
		atomic.AddInt64(&om.Conflict, 1)
	case status == http.StatusTooManyRequests:
		atomic.AddInt64(&om.RateLimited, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, lo, hi, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	pick := func(pct int) time.Duration {
		idx := len(latencies) * pct / 100
		if idx >= len(latencies) {
			idx = len(latencies) - 1
		}
		return latencies[idx]
	}

	return sum / time.Duration(len(latencies)), latencies[0], latencies[len(latencies)-1], pick(50), pick(95)
}

type Metrics struct {
	Contention   OperationMetrics
	Booking      OperationMetrics
	Confirm      OperationMetrics
	Cancel       OperationMetrics
	Availability OperationMetrics
	ReadByID     OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	log     zerolog.Logger
	metrics Metrics

	capacity int
}

func main() {
	log := logging.New(getEnv("APP_ENV", "dev"), getEnv("LOG_LEVEL", "info"))

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	log.Info().
		Str("api", cfg.APIBaseURL).
		Int("contenders", cfg.Contenders).
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Msg("simulator starting")

	sim := &Simulator{
		config: cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	pool, err := sim.loadDataPool(ctx)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("load data pool")
	}
	sim.pool = pool

	log.Info().
		Int("patients", len(pool.Patients)).
		Int("dates", len(pool.Dates)).
		Int("slots", len(pool.Labels)).
		Int("capacity", sim.capacity).
		Msg("loaded clinic calendar")

	overbooked := sim.RunContention()
	sim.Run()
	sim.PrintReport()

	if overbooked {
		os.Exit(1)
	}
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:   strings.TrimRight(getEnv("SIM_API_BASE_URL", "http://localhost:8080"), "/"),
		Contenders:   getInt("SIM_CONTENDERS", 50),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		BookingRatio: getFloat("SIM_BOOKING_RATIO", 0.4),
		ConfirmRatio: getFloat("SIM_CONFIRM_RATIO", 0.15),
		CancelRatio:  getFloat("SIM_CANCEL_RATIO", 0.1),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.35),
		Patients:     getInt("SIM_PATIENTS", 500),
	}

	total := cfg.BookingRatio + cfg.ConfirmRatio + cfg.CancelRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.ConfirmRatio /= total
		cfg.CancelRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Contenders < 0 {
		return fmt.Errorf("SIM_CONTENDERS must be >= 0")
	}
	if cfg.Duration < 0 {
		return fmt.Errorf("SIM_DURATION must be >= 0")
	}
	if cfg.Patients <= 0 {
		return fmt.Errorf("SIM_PATIENTS must be > 0")
	}
	return nil
}

// loadDataPool reads the bookable calendar from the API and invents patients.
func (s *Simulator) loadDataPool(ctx context.Context) (*DataPool, error) {
	var dates struct {
		Dates []struct {
			Date string `json:"date"`
		} `json:"dates"`
	}
	if err := s.getJSON(ctx, "/dates?days=14", &dates); err != nil {
		return nil, fmt.Errorf("load dates: %w", err)
	}

	var slots struct {
		Slots []struct {
			Label string `json:"label"`
		} `json:"slots"`
	}
	if err := s.getJSON(ctx, "/slots", &slots); err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}

	pool := &DataPool{bookings: make(map[string]string)}
	// Skip today; its slots may already have started.
	for i, d := range dates.Dates {
		if i == 0 && len(dates.Dates) > 1 {
			continue
		}
		pool.Dates = append(pool.Dates, d.Date)
	}
	for _, sl := range slots.Slots {
		pool.Labels = append(pool.Labels, sl.Label)
	}
	for i := 0; i < s.config.Patients; i++ {
		pool.Patients = append(pool.Patients, patient{ID: uuid.NewString(), Email: gofakeit.Email()})
	}

	if len(pool.Dates) == 0 {
		return nil, fmt.Errorf("no bookable dates")
	}
	if len(pool.Labels) == 0 {
		return nil, fmt.Errorf("no slots")
	}

	var avail struct {
		Capacity int `json:"capacity"`
	}
	if err := s.getJSON(ctx, "/availability?date="+pool.Dates[0], &avail); err != nil {
		return nil, fmt.Errorf("load capacity: %w", err)
	}
	s.capacity = avail.Capacity

	return pool, nil
}

// RunContention fires SIM_CONTENDERS bookings at the last slot of the last
// date at the same instant and reports true when more than capacity succeed.
func (s *Simulator) RunContention() bool {
	n := s.config.Contenders
	if n == 0 {
		return false
	}

	date := s.pool.Dates[len(s.pool.Dates)-1]
	label := s.pool.Labels[len(s.pool.Labels)-1]
	ctx := context.Background()

	before, err := s.bookedCount(ctx, date, label)
	if err != nil {
		s.log.Error().Err(err).Msg("read availability before contention")
		return false
	}

	s.log.Info().Str("date", date).Str("time", label).Int("contenders", n).Int("already_booked", before).Msg("starting contention run")

	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := s.pool.Patients[i%len(s.pool.Patients)]
			<-start
			bookingID, status, latency := s.book(ctx, p, date, label)
			s.metrics.Contention.Record(latency, status)
			if bookingID != "" {
				s.pool.AddBooking(bookingID, p.ID)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	after, err := s.bookedCount(ctx, date, label)
	if err != nil {
		s.log.Error().Err(err).Msg("read availability after contention")
		return false
	}

	won := atomic.LoadInt64(&s.metrics.Contention.Success)
	expected := min(n, max(s.capacity-before, 0))
	overbooked := after > s.capacity || int(won) > expected

	ev := s.log.Info()
	if overbooked {
		ev = s.log.Error()
	}
	ev.Int64("accepted", won).
		Int("expected", expected).
		Int("booked_after", after).
		Int("capacity", s.capacity).
		Bool("overbooked", overbooked).
		Msg("contention run complete")

	return overbooked
}

func (s *Simulator) Run() {
	if s.config.Duration == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.log.Info().Dur("duration", s.config.Duration).Int("workers", s.config.Workers).Msg("starting mixed load")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.log.Info().Msg("mixed load complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		r := rng.Float64()
		switch {
		case r < s.config.BookingRatio:
			s.doBooking(ctx, rng)
		case r < s.config.BookingRatio+s.config.ConfirmRatio:
			s.doConfirm(ctx, rng)
		case r < s.config.BookingRatio+s.config.ConfirmRatio+s.config.CancelRatio:
			s.doCancel(ctx, rng)
		default:
			if rng.Intn(2) == 0 {
				s.doAvailability(ctx, rng)
			} else {
				s.doReadByID(ctx, rng)
			}
		}
	}
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	p := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
	date := s.pool.Dates[rng.Intn(len(s.pool.Dates))]
	label := s.pool.Labels[rng.Intn(len(s.pool.Labels))]

	bookingID, status, latency := s.book(ctx, p, date, label)
	if ctx.Err() != nil {
		return
	}
	s.metrics.Booking.Record(latency, status)
	if bookingID != "" {
		s.pool.AddBooking(bookingID, p.ID)
	}
}

func (s *Simulator) doConfirm(ctx context.Context, rng *rand.Rand) {
	bookingID, _, ok := s.pool.RandomBooking(rng)
	if !ok {
		return
	}
	body := map[string]string{"doctorId": fmt.Sprintf("dr-sim-%d", rng.Intn(5)+1)}
	status, latency := s.send(ctx, http.MethodPatch, "/appointments/"+bookingID+"/confirm", body, nil)
	if ctx.Err() != nil {
		return
	}
	s.metrics.Confirm.Record(latency, status)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	bookingID, patientID, ok := s.pool.RandomBooking(rng)
	if !ok {
		return
	}
	body := map[string]string{"requesterId": patientID, "role": "patient"}
	status, latency := s.send(ctx, http.MethodPut, "/appointments/"+bookingID+"/cancel", body, nil)
	if ctx.Err() != nil {
		return
	}
	s.metrics.Cancel.Record(latency, status)
}

func (s *Simulator) doAvailability(ctx context.Context, rng *rand.Rand) {
	date := s.pool.Dates[rng.Intn(len(s.pool.Dates))]
	status, latency := s.send(ctx, http.MethodGet, "/availability?date="+date, nil, nil)
	if ctx.Err() != nil {
		return
	}
	s.metrics.Availability.Record(latency, status)
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	bookingID, _, ok := s.pool.RandomBooking(rng)
	if !ok {
		return
	}
	status, latency := s.send(ctx, http.MethodGet, "/appointments/"+bookingID, nil, nil)
	if ctx.Err() != nil {
		return
	}
	s.metrics.ReadByID.Record(latency, status)
}

func (s *Simulator) book(ctx context.Context, p patient, date, label string) (string, int, time.Duration) {
	body := map[string]string{
		"patientId":      p.ID,
		"patientEmail":   p.Email,
		"chiefComplaint": gofakeit.Sentence(6),
		"date":           date,
		"time":           label,
	}
	var resp struct {
		BookingID string `json:"bookingId"`
	}
	status, latency := s.send(ctx, http.MethodPost, "/appointments", body, &resp)
	if status != http.StatusCreated {
		return "", status, latency
	}
	return resp.BookingID, status, latency
}

func (s *Simulator) bookedCount(ctx context.Context, date, label string) (int, error) {
	var avail struct {
		Slots []struct {
			Label       string `json:"label"`
			BookedCount int    `json:"bookedCount"`
		} `json:"slots"`
	}
	if err := s.getJSON(ctx, "/availability?date="+date, &avail); err != nil {
		return 0, err
	}
	for _, sl := range avail.Slots {
		if sl.Label == label {
			return sl.BookedCount, nil
		}
	}
	return 0, fmt.Errorf("slot %q missing from availability", label)
}

// send returns status 0 on transport errors.
func (s *Simulator) send(ctx context.Context, method, path string, body, out any) (int, time.Duration) {
	var reader *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, reader)
	if err != nil {
		return 0, 0
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return 0, latency
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		_ = json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode, latency
}

func (s *Simulator) getJSON(ctx context.Context, path string, out any) error {
	status, _ := s.send(ctx, http.MethodGet, path, nil, out)
	if status != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", path, status)
	}
	return nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Capacity per slot: %d\n", s.capacity)
	fmt.Printf("Contenders: %d\n", s.config.Contenders)
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Single-slot contention", &s.metrics.Contention)
	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Confirm", &s.metrics.Confirm)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Availability", &s.metrics.Availability)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	pct := func(n int64) float64 { return float64(n) / float64(total) * 100 }

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	limited := atomic.LoadInt64(&om.RateLimited)
	failed := atomic.LoadInt64(&om.Error)

	avg, lo, hi, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, pct(success))
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, pct(conflict))
	}
	if limited > 0 {
		fmt.Printf("  Rate limited: %d (%.1f%%)\n", limited, pct(limited))
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, pct(failed))
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), lo.Round(time.Millisecond), hi.Round(time.Millisecond),
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
