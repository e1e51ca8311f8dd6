package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// SimConfig drives a load run against a live api-server.
type SimConfig struct {
	APIBaseURL   string        `mapstructure:"SIM_API_BASE_URL"`
	Duration     time.Duration `mapstructure:"SIM_DURATION"`
	Workers      int           `mapstructure:"SIM_WORKERS"`
	AssignRatio  float64       `mapstructure:"SIM_ASSIGN_RATIO"`
	ConfirmRatio float64       `mapstructure:"SIM_CONFIRM_RATIO"`
	CancelRatio  float64       `mapstructure:"SIM_CANCEL_RATIO"`
	ReadRatio    float64       `mapstructure:"SIM_READ_RATIO"`
	Token        string        `mapstructure:"SIM_TOKEN"`
}

type openRequest struct {
	ID        uuid.UUID `json:"id"`
	PatientID uuid.UUID `json:"patientId"`
	Date      string    `json:"requestedDate"`
	Slot      string    `json:"requestedSlot"`
}

type directoryEntry struct {
	ID uuid.UUID `json:"id"`
}

// DataPool holds what the workers pick from. Requests leave the pool when
// assigned; appointments join it.
type DataPool struct {
	Units    []uuid.UUID
	Dentists []uuid.UUID
	Dates    []string

	mu           sync.Mutex
	requests     []openRequest
	appointments []uuid.UUID
}

func (dp *DataPool) TakeRequest(rng *rand.Rand) (openRequest, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.requests) == 0 {
		return openRequest{}, false
	}
	idx := rng.Intn(len(dp.requests))
	req := dp.requests[idx]
	dp.requests[idx] = dp.requests[len(dp.requests)-1]
	dp.requests = dp.requests[:len(dp.requests)-1]
	return req, true
}

func (dp *DataPool) ReturnRequest(req openRequest) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.requests = append(dp.requests, req)
}

func (dp *DataPool) AddAppointment(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *DataPool) GetRandomAppointment(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.appointments) == 0 {
		return uuid.Nil, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, status int, err error) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case err == nil && status < 300:
		atomic.AddInt64(&om.Success, 1)
	case err == nil && status == http.StatusConflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
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

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]
	return avg, min, max, p50, p95
}

func percentileIndex(n, pct int) int {
	idx := n * pct / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

type Metrics struct {
	Assign       OperationMetrics
	Confirm      OperationMetrics
	Cancel       OperationMetrics
	Availability OperationMetrics
	Agenda       OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	log.Printf("config: duration=%s workers=%d assign=%.2f confirm=%.2f cancel=%.2f read=%.2f",
		cfg.Duration, cfg.Workers, cfg.AssignRatio, cfg.ConfirmRatio, cfg.CancelRatio, cfg.ReadRatio)

	sim := &Simulator{
		config: cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sim.pool, err = sim.loadDataPool(ctx)
	if err != nil {
		log.Fatalf("load data pool: %v", err)
	}
	log.Printf("loaded: %d units, %d dentists, %d open requests over %d days",
		len(sim.pool.Units), len(sim.pool.Dentists), len(sim.pool.requests), len(sim.pool.Dates))

	sim.Run()
	sim.PrintReport()
}

func loadConfig() (SimConfig, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("SIM_API_BASE_URL", "http://localhost:8080")
	v.SetDefault("SIM_DURATION", 30*time.Second)
	v.SetDefault("SIM_WORKERS", 10)
	v.SetDefault("SIM_ASSIGN_RATIO", 0.5)
	v.SetDefault("SIM_CONFIRM_RATIO", 0.1)
	v.SetDefault("SIM_CANCEL_RATIO", 0.1)
	v.SetDefault("SIM_READ_RATIO", 0.3)
	v.SetDefault("SIM_TOKEN", "")

	var cfg SimConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return SimConfig{}, err
	}

	// Normalize ratios
	total := cfg.AssignRatio + cfg.ConfirmRatio + cfg.CancelRatio + cfg.ReadRatio
	if total > 0 {
		cfg.AssignRatio /= total
		cfg.ConfirmRatio /= total
		cfg.CancelRatio /= total
		cfg.ReadRatio /= total
	}

	if cfg.Workers <= 0 {
		return cfg, fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return cfg, fmt.Errorf("SIM_DURATION must be > 0")
	}
	return cfg, nil
}

func (s *Simulator) loadDataPool(ctx context.Context) (*DataPool, error) {
	dp := &DataPool{}

	var units, dentists []directoryEntry
	if err := s.getJSON(ctx, "/units?active=true", &units); err != nil {
		return nil, fmt.Errorf("load units: %w", err)
	}
	if err := s.getJSON(ctx, "/dentists", &dentists); err != nil {
		return nil, fmt.Errorf("load dentists: %w", err)
	}
	if err := s.getJSON(ctx, "/requests?status=NEW", &dp.requests); err != nil {
		return nil, fmt.Errorf("load requests: %w", err)
	}

	for _, u := range units {
		dp.Units = append(dp.Units, u.ID)
	}
	for _, d := range dentists {
		dp.Dentists = append(dp.Dentists, d.ID)
	}
	seen := make(map[string]bool)
	for _, r := range dp.requests {
		if !seen[r.Date] {
			seen[r.Date] = true
			dp.Dates = append(dp.Dates, r.Date)
		}
	}

	if len(dp.Units) == 0 || len(dp.Dentists) == 0 {
		return nil, fmt.Errorf("no active units or dentists, run seed first")
	}
	if len(dp.requests) == 0 {
		return nil, fmt.Errorf("no open requests, run seed first")
	}
	return dp, nil
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
	c := s.config

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		switch r := rng.Float64(); {
		case r < c.AssignRatio:
			s.doAssign(ctx, rng)
		case r < c.AssignRatio+c.ConfirmRatio:
			s.doTransition(ctx, rng, "confirm", &s.metrics.Confirm)
		case r < c.AssignRatio+c.ConfirmRatio+c.CancelRatio:
			s.doTransition(ctx, rng, "cancel", &s.metrics.Cancel)
		case rng.Intn(2) == 0:
			s.doAvailability(ctx, rng)
		default:
			s.doAgenda(ctx, rng)
		}
	}
}

// doAssign books an open request onto a random unit and dentist. Several
// workers usually aim at the same unit slot, which is the contention the
// server must resolve.
func (s *Simulator) doAssign(ctx context.Context, rng *rand.Rand) {
	req, ok := s.pool.TakeRequest(rng)
	if !ok {
		return
	}

	body := map[string]string{
		"requestId": req.ID.String(),
		"patientId": req.PatientID.String(),
		"dentistId": s.pool.Dentists[rng.Intn(len(s.pool.Dentists))].String(),
		"unitId":    s.pool.Units[rng.Intn(len(s.pool.Units))].String(),
		"date":      req.Date,
		"slot":      req.Slot,
	}

	var out struct {
		AppointmentID uuid.UUID `json:"appointmentId"`
	}
	start := time.Now()
	status, err := s.call(ctx, http.MethodPost, "/assign", body, &out)
	s.metrics.Assign.Record(time.Since(start), status, err)

	if err == nil && status == http.StatusOK && out.AppointmentID != uuid.Nil {
		s.pool.AddAppointment(out.AppointmentID)
		return
	}
	if err == nil && status == http.StatusConflict {
		s.pool.ReturnRequest(req)
	}
}

func (s *Simulator) doTransition(ctx context.Context, rng *rand.Rand, action string, om *OperationMetrics) {
	apptID, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}

	start := time.Now()
	status, err := s.call(ctx, http.MethodPost, fmt.Sprintf("/appointments/%s/%s", apptID, action), nil, nil)
	om.Record(time.Since(start), status, err)
}

func (s *Simulator) doAvailability(ctx context.Context, rng *rand.Rand) {
	q := url.Values{}
	q.Set("date", s.pool.Dates[rng.Intn(len(s.pool.Dates))])
	q.Set("unitId", s.pool.Units[rng.Intn(len(s.pool.Units))].String())

	start := time.Now()
	status, err := s.call(ctx, http.MethodGet, "/availability?"+q.Encode(), nil, nil)
	s.metrics.Availability.Record(time.Since(start), status, err)
}

func (s *Simulator) doAgenda(ctx context.Context, rng *rand.Rand) {
	q := url.Values{}
	q.Set("date", s.pool.Dates[rng.Intn(len(s.pool.Dates))])
	q.Set("dentistId", s.pool.Dentists[rng.Intn(len(s.pool.Dentists))].String())

	start := time.Now()
	status, err := s.call(ctx, http.MethodGet, "/appointments?"+q.Encode(), nil, nil)
	s.metrics.Agenda.Record(time.Since(start), status, err)
}

func (s *Simulator) getJSON(ctx context.Context, path string, out any) error {
	status, err := s.call(ctx, http.MethodGet, path, nil, out)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", path, status)
	}
	return nil
}

// call sends one request and decodes a successful JSON body into out.
func (s *Simulator) call(ctx context.Context, method, path string, in, out any) (int, error) {
	var body bytes.Buffer
	if in != nil {
		if err := json.NewEncoder(&body).Encode(in); err != nil {
			return 0, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, &body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.config.Token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	return resp.StatusCode, nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Assign", &s.metrics.Assign)
	printOperationReport("Confirm", &s.metrics.Confirm)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Availability", &s.metrics.Availability)
	printOperationReport("Agenda", &s.metrics.Agenda)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}
