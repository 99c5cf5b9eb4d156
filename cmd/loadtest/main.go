package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/payrecon/internal/service/verifier"
)

const (
	signatureHeader   = "X-Provider-Signature"
	defaultPriceMinor = int64(1000)
	defaultQty        = int32(1)
)

type loadMode string

const (
	modeCapture       loadMode = "capture"
	modeCaptureRefund loadMode = "capture-refund"
	modeDuplicates    loadMode = "duplicates"
)

type config struct {
	baseURL     string
	secret      string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	timeout     time.Duration
	mode        loadMode
	currency    string
	sku         string
	priceMinor  int64
	customerTag string
	outputPath  string
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type stepReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Statuses  map[string]int64 `json:"statuses"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt         time.Time             `json:"started_at"`
	DurationSeconds   float64               `json:"duration_seconds"`
	TotalScenarios    int64                 `json:"total_scenarios"`
	SuccessScenarios  int64                 `json:"success_scenarios"`
	FailedScenarios   int64                 `json:"failed_scenarios"`
	ErrorRate         float64               `json:"error_rate"`
	RPS               float64               `json:"rps"`
	ScenarioLatencyMs latencySummary        `json:"scenario_latency_ms"`
	Steps             map[string]stepReport `json:"steps"`
}

type stepStats struct {
	calls     int64
	success   int64
	failed    int64
	statuses  map[string]int64
	latencies []float64
}

type collector struct {
	mu    sync.Mutex
	steps map[string]*stepStats
}

func newCollector() *collector {
	return &collector{steps: make(map[string]*stepStats)}
}

func (c *collector) record(step string, latency time.Duration, status int, callErr error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.steps[step]
	if !ok {
		stats = &stepStats{statuses: make(map[string]int64)}
		c.steps[step] = stats
	}

	stats.calls++
	label := fmt.Sprintf("%d", status)
	if callErr != nil {
		label = "transport_error"
	}
	stats.statuses[label]++
	if callErr == nil && status < http.StatusInternalServerError && status != 0 {
		stats.success++
	} else {
		stats.failed++
	}
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000.0)
}

func (c *collector) buildSteps() map[string]stepReport {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := make(map[string]stepReport, len(c.steps))
	for step, stats := range c.steps {
		errorRate := 0.0
		if stats.calls > 0 {
			errorRate = float64(stats.failed) / float64(stats.calls)
		}
		result[step] = stepReport{
			Calls:     stats.calls,
			Success:   stats.success,
			Failed:    stats.failed,
			ErrorRate: errorRate,
			Statuses:  stats.statuses,
			LatencyMs: summarize(stats.latencies),
		}
	}
	return result
}

func summarize(latencies []float64) latencySummary {
	if len(latencies) == 0 {
		return latencySummary{}
	}

	sorted := make([]float64, len(latencies))
	copy(sorted, latencies)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 0.50),
		P95: percentile(sorted, 0.95),
		P99: percentile(sorted, 0.99),
	}
}

func percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(q*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func main() {
	cfg, err := readConfig()
	if err != nil {
		fail("%v", err)
	}

	rep, err := runLoad(context.Background(), cfg)
	if err != nil {
		fail("load test failed: %v", err)
	}

	if err := writeReport(cfg.outputPath, rep); err != nil {
		fail("write report: %v", err)
	}
}

func readConfig() (config, error) {
	var cfg config
	var modeRaw string

	flag.StringVar(&cfg.baseURL, "url", "http://localhost:8080", "base URL of the reconciliation service")
	flag.StringVar(&cfg.secret, "secret", "", "webhook HMAC secret (fallback: RECON_WEBHOOK_SECRET)")
	flag.IntVar(&cfg.total, "total", 100, "total number of scenarios")
	flag.DurationVar(&cfg.duration, "duration", 0, "run for a fixed duration instead of a fixed total")
	flag.IntVar(&cfg.concurrency, "concurrency", 8, "number of concurrent workers")
	flag.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-request timeout")
	flag.StringVar(&modeRaw, "mode", string(modeCapture), "scenario: capture|capture-refund|duplicates")
	flag.StringVar(&cfg.currency, "currency", "USD", "order currency")
	flag.StringVar(&cfg.sku, "sku", "SKU-LOAD", "order item SKU")
	flag.Int64Var(&cfg.priceMinor, "price-minor", defaultPriceMinor, "item price in minor units")
	flag.StringVar(&cfg.customerTag, "customer-tag", "loadtest", "customer id prefix")
	flag.StringVar(&cfg.outputPath, "output", "", "write JSON report to file (default: stdout)")
	flag.Parse()

	cfg.totalSet = cfg.duration <= 0
	cfg.mode = loadMode(strings.ToLower(strings.TrimSpace(modeRaw)))

	if strings.TrimSpace(cfg.secret) == "" {
		cfg.secret = strings.TrimSpace(os.Getenv("RECON_WEBHOOK_SECRET"))
	}
	if cfg.secret == "" {
		return config{}, fmt.Errorf("webhook secret is required (-secret or RECON_WEBHOOK_SECRET)")
	}
	if strings.TrimSpace(cfg.baseURL) == "" {
		return config{}, fmt.Errorf("url is required")
	}
	cfg.baseURL = strings.TrimRight(cfg.baseURL, "/")
	if cfg.totalSet && cfg.total <= 0 {
		return config{}, fmt.Errorf("total must be > 0")
	}
	if cfg.concurrency <= 0 {
		return config{}, fmt.Errorf("concurrency must be > 0")
	}
	if cfg.timeout <= 0 {
		return config{}, fmt.Errorf("timeout must be > 0")
	}
	switch cfg.mode {
	case modeCapture, modeCaptureRefund, modeDuplicates:
	default:
		return config{}, fmt.Errorf("unsupported mode: %s", cfg.mode)
	}

	return cfg, nil
}

type runner struct {
	cfg       config
	client    *http.Client
	signer    *verifier.Verifier
	collector *collector

	scenarios atomic.Int64
	failed    atomic.Int64
	latencies struct {
		mu     sync.Mutex
		values []float64
	}
}

func runLoad(ctx context.Context, cfg config) (report, error) {
	r := &runner{
		cfg:       cfg,
		client:    &http.Client{Timeout: cfg.timeout},
		signer:    verifier.New([]byte(cfg.secret)),
		collector: newCollector(),
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if !cfg.totalSet {
		runCtx, cancel = context.WithTimeout(ctx, cfg.duration)
		defer cancel()
	}

	var next atomic.Int64
	started := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < cfg.concurrency; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for {
				if runCtx.Err() != nil {
					return
				}
				seq := next.Add(1)
				if cfg.totalSet && seq > int64(cfg.total) {
					return
				}
				r.runScenario(runCtx, worker, seq)
			}
		}(i)
	}
	wg.Wait()

	elapsed := time.Since(started)
	total := r.scenarios.Load()
	failed := r.failed.Load()

	errorRate := 0.0
	if total > 0 {
		errorRate = float64(failed) / float64(total)
	}
	rps := 0.0
	if elapsed > 0 {
		rps = float64(total) / elapsed.Seconds()
	}

	r.latencies.mu.Lock()
	scenarioLatency := summarize(r.latencies.values)
	r.latencies.mu.Unlock()

	return report{
		StartedAt:         started.UTC(),
		DurationSeconds:   elapsed.Seconds(),
		TotalScenarios:    total,
		SuccessScenarios:  total - failed,
		FailedScenarios:   failed,
		ErrorRate:         errorRate,
		RPS:               rps,
		ScenarioLatencyMs: scenarioLatency,
		Steps:             r.collector.buildSteps(),
	}, nil
}

func (r *runner) runScenario(ctx context.Context, worker int, seq int64) {
	started := time.Now()
	err := r.executeScenario(ctx, worker, seq)

	r.scenarios.Add(1)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		r.failed.Add(1)
	}

	latency := float64(time.Since(started).Microseconds()) / 1000.0
	r.latencies.mu.Lock()
	r.latencies.values = append(r.latencies.values, latency)
	r.latencies.mu.Unlock()
}

func (r *runner) executeScenario(ctx context.Context, worker int, seq int64) error {
	customerID := fmt.Sprintf("%s-%d", r.cfg.customerTag, worker)

	orderID, err := r.createOrder(ctx, customerID)
	if err != nil {
		return err
	}

	occurred := time.Now().UTC()
	captureID := uuid.NewString()
	if err := r.sendWebhook(ctx, "webhook_captured", webhookEvent{
		ID:         captureID,
		Type:       "payment.captured",
		OrderID:    orderID,
		PaymentRef: fmt.Sprintf("ch_%d", seq),
		Outcome:    "success",
		OccurredAt: occurred,
	}); err != nil {
		return err
	}

	switch r.cfg.mode {
	case modeDuplicates:
		// Повторная доставка того же события: сервис должен ответить replay.
		return r.sendWebhook(ctx, "webhook_duplicate", webhookEvent{
			ID:         captureID,
			Type:       "payment.captured",
			OrderID:    orderID,
			PaymentRef: fmt.Sprintf("ch_%d", seq),
			Outcome:    "success",
			OccurredAt: occurred,
		})
	case modeCaptureRefund:
		return r.sendWebhook(ctx, "webhook_refunded", webhookEvent{
			ID:         uuid.NewString(),
			Type:       "payment.refunded",
			OrderID:    orderID,
			PaymentRef: fmt.Sprintf("re_%d", seq),
			Outcome:    "success",
			OccurredAt: occurred.Add(time.Second),
		})
	default:
		return nil
	}
}

type webhookEvent struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	OrderID    string    `json:"order_id"`
	PaymentRef string    `json:"payment_ref,omitempty"`
	Outcome    string    `json:"outcome"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (r *runner) createOrder(ctx context.Context, customerID string) (string, error) {
	body, err := json.Marshal(map[string]any{
		"customer_id": customerID,
		"currency":    r.cfg.currency,
		"provider":    "loadtest-provider",
		"items": []map[string]any{
			{"sku": r.cfg.sku, "qty": defaultQty, "price_minor": r.cfg.priceMinor},
		},
	})
	if err != nil {
		return "", err
	}

	status, respBody, err := r.post(ctx, "order_create", "/orders", body, "")
	if err != nil {
		return "", err
	}
	if status != http.StatusCreated {
		return "", fmt.Errorf("create order: unexpected status %d", status)
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(respBody, &created); err != nil {
		return "", fmt.Errorf("decode create order response: %w", err)
	}
	if created.ID == "" {
		return "", fmt.Errorf("create order response has no id")
	}
	return created.ID, nil
}

func (r *runner) sendWebhook(ctx context.Context, step string, event webhookEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	status, _, err := r.post(ctx, step, "/webhooks/payment", body, r.signer.Sign(body))
	if err != nil {
		return err
	}
	if status != http.StatusAccepted {
		return fmt.Errorf("%s: unexpected status %d", step, status)
	}
	return nil
}

func (r *runner) post(ctx context.Context, step, path string, body []byte, signature string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(signatureHeader, signature)
	}

	started := time.Now()
	resp, err := r.client.Do(req)
	latency := time.Since(started)
	if err != nil {
		r.collector.record(step, latency, 0, err)
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	r.collector.record(step, latency, resp.StatusCode, nil)
	if readErr != nil {
		return resp.StatusCode, nil, readErr
	}
	return resp.StatusCode, respBody, nil
}

func writeReport(path string, rep report) error {
	encoded, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	encoded = append(encoded, '\n')

	if strings.TrimSpace(path) == "" {
		_, err := os.Stdout.Write(encoded)
		return err
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, encoded, 0o644)
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
