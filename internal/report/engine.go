// Package report is the public entry point of the engine. It runs the score
// calculator and the alert detectors side by side, persists their results,
// and assembles the combined report.
package report

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/stockpulse/backend/internal/alerts"
	"github.com/stockpulse/backend/internal/health"
	"github.com/stockpulse/backend/internal/inventory"
	"github.com/stockpulse/backend/internal/metrics"
	"github.com/stockpulse/backend/internal/storage/models"
	"github.com/stockpulse/backend/pkg/logger"
	"github.com/stockpulse/backend/pkg/utils"
)

const (
	defaultCriticalLimit = 5
	defaultSparklineDays = 7
)

type ScoreCalculator interface {
	Compute(ctx context.Context, scope models.Scope, rng *models.DateRange) (*health.HealthScore, error)
}

// ReportCache stores serialized reports per scope and request variant.
type ReportCache interface {
	GetReport(ctx context.Context, scope models.Scope, variant string, report interface{}) (bool, error)
	SetReport(ctx context.Context, scope models.Scope, variant string, report interface{}, ttl time.Duration) error
	InvalidateScope(ctx context.Context, scope models.Scope) error
}

type Request struct {
	Scope models.Scope
	Range *models.DateRange
	// Limit caps CriticalAlerts. Zero uses the configured default.
	Limit int
	// Fresh skips the report cache.
	Fresh bool
}

type Failure struct {
	Task  string `json:"task"`
	Error string `json:"error"`
}

type Report struct {
	ID             string               `json:"id"`
	Scope          models.Scope         `json:"scope"`
	GeneratedAt    time.Time            `json:"generated_at"`
	HealthScore    *health.HealthScore  `json:"health_score"`
	CriticalAlerts []models.Alert       `json:"critical_alerts"`
	Alerts         []models.Alert       `json:"alerts"`
	Metrics        models.MetricsBundle `json:"metrics"`
	Partial        bool                 `json:"partial"`
	Failures       []Failure            `json:"failures,omitempty"`
	Cached         bool                 `json:"cached"`
}

type Config struct {
	CriticalAlertLimit int
	CacheTTL           time.Duration
	SubtaskTimeout     time.Duration
	SparklineDays      int
	Now                func() time.Time
	TracerProvider     trace.TracerProvider
}

type Engine struct {
	calculator ScoreCalculator
	detectors  []alerts.Detector
	alerts     *alerts.Repository
	points     MetricPointStore
	cache      ReportCache
	cfg        Config
	tracer     trace.Tracer
}

// NewEngine wires the engine. cache may be nil.
func NewEngine(calculator ScoreCalculator, detectors []alerts.Detector, repo *alerts.Repository, points MetricPointStore, cache ReportCache, cfg Config) *Engine {
	if cfg.CriticalAlertLimit <= 0 {
		cfg.CriticalAlertLimit = defaultCriticalLimit
	}
	if cfg.SparklineDays <= 0 {
		cfg.SparklineDays = defaultSparklineDays
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = otel.GetTracerProvider()
	}
	return &Engine{
		calculator: calculator,
		detectors:  detectors,
		alerts:     repo,
		points:     points,
		cache:      cache,
		cfg:        cfg,
		tracer:     cfg.TracerProvider.Tracer("stockpulse/report"),
	}
}

type detectorResult struct {
	candidates []models.Alert
	err        error
}

// GenerateReport computes the health score and runs every detector
// concurrently. Detector failures and sub-score fallbacks make the report
// partial. Persistence failures abort it.
func (e *Engine) GenerateReport(ctx context.Context, req Request) (*Report, error) {
	ctx, span := e.tracer.Start(ctx, "report.generate", trace.WithAttributes(
		attribute.String("tenant_id", req.Scope.TenantID),
		attribute.String("agency_id", req.Scope.AgencyID),
		attribute.String("site_id", req.Scope.SiteID),
		attribute.Bool("fresh", req.Fresh),
	))
	start := time.Now()
	status := "error"
	defer func() {
		metrics.ReportDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
		span.SetAttributes(attribute.String("status", status))
		if status == "error" {
			span.SetStatus(codes.Error, "report generation failed")
		}
		span.End()
	}()

	if err := req.Scope.Validate(); err != nil {
		return nil, err
	}
	if req.Range != nil {
		if err := req.Range.Validate(); err != nil {
			return nil, err
		}
	}
	log := logger.With(
		zap.String("tenant_id", req.Scope.TenantID),
		zap.String("agency_id", req.Scope.AgencyID),
		zap.String("site_id", req.Scope.SiteID),
	)

	limit := req.Limit
	if limit <= 0 {
		limit = e.cfg.CriticalAlertLimit
	}

	variant := cacheVariant(models.Day(e.cfg.Now()), req.Range, limit)
	if e.cache != nil && !req.Fresh {
		var cached Report
		hit, err := e.cache.GetReport(ctx, req.Scope, variant, &cached)
		if err != nil {
			log.Warn("Report cache read failed", zap.Error(err))
		}
		if hit {
			metrics.CacheHits.WithLabelValues("report").Inc()
			cached.Cached = true
			status = "cached"
			return &cached, nil
		}
		metrics.CacheMisses.WithLabelValues("report").Inc()
	}

	// Sub-scores and detectors read overlapping data; share it for this report.
	ctx = inventory.WithSharedReads(ctx)

	var (
		wg       sync.WaitGroup
		score    *health.HealthScore
		scoreErr error
		results  = make([]detectorResult, len(e.detectors))
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				scoreErr = fmt.Errorf("score calculator panicked: %v", r)
			}
		}()
		score, scoreErr = e.calculator.Compute(ctx, req.Scope, req.Range)
	}()

	for i, d := range e.detectors {
		wg.Add(1)
		go func(i int, d alerts.Detector) {
			defer wg.Done()
			results[i] = e.runDetector(ctx, d, req.Scope)
		}(i, d)
	}
	wg.Wait()

	if scoreErr != nil {
		log.Error("Health score failed", zap.Error(scoreErr))
		return nil, fmt.Errorf("failed to compute health score: %w", scoreErr)
	}

	var failures []Failure
	for _, name := range score.Degraded {
		failures = append(failures, Failure{Task: "score_" + name, Error: "sub-score fell back to its default"})
	}

	var candidates []models.Alert
	for i, r := range results {
		if r.err != nil {
			failures = append(failures, Failure{Task: "detector_" + e.detectors[i].Name(), Error: r.err.Error()})
			continue
		}
		for _, c := range r.candidates {
			metrics.AlertsDetected.WithLabelValues(string(c.Type), string(c.Severity)).Inc()
		}
		candidates = append(candidates, r.candidates...)
	}

	persisted, err := e.alerts.Persist(ctx, candidates)
	if err != nil {
		log.Error("Failed to persist alerts", zap.Error(err))
		return nil, err
	}

	active, err := e.alerts.GetActive(ctx, req.Scope, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load active alerts: %w", err)
	}
	if active == nil {
		active = []models.Alert{}
	}

	now := e.cfg.Now()
	rep := &Report{
		ID:             uuid.New().String(),
		Scope:          req.Scope,
		GeneratedAt:    now,
		HealthScore:    score,
		CriticalAlerts: alerts.Top(active, limit),
		Alerts:         active,
		Partial:        len(failures) > 0,
		Failures:       failures,
	}

	revenueAtRisk, deadValue, deadItems := alertFigures(active)
	turnoverKnown := !degraded(score, "turnover")
	err = e.buildMetrics(ctx, req.Scope, models.Day(now), []metricValue{
		{MetricCapitalTiedUp, score.InventoryValue, turnoverKnown, &rep.Metrics.CapitalTiedUp},
		{MetricRevenueAtRisk, revenueAtRisk, true, &rep.Metrics.RevenueAtRisk},
		{MetricTurnoverRate, score.TurnoverRate, turnoverKnown, &rep.Metrics.TurnoverRate},
		{MetricDeadStockValue, deadValue, true, &rep.Metrics.DeadStockValue},
		{MetricDeadStockItems, deadItems, true, &rep.Metrics.DeadStockItems},
	})
	if err != nil {
		return nil, err
	}

	// Partial reports are not cached so the next request retries the failed tasks.
	if e.cache != nil && !rep.Partial {
		if err := e.cache.SetReport(ctx, req.Scope, variant, rep, e.cfg.CacheTTL); err != nil {
			log.Warn("Report cache write failed", zap.Error(err))
		}
	}

	status = "ok"
	if rep.Partial {
		status = "partial"
	}

	log.Info("Report generated",
		zap.String("report_id", rep.ID),
		zap.Int("health_score", score.Current),
		zap.Int("active_alerts", len(active)),
		zap.Int("new_alerts", len(persisted)),
		zap.Bool("partial", rep.Partial),
		zap.Duration("duration", time.Since(start)),
	)

	return rep, nil
}

func (e *Engine) runDetector(ctx context.Context, d alerts.Detector, scope models.Scope) (res detectorResult) {
	task := "detector_" + d.Name()
	if e.cfg.SubtaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.SubtaskTimeout)
		defer cancel()
	}

	ctx, span := e.tracer.Start(ctx, "report.detector", trace.WithAttributes(attribute.String("detector", d.Name())))
	start := time.Now()
	defer func() {
		metrics.SubtaskDuration.WithLabelValues(task).Observe(time.Since(start).Seconds())
		if r := recover(); r != nil {
			res = detectorResult{err: fmt.Errorf("detector %s panicked: %v", d.Name(), r)}
		}
		span.SetAttributes(attribute.Int("candidates", len(res.candidates)))
		if res.err != nil {
			span.RecordError(res.err)
			span.SetStatus(codes.Error, "detector failed")
		}
		span.End()
		if res.err != nil {
			metrics.SubtaskFailures.WithLabelValues(task).Inc()
			logger.Warn("Detector failed",
				zap.String("tenant_id", scope.TenantID),
				zap.String("detector", d.Name()),
				zap.Error(res.err),
			)
		}
	}()

	candidates, err := d.Detect(ctx, scope)
	return detectorResult{candidates: candidates, err: err}
}

// ActiveAlerts returns the scope's active alerts ranked by priority.
func (e *Engine) ActiveAlerts(ctx context.Context, scope models.Scope, limit int) ([]models.Alert, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	active, err := e.alerts.GetActive(ctx, scope, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load active alerts: %w", err)
	}
	return alerts.Top(active, limit), nil
}

// DismissAlert dismisses an active alert and drops the cached reports of its
// scope.
func (e *Engine) DismissAlert(ctx context.Context, id, reason string) (*models.Alert, error) {
	a, err := e.alerts.Dismiss(ctx, id, reason)
	if err != nil {
		return nil, err
	}

	if e.cache != nil {
		if err := e.cache.InvalidateScope(ctx, a.Scope); err != nil {
			logger.Warn("Report cache invalidation failed", zap.String("alert_id", id), zap.Error(err))
		}
	}

	return a, nil
}

// cacheVariant includes the current day so the first report of a day always
// computes and stores that day's snapshot.
func cacheVariant(day time.Time, rng *models.DateRange, limit int) string {
	from, to := "", ""
	if rng != nil {
		from = rng.From.Format(models.DayLayout)
		to = rng.To.Format(models.DayLayout)
	}
	return utils.HashParts(day.Format(models.DayLayout), from, to, fmt.Sprint(limit))
}

func degraded(score *health.HealthScore, name string) bool {
	for _, d := range score.Degraded {
		if d == name {
			return true
		}
	}
	return false
}
