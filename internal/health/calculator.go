package health

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/stockpulse/backend/internal/inventory"
	"github.com/stockpulse/backend/internal/metrics"
	"github.com/stockpulse/backend/internal/storage/models"
	"github.com/stockpulse/backend/pkg/logger"
)

const (
	defaultTrendDays = 30
	maxTrendDays     = 90
	comparisonDays   = 30
)

// SnapshotStore persists one snapshot per (scope, day).
type SnapshotStore interface {
	UpsertSnapshot(ctx context.Context, s *models.HealthSnapshot) error
	GetSnapshot(ctx context.Context, scope models.Scope, day time.Time) (*models.HealthSnapshot, error)
	GetLatestSnapshotBefore(ctx context.Context, scope models.Scope, before, notBefore time.Time) (*models.HealthSnapshot, error)
	GetSnapshots(ctx context.Context, scope models.Scope, from, to time.Time) ([]models.HealthSnapshot, error)
}

type TrendPoint struct {
	Day   time.Time `json:"day"`
	Score int       `json:"score"`
}

type HealthScore struct {
	Current        int          `json:"current"`
	ChangePercent  float64      `json:"change_percent"`
	PreviousScore  int          `json:"previous_score"`
	Breakdown      Breakdown    `json:"breakdown"`
	Trend          []TrendPoint `json:"trend"`
	Rating         string       `json:"rating"`
	TurnoverRate   float64      `json:"turnover_rate"`
	InventoryValue float64      `json:"inventory_value"`
	// Degraded names the sub-scores that fell back to their default because
	// their query failed.
	Degraded []string `json:"degraded,omitempty"`
}

type Options struct {
	SubtaskTimeout time.Duration
	Now            func() time.Time
	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider
}

type Calculator struct {
	source         inventory.Repository
	store          SnapshotStore
	subtaskTimeout time.Duration
	now            func() time.Time
	tracer         trace.Tracer
}

func NewCalculator(source inventory.Repository, store SnapshotStore, opts Options) *Calculator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.TracerProvider == nil {
		opts.TracerProvider = otel.GetTracerProvider()
	}
	return &Calculator{
		source:         source,
		store:          store,
		subtaskTimeout: opts.SubtaskTimeout,
		now:            opts.Now,
		tracer:         opts.TracerProvider.Tracer("stockpulse/health"),
	}
}

type subScore struct {
	name     string
	fallback int
	target   *int
	compute  func(ctx context.Context) (int, error)
}

// Compute scores the scope, upserts today's snapshot, and loads the
// comparison point and trend. Sub-score failures fall back to their default;
// only snapshot store errors are returned.
func (c *Calculator) Compute(ctx context.Context, scope models.Scope, rng *models.DateRange) (*HealthScore, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if rng != nil {
		if err := rng.Validate(); err != nil {
			return nil, err
		}
	}

	ctx, span := c.tracer.Start(ctx, "health.compute", trace.WithAttributes(
		attribute.String("tenant_id", scope.TenantID),
		attribute.String("scope", scope.Key()),
	))
	defer span.End()

	now := c.now()
	today := models.Day(now)

	var b Breakdown
	var turnoverRate, inventoryValue float64

	subScores := []subScore{
		{"stock_level", DefaultStockLevel, &b.StockLevel, func(ctx context.Context) (int, error) {
			products, err := c.source.ListActiveProducts(ctx, scope)
			if err != nil {
				return 0, err
			}
			return StockLevelScore(products), nil
		}},
		{"turnover", DefaultTurnover, &b.Turnover, func(ctx context.Context) (int, error) {
			products, err := c.source.ListActiveProducts(ctx, scope)
			if err != nil {
				return 0, err
			}
			lines, err := c.source.ListSalesOrderLines(ctx, scope, now.Add(-turnoverWindow))
			if err != nil {
				return 0, err
			}
			var sales float64
			for _, l := range lines {
				sales += l.Amount
			}
			inventoryValue = InventoryValue(products)
			turnoverRate = AnnualTurnover(sales, inventoryValue)
			return TurnoverScore(sales, inventoryValue), nil
		}},
		{"aging", DefaultAging, &b.Aging, func(ctx context.Context) (int, error) {
			products, err := c.source.ListActiveProducts(ctx, scope)
			if err != nil {
				return 0, err
			}
			return AgingScore(products, now), nil
		}},
		{"backorder", DefaultBackorder, &b.Backorder, func(ctx context.Context) (int, error) {
			since := now.Add(-backorderWindow)
			lines, err := c.source.ListSalesOrderLines(ctx, scope, since)
			if err != nil {
				return 0, err
			}
			backorders, err := c.source.ListBackorders(ctx, scope, since)
			if err != nil {
				return 0, err
			}
			return BackorderScore(lines, backorders, since), nil
		}},
		{"supplier", DefaultSupplier, &b.Supplier, func(ctx context.Context) (int, error) {
			orders, err := c.source.ListPurchaseOrders(ctx, scope, now.Add(-supplierWindow))
			if err != nil {
				return 0, err
			}
			return SupplierScore(orders), nil
		}},
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		degraded []string
	)
	for _, s := range subScores {
		wg.Add(1)
		go func(s subScore) {
			defer wg.Done()
			score, err := c.runSubScore(ctx, s)
			if err != nil {
				logger.Warn("Sub-score fell back to default",
					zap.String("tenant_id", scope.TenantID),
					zap.String("sub_score", s.name),
					zap.Int("fallback", s.fallback),
					zap.Error(err),
				)
				metrics.SubtaskFailures.WithLabelValues("score_" + s.name).Inc()
				mu.Lock()
				degraded = append(degraded, s.name)
				mu.Unlock()
				score = s.fallback
			}
			*s.target = clamp(score)
		}(s)
	}
	wg.Wait()

	overall := Composite(b)
	rating := Rating(overall)
	span.SetAttributes(
		attribute.Int("health_score", overall),
		attribute.StringSlice("degraded", degraded),
	)

	err := c.store.UpsertSnapshot(ctx, &models.HealthSnapshot{
		Scope:      scope,
		Day:        today,
		StockLevel: b.StockLevel,
		Turnover:   b.Turnover,
		Aging:      b.Aging,
		Backorder:  b.Backorder,
		Supplier:   b.Supplier,
		Overall:    overall,
		Rating:     rating,
		UpdatedAt:  now,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "snapshot upsert failed")
		return nil, fmt.Errorf("failed to save health snapshot: %w", err)
	}

	previous, err := c.previousScore(ctx, scope, today, rng, overall)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "comparison lookup failed")
		return nil, err
	}

	trend, err := c.trend(ctx, scope, today, rng)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "trend lookup failed")
		return nil, err
	}

	metrics.HealthScore.WithLabelValues(scope.TenantID).Set(float64(overall))

	return &HealthScore{
		Current:        overall,
		ChangePercent:  ChangePercent(overall, previous),
		PreviousScore:  previous,
		Breakdown:      b,
		Trend:          trend,
		Rating:         rating,
		TurnoverRate:   turnoverRate,
		InventoryValue: inventoryValue,
		Degraded:       degraded,
	}, nil
}

func (c *Calculator) runSubScore(ctx context.Context, s subScore) (score int, err error) {
	if c.subtaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.subtaskTimeout)
		defer cancel()
	}

	ctx, span := c.tracer.Start(ctx, "health.sub_score", trace.WithAttributes(attribute.String("sub_score", s.name)))
	start := time.Now()
	defer func() {
		metrics.SubtaskDuration.WithLabelValues("score_" + s.name).Observe(time.Since(start).Seconds())
		if r := recover(); r != nil {
			err = fmt.Errorf("sub-score %s panicked: %v", s.name, r)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "fell back to default")
		}
		span.End()
	}()

	return s.compute(ctx)
}

// previousScore finds the comparison snapshot: the latest one before the
// range start (within the trend window) when a range is given, otherwise the
// snapshot from 30 days ago. Without one the current score is used.
func (c *Calculator) previousScore(ctx context.Context, scope models.Scope, today time.Time, rng *models.DateRange, current int) (int, error) {
	var snap *models.HealthSnapshot
	var err error

	if rng != nil {
		from := models.Day(rng.From)
		snap, err = c.store.GetLatestSnapshotBefore(ctx, scope, from, from.AddDate(0, 0, -maxTrendDays))
	} else {
		snap, err = c.store.GetSnapshot(ctx, scope, today.AddDate(0, 0, -comparisonDays))
	}

	if errors.Is(err, models.ErrNotFound) {
		return current, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load comparison snapshot: %w", err)
	}
	return snap.Overall, nil
}

// trendWindow returns the inclusive day window for the trend series.
func trendWindow(today time.Time, rng *models.DateRange) (time.Time, time.Time) {
	if rng == nil {
		return today.AddDate(0, 0, -(defaultTrendDays - 1)), today
	}

	from, to := models.Day(rng.From), models.Day(rng.To)
	if earliest := to.AddDate(0, 0, -(maxTrendDays - 1)); from.Before(earliest) {
		from = earliest
	}
	return from, to
}

func (c *Calculator) trend(ctx context.Context, scope models.Scope, today time.Time, rng *models.DateRange) ([]TrendPoint, error) {
	from, to := trendWindow(today, rng)

	snapshots, err := c.store.GetSnapshots(ctx, scope, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to load health trend: %w", err)
	}

	trend := make([]TrendPoint, 0, len(snapshots))
	for _, s := range snapshots {
		trend = append(trend, TrendPoint{Day: s.Day, Score: s.Overall})
	}
	return trend, nil
}
