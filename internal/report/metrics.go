package report

import (
	"context"
	"fmt"
	"time"

	"github.com/stockpulse/backend/internal/storage/models"
)

// Daily metric point names.
const (
	MetricCapitalTiedUp  = "capital_tied_up"
	MetricRevenueAtRisk  = "revenue_at_risk"
	MetricTurnoverRate   = "turnover_rate"
	MetricDeadStockValue = "dead_stock_value"
	MetricDeadStockItems = "dead_stock_items"
)

// MetricPointStore keeps one value per (scope, day, metric).
type MetricPointStore interface {
	RecordMetricPoint(ctx context.Context, scope models.Scope, day time.Time, name string, value float64) error
	GetMetricPoints(ctx context.Context, scope models.Scope, name string, from, to time.Time) ([]models.MetricPoint, error)
}

type metricValue struct {
	name  string
	value float64
	// known is false when the value came from a failed sub-task and must not
	// enter the history.
	known  bool
	target *models.Metric
}

// alertFigures derives the alert-backed metrics from the active alert set.
func alertFigures(active []models.Alert) (revenueAtRisk, deadStockValue, deadStockItems float64) {
	for _, a := range active {
		switch a.Type {
		case models.AlertStockoutPredicted, models.AlertHighValueBackorder:
			if a.FinancialImpact > 0 {
				revenueAtRisk += a.FinancialImpact
			}
		case models.AlertDeadStock:
			deadStockValue += -a.FinancialImpact
			deadStockItems += float64(len(a.AffectedEntityIDs))
		}
	}
	return revenueAtRisk, deadStockValue, deadStockItems
}

// buildMetrics records today's values and attaches the last sparklineDays of
// history to each metric.
func (e *Engine) buildMetrics(ctx context.Context, scope models.Scope, today time.Time, values []metricValue) error {
	for _, v := range values {
		v.target.Value = v.value
		if !v.known {
			continue
		}
		if err := e.points.RecordMetricPoint(ctx, scope, today, v.name, v.value); err != nil {
			return fmt.Errorf("failed to record %s: %w", v.name, err)
		}
	}

	from := today.AddDate(0, 0, -(e.cfg.SparklineDays - 1))
	for _, v := range values {
		points, err := e.points.GetMetricPoints(ctx, scope, v.name, from, today)
		if err != nil {
			return fmt.Errorf("failed to load %s history: %w", v.name, err)
		}
		if points == nil {
			points = []models.MetricPoint{}
		}
		v.target.Sparkline = points
	}
	return nil
}
