package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/stockpulse/backend/internal/inventory"
	"github.com/stockpulse/backend/internal/storage/models"
)

const (
	deadStockDays          = 90
	deadStockHighThreshold = 10000.0

	// deadStockEntity keys the single dead stock alert a scope can carry.
	deadStockEntity = "scope"
)

// DeadStockDetector aggregates every stocked product with no adjustment and
// no sale in the last 90 days into one alert for the scope.
type DeadStockDetector struct {
	source inventory.Repository
	now    func() time.Time
}

func NewDeadStockDetector(source inventory.Repository, now func() time.Time) *DeadStockDetector {
	return &DeadStockDetector{source: source, now: now}
}

func (d *DeadStockDetector) Name() string { return "dead_stock" }

func (d *DeadStockDetector) Detect(ctx context.Context, scope models.Scope) ([]models.Alert, error) {
	cutoff := d.now().AddDate(0, 0, -deadStockDays)

	products, err := d.source.ListActiveProducts(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}

	lines, err := d.source.ListSalesOrderLines(ctx, scope, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list sales lines: %w", err)
	}

	sold := make(map[string]bool, len(lines))
	for _, l := range lines {
		sold[l.ProductID] = true
	}

	var (
		ids   []string
		value float64
	)
	for _, p := range products {
		if p.AvailableQty <= 0 || sold[p.ID] {
			continue
		}
		if p.LastAdjustmentAt != nil && !p.LastAdjustmentAt.Before(cutoff) {
			continue
		}
		ids = append(ids, p.ID)
		value += p.AvailableQty * p.CostPrice
	}

	if len(ids) == 0 {
		return nil, nil
	}

	a := candidate(scope, models.AlertDeadStock, deadStockEntity)
	a.Severity = models.SeverityMedium
	if value > deadStockHighThreshold {
		a.Severity = models.SeverityHigh
	}
	a.Title = fmt.Sprintf("%d products have not moved in %d days", len(ids), deadStockDays)
	a.Description = fmt.Sprintf("%.2f of capital is tied up in stock with no sales or adjustments since %s.",
		value, cutoff.Format(models.DayLayout))
	a.FinancialImpact = -value
	a.AffectedEntityIDs = ids
	a.SuggestedAction = "Discount, bundle, or return the affected products to free up capital."
	a.QuickAction = &models.QuickAction{
		Label:   "Plan clearance",
		Command: "promotion.create",
		Params: map[string]interface{}{
			"product_ids": ids,
		},
	}

	return []models.Alert{a}, nil
}
