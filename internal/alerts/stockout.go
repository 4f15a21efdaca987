package alerts

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/stockpulse/backend/internal/inventory"
	"github.com/stockpulse/backend/internal/storage/models"
)

const (
	velocityWindowDays   = 30
	stockoutHorizonDays  = 7
	reorderCoverDays     = 30
	stockoutConfidence   = 0.9
	stockoutCriticalDays = 3
	stockoutHighDays     = 5
)

// StockoutDetector flags products whose 30-day sales velocity exhausts the
// available quantity within a week.
type StockoutDetector struct {
	source inventory.Repository
	now    func() time.Time
}

func NewStockoutDetector(source inventory.Repository, now func() time.Time) *StockoutDetector {
	return &StockoutDetector{source: source, now: now}
}

func (d *StockoutDetector) Name() string { return "stockout" }

func (d *StockoutDetector) Detect(ctx context.Context, scope models.Scope) ([]models.Alert, error) {
	products, err := d.source.ListActiveProducts(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}

	lines, err := d.source.ListSalesOrderLines(ctx, scope, d.now().AddDate(0, 0, -velocityWindowDays))
	if err != nil {
		return nil, fmt.Errorf("failed to list sales lines: %w", err)
	}

	sold := make(map[string]float64)
	for _, l := range lines {
		sold[l.ProductID] += l.Quantity
	}

	var out []models.Alert
	for _, p := range products {
		if p.Status != models.StockInStock && p.Status != models.StockLow {
			continue
		}

		velocity := sold[p.ID] / velocityWindowDays
		if velocity <= 0 {
			continue
		}

		days := int(math.Floor(math.Max(p.AvailableQty, 0) / velocity))
		if days > stockoutHorizonDays {
			continue
		}

		a := candidate(scope, models.AlertStockoutPredicted, p.ID)
		a.Severity = stockoutSeverity(days)
		a.Title = fmt.Sprintf("%s will stock out in %d days", p.Name, days)
		a.Description = fmt.Sprintf("%s (SKU %s) sells %.1f units per day with %.0f units available.",
			p.Name, p.SKU, velocity, p.AvailableQty)
		a.FinancialImpact = p.SellingPrice * velocity * stockoutHorizonDays
		a.AffectedEntityIDs = []string{p.ID}
		a.SuggestedAction = fmt.Sprintf("Reorder about %.0f units to cover %d days of sales.",
			math.Ceil(velocity*reorderCoverDays), reorderCoverDays)
		a.DaysUntilCritical = intPtr(days)
		a.Confidence = floatPtr(stockoutConfidence)

		if p.SupplierID != "" {
			a.QuickAction = &models.QuickAction{
				Label:   "Create purchase order",
				Command: "purchase_order.create",
				Params: map[string]interface{}{
					"product_id":  p.ID,
					"supplier_id": p.SupplierID,
					"quantity":    math.Ceil(velocity * reorderCoverDays),
				},
			}
		}

		out = append(out, a)
	}
	return out, nil
}

func stockoutSeverity(days int) models.Severity {
	switch {
	case days <= stockoutCriticalDays:
		return models.SeverityCritical
	case days <= stockoutHighDays:
		return models.SeverityHigh
	default:
		return models.SeverityMedium
	}
}
