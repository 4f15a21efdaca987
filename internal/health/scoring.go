package health

import (
	"math"
	"time"

	"github.com/stockpulse/backend/internal/storage/models"
)

// Sub-score weights. They sum to 1.0.
const (
	WeightStockLevel = 0.30
	WeightTurnover   = 0.25
	WeightAging      = 0.20
	WeightBackorder  = 0.15
	WeightSupplier   = 0.10
)

// Fallback values used when a sub-score has no data or its query failed.
const (
	DefaultStockLevel = 50
	DefaultTurnover   = 50
	DefaultAging      = 50
	DefaultBackorder  = 100
	DefaultSupplier   = 75
)

const (
	adequacyMultiplier   = 1.5
	turnoverBandLow      = 6.0
	turnoverBandHigh     = 8.0
	turnoverZeroAt       = 16.0
	agingThreshold       = 90 * 24 * time.Hour
	backorderSensitivity = 5.0
	turnoverWindow       = 90 * 24 * time.Hour
	backorderWindow      = 30 * 24 * time.Hour
	supplierWindow       = 90 * 24 * time.Hour
	quartersPerYear      = 4.0
)

const (
	RatingExcellent = "excellent"
	RatingGood      = "good"
	RatingFair      = "fair"
	RatingPoor      = "poor"
	RatingCritical  = "critical"
)

type Breakdown struct {
	StockLevel int `json:"stock_level"`
	Turnover   int `json:"turnover"`
	Aging      int `json:"aging"`
	Backorder  int `json:"backorder"`
	Supplier   int `json:"supplier"`
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func percent(part, total int) float64 {
	return float64(part) / float64(total) * 100
}

// Composite is round(Σ weight·subscore).
func Composite(b Breakdown) int {
	sum := WeightStockLevel*float64(clamp(b.StockLevel)) +
		WeightTurnover*float64(clamp(b.Turnover)) +
		WeightAging*float64(clamp(b.Aging)) +
		WeightBackorder*float64(clamp(b.Backorder)) +
		WeightSupplier*float64(clamp(b.Supplier))
	return clamp(int(math.Round(sum)))
}

func Rating(score int) string {
	switch {
	case score >= 90:
		return RatingExcellent
	case score >= 75:
		return RatingGood
	case score >= 60:
		return RatingFair
	case score >= 40:
		return RatingPoor
	default:
		return RatingCritical
	}
}

// ChangePercent is rounded to one decimal. A zero previous score reports no
// change.
func ChangePercent(current, previous int) float64 {
	if previous == 0 {
		return 0
	}
	change := float64(current-previous) / float64(previous) * 100
	return math.Round(change*10) / 10
}

// StockLevelScore is the share of products holding at least 1.5x their
// reorder point without a shortage status.
func StockLevelScore(products []models.Product) int {
	if len(products) == 0 {
		return DefaultStockLevel
	}

	adequate := 0
	for _, p := range products {
		if p.AvailableQty >= adequacyMultiplier*p.ReorderPoint && !p.Status.IsShortage() {
			adequate++
		}
	}
	return clamp(int(math.Round(percent(adequate, len(products)))))
}

// InventoryValue is Σ available quantity × cost price.
func InventoryValue(products []models.Product) float64 {
	var value float64
	for _, p := range products {
		if p.AvailableQty > 0 {
			value += p.AvailableQty * p.CostPrice
		}
	}
	return value
}

// AnnualTurnover annualizes one quarter of sales against the inventory value.
func AnnualTurnover(quarterSales, inventoryValue float64) float64 {
	if inventoryValue <= 0 {
		return 0
	}
	return quarterSales / inventoryValue * quartersPerYear
}

// TurnoverScore is 100 inside the [6,8] band, linear to 0 at zero turns and
// linear down to 0 at 16 turns.
func TurnoverScore(quarterSales, inventoryValue float64) int {
	if inventoryValue <= 0 {
		return DefaultTurnover
	}
	if quarterSales <= 0 {
		return 0
	}

	turns := AnnualTurnover(quarterSales, inventoryValue)
	var score float64
	switch {
	case turns < turnoverBandLow:
		score = turns / turnoverBandLow * 100
	case turns <= turnoverBandHigh:
		score = 100
	default:
		score = 100 - (turns-turnoverBandHigh)/(turnoverZeroAt-turnoverBandHigh)*100
	}
	return clamp(int(math.Round(score)))
}

// AgingScore is 100 minus the share of products without a stock movement in
// the last 90 days.
func AgingScore(products []models.Product, now time.Time) int {
	if len(products) == 0 {
		return DefaultAging
	}

	cutoff := now.Add(-agingThreshold)
	stale := 0
	for _, p := range products {
		if p.LastMovementAt == nil || p.LastMovementAt.Before(cutoff) {
			stale++
		}
	}
	return clamp(int(math.Round(100 - percent(stale, len(products)))))
}

// BackorderScore penalizes the percentage of orders in the window that
// produced a backorder, five points per percent.
func BackorderScore(lines []models.SalesOrderLine, backorders []models.Backorder, since time.Time) int {
	orders := map[string]struct{}{}
	for _, l := range lines {
		if !l.OrderedAt.Before(since) {
			orders[l.OrderID] = struct{}{}
		}
	}
	if len(orders) == 0 {
		return DefaultBackorder
	}

	count := 0
	for _, b := range backorders {
		if b.Status != models.BackorderCancelled && !b.CreatedAt.Before(since) {
			count++
		}
	}

	ratio := percent(count, len(orders))
	return clamp(int(math.Round(100 - ratio*backorderSensitivity)))
}

// SupplierScore is the on-time share of completed purchase orders that have
// both an expected delivery date and a receipt.
func SupplierScore(orders []models.PurchaseOrder) int {
	qualifying, onTime := 0, 0
	for _, po := range orders {
		if po.Status != models.PurchaseOrderCompleted || po.ExpectedDeliveryDate == nil || po.FirstReceiptAt == nil {
			continue
		}
		qualifying++
		if !models.Day(*po.FirstReceiptAt).After(models.Day(*po.ExpectedDeliveryDate)) {
			onTime++
		}
	}
	if qualifying == 0 {
		return DefaultSupplier
	}
	return clamp(int(math.Round(percent(onTime, qualifying))))
}
