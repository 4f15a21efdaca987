package models

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidScope = errors.New("invalid scope")
	ErrInvalidRange = errors.New("invalid date range")
)

// Scope is the aggregation boundary. Each distinct (tenant, agency, site)
// tuple owns its own score history and alert set.
type Scope struct {
	TenantID string `json:"tenant_id"`
	AgencyID string `json:"agency_id,omitempty"`
	SiteID   string `json:"site_id,omitempty"`
}

func (s Scope) Validate() error {
	if s.TenantID == "" {
		return fmt.Errorf("%w: tenant_id is required", ErrInvalidScope)
	}
	if s.SiteID != "" && s.AgencyID == "" {
		return fmt.Errorf("%w: site_id requires agency_id", ErrInvalidScope)
	}
	return nil
}

// Key is a stable string form of the scope used in cache and natural keys.
func (s Scope) Key() string {
	return s.TenantID + "|" + s.AgencyID + "|" + s.SiteID
}

type DateRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func (r DateRange) Validate() error {
	if r.From.IsZero() || r.To.IsZero() {
		return fmt.Errorf("%w: from and to are required", ErrInvalidRange)
	}
	if r.From.After(r.To) {
		return fmt.Errorf("%w: from is after to", ErrInvalidRange)
	}
	return nil
}

func (r DateRange) Days() int {
	return int(r.To.Sub(r.From).Hours()/24) + 1
}

// Day truncates t to its UTC calendar day.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

const DayLayout = "2006-01-02"

type StockStatus string

const (
	StockInStock      StockStatus = "in_stock"
	StockLow          StockStatus = "low_stock"
	StockOut          StockStatus = "out_of_stock"
	StockDiscontinued StockStatus = "discontinued"
)

func (s StockStatus) IsShortage() bool {
	return s == StockLow || s == StockOut
}

type Product struct {
	ID               string
	SKU              string
	Name             string
	SiteID           string
	AvailableQty     float64
	ReorderPoint     float64
	Status           StockStatus
	CostPrice        float64
	SellingPrice     float64
	SupplierID       string
	LastMovementAt   *time.Time
	LastAdjustmentAt *time.Time
}

type SalesOrderLine struct {
	OrderID   string
	ProductID string
	Quantity  float64
	Amount    float64
	OrderedAt time.Time
}

type PurchaseOrder struct {
	ID                   string
	SupplierID           string
	Status               string
	ExpectedDeliveryDate *time.Time
	FirstReceiptAt       *time.Time
	CreatedAt            time.Time
}

const PurchaseOrderCompleted = "completed"

type BackorderStatus string

const (
	BackorderOpen      BackorderStatus = "open"
	BackorderPartial   BackorderStatus = "partial"
	BackorderFulfilled BackorderStatus = "fulfilled"
	BackorderCancelled BackorderStatus = "cancelled"
)

type Backorder struct {
	ID           string
	Status       BackorderStatus
	CustomerName string
	CreatedAt    time.Time
	Lines        []BackorderLine
}

type BackorderLine struct {
	ProductID string
	Quantity  float64
	Amount    float64
}

func (b Backorder) Total() float64 {
	var total float64
	for _, l := range b.Lines {
		total += l.Amount
	}
	return total
}

// SiteStock is one product row at one site of an agency. Rows sharing a SKU
// are the same product held at different sites.
type SiteStock struct {
	SiteID       string
	SiteName     string
	SKU          string
	ProductID    string
	ProductName  string
	AvailableQty float64
	SellingPrice float64
}

type HealthSnapshot struct {
	Scope      Scope
	Day        time.Time
	StockLevel int
	Turnover   int
	Aging      int
	Backorder  int
	Supplier   int
	Overall    int
	Rating     string
	UpdatedAt  time.Time
}

type AlertType string

const (
	AlertStockoutPredicted  AlertType = "StockoutPredicted"
	AlertDeadStock          AlertType = "DeadStockAlert"
	AlertStockImbalance     AlertType = "StockImbalance"
	AlertHighValueBackorder AlertType = "HighValueBackorder"
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

type AlertStatus string

const (
	AlertActive    AlertStatus = "active"
	AlertDismissed AlertStatus = "dismissed"
	AlertExpired   AlertStatus = "expired"
)

// QuickAction describes a command the caller may run. The engine never
// executes it.
type QuickAction struct {
	Label   string                 `json:"label"`
	Command string                 `json:"command"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

type Alert struct {
	ID                string       `json:"id"`
	Key               string       `json:"key"`
	Scope             Scope        `json:"scope"`
	Type              AlertType    `json:"type"`
	Severity          Severity     `json:"severity"`
	Title             string       `json:"title"`
	Description       string       `json:"description"`
	FinancialImpact   float64      `json:"financial_impact"`
	AffectedEntityIDs []string     `json:"affected_entity_ids"`
	SuggestedAction   string       `json:"suggested_action"`
	QuickAction       *QuickAction `json:"quick_action,omitempty"`
	DaysUntilCritical *int         `json:"days_until_critical,omitempty"`
	Confidence        *float64     `json:"confidence,omitempty"`
	Status            AlertStatus  `json:"status"`
	CreatedAt         time.Time    `json:"created_at"`
	ExpiresAt         *time.Time   `json:"expires_at,omitempty"`
	DismissedAt       *time.Time   `json:"dismissed_at,omitempty"`
	DismissReason     string       `json:"dismiss_reason,omitempty"`
}

func (a *Alert) IsExpired(now time.Time) bool {
	return a.ExpiresAt != nil && !a.ExpiresAt.After(now)
}

type MetricPoint struct {
	Day   time.Time `json:"day"`
	Value float64   `json:"value"`
}

type Metric struct {
	Value     float64       `json:"value"`
	Sparkline []MetricPoint `json:"sparkline"`
}

type MetricsBundle struct {
	CapitalTiedUp  Metric `json:"capital_tied_up"`
	RevenueAtRisk  Metric `json:"revenue_at_risk"`
	TurnoverRate   Metric `json:"turnover_rate"`
	DeadStockValue Metric `json:"dead_stock_value"`
	DeadStockItems Metric `json:"dead_stock_items"`
}
