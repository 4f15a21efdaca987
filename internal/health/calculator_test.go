package health

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockpulse/backend/internal/inventory/inventorytest"
	"github.com/stockpulse/backend/internal/storage/models"
	"github.com/stockpulse/backend/internal/storage/sqlite"
)

var testNow = time.Date(2026, 10, 19, 15, 0, 0, 0, time.UTC)

func setupCalculator(t *testing.T) (*Calculator, *inventorytest.Repository, *sqlite.Client) {
	t.Helper()
	store, err := sqlite.NewClient(filepath.Join(t.TempDir(), "health.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.InitSchema())

	source := inventorytest.NewRepository()
	calc := NewCalculator(source, store, Options{
		SubtaskTimeout: time.Second,
		Now:            func() time.Time { return testNow },
	})
	return calc, source, store
}

func TestCompute_EmptyScopeUsesDefaults(t *testing.T) {
	calc, _, _ := setupCalculator(t)
	scope := models.Scope{TenantID: "t1"}

	score, err := calc.Compute(context.Background(), scope, nil)
	require.NoError(t, err)

	assert.Equal(t, 60, score.Current)
	assert.Equal(t, RatingFair, score.Rating)
	assert.Equal(t, Breakdown{StockLevel: 50, Turnover: 50, Aging: 50, Backorder: 100, Supplier: 75}, score.Breakdown)
	assert.Equal(t, 60, score.PreviousScore)
	assert.Equal(t, 0.0, score.ChangePercent)
	assert.Empty(t, score.Degraded)
	require.Len(t, score.Trend, 1)
	assert.Equal(t, models.Day(testNow), score.Trend[0].Day)
}

func TestCompute_IdempotentWithinDay(t *testing.T) {
	calc, _, store := setupCalculator(t)
	scope := models.Scope{TenantID: "t1", AgencyID: "a1"}
	ctx := context.Background()

	first, err := calc.Compute(ctx, scope, nil)
	require.NoError(t, err)
	second, err := calc.Compute(ctx, scope, nil)
	require.NoError(t, err)

	assert.Equal(t, first.Current, second.Current)
	assert.Equal(t, first.Breakdown, second.Breakdown)

	snaps, err := store.GetSnapshots(ctx, scope, models.Day(testNow), models.Day(testNow))
	require.NoError(t, err)
	assert.Len(t, snaps, 1)
}

func TestCompute_ComparesAgainstThirtyDaysAgo(t *testing.T) {
	calc, _, store := setupCalculator(t)
	scope := models.Scope{TenantID: "t1"}
	ctx := context.Background()

	past := models.Day(testNow).AddDate(0, 0, -30)
	require.NoError(t, store.UpsertSnapshot(ctx, &models.HealthSnapshot{
		Scope: scope, Day: past, Overall: 50, Rating: RatingPoor, UpdatedAt: past,
	}))

	score, err := calc.Compute(ctx, scope, nil)
	require.NoError(t, err)

	assert.Equal(t, 50, score.PreviousScore)
	assert.Equal(t, 20.0, score.ChangePercent)
	require.Len(t, score.Trend, 1)
}

func TestCompute_RangeUsesLatestSnapshotBeforeStart(t *testing.T) {
	calc, _, store := setupCalculator(t)
	scope := models.Scope{TenantID: "t1"}
	ctx := context.Background()

	for _, s := range []struct {
		day     time.Time
		overall int
	}{
		{time.Date(2026, 9, 20, 0, 0, 0, 0, time.UTC), 40},
		{time.Date(2026, 9, 28, 0, 0, 0, 0, time.UTC), 48},
		{time.Date(2026, 10, 5, 0, 0, 0, 0, time.UTC), 55},
	} {
		require.NoError(t, store.UpsertSnapshot(ctx, &models.HealthSnapshot{
			Scope: scope, Day: s.day, Overall: s.overall, UpdatedAt: s.day,
		}))
	}

	rng := &models.DateRange{
		From: time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC),
	}
	score, err := calc.Compute(ctx, scope, rng)
	require.NoError(t, err)

	assert.Equal(t, 48, score.PreviousScore)
	require.Len(t, score.Trend, 2)
	assert.Equal(t, 55, score.Trend[0].Score)
	assert.Equal(t, 60, score.Trend[1].Score)
}

func TestCompute_FailedSubScoresFallBack(t *testing.T) {
	calc, source, _ := setupCalculator(t)
	scope := models.Scope{TenantID: "t1"}

	source.AddProducts(scope, models.Product{
		ID: "p-1", AvailableQty: 100, ReorderPoint: 10, Status: models.StockInStock,
		CostPrice: 10, LastMovementAt: timePtr(testNow),
	})
	source.Errs["ListPurchaseOrders"] = errors.New("connection reset")
	source.Panics["ListBackorders"] = true

	score, err := calc.Compute(context.Background(), scope, nil)
	require.NoError(t, err)

	assert.Equal(t, 100, score.Breakdown.StockLevel)
	assert.Equal(t, 100, score.Breakdown.Aging)
	assert.Equal(t, DefaultSupplier, score.Breakdown.Supplier)
	assert.Equal(t, DefaultBackorder, score.Breakdown.Backorder)
	assert.ElementsMatch(t, []string{"supplier", "backorder"}, score.Degraded)
}

func TestCompute_ScoresRealData(t *testing.T) {
	calc, source, _ := setupCalculator(t)
	scope := models.Scope{TenantID: "t1", AgencyID: "a1", SiteID: "s1"}

	source.AddProducts(scope,
		models.Product{ID: "p-1", AvailableQty: 50, ReorderPoint: 10, Status: models.StockInStock, CostPrice: 10, LastMovementAt: timePtr(testNow.AddDate(0, 0, -5))},
		models.Product{ID: "p-2", AvailableQty: 50, ReorderPoint: 10, Status: models.StockInStock, CostPrice: 10, LastMovementAt: timePtr(testNow.AddDate(0, 0, -200))},
	)
	// 1000 of stock, 1500 of sales in the quarter: 6 turns.
	source.AddSalesLines(scope,
		models.SalesOrderLine{OrderID: "o-1", ProductID: "p-1", Quantity: 10, Amount: 1000, OrderedAt: testNow.AddDate(0, 0, -3)},
		models.SalesOrderLine{OrderID: "o-2", ProductID: "p-1", Quantity: 5, Amount: 500, OrderedAt: testNow.AddDate(0, 0, -60)},
	)

	score, err := calc.Compute(context.Background(), scope, nil)
	require.NoError(t, err)

	assert.Equal(t, 100, score.Breakdown.StockLevel)
	assert.Equal(t, 100, score.Breakdown.Turnover)
	assert.Equal(t, 50, score.Breakdown.Aging)
	assert.Equal(t, 100, score.Breakdown.Backorder)
	assert.Equal(t, DefaultSupplier, score.Breakdown.Supplier)
	assert.InDelta(t, 6.0, score.TurnoverRate, 1e-9)
	assert.InDelta(t, 1000.0, score.InventoryValue, 1e-9)
	// 30 + 25 + 10 + 15 + 7.5
	assert.Equal(t, 88, score.Current)
	assert.Equal(t, RatingGood, score.Rating)
}

func TestCompute_InvalidScope(t *testing.T) {
	calc, _, _ := setupCalculator(t)
	_, err := calc.Compute(context.Background(), models.Scope{}, nil)
	assert.ErrorIs(t, err, models.ErrInvalidScope)
}

func TestTrendWindow_CapsRangeAtNinetyDays(t *testing.T) {
	rng := &models.DateRange{
		From: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC),
	}
	from, to := trendWindow(models.Day(testNow), rng)
	assert.Equal(t, rng.To, to)
	assert.Equal(t, 90, models.DateRange{From: from, To: to}.Days())

	from, to = trendWindow(models.Day(testNow), nil)
	assert.Equal(t, 30, models.DateRange{From: from, To: to}.Days())
}
