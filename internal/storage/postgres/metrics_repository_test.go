package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockpulse/backend/internal/inventory"
	"github.com/stockpulse/backend/internal/storage/models"
	"github.com/stockpulse/backend/pkg/circuitbreaker"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *MetricsRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	breaker := circuitbreaker.NewCircuitBreaker("operational-store", circuitbreaker.Config{FailureThreshold: 2})
	repo := NewMetricsRepository(db, breaker)

	return db, mock, repo
}

func TestScopeFilter(t *testing.T) {
	where, args := scopeFilter(models.Scope{TenantID: "t1"}, "p")
	assert.Equal(t, "p.tenant_id = $1", where)
	assert.Equal(t, []interface{}{"t1"}, args)

	where, args = scopeFilter(models.Scope{TenantID: "t1", AgencyID: "a1", SiteID: "s1"}, "so")
	assert.Equal(t, "so.tenant_id = $1 AND so.agency_id = $2 AND so.site_id = $3", where)
	assert.Equal(t, []interface{}{"t1", "a1", "s1"}, args)
}

func TestListActiveProducts_Success(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	moved := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"id", "sku", "name", "site_id", "available_qty", "reorder_point", "stock_status",
		"cost_price", "selling_price", "supplier_id", "last_movement_at", "last_adjustment_at",
	}).
		AddRow("p-1", "SKU-1", "Widget", "s1", 40.0, 10.0, "in_stock", 5.0, 9.5, "sup-1", moved, nil).
		AddRow("p-2", "SKU-2", "Gadget", nil, 0.0, 5.0, "out_of_stock", 3.0, 6.0, nil, nil, nil)

	mock.ExpectQuery(`FROM products p\s+WHERE p.is_active = TRUE AND p.tenant_id = \$1 AND p.agency_id = \$2`).
		WithArgs("t1", "a1").
		WillReturnRows(rows)

	products, err := repo.ListActiveProducts(context.Background(), models.Scope{TenantID: "t1", AgencyID: "a1"})

	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, "p-1", products[0].ID)
	assert.Equal(t, models.StockInStock, products[0].Status)
	assert.Equal(t, "sup-1", products[0].SupplierID)
	require.NotNil(t, products[0].LastMovementAt)
	assert.True(t, moved.Equal(*products[0].LastMovementAt))
	assert.Nil(t, products[0].LastAdjustmentAt)

	assert.Equal(t, "", products[1].SupplierID)
	assert.Nil(t, products[1].LastMovementAt)
	assert.True(t, products[1].Status.IsShortage())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListSalesOrderLines_PassesSince(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	since := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	ordered := since.Add(48 * time.Hour)
	rows := sqlmock.NewRows([]string{"order_id", "product_id", "quantity", "amount", "ordered_at"}).
		AddRow("so-1", "p-1", 3.0, 30.0, ordered)

	mock.ExpectQuery(`FROM sales_order_items soi\s+JOIN sales_orders so`).
		WithArgs("t1", since).
		WillReturnRows(rows)

	lines, err := repo.ListSalesOrderLines(context.Background(), models.Scope{TenantID: "t1"}, since)

	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, "so-1", lines[0].OrderID)
	assert.Equal(t, 30.0, lines[0].Amount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListPurchaseOrders_NullableDates(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	since := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	expected := since.Add(10 * 24 * time.Hour)
	received := since.Add(9 * 24 * time.Hour)
	rows := sqlmock.NewRows([]string{"id", "supplier_id", "status", "expected_delivery_date", "first_receipt_at", "created_at"}).
		AddRow("po-1", "sup-1", "completed", expected, received, since).
		AddRow("po-2", nil, "draft", nil, nil, since)

	mock.ExpectQuery(`FROM purchase_orders po`).
		WithArgs("t1", since).
		WillReturnRows(rows)

	orders, err := repo.ListPurchaseOrders(context.Background(), models.Scope{TenantID: "t1"}, since)

	require.NoError(t, err)
	require.Len(t, orders, 2)
	require.NotNil(t, orders[0].FirstReceiptAt)
	assert.True(t, received.Equal(*orders[0].FirstReceiptAt))
	assert.Nil(t, orders[1].ExpectedDeliveryDate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListBackorders_GroupsLines(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	created := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "status", "customer_name", "created_at", "product_id", "quantity", "amount"}).
		AddRow("bo-1", "open", "Acme", created, "p-1", 2.0, 700.0).
		AddRow("bo-1", "open", "Acme", created, "p-2", 1.0, 600.0).
		AddRow("bo-2", "partial", nil, created, nil, nil, nil)

	since := time.Date(2026, 9, 19, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`FROM backorders b\s+LEFT JOIN backorder_items bi ON bi.backorder_id = b.id\s+WHERE b.tenant_id = \$1\s+AND \(b.status IN \('open', 'partial'\) OR b.created_at >= \$2\)`).
		WithArgs("t1", since).
		WillReturnRows(rows)

	backorders, err := repo.ListBackorders(context.Background(), models.Scope{TenantID: "t1"}, since)

	require.NoError(t, err)
	require.Len(t, backorders, 2)
	assert.Len(t, backorders[0].Lines, 2)
	assert.Equal(t, 1300.0, backorders[0].Total())
	assert.Equal(t, "Acme", backorders[0].CustomerName)
	assert.Equal(t, models.BackorderPartial, backorders[1].Status)
	assert.Empty(t, backorders[1].Lines)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListProductsBySite_RequiresAgency(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	_, err := repo.ListProductsBySite(context.Background(), models.Scope{TenantID: "t1"})
	assert.ErrorIs(t, err, inventory.ErrScopeTooBroad)

	_, err = repo.ListProductsBySite(context.Background(), models.Scope{TenantID: "t1", AgencyID: "a1", SiteID: "s1"})
	assert.ErrorIs(t, err, inventory.ErrScopeTooBroad)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListProductsBySite_Success(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "name", "sku", "id", "name", "available_qty", "selling_price"}).
		AddRow("s1", "North", "SKU-1", "p-1", "Widget", 80.0, 12.0).
		AddRow("s2", "South", "SKU-1", "p-9", "Widget", 5.0, 12.0)

	mock.ExpectQuery(`JOIN sites s ON s.id = p.site_id`).
		WithArgs("t1", "a1").
		WillReturnRows(rows)

	stock, err := repo.ListProductsBySite(context.Background(), models.Scope{TenantID: "t1", AgencyID: "a1"})

	require.NoError(t, err)
	require.Len(t, stock, 2)
	assert.Equal(t, "South", stock[1].SiteName)
	assert.Equal(t, 5.0, stock[1].AvailableQty)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQuery_BreakerOpensAfterFailures(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	dbErr := errors.New("connection refused")
	mock.ExpectQuery(`FROM backorders b`).WillReturnError(dbErr)
	mock.ExpectQuery(`FROM backorders b`).WillReturnError(dbErr)

	scope := models.Scope{TenantID: "t1"}
	since := time.Date(2026, 9, 19, 0, 0, 0, 0, time.UTC)
	_, err := repo.ListBackorders(context.Background(), scope, since)
	assert.ErrorIs(t, err, dbErr)
	_, err = repo.ListBackorders(context.Background(), scope, since)
	assert.ErrorIs(t, err, dbErr)

	_, err = repo.ListBackorders(context.Background(), scope, since)
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.Contains(t, err.Error(), "failed to list backorders")

	assert.NoError(t, mock.ExpectationsWereMet())
}
