package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/stockpulse/backend/internal/inventory"
	"github.com/stockpulse/backend/internal/storage/models"
	"github.com/stockpulse/backend/pkg/circuitbreaker"
	"github.com/stockpulse/backend/pkg/logger"
)

// MetricsRepository reads the operational store. Every query runs through
// the breaker so a failing database degrades sub-scores instead of stalling
// each of them until its timeout.
type MetricsRepository struct {
	db      *sql.DB
	breaker *circuitbreaker.CircuitBreaker
}

var _ inventory.Repository = (*MetricsRepository)(nil)

func NewMetricsRepository(db *sql.DB, breaker *circuitbreaker.CircuitBreaker) *MetricsRepository {
	return &MetricsRepository{db: db, breaker: breaker}
}

// scopeFilter renders the tenant/agency/site predicate for alias, numbering
// placeholders from $1.
func scopeFilter(scope models.Scope, alias string) (string, []interface{}) {
	clauses := []string{alias + ".tenant_id = $1"}
	args := []interface{}{scope.TenantID}

	if scope.AgencyID != "" {
		args = append(args, scope.AgencyID)
		clauses = append(clauses, alias+".agency_id = $"+strconv.Itoa(len(args)))
	}
	if scope.SiteID != "" {
		args = append(args, scope.SiteID)
		clauses = append(clauses, alias+".site_id = $"+strconv.Itoa(len(args)))
	}

	return strings.Join(clauses, " AND "), args
}

func (r *MetricsRepository) query(ctx context.Context, name string, scan func(*sql.Rows) error, query string, args ...interface{}) error {
	start := time.Now()
	err := r.breaker.Execute(ctx, func(ctx context.Context) error {
		rows, err := r.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			if err := scan(rows); err != nil {
				return fmt.Errorf("failed to scan row: %w", err)
			}
		}
		return rows.Err()
	})
	if err != nil {
		return fmt.Errorf("failed to %s: %w", name, err)
	}

	logger.Debug("Operational store query",
		zap.String("query", name),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func (r *MetricsRepository) ListActiveProducts(ctx context.Context, scope models.Scope) ([]models.Product, error) {
	where, args := scopeFilter(scope, "p")
	query := `
		SELECT p.id, p.sku, p.name, p.site_id, p.available_qty, p.reorder_point, p.stock_status,
			p.cost_price, p.selling_price, p.supplier_id,
			(SELECT MAX(m.created_at) FROM stock_movements m WHERE m.product_id = p.id) AS last_movement_at,
			(SELECT MAX(m.created_at) FROM stock_movements m
				WHERE m.product_id = p.id AND m.movement_type = 'adjustment') AS last_adjustment_at
		FROM products p
		WHERE p.is_active = TRUE AND ` + where + `
		ORDER BY p.id`

	var products []models.Product
	err := r.query(ctx, "list active products", func(rows *sql.Rows) error {
		var p models.Product
		var siteID, supplierID sql.NullString
		var status string
		var lastMovement, lastAdjustment sql.NullTime

		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &siteID, &p.AvailableQty, &p.ReorderPoint, &status,
			&p.CostPrice, &p.SellingPrice, &supplierID, &lastMovement, &lastAdjustment); err != nil {
			return err
		}

		p.SiteID = siteID.String
		p.SupplierID = supplierID.String
		p.Status = models.StockStatus(status)
		p.LastMovementAt = nullTime(lastMovement)
		p.LastAdjustmentAt = nullTime(lastAdjustment)
		products = append(products, p)
		return nil
	}, query, args...)
	if err != nil {
		return nil, err
	}

	return products, nil
}

func (r *MetricsRepository) ListSalesOrderLines(ctx context.Context, scope models.Scope, since time.Time) ([]models.SalesOrderLine, error) {
	where, args := scopeFilter(scope, "so")
	args = append(args, since)
	query := `
		SELECT soi.order_id, soi.product_id, soi.quantity, soi.amount, so.ordered_at
		FROM sales_order_items soi
		JOIN sales_orders so ON so.id = soi.order_id
		WHERE ` + where + ` AND so.status <> 'cancelled' AND so.ordered_at >= $` + strconv.Itoa(len(args)) + `
		ORDER BY so.ordered_at`

	var lines []models.SalesOrderLine
	err := r.query(ctx, "list sales order lines", func(rows *sql.Rows) error {
		var l models.SalesOrderLine
		if err := rows.Scan(&l.OrderID, &l.ProductID, &l.Quantity, &l.Amount, &l.OrderedAt); err != nil {
			return err
		}
		lines = append(lines, l)
		return nil
	}, query, args...)
	if err != nil {
		return nil, err
	}

	return lines, nil
}

func (r *MetricsRepository) ListPurchaseOrders(ctx context.Context, scope models.Scope, since time.Time) ([]models.PurchaseOrder, error) {
	where, args := scopeFilter(scope, "po")
	args = append(args, since)
	query := `
		SELECT po.id, po.supplier_id, po.status, po.expected_delivery_date,
			(SELECT MIN(r.received_at) FROM purchase_order_receipts r WHERE r.purchase_order_id = po.id) AS first_receipt_at,
			po.created_at
		FROM purchase_orders po
		WHERE ` + where + ` AND po.created_at >= $` + strconv.Itoa(len(args)) + `
		ORDER BY po.created_at`

	var orders []models.PurchaseOrder
	err := r.query(ctx, "list purchase orders", func(rows *sql.Rows) error {
		var po models.PurchaseOrder
		var supplierID sql.NullString
		var expected, firstReceipt sql.NullTime

		if err := rows.Scan(&po.ID, &supplierID, &po.Status, &expected, &firstReceipt, &po.CreatedAt); err != nil {
			return err
		}

		po.SupplierID = supplierID.String
		po.ExpectedDeliveryDate = nullTime(expected)
		po.FirstReceiptAt = nullTime(firstReceipt)
		orders = append(orders, po)
		return nil
	}, query, args...)
	if err != nil {
		return nil, err
	}

	return orders, nil
}

func (r *MetricsRepository) ListBackorders(ctx context.Context, scope models.Scope, since time.Time) ([]models.Backorder, error) {
	where, args := scopeFilter(scope, "b")
	args = append(args, since)
	query := `
		SELECT b.id, b.status, b.customer_name, b.created_at, bi.product_id, bi.quantity, bi.amount
		FROM backorders b
		LEFT JOIN backorder_items bi ON bi.backorder_id = b.id
		WHERE ` + where + `
			AND (b.status IN ('open', 'partial') OR b.created_at >= $` + strconv.Itoa(len(args)) + `)
		ORDER BY b.created_at, b.id`

	var backorders []models.Backorder
	index := map[string]int{}
	err := r.query(ctx, "list backorders", func(rows *sql.Rows) error {
		var id, status string
		var customer sql.NullString
		var createdAt time.Time
		var productID sql.NullString
		var quantity, amount sql.NullFloat64

		if err := rows.Scan(&id, &status, &customer, &createdAt, &productID, &quantity, &amount); err != nil {
			return err
		}

		i, ok := index[id]
		if !ok {
			backorders = append(backorders, models.Backorder{
				ID:           id,
				Status:       models.BackorderStatus(status),
				CustomerName: customer.String,
				CreatedAt:    createdAt,
			})
			i = len(backorders) - 1
			index[id] = i
		}
		if productID.Valid {
			backorders[i].Lines = append(backorders[i].Lines, models.BackorderLine{
				ProductID: productID.String,
				Quantity:  quantity.Float64,
				Amount:    amount.Float64,
			})
		}
		return nil
	}, query, args...)
	if err != nil {
		return nil, err
	}

	return backorders, nil
}

func (r *MetricsRepository) ListProductsBySite(ctx context.Context, scope models.Scope) ([]models.SiteStock, error) {
	if scope.AgencyID == "" || scope.SiteID != "" {
		return nil, inventory.ErrScopeTooBroad
	}

	where, args := scopeFilter(scope, "p")
	query := `
		SELECT s.id, s.name, p.sku, p.id, p.name, p.available_qty, p.selling_price
		FROM products p
		JOIN sites s ON s.id = p.site_id
		WHERE p.is_active = TRUE AND ` + where + `
		ORDER BY p.sku, s.id`

	var stock []models.SiteStock
	err := r.query(ctx, "list products by site", func(rows *sql.Rows) error {
		var s models.SiteStock
		if err := rows.Scan(&s.SiteID, &s.SiteName, &s.SKU, &s.ProductID, &s.ProductName, &s.AvailableQty, &s.SellingPrice); err != nil {
			return err
		}
		stock = append(stock, s)
		return nil
	}, query, args...)
	if err != nil {
		return nil, err
	}

	return stock, nil
}
