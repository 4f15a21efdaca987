// Package inventory defines the read-only contract the engine uses to query
// the operational store.
package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/stockpulse/backend/internal/storage/models"
)

// ErrScopeTooBroad is returned by ListProductsBySite when the scope does not
// name a single agency.
var ErrScopeTooBroad = errors.New("scope must name exactly one agency")

// Repository is read-only and scoped. Implementations must be safe for
// concurrent use; the engine fans out calls across goroutines.
type Repository interface {
	ListActiveProducts(ctx context.Context, scope models.Scope) ([]models.Product, error)
	ListSalesOrderLines(ctx context.Context, scope models.Scope, since time.Time) ([]models.SalesOrderLine, error)
	ListPurchaseOrders(ctx context.Context, scope models.Scope, since time.Time) ([]models.PurchaseOrder, error)
	// ListBackorders returns open and partial backorders of any age plus every
	// backorder created at or after since.
	ListBackorders(ctx context.Context, scope models.Scope, since time.Time) ([]models.Backorder, error)
	ListProductsBySite(ctx context.Context, scope models.Scope) ([]models.SiteStock, error)
}
