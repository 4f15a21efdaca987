// Package inventorytest provides an in-memory inventory.Repository for tests.
package inventorytest

import (
	"context"
	"sync"
	"time"

	"github.com/stockpulse/backend/internal/inventory"
	"github.com/stockpulse/backend/internal/storage/models"
)

// Repository holds one data set per scope key. Errs forces a method (by name)
// to fail; Panics makes it panic instead.
type Repository struct {
	mu sync.RWMutex

	products   map[string][]models.Product
	lines      map[string][]models.SalesOrderLine
	purchases  map[string][]models.PurchaseOrder
	backorders map[string][]models.Backorder
	siteStock  map[string][]models.SiteStock

	Errs   map[string]error
	Panics map[string]bool
	Calls  map[string]int
}

var _ inventory.Repository = (*Repository)(nil)

func NewRepository() *Repository {
	return &Repository{
		products:   map[string][]models.Product{},
		lines:      map[string][]models.SalesOrderLine{},
		purchases:  map[string][]models.PurchaseOrder{},
		backorders: map[string][]models.Backorder{},
		siteStock:  map[string][]models.SiteStock{},
		Errs:       map[string]error{},
		Panics:     map[string]bool{},
		Calls:      map[string]int{},
	}
}

func (r *Repository) AddProducts(scope models.Scope, products ...models.Product) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.products[scope.Key()] = append(r.products[scope.Key()], products...)
}

func (r *Repository) AddSalesLines(scope models.Scope, lines ...models.SalesOrderLine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines[scope.Key()] = append(r.lines[scope.Key()], lines...)
}

func (r *Repository) AddPurchaseOrders(scope models.Scope, orders ...models.PurchaseOrder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.purchases[scope.Key()] = append(r.purchases[scope.Key()], orders...)
}

func (r *Repository) AddBackorders(scope models.Scope, backorders ...models.Backorder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backorders[scope.Key()] = append(r.backorders[scope.Key()], backorders...)
}

func (r *Repository) AddSiteStock(scope models.Scope, rows ...models.SiteStock) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.siteStock[scope.Key()] = append(r.siteStock[scope.Key()], rows...)
}

func (r *Repository) CallCount(method string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.Calls[method]
}

func (r *Repository) enter(ctx context.Context, method string) error {
	r.mu.Lock()
	r.Calls[method]++
	err := r.Errs[method]
	shouldPanic := r.Panics[method]
	r.mu.Unlock()

	if shouldPanic {
		panic("inventorytest: forced panic in " + method)
	}
	if err != nil {
		return err
	}
	return ctx.Err()
}

func (r *Repository) ListActiveProducts(ctx context.Context, scope models.Scope) ([]models.Product, error) {
	if err := r.enter(ctx, "ListActiveProducts"); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]models.Product(nil), r.products[scope.Key()]...), nil
}

func (r *Repository) ListSalesOrderLines(ctx context.Context, scope models.Scope, since time.Time) ([]models.SalesOrderLine, error) {
	if err := r.enter(ctx, "ListSalesOrderLines"); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.SalesOrderLine
	for _, l := range r.lines[scope.Key()] {
		if !l.OrderedAt.Before(since) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (r *Repository) ListPurchaseOrders(ctx context.Context, scope models.Scope, since time.Time) ([]models.PurchaseOrder, error) {
	if err := r.enter(ctx, "ListPurchaseOrders"); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.PurchaseOrder
	for _, po := range r.purchases[scope.Key()] {
		if !po.CreatedAt.Before(since) {
			out = append(out, po)
		}
	}
	return out, nil
}

func (r *Repository) ListBackorders(ctx context.Context, scope models.Scope, since time.Time) ([]models.Backorder, error) {
	if err := r.enter(ctx, "ListBackorders"); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.Backorder
	for _, b := range r.backorders[scope.Key()] {
		if b.Status == models.BackorderOpen || b.Status == models.BackorderPartial || !b.CreatedAt.Before(since) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (r *Repository) ListProductsBySite(ctx context.Context, scope models.Scope) ([]models.SiteStock, error) {
	if err := r.enter(ctx, "ListProductsBySite"); err != nil {
		return nil, err
	}
	if scope.AgencyID == "" || scope.SiteID != "" {
		return nil, inventory.ErrScopeTooBroad
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]models.SiteStock(nil), r.siteStock[scope.Key()]...), nil
}
