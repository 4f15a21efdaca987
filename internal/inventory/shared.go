package inventory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/stockpulse/backend/internal/storage/models"
)

type sharedKey struct {
	method string
	scope  string
	since  time.Time
}

type sharedCall struct {
	done  chan struct{}
	value interface{}
	err   error
}

type sharedReads struct {
	mu    sync.Mutex
	calls map[sharedKey]*sharedCall
}

type sharedReadsKey struct{}

// WithSharedReads returns a context under which a Shared repository issues
// each distinct query once. The engine opens one per report.
func WithSharedReads(ctx context.Context) context.Context {
	return context.WithValue(ctx, sharedReadsKey{}, &sharedReads{calls: map[sharedKey]*sharedCall{}})
}

func share(ctx context.Context, key sharedKey, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	reads, ok := ctx.Value(sharedReadsKey{}).(*sharedReads)
	if !ok {
		return fn(ctx)
	}

	reads.mu.Lock()
	if call, ok := reads.calls[key]; ok {
		reads.mu.Unlock()
		select {
		case <-call.done:
			return call.value, call.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	call := &sharedCall{done: make(chan struct{})}
	reads.calls[key] = call
	reads.mu.Unlock()

	defer close(call.done)
	defer func() {
		if r := recover(); r != nil {
			call.err = fmt.Errorf("%s panicked: %v", key.method, r)
			panic(r)
		}
	}()

	call.value, call.err = fn(ctx)
	if errors.Is(call.err, context.Canceled) || errors.Is(call.err, context.DeadlineExceeded) {
		// A timeout belongs to the caller's sub-task; later callers query again.
		reads.mu.Lock()
		delete(reads.calls, key)
		reads.mu.Unlock()
	}
	return call.value, call.err
}

// Shared decorates a Repository so concurrent sub-tasks of one report share
// their reads. Windowed queries are fetched from the start of the UTC day of
// since and trimmed per caller, so windows that begin on the same day share a
// query. Outside WithSharedReads every call goes straight to the wrapped
// repository.
type Shared struct {
	next Repository
}

var _ Repository = (*Shared)(nil)

func NewShared(next Repository) *Shared {
	return &Shared{next: next}
}

func (s *Shared) ListActiveProducts(ctx context.Context, scope models.Scope) ([]models.Product, error) {
	v, err := share(ctx, sharedKey{method: "ListActiveProducts", scope: scope.Key()}, func(ctx context.Context) (interface{}, error) {
		return s.next.ListActiveProducts(ctx, scope)
	})
	if err != nil {
		return nil, err
	}
	return append([]models.Product(nil), v.([]models.Product)...), nil
}

func (s *Shared) ListSalesOrderLines(ctx context.Context, scope models.Scope, since time.Time) ([]models.SalesOrderLine, error) {
	from := models.Day(since)
	v, err := share(ctx, sharedKey{method: "ListSalesOrderLines", scope: scope.Key(), since: from}, func(ctx context.Context) (interface{}, error) {
		return s.next.ListSalesOrderLines(ctx, scope, from)
	})
	if err != nil {
		return nil, err
	}

	var out []models.SalesOrderLine
	for _, l := range v.([]models.SalesOrderLine) {
		if !l.OrderedAt.Before(since) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *Shared) ListPurchaseOrders(ctx context.Context, scope models.Scope, since time.Time) ([]models.PurchaseOrder, error) {
	from := models.Day(since)
	v, err := share(ctx, sharedKey{method: "ListPurchaseOrders", scope: scope.Key(), since: from}, func(ctx context.Context) (interface{}, error) {
		return s.next.ListPurchaseOrders(ctx, scope, from)
	})
	if err != nil {
		return nil, err
	}

	var out []models.PurchaseOrder
	for _, po := range v.([]models.PurchaseOrder) {
		if !po.CreatedAt.Before(since) {
			out = append(out, po)
		}
	}
	return out, nil
}

func (s *Shared) ListBackorders(ctx context.Context, scope models.Scope, since time.Time) ([]models.Backorder, error) {
	from := models.Day(since)
	v, err := share(ctx, sharedKey{method: "ListBackorders", scope: scope.Key(), since: from}, func(ctx context.Context) (interface{}, error) {
		return s.next.ListBackorders(ctx, scope, from)
	})
	if err != nil {
		return nil, err
	}

	var out []models.Backorder
	for _, b := range v.([]models.Backorder) {
		if b.Status == models.BackorderOpen || b.Status == models.BackorderPartial || !b.CreatedAt.Before(since) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *Shared) ListProductsBySite(ctx context.Context, scope models.Scope) ([]models.SiteStock, error) {
	v, err := share(ctx, sharedKey{method: "ListProductsBySite", scope: scope.Key()}, func(ctx context.Context) (interface{}, error) {
		return s.next.ListProductsBySite(ctx, scope)
	})
	if err != nil {
		return nil, err
	}
	return append([]models.SiteStock(nil), v.([]models.SiteStock)...), nil
}
