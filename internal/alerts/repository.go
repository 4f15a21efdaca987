package alerts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stockpulse/backend/internal/metrics"
	"github.com/stockpulse/backend/internal/storage/models"
	"github.com/stockpulse/backend/pkg/logger"
)

var ErrAlertNotActive = errors.New("alert is not active")

// Store is the alert persistence the repository builds on. The sqlite client
// implements it.
type Store interface {
	InsertAlertIfAbsent(ctx context.Context, a *models.Alert) (bool, error)
	ExpireAlerts(ctx context.Context, scope models.Scope, now time.Time) (int64, error)
	GetActiveAlerts(ctx context.Context, scope models.Scope, now time.Time, limit int) ([]models.Alert, error)
	GetAlert(ctx context.Context, id string) (*models.Alert, error)
	DismissAlert(ctx context.Context, id, reason string, now time.Time) (bool, error)
}

// Repository deduplicates candidates by natural key and manages the
// active -> dismissed | expired lifecycle.
type Repository struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
}

// NewRepository returns a repository. A ttl of zero leaves alerts without
// expiry.
func NewRepository(store Store, ttl time.Duration, now func() time.Time) *Repository {
	if now == nil {
		now = time.Now
	}
	return &Repository{store: store, ttl: ttl, now: now}
}

// Persist writes the candidates that have no active alert under their key
// and returns those that were written. Dropped duplicates keep the existing
// alert and its figures unchanged.
func (r *Repository) Persist(ctx context.Context, candidates []models.Alert) ([]models.Alert, error) {
	now := r.now()

	expired := make(map[string]bool)
	for _, c := range candidates {
		if expired[c.Scope.Key()] {
			continue
		}
		n, err := r.store.ExpireAlerts(ctx, c.Scope, now)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			logger.Debug("Expired stale alerts", zap.String("scope", c.Scope.Key()), zap.Int64("count", n))
		}
		expired[c.Scope.Key()] = true
	}

	var persisted []models.Alert
	for _, c := range candidates {
		a := c
		a.ID = uuid.New().String()
		a.Status = models.AlertActive
		a.CreatedAt = now
		if r.ttl > 0 {
			expiresAt := now.Add(r.ttl)
			a.ExpiresAt = &expiresAt
		}

		inserted, err := r.store.InsertAlertIfAbsent(ctx, &a)
		if err != nil {
			return nil, fmt.Errorf("failed to persist %s alert: %w", a.Type, err)
		}
		if !inserted {
			continue
		}

		metrics.AlertsPersisted.WithLabelValues(string(a.Type)).Inc()
		persisted = append(persisted, a)
	}

	return persisted, nil
}

// GetActive returns unexpired active alerts of the scope in insertion order.
func (r *Repository) GetActive(ctx context.Context, scope models.Scope, limit int) ([]models.Alert, error) {
	return r.store.GetActiveAlerts(ctx, scope, r.now(), limit)
}

// Dismiss moves an active alert to dismissed and returns it. Unknown ids
// return models.ErrNotFound; dismissed or expired alerts return
// ErrAlertNotActive.
func (r *Repository) Dismiss(ctx context.Context, id, reason string) (*models.Alert, error) {
	now := r.now()

	a, err := r.store.GetAlert(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status != models.AlertActive || a.IsExpired(now) {
		return nil, fmt.Errorf("%w: %s is %s", ErrAlertNotActive, id, effectiveStatus(a, now))
	}

	ok, err := r.store.DismissAlert(ctx, id, reason, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Lost a race with another dismissal or an expiry sweep.
		return nil, fmt.Errorf("%w: %s", ErrAlertNotActive, id)
	}

	metrics.AlertsDismissed.Inc()

	a.Status = models.AlertDismissed
	a.DismissedAt = &now
	a.DismissReason = reason
	return a, nil
}

func effectiveStatus(a *models.Alert, now time.Time) models.AlertStatus {
	if a.Status == models.AlertActive && a.IsExpired(now) {
		return models.AlertExpired
	}
	return a.Status
}
