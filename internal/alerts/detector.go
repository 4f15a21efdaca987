// Package alerts detects inventory anomalies, persists them with
// natural-key deduplication, and ranks them for display.
package alerts

import (
	"context"
	"time"

	"github.com/stockpulse/backend/internal/inventory"
	"github.com/stockpulse/backend/internal/storage/models"
	"github.com/stockpulse/backend/pkg/utils"
)

// Detector scans the inventory source and emits candidate alerts. Detectors
// have no side effects and may run concurrently.
type Detector interface {
	Name() string
	Detect(ctx context.Context, scope models.Scope) ([]models.Alert, error)
}

// DefaultDetectors returns the four built-in detectors in emission order.
func DefaultDetectors(source inventory.Repository, now func() time.Time) []Detector {
	if now == nil {
		now = time.Now
	}
	return []Detector{
		NewStockoutDetector(source, now),
		NewDeadStockDetector(source, now),
		NewImbalanceDetector(source),
		NewBackorderDetector(source, now),
	}
}

// NaturalKey identifies the condition an alert describes. Re-running a
// detector over unchanged data yields the same key.
func NaturalKey(scope models.Scope, alertType models.AlertType, entity string) string {
	return utils.HashParts(scope.Key(), string(alertType), entity)
}

func candidate(scope models.Scope, alertType models.AlertType, entity string) models.Alert {
	return models.Alert{
		Key:    NaturalKey(scope, alertType, entity),
		Scope:  scope,
		Type:   alertType,
		Status: models.AlertActive,
	}
}

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }
