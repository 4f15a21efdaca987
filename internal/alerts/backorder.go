package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/stockpulse/backend/internal/inventory"
	"github.com/stockpulse/backend/internal/storage/models"
)

const (
	backorderHighAbove     = 1000.0
	backorderCriticalAbove = 5000.0
)

type BackorderDetector struct {
	source inventory.Repository
	now    func() time.Time
}

func NewBackorderDetector(source inventory.Repository, now func() time.Time) *BackorderDetector {
	if now == nil {
		now = time.Now
	}
	return &BackorderDetector{source: source, now: now}
}

func (d *BackorderDetector) Name() string { return "backorder" }

func (d *BackorderDetector) Detect(ctx context.Context, scope models.Scope) ([]models.Alert, error) {
	// Only open and partial backorders matter, and the repository returns
	// those regardless of age.
	backorders, err := d.source.ListBackorders(ctx, scope, d.now())
	if err != nil {
		return nil, fmt.Errorf("failed to list backorders: %w", err)
	}

	var out []models.Alert
	for _, b := range backorders {
		if b.Status != models.BackorderOpen && b.Status != models.BackorderPartial {
			continue
		}

		total := b.Total()
		if total <= backorderHighAbove {
			continue
		}

		ids := []string{b.ID}
		for _, l := range b.Lines {
			ids = append(ids, l.ProductID)
		}

		a := candidate(scope, models.AlertHighValueBackorder, b.ID)
		a.Severity = models.SeverityHigh
		if total > backorderCriticalAbove {
			a.Severity = models.SeverityCritical
		}
		a.Title = fmt.Sprintf("Backorder of %.2f waiting for %s", total, b.CustomerName)
		a.Description = fmt.Sprintf("Backorder %s (%s) has %d lines worth %.2f.", b.ID, b.Status, len(b.Lines), total)
		a.FinancialImpact = total
		a.AffectedEntityIDs = ids
		a.SuggestedAction = fmt.Sprintf("Expedite stock for %s or offer a substitute.", b.CustomerName)
		a.QuickAction = &models.QuickAction{
			Label:   "Expedite backorder",
			Command: "backorder.expedite",
			Params: map[string]interface{}{
				"backorder_id": b.ID,
			},
		}

		out = append(out, a)
	}
	return out, nil
}
