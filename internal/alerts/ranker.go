package alerts

import (
	"sort"

	"github.com/stockpulse/backend/internal/storage/models"
)

var severityWeights = map[models.Severity]float64{
	models.SeverityCritical: 1000,
	models.SeverityHigh:     500,
	models.SeverityMedium:   100,
	models.SeverityLow:      10,
}

// Priority is severityWeight + financialImpact/1000.
func Priority(a models.Alert) float64 {
	return severityWeights[a.Severity] + a.FinancialImpact/1000
}

// Rank returns a copy of the alerts ordered by descending priority. Equal
// priorities keep their input order.
func Rank(alerts []models.Alert) []models.Alert {
	ranked := make([]models.Alert, len(alerts))
	copy(ranked, alerts)
	sort.SliceStable(ranked, func(i, j int) bool {
		return Priority(ranked[i]) > Priority(ranked[j])
	})
	return ranked
}

// Top ranks the alerts and keeps at most limit of them. limit <= 0 keeps all.
func Top(alerts []models.Alert, limit int) []models.Alert {
	ranked := Rank(alerts)
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}
