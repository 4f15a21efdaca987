package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/stockpulse/backend/internal/health"
	"github.com/stockpulse/backend/internal/report"
	"github.com/stockpulse/backend/internal/storage/models"
)

func sampleReport() *report.Report {
	generated := time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)
	days := 4
	expires := generated.Add(168 * time.Hour)

	return &report.Report{
		ID:          "r-1",
		Scope:       models.Scope{TenantID: "t1", AgencyID: "a1"},
		GeneratedAt: generated,
		HealthScore: &health.HealthScore{
			Current:       72,
			PreviousScore: 60,
			ChangePercent: 20,
			Rating:        health.RatingGood,
			Breakdown:     health.Breakdown{StockLevel: 80, Turnover: 60, Aging: 70, Backorder: 90, Supplier: 75},
			Trend: []health.TrendPoint{
				{Day: generated.AddDate(0, 0, -1).Truncate(24 * time.Hour), Score: 70},
				{Day: generated.Truncate(24 * time.Hour), Score: 72},
			},
		},
		Alerts: []models.Alert{
			{
				ID:                "a-dead",
				Type:              models.AlertDeadStock,
				Severity:          models.SeverityHigh,
				Title:             "Dead stock",
				FinancialImpact:   -1200,
				AffectedEntityIDs: []string{"p1", "p2"},
				CreatedAt:         generated,
			},
			{
				ID:                "a-stockout",
				Type:              models.AlertStockoutPredicted,
				Severity:          models.SeverityCritical,
				Title:             "Widget runs out in 4 days",
				FinancialImpact:   900,
				AffectedEntityIDs: []string{"p3"},
				DaysUntilCritical: &days,
				CreatedAt:         generated,
				ExpiresAt:         &expires,
			},
		},
		Metrics: models.MetricsBundle{
			CapitalTiedUp:  models.Metric{Value: 15000},
			DeadStockItems: models.Metric{Value: 2},
		},
		Failures: []report.Failure{{Task: "detector_backorder", Error: "timeout"}},
		Partial:  true,
	}
}

func TestWorkbook(t *testing.T) {
	data, err := Workbook(sampleReport())
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"Summary", "Alerts", "Trend"}, f.GetSheetList())

	summary, err := f.GetRows("Summary")
	require.NoError(t, err)
	values := make(map[string]string, len(summary))
	for _, row := range summary[1:] {
		if len(row) == 2 {
			values[row[0]] = row[1]
		}
	}
	assert.Equal(t, "72", values["Health Score"])
	assert.Equal(t, "good", values["Rating"])
	assert.Equal(t, "15000", values["Capital Tied Up"])
	assert.Equal(t, "timeout", values["Failed: detector_backorder"])

	rows, err := f.GetRows("Alerts")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, alertHeader, rows[0])
	// Critical ranks ahead of high.
	assert.Equal(t, "1", rows[1][0])
	assert.Equal(t, "critical", rows[1][1])
	assert.Equal(t, "4", rows[1][5])
	assert.Equal(t, "high", rows[2][1])
	assert.Equal(t, "p1, p2", rows[2][7])

	trend, err := f.GetRows("Trend")
	require.NoError(t, err)
	require.Len(t, trend, 3)
	assert.Equal(t, []string{"2026-10-19", "72"}, trend[2])
}

func TestWorkbook_WithoutScore(t *testing.T) {
	rep := sampleReport()
	rep.HealthScore = nil
	rep.Alerts = nil

	data, err := Workbook(rep)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Alerts")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestFilename(t *testing.T) {
	rep := sampleReport()
	assert.Equal(t, "health-report-t1-a1-2026-10-19.xlsx", Filename(rep))

	rep.Scope = models.Scope{TenantID: "t1"}
	assert.Equal(t, "health-report-t1-2026-10-19.xlsx", Filename(rep))
}
