// Package export renders a generated report as an XLSX workbook.
package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/stockpulse/backend/internal/alerts"
	"github.com/stockpulse/backend/internal/report"
	"github.com/stockpulse/backend/internal/storage/models"
)

const (
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

	summarySheet = "Summary"
	alertsSheet  = "Alerts"
	trendSheet   = "Trend"
)

var alertHeader = []string{
	"Priority",
	"Severity",
	"Type",
	"Title",
	"Financial Impact",
	"Days Until Critical",
	"Suggested Action",
	"Affected Entities",
	"Created At",
	"Expires At",
}

var alertColumnWidths = []float64{10, 12, 22, 48, 18, 18, 56, 40, 20, 20}

// Filename returns the attachment name for a report export.
func Filename(rep *report.Report) string {
	parts := []string{"health-report", rep.Scope.TenantID}
	if rep.Scope.AgencyID != "" {
		parts = append(parts, rep.Scope.AgencyID)
	}
	if rep.Scope.SiteID != "" {
		parts = append(parts, rep.Scope.SiteID)
	}
	parts = append(parts, rep.GeneratedAt.UTC().Format(models.DayLayout))
	return strings.Join(parts, "-") + ".xlsx"
}

// Workbook writes the summary, the ranked alert list, and the score trend
// to separate sheets.
func Workbook(rep *report.Report) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, fmt.Errorf("failed to rename sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	if err := writeSummary(f, rep, headerStyle); err != nil {
		return nil, err
	}
	if err := writeAlerts(f, rep, headerStyle); err != nil {
		return nil, err
	}
	if err := writeTrend(f, rep, headerStyle); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeRows(f *excelize.File, sheet string, startRow int, rows [][]interface{}) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, startRow+i)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write %s row %d: %w", sheet, startRow+i, err)
		}
	}
	return nil
}

func writeHeader(f *excelize.File, sheet string, header []string, style int) error {
	row := make([]interface{}, len(header))
	for i, h := range header {
		row[i] = h
	}
	if err := writeRows(f, sheet, 1, [][]interface{}{row}); err != nil {
		return err
	}

	last, err := excelize.CoordinatesToCellName(len(header), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last, style); err != nil {
		return fmt.Errorf("failed to style %s header: %w", sheet, err)
	}

	return f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

func writeSummary(f *excelize.File, rep *report.Report, style int) error {
	if err := writeHeader(f, summarySheet, []string{"Field", "Value"}, style); err != nil {
		return err
	}

	scope := rep.Scope
	rows := [][]interface{}{
		{"Report ID", rep.ID},
		{"Tenant", scope.TenantID},
		{"Agency", scope.AgencyID},
		{"Site", scope.SiteID},
		{"Generated At", rep.GeneratedAt.UTC().Format("2006-01-02 15:04:05")},
		{"Partial", rep.Partial},
	}

	if hs := rep.HealthScore; hs != nil {
		rows = append(rows,
			[]interface{}{"Health Score", hs.Current},
			[]interface{}{"Rating", hs.Rating},
			[]interface{}{"Previous Score", hs.PreviousScore},
			[]interface{}{"Change %", hs.ChangePercent},
			[]interface{}{"Stock Level", hs.Breakdown.StockLevel},
			[]interface{}{"Turnover", hs.Breakdown.Turnover},
			[]interface{}{"Aging", hs.Breakdown.Aging},
			[]interface{}{"Backorder", hs.Breakdown.Backorder},
			[]interface{}{"Supplier", hs.Breakdown.Supplier},
		)
	}

	m := rep.Metrics
	rows = append(rows,
		[]interface{}{"Capital Tied Up", m.CapitalTiedUp.Value},
		[]interface{}{"Revenue At Risk", m.RevenueAtRisk.Value},
		[]interface{}{"Turnover Rate", m.TurnoverRate.Value},
		[]interface{}{"Dead Stock Value", m.DeadStockValue.Value},
		[]interface{}{"Dead Stock Items", m.DeadStockItems.Value},
	)

	for _, fl := range rep.Failures {
		rows = append(rows, []interface{}{"Failed: " + fl.Task, fl.Error})
	}

	if err := writeRows(f, summarySheet, 2, rows); err != nil {
		return err
	}
	if err := f.SetColWidth(summarySheet, "A", "A", 22); err != nil {
		return err
	}
	return f.SetColWidth(summarySheet, "B", "B", 40)
}

func writeAlerts(f *excelize.File, rep *report.Report, style int) error {
	if _, err := f.NewSheet(alertsSheet); err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	if err := writeHeader(f, alertsSheet, alertHeader, style); err != nil {
		return err
	}

	ranked := rankedAlerts(rep)
	rows := make([][]interface{}, 0, len(ranked))
	for i, a := range ranked {
		var days interface{}
		if a.DaysUntilCritical != nil {
			days = *a.DaysUntilCritical
		}
		var expires interface{}
		if a.ExpiresAt != nil {
			expires = a.ExpiresAt.UTC().Format("2006-01-02 15:04:05")
		}
		rows = append(rows, []interface{}{
			i + 1,
			string(a.Severity),
			string(a.Type),
			a.Title,
			a.FinancialImpact,
			days,
			a.SuggestedAction,
			strings.Join(a.AffectedEntityIDs, ", "),
			a.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
			expires,
		})
	}
	if err := writeRows(f, alertsSheet, 2, rows); err != nil {
		return err
	}

	for i, width := range alertColumnWidths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(alertsSheet, col, col, width); err != nil {
			return fmt.Errorf("failed to set column width: %w", err)
		}
	}
	return nil
}

func writeTrend(f *excelize.File, rep *report.Report, style int) error {
	if _, err := f.NewSheet(trendSheet); err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	if err := writeHeader(f, trendSheet, []string{"Day", "Score"}, style); err != nil {
		return err
	}
	if rep.HealthScore == nil {
		return nil
	}

	rows := make([][]interface{}, 0, len(rep.HealthScore.Trend))
	for _, p := range rep.HealthScore.Trend {
		rows = append(rows, []interface{}{p.Day.Format(models.DayLayout), p.Score})
	}
	return writeRows(f, trendSheet, 2, rows)
}

// rankedAlerts orders the full active list the same way the critical view
// is ordered.
func rankedAlerts(rep *report.Report) []models.Alert {
	return alerts.Rank(rep.Alerts)
}
