package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockpulse/backend/internal/storage/models"
)

func setupTestClient(t *testing.T) *Client {
	t.Helper()
	client, err := NewClient(filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	require.NoError(t, client.InitSchema())
	return client
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func snapshot(scope models.Scope, d time.Time, overall int) *models.HealthSnapshot {
	return &models.HealthSnapshot{
		Scope: scope, Day: d,
		StockLevel: overall, Turnover: overall, Aging: overall, Backorder: overall, Supplier: overall,
		Overall: overall, Rating: "fair", UpdatedAt: d,
	}
}

func newAlert(scope models.Scope, key string, now time.Time) *models.Alert {
	days := 4
	conf := 0.9
	return &models.Alert{
		ID:                uuid.New().String(),
		Key:               key,
		Scope:             scope,
		Type:              models.AlertStockoutPredicted,
		Severity:          models.SeverityHigh,
		Title:             "Widget stocks out in 4 days",
		FinancialImpact:   140,
		AffectedEntityIDs: []string{"p-1"},
		SuggestedAction:   "Reorder",
		QuickAction:       &models.QuickAction{Label: "Create PO", Command: "purchase_order.create", Params: map[string]interface{}{"quantity": 60.0}},
		DaysUntilCritical: &days,
		Confidence:        &conf,
		Status:            models.AlertActive,
		CreatedAt:         now,
	}
}

func TestUpsertSnapshot_OneRowPerScopeAndDay(t *testing.T) {
	client := setupTestClient(t)
	ctx := context.Background()
	scope := models.Scope{TenantID: "t1"}
	today := day(2026, 10, 19)

	require.NoError(t, client.UpsertSnapshot(ctx, snapshot(scope, today, 60)))
	require.NoError(t, client.UpsertSnapshot(ctx, snapshot(scope, today, 72)))

	snaps, err := client.GetSnapshots(ctx, scope, today, today)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, 72, snaps[0].Overall)
}

func TestSnapshots_ScopesAreIsolated(t *testing.T) {
	client := setupTestClient(t)
	ctx := context.Background()
	today := day(2026, 10, 19)
	agency := models.Scope{TenantID: "t1", AgencyID: "a1"}
	site := models.Scope{TenantID: "t1", AgencyID: "a1", SiteID: "s1"}

	require.NoError(t, client.UpsertSnapshot(ctx, snapshot(agency, today, 50)))
	require.NoError(t, client.UpsertSnapshot(ctx, snapshot(site, today, 90)))

	got, err := client.GetSnapshot(ctx, agency, today)
	require.NoError(t, err)
	assert.Equal(t, 50, got.Overall)

	got, err = client.GetSnapshot(ctx, site, today)
	require.NoError(t, err)
	assert.Equal(t, 90, got.Overall)

	_, err = client.GetSnapshot(ctx, models.Scope{TenantID: "t1"}, today)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestGetLatestSnapshotBefore(t *testing.T) {
	client := setupTestClient(t)
	ctx := context.Background()
	scope := models.Scope{TenantID: "t1"}

	require.NoError(t, client.UpsertSnapshot(ctx, snapshot(scope, day(2026, 6, 1), 40)))
	require.NoError(t, client.UpsertSnapshot(ctx, snapshot(scope, day(2026, 9, 25), 55)))
	require.NoError(t, client.UpsertSnapshot(ctx, snapshot(scope, day(2026, 10, 1), 70)))

	got, err := client.GetLatestSnapshotBefore(ctx, scope, day(2026, 10, 1), day(2026, 7, 3))
	require.NoError(t, err)
	assert.Equal(t, 55, got.Overall)
	assert.Equal(t, day(2026, 9, 25), got.Day)

	_, err = client.GetLatestSnapshotBefore(ctx, scope, day(2026, 9, 1), day(2026, 7, 3))
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestGetSnapshots_OrderedByDay(t *testing.T) {
	client := setupTestClient(t)
	ctx := context.Background()
	scope := models.Scope{TenantID: "t1"}

	require.NoError(t, client.UpsertSnapshot(ctx, snapshot(scope, day(2026, 10, 3), 3)))
	require.NoError(t, client.UpsertSnapshot(ctx, snapshot(scope, day(2026, 10, 1), 1)))
	require.NoError(t, client.UpsertSnapshot(ctx, snapshot(scope, day(2026, 10, 2), 2)))

	snaps, err := client.GetSnapshots(ctx, scope, day(2026, 10, 1), day(2026, 10, 2))
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, 1, snaps[0].Overall)
	assert.Equal(t, 2, snaps[1].Overall)
}

func TestInsertAlertIfAbsent_DedupByNaturalKey(t *testing.T) {
	client := setupTestClient(t)
	ctx := context.Background()
	scope := models.Scope{TenantID: "t1"}
	now := time.Unix(1_790_000_000, 0)

	inserted, err := client.InsertAlertIfAbsent(ctx, newAlert(scope, "key-1", now))
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = client.InsertAlertIfAbsent(ctx, newAlert(scope, "key-1", now))
	require.NoError(t, err)
	assert.False(t, inserted)

	active, err := client.GetActiveAlerts(ctx, scope, now, 0)
	require.NoError(t, err)
	require.Len(t, active, 1)

	a := active[0]
	assert.Equal(t, "key-1", a.Key)
	assert.Equal(t, []string{"p-1"}, a.AffectedEntityIDs)
	require.NotNil(t, a.QuickAction)
	assert.Equal(t, "purchase_order.create", a.QuickAction.Command)
	assert.Equal(t, 60.0, a.QuickAction.Params["quantity"])
	require.NotNil(t, a.DaysUntilCritical)
	assert.Equal(t, 4, *a.DaysUntilCritical)
	require.NotNil(t, a.Confidence)
	assert.Equal(t, 0.9, *a.Confidence)
}

func TestDismissAlert_RowPersistsButLeavesActiveSet(t *testing.T) {
	client := setupTestClient(t)
	ctx := context.Background()
	scope := models.Scope{TenantID: "t1"}
	now := time.Unix(1_790_000_000, 0)

	a := newAlert(scope, "key-1", now)
	_, err := client.InsertAlertIfAbsent(ctx, a)
	require.NoError(t, err)

	ok, err := client.DismissAlert(ctx, a.ID, "handled manually", now)
	require.NoError(t, err)
	assert.True(t, ok)

	active, err := client.GetActiveAlerts(ctx, scope, now, 0)
	require.NoError(t, err)
	assert.Empty(t, active)

	stored, err := client.GetAlert(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AlertDismissed, stored.Status)
	assert.Equal(t, "handled manually", stored.DismissReason)
	require.NotNil(t, stored.DismissedAt)

	ok, err = client.DismissAlert(ctx, a.ID, "again", now)
	require.NoError(t, err)
	assert.False(t, ok)

	// Re-detection after dismissal creates a fresh active alert.
	inserted, err := client.InsertAlertIfAbsent(ctx, newAlert(scope, "key-1", now))
	require.NoError(t, err)
	assert.True(t, inserted)
}

func TestGetActiveAlerts_FiltersExpiredAtReadTime(t *testing.T) {
	client := setupTestClient(t)
	ctx := context.Background()
	scope := models.Scope{TenantID: "t1"}
	now := time.Unix(1_790_000_000, 0)

	expiring := newAlert(scope, "key-exp", now)
	expiresAt := now.Add(time.Hour)
	expiring.ExpiresAt = &expiresAt
	_, err := client.InsertAlertIfAbsent(ctx, expiring)
	require.NoError(t, err)

	active, err := client.GetActiveAlerts(ctx, scope, now, 0)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	later := now.Add(2 * time.Hour)
	active, err = client.GetActiveAlerts(ctx, scope, later, 0)
	require.NoError(t, err)
	assert.Empty(t, active)

	stored, err := client.GetAlert(ctx, expiring.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AlertActive, stored.Status)

	n, err := client.ExpireAlerts(ctx, scope, later)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	stored, err = client.GetAlert(ctx, expiring.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AlertExpired, stored.Status)
}

func TestGetActiveAlerts_InsertionOrderAndLimit(t *testing.T) {
	client := setupTestClient(t)
	ctx := context.Background()
	scope := models.Scope{TenantID: "t1"}
	now := time.Unix(1_790_000_000, 0)

	for _, key := range []string{"k-a", "k-b", "k-c"} {
		_, err := client.InsertAlertIfAbsent(ctx, newAlert(scope, key, now))
		require.NoError(t, err)
	}

	active, err := client.GetActiveAlerts(ctx, scope, now, 2)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "k-a", active[0].Key)
	assert.Equal(t, "k-b", active[1].Key)
}

func TestGetAlert_NotFound(t *testing.T) {
	client := setupTestClient(t)
	_, err := client.GetAlert(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestMetricPoints_UpsertAndRange(t *testing.T) {
	client := setupTestClient(t)
	ctx := context.Background()
	scope := models.Scope{TenantID: "t1"}

	require.NoError(t, client.RecordMetricPoint(ctx, scope, day(2026, 10, 17), "capital_tied_up", 100))
	require.NoError(t, client.RecordMetricPoint(ctx, scope, day(2026, 10, 18), "capital_tied_up", 120))
	require.NoError(t, client.RecordMetricPoint(ctx, scope, day(2026, 10, 18), "capital_tied_up", 130))
	require.NoError(t, client.RecordMetricPoint(ctx, scope, day(2026, 10, 18), "turnover_rate", 6))

	points, err := client.GetMetricPoints(ctx, scope, "capital_tied_up", day(2026, 10, 12), day(2026, 10, 18))
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, 100.0, points[0].Value)
	assert.Equal(t, 130.0, points[1].Value)
	assert.Equal(t, day(2026, 10, 18), points[1].Day)
}
