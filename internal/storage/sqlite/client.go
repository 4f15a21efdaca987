package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/stockpulse/backend/internal/storage/models"
	"github.com/stockpulse/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS health_snapshots (
		tenant_id TEXT NOT NULL,
		agency_id TEXT NOT NULL DEFAULT '',
		site_id TEXT NOT NULL DEFAULT '',
		day TEXT NOT NULL,
		stock_level INTEGER NOT NULL,
		turnover INTEGER NOT NULL,
		aging INTEGER NOT NULL,
		backorder INTEGER NOT NULL,
		supplier INTEGER NOT NULL,
		overall INTEGER NOT NULL,
		rating TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		UNIQUE (tenant_id, agency_id, site_id, day)
	);

	CREATE TABLE IF NOT EXISTS alerts (
		id TEXT PRIMARY KEY,
		natural_key TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		agency_id TEXT NOT NULL DEFAULT '',
		site_id TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL,
		severity TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT,
		financial_impact REAL NOT NULL DEFAULT 0,
		affected_entity_ids TEXT NOT NULL DEFAULT '[]',
		suggested_action TEXT,
		quick_action TEXT,
		days_until_critical INTEGER,
		confidence REAL,
		status TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		expires_at INTEGER,
		dismissed_at INTEGER,
		dismiss_reason TEXT
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_alerts_active_key ON alerts(natural_key) WHERE status = 'active';
	CREATE INDEX IF NOT EXISTS idx_alerts_scope_status ON alerts(tenant_id, agency_id, site_id, status);

	CREATE TABLE IF NOT EXISTS metric_points (
		tenant_id TEXT NOT NULL,
		agency_id TEXT NOT NULL DEFAULT '',
		site_id TEXT NOT NULL DEFAULT '',
		day TEXT NOT NULL,
		name TEXT NOT NULL,
		value REAL NOT NULL,
		UNIQUE (tenant_id, agency_id, site_id, day, name)
	);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

// UpsertSnapshot writes the snapshot for its (scope, day). A second write on
// the same day replaces the first.
func (c *Client) UpsertSnapshot(ctx context.Context, s *models.HealthSnapshot) error {
	query := `
		INSERT INTO health_snapshots (tenant_id, agency_id, site_id, day, stock_level, turnover, aging,
			backorder, supplier, overall, rating, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, agency_id, site_id, day) DO UPDATE SET
			stock_level = excluded.stock_level,
			turnover = excluded.turnover,
			aging = excluded.aging,
			backorder = excluded.backorder,
			supplier = excluded.supplier,
			overall = excluded.overall,
			rating = excluded.rating,
			updated_at = excluded.updated_at
	`

	_, err := c.db.ExecContext(ctx, query,
		s.Scope.TenantID,
		s.Scope.AgencyID,
		s.Scope.SiteID,
		s.Day.Format(models.DayLayout),
		s.StockLevel,
		s.Turnover,
		s.Aging,
		s.Backorder,
		s.Supplier,
		s.Overall,
		s.Rating,
		s.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert health snapshot: %w", err)
	}

	logger.Debug("Health snapshot upserted",
		zap.String("tenant_id", s.Scope.TenantID),
		zap.String("day", s.Day.Format(models.DayLayout)),
		zap.Int("overall", s.Overall),
	)
	return nil
}

const snapshotColumns = `tenant_id, agency_id, site_id, day, stock_level, turnover, aging, backorder, supplier, overall, rating, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSnapshot(row rowScanner) (*models.HealthSnapshot, error) {
	var s models.HealthSnapshot
	var day string
	var updatedAt int64

	err := row.Scan(&s.Scope.TenantID, &s.Scope.AgencyID, &s.Scope.SiteID, &day,
		&s.StockLevel, &s.Turnover, &s.Aging, &s.Backorder, &s.Supplier, &s.Overall, &s.Rating, &updatedAt)
	if err != nil {
		return nil, err
	}

	s.Day, err = time.Parse(models.DayLayout, day)
	if err != nil {
		return nil, fmt.Errorf("invalid snapshot day %q: %w", day, err)
	}
	s.UpdatedAt = time.Unix(updatedAt, 0)
	return &s, nil
}

func (c *Client) GetSnapshot(ctx context.Context, scope models.Scope, day time.Time) (*models.HealthSnapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM health_snapshots
		WHERE tenant_id = ? AND agency_id = ? AND site_id = ? AND day = ?`

	s, err := scanSnapshot(c.db.QueryRowContext(ctx, query,
		scope.TenantID, scope.AgencyID, scope.SiteID, day.Format(models.DayLayout)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get health snapshot: %w", err)
	}
	return s, nil
}

// GetLatestSnapshotBefore returns the most recent snapshot with
// notBefore <= day < before.
func (c *Client) GetLatestSnapshotBefore(ctx context.Context, scope models.Scope, before, notBefore time.Time) (*models.HealthSnapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM health_snapshots
		WHERE tenant_id = ? AND agency_id = ? AND site_id = ? AND day < ? AND day >= ?
		ORDER BY day DESC
		LIMIT 1`

	s, err := scanSnapshot(c.db.QueryRowContext(ctx, query,
		scope.TenantID, scope.AgencyID, scope.SiteID,
		before.Format(models.DayLayout), notBefore.Format(models.DayLayout)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get previous health snapshot: %w", err)
	}
	return s, nil
}

// GetSnapshots returns snapshots with from <= day <= to ordered by day.
func (c *Client) GetSnapshots(ctx context.Context, scope models.Scope, from, to time.Time) ([]models.HealthSnapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM health_snapshots
		WHERE tenant_id = ? AND agency_id = ? AND site_id = ? AND day >= ? AND day <= ?
		ORDER BY day ASC`

	rows, err := c.db.QueryContext(ctx, query,
		scope.TenantID, scope.AgencyID, scope.SiteID,
		from.Format(models.DayLayout), to.Format(models.DayLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to get health snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []models.HealthSnapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		snapshots = append(snapshots, *s)
	}

	return snapshots, rows.Err()
}

// InsertAlertIfAbsent inserts the alert unless an active alert with the same
// natural key exists. It reports whether a row was written.
func (c *Client) InsertAlertIfAbsent(ctx context.Context, a *models.Alert) (bool, error) {
	entitiesJSON, err := json.Marshal(a.AffectedEntityIDs)
	if err != nil {
		return false, fmt.Errorf("failed to marshal affected entities: %w", err)
	}

	var quickAction sql.NullString
	if a.QuickAction != nil {
		data, err := json.Marshal(a.QuickAction)
		if err != nil {
			return false, fmt.Errorf("failed to marshal quick action: %w", err)
		}
		quickAction = sql.NullString{String: string(data), Valid: true}
	}

	var days sql.NullInt64
	if a.DaysUntilCritical != nil {
		days = sql.NullInt64{Int64: int64(*a.DaysUntilCritical), Valid: true}
	}
	var confidence sql.NullFloat64
	if a.Confidence != nil {
		confidence = sql.NullFloat64{Float64: *a.Confidence, Valid: true}
	}
	var expiresAt sql.NullInt64
	if a.ExpiresAt != nil {
		expiresAt = sql.NullInt64{Int64: a.ExpiresAt.Unix(), Valid: true}
	}

	query := `
		INSERT OR IGNORE INTO alerts (id, natural_key, tenant_id, agency_id, site_id, type, severity, title,
			description, financial_impact, affected_entity_ids, suggested_action, quick_action,
			days_until_critical, confidence, status, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := c.db.ExecContext(ctx, query,
		a.ID,
		a.Key,
		a.Scope.TenantID,
		a.Scope.AgencyID,
		a.Scope.SiteID,
		string(a.Type),
		string(a.Severity),
		a.Title,
		a.Description,
		a.FinancialImpact,
		string(entitiesJSON),
		a.SuggestedAction,
		quickAction,
		days,
		confidence,
		string(a.Status),
		a.CreatedAt.Unix(),
		expiresAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert alert: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read insert result: %w", err)
	}
	return n == 1, nil
}

// ExpireAlerts moves active alerts of the scope whose expiry has passed to
// the expired status and returns how many changed.
func (c *Client) ExpireAlerts(ctx context.Context, scope models.Scope, now time.Time) (int64, error) {
	query := `
		UPDATE alerts SET status = 'expired'
		WHERE tenant_id = ? AND agency_id = ? AND site_id = ?
			AND status = 'active' AND expires_at IS NOT NULL AND expires_at <= ?
	`

	result, err := c.db.ExecContext(ctx, query, scope.TenantID, scope.AgencyID, scope.SiteID, now.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to expire alerts: %w", err)
	}
	return result.RowsAffected()
}

const alertColumns = `id, natural_key, tenant_id, agency_id, site_id, type, severity, title, description,
	financial_impact, affected_entity_ids, suggested_action, quick_action, days_until_critical, confidence,
	status, created_at, expires_at, dismissed_at, dismiss_reason`

func scanAlert(row rowScanner) (*models.Alert, error) {
	var a models.Alert
	var alertType, severity, status, entitiesJSON string
	var description, suggested, quickAction, dismissReason sql.NullString
	var days, expiresAt, dismissedAt sql.NullInt64
	var confidence sql.NullFloat64
	var createdAt int64

	err := row.Scan(&a.ID, &a.Key, &a.Scope.TenantID, &a.Scope.AgencyID, &a.Scope.SiteID,
		&alertType, &severity, &a.Title, &description, &a.FinancialImpact, &entitiesJSON, &suggested,
		&quickAction, &days, &confidence, &status, &createdAt, &expiresAt, &dismissedAt, &dismissReason)
	if err != nil {
		return nil, err
	}

	a.Type = models.AlertType(alertType)
	a.Severity = models.Severity(severity)
	a.Status = models.AlertStatus(status)
	a.Description = description.String
	a.SuggestedAction = suggested.String
	a.DismissReason = dismissReason.String
	a.CreatedAt = time.Unix(createdAt, 0)

	if err := json.Unmarshal([]byte(entitiesJSON), &a.AffectedEntityIDs); err != nil {
		return nil, fmt.Errorf("invalid affected_entity_ids: %w", err)
	}
	if quickAction.Valid {
		a.QuickAction = &models.QuickAction{}
		if err := json.Unmarshal([]byte(quickAction.String), a.QuickAction); err != nil {
			return nil, fmt.Errorf("invalid quick_action: %w", err)
		}
	}
	if days.Valid {
		d := int(days.Int64)
		a.DaysUntilCritical = &d
	}
	if confidence.Valid {
		c := confidence.Float64
		a.Confidence = &c
	}
	if expiresAt.Valid {
		t := time.Unix(expiresAt.Int64, 0)
		a.ExpiresAt = &t
	}
	if dismissedAt.Valid {
		t := time.Unix(dismissedAt.Int64, 0)
		a.DismissedAt = &t
	}

	return &a, nil
}

// GetActiveAlerts returns the scope's active, unexpired alerts in insertion
// order. limit <= 0 means no limit.
func (c *Client) GetActiveAlerts(ctx context.Context, scope models.Scope, now time.Time, limit int) ([]models.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts
		WHERE tenant_id = ? AND agency_id = ? AND site_id = ? AND status = 'active'
			AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY created_at ASC, rowid ASC`
	args := []interface{}{scope.TenantID, scope.AgencyID, scope.SiteID, now.Unix()}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get active alerts: %w", err)
	}
	defer rows.Close()

	var alerts []models.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		alerts = append(alerts, *a)
	}

	return alerts, rows.Err()
}

func (c *Client) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE id = ?`

	a, err := scanAlert(c.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return a, nil
}

// DismissAlert moves an active alert to dismissed. It reports false when no
// active row matched.
func (c *Client) DismissAlert(ctx context.Context, id, reason string, now time.Time) (bool, error) {
	query := `
		UPDATE alerts SET status = 'dismissed', dismissed_at = ?, dismiss_reason = ?
		WHERE id = ? AND status = 'active'
	`

	result, err := c.db.ExecContext(ctx, query, now.Unix(), reason, id)
	if err != nil {
		return false, fmt.Errorf("failed to dismiss alert: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read dismiss result: %w", err)
	}

	if n == 1 {
		logger.Info("Alert dismissed", zap.String("alert_id", id), zap.String("reason", reason))
	}
	return n == 1, nil
}

// RecordMetricPoint upserts one daily value of a named metric for the scope.
func (c *Client) RecordMetricPoint(ctx context.Context, scope models.Scope, day time.Time, name string, value float64) error {
	query := `
		INSERT INTO metric_points (tenant_id, agency_id, site_id, day, name, value)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, agency_id, site_id, day, name) DO UPDATE SET value = excluded.value
	`

	_, err := c.db.ExecContext(ctx, query, scope.TenantID, scope.AgencyID, scope.SiteID,
		day.Format(models.DayLayout), name, value)
	if err != nil {
		return fmt.Errorf("failed to record metric point: %w", err)
	}
	return nil
}

// GetMetricPoints returns the named metric's daily values with
// from <= day <= to ordered by day.
func (c *Client) GetMetricPoints(ctx context.Context, scope models.Scope, name string, from, to time.Time) ([]models.MetricPoint, error) {
	query := `
		SELECT day, value FROM metric_points
		WHERE tenant_id = ? AND agency_id = ? AND site_id = ? AND name = ? AND day >= ? AND day <= ?
		ORDER BY day ASC
	`

	rows, err := c.db.QueryContext(ctx, query, scope.TenantID, scope.AgencyID, scope.SiteID, name,
		from.Format(models.DayLayout), to.Format(models.DayLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to get metric points: %w", err)
	}
	defer rows.Close()

	var points []models.MetricPoint
	for rows.Next() {
		var day string
		var p models.MetricPoint
		if err := rows.Scan(&day, &p.Value); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		p.Day, err = time.Parse(models.DayLayout, day)
		if err != nil {
			return nil, fmt.Errorf("invalid metric day %q: %w", day, err)
		}
		points = append(points, p)
	}

	return points, rows.Err()
}
