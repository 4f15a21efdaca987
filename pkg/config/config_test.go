package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestLoad_DefaultValues(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "./data/stockpulse.db", cfg.SQLite.Path)
	assert.Equal(t, "inventory", cfg.Postgres.Database)
	assert.Equal(t, "disable", cfg.Postgres.SSLMode)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 5, cfg.Engine.CriticalAlertLimit)
	assert.Equal(t, 300*time.Second, cfg.Engine.ReportCacheTTL())
	assert.Equal(t, 168*time.Hour, cfg.Engine.AlertTTL())
	assert.Equal(t, 15*time.Second, cfg.Engine.SubtaskTimeout())
	assert.Equal(t, 7, cfg.Engine.SparklineDays)
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 120, cfg.RateLimit.RequestsPerMinute)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.False(t, cfg.Tracing.Enabled)
	assert.Equal(t, 1.0, cfg.Tracing.SampleRatio)
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	chdirTemp(t)
	t.Setenv("STOCKPULSE_SERVER_PORT", "9090")
	t.Setenv("STOCKPULSE_POSTGRES_HOST", "db.internal")
	t.Setenv("STOCKPULSE_REDIS_ENABLED", "false")
	t.Setenv("STOCKPULSE_LOGGING_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "db.internal", cfg.Postgres.Host)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := chdirTemp(t)
	content := []byte("engine:\n  criticalAlertLimit: 8\n  alertTTLHours: 0\nsqlite:\n  path: /tmp/engine.db\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), content, 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Engine.CriticalAlertLimit)
	assert.Equal(t, time.Duration(0), cfg.Engine.AlertTTL())
	assert.Equal(t, "/tmp/engine.db", cfg.SQLite.Path)
}

func TestLoad_RejectsNonPositiveAlertLimit(t *testing.T) {
	chdirTemp(t)
	t.Setenv("STOCKPULSE_ENGINE_CRITICALALERTLIMIT", "0")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "criticalAlertLimit")
}

func TestPostgresConfig_DSN(t *testing.T) {
	p := PostgresConfig{Host: "h", Port: 5432, User: "u", Password: "p", Database: "d", SSLMode: "disable"}
	assert.Equal(t, "host=h port=5432 user=u password=p dbname=d sslmode=disable", p.DSN())
}
