package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInit_InvalidLevel(t *testing.T) {
	err := Init("loud", "json", "stdout")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestInit_WritesJSONToFile(t *testing.T) {
	prev := Log
	defer func() { Log = prev }()

	path := filepath.Join(t.TempDir(), "engine.log")
	require.NoError(t, Init("debug", "json", path))

	Info("report generated", zap.String("tenant_id", "t1"))
	Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	line := string(data)
	assert.True(t, strings.Contains(line, `"message":"report generated"`))
	assert.True(t, strings.Contains(line, `"tenant_id":"t1"`))
	assert.True(t, strings.Contains(line, `"service":"stockpulse"`))
}

func TestInit_MultipleSinksAndWith(t *testing.T) {
	prev := Log
	defer func() { Log = prev }()

	dir := t.TempDir()
	first := filepath.Join(dir, "a.log")
	second := filepath.Join(dir, "b.log")
	require.NoError(t, Init("info", "json", first+", "+second))

	With(zap.String("tenant_id", "t9")).Warn("sub-score fell back")
	Debug("filtered out")
	Sync()

	for _, path := range []string{first, second} {
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		out := string(data)
		assert.Contains(t, out, `"tenant_id":"t9"`)
		assert.Contains(t, out, `"level":"warn"`)
		assert.NotContains(t, out, "filtered out")
	}
}

func TestInit_BadFile(t *testing.T) {
	err := Init("info", "json", filepath.Join(t.TempDir(), "missing", "x.log"))
	assert.Error(t, err)
}
