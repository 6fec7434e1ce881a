package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew_Levels(t *testing.T) {
	logger, err := New("warn", "json", false, "")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))

	logger, err = New("warn", "console", true, "")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
}

func TestNew_InvalidLevel(t *testing.T) {
	_, err := New("loud", "json", false, "")
	assert.Error(t, err)
}

func TestNew_WritesRunLog(t *testing.T) {
	dir := t.TempDir()
	logger, err := New("info", "json", false, dir)
	require.NoError(t, err)

	logger.Info("hello")
	_ = logger.Sync()

	data, err := os.ReadFile(filepath.Join(dir, "run.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
}

func TestNew_RunLogHasNoColor(t *testing.T) {
	dir := t.TempDir()
	logger, err := New("info", "console", false, dir)
	require.NoError(t, err)

	logger.Warn("hello")
	_ = logger.Sync()

	data, err := os.ReadFile(filepath.Join(dir, "run.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "WARN")
	assert.Contains(t, string(data), "hello")
	assert.NotContains(t, string(data), "\x1b[")
}
