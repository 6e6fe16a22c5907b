package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_WritesToRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "hive.log")

	logger, closer, err := New(Options{Level: slog.LevelInfo, File: path, JSON: true})
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("visible", slog.String("k", "v"))
	require.NoError(t, closer.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"msg":"visible"`)
	assert.NotContains(t, string(raw), "hidden")
}

func TestNew_Stdout(t *testing.T) {
	logger, closer, err := New(Options{Level: slog.LevelWarn})
	require.NoError(t, err)
	assert.False(t, logger.Enabled(t.Context(), slog.LevelInfo))
	assert.NoError(t, closer.Close())
}
