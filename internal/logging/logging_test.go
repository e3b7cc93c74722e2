package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), "level %q", in)
	}
}

func TestNewFormats(t *testing.T) {
	for _, format := range []string{"text", "json", "console"} {
		t.Run(format, func(t *testing.T) {
			var buf bytes.Buffer
			logger, closeFn, err := New(Options{Level: "info", Format: format, Output: &buf})
			require.NoError(t, err)
			defer closeFn()

			logger.Info("batch finished", "successful", 3)
			assert.Contains(t, buf.String(), "batch finished")
		})
	}
}

func TestNewUnknownFormat(t *testing.T) {
	_, _, err := New(Options{Format: "xml"})
	require.Error(t, err)
}

func TestQuietSuppressesInfo(t *testing.T) {
	var buf bytes.Buffer
	logger, closeFn, err := New(Options{Level: "debug", Quiet: true, Output: &buf})
	require.NoError(t, err)
	defer closeFn()

	logger.Info("hidden")
	logger.Error("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestLogFileFanout(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "mediagrab.log")

	logger, closeFn, err := New(Options{Level: "error", Output: &buf, File: path})
	require.NoError(t, err)

	logger.Debug("only in file", "slot", 1)
	require.NoError(t, closeFn())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `"msg":"only in file"`))
	assert.Empty(t, buf.String())
}
