package logging

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withBuffer(t *testing.T, level string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	Init(Config{Level: level, Format: "json", Output: &buf})
	t.Cleanup(func() { Init(DefaultConfig()) })
	return &buf
}

func TestComponentLoggerAddsField(t *testing.T) {
	buf := withBuffer(t, "info")

	l := Component("drainer")
	l.Info().Int("succeeded", 2).Msg("drain finished")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "drainer", line["component"])
	assert.Equal(t, "drain finished", line["message"])
	assert.EqualValues(t, 2, line["succeeded"])
}

func TestLevelFiltering(t *testing.T) {
	buf := withBuffer(t, "warn")

	Info().Msg("hidden")
	Warn().Msg("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, parseLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, parseLevel("warning"))
	assert.Equal(t, zerolog.Disabled, parseLevel("off"))
	assert.Equal(t, zerolog.InfoLevel, parseLevel("bogus"))
}

func TestSlogHandlerForwardsGroupsAndAttrs(t *testing.T) {
	buf := withBuffer(t, "debug")

	logger := NewSlogLogger().WithGroup("supervisor").With("service", "prober")
	logger.Warn("service restarted", slog.Int("restarts", 3))

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "warn", line["level"])
	assert.Equal(t, "prober", line["supervisor.service"])
	assert.EqualValues(t, 3, line["supervisor.restarts"])
}

func TestFileOutputRotates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.log")
	Init(Config{Level: "info", File: path, MaxSizeMB: 1})
	t.Cleanup(func() {
		_ = Close()
		Init(DefaultConfig())
	})

	Info().Msg("to file")
	require.NoError(t, Close())
	assert.FileExists(t, path)
}
