package pkg

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureLogs routes the default logger to a buffer at level for the rest
// of the test.
func captureLogs(t *testing.T, level slog.Level) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	origLogger := DefaultLogger
	origLevel := GetLogLevel()
	t.Cleanup(func() {
		SetLogger(origLogger)
		SetLogLevel(origLevel)
	})
	SetLogLevel(level)
	SetLogger(NewLogger(&buf, nil))
	return &buf
}

func TestSetLogLevel(t *testing.T) {
	original := GetLogLevel()
	defer SetLogLevel(original)

	for _, level := range []slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelWarn, slog.LevelError} {
		SetLogLevel(level)
		assert.Equal(t, level, GetLogLevel())
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})
	require.NotNil(t, logger)

	logger.Info("stream configured", "buffers", 16)
	assert.Contains(t, buf.String(), "stream configured")
	assert.Contains(t, buf.String(), "buffers=16")
}

func TestNewLogger_FollowsPackageLevel(t *testing.T) {
	original := GetLogLevel()
	defer SetLogLevel(original)

	var buf bytes.Buffer
	logger := NewLogger(&buf, nil)

	SetLogLevel(slog.LevelWarn)
	logger.Info("hidden")
	assert.Empty(t, buf.String())

	SetLogLevel(slog.LevelInfo)
	logger.Info("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestNewJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})
	require.NotNil(t, logger)

	logger.Info("worker running", "layout", "rx_x1")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "worker running", rec["msg"])
	assert.Equal(t, "rx_x1", rec["layout"])
}

func TestLogFunctions(t *testing.T) {
	tests := []struct {
		name      string
		log       func(Component, string, ...any)
		component Component
		level     string
	}{
		{"debug", LogDebug, ComponentSync, "DEBUG"},
		{"info", LogInfo, ComponentDevice, "INFO"},
		{"warn", LogWarn, ComponentWorker, "WARN"},
		{"error", LogError, ComponentHAL, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := captureLogs(t, slog.LevelDebug)

			tt.log(tt.component, "buffer submitted", "buffer", 3)
			out := buf.String()
			assert.Contains(t, out, "level="+tt.level)
			assert.Contains(t, out, "buffer submitted")
			assert.Contains(t, out, "component="+string(tt.component))
			assert.Contains(t, out, "buffer=3")
		})
	}
}

func TestLogFunctions_BelowLevel(t *testing.T) {
	buf := captureLogs(t, slog.LevelWarn)

	LogDebug(ComponentStream, "transfer completed")
	LogInfo(ComponentStream, "stream running")
	assert.Empty(t, buf.String())

	LogWarn(ComponentStream, "closing stream that is still active")
	assert.Contains(t, buf.String(), "closing stream that is still active")
}

func TestComponentLogger(t *testing.T) {
	buf := captureLogs(t, slog.LevelDebug)

	session := NewComponentLogger(ComponentSync, "session", "3f2c", "layout", "tx_x1")
	require.True(t, session.Valid())
	assert.Equal(t, ComponentSync, session.Component())

	session.Debug("worker running")
	session.For(ComponentWorker).Info("start requested")
	session.For(ComponentWorker).For(ComponentStream).Warn("transfer failed", "slot", 2)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	for i, component := range []Component{ComponentSync, ComponentWorker, ComponentStream} {
		assert.Contains(t, lines[i], "component="+string(component))
		assert.Contains(t, lines[i], "session=3f2c")
		assert.Contains(t, lines[i], "layout=tx_x1")
	}
	assert.Contains(t, lines[2], "slot=2")
}

func TestComponentLogger_With(t *testing.T) {
	buf := captureLogs(t, slog.LevelDebug)

	base := NewComponentLogger(ComponentHAL, "path", "/dev/bus/usb/002/004")
	ep := base.With("endpoint", "0x81")

	base.Error("release failed")
	ep.Error("urb reap failed")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.NotContains(t, lines[0], "endpoint=")
	assert.Contains(t, lines[1], "endpoint=0x81")
	assert.Contains(t, lines[1], "path=/dev/bus/usb/002/004")
}

func TestComponentLogger_Zero(t *testing.T) {
	var l Logger
	assert.False(t, l.Valid())
	assert.Equal(t, Component(""), l.Component())
}

func TestSetLogger(t *testing.T) {
	buf := captureLogs(t, slog.LevelInfo)

	// Loggers created before SetLogger follow the replacement.
	l := NewComponentLogger(ComponentDevice)
	var replacement bytes.Buffer
	SetLogger(NewLogger(&replacement, nil))

	l.Info("device opened")
	assert.Empty(t, buf.String())
	assert.Contains(t, replacement.String(), "device opened")
}
