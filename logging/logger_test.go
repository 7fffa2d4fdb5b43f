package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
		err  bool
	}{
		{"debug", LogLevelDebug, false},
		{" INFO ", LogLevelInfo, false},
		{"", LogLevelInfo, false},
		{"warning", LogLevelWarn, false},
		{"error", LogLevelError, false},
		{"verbose", LogLevelInfo, true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if tt.err {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	assert.Equal(t, "WARN", LogLevelWarn.String())
	assert.Equal(t, "UNKNOWN", LogLevel(9).String())
}

func TestStructuredLogger_LevelAndAttributes(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&LoggerConfig{Level: LogLevelInfo, Format: "json", Output: &buf, Component: "runner"}).
		WithContext("run", "r1")

	l.Debug("hidden")
	l.Info("session.invoke.start", "agent_id", "asst_1")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "session.invoke.start", lines[0]["msg"])
	assert.Equal(t, "runner", lines[0]["component"])
	assert.Equal(t, "r1", lines[0]["run"])
	assert.Equal(t, "asst_1", lines[0]["agent_id"])
}

func TestStructuredLogger_WithCopies(t *testing.T) {
	var buf bytes.Buffer
	base := NewLogger(&LoggerConfig{Level: LogLevelDebug, Format: "json", Output: &buf})
	derived := base.WithComponent("registry").WithContext("plugin", "WeatherPlugin")

	base.Info("base")
	derived.Info("derived")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.NotContains(t, lines[0], "component")
	assert.NotContains(t, lines[0], "plugin")
	assert.Equal(t, "registry", lines[1]["component"])
}

func TestStructuredLogger_Helpers(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&LoggerConfig{Level: LogLevelDebug, Format: "json", Output: &buf})

	l.LogToolCall("ElectricityPlugin", "GetElectricityPrice", "GET", 200, 15*time.Millisecond, nil)
	l.LogToolCall("ElectricityPlugin", "GetElectricityPrice", "GET", 0, time.Millisecond, errors.New("dial tcp: refused"))
	l.LogLifecycle("thread", "thread_1", "delete", nil)
	l.LogLifecycle("agent", "asst_1", "delete", errors.New("404"))
	l.StartTimer("load")()

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 5)
	assert.Equal(t, "tool.http.completed", lines[0]["msg"])
	assert.Equal(t, "INFO", lines[0]["level"])
	assert.Equal(t, "tool.http.failed", lines[1]["msg"])
	assert.Equal(t, "ERROR", lines[1]["level"])
	assert.Equal(t, "dial tcp: refused", lines[1]["error"])
	assert.Equal(t, "resource.lifecycle", lines[2]["msg"])
	assert.Equal(t, "resource.lifecycle.failed", lines[3]["msg"])
	assert.Equal(t, "WARN", lines[3]["level"])
	assert.Equal(t, "operation.completed", lines[4]["msg"])
	assert.Equal(t, "load", lines[4]["operation"])
}

func TestStructuredLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(&LoggerConfig{Level: LogLevelInfo, Format: "text", Output: &buf}).Warn("tool.registered", "plugin", "WeatherPlugin")

	assert.Contains(t, buf.String(), "msg=tool.registered")
	assert.Contains(t, buf.String(), "plugin=WeatherPlugin")
}

func TestSlogAdapter(t *testing.T) {
	var buf bytes.Buffer
	var l Logger = NewSlogAdapter(slog.New(slog.NewJSONHandler(&buf, nil)))
	l.Info("hello", "k", "v")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "v", lines[0]["k"])

	var _ Logger = NoOpLogger{}
}
