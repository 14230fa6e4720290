package log

import (
	"bytes"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/sunbk201/flowguard/internal/common"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{" warn ", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), tt.in)
	}
}

func TestNewLoggerFiltersLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "warn")
	logger.Info("hidden")
	logger.Warn("shown", slog.String("k", "v"))

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "msg=shown")
	assert.Contains(t, out, "k=v")
	assert.Regexp(t, `^time="\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}"`, out)
}

func TestLogWithFlow(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(NewLogger(&buf, "debug"))
	t.Cleanup(func() { slog.SetDefault(prev) })

	flow := common.NewFlow("flow-7", httptest.NewRequest("GET", "http://example.com/ws", nil))
	LogInfoWithFlow(flow, "rule matched", slog.String("rule", "websocket-close"))

	out := buf.String()
	assert.Contains(t, out, "flow.id=flow-7")
	assert.Contains(t, out, "rule=websocket-close")
}

func TestGetOSInfo(t *testing.T) {
	attrs := GetOSInfo()
	assert.NotEmpty(t, attrs)
}
