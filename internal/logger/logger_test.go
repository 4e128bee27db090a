package logger

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Writer: &buf, Format: FormatJSON})
	l.Info("document parsed", "blocks", 12)

	assert.Contains(t, buf.String(), `"msg":"document parsed"`)
	assert.Contains(t, buf.String(), `"blocks":12`)
}

func TestNew_EnvironmentPicksFormat(t *testing.T) {
	var prod, dev bytes.Buffer
	New(Config{Writer: &prod, Environment: "production"}).Info("hello")
	New(Config{Writer: &dev, Environment: "development"}).Info("hello")

	assert.Contains(t, prod.String(), `"level":"INFO"`)
	assert.Contains(t, dev.String(), "INF")
	assert.NotContains(t, dev.String(), `"level"`)
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Writer: &buf, Format: FormatPretty, Level: "warn"})
	l.Info("hidden")
	l.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestPrettyHandler_AttrsAndGroups(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(NewPrettyHandler(&buf, nil))
	Component(l, "chapters").WithGroup("req").Info("detected", "count", 3, "took", 2*time.Second, "title", "Part One")

	out := buf.String()
	assert.Contains(t, out, "component=chapters")
	assert.Contains(t, out, "req.count=3")
	assert.Contains(t, out, "req.took=2s")
	assert.Contains(t, out, `req.title="Part One"`)
}

func TestDiscard(t *testing.T) {
	l := Discard()
	assert.False(t, l.Enabled(nil, slog.LevelError))
}
