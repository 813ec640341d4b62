package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// captureStdout redirects the package stdout to a pipe and returns a function
// that restores it and yields what was written.
func captureStdout(t *testing.T) func() string {
	t.Helper()

	r, w, err := osPipe()
	require.NoError(t, err)

	orig := osStdout
	osStdout = w

	return func() string {
		w.Close()
		osStdout = orig
		var buf bytes.Buffer
		buf.ReadFrom(r)
		r.Close()
		return buf.String()
	}
}

func TestSetup_FileOnly(t *testing.T) {
	restore := captureStdout(t)

	var file bytes.Buffer
	m := NewSlogManager()
	m.Setup(&file, "info", nil)
	m.Logger().Info("flag placed", "flag", "f1")

	stdout := restore()
	assert.Contains(t, file.String(), "flag placed")
	assert.Contains(t, file.String(), "flag=f1")
	assert.Empty(t, stdout)
}

func TestSetup_NoFileUsesStdout(t *testing.T) {
	restore := captureStdout(t)

	m := NewSlogManager()
	m.Setup(nil, "info", nil)
	m.Logger().Info("on the console")

	assert.Contains(t, restore(), "on the console")
}

func TestSetup_Levels(t *testing.T) {
	tests := []struct {
		level     string
		debugSeen bool
		infoSeen  bool
	}{
		{"debug", true, true},
		{"info", false, true},
		{"warn", false, false},
		{"bogus", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			m := NewSlogManager()
			m.Setup(&buf, tt.level, nil)
			m.Logger().Debug("dbg-line")
			m.Logger().Info("info-line")

			assert.Equal(t, tt.debugSeen, strings.Contains(buf.String(), "dbg-line"))
			assert.Equal(t, tt.infoSeen, strings.Contains(buf.String(), "info-line"))
		})
	}
}

func TestSetLevel_AppliesWithoutRebuild(t *testing.T) {
	var buf bytes.Buffer
	m := NewSlogManager()
	m.Setup(&buf, "info", nil)
	logger := m.Logger()

	logger.Debug("hidden")
	m.SetLevel("debug")
	logger.Debug("visible")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "visible")
}

func TestSetup_ReplacesLogger(t *testing.T) {
	var first, second bytes.Buffer
	m := NewSlogManager()

	m.Setup(&first, "info", nil)
	m.Logger().Info("one")
	m.Setup(&second, "info", nil)
	m.Logger().Info("two")

	assert.NotContains(t, first.String(), "two")
	assert.Contains(t, second.String(), "two")
}

func TestLogger_DefaultBeforeSetup(t *testing.T) {
	m := NewSlogManager()
	assert.Equal(t, slog.Default(), m.Logger())
	assert.NoError(t, m.Flush(context.Background()))
}

func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	m := NewSlogManager()
	m.Setup(&buf, "info", nil)

	m.Component("postgres").Warn("PostGIS unavailable")
	assert.Contains(t, buf.String(), "component=postgres")
}

func TestSetup_DynamicAttrs(t *testing.T) {
	var buf bytes.Buffer
	calls := 0
	m := NewSlogManager()
	m.Dynamic = func() []slog.Attr {
		calls++
		return []slog.Attr{slog.Int("seq", calls)}
	}
	m.Setup(&buf, "info", nil)

	m.Logger().Info("a")
	m.Logger().Info("b")
	assert.Contains(t, buf.String(), "seq=2")
	assert.Contains(t, buf.String(), "seq=3")
}

func TestSetup_ExtraHandlers(t *testing.T) {
	var file, extra bytes.Buffer
	m := NewSlogManager()
	m.Setup(&file, "info", nil, slog.NewJSONHandler(&extra, nil))

	m.Logger().Warn("fan out")
	assert.Contains(t, file.String(), "fan out")
	assert.Contains(t, extra.String(), `"msg":"fan out"`)
}

func TestSetup_WithOTelProvider(t *testing.T) {
	provider := sdklog.NewLoggerProvider()
	var buf bytes.Buffer
	m := NewSlogManager()
	m.Setup(&buf, "info", provider)

	m.Logger().Info("bridged")
	assert.Contains(t, buf.String(), "bridged")
	assert.NoError(t, m.Flush(context.Background()))
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		" info ":  slog.LevelInfo,
		"warning": slog.LevelWarn,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"trace":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

var testTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type failingHandler struct{ slog.Handler }

func (failingHandler) Enabled(context.Context, slog.Level) bool { return true }
func (failingHandler) Handle(context.Context, slog.Record) error {
	return errors.New("sink down")
}

func TestFanout(t *testing.T) {
	var info, debug bytes.Buffer
	infoH := slog.NewTextHandler(&info, &slog.HandlerOptions{Level: slog.LevelInfo})
	debugH := slog.NewTextHandler(&debug, &slog.HandlerOptions{Level: slog.LevelDebug})

	f := newFanout(nil, nil, infoH, nil, debugH)
	require.Len(t, f.sinks, 2)
	assert.True(t, f.Enabled(context.Background(), slog.LevelDebug))

	slog.New(f).Debug("detail")
	assert.Empty(t, info.String())
	assert.Contains(t, debug.String(), "detail")

	assert.False(t, newFanout(nil).Enabled(context.Background(), slog.LevelError))
}

func TestFanout_AttrsAndGroups(t *testing.T) {
	var buf bytes.Buffer
	f := newFanout(nil, slog.NewTextHandler(&buf, nil))

	assert.Same(t, f, f.WithGroup(""))
	assert.Same(t, f, f.WithAttrs(nil))

	logger := slog.New(f.WithAttrs([]slog.Attr{slog.String("owner", "alice")}).WithGroup("flag"))
	logger.Info("captured", "id", "f1")

	assert.Contains(t, buf.String(), "owner=alice")
	assert.Contains(t, buf.String(), "flag.id=f1")
}

func TestFanout_FailingSinkDoesNotStopOthers(t *testing.T) {
	var buf bytes.Buffer
	f := newFanout(nil, failingHandler{}, slog.NewTextHandler(&buf, nil))

	err := f.Handle(context.Background(), slog.NewRecord(testTime, slog.LevelInfo, "still delivered", 0))
	assert.EqualError(t, err, "sink down")
	assert.Contains(t, buf.String(), "still delivered")
}

func TestNewGELFHandler(t *testing.T) {
	h, closer, err := NewGELFHandler("127.0.0.1:12201", "info")
	require.NoError(t, err)
	defer closer.Close()

	// UDP is connectionless; logging must not fail without a listener
	slog.New(h).Info("to graylog", "flag", "f1")

	_, _, err = NewGELFHandler("not-an-address", "info")
	assert.Error(t, err)
}
