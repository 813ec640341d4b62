package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// replaced in tests
var (
	osStdout = os.Stdout
	osPipe   = os.Pipe
)

// OTelScope is the instrumentation scope of records bridged to OpenTelemetry.
const OTelScope = "territoryd"

// SlogManager owns the process logger: a text handler on the session log
// file, the OTel bridge and any extra handlers, behind one adjustable level.
type SlogManager struct {
	logger      *slog.Logger
	logProvider *sdklog.LoggerProvider
	level       slog.LevelVar

	// Dynamic, when set before Setup, is evaluated on every record and its
	// attributes appended (uptime, flag count and the like).
	Dynamic func() []slog.Attr
}

// NewSlogManager creates a manager whose Logger is slog.Default until Setup.
func NewSlogManager() *SlogManager {
	return &SlogManager{}
}

func parseLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func utcTime(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.TimeKey {
		return a
	}
	if t, ok := a.Value.Any().(time.Time); ok {
		a.Value = slog.StringValue(t.UTC().Format(time.RFC3339))
	}
	return a
}

func handlerOptions(level slog.Leveler) *slog.HandlerOptions {
	return &slog.HandlerOptions{Level: level, ReplaceAttr: utcTime}
}

// Setup (re)builds the logger. Records go to file, or stdout when file is
// nil, then to OTel when provider is non-nil, then to each extra handler.
func (m *SlogManager) Setup(file io.Writer, level string, provider *sdklog.LoggerProvider, extra ...slog.Handler) {
	m.logProvider = provider
	m.level.Set(parseLevel(level))

	out := file
	if out == nil {
		out = osStdout
	}
	sinks := []slog.Handler{slog.NewTextHandler(out, handlerOptions(&m.level))}
	if provider != nil {
		sinks = append(sinks, otelslog.NewHandler(OTelScope, otelslog.WithLoggerProvider(provider)))
	}
	sinks = append(sinks, extra...)

	m.logger = slog.New(newFanout(m.Dynamic, sinks...))
	m.logger.Info("Logging initialized", "level", m.level.Level().String())
}

// SetLevel changes the file handler level without rebuilding the logger.
func (m *SlogManager) SetLevel(level string) {
	m.level.Set(parseLevel(level))
}

// Logger returns the configured logger, or slog.Default before Setup.
func (m *SlogManager) Logger() *slog.Logger {
	if m.logger == nil {
		return slog.Default()
	}
	return m.logger
}

// Component returns a logger tagging every record with component=name.
func (m *SlogManager) Component(name string) *slog.Logger {
	return m.Logger().With("component", name)
}

func (m *SlogManager) Flush(ctx context.Context) error {
	if m.logProvider != nil {
		return m.logProvider.ForceFlush(ctx)
	}
	return nil
}
