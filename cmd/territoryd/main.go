package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/geoflags/territory/internal/api"
	"github.com/geoflags/territory/internal/config"
	"github.com/geoflags/territory/internal/conflict"
	"github.com/geoflags/territory/internal/dispatcher"
	"github.com/geoflags/territory/internal/economy"
	"github.com/geoflags/territory/internal/flagstore"
	"github.com/geoflags/territory/internal/influx"
	"github.com/geoflags/territory/internal/logging"
	"github.com/geoflags/territory/internal/metrics"
	"github.com/geoflags/territory/internal/notify"
	intOtel "github.com/geoflags/territory/internal/otel"
	"github.com/geoflags/territory/internal/rules"
	"github.com/geoflags/territory/internal/territory"
	"github.com/geoflags/territory/pkg/core"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const meterName = "github.com/geoflags/territory"

// Version and BuildDate can be set at build time via ldflags.
var (
	Version   = "0.0.1"
	BuildDate = "unknown"
)

var (
	// SlogManager handles all slog-based logging
	SlogManager *logging.SlogManager

	// Logger is the slog logger (convenience reference)
	Logger *slog.Logger

	// ZLogger feeds the dispatcher and the database layer
	ZLogger zerolog.Logger

	// OTelProvider handles OpenTelemetry
	OTelProvider *intOtel.Provider

	SessionStartTime = time.Now()

	// influxManager is nil unless InfluxDB is enabled
	influxManager *influx.Manager

	// closers run in reverse order on shutdown
	closers []func() error
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "territoryd:", err)
		os.Exit(1)
	}
}

func run() error {
	fs := pflag.NewFlagSet("territoryd", pflag.ExitOnError)
	configDir := fs.StringP("config", "c", ".", "directory containing "+config.ConfigFileName)
	fs.String("listen", ":8080", "HTTP listen address")
	fs.String("log-level", "info", "log level: debug, info, warn or error")
	showVersion := fs.BoolP("version", "v", false, "print the version and exit")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}
	if *showVersion {
		fmt.Printf("territoryd %s (built %s)\n", Version, BuildDate)
		return nil
	}

	cfgErr := config.Load(*configDir)
	bindFlag(fs, "listen", "server.address")
	bindFlag(fs, "log-level", "logLevel")

	if err := initLogging(); err != nil {
		return err
	}
	defer shutdown()

	if cfgErr != nil {
		Logger.Warn("Config file not loaded, using defaults", "dir", *configDir, "error", cfgErr)
	} else {
		watchLogLevel()
	}
	Logger.Info("Starting territoryd", "version", Version, "build", BuildDate)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gc, err := config.GetGameConfig()
	if err != nil {
		return err
	}
	r, err := rules.FromConfig(gc)
	if err != nil {
		return fmt.Errorf("invalid game config: %w", err)
	}
	strategy, err := conflict.ParseStrategy(gc.ConflictStrategy)
	if err != nil {
		return err
	}

	backend, err := initStorage()
	if err != nil {
		return err
	}

	hub, outbox, err := initNotify()
	if err != nil {
		return err
	}

	w, err := initWallet()
	if err != nil {
		return err
	}
	check, err := initTerrain()
	if err != nil {
		return err
	}

	actions, err := intOtel.NewActionMetrics(OTelProvider.Meter(meterName))
	if err != nil {
		return fmt.Errorf("failed to create action metrics: %w", err)
	}

	svc, err := territory.New(territory.Dependencies{
		Rules:            r,
		Backend:          backend,
		Wallet:           w,
		Terrain:          check,
		Events:           hub,
		Sampler:          economy.UniformSampler(r.RevenueVariance, time.Now().UnixNano()),
		Strategy:         strategy,
		IndexCellDegrees: gc.IndexCellDegrees,
		Store:            flagstore.Config{RetryAttempts: gc.RetryAttempts, RetryBackoff: gc.RetryBackoff},
		Metrics:          actions,
		Logger:           Logger,
		OnSweep:          reportSweep,
	})
	if err != nil {
		return err
	}
	n, err := svc.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load flags: %w", err)
	}
	Logger.Info("Flags loaded", "count", n, "strategy", strategy)

	swept := make(chan struct{})
	go func() {
		defer close(swept)
		svc.Run(ctx, gc.SweepInterval)
	}()

	sc := config.GetServerConfig()
	m := metrics.New(metrics.Source{
		Flags:         svc.Index().Len,
		Conflicts:     svc.Conflicts,
		OutboxDepth:   outbox.Len,
		OutboxDropped: outbox.Dropped,
	})
	server := api.New(api.Config{
		Address:      sc.Address,
		ReadTimeout:  sc.ReadTimeout,
		WriteTimeout: sc.WriteTimeout,
		ActionRate:   sc.ActionRate,
		ActionBurst:  sc.ActionBurst,
	}, svc, outbox, m, Logger)

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case <-ctx.Done():
		Logger.Info("Shutdown requested")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("API server failed: %w", err)
		}
	}

	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		Logger.Error("API shutdown failed", "error", err)
	}
	select {
	case <-swept:
	case <-shutdownCtx.Done():
		Logger.Warn("Sweeper did not stop in time")
	}
	return nil
}

// watchLogLevel applies logLevel edits in the config file without a restart.
// Other keys are only read at startup.
func watchLogLevel() {
	viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		level := viper.GetString("logLevel")
		SlogManager.SetLevel(level)
		Logger.Info("Config reloaded", "file", e.Name, "logLevel", level)
	})
	viper.WatchConfig()
}

func bindFlag(fs *pflag.FlagSet, name, key string) {
	if f := fs.Lookup(name); f != nil && f.Changed {
		viper.Set(key, f.Value.String())
	}
}

// initLogging opens the session log file and sets up slog, the optional
// GELF and OTel sinks, and the zerolog logger used by the dispatcher.
func initLogging() error {
	logsDir := viper.GetString("logsDir")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs dir: %w", err)
	}
	path := logging.LogFilePath(logsDir, viper.GetString("instanceName"), SessionStartTime)
	logFile, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	closers = append(closers, logFile.Close)

	oc := config.GetOTelConfig()
	var otelWriter io.Writer
	if oc.Enabled {
		otelFile, err := os.OpenFile(filepath.Join(logsDir, "otel.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open otel log file: %w", err)
		}
		closers = append(closers, otelFile.Close)
		otelWriter = otelFile
	}
	OTelProvider, err = intOtel.New(intOtel.Config{
		Enabled:      oc.Enabled,
		ServiceName:  oc.ServiceName,
		BatchTimeout: oc.BatchTimeout,
		LogWriter:    otelWriter,
		Endpoint:     oc.Endpoint,
		Insecure:     oc.Insecure,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize OTel: %w", err)
	}
	closers = append(closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return OTelProvider.Shutdown(ctx)
	})

	level := viper.GetString("logLevel")
	var extra []slog.Handler
	if gl := config.GetGraylogConfig(); gl.Enabled {
		h, c, err := logging.NewGELFHandler(gl.Address, level)
		if err != nil {
			fmt.Fprintln(os.Stderr, "territoryd: graylog disabled:", err)
		} else {
			extra = append(extra, h)
			closers = append(closers, c.Close)
		}
	}

	SlogManager = logging.NewSlogManager()
	SlogManager.Setup(io.MultiWriter(os.Stdout, logFile), level, OTelProvider.LoggerProvider(), extra...)
	Logger = SlogManager.Logger()
	slog.SetDefault(Logger)

	zl, err := zerolog.ParseLevel(level)
	if err != nil {
		zl = zerolog.InfoLevel
	}
	ZLogger = zerolog.New(logFile).Level(zl).With().Timestamp().Str("instance", viper.GetString("instanceName")).Logger()
	return nil
}

// initNotify builds the event hub and attaches every configured sink.
func initNotify() (*notify.Hub, *notify.Outbox, error) {
	nc := config.GetNotifyConfig()

	d, err := dispatcher.New[core.Event](logging.NewDispatcherLogger(ZLogger))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create dispatcher: %w", err)
	}
	hub := notify.NewHub(d, Logger, nc.BufferSize)

	outbox := notify.NewOutbox(nc.OutboxSize)
	hub.Add(outbox)
	hub.Add(notify.NewLogSink(Logger))

	if sink, err := initInflux(); err != nil {
		Logger.Warn("InfluxDB event sink disabled", "error", err)
	} else if sink != nil {
		hub.Add(sink)
	}

	if sink := initWebsocket(nc); sink != nil {
		hub.Add(sink)
	}

	closers = append(closers, func() error {
		hub.Close()
		return nil
	})
	Logger.Info("Event sinks ready", "sinks", hub.Sinks())
	return hub, outbox, nil
}

func shutdown() {
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil && !errors.Is(err, os.ErrClosed) {
			if Logger != nil {
				Logger.Warn("Shutdown step failed", "error", err)
			}
		}
	}
	if SlogManager != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = SlogManager.Flush(ctx)
	}
}
