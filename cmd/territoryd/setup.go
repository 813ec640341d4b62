package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/geoflags/territory/internal/config"
	"github.com/geoflags/territory/internal/influx"
	"github.com/geoflags/territory/internal/notify"
	"github.com/geoflags/territory/internal/notify/wsnotify"
	"github.com/geoflags/territory/internal/storage"
	"github.com/geoflags/territory/internal/storage/factory"
	"github.com/geoflags/territory/internal/terrain"
	"github.com/geoflags/territory/internal/territory"
	"github.com/geoflags/territory/internal/wallet"
	"github.com/spf13/viper"
)

func initStorage() (storage.Backend, error) {
	storageCfg := config.GetStorageConfig()

	backend, err := factory.NewBackend(storageCfg, factory.Options{
		DB:         config.GetDBConfig(),
		Logger:     Logger,
		LogManager: SlogManager,
		ZLogger:    ZLogger,
	})
	if err != nil {
		Logger.Error("Failed to create storage backend", "error", err)
		return nil, err
	}
	if err := backend.Init(); err != nil {
		Logger.Error("Failed to initialize storage backend", "type", storageCfg.Type, "error", err)
		return nil, err
	}
	closers = append(closers, func() error {
		Logger.Info("Closing storage backend")
		return backend.Close()
	})
	Logger.Info("Storage backend initialized", "type", storageCfg.Type)
	return backend, nil
}

// initInflux returns nil, nil when InfluxDB is disabled. An unreachable
// server still yields a sink: the manager falls back to its gzip backup file.
func initInflux() (*notify.InfluxSink, error) {
	ic := config.GetInfluxConfig()
	if !ic.Enabled {
		return nil, nil
	}
	m := influx.NewManager(ZLogger, ic)
	if err := m.Connect(); err != nil {
		return nil, err
	}
	closers = append(closers, m.Close)
	influxManager = m
	Logger.Info("InfluxDB event sink ready", "online", m.Online(), "bucket", m.EventsBucket())
	return notify.NewInfluxSink(m), nil
}

// reportSweep records each background sweep in the performance bucket.
func reportSweep(rep territory.SweepReport) {
	if influxManager == nil {
		return
	}
	p := influx.SweepPoint(viper.GetString("instanceName"), rep.Scanned, rep.Committed, rep.Failed, rep.Duration, rep.At)
	if err := influxManager.WritePoint(context.Background(), influx.PerformanceBucket, p); err != nil {
		Logger.Debug("Sweep point not written", "error", err)
	}
}

func initWebsocket(nc config.NotifyConfig) *wsnotify.Sink {
	if nc.WebsocketURL == "" {
		return nil
	}
	url := httpToWS(nc.WebsocketURL)
	s := wsnotify.New(wsnotify.Config{
		URL:      url,
		Secret:   nc.WebsocketSecret,
		Instance: viper.GetString("instanceName"),
	}, Logger)
	if err := s.Init(); err != nil {
		Logger.Warn("Websocket relay unavailable, sink disabled", "url", url, "error", err)
		return nil
	}
	closers = append(closers, s.Close)
	Logger.Info("Websocket relay connected", "url", url)
	return s
}

// httpToWS converts an HTTP(S) URL to a WebSocket URL.
func httpToWS(httpURL string) string {
	s := strings.TrimRight(httpURL, "/")
	s = strings.Replace(s, "https://", "wss://", 1)
	s = strings.Replace(s, "http://", "ws://", 1)
	return s
}

func initWallet() (wallet.Wallet, error) {
	wc := config.GetWalletConfig()
	switch wc.Type {
	case "", "memory":
		Logger.Info("Using in-memory wallet", "startingGold", wc.StartingGold)
		return wallet.NewMemory(wc.StartingGold), nil
	case "http":
		c := wallet.NewClient(wc.URL, wc.APIKey)
		if err := c.Healthcheck(); err != nil {
			// the service may come up after us; every call reports its own failure
			Logger.Warn("Wallet service healthcheck failed", "url", wc.URL, "error", err)
		} else {
			Logger.Info("Wallet service reachable", "url", wc.URL)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown wallet type: %s", wc.Type)
	}
}

func initTerrain() (terrain.Checker, error) {
	wkts := config.GetTerrainExclusions()
	if len(wkts) == 0 {
		return terrain.AlwaysPlaceable, nil
	}
	ex, err := terrain.NewExclusion(wkts...)
	if err != nil {
		return nil, fmt.Errorf("invalid terrain exclusion: %w", err)
	}
	Logger.Info("Terrain exclusions loaded", "areas", len(wkts))
	return ex, nil
}
