package main

import (
	"compress/gzip"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/geoflags/territory/internal/config"
	"github.com/geoflags/territory/internal/terrain"
	"github.com/geoflags/territory/internal/territory"
	"github.com/geoflags/territory/internal/wallet"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTest(t *testing.T) {
	t.Helper()
	viper.Reset()
	config.SetDefaults()
	Logger = slog.New(slog.DiscardHandler)
	closers = nil
	t.Cleanup(func() {
		viper.Reset()
		closers = nil
		influxManager = nil
	})
}

func TestHTTPToWS(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"http://relay:8080", "ws://relay:8080"},
		{"https://relay.example.com/", "wss://relay.example.com"},
		{"ws://already", "ws://already"},
	}
	for _, tt := range tests {
		if got := httpToWS(tt.in); got != tt.want {
			t.Errorf("httpToWS(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestInitTerrain(t *testing.T) {
	setupTest(t)

	check, err := initTerrain()
	require.NoError(t, err)
	ok, err := check.IsPlaceable(context.Background(), 40, -74)
	require.NoError(t, err)
	assert.True(t, ok)

	viper.Set("terrain.exclusions", []string{"POLYGON((-75 39, -73 39, -73 41, -75 41, -75 39))"})
	check, err = initTerrain()
	require.NoError(t, err)
	assert.IsType(t, &terrain.Exclusion{}, check)
	ok, err = check.IsPlaceable(context.Background(), 40, -74)
	require.NoError(t, err)
	assert.False(t, ok)

	viper.Set("terrain.exclusions", []string{"POLYGON((oops"})
	_, err = initTerrain()
	assert.Error(t, err)
}

func TestInitWallet(t *testing.T) {
	setupTest(t)

	w, err := initWallet()
	require.NoError(t, err)
	bal, err := w.Balance(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 1000.0, bal)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	viper.Set("wallet.type", "http")
	viper.Set("wallet.url", srv.URL)
	w, err = initWallet()
	require.NoError(t, err)
	assert.IsType(t, &wallet.Client{}, w)

	viper.Set("wallet.type", "ledger-of-doom")
	_, err = initWallet()
	assert.ErrorContains(t, err, "unknown wallet type")
}

func TestInitInflux_Disabled(t *testing.T) {
	setupTest(t)

	sink, err := initInflux()
	require.NoError(t, err)
	assert.Nil(t, sink)
	assert.Empty(t, closers)
}

func TestReportSweep(t *testing.T) {
	setupTest(t)
	ZLogger = zerolog.Nop()
	rep := territory.SweepReport{
		At:        time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Scanned:   4,
		Committed: 3,
		Duration:  2 * time.Millisecond,
	}

	assert.NotPanics(t, func() { reportSweep(rep) }, "no manager when influx is disabled")

	backup := filepath.Join(t.TempDir(), "events.lp.gz")
	viper.Set("influx.enabled", true)
	viper.Set("influx.host", "127.0.0.1")
	viper.Set("influx.port", "1")
	viper.Set("influx.backupPath", backup)

	sink, err := initInflux()
	require.NoError(t, err)
	require.NotNil(t, sink)
	require.NotNil(t, influxManager)
	assert.False(t, influxManager.Online())

	reportSweep(rep)
	require.Len(t, closers, 1)
	require.NoError(t, closers[0]())

	f, err := os.Open(backup)
	require.NoError(t, err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)
	data, err := io.ReadAll(zr)
	require.NoError(t, err)
	line := string(data)
	assert.Contains(t, line, "sweep,instance=territoryd ")
	assert.Contains(t, line, "scanned=4i")
	assert.Contains(t, line, "committed=3i")
}

func TestInitWebsocket_NoURL(t *testing.T) {
	setupTest(t)
	assert.Nil(t, initWebsocket(config.GetNotifyConfig()))
}

func TestInitStorage_Memory(t *testing.T) {
	setupTest(t)

	b, err := initStorage()
	require.NoError(t, err)
	require.NotNil(t, b)
	require.Len(t, closers, 1)
	assert.NoError(t, closers[0]())
}
