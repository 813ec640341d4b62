// Package influx writes territory events and sweep measurements to InfluxDB,
// falling back to a gzip line-protocol file when the server is unreachable.
package influx

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/geoflags/territory/internal/config"
	"github.com/geoflags/territory/pkg/core"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"github.com/rs/zerolog"
)

// PerformanceBucket holds sweep measurements next to the events bucket.
const PerformanceBucket = "territory_performance"

const retention = 90 * 24 * time.Hour

// Manager owns the InfluxDB client and the per-bucket write APIs. It is safe
// for concurrent use.
type Manager struct {
	cfg     config.InfluxConfig
	log     zerolog.Logger
	buckets []string

	mu      sync.Mutex
	client  influxdb2.Client
	writers map[string]influxdb2_api.WriteAPI
	online  bool
	backup  *gzip.Writer
	file    *os.File
}

// NewManager creates an unconnected Manager.
func NewManager(log zerolog.Logger, cfg config.InfluxConfig) *Manager {
	return &Manager{
		cfg:     cfg,
		log:     log.With().Str("component", "influx").Logger(),
		buckets: []string{cfg.Bucket, PerformanceBucket},
		writers: make(map[string]influxdb2_api.WriteAPI),
	}
}

// EventsBucket is the bucket territory events are written to.
func (m *Manager) EventsBucket() string { return m.cfg.Bucket }

// Buckets lists every bucket the manager writes to.
func (m *Manager) Buckets() []string { return append([]string(nil), m.buckets...) }

// Online reports whether points go to the server rather than the backup file.
func (m *Manager) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Connect pings the server and prepares its org and buckets. When the server
// does not answer, points go to the gzip backup file instead and Connect
// still succeeds.
func (m *Manager) Connect() error {
	if !m.cfg.Enabled {
		return errors.New("influx.enabled is false")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	url := fmt.Sprintf("%s://%s:%s", m.cfg.Protocol, m.cfg.Host, m.cfg.Port)
	m.client = influxdb2.NewClientWithOptions(url, m.cfg.Token,
		influxdb2.DefaultOptions().SetBatchSize(2500).SetFlushInterval(1000))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if up, err := m.client.Ping(ctx); err != nil || !up {
		m.log.Warn().Err(err).Str("url", url).Str("backupPath", m.cfg.BackupPath).
			Msg("InfluxDB unreachable, writing line protocol to backup file")
		return m.openBackup()
	}

	if err := m.ensureSchema(ctx); err != nil {
		return err
	}
	for _, b := range m.buckets {
		m.writers[b] = m.client.WriteAPI(m.cfg.Org, b)
		go m.reportErrors(b, m.writers[b].Errors())
	}
	m.online = true
	m.log.Info().Str("url", url).Strs("buckets", m.buckets).Msg("InfluxDB client initialized")
	return nil
}

func (m *Manager) openBackup() error {
	if m.backup != nil {
		return nil
	}
	f, err := os.OpenFile(m.cfg.BackupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("error creating backup file: %w", err)
	}
	m.file = f
	m.backup = gzip.NewWriter(f)
	return nil
}

func (m *Manager) reportErrors(bucket string, errs <-chan error) {
	for err := range errs {
		m.log.Error().Err(err).Str("bucket", bucket).Msg("Error sending data to InfluxDB")
	}
}

// ensureSchema creates the org and any missing bucket.
func (m *Manager) ensureSchema(ctx context.Context) error {
	orgs := m.client.OrganizationsAPI()
	org, err := orgs.FindOrganizationByName(ctx, m.cfg.Org)
	if err != nil {
		m.log.Info().Str("org", m.cfg.Org).Msg("Organization not found, creating")
		if org, err = orgs.CreateOrganizationWithName(ctx, m.cfg.Org); err != nil {
			return fmt.Errorf("creating influx org %s: %w", m.cfg.Org, err)
		}
	}

	buckets := m.client.BucketsAPI()
	expire := domain.RetentionRuleTypeExpire
	for _, name := range m.buckets {
		if _, err := buckets.FindBucketByName(ctx, name); err == nil {
			continue
		}
		m.log.Info().Str("bucket", name).Msg("Bucket not found, creating")
		_, err := buckets.CreateBucketWithName(ctx, org, name, domain.RetentionRule{
			Type:         &expire,
			EverySeconds: int64(retention / time.Second),
		})
		if err != nil {
			return fmt.Errorf("creating influx bucket %s: %w", name, err)
		}
	}
	return nil
}

// WritePoint queues p for bucket, or appends it to the backup file when
// offline.
func (m *Manager) WritePoint(_ context.Context, bucket string, p *influxdb2_write.Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.online {
		w, ok := m.writers[bucket]
		if !ok {
			return fmt.Errorf("influx bucket %q not registered", bucket)
		}
		w.WritePoint(p)
		return nil
	}
	if m.backup == nil {
		return errors.New("influx not connected and no backup file open")
	}
	line := influxdb2_write.PointToLineProtocol(p, time.Nanosecond)
	if _, err := m.backup.Write([]byte(line + "\n")); err != nil {
		return fmt.Errorf("error writing influx backup file: %w", err)
	}
	return nil
}

// Close flushes pending points and releases the client or backup file. It
// may be called more than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, w := range m.writers {
		w.Flush()
	}
	clear(m.writers)
	m.online = false
	if m.client != nil {
		m.client.Close()
		m.client = nil
	}

	var errs []error
	if m.backup != nil {
		errs = append(errs, m.backup.Close())
		m.backup = nil
	}
	if m.file != nil {
		errs = append(errs, m.file.Close())
		m.file = nil
	}
	return errors.Join(errs...)
}

// EventPoint converts a territory event into a point named after its type.
func EventPoint(ev core.Event) *influxdb2_write.Point {
	f := ev.Flag
	p := influxdb2_write.NewPointWithMeasurement(string(ev.Type)).
		AddTag("flag", f.ID).
		AddTag("status", string(f.Status)).
		AddField("amount", ev.Amount).
		AddField("hp", f.HP).
		AddField("level", f.Level).
		AddField("balance", f.Balance).
		AddField("lat", f.Lat).
		AddField("lon", f.Lon).
		SetTime(ev.At)
	if f.OwnerID != "" {
		p.AddTag("owner", f.OwnerID)
	}
	if ev.ActorID != "" {
		p.AddTag("actor", ev.ActorID)
	}
	return p
}

// SweepPoint records one background sweep in the "sweep" measurement.
func SweepPoint(instance string, scanned, committed, failed int, took time.Duration, at time.Time) *influxdb2_write.Point {
	return influxdb2_write.NewPointWithMeasurement("sweep").
		AddTag("instance", instance).
		AddField("scanned", scanned).
		AddField("committed", committed).
		AddField("failed", failed).
		AddField("duration_ms", float64(took)/float64(time.Millisecond)).
		SetTime(at)
}
