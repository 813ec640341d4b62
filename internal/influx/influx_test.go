package influx

import (
	"bufio"
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/geoflags/territory/internal/config"
	"github.com/geoflags/territory/pkg/core"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unreachable(t *testing.T) config.InfluxConfig {
	return config.InfluxConfig{
		Enabled:    true,
		Protocol:   "http",
		Host:       "127.0.0.1",
		Port:       "1",
		Org:        "territory-metrics",
		Bucket:     "territory_events",
		BackupPath: filepath.Join(t.TempDir(), "events.lp.gz"),
	}
}

func TestConnect_Disabled(t *testing.T) {
	m := NewManager(zerolog.Nop(), config.InfluxConfig{Bucket: "territory_events"})
	assert.Error(t, m.Connect())
	assert.Equal(t, []string{"territory_events", PerformanceBucket}, m.Buckets())
	assert.False(t, m.Online())
}

func TestEventPoint(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := EventPoint(core.Event{
		Type: core.EventAttacked, ActorID: "bob", Amount: 30, At: at,
		Flag: core.Snapshot{ID: "f1", OwnerID: "alice", Status: core.StatusDamaged, HP: 70, Level: 2},
	})

	assert.Equal(t, "flag_attacked", p.Name())
	assert.Equal(t, at, p.Time())

	tags := map[string]string{}
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	assert.Equal(t, map[string]string{"flag": "f1", "owner": "alice", "actor": "bob", "status": "damaged"}, tags)

	fields := map[string]any{}
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	assert.Equal(t, 30.0, fields["amount"])
	assert.EqualValues(t, 70, fields["hp"])
}

func TestEventPoint_NeutralFlagHasNoOwnerTag(t *testing.T) {
	p := EventPoint(core.Event{Type: core.EventWindowLapse, Flag: core.Snapshot{ID: "f1", Status: core.StatusDecayed}})
	for _, tag := range p.TagList() {
		if tag.Key == "owner" || tag.Key == "actor" {
			t.Errorf("unexpected tag %s", tag.Key)
		}
	}
}

func TestWritePoint_FallsBackToBackupFile(t *testing.T) {
	cfg := unreachable(t)
	m := NewManager(zerolog.Nop(), cfg)
	require.NoError(t, m.Connect())
	assert.False(t, m.Online())

	ev := core.Event{Type: core.EventCaptured, ActorID: "bob", At: time.Unix(1700000000, 0), Flag: core.Snapshot{ID: "f7", Status: core.StatusActive}}
	require.NoError(t, m.WritePoint(context.Background(), m.EventsBucket(), EventPoint(ev)))
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	f, err := os.Open(cfg.BackupPath)
	require.NoError(t, err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)

	sc := bufio.NewScanner(zr)
	require.True(t, sc.Scan())
	line := sc.Text()
	assert.True(t, strings.HasPrefix(line, "flag_captured,"), line)
	assert.Contains(t, line, "flag=f7")
	assert.True(t, strings.HasSuffix(line, " 1700000000000000000"), line)
}

func TestWritePoint_NoWriterAvailable(t *testing.T) {
	m := NewManager(zerolog.Nop(), config.InfluxConfig{Bucket: "territory_events"})
	err := m.WritePoint(context.Background(), m.EventsBucket(), EventPoint(core.Event{Type: core.EventPlaced}))
	assert.Error(t, err)
}

func TestSweepPoint(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := SweepPoint("territoryd-1", 40, 12, 1, 250*time.Millisecond, at)

	assert.Equal(t, "sweep", p.Name())
	require.Len(t, p.TagList(), 1)
	assert.Equal(t, "territoryd-1", p.TagList()[0].Value)

	fields := map[string]any{}
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	assert.EqualValues(t, 40, fields["scanned"])
	assert.EqualValues(t, 12, fields["committed"])
	assert.Equal(t, 250.0, fields["duration_ms"])
}

func TestWritePoint_PerformanceBucketOffline(t *testing.T) {
	cfg := unreachable(t)
	m := NewManager(zerolog.Nop(), cfg)
	require.NoError(t, m.Connect())
	defer m.Close()

	p := SweepPoint("territoryd-1", 1, 0, 0, time.Millisecond, time.Unix(1700000000, 0))
	assert.NoError(t, m.WritePoint(context.Background(), PerformanceBucket, p))
}
