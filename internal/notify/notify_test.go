package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/geoflags/territory/internal/dispatcher"
	"github.com/geoflags/territory/internal/logging"
	"github.com/geoflags/territory/pkg/core"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	name string
	fail bool
	gate chan struct{}

	mu     sync.Mutex
	events []core.Event
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Send(_ context.Context, ev core.Event) error {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	if s.fail {
		return errors.New("sink down")
	}
	return nil
}

func (s *recordingSink) got() []core.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Event(nil), s.events...)
}

func newHub(t *testing.T, size int) *Hub {
	t.Helper()
	d, err := dispatcher.New[core.Event](logging.NewDispatcherLogger(zerolog.Nop()))
	require.NoError(t, err)
	return NewHub(d, slog.Default(), size)
}

func ev(id string) core.Event {
	return core.Event{Type: core.EventPlaced, ActorID: "alice", At: time.Now(), Flag: core.Snapshot{ID: id}}
}

func TestHub_FansOutToEverySink(t *testing.T) {
	h := newHub(t, 10)
	a := &recordingSink{name: "a"}
	b := &recordingSink{name: "b", fail: true}
	h.Add(b)
	h.Add(a)
	assert.Equal(t, []string{"a", "b"}, h.Sinks())

	h.Emit(ev("f1"))
	h.Emit(ev("f2"))
	h.Close()

	for _, s := range []*recordingSink{a, b} {
		got := s.got()
		require.Len(t, got, 2, s.name)
		assert.Equal(t, "f1", got[0].Flag.ID)
		assert.Equal(t, "f2", got[1].Flag.ID)
	}
}

func TestHub_SlowSinkDoesNotBlockEmit(t *testing.T) {
	h := newHub(t, 1)
	slow := &recordingSink{name: "slow", gate: make(chan struct{})}
	h.Add(slow)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			h.Emit(ev("f"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked on a slow sink")
	}

	close(slow.gate)
	h.Close()
	assert.Less(t, len(slow.got()), 10, "overflow is dropped")
}

func TestHub_EmitAfterCloseIsHarmless(t *testing.T) {
	h := newHub(t, 4)
	h.Add(&recordingSink{name: "a"})
	h.Close()
	assert.NotPanics(t, func() { h.Emit(ev("late")) })
}

func TestOutbox_DropsOldest(t *testing.T) {
	o := NewOutbox(3)
	for _, id := range []string{"f1", "f2", "f3", "f4", "f5"} {
		require.NoError(t, o.Send(context.Background(), ev(id)))
	}
	assert.Equal(t, 3, o.Len())
	assert.EqualValues(t, 2, o.Dropped())

	got := o.Drain()
	require.Len(t, got, 3)
	assert.Equal(t, "f3", got[0].Flag.ID)
	assert.Equal(t, "f5", got[2].Flag.ID)
	assert.Equal(t, 0, o.Len())
}

func TestDiscard(t *testing.T) {
	var e Emitter = Discard{}
	e.Emit(ev("f1"))
}
