package wsnotify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geoflags/territory/internal/notify"
	"github.com/geoflags/territory/pkg/core"
)

var _ notify.Sink = (*Sink)(nil)

type messageLog struct {
	mu       sync.Mutex
	messages []Envelope
	secrets  []string
}

func (m *messageLog) add(env Envelope) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, env)
}

func (m *messageLog) ofType(t string) []Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Envelope
	for _, e := range m.messages {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// relay acks hello messages and records everything else. When dropFirst is
// set the first connection is closed right after its hello is acked.
func relay(t *testing.T, dropFirst bool) (*httptest.Server, *messageLog) {
	t.Helper()
	ml := &messageLog{}
	var conns atomic.Int32

	upgrader := ws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ml.mu.Lock()
		ml.secrets = append(ml.secrets, r.URL.Query().Get("secret"))
		ml.mu.Unlock()

		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer c.Close()
		n := conns.Add(1)

		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				return
			}
			var env Envelope
			if err := json.Unmarshal(msg, &env); err != nil {
				continue
			}
			ml.add(env)

			if env.Type == TypeHello {
				data, _ := json.Marshal(AckMessage{Type: "ack", For: TypeHello})
				if err := c.WriteMessage(ws.TextMessage, data); err != nil {
					return
				}
				if dropFirst && n == 1 {
					return
				}
			}
		}
	}))
	return srv, ml
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func event(id string, typ core.EventType) core.Event {
	return core.Event{
		Type:    typ,
		ActorID: "bob",
		Amount:  25,
		At:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Flag:    core.Snapshot{ID: id, OwnerID: "alice", Status: core.StatusDamaged, HP: 75, MaxHP: 100},
	}
}

func TestSink_StreamsEvents(t *testing.T) {
	srv, ml := relay(t, false)
	defer srv.Close()

	s := New(Config{URL: wsURL(srv), Secret: "s3cret", Instance: "test"}, nil)
	require.NoError(t, s.Init())
	defer s.Close()

	for _, id := range []string{"f1", "f2", "f3"} {
		require.NoError(t, s.Send(context.Background(), event(id, core.EventAttacked)))
	}

	require.Eventually(t, func() bool { return len(ml.ofType(TypeEvent)) == 3 }, 2*time.Second, 10*time.Millisecond)

	got := ml.ofType(TypeEvent)
	var ev core.Event
	require.NoError(t, json.Unmarshal(got[0].Payload, &ev))
	assert.Equal(t, core.EventAttacked, ev.Type)
	assert.Equal(t, "f1", ev.Flag.ID)
	assert.Equal(t, 75, ev.Flag.HP)

	hello := ml.ofType(TypeHello)
	require.Len(t, hello, 1)
	var hp HelloPayload
	require.NoError(t, json.Unmarshal(hello[0].Payload, &hp))
	assert.Equal(t, "test", hp.Instance)

	ml.mu.Lock()
	assert.Equal(t, "s3cret", ml.secrets[0])
	ml.mu.Unlock()
}

func TestSink_CloseIsIdempotent(t *testing.T) {
	srv, _ := relay(t, false)
	defer srv.Close()

	s := New(Config{URL: wsURL(srv)}, nil)
	require.NoError(t, s.Init())
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())

	err := s.Send(context.Background(), event("f1", core.EventPlaced))
	assert.Error(t, err, "send after close is refused")
}

func TestSink_InitFailsWithoutRelay(t *testing.T) {
	s := New(Config{URL: "ws://127.0.0.1:1/events"}, nil)
	assert.Error(t, s.Init())

	bad := New(Config{URL: "://nope"}, nil)
	assert.Error(t, bad.Init())
}

func TestSink_ReconnectReplaysHello(t *testing.T) {
	srv, ml := relay(t, true)
	defer srv.Close()

	s := New(Config{URL: wsURL(srv), Instance: "test"}, nil)
	s.link.backoff = 10 * time.Millisecond
	require.NoError(t, s.Init())
	defer s.Close()

	require.Eventually(t, func() bool { return len(ml.ofType(TypeHello)) >= 2 }, 3*time.Second, 10*time.Millisecond)

	// the writer is running again on the new connection
	require.Eventually(t, func() bool {
		_ = s.Send(context.Background(), event("f9", core.EventCaptured))
		return len(ml.ofType(TypeEvent)) > 0
	}, 3*time.Second, 50*time.Millisecond)
}

func TestDialTarget(t *testing.T) {
	got, err := dialTarget("ws://relay:8080/events?room=1", "a b")
	require.NoError(t, err)
	assert.Equal(t, "ws://relay:8080/events?room=1&secret=a+b", got)

	got, err = dialTarget("ws://relay/events", "")
	require.NoError(t, err)
	assert.Equal(t, "ws://relay/events", got)
}

func TestSink_GivesUpWhenRelayStaysDown(t *testing.T) {
	var conns atomic.Int32
	upgrader := ws.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if conns.Add(1) > 1 {
			http.Error(w, "relay down", http.StatusServiceUnavailable)
			return
		}
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		_, _, _ = c.ReadMessage()
		ack, _ := json.Marshal(AckMessage{Type: "ack", For: TypeHello})
		_ = c.WriteMessage(ws.TextMessage, ack)
	}))
	defer srv.Close()

	s := New(Config{URL: wsURL(srv)}, nil)
	s.link.backoff = time.Millisecond
	require.NoError(t, s.Init())
	defer s.Close()

	require.Eventually(t, func() bool {
		return s.Send(context.Background(), event("f1", core.EventPlaced)) != nil
	}, 5*time.Second, 20*time.Millisecond)
	assert.EqualValues(t, 1+redialLimit, conns.Load())
}
