package wsnotify

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	ws "github.com/gorilla/websocket"
)

const (
	outboxSize    = 10_000
	ackBuffer     = 16
	redialLimit   = 10
	redialCeiling = 30 * time.Second
	writeTimeout  = 10 * time.Second
	ackTimeout    = 10 * time.Second
)

// link is the websocket to the relay. A single supervisor goroutine owns the
// socket: it writes queued frames and, when the socket fails, redials with
// exponential backoff and replays hello before resuming.
type link struct {
	log    *slog.Logger
	target string
	hello  []byte

	// first redial delay, doubled per failed attempt
	backoff time.Duration

	out     chan []byte
	acks    chan AckMessage
	quit    chan struct{}
	done    chan struct{} // closed when the supervisor exits
	quitOne sync.Once
	started atomic.Bool
	down    atomic.Bool
}

func newLink(log *slog.Logger) *link {
	return &link{
		log:     log,
		backoff: time.Second,
		out:     make(chan []byte, outboxSize),
		acks:    make(chan AckMessage, ackBuffer),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// dialTarget adds the shared secret to the relay URL.
func dialTarget(raw, secret string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid websocket URL: %w", err)
	}
	if secret != "" {
		q := u.Query()
		q.Set("secret", secret)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// open dials once and hands the socket to the supervisor.
func (l *link) open(raw, secret string) error {
	target, err := dialTarget(raw, secret)
	if err != nil {
		return err
	}
	l.target = target

	conn, err := l.dial()
	if err != nil {
		return err
	}
	l.started.Store(true)
	go l.supervise(conn)
	return nil
}

func (l *link) dial() (*ws.Conn, error) {
	conn, _, err := ws.DefaultDialer.Dial(l.target, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return conn, nil
}

func (l *link) supervise(conn *ws.Conn) {
	defer close(l.done)
	defer l.down.Store(true)

	for conn != nil {
		err := l.serve(conn)
		if err == nil {
			return
		}
		l.log.Warn("event relay connection lost", "error", err)
		conn = l.redial()
	}
}

// serve writes queued frames to conn until it fails or the link is closed.
// It returns nil only when the link was closed.
func (l *link) serve(conn *ws.Conn) error {
	readErr := make(chan error, 1)
	go func() { readErr <- l.readAcks(conn) }()

	for {
		select {
		case <-l.quit:
			_ = conn.WriteControl(ws.CloseMessage,
				ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = conn.Close()
			<-readErr
			return nil
		case err := <-readErr:
			_ = conn.Close()
			return err
		case frame := <-l.out:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(ws.TextMessage, frame); err != nil {
				_ = conn.Close()
				<-readErr
				return err
			}
		}
	}
}

func (l *link) readAcks(conn *ws.Conn) error {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var ack AckMessage
		if json.Unmarshal(msg, &ack) != nil || ack.Type != "ack" {
			l.log.Debug("ignoring relay message", "raw", string(msg))
			continue
		}
		select {
		case l.acks <- ack:
		default:
			l.log.Debug("ack buffer full, dropping", "for", ack.For)
		}
	}
}

// redial returns nil when the link is closed or every attempt failed.
func (l *link) redial() *ws.Conn {
	wait := l.backoff
	for attempt := 1; attempt <= redialLimit; attempt++ {
		select {
		case <-l.quit:
			return nil
		case <-time.After(wait):
		}
		wait = min(wait*2, redialCeiling)

		conn, err := l.dial()
		if err != nil {
			l.log.Warn("event relay redial failed", "attempt", attempt, "error", err)
			continue
		}
		if l.hello != nil {
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(ws.TextMessage, l.hello); err != nil {
				l.log.Warn("hello replay failed", "error", err)
				_ = conn.Close()
				continue
			}
		}
		l.log.Info("event relay reconnected", "attempt", attempt)
		return conn
	}
	l.log.Error("giving up on event relay", "attempts", redialLimit)
	return nil
}

// send queues frame and reports false when the link is closed, has given up
// or is backlogged.
func (l *link) send(frame []byte) bool {
	if l.down.Load() {
		return false
	}
	select {
	case <-l.quit:
		return false
	default:
	}
	select {
	case l.out <- frame:
		return true
	default:
		return false
	}
}

// sendAndWait queues frame and waits for the relay to ack msgType.
func (l *link) sendAndWait(frame []byte, msgType string, timeout time.Duration) error {
	if !l.send(frame) {
		return fmt.Errorf("cannot queue %q", msgType)
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case ack := <-l.acks:
			if ack.For == msgType {
				return nil
			}
		case <-timer.C:
			return fmt.Errorf("timeout waiting for ack of %q", msgType)
		case <-l.done:
			return fmt.Errorf("relay connection lost while waiting for ack of %q", msgType)
		}
	}
}

// close stops the supervisor and waits for it. It may be called more than
// once.
func (l *link) close() error {
	l.quitOne.Do(func() { close(l.quit) })
	if l.started.Load() {
		<-l.done
	}
	return nil
}
