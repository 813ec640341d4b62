// Package wsnotify streams flag events to a websocket relay (chat bridge,
// live map) as JSON envelopes.
package wsnotify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/geoflags/territory/pkg/core"
)

// Message types.
const (
	TypeHello = "hello"
	TypeEvent = "flag_event"
)

// Envelope wraps every message sent to the relay.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// AckMessage is the relay's acknowledgement.
type AckMessage struct {
	Type string `json:"type"`
	For  string `json:"for"`
}

// HelloPayload identifies this server to the relay.
type HelloPayload struct {
	Instance string `json:"instance"`
}

// Config holds the relay endpoint.
type Config struct {
	URL      string
	Secret   string
	Instance string
}

// Sink is a notify sink backed by a websocket relay.
type Sink struct {
	link *link
	cfg  Config
}

// New creates an unconnected Sink.
func New(cfg Config, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{link: newLink(logger), cfg: cfg}
}

func marshalEnvelope(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	data, err := json.Marshal(Envelope{Type: msgType, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return data, nil
}

// Init dials the relay and waits for it to acknowledge the hello.
func (s *Sink) Init() error {
	hello, err := marshalEnvelope(TypeHello, HelloPayload{Instance: s.cfg.Instance})
	if err != nil {
		return err
	}
	s.link.hello = hello

	if err := s.link.open(s.cfg.URL, s.cfg.Secret); err != nil {
		return err
	}
	if err := s.link.sendAndWait(hello, TypeHello, ackTimeout); err != nil {
		_ = s.link.close()
		return err
	}
	return nil
}

// Close sends a close frame and waits for the link to stop.
func (s *Sink) Close() error {
	return s.link.close()
}

func (s *Sink) Name() string { return "websocket" }

// Send queues ev for the writer without waiting for the relay.
func (s *Sink) Send(_ context.Context, ev core.Event) error {
	data, err := marshalEnvelope(TypeEvent, ev)
	if err != nil {
		return err
	}
	if !s.link.send(data) {
		return errors.New("event relay unavailable or backlogged")
	}
	return nil
}
