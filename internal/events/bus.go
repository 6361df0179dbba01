// Package events publishes agent activity to NATS for external consumers.
// Publishing is best-effort and never sits on the decision path: a dead
// broker degrades observability, not trading.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Subjects under the helmsman.agent.* namespace.
const (
	SubjectAgentState = "helmsman.agent.state"
	SubjectDecisions  = "helmsman.agent.decisions"
	SubjectPositions  = "helmsman.agent.positions"
	SubjectOutcomes   = "helmsman.agent.outcomes"
)

// Event is the envelope for every published message.
type Event struct {
	ID        uuid.UUID       `json:"id"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// Config configures the bus connection.
type Config struct {
	URL  string
	Name string
}

// DefaultConfig returns a local broker connection.
func DefaultConfig() Config {
	return Config{URL: nats.DefaultURL, Name: "helmsman-agent"}
}

// Bus is a thin NATS publisher.
type Bus struct {
	nc *nats.Conn
}

// Connect dials the broker with infinite reconnects.
func Connect(cfg Config) (*Bus, error) {
	nc, err := nats.Connect(
		cfg.URL,
		nats.Name(cfg.Name),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	log.Info().Str("url", cfg.URL).Msg("Event bus connected")
	return &Bus{nc: nc}, nil
}

// Publish sends one event on the subject. Errors are returned for logging
// but callers must not fail their operation on them.
func (b *Bus) Publish(subject, kind string, payload interface{}) error {
	if b == nil || b.nc == nil {
		return nil
	}
	if !b.nc.IsConnected() {
		return fmt.Errorf("event bus not connected")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	data, err := json.Marshal(Event{
		ID:        uuid.New(),
		Kind:      kind,
		Payload:   body,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := b.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	log.Debug().Str("subject", subject).Str("kind", kind).Msg("Event published")
	return nil
}

// Close drains and closes the connection.
func (b *Bus) Close() {
	if b == nil || b.nc == nil {
		return
	}
	b.nc.Close()
	log.Info().Msg("Event bus closed")
}
