// Package events fans coordinator and job lifecycle events out to NATS.
package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"sillymedia/internal/manager"
)

// NATSPublisher publishes each event as JSON on <subject>.<event name>.
// Publish is fire-and-forget; failures are logged.
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
	log     zerolog.Logger
}

// Connect dials url and returns a publisher rooted at subject.
func Connect(url, subject string, logger zerolog.Logger) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("silly-media"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return NewNATSPublisher(conn, subject, logger), nil
}

// NewNATSPublisher wraps an existing connection.
func NewNATSPublisher(conn *nats.Conn, subject string, logger zerolog.Logger) *NATSPublisher {
	return &NATSPublisher{conn: conn, subject: strings.TrimSuffix(subject, "."), log: logger}
}

// Subject returns the subject an event with the given name is published on.
func (p *NATSPublisher) Subject(name string) string { return p.subject + "." + name }

func (p *NATSPublisher) Publish(ev manager.Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		p.log.Warn().Err(err).Str("event", ev.Name).Msg("encode event")
		return
	}
	if err := p.conn.Publish(p.Subject(ev.Name), data); err != nil {
		p.log.Warn().Err(err).Str("event", ev.Name).Msg("publish event")
	}
}

// Close flushes pending events and closes the connection.
func (p *NATSPublisher) Close() error {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
		return err
	}
	return nil
}

// Multi publishes every event to all of pubs in order.
type Multi []manager.EventPublisher

func (m Multi) Publish(ev manager.Event) {
	for _, p := range m {
		if p != nil {
			p.Publish(ev)
		}
	}
}
