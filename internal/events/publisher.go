package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

type EventPublisher interface {
	Publish(ctx context.Context, event SessionEvent) error
}

// natsConn is the subset of *nats.Conn the publisher needs.
type natsConn interface {
	Publish(subj string, data []byte) error
}

type NatsPublisher struct {
	conn   natsConn
	prefix string
	now    func() time.Time
}

// NewNatsPublisher publishes every event on "<prefix>.<event type>".
func NewNatsPublisher(conn *nats.Conn, prefix string) *NatsPublisher {
	return newNatsPublisher(conn, prefix)
}

func newNatsPublisher(conn natsConn, prefix string) *NatsPublisher {
	return &NatsPublisher{conn: conn, prefix: prefix, now: time.Now}
}

// Subject returns the subject an event type is published on.
func (p *NatsPublisher) Subject(eventType string) string {
	if p.prefix == "" {
		return eventType
	}
	return p.prefix + "." + eventType
}

func (p *NatsPublisher) Publish(ctx context.Context, event SessionEvent) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = p.now().UTC()
	}

	eventJSON, err := json.Marshal(event)
	if err != nil {
		slog.ErrorContext(ctx, "Error marshalling event JSON", "event_type", event.EventType, "error", err)
		return err
	}

	subject := p.Subject(event.EventType)
	if err := p.conn.Publish(subject, eventJSON); err != nil {
		slog.ErrorContext(ctx, "Error publishing to NATS", "subject", subject, "error", err)
		return err
	}

	slog.DebugContext(ctx, "Published event to NATS", "subject", subject, "session_id", event.SessionID.Hex())
	return nil
}

// NopPublisher drops every event. Used when no bus is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, SessionEvent) error { return nil }

// Connect dials NATS with reconnect logging.
func Connect(url, name string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	)
}
