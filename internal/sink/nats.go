package sink

import (
	"context"
	"encoding/json"
	"fmt"
)

// Publisher is the subset of *nats.Conn used here.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSEvents publishes match events as JSON on subject + "." + event type.
type NATSEvents struct {
	conn    Publisher
	subject string
}

func NewNATSEvents(conn Publisher, subject string) *NATSEvents {
	return &NATSEvents{conn: conn, subject: subject}
}

func (n *NATSEvents) PublishMatchEvent(ctx context.Context, ev MatchEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal match event: %w", err)
	}
	subject := n.subject + "." + ev.Type
	if err := n.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}
