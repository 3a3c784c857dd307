// Package events publishes denial hits to NATS so external consumers
// (alerting, warehousing) can observe admission behavior without polling.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/casemark/gatekeeper/internal/hitlog"
)

// Publisher fans denial entries out to a NATS subject. It implements
// hitlog.Sink. Publish failures are logged and dropped; the in-memory hit
// log stays authoritative.
type Publisher struct {
	conn    *nats.Conn
	subject string
}

// Connect dials NATS and returns a Publisher on the given subject.
func Connect(url, subject string) (*Publisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("gatekeeper"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}

	slog.Info("connected to NATS", "url", url, "subject", subject)
	return &Publisher{conn: conn, subject: subject}, nil
}

// Persist publishes the entry as JSON.
func (p *Publisher) Persist(e hitlog.Entry) {
	data, err := json.Marshal(e)
	if err != nil {
		slog.Warn("events: marshaling hit entry", "error", err)
		return
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		slog.Warn("events: publishing hit entry", "error", err)
	}
}

// Healthy reports whether the NATS connection is up.
func (p *Publisher) Healthy() bool {
	return p.conn != nil && p.conn.IsConnected()
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	if p.conn != nil {
		_ = p.conn.Drain()
	}
}
