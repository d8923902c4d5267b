package events

import (
	"encoding/json"
	"fmt"
	"time"

	"detectserver/internal/dto"

	"github.com/nats-io/nats.go"
)

// retryBackoff is the wait before the first retry; each further retry waits one step longer.
const retryBackoff = 50 * time.Millisecond

// ClientName identifies this service's connection on the NATS server.
const ClientName = "detectserver"

// Connect dials url with reconnects enabled.
func Connect(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(ClientName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", url, err)
	}
	return nc, nil
}

// NATSPublisher publishes upload events as JSON on a single subject.
type NATSPublisher struct {
	conn       *nats.Conn
	subject    string
	maxRetries int
}

func NewNATSPublisher(conn *nats.Conn, subject string, maxRetries int) *NATSPublisher {
	return &NATSPublisher{
		conn:       conn,
		subject:    subject,
		maxRetries: maxRetries,
	}
}

func (p *NATSPublisher) Publish(event *dto.UploadEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * retryBackoff)
		}
		if err = p.conn.Publish(p.subject, data); err == nil {
			return nil
		}
	}

	return fmt.Errorf("publish failed after %d retries: %w", p.maxRetries, err)
}

// Close drains pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}
