// Package bus publishes task lifecycle events to NATS JetStream so
// other systems (dashboards, chat bridges) can follow repair activity.
// The bus is optional: a nil Publisher is a safe no-op.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"git.home.luguber.info/inful/repairops/internal/logfields"
)

const streamName = "REPAIROPS"

// Event is one lifecycle notification.
type Event struct {
	Kind      string `json:"kind"` // task_queued, trace_done, trace_failed
	TaskID    string `json:"task_id,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
	RepoURL   string `json:"repo_url,omitempty"`
	Status    string `json:"status,omitempty"`
	MRURL     string `json:"mr_url,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Publisher writes events to a JetStream stream.
type Publisher struct {
	conn *nats.Conn
	js   jetstream.JetStream
}

// Connect dials NATS and ensures the lifecycle stream exists.
func Connect(ctx context.Context, url string) (*Publisher, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{"repairops.>"},
		MaxAge:   7 * 24 * time.Hour,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}

	slog.Info("Event bus connected", logfields.URL(url))
	return &Publisher{conn: conn, js: js}, nil
}

// Publish sends one event. A nil publisher drops it silently.
func (p *Publisher) Publish(ctx context.Context, e Event) error {
	if p == nil {
		return nil
	}
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().Unix()
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal bus event: %w", err)
	}
	subject := "repairops.tasks." + e.Kind
	if _, err := p.js.Publish(ctx, subject, payload); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Close drains the connection.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	p.conn.Close()
}
