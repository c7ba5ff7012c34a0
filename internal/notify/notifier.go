// Package notify publishes run lifecycle events to NATS so downstream
// consumers (chat bots, dashboards) can react to blog deploys without
// polling the run store.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"git.home.fjellstad.io/blog/blogpipe/internal/config"
	"git.home.fjellstad.io/blog/blogpipe/internal/events"
	"git.home.fjellstad.io/blog/blogpipe/internal/logfields"
	"github.com/nats-io/nats.go"
)

// RunEvent is the wire payload published per completed run.
type RunEvent struct {
	RunID       string    `json:"run_id"`
	Status      string    `json:"status"`
	FailedStage string    `json:"failed_stage,omitempty"`
	Error       string    `json:"error,omitempty"`
	DurationMS  int64     `json:"duration_ms"`
	CompletedAt time.Time `json:"completed_at"`
}

// Notifier bridges the in-process event bus to a NATS subject.
type Notifier struct {
	conn      *nats.Conn
	subject   string
	publishFn func(subject string, data []byte) error
}

// NewNotifier connects to the configured NATS server. The caller decides
// whether notification is enabled; this constructor always connects.
func NewNotifier(cfg config.NotifyConfig) (*Notifier, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.Name("blogpipe"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	slog.Info("NATS notifier connected", logfields.URL(cfg.URL), slog.String("subject", cfg.Subject))
	return &Notifier{conn: conn, subject: cfg.Subject, publishFn: conn.Publish}, nil
}

// Run subscribes to run completions on the bus and forwards them until the
// context is canceled. Publish failures are logged, never fatal.
func (n *Notifier) Run(ctx context.Context, bus *events.Bus) {
	completed, unsub := events.Subscribe[events.RunCompleted](bus, 16)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-completed:
			if !ok {
				return
			}
			if err := n.publish(evt); err != nil {
				slog.Warn("Failed to publish run notification",
					logfields.RunID(evt.RunID), logfields.Error(err))
			}
		}
	}
}

func (n *Notifier) publish(evt events.RunCompleted) error {
	payload := RunEvent{
		RunID:       evt.RunID,
		Status:      evt.Status,
		FailedStage: evt.FailedStage,
		Error:       evt.Error,
		DurationMS:  evt.Duration.Milliseconds(),
		CompletedAt: evt.CompletedAt,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal run event: %w", err)
	}
	if err := n.publishFn(n.subject, data); err != nil {
		return fmt.Errorf("failed to publish run event: %w", err)
	}

	slog.Debug("Published run notification",
		logfields.RunID(evt.RunID), logfields.Status(evt.Status))
	return nil
}

// Close drains outstanding messages and closes the connection.
func (n *Notifier) Close() {
	if n.conn == nil {
		return
	}
	if err := n.conn.Drain(); err != nil {
		n.conn.Close()
	}
}
