// Package events publishes run lifecycle events to NATS so downstream
// consumers (catalog sync, alerting) can react to finished ingestions.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/JonMunkholm/feedpipe/internal/config"
	"github.com/JonMunkholm/feedpipe/internal/model"
)

// RunFinishedType is the event type of a finalized ingestion run.
const RunFinishedType = "run.finished"

// RunFinishedEvent is the JSON payload published for each finalized run.
type RunFinishedEvent struct {
	EventID      string          `json:"event_id"`
	Type         string          `json:"type"`
	OccurredAt   time.Time       `json:"occurred_at"`
	RunID        string          `json:"run_id"`
	WorkspaceID  string          `json:"workspace_id"`
	SupplierID   string          `json:"supplier_id"`
	Status       model.RunStatus `json:"status"`
	Format       string          `json:"format"`
	Total        int             `json:"total"`
	Success      int             `json:"success"`
	Errors       int             `json:"errors"`
	DurationMs   int64           `json:"duration_ms"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// NewRunFinishedEvent builds the event for run.
func NewRunFinishedEvent(run model.Run) RunFinishedEvent {
	return RunFinishedEvent{
		EventID:      uuid.New().String(),
		Type:         RunFinishedType,
		OccurredAt:   time.Now().UTC(),
		RunID:        run.ID,
		WorkspaceID:  run.WorkspaceID,
		SupplierID:   run.SupplierID,
		Status:       run.Status,
		Format:       run.Format,
		Total:        run.Total,
		Success:      run.Success,
		Errors:       run.Errors,
		DurationMs:   run.DurationMs,
		ErrorMessage: run.ErrorMessage,
	}
}

// conn is the part of *nats.Conn the publisher uses.
type conn interface {
	Publish(subject string, data []byte) error
	IsConnected() bool
	Drain() error
}

// Publisher sends events on one subject. A Publisher with no connection
// drops events, so callers need not check whether NATS is configured.
type Publisher struct {
	nc      conn
	subject string
	log     *slog.Logger
}

// Connect dials NATS when cfg.NATSURL is set and returns a disabled
// Publisher otherwise. The connection retries in the background, so an
// unreachable server does not fail startup.
func Connect(cfg config.EventsConfig, name string) (*Publisher, error) {
	log := slog.Default().With("component", "events.publisher")
	if cfg.NATSURL == "" {
		return &Publisher{subject: cfg.Subject, log: log}, nil
	}

	nc, err := nats.Connect(cfg.NATSURL,
		nats.Name(name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("reconnected to NATS", "url", nc.ConnectedUrl())
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("disconnected from NATS", "error", err)
			}
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Info("NATS connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &Publisher{nc: nc, subject: cfg.Subject, log: log}, nil
}

// Enabled reports whether events are actually sent.
func (p *Publisher) Enabled() bool {
	return p.nc != nil
}

// IsConnected reports whether the NATS connection is up. A disabled
// publisher reports true so health checks ignore it.
func (p *Publisher) IsConnected() bool {
	return p.nc == nil || p.nc.IsConnected()
}

// RunFinished publishes the finished event for run.
func (p *Publisher) RunFinished(ctx context.Context, run model.Run) error {
	if p.nc == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(NewRunFinishedEvent(run))
	if err != nil {
		return fmt.Errorf("encode run event: %w", err)
	}
	if err := p.nc.Publish(p.subject, data); err != nil {
		return fmt.Errorf("publish run event: %w", err)
	}
	p.log.Debug("published run event", "run_id", run.ID, "subject", p.subject)
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *Publisher) Close() {
	if p.nc == nil {
		return
	}
	if err := p.nc.Drain(); err != nil {
		p.log.Warn("failed to drain NATS connection", "error", err)
	}
}
