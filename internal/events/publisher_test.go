package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/JonMunkholm/feedpipe/internal/config"
	"github.com/JonMunkholm/feedpipe/internal/model"
)

type fakeConn struct {
	subject string
	data    []byte
	err     error
	drained bool
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	f.subject, f.data = subject, data
	return f.err
}

func (f *fakeConn) IsConnected() bool { return true }

func (f *fakeConn) Drain() error {
	f.drained = true
	return nil
}

func TestRunFinished_PublishesJSON(t *testing.T) {
	fc := &fakeConn{}
	p := &Publisher{nc: fc, subject: "feedpipe.run.finished", log: discardLogger()}

	run := model.Run{ID: "r1", WorkspaceID: "ws", SupplierID: "acme", Status: model.RunCompleted, Total: 5, Success: 4, Errors: 1}
	if err := p.RunFinished(context.Background(), run); err != nil {
		t.Fatalf("RunFinished: %v", err)
	}

	if fc.subject != "feedpipe.run.finished" {
		t.Errorf("subject = %q", fc.subject)
	}
	var got RunFinishedEvent
	if err := json.Unmarshal(fc.data, &got); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if got.Type != RunFinishedType || got.RunID != "r1" || got.Status != model.RunCompleted || got.Errors != 1 {
		t.Errorf("event = %+v", got)
	}
	if got.EventID == "" {
		t.Error("event id not set")
	}

	p.Close()
	if !fc.drained {
		t.Error("Close did not drain the connection")
	}
}

func TestRunFinished_PublishError(t *testing.T) {
	fc := &fakeConn{err: errors.New("nats: connection closed")}
	p := &Publisher{nc: fc, subject: "s", log: discardLogger()}

	if err := p.RunFinished(context.Background(), model.Run{ID: "r1"}); err == nil {
		t.Error("expected publish error")
	}
}

func TestConnect_DisabledWithoutURL(t *testing.T) {
	p, err := Connect(config.EventsConfig{Subject: "s"}, "feedpipe")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if p.Enabled() {
		t.Error("publisher enabled without NATS_URL")
	}
	if !p.IsConnected() {
		t.Error("disabled publisher should report healthy")
	}
	if err := p.RunFinished(context.Background(), model.Run{ID: "r1"}); err != nil {
		t.Errorf("disabled RunFinished: %v", err)
	}
	p.Close()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
