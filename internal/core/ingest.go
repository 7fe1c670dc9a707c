package core

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/JonMunkholm/feedpipe/internal/feed"
	"github.com/JonMunkholm/feedpipe/internal/metrics"
	"github.com/JonMunkholm/feedpipe/internal/model"
	"github.com/JonMunkholm/feedpipe/internal/normalize"
	"github.com/JonMunkholm/feedpipe/internal/telemetry"
	"github.com/JonMunkholm/feedpipe/internal/uid"
)

// ingest runs the pipeline for one feed. A returned error is fatal to the
// run; item problems are recorded as feed errors and never returned.
func (s *Service) ingest(ctx context.Context, ar *activeRun, req IngestRequest, format feed.Format) (err error) {
	run := ar.update(nil)

	ctx, span := telemetry.Tracer().Start(ctx, "ingest.run")
	span.SetAttributes(
		attribute.String("run.id", run.ID),
		attribute.String("workspace.id", run.WorkspaceID),
		attribute.String("supplier.id", run.SupplierID),
		attribute.String("feed.format", string(format)),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	fields, err := s.store.ListCustomFields(ctx, run.WorkspaceID)
	if err != nil {
		return fmt.Errorf("load custom fields: %w", err)
	}
	rules, err := s.store.ListFieldMappings(ctx, run.WorkspaceID, run.SupplierID)
	if err != nil {
		return fmt.Errorf("load field mappings: %w", err)
	}

	counter := feed.NewCountingReader(req.Source, req.Size)
	ar.mu.Lock()
	ar.counter = counter
	ar.mu.Unlock()

	// Closing the source unblocks a parser stuck in Read once the run is
	// cancelled or times out.
	stop := context.AfterFunc(ctx, func() { closeSource(req.Source) })
	defer stop()

	parser, err := feed.NewParser(format, counter, feed.Options{
		Charset:     req.Charset,
		MaxXMLBytes: s.maxXMLBytes,
	})
	if err != nil {
		return err
	}

	stream := feed.NewStream(parser)
	defer stream.Close()

	p := newPersister(s, run)

	// On a fatal error the queued feed errors are still written so the run
	// keeps its diagnostics. Queued rows are dropped.
	defer func() {
		if err != nil {
			fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
			defer cancel()
			if ferr := p.flushErrors(fctx); ferr != nil {
				ar.log.Warn("failed to save feed errors of failed run", "error", ferr)
			}
		}
	}()

	for rec := range stream.Items() {
		if err := ctx.Err(); err != nil {
			return err
		}
		ar.update(func(r *model.Run) { r.Total++ })

		if !s.accept(p, rec, fields, rules) {
			ar.update(func(r *model.Run) {
				r.Errors++
				r.Processed = r.Success + r.Errors
			})
			metrics.RecordItems(metrics.ItemError, 1)
		}

		if !p.full() {
			continue
		}
		if err := s.flushBatch(ctx, ar, stream, p); err != nil {
			return err
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := stream.Err(); err != nil {
		return err
	}
	return s.flushBatch(ctx, ar, stream, p)
}

// accept normalizes and maps rec, queueing the result. It returns false
// after recording an item error.
func (s *Service) accept(p *persister, rec feed.Record, fields []model.CustomField, rules []model.FieldMapping) bool {
	if rec.Err != nil {
		p.reject(rec, rec.Err)
		return false
	}

	item := normalize.Normalize(rec)
	if err := item.Check(); err != nil {
		p.reject(rec, err)
		return false
	}

	values, err := s.mapper.Apply(item, fields, rules)
	if err != nil {
		p.reject(rec, err)
		return false
	}

	key := item.Identifier()
	if key != "" {
		key = uid.SourceKey(key)
	}
	p.add(pendingRow{index: rec.Index, uid: key, fields: values})
	return true
}

// flushBatch pauses the stream, writes the batch and resumes only when the
// write succeeded.
func (s *Service) flushBatch(ctx context.Context, ar *activeRun, stream *feed.Stream, p *persister) error {
	stream.Pause()

	committed, err := p.flush(ctx)
	if err != nil {
		return err
	}

	run := ar.update(func(r *model.Run) {
		r.Success += committed
		r.Processed = r.Success + r.Errors
	})
	metrics.RecordItems(metrics.ItemSuccess, committed)

	if err := s.store.UpdateRunProgress(ctx, run); err != nil {
		ar.log.Warn("failed to save run progress", "error", err)
	}

	stream.Resume()
	return nil
}
