package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/feedpipe/internal/feed"
	"github.com/JonMunkholm/feedpipe/internal/logging"
	"github.com/JonMunkholm/feedpipe/internal/metrics"
	"github.com/JonMunkholm/feedpipe/internal/model"
)

// activeRun is the in-memory view of a run that has not been finalized.
type activeRun struct {
	mu      sync.Mutex
	run     model.Run
	counter *feed.CountingReader

	cancel    context.CancelFunc
	cancelled atomic.Bool
	done      chan struct{}
	log       *slog.Logger
}

func (a *activeRun) requestCancel() {
	a.cancelled.Store(true)
	a.cancel()
}

// update applies fn to the run under the lock and returns a copy.
func (a *activeRun) update(fn func(*model.Run)) model.Run {
	a.mu.Lock()
	defer a.mu.Unlock()
	if fn != nil {
		fn(&a.run)
	}
	return a.run
}

func (a *activeRun) status() RunStatus {
	a.mu.Lock()
	st := RunStatus{Run: a.run}
	counter := a.counter
	a.mu.Unlock()

	if counter != nil {
		st.BytesRead = counter.BytesRead()
		st.BytesTotal = counter.Total
		st.Progress = counter.Progress()
	}
	return st
}

// StartIngestion registers a run and processes req.Source in the
// background. It returns the run id once the run is stored, or, when
// req.Wait is set, once the run is finalized.
//
// Returns ErrTooManyRuns if no run slot frees up within the configured
// wait time.
func (s *Service) StartIngestion(ctx context.Context, req IngestRequest) (string, error) {
	if err := validateRequest(req); err != nil {
		closeSource(req.Source)
		return "", err
	}

	format, ok := feed.ParseFormat(req.Format)
	if !ok {
		if strings.TrimSpace(req.Format) != "" {
			closeSource(req.Source)
			return "", fmt.Errorf("%w: unsupported feed format %q", ErrInvalidRequest, req.Format)
		}
		format = feed.Detect(req.SourceName, req.ContentType)
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		closeSource(req.Source)
		return "", err
	}

	run := model.Run{
		ID:          uuid.New().String(),
		WorkspaceID: req.WorkspaceID,
		SupplierID:  req.SupplierID,
		Format:      string(format),
		SourceName:  req.SourceName,
		Status:      model.RunRunning,
		StartedAt:   time.Now().UTC(),
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		s.limiter.Release()
		closeSource(req.Source)
		return "", fmt.Errorf("create run: %w", err)
	}

	runCtx, cancel := context.WithTimeout(context.Background(), s.runTimeout)
	ar := &activeRun{
		run:    run,
		cancel: cancel,
		done:   make(chan struct{}),
		log:    logging.ForRun(ctx, run.ID, run.WorkspaceID, run.SupplierID),
	}

	s.mu.Lock()
	s.runs[run.ID] = ar
	s.mu.Unlock()

	ar.log.Info("ingestion started", "format", format, "source", req.SourceName, "bytes", req.Size)

	go func() {
		defer s.limiter.Release()
		defer cancel()
		defer closeSource(req.Source)
		defer func() {
			if r := recover(); r != nil {
				ar.log.Error("panic in ingestion run", "panic", r)
				s.finishRun(ar, fmt.Errorf("internal error: %v", r))
			}
		}()
		s.finishRun(ar, s.ingest(runCtx, ar, req, format))
	}()

	if !req.Wait {
		return run.ID, nil
	}

	select {
	case <-ar.done:
		return run.ID, nil
	case <-ctx.Done():
		return run.ID, ctx.Err()
	}
}

func validateRequest(req IngestRequest) error {
	var missing []string
	if strings.TrimSpace(req.WorkspaceID) == "" {
		missing = append(missing, "workspace id")
	}
	if strings.TrimSpace(req.SupplierID) == "" {
		missing = append(missing, "supplier id")
	}
	if req.Source == nil {
		missing = append(missing, "feed source")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidRequest, strings.Join(missing, ", "))
	}
	return nil
}

func closeSource(r io.Reader) {
	if c, ok := r.(io.Closer); ok {
		_ = c.Close()
	}
}

// finishRun finalizes ar exactly once: the store only accepts the first
// terminal write and the in-memory entry is removed afterwards.
func (s *Service) finishRun(ar *activeRun, cause error) {
	select {
	case <-ar.done:
		return
	default:
	}

	now := time.Now().UTC()
	final := ar.update(func(r *model.Run) {
		r.Status, r.ErrorMessage = terminalState(cause, ar.cancelled.Load())
		r.CompletedAt = &now
		r.DurationMs = now.Sub(r.StartedAt).Milliseconds()
		r.Processed = r.Success + r.Errors
	})

	ctx, cancel := context.WithTimeout(context.Background(), finishTimeout)
	defer cancel()

	stored, err := s.store.FinishRun(ctx, final)
	switch {
	case err != nil:
		ar.log.Error("failed to finalize run", "error", err)
	case !stored:
		ar.log.Warn("run was already finalized")
	}

	metrics.RecordRun(string(final.Status), final.Format, time.Duration(final.DurationMs)*time.Millisecond)
	ar.log.Info("ingestion finished",
		"status", final.Status,
		"total", final.Total,
		"success", final.Success,
		"errors", final.Errors,
		"duration_ms", final.DurationMs,
		"error", final.ErrorMessage,
	)

	if s.notifier != nil && stored {
		if err := s.notifier.RunFinished(ctx, final); err != nil {
			ar.log.Warn("failed to publish run event", "error", err)
		}
	}

	s.mu.Lock()
	delete(s.runs, final.ID)
	s.mu.Unlock()
	close(ar.done)
}

func terminalState(cause error, cancelled bool) (model.RunStatus, string) {
	switch {
	case cause == nil:
		return model.RunCompleted, ""
	case cancelled && errors.Is(cause, context.Canceled):
		return model.RunCancelled, ErrRunCancelled.Error()
	case errors.Is(cause, context.DeadlineExceeded):
		return model.RunFailed, "run timed out: " + cause.Error()
	default:
		return model.RunFailed, cause.Error()
	}
}

// GetRunStatus returns the live state of an active run, or the stored
// state of a finished one.
func (s *Service) GetRunStatus(ctx context.Context, runID string) (RunStatus, error) {
	s.mu.RLock()
	ar, ok := s.runs[runID]
	s.mu.RUnlock()
	if ok {
		return ar.status(), nil
	}

	run, err := s.store.GetRun(ctx, runID)
	if errors.Is(err, model.ErrNotFound) {
		return RunStatus{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return RunStatus{}, fmt.Errorf("get run: %w", err)
	}
	return RunStatus{Run: run}, nil
}

// WaitRun blocks until an active run is finalized and returns its stored
// state. Finished runs return immediately.
func (s *Service) WaitRun(ctx context.Context, runID string) (RunStatus, error) {
	s.mu.RLock()
	ar, ok := s.runs[runID]
	s.mu.RUnlock()

	if ok {
		select {
		case <-ar.done:
		case <-ctx.Done():
			return RunStatus{}, ctx.Err()
		}
	}
	return s.GetRunStatus(ctx, runID)
}

// CancelRun stops an active run. The run is finalized as cancelled with
// the rows flushed so far kept.
func (s *Service) CancelRun(runID string) error {
	s.mu.RLock()
	ar, ok := s.runs[runID]
	s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	ar.requestCancel()
	return nil
}

// ListFeedErrors returns the item errors recorded for a run.
func (s *Service) ListFeedErrors(ctx context.Context, runID string) ([]model.FeedError, error) {
	if _, err := s.GetRunStatus(ctx, runID); err != nil {
		return nil, err
	}
	errs, err := s.store.ListFeedErrors(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("list feed errors: %w", err)
	}
	return errs, nil
}
