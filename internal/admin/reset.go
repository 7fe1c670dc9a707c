// Package admin provides administrative operations on pipeline state.
package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JonMunkholm/feedpipe/internal/logging"
)

// ResetTimeout is the maximum duration for reset operations.
const ResetTimeout = 30 * time.Second

// ErrInvalidReset rejects resets with a missing workspace or negative value.
var ErrInvalidReset = errors.New("invalid request: uid counter reset")

// CounterStore is the storage needed to reset uid counters.
type CounterStore interface {
	ResetUIDCounter(ctx context.Context, workspaceID string, value int64) error
}

// Resetter performs uid counter resets. Lowering a counter makes the
// allocator hand out values that may already be stored, so callers are
// expected to have cleared the affected products first.
type Resetter struct {
	store CounterStore
}

// NewResetter creates a Resetter over store.
func NewResetter(store CounterStore) *Resetter {
	return &Resetter{store: store}
}

type resetFn func(ctx context.Context) error

// ResetUIDCounter sets the workspace counter to value. The next allocated
// uid is value+1.
func (r *Resetter) ResetUIDCounter(ctx context.Context, workspaceID string, value int64) error {
	return r.ResetUIDCounters(ctx, []string{workspaceID}, value)
}

// ResetUIDCounters sets the counters of several workspaces to value. All
// inputs are checked before any counter is touched; resets stop at the
// first failure.
func (r *Resetter) ResetUIDCounters(ctx context.Context, workspaceIDs []string, value int64) error {
	if value < 0 {
		return fmt.Errorf("%w: negative value %d", ErrInvalidReset, value)
	}
	if len(workspaceIDs) == 0 {
		return fmt.Errorf("%w: no workspace", ErrInvalidReset)
	}

	resets := make([]resetFn, 0, len(workspaceIDs))
	for _, ws := range workspaceIDs {
		if strings.TrimSpace(ws) == "" {
			return fmt.Errorf("%w: missing workspace id", ErrInvalidReset)
		}
		ws := ws // per-iteration copy; go directive is below 1.22
		resets = append(resets, func(ctx context.Context) error {
			if err := r.store.ResetUIDCounter(ctx, ws, value); err != nil {
				return fmt.Errorf("reset uid counter for %s: %w", ws, err)
			}
			logging.WithFields(ctx, "workspace_id", ws).Warn("uid counter reset", "value", value)
			return nil
		})
	}

	ctx, cancel := context.WithTimeout(ctx, ResetTimeout)
	defer cancel()
	return r.runResets(ctx, resets)
}

func (r *Resetter) runResets(ctx context.Context, resets []resetFn) error {
	for _, reset := range resets {
		if err := reset(ctx); err != nil {
			return err
		}
	}
	return nil
}
