// Package uid issues per-workspace product identifiers.
//
// Identifiers come from a single counter row per workspace. Every call is
// one atomic increment at the store, so concurrent callers, in this process
// or another, never receive the same value and no value is ever reused.
package uid

import (
	"context"
	"fmt"
)

// CounterStore advances a workspace counter by n in one atomic statement
// and returns the new value. A missing counter starts at 0.
type CounterStore interface {
	IncrementUID(ctx context.Context, workspaceID string, n int64) (int64, error)
}

// Observer is notified of every successful allocation.
type Observer func(workspaceID string, n int)

// Allocator hands out UIDs from a CounterStore.
type Allocator struct {
	store    CounterStore
	observer Observer
}

// New returns an Allocator backed by store.
func New(store CounterStore) *Allocator {
	return &Allocator{store: store}
}

// WithObserver returns a copy of a that reports allocations to fn.
func (a *Allocator) WithObserver(fn Observer) *Allocator {
	cp := *a
	cp.observer = fn
	return &cp
}

// AllocateOne returns the next UID for the workspace. The first call for
// a fresh workspace returns 1.
func (a *Allocator) AllocateOne(ctx context.Context, workspaceID string) (int64, error) {
	last, err := a.store.IncrementUID(ctx, workspaceID, 1)
	if err != nil {
		return 0, fmt.Errorf("allocate uid for workspace %s: %w", workspaceID, err)
	}
	a.observe(workspaceID, 1)
	return last, nil
}

// AllocateBatch reserves n consecutive UIDs and returns them in ascending
// order. n <= 0 returns an empty slice without touching the store.
func (a *Allocator) AllocateBatch(ctx context.Context, workspaceID string, n int) ([]int64, error) {
	if n <= 0 {
		return []int64{}, nil
	}

	last, err := a.store.IncrementUID(ctx, workspaceID, int64(n))
	if err != nil {
		return nil, fmt.Errorf("allocate %d uids for workspace %s: %w", n, workspaceID, err)
	}

	first := last - int64(n) + 1
	out := make([]int64, n)
	for i := range out {
		out[i] = first + int64(i)
	}
	a.observe(workspaceID, n)
	return out, nil
}

func (a *Allocator) observe(workspaceID string, n int) {
	if a.observer != nil {
		a.observer(workspaceID, n)
	}
}
