package core

import (
	"context"
	"fmt"
	"time"

	"github.com/JonMunkholm/feedpipe/internal/feed"
	"github.com/JonMunkholm/feedpipe/internal/metrics"
	"github.com/JonMunkholm/feedpipe/internal/model"
	"github.com/JonMunkholm/feedpipe/internal/uid"
)

// pendingRow is a mapped item waiting for the next flush. An empty uid
// means the workspace allocator assigns one at flush time.
type pendingRow struct {
	index  int
	uid    string
	fields map[string]any
}

// persister accumulates mapped rows and feed errors of one run and writes
// them in fixed-size batches.
type persister struct {
	store         Store
	uids          *uid.Allocator
	runID         string
	workspaceID   string
	supplierID    string
	size          int
	snapshotBytes int

	rows []pendingRow
	errs []model.FeedError
}

func newPersister(s *Service, run model.Run) *persister {
	return &persister{
		store:         s.store,
		uids:          s.uids,
		runID:         run.ID,
		workspaceID:   run.WorkspaceID,
		supplierID:    run.SupplierID,
		size:          s.batchSize,
		snapshotBytes: s.snapshotBytes,
		rows:          make([]pendingRow, 0, s.batchSize),
	}
}

func (p *persister) add(row pendingRow) {
	p.rows = append(p.rows, row)
}

// full reports whether either queue reached the batch size.
func (p *persister) full() bool {
	return len(p.rows) >= p.size || len(p.errs) >= p.size
}

// reject records an item-level failure for rec.
func (p *persister) reject(rec feed.Record, cause error) {
	p.errs = append(p.errs, model.FeedError{
		RunID:       p.runID,
		ItemIndex:   rec.Index,
		Message:     cause.Error(),
		RawSnapshot: rec.Snapshot(p.snapshotBytes),
		CreatedAt:   time.Now().UTC(),
	})
}

// flush writes queued rows and errors. It returns the number of items the
// batch committed. The queue is cleared only on success.
func (p *persister) flush(ctx context.Context) (int, error) {
	n := len(p.rows)
	if n > 0 {
		products, err := p.materialize(ctx)
		if err != nil {
			return 0, err
		}

		start := time.Now()
		if err := p.store.UpsertMappedProducts(ctx, products); err != nil {
			return 0, fmt.Errorf("upsert batch of %d mapped products: %w", len(products), err)
		}
		metrics.ObserveFlush(time.Since(start))
		p.rows = p.rows[:0]
	}

	if err := p.flushErrors(ctx); err != nil {
		return n, err
	}
	return n, nil
}

// flushErrors writes queued feed errors only.
func (p *persister) flushErrors(ctx context.Context) error {
	if len(p.errs) == 0 {
		return nil
	}
	if err := p.store.InsertFeedErrors(ctx, p.errs); err != nil {
		return fmt.Errorf("insert %d feed errors: %w", len(p.errs), err)
	}
	p.errs = p.errs[:0]
	return nil
}

// materialize assigns uids to rows lacking one and collapses rows sharing
// a uid to the last occurrence, keeping first-position order.
func (p *persister) materialize(ctx context.Context) ([]model.MappedProduct, error) {
	missing := 0
	for _, r := range p.rows {
		if r.uid == "" {
			missing++
		}
	}

	ids, err := p.uids.AllocateBatch(ctx, p.workspaceID, missing)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	products := make([]model.MappedProduct, 0, len(p.rows))
	position := make(map[string]int, len(p.rows))
	next := 0

	for _, r := range p.rows {
		key := r.uid
		if key == "" {
			key = uid.Key(ids[next])
			next++
		}

		product := model.MappedProduct{
			WorkspaceID: p.workspaceID,
			SupplierID:  p.supplierID,
			UID:         key,
			Fields:      r.fields,
			Active:      true,
			UpdatedAt:   now,
		}
		if i, dup := position[key]; dup {
			products[i] = product
			continue
		}
		position[key] = len(products)
		products = append(products, product)
	}
	return products, nil
}
