package core

import (
	"context"
	"errors"
	"io"

	"github.com/JonMunkholm/feedpipe/internal/dedup"
	"github.com/JonMunkholm/feedpipe/internal/model"
	"github.com/JonMunkholm/feedpipe/internal/uid"
)

var (
	// ErrRunNotFound is returned for run ids that were never started.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunCancelled is the failure cause recorded for cancelled runs.
	ErrRunCancelled = errors.New("run cancelled")

	// ErrInvalidRequest marks ingestion requests missing required input.
	ErrInvalidRequest = errors.New("invalid request")
)

// Store is the persistence contract of the pipeline. Implementations live
// in internal/store/postgres and internal/store/sqlite.
type Store interface {
	uid.CounterStore

	// ResetUIDCounter sets a workspace counter to value. It is the only
	// operation allowed to lower it.
	ResetUIDCounter(ctx context.Context, workspaceID string, value int64) error

	// ListCustomFields returns the workspace fields ordered by display order.
	ListCustomFields(ctx context.Context, workspaceID string) ([]model.CustomField, error)
	UpsertCustomField(ctx context.Context, f model.CustomField) error

	// ListFieldMappings returns a supplier's rules ordered by position.
	ListFieldMappings(ctx context.Context, workspaceID, supplierID string) ([]model.FieldMapping, error)
	// ReplaceFieldMappings deletes the supplier's rule set and inserts rules
	// in one transaction.
	ReplaceFieldMappings(ctx context.Context, workspaceID, supplierID string, rules []model.FieldMapping) error

	// ListDedupRules returns rules by descending priority, oldest first on ties.
	ListDedupRules(ctx context.Context, workspaceID string) ([]model.DedupRule, error)
	UpsertDedupRule(ctx context.Context, r model.DedupRule) error

	// UpsertMappedProducts writes rows keyed on (workspace, supplier, uid),
	// overwriting fields and reactivating on conflict.
	UpsertMappedProducts(ctx context.Context, rows []model.MappedProduct) error
	// ListActiveMappedProducts returns active rows in first-seen order.
	ListActiveMappedProducts(ctx context.Context, workspaceID string) ([]model.MappedProduct, error)
	// CountMappedProducts counts active rows; an empty supplierID counts
	// the whole workspace.
	CountMappedProducts(ctx context.Context, workspaceID, supplierID string) (int, error)
	// DeactivateMappedProduct soft-deletes one row. Returns model.ErrNotFound
	// when the row does not exist.
	DeactivateMappedProduct(ctx context.Context, workspaceID, supplierID, uid string) error

	// ReplaceFinalProducts deletes the workspace's final products and
	// inserts rows in one transaction.
	ReplaceFinalProducts(ctx context.Context, workspaceID string, rows []model.FinalProduct) error
	ListFinalProducts(ctx context.Context, workspaceID string) ([]model.FinalProduct, error)

	CreateRun(ctx context.Context, run model.Run) error
	UpdateRunProgress(ctx context.Context, run model.Run) error
	// FinishRun stores the terminal state only if the run is still running
	// and reports whether it did.
	FinishRun(ctx context.Context, run model.Run) (bool, error)
	// GetRun returns model.ErrNotFound for unknown ids.
	GetRun(ctx context.Context, runID string) (model.Run, error)

	InsertFeedErrors(ctx context.Context, errs []model.FeedError) error
	// ListFeedErrors returns a run's errors ordered by item index.
	ListFeedErrors(ctx context.Context, runID string) ([]model.FeedError, error)

	Ping(ctx context.Context) error
	Close()
}

// RunNotifier is told about every finalized run.
type RunNotifier interface {
	RunFinished(ctx context.Context, run model.Run) error
}

// IngestRequest describes one feed to ingest.
type IngestRequest struct {
	WorkspaceID string
	SupplierID  string

	// Source is read to the end by the run. If it implements io.Closer it
	// is closed when the run finishes.
	Source io.Reader

	// SourceName and ContentType feed format detection when Format is empty.
	SourceName  string
	ContentType string

	// Format is an explicit "csv", "json" or "xml" hint.
	Format string

	// Charset names a non-UTF-8 encoding of CSV and JSON feeds.
	Charset string

	// Size is the byte length of Source if known, for progress reporting.
	Size int64

	// Wait makes StartIngestion return only after the run is finalized.
	Wait bool
}

// RunStatus is the externally visible state of an ingestion run.
type RunStatus struct {
	model.Run
	BytesRead  int64 `json:"bytes_read,omitempty"`
	BytesTotal int64 `json:"bytes_total,omitempty"`
	Progress   int   `json:"progress_pct,omitempty"`
}

// DedupReport is the outcome of one deduplication pass.
type DedupReport struct {
	WorkspaceID string           `json:"workspace_id"`
	RuleID      string           `json:"rule_id,omitempty"`
	MatchKey    model.MatchKey   `json:"match_key,omitempty"`
	Stats       dedup.Stats      `json:"stats"`
	Conflicts   []dedup.Conflict `json:"conflicts"`
	DurationMs  int64            `json:"duration_ms"`
}
