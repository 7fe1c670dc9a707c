// Package sqlite implements the pipeline store on an embedded SQLite
// database through the pure-Go modernc driver. It suits single-node
// deployments and tests; every write goes through one connection.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/JonMunkholm/feedpipe/internal/model"
	"github.com/JonMunkholm/feedpipe/internal/store"
)

//go:embed schema.sql
var schema string

// BusyTimeout is how long a statement waits on a lock held by another
// process before failing with SQLITE_BUSY.
const BusyTimeout = 5 * time.Second

// Store is a SQLite-backed pipeline store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path. Use ":memory:" for
// a private in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	// A single connection serializes writers in this process and keeps an
	// in-memory database alive between statements.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)",
		path, sep, BusyTimeout.Milliseconds())
}

// Migrate creates missing tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate sqlite schema: %w", err)
	}
	return nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the database handle.
func (s *Store) Close() {
	s.db.Close()
}

// IncrementUID advances the workspace counter by n in one statement.
func (s *Store) IncrementUID(ctx context.Context, workspaceID string, n int64) (int64, error) {
	var last int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO uid_counters (workspace_id, last_uid) VALUES (?, ?)
		ON CONFLICT (workspace_id) DO UPDATE SET last_uid = last_uid + excluded.last_uid
		RETURNING last_uid`,
		workspaceID, n,
	).Scan(&last)
	if err != nil {
		return 0, fmt.Errorf("increment uid counter: %w", err)
	}
	return last, nil
}

// ResetUIDCounter sets the workspace counter to value.
func (s *Store) ResetUIDCounter(ctx context.Context, workspaceID string, value int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO uid_counters (workspace_id, last_uid) VALUES (?, ?)
		ON CONFLICT (workspace_id) DO UPDATE SET last_uid = excluded.last_uid`,
		workspaceID, value,
	)
	if err != nil {
		return fmt.Errorf("reset uid counter: %w", err)
	}
	return nil
}

func (s *Store) ListCustomFields(ctx context.Context, workspaceID string) ([]model.CustomField, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT workspace_id, key, name, datatype, required, is_unique, display_order
		FROM custom_fields WHERE workspace_id = ?
		ORDER BY display_order, key`,
		workspaceID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.CustomField
	for rows.Next() {
		var f model.CustomField
		var datatype string
		if err := rows.Scan(&f.WorkspaceID, &f.Key, &f.Name, &datatype, &f.Required, &f.Unique, &f.DisplayOrder); err != nil {
			return nil, err
		}
		f.Datatype = model.Datatype(datatype)
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *Store) UpsertCustomField(ctx context.Context, f model.CustomField) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO custom_fields (workspace_id, key, name, datatype, required, is_unique, display_order)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (workspace_id, key) DO UPDATE SET
			name = excluded.name,
			datatype = excluded.datatype,
			required = excluded.required,
			is_unique = excluded.is_unique,
			display_order = excluded.display_order`,
		f.WorkspaceID, f.Key, f.Name, string(f.Datatype), f.Required, f.Unique, f.DisplayOrder,
	)
	return err
}

func (s *Store) ListFieldMappings(ctx context.Context, workspaceID, supplierID string) ([]model.FieldMapping, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT workspace_id, supplier_id, position, source_key, target_key, transform_type, transform_args
		FROM field_mappings WHERE workspace_id = ? AND supplier_id = ?
		ORDER BY position, rowid`,
		workspaceID, supplierID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.FieldMapping
	for rows.Next() {
		var m model.FieldMapping
		var ttype, targs string
		if err := rows.Scan(&m.WorkspaceID, &m.SupplierID, &m.Position, &m.SourceKey, &m.TargetKey, &ttype, &targs); err != nil {
			return nil, err
		}
		m.Transform.Type = model.TransformType(ttype)
		if m.Transform.Args, err = store.DecodeArgs(targs); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) ReplaceFieldMappings(ctx context.Context, workspaceID, supplierID string, rules []model.FieldMapping) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM field_mappings WHERE workspace_id = ? AND supplier_id = ?`,
			workspaceID, supplierID,
		); err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO field_mappings (workspace_id, supplier_id, position, source_key, target_key, transform_type, transform_args)
			VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, r := range rules {
			if _, err := stmt.ExecContext(ctx, workspaceID, supplierID, r.Position, r.SourceKey, r.TargetKey,
				string(r.Transform.Type), store.EncodeArgs(r.Transform.Args)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) ListDedupRules(ctx context.Context, workspaceID string) ([]model.DedupRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace_id, name, match_key, selection_policy, preferred_suppliers,
		       min_price, max_price, exclude_out_of_stock, category_blacklist, keyword_blacklist,
		       active, priority, created_at
		FROM dedup_rules WHERE workspace_id = ?
		ORDER BY priority DESC, created_at, id`,
		workspaceID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.DedupRule
	for rows.Next() {
		var (
			r                    model.DedupRule
			matchKey, policy     string
			preferred, cats, kws string
			minPrice, maxPrice   sql.NullFloat64
			createdAt            int64
		)
		if err := rows.Scan(&r.ID, &r.WorkspaceID, &r.Name, &matchKey, &policy, &preferred,
			&minPrice, &maxPrice, &r.ExcludeOutOfStock, &cats, &kws,
			&r.Active, &r.Priority, &createdAt); err != nil {
			return nil, err
		}
		r.MatchKey = model.MatchKey(matchKey)
		r.Policy = model.SelectionPolicy(policy)
		r.MinPrice = floatPtr(minPrice)
		r.MaxPrice = floatPtr(maxPrice)
		r.CreatedAt = fromNanos(createdAt)
		if r.PreferredSuppliers, err = store.DecodeList(preferred); err != nil {
			return nil, err
		}
		if r.CategoryBlacklist, err = store.DecodeList(cats); err != nil {
			return nil, err
		}
		if r.KeywordBlacklist, err = store.DecodeList(kws); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) UpsertDedupRule(ctx context.Context, r model.DedupRule) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dedup_rules (id, workspace_id, name, match_key, selection_policy, preferred_suppliers,
			min_price, max_price, exclude_out_of_stock, category_blacklist, keyword_blacklist,
			active, priority, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (workspace_id, id) DO UPDATE SET
			name = excluded.name,
			match_key = excluded.match_key,
			selection_policy = excluded.selection_policy,
			preferred_suppliers = excluded.preferred_suppliers,
			min_price = excluded.min_price,
			max_price = excluded.max_price,
			exclude_out_of_stock = excluded.exclude_out_of_stock,
			category_blacklist = excluded.category_blacklist,
			keyword_blacklist = excluded.keyword_blacklist,
			active = excluded.active,
			priority = excluded.priority`,
		r.ID, r.WorkspaceID, r.Name, string(r.MatchKey), string(r.Policy), store.EncodeList(r.PreferredSuppliers),
		nullFloat(r.MinPrice), nullFloat(r.MaxPrice), r.ExcludeOutOfStock,
		store.EncodeList(r.CategoryBlacklist), store.EncodeList(r.KeywordBlacklist),
		r.Active, r.Priority, r.CreatedAt.UnixNano(),
	)
	return err
}

// UpsertMappedProducts writes rows in one transaction. A conflicting row
// keeps its rowid, so first-seen order survives re-ingestion.
func (s *Store) UpsertMappedProducts(ctx context.Context, rows []model.MappedProduct) error {
	if len(rows) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO mapped_products (workspace_id, supplier_id, uid, fields, active, updated_at)
			VALUES (?, ?, ?, ?, 1, ?)
			ON CONFLICT (workspace_id, supplier_id, uid) DO UPDATE SET
				fields = excluded.fields,
				active = 1,
				updated_at = excluded.updated_at`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, r := range rows {
			fields, err := store.EncodeFields(r.Fields)
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx, r.WorkspaceID, r.SupplierID, r.UID, string(fields), r.UpdatedAt.UnixNano()); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) ListActiveMappedProducts(ctx context.Context, workspaceID string) ([]model.MappedProduct, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT rowid, workspace_id, supplier_id, uid, fields, updated_at
		FROM mapped_products WHERE workspace_id = ? AND active = 1
		ORDER BY rowid`,
		workspaceID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.MappedProduct
	for rows.Next() {
		var (
			p         model.MappedProduct
			fields    string
			updatedAt int64
		)
		if err := rows.Scan(&p.Seq, &p.WorkspaceID, &p.SupplierID, &p.UID, &fields, &updatedAt); err != nil {
			return nil, err
		}
		if p.Fields, err = store.DecodeFields([]byte(fields)); err != nil {
			return nil, err
		}
		p.Active = true
		p.UpdatedAt = fromNanos(updatedAt)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) CountMappedProducts(ctx context.Context, workspaceID, supplierID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM mapped_products
		WHERE workspace_id = ? AND active = 1 AND (? = '' OR supplier_id = ?)`,
		workspaceID, supplierID, supplierID,
	).Scan(&n)
	return n, err
}

func (s *Store) DeactivateMappedProduct(ctx context.Context, workspaceID, supplierID, uid string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE mapped_products SET active = 0
		WHERE workspace_id = ? AND supplier_id = ? AND uid = ?`,
		workspaceID, supplierID, uid,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (s *Store) ReplaceFinalProducts(ctx context.Context, workspaceID string, rows []model.FinalProduct) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM final_products WHERE workspace_id = ?`, workspaceID); err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO final_products (workspace_id, match_value, supplier_id, uid, reason, fields, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, r := range rows {
			fields, err := store.EncodeFields(r.Fields)
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx, workspaceID, r.MatchValue, r.SupplierID, r.UID, r.Reason,
				string(fields), r.UpdatedAt.UnixNano()); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) ListFinalProducts(ctx context.Context, workspaceID string) ([]model.FinalProduct, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT workspace_id, match_value, supplier_id, uid, reason, fields, updated_at
		FROM final_products WHERE workspace_id = ?
		ORDER BY match_value`,
		workspaceID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.FinalProduct
	for rows.Next() {
		var (
			p         model.FinalProduct
			fields    string
			updatedAt int64
		)
		if err := rows.Scan(&p.WorkspaceID, &p.MatchValue, &p.SupplierID, &p.UID, &p.Reason, &fields, &updatedAt); err != nil {
			return nil, err
		}
		if p.Fields, err = store.DecodeFields([]byte(fields)); err != nil {
			return nil, err
		}
		p.UpdatedAt = fromNanos(updatedAt)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) CreateRun(ctx context.Context, run model.Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ingestion_runs (id, workspace_id, supplier_id, format, source_name, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.WorkspaceID, run.SupplierID, run.Format, run.SourceName, string(run.Status), run.StartedAt.UnixNano(),
	)
	return err
}

func (s *Store) UpdateRunProgress(ctx context.Context, run model.Run) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE ingestion_runs SET total = ?, processed = ?, success = ?, errors = ?
		WHERE id = ? AND status = 'running'`,
		run.Total, run.Processed, run.Success, run.Errors, run.ID,
	)
	return err
}

func (s *Store) FinishRun(ctx context.Context, run model.Run) (bool, error) {
	var completedAt sql.NullInt64
	if run.CompletedAt != nil {
		completedAt = sql.NullInt64{Int64: run.CompletedAt.UnixNano(), Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE ingestion_runs SET
			status = ?, completed_at = ?, duration_ms = ?,
			total = ?, processed = ?, success = ?, errors = ?, error_message = ?
		WHERE id = ? AND status = 'running'`,
		string(run.Status), completedAt, run.DurationMs,
		run.Total, run.Processed, run.Success, run.Errors, run.ErrorMessage,
		run.ID,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (s *Store) GetRun(ctx context.Context, runID string) (model.Run, error) {
	var (
		run         model.Run
		status      string
		startedAt   int64
		completedAt sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, supplier_id, format, source_name, status, started_at, completed_at,
		       duration_ms, total, processed, success, errors, error_message
		FROM ingestion_runs WHERE id = ?`,
		runID,
	).Scan(&run.ID, &run.WorkspaceID, &run.SupplierID, &run.Format, &run.SourceName, &status,
		&startedAt, &completedAt, &run.DurationMs,
		&run.Total, &run.Processed, &run.Success, &run.Errors, &run.ErrorMessage)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Run{}, model.ErrNotFound
	}
	if err != nil {
		return model.Run{}, err
	}

	run.Status = model.RunStatus(status)
	run.StartedAt = fromNanos(startedAt)
	if completedAt.Valid {
		t := fromNanos(completedAt.Int64)
		run.CompletedAt = &t
	}
	return run, nil
}

func (s *Store) InsertFeedErrors(ctx context.Context, errs []model.FeedError) error {
	if len(errs) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO feed_errors (run_id, item_index, message, raw_snapshot, created_at)
			VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, e := range errs {
			if _, err := stmt.ExecContext(ctx, e.RunID, e.ItemIndex, e.Message, e.RawSnapshot, e.CreatedAt.UnixNano()); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) ListFeedErrors(ctx context.Context, runID string) ([]model.FeedError, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, item_index, message, raw_snapshot, created_at
		FROM feed_errors WHERE run_id = ?
		ORDER BY item_index, id`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.FeedError{}
	for rows.Next() {
		var e model.FeedError
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.RunID, &e.ItemIndex, &e.Message, &e.RawSnapshot, &createdAt); err != nil {
			return nil, err
		}
		e.CreatedAt = fromNanos(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// inTx runs fn in a transaction, committing on nil and rolling back
// otherwise. fn must use tx only; the pool has a single connection.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}
