// Package postgres implements the pipeline store on PostgreSQL through a
// pgx connection pool.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/feedpipe/internal/model"
	"github.com/JonMunkholm/feedpipe/internal/store"
)

//go:embed schema.sql
var schema string

// PoolConfig sizes the connection pool.
type PoolConfig struct {
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Store is a PostgreSQL-backed pipeline store.
type Store struct {
	pool *pgxpool.Pool
}

// Open parses url, applies cfg and verifies the connection.
func Open(ctx context.Context, url string, cfg PoolConfig) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = int32(cfg.MinConns)
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return New(pool), nil
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate creates missing tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate postgres schema: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() {
	s.pool.Close()
}

// IncrementUID advances the workspace counter by n. The upsert takes a row
// lock, so concurrent callers in any process serialize on it.
func (s *Store) IncrementUID(ctx context.Context, workspaceID string, n int64) (int64, error) {
	var last int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO uid_counters (workspace_id, last_uid) VALUES ($1, $2)
		ON CONFLICT (workspace_id) DO UPDATE SET last_uid = uid_counters.last_uid + EXCLUDED.last_uid
		RETURNING last_uid`,
		workspaceID, n,
	).Scan(&last)
	if err != nil {
		return 0, fmt.Errorf("increment uid counter: %w", err)
	}
	return last, nil
}

func (s *Store) ResetUIDCounter(ctx context.Context, workspaceID string, value int64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO uid_counters (workspace_id, last_uid) VALUES ($1, $2)
		ON CONFLICT (workspace_id) DO UPDATE SET last_uid = EXCLUDED.last_uid`,
		workspaceID, value,
	)
	if err != nil {
		return fmt.Errorf("reset uid counter: %w", err)
	}
	return nil
}

func (s *Store) ListCustomFields(ctx context.Context, workspaceID string) ([]model.CustomField, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT workspace_id, key, name, datatype, required, is_unique, display_order
		FROM custom_fields WHERE workspace_id = $1
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
	_, err := s.pool.Exec(ctx, `
		INSERT INTO custom_fields (workspace_id, key, name, datatype, required, is_unique, display_order)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (workspace_id, key) DO UPDATE SET
			name = EXCLUDED.name,
			datatype = EXCLUDED.datatype,
			required = EXCLUDED.required,
			is_unique = EXCLUDED.is_unique,
			display_order = EXCLUDED.display_order`,
		f.WorkspaceID, f.Key, f.Name, string(f.Datatype), f.Required, f.Unique, f.DisplayOrder,
	)
	return err
}

func (s *Store) ListFieldMappings(ctx context.Context, workspaceID, supplierID string) ([]model.FieldMapping, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT workspace_id, supplier_id, position, source_key, target_key, transform_type, transform_args::text
		FROM field_mappings WHERE workspace_id = $1 AND supplier_id = $2
		ORDER BY position, id`,
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
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM field_mappings WHERE workspace_id = $1 AND supplier_id = $2`,
			workspaceID, supplierID,
		); err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for _, r := range rules {
			batch.Queue(`
				INSERT INTO field_mappings (workspace_id, supplier_id, position, source_key, target_key, transform_type, transform_args)
				VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)`,
				workspaceID, supplierID, r.Position, r.SourceKey, r.TargetKey,
				string(r.Transform.Type), store.EncodeArgs(r.Transform.Args),
			)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

func (s *Store) ListDedupRules(ctx context.Context, workspaceID string) ([]model.DedupRule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, workspace_id, name, match_key, selection_policy, preferred_suppliers,
		       min_price, max_price, exclude_out_of_stock, category_blacklist, keyword_blacklist,
		       active, priority, created_at
		FROM dedup_rules WHERE workspace_id = $1
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
			r                  model.DedupRule
			matchKey, policy   string
			minPrice, maxPrice pgtype.Float8
		)
		if err := rows.Scan(&r.ID, &r.WorkspaceID, &r.Name, &matchKey, &policy, &r.PreferredSuppliers,
			&minPrice, &maxPrice, &r.ExcludeOutOfStock, &r.CategoryBlacklist, &r.KeywordBlacklist,
			&r.Active, &r.Priority, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.MatchKey = model.MatchKey(matchKey)
		r.Policy = model.SelectionPolicy(policy)
		r.MinPrice = floatPtr(minPrice)
		r.MaxPrice = floatPtr(maxPrice)
		r.CreatedAt = r.CreatedAt.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) UpsertDedupRule(ctx context.Context, r model.DedupRule) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO dedup_rules (id, workspace_id, name, match_key, selection_policy, preferred_suppliers,
			min_price, max_price, exclude_out_of_stock, category_blacklist, keyword_blacklist,
			active, priority, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (workspace_id, id) DO UPDATE SET
			name = EXCLUDED.name,
			match_key = EXCLUDED.match_key,
			selection_policy = EXCLUDED.selection_policy,
			preferred_suppliers = EXCLUDED.preferred_suppliers,
			min_price = EXCLUDED.min_price,
			max_price = EXCLUDED.max_price,
			exclude_out_of_stock = EXCLUDED.exclude_out_of_stock,
			category_blacklist = EXCLUDED.category_blacklist,
			keyword_blacklist = EXCLUDED.keyword_blacklist,
			active = EXCLUDED.active,
			priority = EXCLUDED.priority`,
		r.ID, r.WorkspaceID, r.Name, string(r.MatchKey), string(r.Policy), nonNil(r.PreferredSuppliers),
		r.MinPrice, r.MaxPrice, r.ExcludeOutOfStock, nonNil(r.CategoryBlacklist), nonNil(r.KeywordBlacklist),
		r.Active, r.Priority, r.CreatedAt,
	)
	return err
}

// UpsertMappedProducts sends all rows as one batch inside a transaction.
// The seq column is assigned on first insert and untouched by updates.
func (s *Store) UpsertMappedProducts(ctx context.Context, rows []model.MappedProduct) error {
	if len(rows) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, r := range rows {
		fields, err := store.EncodeFields(r.Fields)
		if err != nil {
			return err
		}
		batch.Queue(`
			INSERT INTO mapped_products (workspace_id, supplier_id, uid, fields, active, updated_at)
			VALUES ($1, $2, $3, $4, TRUE, $5)
			ON CONFLICT (workspace_id, supplier_id, uid) DO UPDATE SET
				fields = EXCLUDED.fields,
				active = TRUE,
				updated_at = EXCLUDED.updated_at`,
			r.WorkspaceID, r.SupplierID, r.UID, fields, r.UpdatedAt,
		)
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
}

func (s *Store) ListActiveMappedProducts(ctx context.Context, workspaceID string) ([]model.MappedProduct, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT seq, workspace_id, supplier_id, uid, fields, updated_at
		FROM mapped_products WHERE workspace_id = $1 AND active
		ORDER BY seq`,
		workspaceID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.MappedProduct
	for rows.Next() {
		var p model.MappedProduct
		var fields []byte
		if err := rows.Scan(&p.Seq, &p.WorkspaceID, &p.SupplierID, &p.UID, &fields, &p.UpdatedAt); err != nil {
			return nil, err
		}
		if p.Fields, err = store.DecodeFields(fields); err != nil {
			return nil, err
		}
		p.Active = true
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) CountMappedProducts(ctx context.Context, workspaceID, supplierID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM mapped_products
		WHERE workspace_id = $1 AND active AND ($2 = '' OR supplier_id = $2)`,
		workspaceID, supplierID,
	).Scan(&n)
	return n, err
}

func (s *Store) DeactivateMappedProduct(ctx context.Context, workspaceID, supplierID, uid string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE mapped_products SET active = FALSE
		WHERE workspace_id = $1 AND supplier_id = $2 AND uid = $3`,
		workspaceID, supplierID, uid,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (s *Store) ReplaceFinalProducts(ctx context.Context, workspaceID string, rows []model.FinalProduct) error {
	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM final_products WHERE workspace_id = $1`, workspaceID)
	for _, r := range rows {
		fields, err := store.EncodeFields(r.Fields)
		if err != nil {
			return err
		}
		batch.Queue(`
			INSERT INTO final_products (workspace_id, match_value, supplier_id, uid, reason, fields, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			workspaceID, r.MatchValue, r.SupplierID, r.UID, r.Reason, fields, r.UpdatedAt,
		)
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
}

func (s *Store) ListFinalProducts(ctx context.Context, workspaceID string) ([]model.FinalProduct, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT workspace_id, match_value, supplier_id, uid, reason, fields, updated_at
		FROM final_products WHERE workspace_id = $1
		ORDER BY match_value`,
		workspaceID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.FinalProduct
	for rows.Next() {
		var p model.FinalProduct
		var fields []byte
		if err := rows.Scan(&p.WorkspaceID, &p.MatchValue, &p.SupplierID, &p.UID, &p.Reason, &fields, &p.UpdatedAt); err != nil {
			return nil, err
		}
		if p.Fields, err = store.DecodeFields(fields); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) CreateRun(ctx context.Context, run model.Run) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ingestion_runs (id, workspace_id, supplier_id, format, source_name, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.ID, run.WorkspaceID, run.SupplierID, run.Format, run.SourceName, string(run.Status), run.StartedAt,
	)
	return err
}

func (s *Store) UpdateRunProgress(ctx context.Context, run model.Run) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE ingestion_runs SET total = $2, processed = $3, success = $4, errors = $5
		WHERE id = $1 AND status = 'running'`,
		run.ID, run.Total, run.Processed, run.Success, run.Errors,
	)
	return err
}

func (s *Store) FinishRun(ctx context.Context, run model.Run) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE ingestion_runs SET
			status = $2, completed_at = $3, duration_ms = $4,
			total = $5, processed = $6, success = $7, errors = $8, error_message = $9
		WHERE id = $1 AND status = 'running'`,
		run.ID, string(run.Status), run.CompletedAt, run.DurationMs,
		run.Total, run.Processed, run.Success, run.Errors, run.ErrorMessage,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) GetRun(ctx context.Context, runID string) (model.Run, error) {
	var (
		run         model.Run
		status      string
		completedAt pgtype.Timestamptz
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, workspace_id, supplier_id, format, source_name, status, started_at, completed_at,
		       duration_ms, total, processed, success, errors, error_message
		FROM ingestion_runs WHERE id = $1`,
		runID,
	).Scan(&run.ID, &run.WorkspaceID, &run.SupplierID, &run.Format, &run.SourceName, &status,
		&run.StartedAt, &completedAt, &run.DurationMs,
		&run.Total, &run.Processed, &run.Success, &run.Errors, &run.ErrorMessage)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Run{}, model.ErrNotFound
	}
	if err != nil {
		return model.Run{}, err
	}

	run.Status = model.RunStatus(status)
	run.StartedAt = run.StartedAt.UTC()
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		run.CompletedAt = &t
	}
	return run, nil
}

// InsertFeedErrors bulk-loads errs with the COPY protocol.
func (s *Store) InsertFeedErrors(ctx context.Context, errs []model.FeedError) error {
	if len(errs) == 0 {
		return nil
	}
	_, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{"feed_errors"},
		[]string{"run_id", "item_index", "message", "raw_snapshot", "created_at"},
		pgx.CopyFromSlice(len(errs), func(i int) ([]any, error) {
			e := errs[i]
			return []any{e.RunID, e.ItemIndex, e.Message, e.RawSnapshot, e.CreatedAt}, nil
		}),
	)
	return err
}

func (s *Store) ListFeedErrors(ctx context.Context, runID string) ([]model.FeedError, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, run_id, item_index, message, raw_snapshot, created_at
		FROM feed_errors WHERE run_id = $1
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
		if err := rows.Scan(&e.ID, &e.RunID, &e.ItemIndex, &e.Message, &e.RawSnapshot, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func floatPtr(v pgtype.Float8) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}
