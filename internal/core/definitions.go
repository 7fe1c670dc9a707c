package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/JonMunkholm/feedpipe/internal/model"
)

// ErrProductNotFound is returned when deactivating an unknown product.
var ErrProductNotFound = errors.New("product not found")

// SaveCustomField validates and stores a custom field definition.
func (s *Service) SaveCustomField(ctx context.Context, f model.CustomField) error {
	f.Key = strings.TrimSpace(f.Key)
	if err := f.Validate(); err != nil {
		return err
	}
	if err := s.store.UpsertCustomField(ctx, f); err != nil {
		return fmt.Errorf("save custom field %s: %w", f.Key, err)
	}
	return nil
}

// ListCustomFields returns the workspace's fields in display order.
func (s *Service) ListCustomFields(ctx context.Context, workspaceID string) ([]model.CustomField, error) {
	fields, err := s.store.ListCustomFields(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list custom fields: %w", err)
	}
	return fields, nil
}

// ReplaceFieldMappings validates rules and replaces the supplier's whole
// rule set. Rules without an explicit position keep their list order.
func (s *Service) ReplaceFieldMappings(ctx context.Context, workspaceID, supplierID string, rules []model.FieldMapping) error {
	out := make([]model.FieldMapping, len(rules))
	for i, r := range rules {
		r.WorkspaceID = workspaceID
		r.SupplierID = supplierID
		if r.Position == 0 {
			r.Position = i
		}
		if err := r.Validate(); err != nil {
			return fmt.Errorf("rule %d: %w", i, err)
		}
		out[i] = r
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })

	if err := s.store.ReplaceFieldMappings(ctx, workspaceID, supplierID, out); err != nil {
		return fmt.Errorf("replace field mappings: %w", err)
	}
	return nil
}

// ListFieldMappings returns a supplier's rules ordered by position.
func (s *Service) ListFieldMappings(ctx context.Context, workspaceID, supplierID string) ([]model.FieldMapping, error) {
	rules, err := s.store.ListFieldMappings(ctx, workspaceID, supplierID)
	if err != nil {
		return nil, fmt.Errorf("list field mappings: %w", err)
	}
	return rules, nil
}

// SaveDedupRule validates and stores a deduplication rule.
func (s *Service) SaveDedupRule(ctx context.Context, r model.DedupRule) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if err := r.Validate(); err != nil {
		return err
	}
	if err := s.store.UpsertDedupRule(ctx, r); err != nil {
		return fmt.Errorf("save dedup rule %s: %w", r.ID, err)
	}
	return nil
}

// ListDedupRules returns the workspace's rules by descending priority.
func (s *Service) ListDedupRules(ctx context.Context, workspaceID string) ([]model.DedupRule, error) {
	rules, err := s.store.ListDedupRules(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list dedup rules: %w", err)
	}
	return rules, nil
}

// DeactivateProduct soft-deletes a mapped product. Its uid is never
// handed out again.
func (s *Service) DeactivateProduct(ctx context.Context, workspaceID, supplierID, uid string) error {
	err := s.store.DeactivateMappedProduct(ctx, workspaceID, supplierID, uid)
	if errors.Is(err, model.ErrNotFound) {
		return fmt.Errorf("%w: %s/%s", ErrProductNotFound, supplierID, uid)
	}
	if err != nil {
		return fmt.Errorf("deactivate product: %w", err)
	}
	return nil
}

// CountMappedProducts counts active mapped products. An empty supplierID
// counts the whole workspace.
func (s *Service) CountMappedProducts(ctx context.Context, workspaceID, supplierID string) (int, error) {
	n, err := s.store.CountMappedProducts(ctx, workspaceID, supplierID)
	if err != nil {
		return 0, fmt.Errorf("count mapped products: %w", err)
	}
	return n, nil
}

// ListFinalProducts returns the current deduplicated product set.
func (s *Service) ListFinalProducts(ctx context.Context, workspaceID string) ([]model.FinalProduct, error) {
	rows, err := s.store.ListFinalProducts(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list final products: %w", err)
	}
	return rows, nil
}
