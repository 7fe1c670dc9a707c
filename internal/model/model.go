// Package model defines the persistent records shared by the ingestion
// pipeline, the deduplication engine and the storage layers.
//
// Types here carry no behavior beyond validation; every package that needs
// a workspace-scoped definition (custom fields, mapping rules, dedup rules)
// imports them from here so the pure engines stay free of storage concerns.
package model

import (
	"errors"
	"time"
)

// ErrNotFound is returned by stores when a keyed record does not exist.
var ErrNotFound = errors.New("not found")

// Datatype is the declared type of a Custom Field.
type Datatype string

const (
	DatatypeText   Datatype = "text"
	DatatypeNumber Datatype = "number"
	DatatypeBool   Datatype = "bool"
	DatatypeDate   Datatype = "date"
	DatatypeJSON   Datatype = "json"
)

// CustomField is a workspace-scoped product attribute definition.
type CustomField struct {
	WorkspaceID  string   `json:"workspace_id" validate:"required"`
	Key          string   `json:"key" validate:"required,max=64,fieldkey"`
	Name         string   `json:"name" validate:"required,max=255"`
	Datatype     Datatype `json:"datatype" validate:"required,oneof=text number bool date json"`
	Required     bool     `json:"required"`
	Unique       bool     `json:"unique"`
	DisplayOrder int      `json:"display_order" validate:"gte=0"`
}

// TransformType names a value transform applied by a Field Mapping rule.
type TransformType string

const (
	TransformDirect          TransformType = "direct"
	TransformTrim            TransformType = "trim"
	TransformLowercase       TransformType = "lowercase"
	TransformUppercase       TransformType = "uppercase"
	TransformCaseFold        TransformType = "casefold"
	TransformConcat          TransformType = "concat"
	TransformReplace         TransformType = "replace"
	TransformExtractNumber   TransformType = "extract_number"
	TransformExtractCurrency TransformType = "extract_currency"
)

// Transform is an optional value transform with string arguments.
//
// Arguments by type:
//   - concat: "fields" (comma-separated extra source keys), "separator"
//   - replace: "from", "to"
type Transform struct {
	Type TransformType     `json:"type,omitempty" validate:"omitempty,oneof=direct trim lowercase uppercase casefold concat replace extract_number extract_currency"`
	Args map[string]string `json:"args,omitempty"`
}

// FieldMapping maps one source key of a supplier feed onto a Custom Field.
type FieldMapping struct {
	WorkspaceID string    `json:"workspace_id" validate:"required"`
	SupplierID  string    `json:"supplier_id" validate:"required"`
	SourceKey   string    `json:"source_key" validate:"required,max=255"`
	TargetKey   string    `json:"target_key" validate:"required,max=64"`
	Transform   Transform `json:"transform"`
	Position    int       `json:"position" validate:"gte=0"`
}

// MappedProduct is one supplier's view of a product after field mapping.
// Identity is (WorkspaceID, SupplierID, UID).
type MappedProduct struct {
	WorkspaceID string         `json:"workspace_id"`
	SupplierID  string         `json:"supplier_id"`
	UID         string         `json:"uid"`
	Fields      map[string]any `json:"fields"`
	Active      bool           `json:"active"`
	Seq         int64          `json:"seq"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// RunStatus is the lifecycle state of an ingestion run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

// Run is one ingestion attempt for a supplier.
type Run struct {
	ID           string     `json:"id"`
	WorkspaceID  string     `json:"workspace_id"`
	SupplierID   string     `json:"supplier_id"`
	Format       string     `json:"format"`
	SourceName   string     `json:"source_name,omitempty"`
	Status       RunStatus  `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	DurationMs   int64      `json:"duration_ms"`
	Total        int        `json:"total"`
	Processed    int        `json:"processed"`
	Success      int        `json:"success"`
	Errors       int        `json:"errors"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// FeedError is an append-only record of one item-level ingestion failure.
type FeedError struct {
	ID          int64     `json:"id"`
	RunID       string    `json:"run_id"`
	ItemIndex   int       `json:"item_index"`
	Message     string    `json:"message"`
	RawSnapshot string    `json:"raw_snapshot,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// MatchKey is the attribute used to group duplicate candidates.
type MatchKey string

const (
	MatchEAN   MatchKey = "ean"
	MatchSKU   MatchKey = "sku"
	MatchTitle MatchKey = "title"
)

// SelectionPolicy picks a winner among grouped candidates.
type SelectionPolicy string

const (
	PolicyLowestPrice       SelectionPolicy = "lowest_price"
	PolicyPreferredSupplier SelectionPolicy = "preferred_supplier"
	PolicyHighestStock      SelectionPolicy = "highest_stock"
	PolicyFirstAvailable    SelectionPolicy = "first_available"
)

// DedupRule configures cross-supplier deduplication for a workspace.
type DedupRule struct {
	ID                 string          `json:"id" validate:"required,max=64"`
	WorkspaceID        string          `json:"workspace_id" validate:"required"`
	Name               string          `json:"name" validate:"max=255"`
	MatchKey           MatchKey        `json:"match_key" validate:"required,oneof=ean sku title"`
	Policy             SelectionPolicy `json:"selection_policy" validate:"required,oneof=lowest_price preferred_supplier highest_stock first_available"`
	PreferredSuppliers []string        `json:"preferred_suppliers,omitempty" validate:"dive,required"`
	MinPrice           *float64        `json:"min_price,omitempty" validate:"omitempty,gte=0"`
	MaxPrice           *float64        `json:"max_price,omitempty" validate:"omitempty,gte=0"`
	ExcludeOutOfStock  bool            `json:"exclude_out_of_stock"`
	CategoryBlacklist  []string        `json:"category_blacklist,omitempty"`
	KeywordBlacklist   []string        `json:"keyword_blacklist,omitempty"`
	Active             bool            `json:"active"`
	Priority           int             `json:"priority"`
	CreatedAt          time.Time       `json:"created_at"`
}

// FinalProduct is the winning record for one match value in a workspace.
type FinalProduct struct {
	WorkspaceID string         `json:"workspace_id"`
	MatchValue  string         `json:"match_value"`
	SupplierID  string         `json:"supplier_id"`
	UID         string         `json:"uid"`
	Reason      string         `json:"reason"`
	Fields      map[string]any `json:"fields"`
	UpdatedAt   time.Time      `json:"updated_at"`
}
