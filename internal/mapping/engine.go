// Package mapping applies a supplier's field mapping rules to normalized
// items, producing the Custom Field values that get persisted.
//
// Apply runs in two passes. Explicit rules come first: each rule's source
// key is looked up case-insensitively in the raw record, then among the
// normalized attributes, transformed and coerced to the target field's
// datatype. Every field still unpopulated is then matched by its own key
// the same way. Coercion failures are written as nil so consumers can tell
// "present but invalid" from "unmapped".
package mapping

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/JonMunkholm/feedpipe/internal/model"
	"github.com/JonMunkholm/feedpipe/internal/normalize"
)

// ErrMissingRequired is returned when a required Custom Field ends up
// absent or nil.
var ErrMissingRequired = errors.New("missing required field")

// Engine applies mapping rules. The zero value is ready to use.
type Engine struct{}

// New returns an Engine.
func New() *Engine {
	return &Engine{}
}

// Apply maps item onto fields using rules. Rules targeting unknown fields
// are ignored. When several rules target the same field, the first rule by
// position whose source key is present wins.
//
// The returned map is always usable; a non-nil error wrapping
// ErrMissingRequired names the required fields left empty.
func (e *Engine) Apply(item normalize.Item, fields []model.CustomField, rules []model.FieldMapping) (map[string]any, error) {
	byKey := make(map[string]model.CustomField, len(fields))
	for _, f := range fields {
		byKey[f.Key] = f
	}

	lookup := func(key string) (any, bool) {
		return resolve(item, key)
	}

	out := make(map[string]any, len(fields))

	ordered := make([]model.FieldMapping, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Position < ordered[j].Position })

	for _, rule := range ordered {
		field, ok := byKey[rule.TargetKey]
		if !ok {
			continue
		}
		if _, done := out[field.Key]; done {
			continue
		}
		v, ok := lookup(rule.SourceKey)
		if !ok {
			continue
		}
		out[field.Key] = Coerce(applyTransform(rule.Transform, v, lookup), field.Datatype)
	}

	for _, field := range fields {
		if _, done := out[field.Key]; done {
			continue
		}
		if v, ok := lookup(field.Key); ok {
			out[field.Key] = Coerce(v, field.Datatype)
		}
	}

	var missing []string
	for _, field := range fields {
		if field.Required && out[field.Key] == nil {
			missing = append(missing, field.Key)
		}
	}
	if len(missing) > 0 {
		return out, fmt.Errorf("%w: %s", ErrMissingRequired, strings.Join(missing, ", "))
	}
	return out, nil
}

// resolve finds key in the raw record first, then among the normalized
// attributes, both case-insensitively.
func resolve(item normalize.Item, key string) (any, bool) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, false
	}
	if v, ok := item.Raw.Lookup(key); ok {
		return v, true
	}
	return item.Attribute(key)
}
