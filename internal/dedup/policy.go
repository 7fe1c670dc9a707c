package dedup

import (
	"math"
	"strings"

	"golang.org/x/text/cases"

	"github.com/JonMunkholm/feedpipe/internal/model"
	"github.com/JonMunkholm/feedpipe/internal/normalize"
)

// Field keys read from mapped records. The first present key wins.
var (
	priceKeys    = []string{"price"}
	quantityKeys = []string{"quantity", "stock", "qty"}
	categoryKeys = []string{"category"}
	keywordKeys  = []string{"title", "name", "description"}
)

// MatchValue returns the grouping value of r for key, or "" when r has
// none. EANs lose spaces and hyphens; SKUs and titles are case-folded and
// titles also have their whitespace collapsed.
func MatchValue(r model.MappedProduct, key model.MatchKey) string {
	v, ok := fieldValue(r, string(key))
	if !ok {
		return ""
	}
	s := normalize.Stringify(v)
	switch key {
	case model.MatchEAN:
		return strings.NewReplacer(" ", "", "-", "").Replace(s)
	case model.MatchSKU:
		return cases.Fold().String(s)
	case model.MatchTitle:
		return strings.Join(strings.Fields(cases.Fold().String(s)), " ")
	default:
		return s
	}
}

// applyExclusions returns the members passing the rule's exclusion
// thresholds, plus a per-member excluded flag.
func applyExclusions(members []model.MappedProduct, rule *model.DedupRule) ([]model.MappedProduct, []bool) {
	eligible := make([]model.MappedProduct, 0, len(members))
	excluded := make([]bool, len(members))
	for i, m := range members {
		if isExcluded(m, rule) {
			excluded[i] = true
			continue
		}
		eligible = append(eligible, m)
	}
	return eligible, excluded
}

func isExcluded(m model.MappedProduct, rule *model.DedupRule) bool {
	if price, ok := number(m, priceKeys); ok {
		if rule.MinPrice != nil && price < *rule.MinPrice {
			return true
		}
		if rule.MaxPrice != nil && price > *rule.MaxPrice {
			return true
		}
	}

	if rule.ExcludeOutOfStock {
		if qty, ok := number(m, quantityKeys); ok && qty <= 0 {
			return true
		}
	}

	if len(rule.CategoryBlacklist) > 0 && containsAny(text(m, categoryKeys), rule.CategoryBlacklist) {
		return true
	}

	if len(rule.KeywordBlacklist) > 0 {
		for _, key := range keywordKeys {
			if containsAny(text(m, []string{key}), rule.KeywordBlacklist) {
				return true
			}
		}
	}
	return false
}

// selectWinner applies the rule's selection policy to a non-empty,
// source-ordered candidate list.
func selectWinner(candidates []model.MappedProduct, rule *model.DedupRule) (model.MappedProduct, Reason) {
	switch rule.Policy {
	case model.PolicyLowestPrice:
		best, bestPrice := 0, math.Inf(1)
		for i, c := range candidates {
			p, ok := number(c, priceKeys)
			if !ok {
				p = math.Inf(1)
			}
			if p < bestPrice {
				best, bestPrice = i, p
			}
		}
		return candidates[best], ReasonLowestPrice

	case model.PolicyPreferredSupplier:
		for _, supplier := range rule.PreferredSuppliers {
			for _, c := range candidates {
				if c.SupplierID == supplier {
					return c, ReasonPreferredSupplier
				}
			}
		}
		return candidates[0], ReasonFirstAvailable

	case model.PolicyHighestStock:
		best, bestQty := 0, math.Inf(-1)
		for i, c := range candidates {
			q, ok := number(c, quantityKeys)
			if !ok {
				q = 0
			}
			if q > bestQty {
				best, bestQty = i, q
			}
		}
		return candidates[best], ReasonHighestStock

	default:
		return candidates[0], ReasonFirstAvailable
	}
}

// fieldValue looks up the first of keys in r.Fields, exact match first and
// then case-insensitively. Among case-insensitive matches the smallest key
// wins so the result does not depend on map order. Nil values count as absent.
func fieldValue(r model.MappedProduct, keys ...string) (any, bool) {
	for _, key := range keys {
		if v, ok := r.Fields[key]; ok && v != nil {
			return v, true
		}
		match := ""
		for k, v := range r.Fields {
			if v != nil && strings.EqualFold(k, key) && (match == "" || k < match) {
				match = k
			}
		}
		if match != "" {
			return r.Fields[match], true
		}
	}
	return nil, false
}

func number(r model.MappedProduct, keys []string) (float64, bool) {
	v, ok := fieldValue(r, keys...)
	if !ok {
		return 0, false
	}
	return normalize.ParseNumber(v)
}

func text(r model.MappedProduct, keys []string) string {
	v, ok := fieldValue(r, keys...)
	if !ok {
		return ""
	}
	return normalize.Stringify(v)
}

func containsAny(s string, needles []string) bool {
	if s == "" {
		return false
	}
	folded := cases.Fold().String(s)
	for _, n := range needles {
		n = strings.TrimSpace(n)
		if n != "" && strings.Contains(folded, cases.Fold().String(n)) {
			return true
		}
	}
	return false
}
