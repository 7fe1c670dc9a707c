package dedup

import (
	"testing"

	"github.com/JonMunkholm/feedpipe/internal/model"
)

func product(supplier, uid string, fields map[string]any) model.MappedProduct {
	return model.MappedProduct{WorkspaceID: "ws", SupplierID: supplier, UID: uid, Fields: fields, Active: true}
}

func ptr(f float64) *float64 { return &f }

func eanRule(policy model.SelectionPolicy) *model.DedupRule {
	return &model.DedupRule{ID: "r1", WorkspaceID: "ws", MatchKey: model.MatchEAN, Policy: policy, Active: true}
}

func winnerFor(t *testing.T, res Result, matchValue string) Winner {
	t.Helper()
	for _, w := range res.Winners {
		if w.MatchValue == matchValue {
			return w
		}
	}
	t.Fatalf("no winner for %q in %+v", matchValue, res.Winners)
	return Winner{}
}

func TestResolveLowestPrice(t *testing.T) {
	records := []model.MappedProduct{
		product("a", "1", map[string]any{"ean": "123", "price": 10.00}),
		product("b", "2", map[string]any{"ean": "123", "price": 8.50}),
	}

	res := Resolve(records, eanRule(model.PolicyLowestPrice))

	w := winnerFor(t, res, "123")
	if w.Record.SupplierID != "b" || w.Reason != ReasonLowestPrice {
		t.Errorf("winner = %s/%s, want b/lowest_price", w.Record.SupplierID, w.Reason)
	}
	if len(res.Conflicts) != 1 {
		t.Fatalf("got %d conflicts, want 1", len(res.Conflicts))
	}
	c := res.Conflicts[0]
	if c.WinnerSupplierID != "b" || c.WinnerUID != "2" || len(c.Candidates) != 2 {
		t.Errorf("conflict = %+v", c)
	}
}

func TestResolveMinPriceExclusion(t *testing.T) {
	records := []model.MappedProduct{
		product("a", "1", map[string]any{"ean": "123", "price": 10.00}),
		product("b", "2", map[string]any{"ean": "123", "price": 8.50}),
	}
	rule := eanRule(model.PolicyLowestPrice)
	rule.MinPrice = ptr(9.00)

	res := Resolve(records, rule)

	w := winnerFor(t, res, "123")
	if w.Record.SupplierID != "a" {
		t.Errorf("winner = %s, want a", w.Record.SupplierID)
	}
	if res.Stats.Excluded != 1 {
		t.Errorf("excluded = %d, want 1", res.Stats.Excluded)
	}
	if !res.Conflicts[0].Candidates[1].Excluded {
		t.Error("8.50 candidate should be flagged excluded")
	}
}

func TestResolveNoRulePassThrough(t *testing.T) {
	records := []model.MappedProduct{
		product("a", "1", map[string]any{"ean": "123"}),
		product("b", "2", map[string]any{"ean": "123"}),
		product("b", "3", map[string]any{}),
	}

	res := Resolve(records, nil)

	if len(res.Winners) != 3 {
		t.Fatalf("got %d winners, want 3", len(res.Winners))
	}
	for i, w := range res.Winners {
		if w.Reason != ReasonNoRule {
			t.Errorf("winner %d reason = %s, want no_rule", i, w.Reason)
		}
		if w.Record.UID != records[i].UID {
			t.Errorf("winner %d out of order", i)
		}
	}
	if res.Winners[0].MatchValue == res.Winners[1].MatchValue {
		t.Error("pass-through keys must be distinct")
	}
	if len(res.Conflicts) != 0 {
		t.Errorf("got %d conflicts, want 0", len(res.Conflicts))
	}
}

func TestResolveDropsNullMatchValues(t *testing.T) {
	records := []model.MappedProduct{
		product("a", "1", map[string]any{"ean": nil}),
		product("b", "2", map[string]any{"ean": ""}),
		product("c", "3", map[string]any{}),
		product("d", "4", map[string]any{"ean": "9"}),
	}

	res := Resolve(records, eanRule(model.PolicyFirstAvailable))

	if len(res.Winners) != 1 || res.Winners[0].Reason != ReasonSingle {
		t.Errorf("winners = %+v, want only the keyed record", res.Winners)
	}
	if res.Stats.Unmatched != 3 {
		t.Errorf("unmatched = %d, want 3", res.Stats.Unmatched)
	}
}

func TestResolveAllExcluded(t *testing.T) {
	records := []model.MappedProduct{
		product("a", "1", map[string]any{"ean": "1", "price": 5.0}),
		product("b", "2", map[string]any{"ean": "1", "price": 6.0}),
	}
	rule := eanRule(model.PolicyLowestPrice)
	rule.MinPrice = ptr(100)

	res := Resolve(records, rule)

	w := winnerFor(t, res, "1")
	if w.Record.SupplierID != "a" || w.Reason != ReasonAllExcluded {
		t.Errorf("winner = %s/%s, want a/all_excluded", w.Record.SupplierID, w.Reason)
	}
	if res.Stats.AllExcluded != 1 {
		t.Errorf("all_excluded = %d, want 1", res.Stats.AllExcluded)
	}
}

func TestResolveSingletonSkipsExclusions(t *testing.T) {
	rule := eanRule(model.PolicyLowestPrice)
	rule.MinPrice = ptr(100)

	res := Resolve([]model.MappedProduct{product("a", "1", map[string]any{"ean": "1", "price": 5.0})}, rule)

	if len(res.Winners) != 1 || res.Winners[0].Reason != ReasonSingle {
		t.Errorf("winners = %+v, want trivial single winner", res.Winners)
	}
}

func TestResolvePolicies(t *testing.T) {
	records := []model.MappedProduct{
		product("a", "1", map[string]any{"ean": "1", "quantity": 3}),
		product("b", "2", map[string]any{"ean": "1", "price": "12,00", "stock": "10"}),
		product("c", "3", map[string]any{"ean": "1", "price": 12.0}),
		product("d", "4", map[string]any{"ean": "1", "price": 20.0, "quantity": 10}),
	}

	tests := []struct {
		name       string
		policy     model.SelectionPolicy
		preferred  []string
		wantWinner string
		wantReason Reason
	}{
		{"lowest price ignores missing and keeps first on tie", model.PolicyLowestPrice, nil, "b", ReasonLowestPrice},
		{"highest stock keeps first on tie", model.PolicyHighestStock, nil, "b", ReasonHighestStock},
		{"first available", model.PolicyFirstAvailable, nil, "a", ReasonFirstAvailable},
		{"preferred in list order", model.PolicyPreferredSupplier, []string{"x", "d", "c"}, "d", ReasonPreferredSupplier},
		{"preferred falls back", model.PolicyPreferredSupplier, []string{"x"}, "a", ReasonFirstAvailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := eanRule(tt.policy)
			rule.PreferredSuppliers = tt.preferred

			w := winnerFor(t, Resolve(records, rule), "1")
			if w.Record.SupplierID != tt.wantWinner || w.Reason != tt.wantReason {
				t.Errorf("winner = %s/%s, want %s/%s", w.Record.SupplierID, w.Reason, tt.wantWinner, tt.wantReason)
			}
		})
	}
}

func TestResolveLowestPriceAllMissing(t *testing.T) {
	records := []model.MappedProduct{
		product("a", "1", map[string]any{"ean": "1"}),
		product("b", "2", map[string]any{"ean": "1"}),
	}
	w := winnerFor(t, Resolve(records, eanRule(model.PolicyLowestPrice)), "1")
	if w.Record.SupplierID != "a" {
		t.Errorf("winner = %s, want first in source order", w.Record.SupplierID)
	}
}

func TestResolveExclusionRules(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*model.DedupRule)
		fields map[string]any
	}{
		{"max price", func(r *model.DedupRule) { r.MaxPrice = ptr(10) }, map[string]any{"price": 11.0}},
		{"out of stock", func(r *model.DedupRule) { r.ExcludeOutOfStock = true }, map[string]any{"quantity": 0}},
		{"category blacklist", func(r *model.DedupRule) { r.CategoryBlacklist = []string{"refurb"} }, map[string]any{"category": "Phones / REFURBISHED"}},
		{"keyword blacklist", func(r *model.DedupRule) { r.KeywordBlacklist = []string{"Used"} }, map[string]any{"title": "iPhone (used)"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flagged := map[string]any{"ean": "1", "price": 1.0}
			for k, v := range tt.fields {
				flagged[k] = v
			}
			records := []model.MappedProduct{
				product("bad", "1", flagged),
				product("good", "2", map[string]any{"ean": "1", "price": 5.0, "quantity": 4, "title": "iPhone", "category": "Phones"}),
			}
			rule := eanRule(model.PolicyLowestPrice)
			tt.mutate(rule)

			w := winnerFor(t, Resolve(records, rule), "1")
			if w.Record.SupplierID != "good" {
				t.Errorf("winner = %s, want good", w.Record.SupplierID)
			}
		})
	}
}

func TestResolveMissingStockNotExcluded(t *testing.T) {
	records := []model.MappedProduct{
		product("a", "1", map[string]any{"ean": "1", "price": 3.0}),
		product("b", "2", map[string]any{"ean": "1", "price": 4.0, "quantity": 2}),
	}
	rule := eanRule(model.PolicyLowestPrice)
	rule.ExcludeOutOfStock = true

	w := winnerFor(t, Resolve(records, rule), "1")
	if w.Record.SupplierID != "a" {
		t.Errorf("winner = %s, want a (unknown stock is not out of stock)", w.Record.SupplierID)
	}
}

func TestMatchValue(t *testing.T) {
	tests := []struct {
		name   string
		key    model.MatchKey
		fields map[string]any
		want   string
	}{
		{"ean strips separators", model.MatchEAN, map[string]any{"ean": " 400-638 133 "}, "400638133"},
		{"ean from float", model.MatchEAN, map[string]any{"ean": 4006381333931.0}, "4006381333931"},
		{"sku folded", model.MatchSKU, map[string]any{"SKU": "AbC-1"}, "abc-1"},
		{"title folded and collapsed", model.MatchTitle, map[string]any{"title": "  Blue   WIDGET "}, "blue widget"},
		{"missing", model.MatchEAN, map[string]any{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MatchValue(product("s", "1", tt.fields), tt.key); got != tt.want {
				t.Errorf("MatchValue = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolveIdempotent(t *testing.T) {
	records := []model.MappedProduct{
		product("a", "1", map[string]any{"title": "Widget", "price": 3.0}),
		product("b", "2", map[string]any{"title": "widget", "price": 2.0}),
		product("c", "3", map[string]any{"title": "Gadget"}),
	}
	rule := &model.DedupRule{ID: "r", WorkspaceID: "ws", MatchKey: model.MatchTitle, Policy: model.PolicyLowestPrice, Active: true}

	first := Resolve(records, rule)
	second := Resolve(records, rule)

	if len(first.Winners) != 2 || len(second.Winners) != 2 {
		t.Fatalf("winners = %d/%d, want 2", len(first.Winners), len(second.Winners))
	}
	for i := range first.Winners {
		a, b := first.Winners[i], second.Winners[i]
		if a.MatchValue != b.MatchValue || a.Record.UID != b.Record.UID || a.Reason != b.Reason {
			t.Errorf("run differs at %d: %+v vs %+v", i, a, b)
		}
	}
}

func TestResolveCaseVariantKeysAreStable(t *testing.T) {
	records := []model.MappedProduct{
		product("a", "1", map[string]any{"ean": "123", "Price": 20.0, "PRICE": 1.0, "pRiCe": 30.0}),
		product("b", "2", map[string]any{"ean": "123", "price": 5.0}),
	}
	rule := eanRule(model.PolicyLowestPrice)

	for i := 0; i < 50; i++ {
		w := winnerFor(t, Resolve(records, rule), "123")
		if w.Record.SupplierID != "a" {
			t.Fatalf("iteration %d: winner = %s, want a (PRICE=1 is the smallest key)", i, w.Record.SupplierID)
		}
	}
}
