// Package dedup picks one winning record per logical product across
// suppliers.
//
// Resolve is pure: it takes every active mapped record of a workspace, in
// source order, plus the single rule in effect, and returns the winners
// and an audit trail of every contested group. Persisting the result is the
// caller's job.
package dedup

import (
	"fmt"

	"github.com/JonMunkholm/feedpipe/internal/model"
)

// Reason explains why a record won its group.
type Reason string

const (
	ReasonNoRule            Reason = "no_rule"
	ReasonSingle            Reason = "single"
	ReasonAllExcluded       Reason = "all_excluded"
	ReasonLowestPrice       Reason = "lowest_price"
	ReasonPreferredSupplier Reason = "preferred_supplier"
	ReasonHighestStock      Reason = "highest_stock"
	ReasonFirstAvailable    Reason = "first_available"
)

// Winner is the selected record for one match value.
type Winner struct {
	MatchValue string
	Record     model.MappedProduct
	Reason     Reason
}

// Candidate identifies one record inside a contested group.
type Candidate struct {
	SupplierID string `json:"supplier_id"`
	UID        string `json:"uid"`
	Excluded   bool   `json:"excluded,omitempty"`
}

// Conflict describes a group with two or more candidates.
type Conflict struct {
	MatchValue       string      `json:"match_value"`
	Candidates       []Candidate `json:"candidates"`
	WinnerSupplierID string      `json:"winner_supplier_id"`
	WinnerUID        string      `json:"winner_uid"`
	Reason           Reason      `json:"reason"`
}

// Stats summarizes one resolution pass.
type Stats struct {
	Records       int `json:"records"`
	Unmatched     int `json:"unmatched"`
	Groups        int `json:"groups"`
	Winners       int `json:"winners"`
	Conflicts     int `json:"conflicts"`
	Excluded      int `json:"excluded"`
	AllExcluded   int `json:"all_excluded"`
	SingleWinners int `json:"single_winners"`
}

// Result is the output of Resolve.
type Result struct {
	Winners   []Winner
	Conflicts []Conflict
	Stats     Stats
}

// Resolve groups records by the rule's match key and selects a winner per
// group. Records must be in source order; ties always go to the earlier
// record. A nil rule makes every record its own winner.
//
// Records whose match value is empty are left out of the result and
// counted as Unmatched.
func Resolve(records []model.MappedProduct, rule *model.DedupRule) Result {
	res := Result{Stats: Stats{Records: len(records)}}

	if rule == nil {
		res.Winners = make([]Winner, 0, len(records))
		for _, r := range records {
			res.Winners = append(res.Winners, Winner{
				MatchValue: PassThroughKey(r),
				Record:     r,
				Reason:     ReasonNoRule,
			})
		}
		res.Stats.Groups = len(records)
		res.Stats.Winners = len(records)
		return res
	}

	groups, order := group(records, rule.MatchKey)
	res.Stats.Unmatched = len(records) - countGrouped(groups)
	res.Stats.Groups = len(order)

	for _, key := range order {
		members := groups[key]
		if len(members) == 1 {
			res.Winners = append(res.Winners, Winner{MatchValue: key, Record: members[0], Reason: ReasonSingle})
			res.Stats.SingleWinners++
			continue
		}

		eligible, excluded := applyExclusions(members, rule)
		res.Stats.Excluded += len(members) - len(eligible)

		var winner model.MappedProduct
		var reason Reason
		if len(eligible) == 0 {
			winner, reason = members[0], ReasonAllExcluded
			res.Stats.AllExcluded++
		} else {
			winner, reason = selectWinner(eligible, rule)
		}

		res.Winners = append(res.Winners, Winner{MatchValue: key, Record: winner, Reason: reason})
		res.Conflicts = append(res.Conflicts, conflictFor(key, members, excluded, winner, reason))
	}

	res.Stats.Winners = len(res.Winners)
	res.Stats.Conflicts = len(res.Conflicts)
	return res
}

// PassThroughKey is the final-product key used when no rule is active.
func PassThroughKey(r model.MappedProduct) string {
	return fmt.Sprintf("%s:%s", r.SupplierID, r.UID)
}

func group(records []model.MappedProduct, key model.MatchKey) (map[string][]model.MappedProduct, []string) {
	groups := make(map[string][]model.MappedProduct)
	var order []string
	for _, r := range records {
		v := MatchValue(r, key)
		if v == "" {
			continue
		}
		if _, seen := groups[v]; !seen {
			order = append(order, v)
		}
		groups[v] = append(groups[v], r)
	}
	return groups, order
}

func countGrouped(groups map[string][]model.MappedProduct) int {
	n := 0
	for _, g := range groups {
		n += len(g)
	}
	return n
}

func conflictFor(key string, members []model.MappedProduct, excluded []bool, winner model.MappedProduct, reason Reason) Conflict {
	c := Conflict{
		MatchValue:       key,
		Candidates:       make([]Candidate, len(members)),
		WinnerSupplierID: winner.SupplierID,
		WinnerUID:        winner.UID,
		Reason:           reason,
	}
	for i, m := range members {
		c.Candidates[i] = Candidate{SupplierID: m.SupplierID, UID: m.UID, Excluded: excluded[i]}
	}
	return c
}
