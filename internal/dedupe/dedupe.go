// Package dedupe separates newly parsed transactions from ones already stored.
package dedupe

import "github.com/Veraticus/the-books-must-balance/internal/model"

// Result partitions candidates. Both slices keep candidate order.
type Result struct {
	Unique     []model.Transaction
	Duplicates []model.Transaction
}

// Dedupe marks a candidate as a duplicate when its (date, amount, description)
// key exactly matches an existing record. Candidates are never compared with
// each other, so two identical rows in one file are both kept.
func Dedupe(candidates, existing []model.Transaction) Result {
	seen := make(map[model.DedupKey]struct{}, len(existing))
	for i := range existing {
		seen[existing[i].Key()] = struct{}{}
	}

	res := Result{
		Unique:     make([]model.Transaction, 0, len(candidates)),
		Duplicates: make([]model.Transaction, 0),
	}
	for i := range candidates {
		if _, dup := seen[candidates[i].Key()]; dup {
			res.Duplicates = append(res.Duplicates, candidates[i])
			continue
		}
		res.Unique = append(res.Unique, candidates[i])
	}
	return res
}
