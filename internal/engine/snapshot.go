package engine

import "sort"

// ChangeKind classifies a line-item change between two snapshots.
type ChangeKind string

const (
	// ChangeAdded indicates the article appears only in the current state.
	ChangeAdded ChangeKind = "added"
	// ChangeRemoved indicates the article appears only in the previous state.
	ChangeRemoved ChangeKind = "removed"
	// ChangeQuantity indicates the article exists in both states with a
	// different quantity. Price differences are intentionally ignored.
	ChangeQuantity ChangeKind = "quantity-changed"
)

// LineChange describes one difference between a committed snapshot of an
// order's lines and its live state.
type LineChange struct {
	Article        string
	Kind           ChangeKind
	QuantityBefore float64
	QuantityAfter  float64
}

// DiffLines compares a previously captured snapshot of an order's lines
// against the current state and reports added, removed and
// quantity-changed articles. The result is deterministic (sorted by
// article) and independent of input order. Pure, no I/O.
func DiffLines(previous, current []*Line) []LineChange {
	prevByArticle := make(map[string]*Line, len(previous))
	for _, l := range previous {
		if _, dup := prevByArticle[l.Article]; !dup {
			prevByArticle[l.Article] = l
		}
	}

	var changes []LineChange
	seen := make(map[string]bool, len(current))
	for _, l := range current {
		if seen[l.Article] {
			continue
		}
		seen[l.Article] = true

		prev, ok := prevByArticle[l.Article]
		if !ok {
			changes = append(changes, LineChange{
				Article:       l.Article,
				Kind:          ChangeAdded,
				QuantityAfter: l.Quantity,
			})
			continue
		}
		if prev.Quantity != l.Quantity {
			changes = append(changes, LineChange{
				Article:        l.Article,
				Kind:           ChangeQuantity,
				QuantityBefore: prev.Quantity,
				QuantityAfter:  l.Quantity,
			})
		}
	}

	for article, prev := range prevByArticle {
		if !seen[article] {
			changes = append(changes, LineChange{
				Article:        article,
				Kind:           ChangeRemoved,
				QuantityBefore: prev.Quantity,
			})
		}
	}

	sort.Slice(changes, func(i, j int) bool {
		return changes[i].Article < changes[j].Article
	})
	return changes
}
