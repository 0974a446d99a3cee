package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"
)

// ParentLookup resolves whether an order already exists in the target
// store. The Verifier consults it for children whose parent is not part of
// the batch being written.
type ParentLookup interface {
	OrderExists(ctx context.Context, id string) (bool, error)
}

// ParentLookupFunc adapts a function to the ParentLookup interface.
type ParentLookupFunc func(ctx context.Context, id string) (bool, error)

// OrderExists implements ParentLookup.
func (f ParentLookupFunc) OrderExists(ctx context.Context, id string) (bool, error) {
	return f(ctx, id)
}

// ReconcileStats counts what Reconcile repaired.
type ReconcileStats struct {
	OrphansFound       int `json:"orphans_found"`
	OrphansResolved    int `json:"orphans_resolved"`
	ParentsSynthesized int `json:"parents_synthesized"`
	DuplicateParents   int `json:"duplicate_parents"`
	DuplicateLines     int `json:"duplicate_lines"`
}

// Verifier is the single authority for referential integrity of a batch.
// Before any write touches the target store it removes duplicates, detects
// children without a resolvable parent, and either keeps them (parent found
// in the target store) or synthesizes a minimal placeholder parent.
type Verifier struct {
	lookup ParentLookup
	logger *log.Logger
	now    func() time.Time
}

// NewVerifier creates a Verifier. If logger is nil a stderr logger is used.
func NewVerifier(lookup ParentLookup, logger *log.Logger) *Verifier {
	if logger == nil {
		logger = log.New(os.Stderr, "[integrity] ", log.LstdFlags)
	}
	return &Verifier{lookup: lookup, logger: logger, now: time.Now}
}

// Reconcile returns a batch that satisfies the referential invariant: every
// returned child's parent id resolves either within the returned parent set
// or in the target store. Duplicate parents (by id) and duplicate children
// (by parent id + article) keep their first occurrence.
//
// Reconcile never fails on referential problems; only a lookup error from
// the target store propagates.
func (v *Verifier) Reconcile(ctx context.Context, parents []*Order, children []*Line) ([]*Order, []*Line, *ReconcileStats, error) {
	stats := &ReconcileStats{}

	outParents := make([]*Order, 0, len(parents))
	byID := make(map[string]*Order, len(parents))
	for _, p := range parents {
		if _, dup := byID[p.ID]; dup {
			stats.DuplicateParents++
			continue
		}
		byID[p.ID] = p
		outParents = append(outParents, p)
	}

	outChildren := make([]*Line, 0, len(children))
	seen := make(map[string]bool, len(children))
	// Cache lookups: a parent missing from the batch usually has many lines.
	known := make(map[string]bool)

	for _, child := range children {
		if seen[child.Key()] {
			stats.DuplicateLines++
			continue
		}
		seen[child.Key()] = true

		if _, ok := byID[child.OrderID]; ok {
			outChildren = append(outChildren, child)
			continue
		}

		stats.OrphansFound++
		exists, cached := known[child.OrderID]
		if !cached {
			var err error
			exists, err = v.lookup.OrderExists(ctx, child.OrderID)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("failed to resolve parent %s: %w", child.OrderID, err)
			}
			known[child.OrderID] = exists
		}

		if !exists {
			placeholder := v.synthesizeParent(child.OrderID)
			byID[placeholder.ID] = placeholder
			outParents = append(outParents, placeholder)
			stats.ParentsSynthesized++
			v.logger.Printf("Synthesized placeholder order %s for orphan line %q", child.OrderID, child.Article)
		}
		stats.OrphansResolved++
		outChildren = append(outChildren, child)
	}

	return outParents, outChildren, stats, nil
}

// synthesizeParent builds the minimal placeholder header for an unresolved
// parent id.
func (v *Verifier) synthesizeParent(id string) *Order {
	now := v.now()
	return &Order{
		ID:        id,
		Status:    StatusAutoCreated,
		Note:      "auto-created during sync",
		Active:    true,
		IssueDate: now,
		UpdatedAt: now,
	}
}
