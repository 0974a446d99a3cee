// Package engine implements the bidirectional synchronization engine that
// keeps the local relational store and the rate-limited remote sheet
// consistent for orders and their line items.
//
// The engine is built from small parts composed by the Orchestrator:
//
//   - Detector decides whether a local order really differs from its
//     remote row, so unchanged records never consume write quota.
//   - Verifier repairs referential integrity of a batch before any write.
//   - Governor throttles and retries every remote write.
//   - Differ compares line-item snapshots taken at commit events.
//
// Conflicts between the two stores resolve last-writer-wins on one
// authoritative per-order timestamp (header vs. line items, whichever is
// newer). Equal timestamps always favor no write.
package engine

import (
	"fmt"
	"hash/fnv"
	"strings"
	"time"
)

// StatusAutoCreated marks placeholder orders synthesized by the Verifier
// for line items whose parent could not be resolved.
const StatusAutoCreated = "auto-created"

// StatusNeedsReview is forced onto orders first seen on the remote side, so
// they enter the local workflow for manual attention.
const StatusNeedsReview = "needs-review"

// Order is the header record synchronized between the two stores.
// ID is the external identifier: globally unique, immutable once assigned,
// and the join key across stores. Active=false is a soft delete; the engine
// never hard-deletes headers on either side.
type Order struct {
	ID           string
	ClientID     string
	IssueDate    time.Time
	DeliveryDate time.Time
	Agent        string
	Note         string
	DocType      string
	Status       string
	Discount     float64
	Active       bool
	UpdatedAt    time.Time
}

// Validate checks the invariants every order must satisfy before it is
// written to either store.
func (o *Order) Validate() error {
	if strings.TrimSpace(o.ID) == "" {
		return fmt.Errorf("order id is required")
	}
	if o.Status == "" {
		return fmt.Errorf("order %s: status is required", o.ID)
	}
	if o.UpdatedAt.IsZero() {
		return fmt.Errorf("order %s: updated_at is required", o.ID)
	}
	return nil
}

// Line is a single line item belonging to one order. OrderID is a foreign
// key by value (the parent's external id), not a surrogate key. Within one
// store snapshot (OrderID, Article) is the natural dedup key; the remote
// side additionally carries an opaque LineID for stable row identity.
type Line struct {
	OrderID    string
	LineID     string
	Article    string
	Quantity   float64
	UnitPrice  float64
	Tax        float64
	Adjustment float64
	UpdatedAt  time.Time
}

// Validate checks the invariants every line must satisfy.
func (l *Line) Validate() error {
	if strings.TrimSpace(l.OrderID) == "" {
		return fmt.Errorf("line item: parent order id is required")
	}
	if strings.TrimSpace(l.Article) == "" {
		return fmt.Errorf("line item for %s: article is required", l.OrderID)
	}
	return nil
}

// Key returns the natural dedup key for the line within a store snapshot.
func (l *Line) Key() string {
	return l.OrderID + "\x00" + l.Article
}

// StableLineID derives the opaque remote line id for a line: a hash of the
// parent id, article and amounts. The id is persisted in the local mapping
// table so the same logical line keeps the same remote id across reruns.
func StableLineID(l *Line) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%.4f|%.4f|%.4f|%.4f",
		l.OrderID, l.Article, l.Quantity, l.UnitPrice, l.Tax, l.Adjustment)
	return fmt.Sprintf("ln-%016x", h.Sum64())
}

// LastModified returns the authoritative modification timestamp for an
// order: the later of the header timestamp and any of its line timestamps.
// All conflict arbitration in the engine compares this single value.
func LastModified(o *Order, lines []*Line) time.Time {
	ts := o.UpdatedAt
	for _, l := range lines {
		if l.UpdatedAt.After(ts) {
			ts = l.UpdatedAt
		}
	}
	return ts
}
