package engine

import (
	"context"
	"time"
)

// LocalStore is the relational-store surface the orchestrator consumes.
// The store package provides the SQLite-backed implementation; tests may
// substitute their own. All SQL behind this interface is parameterized and
// modification timestamps are compared using the authoritative per-order
// value (header vs. lines, whichever is newer).
type LocalStore interface {
	ParentLookup

	// SyncWindow returns the persisted cutoff timestamp; the zero time
	// means "never synced" (everything is recent).
	SyncWindow(ctx context.Context) (time.Time, error)
	// SetSyncWindow persists a new cutoff. Called only after a fully
	// successful cycle.
	SetSyncWindow(ctx context.Context, t time.Time) error

	// ListCancelledSince returns inactive orders whose authoritative
	// last-modified falls after since.
	ListCancelledSince(ctx context.Context, since time.Time) ([]*Order, error)
	// ListModifiedSince returns active orders whose authoritative
	// last-modified falls after since (header or line changes).
	ListModifiedSince(ctx context.Context, since time.Time) ([]*Order, error)

	// GetOrder returns the header for id, or nil when absent.
	GetOrder(ctx context.Context, id string) (*Order, error)
	// LinesForOrder returns the live lines of an order.
	LinesForOrder(ctx context.Context, orderID string) ([]*Line, error)

	// InsertOrder creates a header that must not exist yet.
	InsertOrder(ctx context.Context, o *Order) error
	// UpdateOrderHeader overwrites the header fields of an existing order.
	UpdateOrderHeader(ctx context.Context, o *Order) error
	// ReplaceLines atomically swaps all lines of an order (delete+insert
	// in one transaction).
	ReplaceLines(ctx context.Context, orderID string, lines []*Line) error

	// LineID returns the persisted opaque remote id for a logical line.
	LineID(ctx context.Context, orderID, article string) (string, error)
	// SaveLineID persists the opaque remote id for a logical line.
	SaveLineID(ctx context.Context, orderID, article, lineID string) error

	// SnapshotLines returns the last committed snapshot of an order's
	// lines (empty when no snapshot was taken).
	SnapshotLines(ctx context.Context, orderID string) ([]*Line, error)
	// SaveSnapshot replaces the committed snapshot of an order's lines.
	SaveSnapshot(ctx context.Context, orderID string, lines []*Line) error
}

// EventSink receives progress notifications from a run. All methods are
// called from the orchestrator's goroutine and must not block.
type EventSink interface {
	PhaseStarted(phase Phase)
	PhaseFinished(result *PhaseResult)
	RunFinished(summary *Summary)
	LinesChanged(orderID string, changes []LineChange)
}

// NopSink is an EventSink that ignores everything.
type NopSink struct{}

// PhaseStarted implements EventSink.
func (NopSink) PhaseStarted(Phase) {}

// PhaseFinished implements EventSink.
func (NopSink) PhaseFinished(*PhaseResult) {}

// RunFinished implements EventSink.
func (NopSink) RunFinished(*Summary) {}

// LinesChanged implements EventSink.
func (NopSink) LinesChanged(string, []LineChange) {}
