package engine

import (
	"fmt"
	"time"
)

// Phase names the ordered steps of one sync cycle.
type Phase string

const (
	// PhasePushCancellations pushes locally cancelled orders to the remote.
	PhasePushCancellations Phase = "push-cancellations"
	// PhasePushUpserts pushes modified local headers (append or update).
	PhasePushUpserts Phase = "push-upserts"
	// PhasePushLines replaces remote line items of pushed headers.
	PhasePushLines Phase = "push-line-items"
	// PhasePullOrders pulls remote header changes into the local store.
	PhasePullOrders Phase = "pull-remote-changes"
	// PhasePullLines replaces local line items of pulled headers.
	PhasePullLines Phase = "pull-line-items"
)

// Phases lists the phases in execution order.
var Phases = []Phase{
	PhasePushCancellations,
	PhasePushUpserts,
	PhasePushLines,
	PhasePullOrders,
	PhasePullLines,
}

// PhaseResult holds the counters of one executed phase.
type PhaseResult struct {
	Phase    Phase     `json:"phase"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
	OK       bool      `json:"ok"`

	Read     int `json:"read"`
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Deleted  int `json:"deleted"`
	Skipped  int `json:"skipped"`
	Warnings int `json:"warnings"`

	// Errors lists recoverable per-record failures; the phase continued
	// past them.
	Errors []string `json:"errors,omitempty"`
}

// Duration returns the phase's wall time.
func (r *PhaseResult) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

func (r *PhaseResult) recordError(context string, err error) {
	r.Errors = append(r.Errors, fmt.Sprintf("%s: %v", context, err))
}

// Summary is the structured run report handed to the logging sink and the
// dashboard. It is created at run start, mutated by each phase and
// discarded after it is logged.
type Summary struct {
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
	OK       bool      `json:"ok"`

	WindowBefore time.Time `json:"window_before"`
	WindowAfter  time.Time `json:"window_after"`

	Phases   []*PhaseResult `json:"phases"`
	Governor GovernorStats  `json:"governor"`

	// Abort describes the failure that stopped the run, if any. Phases
	// completed before the abort keep their results.
	Abort string `json:"abort,omitempty"`
}

// Totals aggregates the per-phase counters.
func (s *Summary) Totals() PhaseResult {
	var t PhaseResult
	for _, p := range s.Phases {
		t.Read += p.Read
		t.Inserted += p.Inserted
		t.Updated += p.Updated
		t.Deleted += p.Deleted
		t.Skipped += p.Skipped
		t.Warnings += p.Warnings
		t.Errors = append(t.Errors, p.Errors...)
	}
	return t
}

// Duration returns the run's wall time.
func (s *Summary) Duration() time.Duration {
	return s.Finished.Sub(s.Started)
}
