package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"github.com/TinchoProyect/sincronizador-etiquetas-dev-sub004/internal/codec"
	"github.com/TinchoProyect/sincronizador-etiquetas-dev-sub004/internal/sheet"
)

// OrchestratorConfig configures a sync run.
type OrchestratorConfig struct {
	SpreadsheetID string
	OrdersTab     string
	LinesTab      string

	Logger *log.Logger
	Events EventSink
	Now    func() time.Time
}

// Orchestrator runs the ordered sync phases against the two stores. Every
// remote write goes through the Governor; decisions go through the
// Detector, Verifier and the last-writer-wins timestamp arbitration.
//
// One Orchestrator instance runs one cycle at a time; phases are strictly
// sequential because each phase's remote reads assume the previous phase's
// writes are visible. Concurrent cycles against the same remote store must
// be serialized by the caller.
type Orchestrator struct {
	store    LocalStore
	client   sheet.Client
	governor *Governor
	codec    *codec.Codec
	detector *Detector

	cfg    OrchestratorConfig
	logger *log.Logger
	events EventSink
	now    func() time.Time
}

// NewOrchestrator wires the engine parts together.
func NewOrchestrator(store LocalStore, client sheet.Client, governor *Governor, c *codec.Codec, cfg OrchestratorConfig) *Orchestrator {
	if cfg.OrdersTab == "" {
		cfg.OrdersTab = "Orders"
	}
	if cfg.LinesTab == "" {
		cfg.LinesTab = "Lines"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	events := cfg.Events
	if events == nil {
		events = NopSink{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		store:    store,
		client:   client,
		governor: governor,
		codec:    c,
		detector: NewDetector(c),
		cfg:      cfg,
		logger:   logger,
		events:   events,
		now:      now,
	}
}

// runState carries the cross-phase working set of one cycle.
type runState struct {
	window      time.Time
	remote      map[string]*RemoteOrder // orders tab, by external id
	remoteLines []*RemoteLine           // lines tab as of cycle start
	remoteTS    map[string]time.Time    // unified remote timestamp, by order id
	touched     map[string]bool         // ids written by phases 1-3
	pushed      []*Order                // headers whose lines phase 3 must replace
	pulled      []*Order                // headers phase 5 must pull lines for
}

// remoteLastModified is the authoritative remote-side timestamp of one
// order: the later of its header cell and any of its line rows. Both push
// sides arbitrate against the same unified timestamp, so a remote line
// edit protects its order exactly like a header edit does.
func (st *runState) remoteLastModified(ro *RemoteOrder) time.Time {
	if ts, ok := st.remoteTS[ro.ID]; ok && ts.After(ro.UpdatedAt) {
		return ts
	}
	return ro.UpdatedAt
}

// Run executes one full sync cycle and returns its summary. The returned
// error is non-nil when the run aborted; phases completed before the abort
// keep their results in the summary, and remote writes already committed
// are not rolled back. The sync window advances only on full success.
func (o *Orchestrator) Run(ctx context.Context) (*Summary, error) {
	start := o.now()
	summary := &Summary{Started: start}

	window, err := o.store.SyncWindow(ctx)
	if err != nil {
		return o.abort(summary, fmt.Errorf("failed to load sync window: %w", err))
	}
	summary.WindowBefore = window
	o.logger.Printf("Starting sync cycle (window cutoff: %s)", formatCutoff(window))

	ordersGrid, err := o.readGrid(ctx, o.cfg.OrdersTab, OrderWidth)
	if err != nil {
		return o.abort(summary, fmt.Errorf("failed to read orders tab: %w", err))
	}
	remoteOrders, warnings, err := DecodeOrderRows(o.codec, ordersGrid)
	if err != nil {
		return o.abort(summary, err)
	}
	if warnings > 0 {
		o.logger.Printf("Decoded orders tab with %d malformed cells (defaults applied)", warnings)
	}

	linesGrid, err := o.readGrid(ctx, o.cfg.LinesTab, LineWidth)
	if err != nil {
		return o.abort(summary, fmt.Errorf("failed to read line-items tab: %w", err))
	}
	remoteLines, warnings, err := DecodeLineRows(o.codec, linesGrid)
	if err != nil {
		return o.abort(summary, err)
	}
	if warnings > 0 {
		o.logger.Printf("Decoded line-items tab with %d malformed cells (defaults applied)", warnings)
	}

	state := &runState{
		window:      window,
		remote:      make(map[string]*RemoteOrder, len(remoteOrders)),
		remoteLines: remoteLines,
		remoteTS:    make(map[string]time.Time, len(remoteOrders)),
		touched:     make(map[string]bool),
	}
	for _, ro := range remoteOrders {
		if _, dup := state.remote[ro.ID]; !dup {
			state.remote[ro.ID] = ro
			state.remoteTS[ro.ID] = ro.UpdatedAt
		}
	}
	for _, rl := range remoteLines {
		if rl.UpdatedAt.After(state.remoteTS[rl.OrderID]) {
			state.remoteTS[rl.OrderID] = rl.UpdatedAt
		}
	}

	phases := []struct {
		name Phase
		run  func(ctx context.Context, ph *PhaseResult, st *runState) error
	}{
		{PhasePushCancellations, o.pushCancellations},
		{PhasePushUpserts, o.pushUpserts},
		{PhasePushLines, o.pushLines},
		{PhasePullOrders, o.pullOrders},
		{PhasePullLines, o.pullLines},
	}

	for _, p := range phases {
		ph := &PhaseResult{Phase: p.name, Started: o.now()}
		o.events.PhaseStarted(p.name)

		err := p.run(ctx, ph, state)
		ph.Finished = o.now()
		ph.OK = err == nil
		summary.Phases = append(summary.Phases, ph)
		o.events.PhaseFinished(ph)
		o.logger.Printf("Phase %s: read=%d inserted=%d updated=%d deleted=%d skipped=%d errors=%d (%v)",
			ph.Phase, ph.Read, ph.Inserted, ph.Updated, ph.Deleted, ph.Skipped, len(ph.Errors), ph.Duration())

		if err != nil {
			return o.abort(summary, fmt.Errorf("phase %s failed: %w", p.name, err))
		}
	}

	// All phases succeeded: advance the cutoff to the start of this cycle,
	// so edits made while it ran land in the next one.
	if err := o.store.SetSyncWindow(ctx, start); err != nil {
		return o.abort(summary, fmt.Errorf("failed to advance sync window: %w", err))
	}
	summary.WindowAfter = start
	summary.Finished = o.now()
	summary.Governor = o.governor.Stats()
	summary.OK = true
	o.events.RunFinished(summary)
	o.logger.Printf("Sync cycle complete in %v (governor: %d writes, %d retries)",
		summary.Duration(), summary.Governor.Writes, summary.Governor.Retries)
	return summary, nil
}

// pushCancellations pushes locally cancelled orders as status/active-flag
// updates to matching remote rows. Remote-newer records are dropped
// silently (conflict-lost is a skip, not an error).
func (o *Orchestrator) pushCancellations(ctx context.Context, ph *PhaseResult, st *runState) error {
	cancelled, err := o.store.ListCancelledSince(ctx, st.window)
	if err != nil {
		return fmt.Errorf("failed to list cancelled orders: %w", err)
	}

	for _, local := range cancelled {
		ph.Read++
		ro, ok := st.remote[local.ID]
		if !ok {
			// Never reached the remote store; nothing to cancel there.
			ph.Skipped++
			continue
		}

		lines, err := o.store.LinesForOrder(ctx, local.ID)
		if err != nil {
			ph.recordError(local.ID, err)
			continue
		}
		localTS := LastModified(local, lines)
		if !localTS.After(st.remoteLastModified(ro)) {
			ph.Skipped++
			continue
		}
		if !o.detector.OrderChanged(local, ro) {
			ph.Skipped++
			continue
		}

		if err := o.updateRemoteOrder(ctx, ro, local, localTS); err != nil {
			if IsQuotaExhausted(err) {
				return err
			}
			ph.recordError(local.ID, err)
			continue
		}
		ph.Updated++
		st.touched[local.ID] = true
	}
	return nil
}

// pushUpserts pushes active local orders modified inside the window:
// append when no remote row exists, in-place update when the local side is
// strictly newer than the order's unified remote timestamp and the
// detector confirms a real difference. An order whose header is unchanged
// but whose authoritative timestamp moved (line edits) skips the header
// write but still queues its lines for phase 3.
//
// Decisions happen in one pass; the resulting writes run through the
// governor as a chunked batch so a quota-exhausted item halts the rest.
func (o *Orchestrator) pushUpserts(ctx context.Context, ph *PhaseResult, st *runState) error {
	modified, err := o.store.ListModifiedSince(ctx, st.window)
	if err != nil {
		return fmt.Errorf("failed to list modified orders: %w", err)
	}

	type headerWrite struct {
		local *Order
		ro    *RemoteOrder // nil appends a new row
		ts    time.Time
	}
	var plan []headerWrite
	for _, local := range modified {
		ph.Read++
		lines, err := o.store.LinesForOrder(ctx, local.ID)
		if err != nil {
			ph.recordError(local.ID, err)
			continue
		}
		localTS := LastModified(local, lines)

		ro, ok := st.remote[local.ID]
		if !ok {
			plan = append(plan, headerWrite{local: local, ts: localTS})
			continue
		}

		if !localTS.After(st.remoteLastModified(ro)) {
			ph.Skipped++
			continue
		}
		if !o.detector.OrderChanged(local, ro) {
			// Header unchanged; the newer timestamp came from line edits.
			ph.Skipped++
			st.touched[local.ID] = true
			st.pushed = append(st.pushed, local)
			continue
		}
		plan = append(plan, headerWrite{local: local, ro: ro, ts: localTS})
	}
	if len(plan) == 0 {
		return nil
	}

	result := o.governor.ExecuteBatch(ctx, len(plan), func(ctx context.Context, i int) error {
		w := plan[i]
		if w.ro == nil {
			return o.appendOrderRow(ctx, w.local, w.ts)
		}
		return o.writeOrderRow(ctx, w.ro, w.local, w.ts)
	}, func(done, total int) {
		o.logger.Printf("Pushed %d/%d modified headers", done, total)
	})

	for _, i := range result.Succeeded {
		w := plan[i]
		if w.ro == nil {
			ph.Inserted++
		} else {
			ph.Updated++
		}
		st.touched[w.local.ID] = true
		st.pushed = append(st.pushed, w.local)
	}
	for _, be := range result.Errors {
		if IsQuotaExhausted(be.Err) {
			return be.Err
		}
		ph.recordError(plan[be.Index].local.ID, be.Err)
	}
	if result.Halted {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

// pushLines replaces the remote line items of every header pushed in phase
// 2: existing remote lines are deleted first (one structural batch, highest
// index first), then the current local lines are appended with their stable
// opaque ids. The batch passes through the Verifier with the remote order
// set as the parent authority before any write.
func (o *Orchestrator) pushLines(ctx context.Context, ph *PhaseResult, st *runState) error {
	if len(st.pushed) == 0 {
		return nil
	}

	md, err := o.client.GetMetadata(ctx, o.cfg.SpreadsheetID)
	if err != nil {
		return fmt.Errorf("failed to read sheet metadata: %w", err)
	}
	linesSheetID, ok := md.SheetID(o.cfg.LinesTab)
	if !ok {
		return fmt.Errorf("line-items tab %q not found in spreadsheet", o.cfg.LinesTab)
	}

	// Phases 1-2 write only the orders tab, so the lines grid read at
	// cycle start is still the remote truth here.
	remoteLines := st.remoteLines

	var children []*Line
	for _, parent := range st.pushed {
		lines, err := o.store.LinesForOrder(ctx, parent.ID)
		if err != nil {
			ph.recordError(parent.ID, err)
			continue
		}
		children = append(children, lines...)
	}

	// The target store of this phase is the remote sheet: a parent resolves
	// if phase 2 pushed it or the orders tab already carries it.
	verifier := NewVerifier(ParentLookupFunc(func(_ context.Context, id string) (bool, error) {
		_, ok := st.remote[id]
		return ok, nil
	}), o.logger)
	parents, children, stats, err := verifier.Reconcile(ctx, st.pushed, children)
	if err != nil {
		return err
	}
	if stats.ParentsSynthesized > 0 || stats.DuplicateLines > 0 {
		o.logger.Printf("Integrity pass: %+v", *stats)
	}

	// Placeholder parents synthesized above exist in neither store yet;
	// push their headers before their lines.
	pushedSet := make(map[string]bool, len(st.pushed))
	for _, p := range st.pushed {
		pushedSet[p.ID] = true
	}
	for _, parent := range parents {
		if pushedSet[parent.ID] {
			continue
		}
		if err := o.appendRemoteOrder(ctx, parent, parent.UpdatedAt); err != nil {
			if IsQuotaExhausted(err) {
				return err
			}
			ph.recordError(parent.ID, err)
			continue
		}
		ph.Inserted++
		st.touched[parent.ID] = true
	}

	parentSet := make(map[string]bool, len(parents))
	for _, p := range parents {
		parentSet[p.ID] = true
	}

	// Delete all stale remote lines in one structural batch, coalesced into
	// contiguous intervals ordered highest first so indices never drift.
	var staleRows []int
	for _, rl := range remoteLines {
		if parentSet[rl.OrderID] {
			staleRows = append(staleRows, rl.Row)
		}
	}
	if len(staleRows) > 0 {
		reqs := coalesceDeletes(linesSheetID, staleRows)
		err := o.governor.Execute(ctx, func(ctx context.Context) error {
			return o.client.BatchUpdate(ctx, o.cfg.SpreadsheetID, reqs)
		})
		if err != nil {
			return fmt.Errorf("failed to delete stale line rows: %w", err)
		}
		ph.Deleted += len(staleRows)
	}

	// Append the current lines, one append per parent so a single failure
	// is attributable to one order.
	byParent := make(map[string][]*Line)
	for _, l := range children {
		byParent[l.OrderID] = append(byParent[l.OrderID], l)
	}
	for _, parent := range parents {
		lines := byParent[parent.ID]
		if len(lines) == 0 {
			continue
		}
		rows := make([][]string, 0, len(lines))
		for _, l := range lines {
			id, err := o.lineIDFor(ctx, l)
			if err != nil {
				ph.recordError(parent.ID, err)
				continue
			}
			l.LineID = id
			rows = append(rows, EncodeLineRow(o.codec, l))
		}
		err := o.governor.Execute(ctx, func(ctx context.Context) error {
			return o.client.AppendRows(ctx, o.cfg.SpreadsheetID, o.cfg.LinesTab+"!A1", rows)
		})
		if err != nil {
			if IsQuotaExhausted(err) {
				return err
			}
			ph.recordError(parent.ID, err)
			continue
		}
		ph.Inserted += len(rows)
	}
	return nil
}

// pullOrders classifies remote rows modified inside the window (and not
// already touched by the push phases) as locally new or updated. New
// orders are forced into the needs-review workflow state; updates apply
// only when the remote side is strictly newer.
func (o *Orchestrator) pullOrders(ctx context.Context, ph *PhaseResult, st *runState) error {
	ids := make([]string, 0, len(st.remote))
	for id := range st.remote {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		ro := st.remote[id]
		if !ro.UpdatedAt.After(st.window) {
			continue
		}
		ph.Read++
		if st.touched[id] {
			// Written by this cycle's push phases; processing it again
			// would bounce the same change back.
			ph.Skipped++
			continue
		}

		local, err := o.store.GetOrder(ctx, id)
		if err != nil {
			ph.recordError(id, err)
			continue
		}

		if local == nil {
			incoming := ro.Order
			incoming.Status = StatusNeedsReview
			if err := o.store.InsertOrder(ctx, &incoming); err != nil {
				ph.recordError(id, err)
				continue
			}
			ph.Inserted++
			st.pulled = append(st.pulled, &incoming)
			continue
		}

		lines, err := o.store.LinesForOrder(ctx, id)
		if err != nil {
			ph.recordError(id, err)
			continue
		}
		if !ro.UpdatedAt.After(LastModified(local, lines)) {
			ph.Skipped++
			continue
		}

		incoming := ro.Order
		if err := o.store.UpdateOrderHeader(ctx, &incoming); err != nil {
			ph.recordError(id, err)
			continue
		}
		ph.Updated++
		st.pulled = append(st.pulled, &incoming)
	}
	return nil
}

// pullLines replaces the local lines of every order pulled in phase 4,
// atomically per parent (delete+insert in one transaction). Remote lines
// whose parent resolves neither locally nor in the pulled batch get a
// placeholder parent first. After each replacement the committed snapshot
// is diffed and refreshed so change notifications fire.
func (o *Orchestrator) pullLines(ctx context.Context, ph *PhaseResult, st *runState) error {
	linesGrid, err := o.readGrid(ctx, o.cfg.LinesTab, LineWidth)
	if err != nil {
		return fmt.Errorf("failed to read line-items tab: %w", err)
	}
	remoteLines, warnings, err := DecodeLineRows(o.codec, linesGrid)
	if err != nil {
		return err
	}
	ph.Warnings += warnings

	// Targets are the parents pulled in phase 4 plus parents whose remote
	// lines changed inside the window without a header edit. A targeted
	// parent is always replaced from its complete remote line set.
	pulledSet := make(map[string]bool, len(st.pulled))
	for _, p := range st.pulled {
		pulledSet[p.ID] = true
	}
	targets := make(map[string]bool, len(st.pulled))
	for id := range pulledSet {
		targets[id] = true
	}
	for _, rl := range remoteLines {
		if rl.UpdatedAt.After(st.window) && !st.touched[rl.OrderID] {
			targets[rl.OrderID] = true
		}
	}
	if len(targets) == 0 {
		return nil
	}

	var children []*Line
	for _, rl := range remoteLines {
		if targets[rl.OrderID] {
			l := rl.Line
			children = append(children, &l)
		}
	}

	verifier := NewVerifier(o.store, o.logger)
	parents, children, stats, err := verifier.Reconcile(ctx, st.pulled, children)
	if err != nil {
		return err
	}
	for _, parent := range parents {
		if pulledSet[parent.ID] {
			continue
		}
		if err := o.store.InsertOrder(ctx, parent); err != nil {
			ph.recordError(parent.ID, err)
			continue
		}
		ph.Inserted++
	}
	if stats.OrphansFound > 0 {
		o.logger.Printf("Integrity pass: %+v", *stats)
	}

	byParent := make(map[string][]*Line)
	for _, l := range children {
		byParent[l.OrderID] = append(byParent[l.OrderID], l)
	}

	ids := make([]string, 0, len(targets))
	for id := range targets {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		ph.Read++
		lines := byParent[id]
		if err := o.store.ReplaceLines(ctx, id, lines); err != nil {
			ph.recordError(id, err)
			continue
		}
		ph.Updated++

		previous, err := o.store.SnapshotLines(ctx, id)
		if err != nil {
			ph.recordError(id, err)
			continue
		}
		if changes := DiffLines(previous, lines); len(changes) > 0 {
			o.events.LinesChanged(id, changes)
		}
		if err := o.store.SaveSnapshot(ctx, id, lines); err != nil {
			ph.recordError(id, err)
		}
	}
	return nil
}

// writeOrderRow overwrites one orders-tab row in place and, on success,
// refreshes the in-memory view of the remote so later phases arbitrate
// against the written state. Callers provide the governed context: either
// a single Execute or an ExecuteBatch item.
func (o *Orchestrator) writeOrderRow(ctx context.Context, ro *RemoteOrder, local *Order, authoritative time.Time) error {
	row := *local
	row.UpdatedAt = authoritative
	err := o.client.UpdateRange(ctx, o.cfg.SpreadsheetID,
		sheet.RowRange(o.cfg.OrdersTab, ro.Row, OrderWidth),
		[][]string{EncodeOrderRow(o.codec, &row)})
	if err != nil {
		return err
	}
	ro.Order = row
	return nil
}

// appendOrderRow appends a new orders-tab row. The new row's index is
// unknown until the next read, so the in-memory view records it without
// one; nothing in this cycle updates a freshly appended row in place.
func (o *Orchestrator) appendOrderRow(ctx context.Context, local *Order, authoritative time.Time) error {
	row := *local
	row.UpdatedAt = authoritative
	return o.client.AppendRows(ctx, o.cfg.SpreadsheetID, o.cfg.OrdersTab+"!A1",
		[][]string{EncodeOrderRow(o.codec, &row)})
}

// updateRemoteOrder is the single-write form of writeOrderRow used outside
// the batched header push.
func (o *Orchestrator) updateRemoteOrder(ctx context.Context, ro *RemoteOrder, local *Order, authoritative time.Time) error {
	return o.governor.Execute(ctx, func(ctx context.Context) error {
		return o.writeOrderRow(ctx, ro, local, authoritative)
	})
}

// appendRemoteOrder is the single-write form of appendOrderRow.
func (o *Orchestrator) appendRemoteOrder(ctx context.Context, local *Order, authoritative time.Time) error {
	return o.governor.Execute(ctx, func(ctx context.Context) error {
		return o.appendOrderRow(ctx, local, authoritative)
	})
}

// lineIDFor returns the persisted opaque id for a logical line, assigning
// and persisting a stable hash when none exists yet.
func (o *Orchestrator) lineIDFor(ctx context.Context, l *Line) (string, error) {
	id, err := o.store.LineID(ctx, l.OrderID, l.Article)
	if err != nil {
		return "", err
	}
	if id != "" {
		return id, nil
	}
	id = StableLineID(l)
	if err := o.store.SaveLineID(ctx, l.OrderID, l.Article, id); err != nil {
		return "", err
	}
	return id, nil
}

// readGrid fetches a whole tab including the header row.
func (o *Orchestrator) readGrid(ctx context.Context, tab string, width int) ([][]string, error) {
	rng := fmt.Sprintf("%s!A1:%s", tab, sheet.ColumnName(width))
	vr, err := o.client.ReadRange(ctx, o.cfg.SpreadsheetID, rng)
	if err != nil {
		return nil, err
	}
	return vr.Values, nil
}

// abort finalizes the summary for a failed run.
func (o *Orchestrator) abort(summary *Summary, err error) (*Summary, error) {
	summary.Abort = err.Error()
	summary.Finished = o.now()
	summary.Governor = o.governor.Stats()
	o.events.RunFinished(summary)
	o.logger.Printf("Sync cycle aborted: %v", err)
	return summary, err
}

// coalesceDeletes turns 1-based grid rows into 0-based half-open delete
// intervals, merged where contiguous and ordered highest first.
func coalesceDeletes(sheetID int64, rows []int) []sheet.DeleteRowsRequest {
	sort.Sort(sort.Reverse(sort.IntSlice(rows)))

	var reqs []sheet.DeleteRowsRequest
	for _, row := range rows {
		start := row - 1 // 0-based
		if n := len(reqs); n > 0 && reqs[n-1].StartIndex == start+1 {
			reqs[n-1].StartIndex = start
			continue
		}
		reqs = append(reqs, sheet.DeleteRowsRequest{SheetID: sheetID, StartIndex: start, EndIndex: start + 1})
	}
	return reqs
}

func formatCutoff(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Format(time.RFC3339)
}
