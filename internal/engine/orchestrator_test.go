package engine_test

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/TinchoProyect/sincronizador-etiquetas-dev-sub004/internal/codec"
	"github.com/TinchoProyect/sincronizador-etiquetas-dev-sub004/internal/engine"
	"github.com/TinchoProyect/sincronizador-etiquetas-dev-sub004/internal/sheet"
	"github.com/TinchoProyect/sincronizador-etiquetas-dev-sub004/internal/store"
)

type instantClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *instantClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *instantClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return nil
}

// recordSink captures line-change notifications.
type recordSink struct {
	engine.NopSink

	mu      sync.Mutex
	changes map[string][]engine.LineChange
}

func (s *recordSink) LinesChanged(orderID string, changes []engine.LineChange) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.changes == nil {
		s.changes = make(map[string][]engine.LineChange)
	}
	s.changes[orderID] = changes
}

type syncEnv struct {
	store *store.Store
	mem   *sheet.Memory
	codec *codec.Codec
	sink  *recordSink
	orch  *engine.Orchestrator
}

func newSyncEnv(t *testing.T, govCfg engine.GovernorConfig) *syncEnv {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "orders.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema failed: %v", err)
	}

	mem := sheet.NewMemory()
	mem.AddTab("Orders", engine.OrderColumns)
	mem.AddTab("Lines", engine.LineColumns)

	discard := log.New(io.Discard, "", 0)
	clock := &instantClock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	govCfg.Now = clock.Now
	govCfg.Sleep = clock.Sleep
	govCfg.Logger = discard
	if govCfg.MinInterval == 0 {
		govCfg.MinInterval = time.Millisecond
	}
	gov := engine.NewGovernor(govCfg)

	c := codec.New(2, time.UTC)
	sink := &recordSink{}
	orch := engine.NewOrchestrator(st, mem, gov, c, engine.OrchestratorConfig{
		SpreadsheetID: "sheet-1",
		Logger:        discard,
		Events:        sink,
	})
	return &syncEnv{store: st, mem: mem, codec: c, sink: sink, orch: orch}
}

func seedLocalOrder(t *testing.T, env *syncEnv, id, status string, ts time.Time, lines ...*engine.Line) {
	t.Helper()
	ctx := context.Background()
	o := &engine.Order{
		ID: id, ClientID: "C-1", Agent: "ana", Status: status,
		Active: true, IssueDate: ts, UpdatedAt: ts,
	}
	if err := env.store.UpsertOrder(ctx, o); err != nil {
		t.Fatalf("UpsertOrder failed: %v", err)
	}
	if len(lines) > 0 {
		if err := env.store.ReplaceLines(ctx, id, lines); err != nil {
			t.Fatalf("ReplaceLines failed: %v", err)
		}
	}
}

func seedRemoteOrder(t *testing.T, env *syncEnv, o *engine.Order) {
	t.Helper()
	err := env.mem.AppendRows(context.Background(), "sheet-1", "Orders!A1",
		[][]string{engine.EncodeOrderRow(env.codec, o)})
	if err != nil {
		t.Fatalf("seeding remote order failed: %v", err)
	}
}

func seedRemoteLine(t *testing.T, env *syncEnv, l *engine.Line) {
	t.Helper()
	err := env.mem.AppendRows(context.Background(), "sheet-1", "Lines!A1",
		[][]string{engine.EncodeLineRow(env.codec, l)})
	if err != nil {
		t.Fatalf("seeding remote line failed: %v", err)
	}
}

func TestRunPushesLocalOrdersToEmptyRemote(t *testing.T) {
	env := newSyncEnv(t, engine.GovernorConfig{})
	ts := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	seedLocalOrder(t, env, "ORD-1", "confirmed", ts,
		&engine.Line{OrderID: "ORD-1", Article: "widget", Quantity: 2, UnitPrice: 9.5, UpdatedAt: ts},
		&engine.Line{OrderID: "ORD-1", Article: "gadget", Quantity: 1, UnitPrice: 3, UpdatedAt: ts},
	)

	summary, err := env.orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !summary.OK {
		t.Fatalf("summary not OK: %+v", summary)
	}

	orders := env.mem.Rows("Orders")
	if len(orders) != 1 {
		t.Fatalf("remote orders = %d, want 1", len(orders))
	}
	if orders[0][0] != "ORD-1" || orders[0][7] != "confirmed" {
		t.Errorf("remote order row = %v", orders[0])
	}
	if orders[0][10] != "01/05/2026 10:00:00" {
		t.Errorf("remote LastModified = %q", orders[0][10])
	}

	lines := env.mem.Rows("Lines")
	if len(lines) != 2 {
		t.Fatalf("remote lines = %d, want 2", len(lines))
	}
	for _, row := range lines {
		if row[1] != "ORD-1" {
			t.Errorf("line row parent = %q, want ORD-1", row[1])
		}
		if !strings.HasPrefix(row[0], "ln-") {
			t.Errorf("line id = %q, want ln- prefix", row[0])
		}
	}

	window, err := env.store.SyncWindow(context.Background())
	if err != nil {
		t.Fatalf("SyncWindow failed: %v", err)
	}
	if window.IsZero() || !window.Equal(summary.WindowAfter) {
		t.Errorf("window = %v, want %v", window, summary.WindowAfter)
	}
}

func TestSecondRunIsIdempotent(t *testing.T) {
	env := newSyncEnv(t, engine.GovernorConfig{})
	ts := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	seedLocalOrder(t, env, "ORD-1", "confirmed", ts,
		&engine.Line{OrderID: "ORD-1", Article: "widget", Quantity: 2, UpdatedAt: ts},
	)

	if _, err := env.orch.Run(context.Background()); err != nil {
		t.Fatalf("first Run failed: %v", err)
	}
	writes := env.mem.WriteCount()

	summary, err := env.orch.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	if env.mem.WriteCount() != writes {
		t.Errorf("second run made %d writes, want 0", env.mem.WriteCount()-writes)
	}
	totals := summary.Totals()
	if totals.Inserted != 0 || totals.Updated != 0 || totals.Deleted != 0 {
		t.Errorf("second run totals = %+v, want all zero", totals)
	}
}

func TestRunPullsRemoteOrderAsNeedsReview(t *testing.T) {
	env := newSyncEnv(t, engine.GovernorConfig{})
	ts := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	seedRemoteOrder(t, env, &engine.Order{
		ID: "ORD-9", ClientID: "C-7", Status: "confirmed",
		Active: true, IssueDate: ts, UpdatedAt: ts,
	})
	seedRemoteLine(t, env, &engine.Line{
		OrderID: "ORD-9", LineID: "ln-x", Article: "widget",
		Quantity: 4, UnitPrice: 2.5, UpdatedAt: ts,
	})

	summary, err := env.orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !summary.OK {
		t.Fatalf("summary not OK: %+v", summary)
	}

	ctx := context.Background()
	got, err := env.store.GetOrder(ctx, "ORD-9")
	if err != nil {
		t.Fatalf("GetOrder failed: %v", err)
	}
	if got == nil {
		t.Fatal("pulled order missing locally")
	}
	if got.Status != engine.StatusNeedsReview {
		t.Errorf("status = %q, want %q", got.Status, engine.StatusNeedsReview)
	}

	lines, err := env.store.LinesForOrder(ctx, "ORD-9")
	if err != nil {
		t.Fatalf("LinesForOrder failed: %v", err)
	}
	if len(lines) != 1 || lines[0].Article != "widget" || lines[0].Quantity != 4 {
		t.Errorf("pulled lines = %+v", lines)
	}

	changes := env.sink.changes["ORD-9"]
	if len(changes) != 1 || changes[0].Kind != engine.ChangeAdded || changes[0].Article != "widget" {
		t.Errorf("line changes = %+v, want single added widget", changes)
	}

	snap, err := env.store.SnapshotLines(ctx, "ORD-9")
	if err != nil {
		t.Fatalf("SnapshotLines failed: %v", err)
	}
	if len(snap) != 1 {
		t.Errorf("snapshot = %+v, want 1 line", snap)
	}
}

func TestRemoteNewerWinsConflict(t *testing.T) {
	env := newSyncEnv(t, engine.GovernorConfig{})
	localTS := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	remoteTS := localTS.Add(time.Hour)

	seedLocalOrder(t, env, "ORD-1", "confirmed", localTS)
	seedRemoteOrder(t, env, &engine.Order{
		ID: "ORD-1", ClientID: "C-1", Agent: "ana", Status: "printed",
		Active: true, IssueDate: localTS, UpdatedAt: remoteTS,
	})

	if _, err := env.orch.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	got, err := env.store.GetOrder(context.Background(), "ORD-1")
	if err != nil {
		t.Fatalf("GetOrder failed: %v", err)
	}
	if got.Status != "printed" {
		t.Errorf("local status = %q, want remote's %q", got.Status, "printed")
	}
	rows := env.mem.Rows("Orders")
	if len(rows) != 1 || rows[0][7] != "printed" {
		t.Errorf("remote row must be untouched: %v", rows)
	}
}

func TestLocalNewerWinsConflict(t *testing.T) {
	env := newSyncEnv(t, engine.GovernorConfig{})
	remoteTS := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	localTS := remoteTS.Add(2 * time.Hour)

	seedRemoteOrder(t, env, &engine.Order{
		ID: "ORD-1", ClientID: "C-1", Agent: "ana", Status: "printed",
		Active: true, IssueDate: remoteTS, UpdatedAt: remoteTS,
	})
	seedLocalOrder(t, env, "ORD-1", "delivered", localTS)

	if _, err := env.orch.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	rows := env.mem.Rows("Orders")
	if len(rows) != 1 {
		t.Fatalf("remote orders = %d, want 1 (in-place update)", len(rows))
	}
	if rows[0][7] != "delivered" {
		t.Errorf("remote status = %q, want %q", rows[0][7], "delivered")
	}
	if rows[0][10] != "01/05/2026 12:00:00" {
		t.Errorf("remote LastModified = %q, want local timestamp", rows[0][10])
	}

	got, err := env.store.GetOrder(context.Background(), "ORD-1")
	if err != nil {
		t.Fatalf("GetOrder failed: %v", err)
	}
	if got.Status != "delivered" {
		t.Errorf("local status bounced back to %q", got.Status)
	}
}

func TestLineEditWithoutHeaderChangeReplacesRemoteLines(t *testing.T) {
	env := newSyncEnv(t, engine.GovernorConfig{})
	headerTS := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	lineTS := headerTS.Add(time.Hour)

	header := &engine.Order{
		ID: "ORD-1", ClientID: "C-1", Agent: "ana", Status: "confirmed",
		Active: true, IssueDate: headerTS, UpdatedAt: headerTS,
	}
	seedRemoteOrder(t, env, header)
	seedRemoteLine(t, env, &engine.Line{
		OrderID: "ORD-1", LineID: "ln-old", Article: "widget",
		Quantity: 2, UpdatedAt: headerTS,
	})
	seedLocalOrder(t, env, "ORD-1", "confirmed", headerTS,
		&engine.Line{OrderID: "ORD-1", Article: "widget", Quantity: 5, UpdatedAt: lineTS},
	)

	if _, err := env.orch.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// Header untouched, lines replaced: old row gone, new quantity there.
	orders := env.mem.Rows("Orders")
	if len(orders) != 1 || orders[0][10] != "01/05/2026 10:00:00" {
		t.Errorf("header must not be rewritten for a line-only edit: %v", orders)
	}
	lines := env.mem.Rows("Lines")
	if len(lines) != 1 {
		t.Fatalf("remote lines = %d, want 1 (stale row deleted)", len(lines))
	}
	if lines[0][3] != "5.00" {
		t.Errorf("remote quantity = %q, want 5.00", lines[0][3])
	}
}

func TestRemoteLineEditWinsOverOlderLocalLineEdit(t *testing.T) {
	env := newSyncEnv(t, engine.GovernorConfig{})
	headerTS := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	localLineTS := headerTS.Add(time.Hour)
	remoteLineTS := headerTS.Add(2 * time.Hour)

	seedRemoteOrder(t, env, &engine.Order{
		ID: "ORD-1", ClientID: "C-1", Agent: "ana", Status: "confirmed",
		Active: true, IssueDate: headerTS, UpdatedAt: headerTS,
	})
	seedRemoteLine(t, env, &engine.Line{
		OrderID: "ORD-1", LineID: "ln-x", Article: "widget",
		Quantity: 9, UpdatedAt: remoteLineTS,
	})
	seedLocalOrder(t, env, "ORD-1", "confirmed", headerTS,
		&engine.Line{OrderID: "ORD-1", Article: "widget", Quantity: 3, UpdatedAt: localLineTS},
	)

	if _, err := env.orch.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// The remote line is strictly newer than the local edit even though the
	// remote header cell is older; the push phases must leave it alone and
	// the pull phases must bring it back.
	lines := env.mem.Rows("Lines")
	if len(lines) != 1 || lines[0][3] != "9.00" {
		t.Errorf("remote line rows = %v, want untouched quantity 9.00", lines)
	}
	local, err := env.store.LinesForOrder(context.Background(), "ORD-1")
	if err != nil {
		t.Fatalf("LinesForOrder failed: %v", err)
	}
	if len(local) != 1 || local[0].Quantity != 9 {
		t.Errorf("local lines = %+v, want quantity 9 pulled from the remote", local)
	}
}

func TestHeaderPushContinuesPastItemErrors(t *testing.T) {
	env := newSyncEnv(t, engine.GovernorConfig{})
	failed := false
	env.mem.WriteErr = func(op string) error {
		if op == "append" && !failed {
			failed = true
			return &sheet.APIError{StatusCode: 500, Message: "backend error"}
		}
		return nil
	}
	ts := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	seedLocalOrder(t, env, "ORD-1", "confirmed", ts,
		&engine.Line{OrderID: "ORD-1", Article: "widget", Quantity: 1, UpdatedAt: ts})
	seedLocalOrder(t, env, "ORD-2", "confirmed", ts,
		&engine.Line{OrderID: "ORD-2", Article: "gadget", Quantity: 2, UpdatedAt: ts})

	summary, err := env.orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !summary.OK {
		t.Fatalf("summary not OK: %+v", summary)
	}

	var push *engine.PhaseResult
	for _, ph := range summary.Phases {
		if ph.Phase == engine.PhasePushUpserts {
			push = ph
		}
	}
	if push == nil {
		t.Fatal("push-upserts phase missing from summary")
	}
	if push.Inserted != 1 || len(push.Errors) != 1 {
		t.Errorf("push phase = %+v, want 1 inserted and 1 recorded error", push)
	}
	if rows := env.mem.Rows("Orders"); len(rows) != 1 {
		t.Errorf("remote orders = %d, want only the surviving header", len(rows))
	}
}

func TestQuotaExhaustionAbortsWithoutAdvancingWindow(t *testing.T) {
	env := newSyncEnv(t, engine.GovernorConfig{MaxRetries: 1})
	env.mem.WriteErr = func(string) error {
		return &sheet.APIError{StatusCode: 429, Message: "Rate limit exceeded"}
	}
	ts := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	seedLocalOrder(t, env, "ORD-1", "confirmed", ts)

	summary, err := env.orch.Run(context.Background())
	if err == nil {
		t.Fatal("expected run to abort")
	}
	if !engine.IsQuotaExhausted(err) {
		t.Errorf("err = %v, want quota exhausted", err)
	}
	if summary.OK || summary.Abort == "" {
		t.Errorf("summary = %+v, want aborted", summary)
	}

	window, werr := env.store.SyncWindow(context.Background())
	if werr != nil {
		t.Fatalf("SyncWindow failed: %v", werr)
	}
	if !window.IsZero() {
		t.Errorf("window advanced to %v despite abort", window)
	}
}
