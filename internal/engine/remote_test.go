package engine

import (
	"strings"
	"testing"
	"time"

	"github.com/TinchoProyect/sincronizador-etiquetas-dev-sub004/internal/codec"
)

func TestDecodeOrderRowsToleratesReorderedColumns(t *testing.T) {
	c := codec.New(2, time.UTC)
	grid := [][]string{
		{"Status", "ID", "ClientID", "IssueDate", "DeliveryDate", "Agent",
			"Note", "DocType", "Discount", "Active", "LastModified"},
		{"confirmed", "ORD-1", "C-9", "10/02/2026 09:00:00", "", "ana",
			"", "invoice", "12,50", "1", "10/02/2026 09:30:00"},
	}

	rows, warnings, err := DecodeOrderRows(c, grid)
	if err != nil {
		t.Fatalf("DecodeOrderRows failed: %v", err)
	}
	if warnings != 0 {
		t.Errorf("warnings = %d, want 0", warnings)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	ro := rows[0]
	if ro.ID != "ORD-1" || ro.Status != "confirmed" || ro.Discount != 12.5 || !ro.Active {
		t.Errorf("decoded row = %+v", ro)
	}
	if ro.Row != 2 {
		t.Errorf("Row = %d, want 2 (header is row 1)", ro.Row)
	}
	want := time.Date(2026, 2, 10, 9, 30, 0, 0, time.UTC)
	if !ro.UpdatedAt.Equal(want) {
		t.Errorf("UpdatedAt = %v, want %v", ro.UpdatedAt, want)
	}
}

func TestDecodeOrderRowsDropsRowsWithoutID(t *testing.T) {
	c := codec.New(2, time.UTC)
	grid := [][]string{
		OrderColumns,
		{"", "C-1", "", "", "", "", "", "confirmed", "0", "1", ""},
		{"ORD-2", "C-2", "", "", "", "", "", "confirmed", "0", "1", ""},
		{"  ", "C-3", "", "", "", "", "", "confirmed", "0", "1", ""},
	}

	rows, _, err := DecodeOrderRows(c, grid)
	if err != nil {
		t.Fatalf("DecodeOrderRows failed: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != "ORD-2" {
		t.Errorf("rows = %+v, want only ORD-2", rows)
	}
	// The kept row keeps its real grid position despite dropped neighbors.
	if rows[0].Row != 3 {
		t.Errorf("Row = %d, want 3", rows[0].Row)
	}
}

func TestDecodeOrderRowsCountsMalformedCells(t *testing.T) {
	c := codec.New(2, time.UTC)
	grid := [][]string{
		OrderColumns,
		{"ORD-1", "C-1", "not a date", "", "", "", "", "confirmed", "abc", "maybe", ""},
	}

	rows, warnings, err := DecodeOrderRows(c, grid)
	if err != nil {
		t.Fatalf("DecodeOrderRows failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("malformed cells must not drop the row")
	}
	if warnings != 3 {
		t.Errorf("warnings = %d, want 3 (date, decimal, bool)", warnings)
	}
	ro := rows[0]
	if !ro.IssueDate.IsZero() || ro.Discount != 0 || ro.Active {
		t.Errorf("malformed cells must decode to defaults: %+v", ro)
	}
}

func TestDecodeOrderRowsMissingColumn(t *testing.T) {
	c := codec.New(2, time.UTC)
	grid := [][]string{{"ID", "ClientID"}}

	_, _, err := DecodeOrderRows(c, grid)
	if err == nil || !strings.Contains(err.Error(), "missing column") {
		t.Errorf("err = %v, want missing-column error", err)
	}
}

func TestDecodeLineRows(t *testing.T) {
	c := codec.New(2, time.UTC)
	grid := [][]string{
		LineColumns,
		{"ln-1", "ORD-1", "widget", "2", "9.50", "21", "0", "10/02/2026 09:00:00"},
		{"", "", "orphan cell", "1", "", "", "", ""},
	}

	rows, warnings, err := DecodeLineRows(c, grid)
	if err != nil {
		t.Fatalf("DecodeLineRows failed: %v", err)
	}
	if warnings != 0 {
		t.Errorf("warnings = %d, want 0", warnings)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1 (no parent id drops the row)", len(rows))
	}
	l := rows[0]
	if l.LineID != "ln-1" || l.OrderID != "ORD-1" || l.Quantity != 2 || l.UnitPrice != 9.5 {
		t.Errorf("decoded line = %+v", l)
	}
}

func TestEncodeOrderRowRoundTrips(t *testing.T) {
	c := codec.New(2, time.UTC)
	o := &Order{
		ID:        "ORD-1",
		ClientID:  "C-9",
		IssueDate: time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC),
		Agent:     "ana",
		Status:    "confirmed",
		Discount:  12.5,
		Active:    true,
		UpdatedAt: time.Date(2026, 2, 10, 9, 30, 0, 0, time.UTC),
	}

	row := EncodeOrderRow(c, o)
	if len(row) != OrderWidth {
		t.Fatalf("row width = %d, want %d", len(row), OrderWidth)
	}

	rows, _, err := DecodeOrderRows(c, [][]string{OrderColumns, row})
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	got := rows[0]
	if got.ID != o.ID || got.Status != o.Status || got.Discount != o.Discount ||
		got.Active != o.Active || !got.UpdatedAt.Equal(o.UpdatedAt) {
		t.Errorf("round trip lost data: %+v", got)
	}
}

func TestStableLineIDDeterministic(t *testing.T) {
	a := &Line{OrderID: "ORD-1", Article: "widget", Quantity: 2, UnitPrice: 9.5}
	b := &Line{OrderID: "ORD-1", Article: "widget", Quantity: 2, UnitPrice: 9.5}
	if StableLineID(a) != StableLineID(b) {
		t.Error("equal lines must derive equal ids")
	}
	if !strings.HasPrefix(StableLineID(a), "ln-") {
		t.Errorf("id = %q, want ln- prefix", StableLineID(a))
	}
	b.Quantity = 3
	if StableLineID(a) == StableLineID(b) {
		t.Error("different lines must derive different ids")
	}
}

func TestLastModifiedUsesNewestLine(t *testing.T) {
	base := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	o := &Order{ID: "ORD-1", UpdatedAt: base}
	lines := []*Line{
		{Article: "a", UpdatedAt: base.Add(-time.Hour)},
		{Article: "b", UpdatedAt: base.Add(2 * time.Hour)},
	}
	if got := LastModified(o, lines); !got.Equal(base.Add(2 * time.Hour)) {
		t.Errorf("LastModified = %v, want newest line timestamp", got)
	}
	if got := LastModified(o, nil); !got.Equal(base) {
		t.Errorf("LastModified with no lines = %v, want header timestamp", got)
	}
}

func TestCoalesceDeletes(t *testing.T) {
	reqs := coalesceDeletes(7, []int{2, 5, 4, 9})

	// 1-based rows {2,4,5,9} -> 0-based intervals, highest first,
	// contiguous rows merged.
	want := []struct{ start, end int }{
		{8, 9}, // row 9
		{3, 5}, // rows 4-5
		{1, 2}, // row 2
	}
	if len(reqs) != len(want) {
		t.Fatalf("got %d requests, want %d: %+v", len(reqs), len(want), reqs)
	}
	for i, w := range want {
		if reqs[i].StartIndex != w.start || reqs[i].EndIndex != w.end {
			t.Errorf("request %d = [%d,%d), want [%d,%d)",
				i, reqs[i].StartIndex, reqs[i].EndIndex, w.start, w.end)
		}
		if reqs[i].SheetID != 7 {
			t.Errorf("request %d sheet id = %d, want 7", i, reqs[i].SheetID)
		}
	}
}
