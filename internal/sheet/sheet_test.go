package sheet

import (
	"context"
	"errors"
	"testing"
)

func TestColumnName(t *testing.T) {
	tests := []struct {
		n    int
		want string
	}{
		{1, "A"},
		{2, "B"},
		{26, "Z"},
		{27, "AA"},
		{52, "AZ"},
		{53, "BA"},
		{0, "A"},
	}
	for _, tt := range tests {
		if got := ColumnName(tt.n); got != tt.want {
			t.Errorf("ColumnName(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestRangeHelpers(t *testing.T) {
	if got := RowRange("Orders", 5, 11); got != "Orders!A5:K5" {
		t.Errorf("RowRange = %q", got)
	}
	if got := DataRange("Orders", 11); got != "Orders!A2:K" {
		t.Errorf("DataRange = %q", got)
	}
}

func TestAPIErrorIsRateLimit(t *testing.T) {
	tests := []struct {
		err  APIError
		want bool
	}{
		{APIError{StatusCode: 429}, true},
		{APIError{StatusCode: 403, Message: "Quota exceeded for write requests"}, true},
		{APIError{StatusCode: 403, Code: "RATE_LIMIT_EXCEEDED"}, true},
		{APIError{StatusCode: 500, Message: "internal"}, false},
		{APIError{StatusCode: 400, Message: "bad range"}, false},
	}
	for _, tt := range tests {
		if got := tt.err.IsRateLimit(); got != tt.want {
			t.Errorf("IsRateLimit(%+v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestMemoryReadAppendUpdate(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.AddTab("Orders", []string{"ID", "Status"})

	if err := m.AppendRows(ctx, "s1", "Orders!A1", [][]string{
		{"A1", "Pending"},
		{"A2", "Confirmed"},
	}); err != nil {
		t.Fatalf("AppendRows: %v", err)
	}

	vr, err := m.ReadRange(ctx, "s1", "Orders!A2:B")
	if err != nil {
		t.Fatalf("ReadRange: %v", err)
	}
	if len(vr.Values) != 2 {
		t.Fatalf("expected 2 data rows, got %d", len(vr.Values))
	}
	if vr.Values[0][0] != "A1" || vr.Values[1][1] != "Confirmed" {
		t.Errorf("unexpected values: %v", vr.Values)
	}

	// Update row 3 (second data row) in place.
	if err := m.UpdateRange(ctx, "s1", "Orders!A3:B3", [][]string{{"A2", "Cancelled"}}); err != nil {
		t.Fatalf("UpdateRange: %v", err)
	}
	rows := m.Rows("Orders")
	if rows[1][1] != "Cancelled" {
		t.Errorf("update not applied: %v", rows)
	}
}

func TestMemoryBatchUpdateOrdering(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	id := m.AddTab("Lines", []string{"LineID", "OrderID"})

	if err := m.AppendRows(ctx, "s1", "Lines!A1", [][]string{
		{"l1", "A1"}, {"l2", "A1"}, {"l3", "A2"},
	}); err != nil {
		t.Fatalf("AppendRows: %v", err)
	}

	// Rows 2 and 4 of the grid (0-based indices 1 and 3) must be deleted
	// highest first.
	err := m.BatchUpdate(ctx, "s1", []DeleteRowsRequest{
		{SheetID: id, StartIndex: 3, EndIndex: 4},
		{SheetID: id, StartIndex: 1, EndIndex: 2},
	})
	if err != nil {
		t.Fatalf("BatchUpdate: %v", err)
	}
	rows := m.Rows("Lines")
	if len(rows) != 1 || rows[0][0] != "l2" {
		t.Errorf("unexpected rows after delete: %v", rows)
	}

	// Lowest-first ordering is rejected.
	err = m.BatchUpdate(ctx, "s1", []DeleteRowsRequest{
		{SheetID: id, StartIndex: 1, EndIndex: 2},
		{SheetID: id, StartIndex: 3, EndIndex: 4},
	})
	if err == nil {
		t.Fatal("expected ordering error")
	}
}

func TestMemoryWriteErrInjection(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.AddTab("Orders", []string{"ID"})

	quota := &APIError{StatusCode: 429, Message: "quota exceeded"}
	m.WriteErr = func(op string) error { return quota }

	err := m.AppendRows(ctx, "s1", "Orders!A1", [][]string{{"A1"}})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || !apiErr.IsRateLimit() {
		t.Fatalf("expected injected rate-limit error, got %v", err)
	}
	if m.WriteCount() != 0 {
		t.Errorf("failed write must not count, got %d", m.WriteCount())
	}
}

func TestMemoryMetadata(t *testing.T) {
	m := NewMemory()
	ordersID := m.AddTab("Orders", []string{"ID"})
	linesID := m.AddTab("Lines", []string{"LineID"})

	md, err := m.GetMetadata(context.Background(), "s1")
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if got, ok := md.SheetID("Orders"); !ok || got != ordersID {
		t.Errorf("Orders sheet id = %d ok=%v", got, ok)
	}
	if got, ok := md.SheetID("Lines"); !ok || got != linesID {
		t.Errorf("Lines sheet id = %d ok=%v", got, ok)
	}
	if _, ok := md.SheetID("Missing"); ok {
		t.Error("unknown tab should not resolve")
	}
}
