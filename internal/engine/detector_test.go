package engine

import (
	"testing"
	"time"

	"github.com/TinchoProyect/sincronizador-etiquetas-dev-sub004/internal/codec"
)

func testDetector() *Detector {
	return NewDetector(codec.New(2, time.UTC))
}

func baseOrder() Order {
	return Order{
		ID:        "ORD-1",
		ClientID:  "C-9",
		IssueDate: time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC),
		Agent:     "ana",
		Status:    "confirmed",
		Discount:  10,
		Active:    true,
		UpdatedAt: time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC),
	}
}

func TestOrderChangedDetectsStatusChange(t *testing.T) {
	d := testDetector()
	local := baseOrder()
	local.Status = "printed"
	remote := &RemoteOrder{Order: baseOrder(), Row: 2}

	if !d.OrderChanged(&local, remote) {
		t.Error("status change not detected")
	}
}

func TestOrderChangedIgnoresTimestampOnlyDifference(t *testing.T) {
	d := testDetector()
	local := baseOrder()
	local.UpdatedAt = local.UpdatedAt.Add(time.Hour)
	remote := &RemoteOrder{Order: baseOrder(), Row: 2}

	if d.OrderChanged(&local, remote) {
		t.Error("timestamp-only difference must not count as a change")
	}
}

func TestOrderChangedNormalizesBeforeComparing(t *testing.T) {
	d := testDetector()
	local := baseOrder()
	remote := &RemoteOrder{Order: baseOrder(), Row: 2}
	remote.Agent = "  ana  "
	remote.Discount = 10.0 // encodes identically to 10

	if d.OrderChanged(&local, remote) {
		t.Error("normalized-equal records flagged as changed")
	}
}

func TestOrderChangedDetectsCancellation(t *testing.T) {
	d := testDetector()
	local := baseOrder()
	local.Active = false
	local.Status = "cancelled"
	remote := &RemoteOrder{Order: baseOrder(), Row: 2}

	if !d.OrderChanged(&local, remote) {
		t.Error("cancellation not detected")
	}
}

func TestLineChanged(t *testing.T) {
	d := testDetector()
	a := &Line{OrderID: "ORD-1", Article: "widget", Quantity: 2, UnitPrice: 9.5}
	b := &Line{OrderID: "ORD-1", Article: "widget", Quantity: 2, UnitPrice: 9.5}
	if d.LineChanged(a, b) {
		t.Error("identical lines flagged as changed")
	}

	b.Quantity = 3
	if !d.LineChanged(a, b) {
		t.Error("quantity change not detected")
	}
}
