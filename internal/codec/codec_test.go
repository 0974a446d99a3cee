package codec

import (
	"testing"
	"time"
)

func TestEncodeDecodeDate(t *testing.T) {
	c := New(2, time.UTC)

	ts := time.Date(2024, 3, 7, 14, 30, 5, 0, time.UTC)
	cell := c.EncodeDate(ts)
	if cell != "07/03/2024 14:30:05" {
		t.Errorf("unexpected encoding: %q", cell)
	}

	got, ok := c.DecodeDate(cell)
	if !ok {
		t.Fatalf("decode failed for %q", cell)
	}
	if !got.Equal(ts) {
		t.Errorf("round trip mismatch: got %v, want %v", got, ts)
	}
}

func TestDecodeDateFormats(t *testing.T) {
	c := New(2, time.UTC)

	tests := []struct {
		cell string
		want time.Time
		ok   bool
	}{
		{"07/03/2024", time.Date(2024, 3, 7, 0, 0, 0, 0, time.UTC), true},
		{"2024-03-07 14:30:05", time.Date(2024, 3, 7, 14, 30, 5, 0, time.UTC), true},
		{"2024-03-07", time.Date(2024, 3, 7, 0, 0, 0, 0, time.UTC), true},
		{"", time.Time{}, true},
		{"not a date", time.Time{}, false},
	}

	for _, tt := range tests {
		got, ok := c.DecodeDate(tt.cell)
		if ok != tt.ok {
			t.Errorf("DecodeDate(%q) ok = %v, want %v", tt.cell, ok, tt.ok)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("DecodeDate(%q) = %v, want %v", tt.cell, got, tt.want)
		}
	}
}

func TestEncodeDateZero(t *testing.T) {
	c := New(2, time.UTC)
	if cell := c.EncodeDate(time.Time{}); cell != "" {
		t.Errorf("zero time should encode to empty cell, got %q", cell)
	}
}

func TestDecodeDecimal(t *testing.T) {
	c := New(2, time.UTC)

	tests := []struct {
		cell string
		want float64
		ok   bool
	}{
		{"12.50", 12.50, true},
		{"12,50", 12.50, true},
		{"1.234,56", 1234.56, true},
		{"1,234.56", 1234.56, true},
		{"-3,5", -3.5, true},
		{"0", 0, true},
		{"", 0, true},
		{"abc", 0, false},
		{"12.3.4", 0, false},
	}

	for _, tt := range tests {
		got, ok := c.DecodeDecimal(tt.cell)
		if ok != tt.ok {
			t.Errorf("DecodeDecimal(%q) ok = %v, want %v", tt.cell, ok, tt.ok)
			continue
		}
		if got != tt.want {
			t.Errorf("DecodeDecimal(%q) = %v, want %v", tt.cell, got, tt.want)
		}
	}
}

func TestEncodeDecimalPrecision(t *testing.T) {
	c2 := New(2, time.UTC)
	if got := c2.EncodeDecimal(12.5); got != "12.50" {
		t.Errorf("precision 2: got %q, want 12.50", got)
	}

	c3 := New(3, time.UTC)
	if got := c3.EncodeDecimal(12.5); got != "12.500" {
		t.Errorf("precision 3: got %q, want 12.500", got)
	}

	// Out-of-range precision is clamped.
	if p := New(0, time.UTC).Precision(); p != 2 {
		t.Errorf("precision 0 should clamp to 2, got %d", p)
	}
	if p := New(9, time.UTC).Precision(); p != 3 {
		t.Errorf("precision 9 should clamp to 3, got %d", p)
	}
}

func TestDecodeBool(t *testing.T) {
	c := New(2, time.UTC)

	tests := []struct {
		cell string
		want bool
		ok   bool
	}{
		{"true", true, true},
		{"TRUE", true, true},
		{"1", true, true},
		{"false", false, true},
		{"False", false, true},
		{"0", false, true},
		{"", true, true}, // absent defaults to active
		{"maybe", false, false},
	}

	for _, tt := range tests {
		got, ok := c.DecodeBool(tt.cell)
		if ok != tt.ok {
			t.Errorf("DecodeBool(%q) ok = %v, want %v", tt.cell, ok, tt.ok)
			continue
		}
		if got != tt.want {
			t.Errorf("DecodeBool(%q) = %v, want %v", tt.cell, got, tt.want)
		}
	}
}

func TestEncodeBool(t *testing.T) {
	c := New(2, time.UTC)
	if got := c.EncodeBool(true); got != "1" {
		t.Errorf("EncodeBool(true) = %q, want 1", got)
	}
	if got := c.EncodeBool(false); got != "0" {
		t.Errorf("EncodeBool(false) = %q, want 0", got)
	}
}

func TestTextTrimming(t *testing.T) {
	c := New(2, time.UTC)
	if got := c.EncodeText("  hello  "); got != "hello" {
		t.Errorf("EncodeText trim failed: %q", got)
	}
	got, ok := c.DecodeText("\tworld \n")
	if !ok || got != "world" {
		t.Errorf("DecodeText trim failed: %q ok=%v", got, ok)
	}
}
