// Package codec converts between local typed values and the remote sheet's
// textual cell representation.
//
// The remote store holds every cell as text. All reads and writes of dates,
// decimals and booleans go through a Codec so that both sides of a comparison
// are normalized the same way. Decoding never fails: unparseable input maps
// to a documented default and the ok flag tells the caller to count a warning.
package codec

import (
	"strconv"
	"strings"
	"time"
)

// Kind identifies the value type of a sheet column.
type Kind int

const (
	// KindText passes values through with whitespace trimming only.
	KindText Kind = iota
	// KindDate encodes day-first date/time text.
	KindDate
	// KindDecimal encodes fixed-precision decimal text.
	KindDecimal
	// KindBool encodes "1"/"0" cells.
	KindBool
)

// DateLayout is the canonical cell format for dates. Day-first, always
// zero-padded, so lexical equality matches value equality after encoding.
const DateLayout = "02/01/2006 15:04:05"

// dateLayouts are the accepted input formats, tried in order.
var dateLayouts = []string{
	DateLayout,
	"02/01/2006 15:04",
	"02/01/2006",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC3339,
}

// Codec encodes and decodes cell values with a fixed decimal precision.
// The zero value is not usable; construct with New.
type Codec struct {
	precision int
	loc       *time.Location
}

// New returns a Codec with the given decimal precision (2 or 3 places).
// Values outside that range are clamped. Times are encoded in the local
// time zone unless loc is non-nil.
func New(precision int, loc *time.Location) *Codec {
	if precision < 2 {
		precision = 2
	}
	if precision > 3 {
		precision = 3
	}
	if loc == nil {
		loc = time.Local
	}
	return &Codec{precision: precision, loc: loc}
}

// Precision returns the configured decimal precision.
func (c *Codec) Precision() int { return c.precision }

// EncodeDate formats a timestamp as canonical cell text.
// The zero time encodes to the empty cell.
func (c *Codec) EncodeDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.In(c.loc).Format(DateLayout)
}

// DecodeDate parses cell text into a timestamp. Empty or unparseable input
// returns the zero time; ok is false only for unparseable non-empty input.
func (c *Codec) DecodeDate(cell string) (time.Time, bool) {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		return time.Time{}, true
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, cell, c.loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// EncodeDecimal formats a decimal with the configured fixed precision
// and a dot separator.
func (c *Codec) EncodeDecimal(v float64) string {
	return strconv.FormatFloat(v, 'f', c.precision, 64)
}

// DecodeDecimal parses decimal cell text, tolerating a comma or dot
// separator and thousands grouping. Empty or unparseable input returns 0;
// ok is false only for unparseable non-empty input.
func (c *Codec) DecodeDecimal(cell string) (float64, bool) {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		return 0, true
	}
	norm := cell
	if strings.Contains(norm, ",") {
		if strings.Contains(norm, ".") {
			// Both present: the rightmost separator is the decimal point.
			if strings.LastIndex(norm, ",") > strings.LastIndex(norm, ".") {
				norm = strings.ReplaceAll(norm, ".", "")
				norm = strings.Replace(norm, ",", ".", 1)
			} else {
				norm = strings.ReplaceAll(norm, ",", "")
			}
		} else {
			norm = strings.Replace(norm, ",", ".", 1)
		}
	}
	v, err := strconv.ParseFloat(norm, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// EncodeBool formats a boolean as "1" or "0".
func (c *Codec) EncodeBool(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

// DecodeBool parses boolean cell text. Accepts "true"/"1" and "false"/"0"
// case-insensitively. An absent cell defaults to true (rows predate the
// active column); unparseable input returns false with ok=false.
func (c *Codec) DecodeBool(cell string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(cell)) {
	case "":
		return true, true
	case "true", "1":
		return true, true
	case "false", "0":
		return false, true
	default:
		return false, false
	}
}

// EncodeText trims surrounding whitespace.
func (c *Codec) EncodeText(s string) string {
	return strings.TrimSpace(s)
}

// DecodeText trims surrounding whitespace.
func (c *Codec) DecodeText(cell string) (string, bool) {
	return strings.TrimSpace(cell), true
}
