// Package sheet provides the client abstraction for the rate-limited remote
// tabular store ("remote sheet") mirroring local order data.
//
// Cells travel as text; value typing is handled by the codec package.
// Row identity for updates and deletions is the 1-based row index, which is
// only valid for the batch it was read in — any structural change (row
// deletion) shifts subsequent indices, so callers must re-read before
// addressing rows again and must apply deletions highest-index-first.
package sheet

import (
	"context"
	"fmt"
	"strings"
)

// Client is the operation surface the sync engine consumes.
//
// Implementations must treat every call as a single remote operation:
// throttling, quota accounting and retry policy live in the engine's
// governor, not here.
type Client interface {
	// ReadRange fetches the cell values of an A1 range, e.g. "Orders!A2:K".
	ReadRange(ctx context.Context, spreadsheetID, a1Range string) (*ValueRange, error)

	// AppendRows appends rows after the last data row of the range's table.
	AppendRows(ctx context.Context, spreadsheetID, a1Range string, rows [][]string) error

	// UpdateRange overwrites the cells of an A1 range in place.
	UpdateRange(ctx context.Context, spreadsheetID, a1Range string, rows [][]string) error

	// BatchUpdate applies structural row deletions. Requests within one call
	// must be ordered highest start index first to avoid index drift.
	BatchUpdate(ctx context.Context, spreadsheetID string, reqs []DeleteRowsRequest) error

	// GetMetadata resolves tab titles to numeric sheet ids.
	GetMetadata(ctx context.Context, spreadsheetID string) (*Metadata, error)
}

// ValueRange is the result of a range read.
type ValueRange struct {
	Range  string     `json:"range"`
	Values [][]string `json:"values"`
}

// DeleteRowsRequest removes the half-open 0-based row interval
// [StartIndex, EndIndex) from the tab identified by SheetID.
type DeleteRowsRequest struct {
	SheetID    int64 `json:"sheetId"`
	StartIndex int   `json:"startIndex"`
	EndIndex   int   `json:"endIndex"`
}

// Metadata describes the spreadsheet's tabs.
type Metadata struct {
	SpreadsheetID string  `json:"spreadsheetId"`
	Sheets        []Sheet `json:"sheets"`
}

// Sheet is one tab of the spreadsheet.
type Sheet struct {
	ID    int64  `json:"sheetId"`
	Title string `json:"title"`
}

// SheetID returns the numeric id for a tab title.
func (m *Metadata) SheetID(title string) (int64, bool) {
	for _, s := range m.Sheets {
		if s.Title == title {
			return s.ID, true
		}
	}
	return 0, false
}

// APIError is a non-2xx response from the remote store.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("sheet api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("sheet api error: status=%d message=%s", e.StatusCode, e.Message)
}

// IsRateLimit reports whether the error is the remote store's write-quota
// rejection. Some deployments answer 429, others a 403 with a quota message,
// so the message text is checked as well.
func (e *APIError) IsRateLimit() bool {
	if e.StatusCode == 429 {
		return true
	}
	msg := strings.ToLower(e.Message + " " + e.Code)
	return strings.Contains(msg, "quota") || strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "ratelimit")
}

// ColumnName converts a 1-based column number to its A1 letter form
// (1 -> A, 26 -> Z, 27 -> AA).
func ColumnName(n int) string {
	if n < 1 {
		return "A"
	}
	var b []byte
	for n > 0 {
		n--
		b = append([]byte{byte('A' + n%26)}, b...)
		n /= 26
	}
	return string(b)
}

// RowRange builds the A1 range addressing one full data row of width
// columns at the given 1-based row index, e.g. RowRange("Orders", 5, 11)
// -> "Orders!A5:K5".
func RowRange(tab string, row, width int) string {
	return fmt.Sprintf("%s!A%d:%s%d", tab, row, ColumnName(width), row)
}

// DataRange builds the A1 range covering all data rows of a tab below the
// header, e.g. DataRange("Orders", 11) -> "Orders!A2:K".
func DataRange(tab string, width int) string {
	return fmt.Sprintf("%s!A2:%s", tab, ColumnName(width))
}
