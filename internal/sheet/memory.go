package sheet

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// Memory is an in-process Client implementation backed by string grids.
//
// It serves two purposes: the test double for the engine and store suites,
// and the backend for offline runs where no remote credentials are
// configured. Semantics follow the remote service: 1-based row addressing
// in A1 ranges, 0-based half-open intervals in BatchUpdate, appends after
// the last data row.
type Memory struct {
	mu     sync.Mutex
	tabs   []Sheet
	grids  map[string][][]string
	nextID int64

	// WriteErr, when set, is consulted before every mutating call with the
	// operation name ("append", "update", "delete") and can inject a
	// failure. Used to exercise quota and transport error paths.
	WriteErr func(op string) error

	writes int
}

// NewMemory creates an empty in-memory spreadsheet.
func NewMemory() *Memory {
	return &Memory{grids: make(map[string][][]string)}
}

// AddTab creates a tab with the given header row and returns its sheet id.
func (m *Memory) AddTab(title string, header []string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.tabs = append(m.tabs, Sheet{ID: id, Title: title})
	m.grids[title] = [][]string{append([]string(nil), header...)}
	return id
}

// Rows returns a copy of the data rows of a tab (header excluded).
func (m *Memory) Rows(title string) [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()

	grid := m.grids[title]
	if len(grid) <= 1 {
		return nil
	}
	out := make([][]string, 0, len(grid)-1)
	for _, row := range grid[1:] {
		out = append(out, append([]string(nil), row...))
	}
	return out
}

// WriteCount returns the number of mutating calls accepted so far.
func (m *Memory) WriteCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// ReadRange implements Client.
func (m *Memory) ReadRange(_ context.Context, _ string, a1Range string) (*ValueRange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tab, start, end, err := m.parseRange(a1Range)
	if err != nil {
		return nil, err
	}
	grid := m.grids[tab]

	if end == 0 || end > len(grid) {
		end = len(grid)
	}
	vr := &ValueRange{Range: a1Range}
	for row := start; row <= end && row <= len(grid); row++ {
		vr.Values = append(vr.Values, append([]string(nil), grid[row-1]...))
	}
	// Trailing fully-empty rows are not returned by the remote service.
	for len(vr.Values) > 0 && rowEmpty(vr.Values[len(vr.Values)-1]) {
		vr.Values = vr.Values[:len(vr.Values)-1]
	}
	return vr, nil
}

// AppendRows implements Client.
func (m *Memory) AppendRows(_ context.Context, _ string, a1Range string, rows [][]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failWrite("append"); err != nil {
		return err
	}
	tab, _, _, err := m.parseRange(a1Range)
	if err != nil {
		return err
	}
	for _, row := range rows {
		m.grids[tab] = append(m.grids[tab], append([]string(nil), row...))
	}
	m.writes++
	return nil
}

// UpdateRange implements Client.
func (m *Memory) UpdateRange(_ context.Context, _ string, a1Range string, rows [][]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failWrite("update"); err != nil {
		return err
	}
	tab, start, _, err := m.parseRange(a1Range)
	if err != nil {
		return err
	}
	grid := m.grids[tab]
	for i, row := range rows {
		idx := start - 1 + i
		if idx < 0 || idx >= len(grid) {
			return &APIError{StatusCode: 400, Message: fmt.Sprintf("row %d out of range", start+i)}
		}
		grid[idx] = append([]string(nil), row...)
	}
	m.writes++
	return nil
}

// BatchUpdate implements Client.
func (m *Memory) BatchUpdate(_ context.Context, _ string, reqs []DeleteRowsRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(reqs) == 0 {
		return nil
	}
	if err := m.failWrite("delete"); err != nil {
		return err
	}
	for i := 1; i < len(reqs); i++ {
		if reqs[i].StartIndex > reqs[i-1].StartIndex {
			return &APIError{StatusCode: 400, Message: "delete requests must be ordered highest index first"}
		}
	}
	for _, req := range reqs {
		title, ok := m.titleByID(req.SheetID)
		if !ok {
			return &APIError{StatusCode: 404, Message: fmt.Sprintf("unknown sheet id %d", req.SheetID)}
		}
		grid := m.grids[title]
		if req.StartIndex < 0 || req.EndIndex > len(grid) || req.StartIndex >= req.EndIndex {
			return &APIError{StatusCode: 400, Message: fmt.Sprintf("invalid delete interval [%d,%d)", req.StartIndex, req.EndIndex)}
		}
		m.grids[title] = append(grid[:req.StartIndex], grid[req.EndIndex:]...)
	}
	m.writes++
	return nil
}

// GetMetadata implements Client.
func (m *Memory) GetMetadata(_ context.Context, spreadsheetID string) (*Metadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	md := &Metadata{SpreadsheetID: spreadsheetID}
	md.Sheets = append(md.Sheets, m.tabs...)
	return md, nil
}

func (m *Memory) failWrite(op string) error {
	if m.WriteErr == nil {
		return nil
	}
	return m.WriteErr(op)
}

func (m *Memory) titleByID(id int64) (string, bool) {
	for _, s := range m.tabs {
		if s.ID == id {
			return s.Title, true
		}
	}
	return "", false
}

// parseRange splits "Tab!A2:K9" into tab title and 1-based start/end rows.
// A missing end row (e.g. "Tab!A2:K") means "to the last row".
func (m *Memory) parseRange(a1Range string) (tab string, start, end int, err error) {
	bang := strings.IndexByte(a1Range, '!')
	if bang < 0 {
		return "", 0, 0, &APIError{StatusCode: 400, Message: fmt.Sprintf("range %q is missing a tab", a1Range)}
	}
	tab = a1Range[:bang]
	if _, ok := m.grids[tab]; !ok {
		return "", 0, 0, &APIError{StatusCode: 404, Message: fmt.Sprintf("unknown tab %q", tab)}
	}

	cells := a1Range[bang+1:]
	first, rest, _ := strings.Cut(cells, ":")
	start = rowNumber(first)
	if start == 0 {
		start = 1
	}
	end = rowNumber(rest)
	return tab, start, end, nil
}

func rowNumber(cell string) int {
	digits := strings.TrimLeftFunc(cell, func(r rune) bool {
		return r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z'
	})
	if digits == "" {
		return 0
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0
	}
	return n
}

func rowEmpty(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
