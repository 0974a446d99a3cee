package engine

import (
	"fmt"
	"strings"

	"github.com/TinchoProyect/sincronizador-etiquetas-dev-sub004/internal/codec"
)

// Canonical column layout of the two remote tabs. The engine owns the tab
// layout (setup creates the headers); reads tolerate reordered columns by
// resolving positions from the header row, writes always emit this order.
var (
	// OrderColumns is the header of the orders tab.
	OrderColumns = []string{
		"ID", "ClientID", "IssueDate", "DeliveryDate", "Agent",
		"Note", "DocType", "Status", "Discount", "Active", "LastModified",
	}
	// LineColumns is the header of the line-items tab.
	LineColumns = []string{
		"LineID", "OrderID", "Article", "Quantity",
		"UnitPrice", "Tax", "Adjustment", "LastModified",
	}
)

// OrderWidth and LineWidth are the column counts of the two tabs.
const (
	OrderWidth = 11
	LineWidth  = 8
)

// RemoteOrder is an orders-tab row decoded into a typed Order plus its
// addressing information. Row is the 1-based grid row the record was read
// from; it is only valid until the next structural change of the tab.
type RemoteOrder struct {
	Order
	Row int
}

// RemoteLine is a line-items-tab row plus its 1-based grid row.
type RemoteLine struct {
	Line
	Row int
}

// columnIndex maps lower-cased header names to their positions.
type columnIndex map[string]int

func indexHeader(header []string) columnIndex {
	idx := make(columnIndex, len(header))
	for i, name := range header {
		idx[strings.ToLower(strings.TrimSpace(name))] = i
	}
	return idx
}

func (ci columnIndex) require(names []string) error {
	for _, name := range names {
		if _, ok := ci[strings.ToLower(name)]; !ok {
			return fmt.Errorf("remote tab is missing column %q", name)
		}
	}
	return nil
}

func (ci columnIndex) cell(row []string, name string) string {
	i, ok := ci[strings.ToLower(name)]
	if !ok || i >= len(row) {
		return ""
	}
	return row[i]
}

// DecodeOrderRows converts the raw grid of the orders tab (header row
// first) into typed rows. Malformed cells decode to safe defaults; warnings
// counts them. Rows without an id are dropped — there is nothing to join
// them on. Row numbers are assigned from the grid: the header is row 1.
func DecodeOrderRows(c *codec.Codec, grid [][]string) (rows []*RemoteOrder, warnings int, err error) {
	if len(grid) == 0 {
		return nil, 0, fmt.Errorf("orders tab is empty (missing header row)")
	}
	idx := indexHeader(grid[0])
	if err := idx.require(OrderColumns); err != nil {
		return nil, 0, err
	}

	for i, raw := range grid[1:] {
		id := strings.TrimSpace(idx.cell(raw, "ID"))
		if id == "" {
			continue
		}
		ro := &RemoteOrder{Row: i + 2}
		ro.ID = id
		ro.ClientID, _ = c.DecodeText(idx.cell(raw, "ClientID"))
		ro.Agent, _ = c.DecodeText(idx.cell(raw, "Agent"))
		ro.Note, _ = c.DecodeText(idx.cell(raw, "Note"))
		ro.DocType, _ = c.DecodeText(idx.cell(raw, "DocType"))
		ro.Status, _ = c.DecodeText(idx.cell(raw, "Status"))

		var ok bool
		if ro.IssueDate, ok = c.DecodeDate(idx.cell(raw, "IssueDate")); !ok {
			warnings++
		}
		if ro.DeliveryDate, ok = c.DecodeDate(idx.cell(raw, "DeliveryDate")); !ok {
			warnings++
		}
		if ro.Discount, ok = c.DecodeDecimal(idx.cell(raw, "Discount")); !ok {
			warnings++
		}
		if ro.Active, ok = c.DecodeBool(idx.cell(raw, "Active")); !ok {
			warnings++
		}
		if ro.UpdatedAt, ok = c.DecodeDate(idx.cell(raw, "LastModified")); !ok {
			warnings++
		}
		rows = append(rows, ro)
	}
	return rows, warnings, nil
}

// DecodeLineRows converts the raw grid of the line-items tab into typed
// rows, dropping rows without a parent order id.
func DecodeLineRows(c *codec.Codec, grid [][]string) (rows []*RemoteLine, warnings int, err error) {
	if len(grid) == 0 {
		return nil, 0, fmt.Errorf("line-items tab is empty (missing header row)")
	}
	idx := indexHeader(grid[0])
	if err := idx.require(LineColumns); err != nil {
		return nil, 0, err
	}

	for i, raw := range grid[1:] {
		orderID := strings.TrimSpace(idx.cell(raw, "OrderID"))
		if orderID == "" {
			continue
		}
		rl := &RemoteLine{Row: i + 2}
		rl.OrderID = orderID
		rl.LineID, _ = c.DecodeText(idx.cell(raw, "LineID"))
		rl.Article, _ = c.DecodeText(idx.cell(raw, "Article"))

		var ok bool
		if rl.Quantity, ok = c.DecodeDecimal(idx.cell(raw, "Quantity")); !ok {
			warnings++
		}
		if rl.UnitPrice, ok = c.DecodeDecimal(idx.cell(raw, "UnitPrice")); !ok {
			warnings++
		}
		if rl.Tax, ok = c.DecodeDecimal(idx.cell(raw, "Tax")); !ok {
			warnings++
		}
		if rl.Adjustment, ok = c.DecodeDecimal(idx.cell(raw, "Adjustment")); !ok {
			warnings++
		}
		if rl.UpdatedAt, ok = c.DecodeDate(idx.cell(raw, "LastModified")); !ok {
			warnings++
		}
		rows = append(rows, rl)
	}
	return rows, warnings, nil
}

// EncodeOrderRow renders an order as a canonical orders-tab row.
func EncodeOrderRow(c *codec.Codec, o *Order) []string {
	return []string{
		c.EncodeText(o.ID),
		c.EncodeText(o.ClientID),
		c.EncodeDate(o.IssueDate),
		c.EncodeDate(o.DeliveryDate),
		c.EncodeText(o.Agent),
		c.EncodeText(o.Note),
		c.EncodeText(o.DocType),
		c.EncodeText(o.Status),
		c.EncodeDecimal(o.Discount),
		c.EncodeBool(o.Active),
		c.EncodeDate(o.UpdatedAt),
	}
}

// EncodeLineRow renders a line as a canonical line-items-tab row.
func EncodeLineRow(c *codec.Codec, l *Line) []string {
	return []string{
		c.EncodeText(l.LineID),
		c.EncodeText(l.OrderID),
		c.EncodeText(l.Article),
		c.EncodeDecimal(l.Quantity),
		c.EncodeDecimal(l.UnitPrice),
		c.EncodeDecimal(l.Tax),
		c.EncodeDecimal(l.Adjustment),
		c.EncodeDate(l.UpdatedAt),
	}
}
