package engine

import (
	"github.com/TinchoProyect/sincronizador-etiquetas-dev-sub004/internal/codec"
)

// Detector decides whether a local order really differs from its remote
// counterpart, so unchanged records never consume write quota.
//
// Both sides are normalized through the codec and compared as trimmed cell
// text. The compared field list covers every column the orchestrator can
// write except the immutable id and the modification timestamp itself: a
// record whose only difference is the timestamp is not worth a write, while
// missing a real change would silently diverge the stores.
type Detector struct {
	codec *codec.Codec
}

// NewDetector creates a Detector using the given codec.
func NewDetector(c *codec.Codec) *Detector {
	return &Detector{codec: c}
}

// comparedFields renders the writable payload columns of an order as
// canonical cell text, in a fixed order.
func (d *Detector) comparedFields(o *Order) []string {
	c := d.codec
	return []string{
		c.EncodeText(o.ClientID),
		c.EncodeDate(o.IssueDate),
		c.EncodeDate(o.DeliveryDate),
		c.EncodeText(o.Agent),
		c.EncodeText(o.Note),
		c.EncodeText(o.DocType),
		c.EncodeText(o.Status),
		c.EncodeDecimal(o.Discount),
		c.EncodeBool(o.Active),
	}
}

// OrderChanged reports whether local and remote differ on any compared
// field.
func (d *Detector) OrderChanged(local *Order, remote *RemoteOrder) bool {
	lf := d.comparedFields(local)
	rf := d.comparedFields(&remote.Order)
	for i := range lf {
		if lf[i] != rf[i] {
			return true
		}
	}
	return false
}

// LineChanged reports whether two lines differ on any written amount or
// the article itself.
func (d *Detector) LineChanged(local, remote *Line) bool {
	c := d.codec
	return c.EncodeText(local.Article) != c.EncodeText(remote.Article) ||
		c.EncodeDecimal(local.Quantity) != c.EncodeDecimal(remote.Quantity) ||
		c.EncodeDecimal(local.UnitPrice) != c.EncodeDecimal(remote.UnitPrice) ||
		c.EncodeDecimal(local.Tax) != c.EncodeDecimal(remote.Tax) ||
		c.EncodeDecimal(local.Adjustment) != c.EncodeDecimal(remote.Adjustment)
}
