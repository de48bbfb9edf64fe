// Package verdict maps the structured response of the classification service onto
// the terminal category of a document and the ledger fields it produces.
package verdict

import (
	"bytes"
	"encoding/json"

	"github.com/cockroachdb/errors"

	"invoicewatch/internal"
	"invoicewatch/internal/util"
)

type Kind int

const (
	KindDecodeError Kind = iota
	KindDone
	KindInvalid
	KindUnrelated
	KindUnknown
)

func (k Kind) String() string {
	switch k {
	case KindDone:
		return "done"
	case KindInvalid:
		return "invalid"
	case KindUnrelated:
		return "unrelated"
	case KindUnknown:
		return "unknown"
	default:
		return "decode_error"
	}
}

// Check is the validation block of a verdict.
type Check struct {
	Invoice       *bool   `json:"invoice"`
	InvalidCheck  *bool   `json:"invalidCheck"`
	InvalidPoints *string `json:"invalidPoints,omitempty"`
}

// Outcome is the decoded verdict of one document payload.
type Outcome struct {
	Kind    Kind
	Defects *string
	// Raw is the compact JSON text of the verdict as returned by the service.
	Raw string
	Err error
}

// Decode classifies a raw verdict. Rules apply in order: invoice without defects is
// Done, invoice with defects is Invalid, not an invoice is Unrelated, anything else
// is Unknown. Text that is not JSON at all is a DecodeError.
func Decode(raw []byte) Outcome {
	var compact bytes.Buffer
	if err := json.Compact(&compact, bytes.TrimSpace(raw)); err != nil {
		return Outcome{
			Kind: KindDecodeError,
			Raw:  string(raw),
			Err:  errors.Mark(errors.Wrap(err, "verdict is not valid JSON"), internal.ErrClassificationFailed),
		}
	}
	out := Outcome{Raw: compact.String()}

	var doc struct {
		Check *Check `json:"check"`
	}
	if err := json.Unmarshal(compact.Bytes(), &doc); err != nil {
		out.Kind = KindUnknown
		out.Err = errors.Mark(errors.Wrap(err, "unrecognized verdict shape"), internal.ErrMalformedVerdict)
		return out
	}

	c := doc.Check
	switch {
	case c != nil && isTrue(c.Invoice) && isFalse(c.InvalidCheck):
		out.Kind = KindDone
	case c != nil && isTrue(c.Invoice) && isTrue(c.InvalidCheck):
		out.Kind = KindInvalid
		if c.InvalidPoints != nil {
			out.Defects = util.StringPtr(*c.InvalidPoints)
		}
	case c != nil && isFalse(c.Invoice):
		out.Kind = KindUnrelated
	default:
		out.Kind = KindUnknown
		out.Err = errors.Mark(errors.New("verdict has no recognizable check block"), internal.ErrMalformedVerdict)
	}
	return out
}

func (o Outcome) Category() internal.Category {
	switch o.Kind {
	case KindDone:
		return internal.CategoryDone
	case KindInvalid:
		return internal.CategoryInvalid
	case KindUnrelated:
		return internal.CategoryUnrelated
	default:
		return internal.CategoryUnknown
	}
}

// Apply fills the classification fields of base, which carries the item columns.
func (o Outcome) Apply(base internal.LogRow) internal.LogRow {
	row := base
	row.HasInvoice, row.IsValidInvoice = nil, nil
	row.ModificationPoints, row.ParsedInvoice, row.Notes = nil, nil, nil
	row.Category = o.Category()

	switch o.Kind {
	case KindDone:
		row.HasInvoice = util.BoolPtr(true)
		row.IsValidInvoice = util.BoolPtr(true)
		row.ParsedInvoice = util.StringPtr(o.Raw)
	case KindInvalid:
		row.HasInvoice = util.BoolPtr(true)
		row.IsValidInvoice = util.BoolPtr(false)
		row.ModificationPoints = o.Defects
		row.ParsedInvoice = util.StringPtr(o.Raw)
	case KindUnrelated:
		row.HasInvoice = util.BoolPtr(false)
	default:
		row.Notes = util.StringPtr(o.Raw)
	}
	return row
}

func isTrue(b *bool) bool  { return b != nil && *b }
func isFalse(b *bool) bool { return b != nil && !*b }
