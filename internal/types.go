package internal

import (
	"context"
	"time"
)

type Category string

const (
	CategoryDone      Category = "done"
	CategoryInvalid   Category = "invalid"
	CategoryUnrelated Category = "unrelated"
	CategoryUnknown   Category = "unknown"
)

// ColoredCategories are the categories that get a row color in the ledger.
// Unknown rows are left uncolored for manual inspection.
var ColoredCategories = []Category{CategoryDone, CategoryInvalid, CategoryUnrelated}

const MediaTypePDF = "application/pdf"

type Payload struct {
	Name      string
	MediaType string
	Data      []byte
	Pages     int
}

// Replier answers the original message of a candidate item.
type Replier interface {
	Reply(ctx context.Context, body string) error
}

type CandidateItem struct {
	Provider   string
	ThreadID   string
	MessageID  string
	Payloads   []Payload
	Sender     string
	Subject    string
	SearchURL  string
	ReceivedAt time.Time
	Replier    Replier
}

// LogHeader is the column order of the ledger.
var LogHeader = []string{
	"date", "threadId", "messageId", "searchUrl", "sender", "subject",
	"hasInvoice", "isValidInvoice", "modificationPoints", "parsedInvoice", "notes",
}

type LogRow struct {
	Date               time.Time
	ThreadID           string
	MessageID          string
	SearchURL          string
	Sender             string
	Subject            string
	HasInvoice         *bool
	IsValidInvoice     *bool
	ModificationPoints *string
	ParsedInvoice      *string
	Notes              *string

	Category Category
}

// Values returns the row in LogHeader order; nil pointers stay nil.
func (r LogRow) Values() []any {
	return []any{
		r.Date, r.ThreadID, r.MessageID, r.SearchURL, r.Sender, r.Subject,
		boolValue(r.HasInvoice), boolValue(r.IsValidInvoice),
		stringValue(r.ModificationPoints), stringValue(r.ParsedInvoice), stringValue(r.Notes),
	}
}

func boolValue(v *bool) any {
	if v == nil {
		return nil
	}
	return *v
}

func stringValue(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

type RunCounts struct {
	Done      int `json:"done"`
	Invalid   int `json:"invalid"`
	Unrelated int `json:"unrelated"`
	Unknown   int `json:"unknown"`
}

func (c *RunCounts) Add(cat Category) {
	switch cat {
	case CategoryDone:
		c.Done++
	case CategoryInvalid:
		c.Invalid++
	case CategoryUnrelated:
		c.Unrelated++
	default:
		c.Unknown++
	}
}
