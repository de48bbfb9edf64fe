// Package ledger persists log rows of processed messages. The ledger is append-only
// and is the source of truth for which message ids were already handled.
package ledger

import (
	"context"

	"invoicewatch/internal"
)

// Ledger is the dedup log. Colorize indices refer to positions within the batch
// passed to the most recent Append.
type Ledger interface {
	ProcessedIDs(ctx context.Context) (map[string]struct{}, error)
	Append(ctx context.Context, rows []internal.LogRow) error
	Colorize(ctx context.Context, indices []int, category internal.Category) error
}

var rowColors = map[internal.Category]string{
	internal.CategoryDone:      "#d9ead3",
	internal.CategoryInvalid:   "#f4cccc",
	internal.CategoryUnrelated: "#d9d9d9",
}

// ColorFor returns the row color of a category, or "" for uncolored categories.
func ColorFor(category internal.Category) string {
	return rowColors[category]
}
