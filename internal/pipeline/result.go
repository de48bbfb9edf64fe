package pipeline

import (
	"fmt"

	"invoicewatch/internal"
)

// RunResult is the in-memory outcome of one run.
type RunResult struct {
	RunID  string
	Rows   []internal.LogRow
	Counts internal.RunCounts
	// Skipped counts candidates whose message id was already in the ledger.
	Skipped int

	indices map[internal.Category][]int
}

func (r *RunResult) add(row internal.LogRow) {
	if r.indices == nil {
		r.indices = map[internal.Category][]int{}
	}
	r.indices[row.Category] = append(r.indices[row.Category], len(r.Rows))
	r.Rows = append(r.Rows, row)
	r.Counts.Add(row.Category)
}

// Indices returns the positions in Rows that carry category.
func (r RunResult) Indices(category internal.Category) []int {
	return r.indices[category]
}

func (r RunResult) Summary() string {
	if len(r.Rows) == 0 {
		return "No emails were processed."
	}
	return fmt.Sprintf("%d emails were processed.", len(r.Rows))
}
