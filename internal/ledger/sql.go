package ledger

import (
	"context"

	"github.com/cockroachdb/errors"

	"invoicewatch/internal"
	"invoicewatch/internal/storage"
)

// SQL keeps the ledger in the sqlite log_rows table.
type SQL struct {
	db       *storage.DB
	batchIDs []int64
}

func NewSQL(db *storage.DB) *SQL {
	return &SQL{db: db}
}

func (l *SQL) ProcessedIDs(ctx context.Context) (map[string]struct{}, error) {
	ids, err := l.db.ProcessedMessageIDs(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list processed message ids")
	}
	return ids, nil
}

func (l *SQL) Append(ctx context.Context, rows []internal.LogRow) error {
	if len(rows) == 0 {
		l.batchIDs = nil
		return nil
	}
	ids, err := l.db.AppendLogRows(ctx, rows)
	if err != nil {
		return errors.Wrapf(err, "append %d log rows", len(rows))
	}
	l.batchIDs = ids
	return nil
}

func (l *SQL) Colorize(ctx context.Context, indices []int, category internal.Category) error {
	color := ColorFor(category)
	if color == "" || len(indices) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(indices))
	for _, i := range indices {
		if i < 0 || i >= len(l.batchIDs) {
			return errors.Newf("row index %d outside last batch of %d rows", i, len(l.batchIDs))
		}
		ids = append(ids, l.batchIDs[i])
	}
	return l.db.SetLogRowColor(ctx, ids, color)
}
