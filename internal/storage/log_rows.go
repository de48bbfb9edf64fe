package storage

import (
	"context"
	"database/sql"
	"strings"

	"github.com/cockroachdb/errors"

	"invoicewatch/internal"
)

func (d *DB) ProcessedMessageIDs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := d.conn.QueryContext(ctx, `SELECT DISTINCT messageId FROM log_rows`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]struct{}{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}

// AppendLogRows inserts rows in one transaction and returns their ids in order.
func (d *DB) AppendLogRows(ctx context.Context, logRows []internal.LogRow) ([]int64, error) {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO log_rows (
  date, threadId, messageId, searchUrl, sender, subject,
  hasInvoice, isValidInvoice, modificationPoints, parsedInvoice, notes, category
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	ids := make([]int64, 0, len(logRows))
	for _, r := range logRows {
		res, err := stmt.ExecContext(ctx,
			formatTime(r.Date), r.ThreadID, r.MessageID, r.SearchURL, r.Sender, r.Subject,
			r.HasInvoice, r.IsValidInvoice, r.ModificationPoints, r.ParsedInvoice, r.Notes, string(r.Category),
		)
		if err != nil {
			return nil, errors.Wrapf(err, "insert log row for message %s", r.MessageID)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

func (d *DB) SetLogRowColor(ctx context.Context, ids []int64, color string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, color)
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := d.conn.ExecContext(ctx, `UPDATE log_rows SET color = ? WHERE id IN (`+placeholders+`)`, args...)
	return err
}

type StoredLogRow struct {
	ID    int64
	Color *string
	internal.LogRow
}

func (d *DB) ListLogRows(ctx context.Context) ([]StoredLogRow, error) {
	rows, err := d.conn.QueryContext(ctx, `
SELECT id, date, threadId, messageId, searchUrl, sender, subject,
       hasInvoice, isValidInvoice, modificationPoints, parsedInvoice, notes, category, color
FROM log_rows ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StoredLogRow
	for rows.Next() {
		var (
			row       StoredLogRow
			date      string
			searchURL sql.NullString
			sender    sql.NullString
			subject   sql.NullString
			category  string
		)
		if err := rows.Scan(
			&row.ID, &date, &row.ThreadID, &row.MessageID, &searchURL, &sender, &subject,
			&row.HasInvoice, &row.IsValidInvoice, &row.ModificationPoints, &row.ParsedInvoice, &row.Notes,
			&category, &row.Color,
		); err != nil {
			return nil, err
		}
		if row.Date, err = parseTime(date); err != nil {
			return nil, errors.Wrapf(err, "parse date of log row %d", row.ID)
		}
		row.SearchURL = searchURL.String
		row.Sender = sender.String
		row.Subject = subject.String
		row.Category = internal.Category(category)
		out = append(out, row)
	}
	return out, rows.Err()
}
