package storage

import (
	"context"
	"database/sql"
	"time"
)

type Trigger struct {
	Handler      string
	EveryMinutes int
	LastFiredAt  *time.Time
}

// ReplaceTrigger removes any trigger for handler and registers a new one.
func (d *DB) ReplaceTrigger(ctx context.Context, handler string, everyMinutes int) error {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM triggers WHERE handler = ?`, handler); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO triggers (handler, everyMinutes) VALUES (?, ?)`, handler, everyMinutes); err != nil {
		return err
	}
	return tx.Commit()
}

func (d *DB) DeleteTriggers(ctx context.Context, handler string) (int64, error) {
	res, err := d.conn.ExecContext(ctx, `DELETE FROM triggers WHERE handler = ?`, handler)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (d *DB) ListTriggers(ctx context.Context) ([]Trigger, error) {
	rows, err := d.conn.QueryContext(ctx, `SELECT handler, everyMinutes, lastFiredAt FROM triggers ORDER BY handler`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Trigger
	for rows.Next() {
		var (
			t     Trigger
			fired sql.NullString
		)
		if err := rows.Scan(&t.Handler, &t.EveryMinutes, &fired); err != nil {
			return nil, err
		}
		if fired.Valid {
			if at, err := parseTime(fired.String); err == nil {
				t.LastFiredAt = &at
			}
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (d *DB) MarkTriggerFired(ctx context.Context, handler string, at time.Time) error {
	_, err := d.conn.ExecContext(ctx, `UPDATE triggers SET lastFiredAt = ? WHERE handler = ?`, formatTime(at), handler)
	return err
}
