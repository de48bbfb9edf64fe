package storage

import (
	"context"
	"encoding/json"
	"time"
)

type RunRecord struct {
	RunID     string
	StartedAt time.Time
	Status    string
	Error     string
	Timings   map[string]float64
	Counts    map[string]int
}

func (d *DB) InsertRun(ctx context.Context, run RunRecord) error {
	timingsJSON, _ := json.Marshal(run.Timings)
	countsJSON, _ := json.Marshal(run.Counts)
	var errText *string
	if run.Error != "" {
		errText = &run.Error
	}
	_, err := d.conn.ExecContext(ctx,
		`INSERT INTO runs (runId, startedAt, status, error, timingsJson, countsJson) VALUES (?, ?, ?, ?, ?, ?)`,
		run.RunID, formatTime(run.StartedAt), run.Status, errText, string(timingsJSON), string(countsJSON),
	)
	return err
}

func (d *DB) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	rows, err := d.conn.QueryContext(ctx, `
SELECT runId, startedAt, status, COALESCE(error, ''), timingsJson, countsJson
FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var (
			run         RunRecord
			startedAt   string
			timingsJSON string
			countsJSON  string
		)
		if err := rows.Scan(&run.RunID, &startedAt, &run.Status, &run.Error, &timingsJSON, &countsJSON); err != nil {
			return nil, err
		}
		run.StartedAt, _ = parseTime(startedAt)
		_ = json.Unmarshal([]byte(timingsJSON), &run.Timings)
		_ = json.Unmarshal([]byte(countsJSON), &run.Counts)
		out = append(out, run)
	}
	return out, rows.Err()
}
