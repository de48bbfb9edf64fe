package storage

import (
	"context"
	"time"
)

// AcquireLease takes the named lease for holder until now+ttl. It succeeds when the
// lease is free, expired, or already held by holder.
func (d *DB) AcquireLease(ctx context.Context, name, holder string, now time.Time, ttl time.Duration) (bool, error) {
	res, err := d.conn.ExecContext(ctx, `
INSERT INTO leases (name, holder, expiresAt) VALUES (?, ?, ?)
ON CONFLICT(name) DO UPDATE SET holder = excluded.holder, expiresAt = excluded.expiresAt
WHERE leases.expiresAt <= ? OR leases.holder = excluded.holder
`, name, holder, formatTime(now.Add(ttl)), formatTime(now))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (d *DB) ReleaseLease(ctx context.Context, name, holder string) error {
	_, err := d.conn.ExecContext(ctx, `DELETE FROM leases WHERE name = ? AND holder = ?`, name, holder)
	return err
}
