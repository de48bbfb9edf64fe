package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"invoicewatch/internal"
	"invoicewatch/internal/storage"
)

func openTestDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "app.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestRegistryReplaceAndDelete(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	reg := NewRegistry(db)

	require.NoError(t, reg.Replace(ctx, "main", 10))
	require.NoError(t, reg.Replace(ctx, "main", 5))

	triggers, err := db.ListTriggers(ctx)
	require.NoError(t, err)
	require.Len(t, triggers, 1)
	assert.Equal(t, 5, triggers[0].EveryMinutes)

	n, err := reg.Delete(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	triggers, err = db.ListTriggers(ctx)
	require.NoError(t, err)
	assert.Empty(t, triggers)
}

func TestRegistryRejectsBadTrigger(t *testing.T) {
	reg := NewRegistry(openTestDB(t))

	err := reg.Replace(context.Background(), "main", 0)
	assert.True(t, errors.Is(err, internal.ErrConfiguration))
	err = reg.Replace(context.Background(), " ", 10)
	assert.True(t, errors.Is(err, internal.ErrConfiguration))
}

func TestTickFiresDueTriggersOnce(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	require.NoError(t, NewRegistry(db).Replace(ctx, "main", 10))

	calls := 0
	svc := NewService(db, map[string]RunFunc{"main": func(context.Context) error {
		calls++
		return nil
	}}, time.Second, time.Minute, zaptest.NewLogger(t))
	now := time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	require.NoError(t, svc.tick(ctx))
	assert.Equal(t, 1, calls)

	now = now.Add(5 * time.Minute)
	require.NoError(t, svc.tick(ctx))
	assert.Equal(t, 1, calls)

	now = now.Add(5 * time.Minute)
	require.NoError(t, svc.tick(ctx))
	assert.Equal(t, 2, calls)
}

func TestFireNowDelaysNextTick(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	require.NoError(t, NewRegistry(db).Replace(ctx, "main", 10))

	calls := 0
	svc := NewService(db, map[string]RunFunc{"main": func(context.Context) error {
		calls++
		return nil
	}}, time.Second, time.Minute, zaptest.NewLogger(t))
	now := time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	require.NoError(t, svc.FireNow(ctx, "main"))
	assert.Equal(t, 1, calls)

	triggers, err := db.ListTriggers(ctx)
	require.NoError(t, err)
	require.Len(t, triggers, 1)
	require.NotNil(t, triggers[0].LastFiredAt)
	assert.True(t, triggers[0].LastFiredAt.Equal(now))

	now = now.Add(time.Minute)
	require.NoError(t, svc.tick(ctx))
	assert.Equal(t, 1, calls)

	now = now.Add(9 * time.Minute)
	require.NoError(t, svc.tick(ctx))
	assert.Equal(t, 2, calls)
}

func TestFireNowWithoutTrigger(t *testing.T) {
	calls := 0
	svc := NewService(openTestDB(t), map[string]RunFunc{"main": func(context.Context) error {
		calls++
		return nil
	}}, time.Second, time.Minute, zaptest.NewLogger(t))

	require.NoError(t, svc.FireNow(context.Background(), "main"))
	assert.Equal(t, 1, calls)
}

func TestFireRejectsOverlapInProcess(t *testing.T) {
	db := openTestDB(t)
	started := make(chan struct{})
	release := make(chan struct{})
	svc := NewService(db, map[string]RunFunc{"main": func(context.Context) error {
		close(started)
		<-release
		return nil
	}}, time.Second, time.Minute, zaptest.NewLogger(t))

	done := make(chan error, 1)
	go func() { done <- svc.Fire(context.Background(), "main") }()
	<-started

	err := svc.Fire(context.Background(), "main")
	assert.True(t, errors.Is(err, internal.ErrRunInProgress))

	close(release)
	require.NoError(t, <-done)
}

func TestFireRejectsLeaseHeldElsewhere(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	ok, err := db.AcquireLease(ctx, LeaseName, "other-process", time.Now(), time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	calls := 0
	svc := NewService(db, map[string]RunFunc{"main": func(context.Context) error {
		calls++
		return nil
	}}, time.Second, time.Minute, zaptest.NewLogger(t))

	err = svc.Fire(ctx, "main")
	assert.True(t, errors.Is(err, internal.ErrRunInProgress))
	assert.Zero(t, calls)

	require.NoError(t, db.ReleaseLease(ctx, LeaseName, "other-process"))
	require.NoError(t, svc.Fire(ctx, "main"))
	assert.Equal(t, 1, calls)
}

func TestFireUnknownHandler(t *testing.T) {
	svc := NewService(openTestDB(t), nil, time.Second, time.Minute, zaptest.NewLogger(t))

	err := svc.Fire(context.Background(), "main")
	assert.True(t, errors.Is(err, internal.ErrConfiguration))
}
