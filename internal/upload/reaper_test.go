package upload

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newReaperEnv(t *testing.T) (*Reaper, *RedisStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	store := NewRedisStore(rdb, 48*time.Hour)
	return NewReaper(context.Background(), store, 24*time.Hour, time.Hour), store
}

func seedSession(t *testing.T, store *RedisStore, id string, lastActivity time.Time) *Session {
	t.Helper()
	sess := testSession(id)
	sess.TempDir = t.TempDir()
	sess.LastActivityAt = lastActivity
	require.NoError(t, store.Create(context.Background(), sess))
	return sess
}

func TestSweepEvictsOnlyStaleSessions(t *testing.T) {
	reaper, store := newReaperEnv(t)
	ctx := context.Background()
	now := time.Now().UTC()

	stale := seedSession(t, store, "stale", now.Add(-25*time.Hour))
	young := seedSession(t, store, "young", now.Add(-23*time.Hour))
	// a young session in a weird state is still off limits, only age evicts
	anomalous := seedSession(t, store, "anomalous", now.Add(-time.Minute))
	anomalous.Status = StatusError
	require.NoError(t, store.Save(ctx, anomalous))

	cleaned, err := reaper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, cleaned)

	_, err = store.Get(ctx, "stale")
	assert.Equal(t, CodeNotFound, CodeOf(err))
	_, statErr := os.Stat(stale.TempDir)
	assert.True(t, os.IsNotExist(statErr), "stale staging dir must be reclaimed")

	_, err = store.Get(ctx, "young")
	require.NoError(t, err)
	_, statErr = os.Stat(young.TempDir)
	assert.NoError(t, statErr, "young staging dir must be untouched")
	_, err = store.Get(ctx, "anomalous")
	require.NoError(t, err)
}

func TestSweepToleratesMissingStagingDir(t *testing.T) {
	reaper, store := newReaperEnv(t)
	ctx := context.Background()

	stale := seedSession(t, store, "stale", time.Now().UTC().Add(-48*time.Hour))
	require.NoError(t, os.RemoveAll(stale.TempDir))

	cleaned, err := reaper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, cleaned)
}

func TestSweepIsIdempotent(t *testing.T) {
	reaper, store := newReaperEnv(t)
	ctx := context.Background()

	seedSession(t, store, "stale", time.Now().UTC().Add(-48*time.Hour))

	cleaned, err := reaper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, cleaned)

	cleaned, err = reaper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, cleaned)
}

func TestSweepFreesTargetReservation(t *testing.T) {
	reaper, store := newReaperEnv(t)
	ctx := context.Background()

	stale := seedSession(t, store, "stale", time.Now().UTC().Add(-48*time.Hour))
	ok, err := store.ReserveTarget(ctx, stale.TargetPath, stale.UploadID)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = reaper.Sweep(ctx)
	require.NoError(t, err)

	ok, err = store.ReserveTarget(ctx, stale.TargetPath, "someone-else")
	require.NoError(t, err)
	assert.True(t, ok, "eviction must release the target path")
}

func TestReaperShutdownStopsLoop(t *testing.T) {
	reaper, _ := newReaperEnv(t)
	reaper.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, reaper.Shutdown(ctx))
}
