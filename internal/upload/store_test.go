package upload

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisStore(rdb, 24*time.Hour), mr
}

func testSession(id string) *Session {
	now := time.Now().UTC().Truncate(time.Millisecond)
	s := &Session{
		UploadID:       id,
		UserID:         "7",
		FileName:       "report.pdf",
		FileSize:       5_500_000,
		ChunkSize:      2_000_000,
		TotalChunks:    3,
		RelativePath:   "docs",
		TargetPath:     "/data/files/7/docs/report.pdf",
		TempDir:        "/data/tmp/" + id,
		Mode:           ModeChunked,
		Received:       NewBitset(3),
		Status:         StatusUploading,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	return s
}

func TestStoreRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess := testSession("rt-1")
	sess.Received.Set(0)
	sess.Received.Set(2)
	sess.BytesTransferred = 3_500_000
	require.NoError(t, store.Create(ctx, sess))

	loaded, err := store.Get(ctx, "rt-1")
	require.NoError(t, err)

	assert.Equal(t, sess.UserID, loaded.UserID)
	assert.Equal(t, sess.FileName, loaded.FileName)
	assert.Equal(t, sess.FileSize, loaded.FileSize)
	assert.Equal(t, sess.ChunkSize, loaded.ChunkSize)
	assert.Equal(t, sess.TotalChunks, loaded.TotalChunks)
	assert.Equal(t, sess.TargetPath, loaded.TargetPath)
	assert.Equal(t, sess.TempDir, loaded.TempDir)
	assert.Equal(t, ModeChunked, loaded.Mode)
	assert.Equal(t, StatusUploading, loaded.Status)
	assert.Equal(t, sess.BytesTransferred, loaded.BytesTransferred)
	assert.True(t, loaded.CreatedAt.Equal(sess.CreatedAt))

	// sparse received set survives serialization
	assert.True(t, loaded.Received.Has(0))
	assert.False(t, loaded.Received.Has(1))
	assert.True(t, loaded.Received.Has(2))
	assert.Equal(t, int64(2), loaded.Received.Count())
}

func TestStoreGetUnknownIsNotFound(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Get(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeNotFound))
}

func TestStoreCreateRejectsDuplicateID(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, testSession("dup")))
	err := store.Create(ctx, testSession("dup"))
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeInvalidRequest))
}

func TestStoreSaveRefreshesTTL(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	sess := testSession("ttl-1")
	require.NoError(t, store.Create(ctx, sess))
	require.Positive(t, mr.TTL(sessionKey("ttl-1")))

	mr.FastForward(12 * time.Hour)
	require.NoError(t, store.Save(ctx, sess))
	assert.Equal(t, 24*time.Hour, mr.TTL(sessionKey("ttl-1")))
}

func TestStoreDeleteAndList(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, testSession("a")))
	require.NoError(t, store.Create(ctx, testSession("b")))

	ids, err := store.ListIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, ids)

	require.NoError(t, store.Delete(ctx, "a"))
	require.NoError(t, store.Delete(ctx, "a")) // idempotent

	ids, err = store.ListIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids)
}

func TestStoreTargetReservation(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	ok, err := store.ReserveTarget(ctx, "/data/files/7/report.pdf", "s1")
	require.NoError(t, err)
	assert.True(t, ok)

	// second claimant loses
	ok, err = store.ReserveTarget(ctx, "/data/files/7/report.pdf", "s2")
	require.NoError(t, err)
	assert.False(t, ok)

	// reservation keys must not leak into the session listing
	ids, err := store.ListIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	require.NoError(t, store.ReleaseTarget(ctx, "/data/files/7/report.pdf"))
	ok, err = store.ReserveTarget(ctx, "/data/files/7/report.pdf", "s2")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBitsetEncodeDecode(t *testing.T) {
	b := NewBitset(11)
	b.Set(0)
	b.Set(7)
	b.Set(10)

	decoded, err := DecodeBitset(b.Encode(), 11)
	require.NoError(t, err)
	assert.Equal(t, int64(3), decoded.Count())
	assert.True(t, decoded.Has(0))
	assert.True(t, decoded.Has(7))
	assert.True(t, decoded.Has(10))
	assert.False(t, decoded.Has(5))
	assert.False(t, decoded.Full())

	for i := int64(0); i < 11; i++ {
		decoded.Set(i)
	}
	assert.True(t, decoded.Full())
}
