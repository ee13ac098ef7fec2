package upload

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stagedSession lays out a chunked session with all pieces on disk.
func stagedSession(t *testing.T, content []byte, chunkSize int64) *Session {
	t.Helper()
	tempDir := t.TempDir()
	targetDir := t.TempDir()

	total := (int64(len(content)) + chunkSize - 1) / chunkSize
	sess := &Session{
		UploadID:         "asm-test",
		UserID:           "1",
		FileName:         "out.bin",
		FileSize:         int64(len(content)),
		ChunkSize:        chunkSize,
		TotalChunks:      total,
		TargetPath:       filepath.Join(targetDir, "out.bin"),
		TempDir:          tempDir,
		Mode:             ModeChunked,
		Received:         NewBitset(total),
		Status:           StatusFinalizing,
		CreatedAt:        time.Now().UTC(),
		LastActivityAt:   time.Now().UTC(),
		BytesTransferred: int64(len(content)),
	}

	recv := NewReceiver(chunkSize * 2)
	for i, chunk := range chunksOf(content, chunkSize) {
		require.NoError(t, recv.StageChunk(sess, int64(i), chunk))
		sess.Received.Set(int64(i))
	}
	return sess
}

func TestAssembleOrdersChunksAndPurgesStaging(t *testing.T) {
	content := randomContent(t, 5_000)
	sess := stagedSession(t, content, 1024)

	require.NoError(t, NewAssembler().Assemble(context.Background(), sess))

	got, err := os.ReadFile(sess.TargetPath)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(content, got))

	_, err = os.Stat(sess.TempDir)
	assert.True(t, os.IsNotExist(err), "staging dir must be purged")
}

func TestAssembleSizeMismatchDeletesPartialTarget(t *testing.T) {
	content := randomContent(t, 3_000)
	sess := stagedSession(t, content, 1024)
	// session claims more bytes than were staged
	sess.FileSize += 500

	err := NewAssembler().Assemble(context.Background(), sess)
	require.Error(t, err)
	assert.Equal(t, CodeAssemblyError, CodeOf(err))

	_, statErr := os.Stat(sess.TargetPath)
	assert.True(t, os.IsNotExist(statErr), "corrupt partial target must not survive")
}

func TestAssembleMissingChunkIsAssemblyError(t *testing.T) {
	content := randomContent(t, 3_000)
	sess := stagedSession(t, content, 1024)
	require.NoError(t, os.Remove(filepath.Join(sess.TempDir, "chunk_000001")))

	err := NewAssembler().Assemble(context.Background(), sess)
	require.Error(t, err)
	assert.Equal(t, CodeAssemblyError, CodeOf(err))
}

func TestAssembleResumesAfterInterruption(t *testing.T) {
	content := randomContent(t, 5_000)
	sess := stagedSession(t, content, 1024)
	asm := NewAssembler()

	// simulate a crash mid-assembly: the first two chunks already landed
	// in the target, their staging files already released, plus a torn
	// partial write of the third
	target, err := os.OpenFile(sess.TargetPath, os.O_WRONLY|os.O_CREATE, 0o644)
	require.NoError(t, err)
	_, err = target.Write(content[:2048+300])
	require.NoError(t, err)
	require.NoError(t, target.Close())
	require.NoError(t, os.Remove(filepath.Join(sess.TempDir, "chunk_000000")))
	require.NoError(t, os.Remove(filepath.Join(sess.TempDir, "chunk_000001")))

	require.NoError(t, asm.Assemble(context.Background(), sess))

	got, err := os.ReadFile(sess.TargetPath)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(content, got), "resume must truncate the torn tail and continue")
}

func TestAssembleIsIdempotentWhenRerun(t *testing.T) {
	content := randomContent(t, 3_000)
	sess := stagedSession(t, content, 1024)
	asm := NewAssembler()

	require.NoError(t, asm.Assemble(context.Background(), sess))

	// a second run over the finished target finds nothing left to copy
	require.NoError(t, os.MkdirAll(sess.TempDir, 0o755))
	require.NoError(t, asm.Assemble(context.Background(), sess))

	got, err := os.ReadFile(sess.TargetPath)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(content, got))
}

func TestAssembleStreamMovesStagedFile(t *testing.T) {
	content := randomContent(t, 4_000)
	tempDir := t.TempDir()
	sess := &Session{
		UploadID:       "stream-asm",
		FileSize:       int64(len(content)),
		TargetPath:     filepath.Join(t.TempDir(), "out.bin"),
		TempDir:        tempDir,
		Mode:           ModeStream,
		ReceivedOffset: int64(len(content)),
		Status:         StatusFinalizing,
	}
	require.NoError(t, os.WriteFile(filepath.Join(tempDir, streamFileName), content, 0o644))

	asm := NewAssembler()
	require.NoError(t, asm.Assemble(context.Background(), sess))

	got, err := os.ReadFile(sess.TargetPath)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(content, got))

	// re-running after the move is a no-op success
	require.NoError(t, os.MkdirAll(sess.TempDir, 0o755))
	require.NoError(t, asm.Assemble(context.Background(), sess))
}
