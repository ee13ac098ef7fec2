package upload

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

const streamFileName = "stream.part"

// Receiver validates incoming units and stages them durably in the session's
// temp directory before any session-state mutation. A unit is only
// acknowledged once its bytes are flushed to stable storage, so a crash
// before flush can never surface in the received set.
type Receiver struct {
	// maxPayload is the transport ceiling, slightly above the nominal
	// chunk size so a smaller final chunk still passes.
	maxPayload int64
}

func NewReceiver(maxPayload int64) *Receiver {
	return &Receiver{maxPayload: maxPayload}
}

// MaxPayload exposes the transport ceiling for request-body limiting.
func (r *Receiver) MaxPayload() int64 {
	return r.maxPayload
}

// chunkPath is the stable staging location for one chunk index.
func chunkPath(tempDir string, index int64) string {
	return filepath.Join(tempDir, fmt.Sprintf("chunk_%06d", index))
}

// ValidateChunk checks transport bounds and the exact expected size for the
// index before any disk I/O happens.
func (r *Receiver) ValidateChunk(sess *Session, index int64, size int64) error {
	if size > r.maxPayload {
		return newError(CodePayloadTooLarge, "payload of %d bytes exceeds limit %d", size, r.maxPayload)
	}
	if want := sess.ChunkPayloadSize(index); size != want {
		return newError(CodeInvalidRequest, "chunk %d expects %d bytes, got %d", index, want, size)
	}
	return nil
}

// StageChunk durably writes one chunk to its staging file. Rewriting the
// same index with identical data is harmless.
func (r *Receiver) StageChunk(sess *Session, index int64, data []byte) error {
	path := chunkPath(sess.TempDir, index)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open chunk %d: %w", index, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write chunk %d: %w", index, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("flush chunk %d: %w", index, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close chunk %d: %w", index, err)
	}

	logrus.WithFields(logrus.Fields{
		"upload_id": sess.UploadID,
		"chunk":     index,
		"bytes":     len(data),
	}).Debug("chunk staged")
	return nil
}

// StagedChunkSize returns the size of an already-staged chunk, or -1 if the
// staging file is missing.
func (r *Receiver) StagedChunkSize(sess *Session, index int64) int64 {
	info, err := os.Stat(chunkPath(sess.TempDir, index))
	if err != nil {
		return -1
	}
	return info.Size()
}

// ValidateSegment checks transport bounds and strict offset order for a
// stream segment. Gaps and overwrites are rejected, never buffered.
func (r *Receiver) ValidateSegment(sess *Session, offset, size int64) error {
	if size > r.maxPayload {
		return newError(CodePayloadTooLarge, "payload of %d bytes exceeds limit %d", size, r.maxPayload)
	}
	if offset != sess.ReceivedOffset {
		return offsetMismatch(sess.ReceivedOffset, offset)
	}
	if offset+size > sess.FileSize {
		return newError(CodeInvalidRequest, "segment at %d of %d bytes overruns declared size %d", offset, size, sess.FileSize)
	}
	return nil
}

// StageSegment appends one segment to the session's contiguous staging file
// after confirming the file really ends at the expected offset.
func (r *Receiver) StageSegment(sess *Session, offset int64, data []byte) error {
	path := filepath.Join(sess.TempDir, streamFileName)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("open stream file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat stream file: %w", err)
	}
	// The staged file may run ahead of the persisted offset after a crash
	// between flush and persist; rewriting those bytes is harmless. It must
	// never lag behind it.
	if info.Size() < offset {
		return offsetMismatch(info.Size(), offset)
	}

	if _, err := f.WriteAt(data, offset); err != nil {
		return fmt.Errorf("write segment at %d: %w", offset, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("flush segment at %d: %w", offset, err)
	}

	logrus.WithFields(logrus.Fields{
		"upload_id": sess.UploadID,
		"offset":    offset,
		"bytes":     len(data),
	}).Debug("segment staged")
	return nil
}

// StagedStreamSize returns the byte count currently staged for a stream
// session, tolerating a missing file as zero.
func (r *Receiver) StagedStreamSize(sess *Session) int64 {
	info, err := os.Stat(filepath.Join(sess.TempDir, streamFileName))
	if err != nil {
		return 0
	}
	return info.Size()
}
