package upload

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// Assembler concatenates staged pieces into the final artifact once a
// session is complete. It is idempotent under restart: re-running it on a
// finalizing session skips whatever is already correctly in place.
type Assembler struct{}

func NewAssembler() *Assembler {
	return &Assembler{}
}

// Assemble builds the target file for a complete session and verifies its
// size. On a size mismatch the partial target is deleted rather than left
// corrupt and an AssemblyError is returned. The staging directory is purged
// on success.
func (a *Assembler) Assemble(ctx context.Context, sess *Session) error {
	if err := os.MkdirAll(filepath.Dir(sess.TargetPath), 0o755); err != nil {
		return fmt.Errorf("create target dir: %w", err)
	}

	var err error
	if sess.Mode == ModeStream {
		err = a.assembleStream(sess)
	} else {
		err = a.assembleChunks(ctx, sess)
	}
	if err != nil {
		return err
	}

	info, err := os.Stat(sess.TargetPath)
	if err != nil {
		return fmt.Errorf("stat target: %w", err)
	}
	if info.Size() != sess.FileSize {
		os.Remove(sess.TargetPath)
		return newError(CodeAssemblyError, "assembled %d bytes, declared %d", info.Size(), sess.FileSize)
	}

	if err := os.RemoveAll(sess.TempDir); err != nil {
		logrus.WithFields(logrus.Fields{
			"upload_id": sess.UploadID,
			"temp_dir":  sess.TempDir,
		}).Warnf("could not purge staging dir: %v", err)
	}

	logrus.WithFields(logrus.Fields{
		"upload_id": sess.UploadID,
		"target":    sess.TargetPath,
		"size":      sess.FileSize,
	}).Info("upload assembled")
	return nil
}

// assembleChunks appends staged chunks in strict index order. Each source
// chunk is released right after it lands in the target to bound peak disk
// usage. Chunks are only removed after their bytes are flushed, so the
// target's size is a reliable resume point after a crash: truncate to the
// last full chunk boundary and continue from there.
func (a *Assembler) assembleChunks(ctx context.Context, sess *Session) error {
	target, err := os.OpenFile(sess.TargetPath, os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("open target: %w", err)
	}
	defer target.Close()

	info, err := target.Stat()
	if err != nil {
		return fmt.Errorf("stat target: %w", err)
	}
	if info.Size() == sess.FileSize {
		// a previous run already finished the copy
		return nil
	}
	start := info.Size() / sess.ChunkSize
	if start > sess.TotalChunks {
		start = sess.TotalChunks
	}
	if err := target.Truncate(start * sess.ChunkSize); err != nil {
		return fmt.Errorf("truncate target to resume point: %w", err)
	}
	if _, err := target.Seek(start*sess.ChunkSize, io.SeekStart); err != nil {
		return fmt.Errorf("seek target: %w", err)
	}

	for index := start; index < sess.TotalChunks; index++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		path := chunkPath(sess.TempDir, index)
		chunk, err := os.Open(path)
		if err != nil {
			return newError(CodeAssemblyError, "chunk %d missing from staging: %v", index, err)
		}
		_, err = io.Copy(target, chunk)
		chunk.Close()
		if err != nil {
			return fmt.Errorf("append chunk %d: %w", index, err)
		}
		if err := target.Sync(); err != nil {
			return fmt.Errorf("flush target after chunk %d: %w", index, err)
		}
		os.Remove(path)
	}

	return nil
}

// assembleStream moves the single contiguous staged file into place. When
// the staged file is already gone but the target has the full size, a prior
// run finished the move and there is nothing to redo.
func (a *Assembler) assembleStream(sess *Session) error {
	staged := filepath.Join(sess.TempDir, streamFileName)
	if _, err := os.Stat(staged); os.IsNotExist(err) {
		if info, err := os.Stat(sess.TargetPath); err == nil && info.Size() == sess.FileSize {
			return nil
		}
		return newError(CodeAssemblyError, "staged stream file missing")
	}

	if err := os.Rename(staged, sess.TargetPath); err == nil {
		return nil
	}

	// Rename can fail across filesystems; fall back to a copy.
	src, err := os.Open(staged)
	if err != nil {
		return fmt.Errorf("open staged stream: %w", err)
	}
	defer src.Close()

	dst, err := os.OpenFile(sess.TargetPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open target: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("copy staged stream: %w", err)
	}
	if err := dst.Sync(); err != nil {
		dst.Close()
		return fmt.Errorf("flush target: %w", err)
	}
	return dst.Close()
}
