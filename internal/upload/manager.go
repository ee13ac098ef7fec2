package upload

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/paramdnoid/weppixpress-sub004/internal/config"
)

// maxTargetVariants bounds the " (n)" conflict-resolution loop at init.
const maxTargetVariants = 1000

// InitParams are the validated inputs to InitUpload.
type InitParams struct {
	UserID       string
	FileName     string
	FileSize     int64
	RelativePath string
	ChunkSize    int64
	Mode         Mode
}

// InitResult echoes the session geometry back to the client.
type InitResult struct {
	UploadID    string `json:"uploadId"`
	ChunkSize   int64  `json:"chunkSize"`
	TotalChunks int64  `json:"totalChunks"`
	TargetPath  string `json:"targetPath"`
}

// AcceptResult reports one accepted unit.
type AcceptResult struct {
	Accepted  bool    `json:"accepted"`
	Progress  float64 `json:"progress"`
	Received  int64   `json:"received"`
	Completed bool    `json:"completed"`
}

// StatusResult is a read-only snapshot of a session.
type StatusResult struct {
	UploadID         string  `json:"uploadId"`
	Status           Status  `json:"status"`
	Progress         float64 `json:"progress"`
	TotalBytes       int64   `json:"totalBytes"`
	BytesTransferred int64   `json:"bytesTransferred"`
}

// Manager is the orchestrating state machine for upload sessions. All
// mutations flow through it; the store stays the single source of truth.
type Manager struct {
	store    Store
	recv     *Receiver
	asm      *Assembler
	notifier Notifier
	cfg      config.UploadConfig
	userRoot string
	tempRoot string

	// writers bounds concurrent unit writes system-wide.
	writers *semaphore.Weighted
	// locks serializes mutating operations per upload id.
	locks sync.Map

	// OnComplete, when set, runs after a session finalizes successfully.
	// The file catalog hooks in here.
	OnComplete func(sess *Session)

	log *logrus.Entry
}

func NewManager(store Store, notifier Notifier, upCfg config.UploadConfig, stCfg config.StorageConfig) *Manager {
	return &Manager{
		store:    store,
		recv:     NewReceiver(upCfg.MaxChunkSize),
		asm:      NewAssembler(),
		notifier: notifier,
		cfg:      upCfg,
		userRoot: stCfg.UserRoot,
		tempRoot: stCfg.TempRoot,
		writers:  semaphore.NewWeighted(upCfg.MaxConcurrentWriters),
		log:      logrus.WithField("component", "upload-manager"),
	}
}

// Receiver exposes the transport validator, mainly for body-size limits.
func (m *Manager) Receiver() *Receiver {
	return m.recv
}

func (m *Manager) lockFor(uploadID string) *sync.Mutex {
	v, _ := m.locks.LoadOrStore(uploadID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// InitUpload validates parameters, assigns a unique conflict-free target
// path and creates the session in the store.
func (m *Manager) InitUpload(ctx context.Context, p InitParams) (*InitResult, error) {
	name, err := sanitizeName(p.FileName)
	if err != nil {
		return nil, err
	}
	if p.FileSize <= 0 {
		return nil, newError(CodeInvalidRequest, "file size must be positive, got %d", p.FileSize)
	}

	mode := p.Mode
	if mode == "" {
		mode = ModeChunked
	}
	if mode != ModeChunked && mode != ModeStream {
		return nil, newError(CodeInvalidRequest, "unknown transport mode %q", p.Mode)
	}

	chunkSize := p.ChunkSize
	if chunkSize == 0 {
		chunkSize = m.cfg.DefaultChunkSize
	}
	if chunkSize <= 0 || chunkSize > m.cfg.MaxChunkSize {
		return nil, newError(CodeInvalidRequest, "chunk size %d outside (0, %d]", chunkSize, m.cfg.MaxChunkSize)
	}

	totalChunks := (p.FileSize + chunkSize - 1) / chunkSize
	if totalChunks > m.cfg.MaxChunksPerSession {
		return nil, retryableError(CodeQuotaExceeded, "%d chunks exceed the per-session limit %d", totalChunks, m.cfg.MaxChunksPerSession)
	}

	active, err := m.ListActive(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	if len(active) >= m.cfg.MaxSessionsPerUser {
		return nil, retryableError(CodeQuotaExceeded, "user has %d active sessions, limit %d", len(active), m.cfg.MaxSessionsPerUser)
	}

	dir, err := resolveUserPath(m.userRoot, p.UserID, p.RelativePath)
	if err != nil {
		return nil, err
	}

	uploadID := uuid.NewString()
	target, err := m.claimTarget(ctx, dir, name, uploadID)
	if err != nil {
		return nil, err
	}

	tempDir := filepath.Join(m.tempRoot, uploadID)
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		m.store.ReleaseTarget(ctx, target)
		return nil, fmt.Errorf("create staging dir: %w", err)
	}

	now := time.Now().UTC()
	sess := &Session{
		UploadID:       uploadID,
		UserID:         p.UserID,
		FileName:       name,
		FileSize:       p.FileSize,
		ChunkSize:      chunkSize,
		TotalChunks:    totalChunks,
		RelativePath:   p.RelativePath,
		TargetPath:     target,
		TempDir:        tempDir,
		Mode:           mode,
		Status:         StatusUploading,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	if mode == ModeChunked {
		sess.Received = NewBitset(totalChunks)
	}

	if err := m.store.Create(ctx, sess); err != nil {
		os.RemoveAll(tempDir)
		m.store.ReleaseTarget(ctx, target)
		return nil, err
	}

	m.log.WithFields(logrus.Fields{
		"upload_id":    uploadID,
		"user_id":      p.UserID,
		"file_name":    name,
		"file_size":    p.FileSize,
		"total_chunks": totalChunks,
		"mode":         mode,
	}).Info("upload session created")

	return &InitResult{
		UploadID:    uploadID,
		ChunkSize:   chunkSize,
		TotalChunks: totalChunks,
		TargetPath:  target,
	}, nil
}

// claimTarget probes disk and live reservations until a free destination
// path is found, numbering conflicts before the extension.
func (m *Manager) claimTarget(ctx context.Context, dir, name, uploadID string) (string, error) {
	for n := 0; n <= maxTargetVariants; n++ {
		candidate := name
		if n > 0 {
			candidate = numberedVariant(name, n)
		}
		path := filepath.Join(dir, candidate)
		if _, err := os.Stat(path); err == nil {
			continue
		} else if !os.IsNotExist(err) {
			return "", fmt.Errorf("probe target %q: %w", path, err)
		}
		ok, err := m.store.ReserveTarget(ctx, path, uploadID)
		if err != nil {
			return "", err
		}
		if ok {
			return path, nil
		}
	}
	return "", newError(CodeInvalidRequest, "could not find a free target name for %q", name)
}

// loadOwned fetches a session and enforces caller ownership. A foreign
// session is indistinguishable from a missing one.
func (m *Manager) loadOwned(ctx context.Context, uploadID, userID string) (*Session, error) {
	sess, err := m.store.Get(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != userID {
		return nil, newError(CodeNotFound, "upload %s not found", uploadID)
	}
	return sess, nil
}

// AcceptChunk validates, stages and records one indexed chunk. Duplicate
// delivery of an already-accepted chunk with identical data is a no-op
// success. The physical write happens outside the session critical section.
func (m *Manager) AcceptChunk(ctx context.Context, uploadID, userID string, index int64, data []byte) (*AcceptResult, error) {
	if !m.writers.TryAcquire(1) {
		return nil, retryableError(CodeTooManyConcurrent, "too many concurrent writers")
	}
	defer m.writers.Release(1)

	sess, err := m.loadOwned(ctx, uploadID, userID)
	if err != nil {
		return nil, err
	}
	if sess.Mode != ModeChunked {
		return nil, newError(CodeInvalidState, "upload %s is a stream session", uploadID)
	}
	if sess.Status != StatusUploading {
		return nil, newError(CodeInvalidState, "upload %s is %s, not accepting chunks", uploadID, sess.Status)
	}
	if index < 0 || index >= sess.TotalChunks {
		return nil, newError(CodeChunkIndexOutOfRange, "chunk index %d outside [0, %d)", index, sess.TotalChunks)
	}

	if sess.Received.Has(index) {
		return m.duplicateChunk(sess, index, int64(len(data)))
	}

	if err := m.recv.ValidateChunk(sess, index, int64(len(data))); err != nil {
		return nil, err
	}
	if err := m.recv.StageChunk(sess, index, data); err != nil {
		m.failSession(sess, err)
		return nil, err
	}

	mu := m.lockFor(uploadID)
	mu.Lock()
	sess, err = m.loadOwned(ctx, uploadID, userID)
	if err != nil {
		mu.Unlock()
		return nil, err
	}
	if sess.Status != StatusUploading {
		mu.Unlock()
		return nil, newError(CodeInvalidState, "upload %s is %s, not accepting chunks", uploadID, sess.Status)
	}
	if sess.Received.Has(index) {
		mu.Unlock()
		return m.duplicateChunk(sess, index, int64(len(data)))
	}

	sess.Received.Set(index)
	sess.BytesTransferred += int64(len(data))
	sess.Touch(time.Now().UTC())
	completed := sess.Complete()
	if completed {
		sess.Status = StatusFinalizing
	}
	if err := m.store.Save(ctx, sess); err != nil {
		mu.Unlock()
		return nil, err
	}
	mu.Unlock()

	if completed {
		if err := m.finalize(ctx, sess); err != nil {
			return nil, err
		}
	}

	return &AcceptResult{
		Accepted:  true,
		Progress:  sess.Progress(),
		Received:  sess.Received.Count(),
		Completed: completed,
	}, nil
}

// duplicateChunk honors at-least-once delivery: the resend is acknowledged
// without touching state, provided the payload matches what was staged.
func (m *Manager) duplicateChunk(sess *Session, index, size int64) (*AcceptResult, error) {
	staged := m.recv.StagedChunkSize(sess, index)
	if staged >= 0 && staged != size {
		return nil, newError(CodeInvalidRequest, "chunk %d resent with different payload", index)
	}
	return &AcceptResult{
		Accepted:  true,
		Progress:  sess.Progress(),
		Received:  sess.Received.Count(),
		Completed: false,
	}, nil
}

// AcceptStreamSegment validates and appends one in-order byte segment.
// Because stream staging is order-sensitive, the whole
// validate-append-persist sequence runs under the session lock.
func (m *Manager) AcceptStreamSegment(ctx context.Context, uploadID, userID string, offset int64, data []byte) (*AcceptResult, error) {
	if !m.writers.TryAcquire(1) {
		return nil, retryableError(CodeTooManyConcurrent, "too many concurrent writers")
	}
	defer m.writers.Release(1)

	mu := m.lockFor(uploadID)
	mu.Lock()
	defer mu.Unlock()

	sess, err := m.loadOwned(ctx, uploadID, userID)
	if err != nil {
		return nil, err
	}
	if sess.Mode != ModeStream {
		return nil, newError(CodeInvalidState, "upload %s is a chunked session", uploadID)
	}
	if sess.Status != StatusUploading {
		return nil, newError(CodeInvalidState, "upload %s is %s, not accepting segments", uploadID, sess.Status)
	}
	if err := m.recv.ValidateSegment(sess, offset, int64(len(data))); err != nil {
		return nil, err
	}

	if err := m.recv.StageSegment(sess, offset, data); err != nil {
		if IsCode(err, CodeOffsetMismatch) {
			return nil, err
		}
		m.failSession(sess, err)
		return nil, err
	}

	sess.ReceivedOffset += int64(len(data))
	sess.BytesTransferred = sess.ReceivedOffset
	sess.Touch(time.Now().UTC())
	completed := sess.Complete()
	if completed {
		sess.Status = StatusFinalizing
	}
	if err := m.store.Save(ctx, sess); err != nil {
		return nil, err
	}

	if completed {
		if err := m.finalize(ctx, sess); err != nil {
			return nil, err
		}
	}

	return &AcceptResult{
		Accepted:  true,
		Progress:  sess.Progress(),
		Received:  sess.ReceivedOffset,
		Completed: completed,
	}, nil
}

// finalize runs the assembler for a finalizing session. Assembly is detached
// from the delivering request: a client disconnect or request deadline after
// the final unit landed must not abort it, and a session interrupted here
// stays finalizing for Recover to finish. Genuine assembly failure moves the
// session to error, never back to uploading; success retires the record and
// hands the artifact to the catalog and the notifier.
func (m *Manager) finalize(ctx context.Context, sess *Session) error {
	ctx = context.WithoutCancel(ctx)
	if err := m.asm.Assemble(ctx, sess); err != nil {
		m.failSession(sess, err)
		if IsCode(err, CodeAssemblyError) {
			return err
		}
		return newError(CodeAssemblyError, "assembly failed: %v", err)
	}

	sess.Status = StatusCompleted
	sess.BytesTransferred = sess.FileSize

	// The artifact now exists on disk; the session record and the path
	// reservation have served their purpose.
	if err := m.store.Delete(ctx, sess.UploadID); err != nil {
		m.log.WithField("upload_id", sess.UploadID).Warnf("could not retire session record: %v", err)
	}
	m.store.ReleaseTarget(ctx, sess.TargetPath)
	m.locks.Delete(sess.UploadID)

	if m.OnComplete != nil {
		m.OnComplete(sess)
	}
	m.notifier.FileCreated(Event{
		Type: EventFileCreated,
		Path: sess.TargetPath,
		Size: sess.FileSize,
	})
	return nil
}

// failSession moves a session to the error state after unrecoverable I/O,
// logging the id and a progress snapshot. The record stays visible until
// the reaper retires it; the staging directory does not.
func (m *Manager) failSession(sess *Session, cause error) {
	sess.Status = StatusError
	sess.Touch(time.Now().UTC())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.store.Save(ctx, sess); err != nil {
		m.log.WithField("upload_id", sess.UploadID).Warnf("could not persist error state: %v", err)
	}
	os.RemoveAll(sess.TempDir)
	m.store.ReleaseTarget(ctx, sess.TargetPath)
	m.locks.Delete(sess.UploadID)

	m.log.WithFields(logrus.Fields{
		"upload_id": sess.UploadID,
		"progress":  sess.Progress(),
		"bytes":     sess.BytesTransferred,
	}).Errorf("session failed: %v", cause)
}

// Pause blocks future writes. Pausing a paused session is a no-op.
func (m *Manager) Pause(ctx context.Context, uploadID, userID string) error {
	return m.setPauseState(ctx, uploadID, userID, StatusPaused)
}

// Resume re-opens a paused session for writes. Resuming an uploading
// session is a no-op.
func (m *Manager) Resume(ctx context.Context, uploadID, userID string) error {
	return m.setPauseState(ctx, uploadID, userID, StatusUploading)
}

func (m *Manager) setPauseState(ctx context.Context, uploadID, userID string, want Status) error {
	mu := m.lockFor(uploadID)
	mu.Lock()
	defer mu.Unlock()

	sess, err := m.loadOwned(ctx, uploadID, userID)
	if err != nil {
		return err
	}
	if sess.Status == want {
		return nil
	}
	if sess.Status != StatusUploading && sess.Status != StatusPaused {
		return newError(CodeInvalidState, "upload %s is %s, cannot %s", uploadID, sess.Status, want)
	}
	sess.Status = want
	sess.Touch(time.Now().UTC())
	return m.store.Save(ctx, sess)
}

// Cancel flips the session to cancelled immediately and retires its record.
// Physical staging cleanup finishes asynchronously.
func (m *Manager) Cancel(ctx context.Context, uploadID, userID string) error {
	mu := m.lockFor(uploadID)
	mu.Lock()
	defer mu.Unlock()

	sess, err := m.loadOwned(ctx, uploadID, userID)
	if err != nil {
		return err
	}
	if sess.Status.Terminal() || sess.Status == StatusFinalizing {
		return newError(CodeInvalidState, "upload %s is %s, cannot cancel", uploadID, sess.Status)
	}

	if err := m.store.Delete(ctx, uploadID); err != nil {
		return err
	}
	m.store.ReleaseTarget(ctx, sess.TargetPath)
	m.locks.Delete(uploadID)

	tempDir := sess.TempDir
	go func() {
		if err := os.RemoveAll(tempDir); err != nil {
			m.log.WithField("upload_id", uploadID).Warnf("staging cleanup failed: %v", err)
		}
	}()

	m.log.WithField("upload_id", uploadID).Info("upload cancelled")
	return nil
}

// Status returns a read-only snapshot, safe in any state and lock-free.
func (m *Manager) Status(ctx context.Context, uploadID, userID string) (*StatusResult, error) {
	sess, err := m.loadOwned(ctx, uploadID, userID)
	if err != nil {
		return nil, err
	}
	return &StatusResult{
		UploadID:         sess.UploadID,
		Status:           sess.Status,
		Progress:         sess.Progress(),
		TotalBytes:       sess.FileSize,
		BytesTransferred: sess.BytesTransferred,
	}, nil
}

// ListActive returns snapshots of the caller's non-terminal sessions.
func (m *Manager) ListActive(ctx context.Context, userID string) ([]*StatusResult, error) {
	ids, err := m.store.ListIDs(ctx)
	if err != nil {
		return nil, err
	}

	var results []*StatusResult
	for _, id := range ids {
		sess, err := m.store.Get(ctx, id)
		if err != nil {
			continue // evicted between scan and load
		}
		if sess.UserID != userID || sess.Status.Terminal() {
			continue
		}
		results = append(results, &StatusResult{
			UploadID:         sess.UploadID,
			Status:           sess.Status,
			Progress:         sess.Progress(),
			TotalBytes:       sess.FileSize,
			BytesTransferred: sess.BytesTransferred,
		})
	}
	return results, nil
}

// Recover resumes interrupted finalizations after a restart. Sessions left
// in finalizing re-run the assembler, which skips whatever already landed
// in the target.
func (m *Manager) Recover(ctx context.Context) {
	ids, err := m.store.ListIDs(ctx)
	if err != nil {
		m.log.Errorf("recovery scan failed: %v", err)
		return
	}
	for _, id := range ids {
		sess, err := m.store.Get(ctx, id)
		if err != nil || sess.Status != StatusFinalizing {
			continue
		}
		m.log.WithField("upload_id", id).Info("resuming interrupted finalization")
		if err := m.finalize(ctx, sess); err != nil {
			m.log.WithField("upload_id", id).Errorf("recovery finalization failed: %v", err)
		}
	}
}
