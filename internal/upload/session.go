package upload

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of an upload session.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusUploading    Status = "uploading"
	StatusPaused       Status = "paused"
	StatusFinalizing   Status = "finalizing"
	StatusCompleted    Status = "completed"
	StatusError        Status = "error"
	StatusCancelled    Status = "cancelled"
)

// ParseStatus validates a status string loaded from the store.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusInitializing, StatusUploading, StatusPaused,
		StatusFinalizing, StatusCompleted, StatusError, StatusCancelled:
		return Status(s), nil
	}
	return "", fmt.Errorf("invalid session status %q", s)
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusCancelled
}

// Mode selects the transport variant for a session.
type Mode string

const (
	// ModeChunked accepts fixed-size indexed chunks in any order.
	ModeChunked Mode = "chunked"
	// ModeStream accepts byte segments strictly in offset order.
	ModeStream Mode = "stream"
)

// Session is the tracked state of one upload attempt. The session store is
// the only authority for it; in-process copies are snapshots.
type Session struct {
	UploadID     string
	UserID       string
	FileName     string
	FileSize     int64
	ChunkSize    int64
	TotalChunks  int64
	RelativePath string
	TargetPath   string
	TempDir      string
	Mode         Mode

	// Received tracks chunk indices in chunked mode.
	Received *Bitset
	// ReceivedOffset is the contiguous byte count in stream mode.
	ReceivedOffset int64

	Status           Status
	CreatedAt        time.Time
	LastActivityAt   time.Time
	BytesTransferred int64
}

// Complete reports whether every byte of the file has been staged.
func (s *Session) Complete() bool {
	if s.Mode == ModeStream {
		return s.ReceivedOffset == s.FileSize
	}
	return s.Received != nil && s.Received.Full()
}

// Progress returns completion in percent, 0..100.
func (s *Session) Progress() float64 {
	if s.FileSize == 0 {
		return 100
	}
	p := float64(s.BytesTransferred) / float64(s.FileSize) * 100
	if p > 100 {
		p = 100
	}
	return p
}

// Touch advances the activity clock; it never rewinds.
func (s *Session) Touch(now time.Time) {
	if now.After(s.LastActivityAt) {
		s.LastActivityAt = now
	}
}

// ChunkPayloadSize returns the exact byte count expected for a chunk index.
// Every chunk is ChunkSize long except the final one, which carries the
// remainder.
func (s *Session) ChunkPayloadSize(index int64) int64 {
	if index == s.TotalChunks-1 {
		if rem := s.FileSize - index*s.ChunkSize; rem > 0 {
			return rem
		}
	}
	return s.ChunkSize
}
