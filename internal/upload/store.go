package upload

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix = "upload:"
	targetKeyPrefix  = "upload:target:"
)

// Store is the durable, TTL-backed persistence contract for session records.
// It is the sole source of truth across restarts; anything held in process
// memory is a disposable snapshot over it.
type Store interface {
	// Create persists a new session; it fails if the id is already taken.
	Create(ctx context.Context, s *Session) error
	// Get loads a session or returns a NotFound coded error.
	Get(ctx context.Context, uploadID string) (*Session, error)
	// Save overwrites the record idempotently and refreshes its TTL.
	Save(ctx context.Context, s *Session) error
	// Delete removes the record; deleting a missing record is not an error.
	Delete(ctx context.Context, uploadID string) error
	// ListIDs returns the ids of all persisted sessions.
	ListIDs(ctx context.Context) ([]string, error)

	// ReserveTarget claims a destination path for the session's lifetime.
	// It returns false when another live session already holds the path.
	ReserveTarget(ctx context.Context, path, uploadID string) (bool, error)
	// ReleaseTarget frees a claimed destination path.
	ReleaseTarget(ctx context.Context, path string) error
}

// RedisStore keeps one hash per session under upload:<id> with a TTL, the
// received set encoded as a base64 bitmap.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func sessionKey(uploadID string) string {
	return sessionKeyPrefix + uploadID
}

func targetKey(path string) string {
	sum := sha1.Sum([]byte(path))
	return targetKeyPrefix + hex.EncodeToString(sum[:])
}

func (s *RedisStore) Create(ctx context.Context, sess *Session) error {
	key := sessionKey(sess.UploadID)
	exists, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("session exists check: %w", err)
	}
	if exists > 0 {
		return newError(CodeInvalidRequest, "upload id %s already in use", sess.UploadID)
	}
	return s.Save(ctx, sess)
}

func (s *RedisStore) Save(ctx context.Context, sess *Session) error {
	fields := map[string]interface{}{
		"user_id":           sess.UserID,
		"file_name":         sess.FileName,
		"file_size":         sess.FileSize,
		"chunk_size":        sess.ChunkSize,
		"total_chunks":      sess.TotalChunks,
		"relative_path":     sess.RelativePath,
		"target_path":       sess.TargetPath,
		"temp_dir":          sess.TempDir,
		"mode":              string(sess.Mode),
		"received_offset":   sess.ReceivedOffset,
		"status":            string(sess.Status),
		"created_at":        sess.CreatedAt.UTC().Format(time.RFC3339Nano),
		"last_activity_at":  sess.LastActivityAt.UTC().Format(time.RFC3339Nano),
		"bytes_transferred": sess.BytesTransferred,
	}
	if sess.Received != nil {
		fields["received"] = sess.Received.Encode()
	}

	key := sessionKey(sess.UploadID)
	if err := s.rdb.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("save session %s: %w", sess.UploadID, err)
	}
	if err := s.rdb.Expire(ctx, key, s.ttl).Err(); err != nil {
		return fmt.Errorf("refresh session ttl %s: %w", sess.UploadID, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, uploadID string) (*Session, error) {
	data, err := s.rdb.HGetAll(ctx, sessionKey(uploadID)).Result()
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", uploadID, err)
	}
	if len(data) == 0 {
		return nil, newError(CodeNotFound, "upload %s not found", uploadID)
	}
	return sessionFromFields(uploadID, data)
}

func sessionFromFields(uploadID string, data map[string]string) (*Session, error) {
	status, err := ParseStatus(data["status"])
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", uploadID, err)
	}

	sess := &Session{
		UploadID:     uploadID,
		UserID:       data["user_id"],
		FileName:     data["file_name"],
		RelativePath: data["relative_path"],
		TargetPath:   data["target_path"],
		TempDir:      data["temp_dir"],
		Mode:         Mode(data["mode"]),
		Status:       status,
	}
	if sess.Mode != ModeChunked && sess.Mode != ModeStream {
		return nil, fmt.Errorf("session %s: invalid mode %q", uploadID, data["mode"])
	}

	intFields := map[string]*int64{
		"file_size":         &sess.FileSize,
		"chunk_size":        &sess.ChunkSize,
		"total_chunks":      &sess.TotalChunks,
		"received_offset":   &sess.ReceivedOffset,
		"bytes_transferred": &sess.BytesTransferred,
	}
	for name, dst := range intFields {
		if raw, ok := data[name]; ok && raw != "" {
			v, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("session %s: invalid %s: %w", uploadID, name, err)
			}
			*dst = v
		}
	}

	for name, dst := range map[string]*time.Time{
		"created_at":       &sess.CreatedAt,
		"last_activity_at": &sess.LastActivityAt,
	} {
		if raw, ok := data[name]; ok && raw != "" {
			t, err := time.Parse(time.RFC3339Nano, raw)
			if err != nil {
				return nil, fmt.Errorf("session %s: invalid %s: %w", uploadID, name, err)
			}
			*dst = t
		}
	}

	if sess.Mode == ModeChunked {
		sess.Received, err = DecodeBitset(data["received"], sess.TotalChunks)
		if err != nil {
			return nil, fmt.Errorf("session %s: invalid received set: %w", uploadID, err)
		}
	}

	return sess, nil
}

func (s *RedisStore) Delete(ctx context.Context, uploadID string) error {
	return s.rdb.Del(ctx, sessionKey(uploadID)).Err()
}

func (s *RedisStore) ListIDs(ctx context.Context) ([]string, error) {
	var ids []string
	iter := s.rdb.Scan(ctx, 0, sessionKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if strings.HasPrefix(key, targetKeyPrefix) {
			continue
		}
		ids = append(ids, strings.TrimPrefix(key, sessionKeyPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan sessions: %w", err)
	}
	return ids, nil
}

func (s *RedisStore) ReserveTarget(ctx context.Context, path, uploadID string) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, targetKey(path), uploadID, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("reserve target: %w", err)
	}
	return ok, nil
}

func (s *RedisStore) ReleaseTarget(ctx context.Context, path string) error {
	return s.rdb.Del(ctx, targetKey(path)).Err()
}
