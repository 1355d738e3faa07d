package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// AttemptSession points a (user, exam) pair at its in-progress submission.
type AttemptSession struct {
	SubmissionID uint      `json:"submission_id"`
	StartTime    time.Time `json:"start_time"`
}

// SessionStore keeps attempt associations server side, keyed by the
// authenticated user, so nothing the client sends is trusted for timing.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSessionStore(c *RedisCache, ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &SessionStore{client: c.client, ttl: ttl}
}

func sessionKey(userID, examID uint) string {
	return fmt.Sprintf("attempt:%d:%d", userID, examID)
}

func (s *SessionStore) Set(ctx context.Context, userID, examID uint, sess AttemptSession) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, sessionKey(userID, examID), data, s.ttl).Err()
}

// Get returns nil, nil when no association exists.
func (s *SessionStore) Get(ctx context.Context, userID, examID uint) (*AttemptSession, error) {
	data, err := s.client.Get(ctx, sessionKey(userID, examID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var sess AttemptSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *SessionStore) Clear(ctx context.Context, userID, examID uint) error {
	return s.client.Del(ctx, sessionKey(userID, examID)).Err()
}
