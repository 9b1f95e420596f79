package attendance

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/chamada/internal/logging"
	"github.com/example/chamada/internal/retry"
)

// RedisStore keeps each presence set in a Redis hash of student ID to mark
// time. HSETNX gives the idempotent insert across service instances.
type RedisStore struct {
	client redis.Cmdable
	ttl    time.Duration
	logger *zap.Logger
	policy retry.Policy
}

// NewRedisStore creates a store whose keys expire ttl after the last mark.
func NewRedisStore(client redis.Cmdable, ttl time.Duration, logger *zap.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		ttl:    ttl,
		logger: logger.Named("presence_store"),
		policy: retry.DefaultPolicy,
	}
}

func presenceKey(sessionID string) string {
	return fmt.Sprintf("attendance:%s:present", sessionID)
}

func (s *RedisStore) Mark(ctx context.Context, sessionID string, studentID uint, at time.Time) (bool, error) {
	key := presenceKey(sessionID)
	field := strconv.FormatUint(uint64(studentID), 10)
	var added bool
	err := retry.Do(ctx, s.logger, s.policy, "attendance.redis.mark", logging.RequestIDFromContext(ctx), func() error {
		pipe := s.client.TxPipeline()
		setCmd := pipe.HSetNX(ctx, key, field, at.UTC().Format(time.RFC3339Nano))
		pipe.Expire(ctx, key, s.ttl)
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
		added = setCmd.Val()
		return nil
	})
	return added, err
}

func (s *RedisStore) Marks(ctx context.Context, sessionID string) ([]Mark, error) {
	var raw map[string]string
	err := retry.Do(ctx, s.logger, s.policy, "attendance.redis.marks", logging.RequestIDFromContext(ctx), func() error {
		var err error
		raw, err = s.client.HGetAll(ctx, presenceKey(sessionID)).Result()
		return err
	})
	if err != nil {
		return nil, err
	}

	marks := make([]Mark, 0, len(raw))
	for field, value := range raw {
		id, err := strconv.ParseUint(field, 10, 64)
		if err != nil {
			s.logger.Warn("ignoring malformed presence entry", zap.String("session_id", sessionID), zap.String("field", field))
			continue
		}
		at, err := time.Parse(time.RFC3339Nano, value)
		if err != nil {
			s.logger.Warn("ignoring malformed presence time", zap.String("session_id", sessionID), zap.String("value", value))
			continue
		}
		marks = append(marks, Mark{StudentID: uint(id), MarkedAt: at})
	}
	sortMarks(marks)
	return marks, nil
}

func (s *RedisStore) Clear(ctx context.Context, sessionID string) error {
	return retry.Do(ctx, s.logger, s.policy, "attendance.redis.clear", logging.RequestIDFromContext(ctx), func() error {
		return s.client.Del(ctx, presenceKey(sessionID)).Err()
	})
}
