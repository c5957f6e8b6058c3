// Package presence bridges the orchestration layer to the shared cache the
// room CRUD service reads: room existence plus a live participant counter,
// both under a TTL the issuing service controls.
package presence

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/velored/meetmedia/internal/domain"
)

// redisAPI is the slice of the redis client the store needs. *redis.Client
// satisfies it; tests substitute a scripted fake.
type redisAPI interface {
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
	Decr(ctx context.Context, key string) *redis.IntCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// RedisStore implements the presence contract over the shared redis.
type RedisStore struct {
	rc redisAPI
}

func NewRedisStore(rc *redis.Client) *RedisStore {
	return &RedisStore{rc: rc}
}

func roomKey(code domain.RoomCode) string {
	return "room:" + string(code)
}

func counterKey(code domain.RoomCode) string {
	return "room:" + string(code) + ":participants"
}

// Exists reports whether the room code is known and not yet expired.
func (s *RedisStore) Exists(ctx context.Context, code domain.RoomCode) (bool, error) {
	n, err := s.rc.Exists(ctx, roomKey(code)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisStore) Increment(ctx context.Context, code domain.RoomCode) (int, error) {
	v, err := s.rc.Incr(ctx, counterKey(code)).Result()
	if err != nil {
		return 0, err
	}
	return int(v), nil
}

// Decrement never reports below zero. A negative value means the stored
// counter drifted (e.g. the key expired and was recreated); it is clamped
// and the store corrected, keeping whatever TTL the issuing service set.
func (s *RedisStore) Decrement(ctx context.Context, code domain.RoomCode) (int, error) {
	v, err := s.rc.Decr(ctx, counterKey(code)).Result()
	if err != nil {
		return 0, err
	}
	if v < 0 {
		if err := s.rc.Set(ctx, counterKey(code), 0, redis.KeepTTL).Err(); err != nil {
			log.Warn().Str("module", "presence").Str("room", string(code)).Err(err).Msg("failed to clamp counter")
		}
		return 0, nil
	}
	return int(v), nil
}

func (s *RedisStore) SetCount(ctx context.Context, code domain.RoomCode, n int) error {
	return s.rc.Set(ctx, counterKey(code), n, redis.KeepTTL).Err()
}
