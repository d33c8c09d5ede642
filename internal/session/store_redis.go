package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/homedesign/portal-gateway/internal/domain"
)

const (
	fieldToken = "token"
	fieldUser  = "user"
)

// RedisStore keeps each session in one hash so the credential and the user
// record expire and disappear as a unit.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "portal_session"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Get(ctx context.Context, sid string) (*Record, error) {
	fields, err := s.client.HGetAll(ctx, s.key(sid)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis session get: %w", err)
	}
	if len(fields) == 0 {
		return nil, domain.ErrSessionNotFound
	}
	return &Record{Token: fields[fieldToken], User: []byte(fields[fieldUser])}, nil
}

func (s *RedisStore) Put(ctx context.Context, sid string, rec Record, ttl time.Duration) error {
	key := s.key(sid)
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, fieldToken, rec.Token, fieldUser, string(rec.User))
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis session put: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, sid string) error {
	if err := s.client.Del(ctx, s.key(sid)).Err(); err != nil {
		return fmt.Errorf("redis session delete: %w", err)
	}
	return nil
}

func (s *RedisStore) key(sid string) string {
	return fmt.Sprintf("%s:%s", s.prefix, sid)
}
