package handshakerepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	autherrors "github.com/jrsteele09/wastekonnect-admin/internal/errors"
	"github.com/redis/go-redis/v9"
)

var _ Repo = (*RedisRepo)(nil)

const redisTimeout = 2 * time.Second

// RedisRepo keeps pending handshakes in Redis so any console process can
// complete a sign-in another one started. Expiry is the key TTL.
type RedisRepo struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisRepo(client *redis.Client, prefix string, ttl time.Duration) *RedisRepo {
	if prefix == "" {
		prefix = "wk:handshake"
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisRepo{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisRepo) key(state string) string {
	return r.prefix + ":" + state
}

func (r *RedisRepo) Upsert(state string, pending *PendingHandshake) error {
	if state == "" {
		return autherrors.ErrEmptyState
	}
	if pending == nil {
		return errors.New("pending handshake cannot be nil")
	}
	payload, err := json.Marshal(pending)
	if err != nil {
		return autherrors.Wrapf(err, "[RedisRepo Upsert] encode %s", state)
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()
	if err := r.client.Set(ctx, r.key(state), payload, r.ttl).Err(); err != nil {
		return fmt.Errorf("[RedisRepo Upsert] %w", err)
	}
	return nil
}

// Take reads and deletes the handshake with GETDEL.
func (r *RedisRepo) Take(state string) (*PendingHandshake, error) {
	if state == "" {
		return nil, autherrors.ErrEmptyState
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()
	payload, err := r.client.GetDel(ctx, r.key(state)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, autherrors.ErrHandshakeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("[RedisRepo Take] %w", err)
	}

	var pending PendingHandshake
	if err := json.Unmarshal(payload, &pending); err != nil {
		return nil, autherrors.Wrapf(err, "[RedisRepo Take] decode %s", state)
	}
	return &pending, nil
}

func (r *RedisRepo) Delete(state string) error {
	if state == "" {
		return autherrors.ErrEmptyState
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()
	if err := r.client.Del(ctx, r.key(state)).Err(); err != nil {
		return fmt.Errorf("[RedisRepo Delete] %w", err)
	}
	return nil
}
