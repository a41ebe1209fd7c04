package storage

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-rewards/internal/models"
	"github.com/example/ride-rewards/internal/rewards"
)

// RedisCmds is the subset of the redis client used by the replay set.
type RedisCmds interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisReplaySet uses SETNX so every process sharing the redis instance sees
// the same consumed ids. A non-zero retention expires ids after that window;
// ids are never re-accepted within it.
type RedisReplaySet struct {
	client    RedisCmds
	prefix    string
	retention time.Duration
}

func NewRedisReplaySet(client RedisCmds, prefix string, retention time.Duration) *RedisReplaySet {
	if prefix == "" {
		prefix = "replay:"
	}
	return &RedisReplaySet{client: client, prefix: prefix, retention: retention}
}

func (r *RedisReplaySet) key(id models.TxID) string { return r.prefix + id.Hex() }

func (r *RedisReplaySet) Consume(ctx context.Context, id models.TxID) error {
	ok, err := r.client.SetNX(ctx, r.key(id), time.Now().Unix(), r.retention).Result()
	if err != nil {
		return err
	}
	if !ok {
		return rewards.ErrDuplicateTransactionID
	}
	return nil
}

func (r *RedisReplaySet) Release(ctx context.Context, id models.TxID) error {
	return r.client.Del(ctx, r.key(id)).Err()
}

func (r *RedisReplaySet) Contains(ctx context.Context, id models.TxID) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(id)).Result()
	return n > 0, err
}
