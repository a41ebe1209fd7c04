package claims

import (
	"context"
	"errors"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-rewards/internal/models"
)

const DefaultCursorKey = "claims:cursor"

// RedisHash is the subset of the redis client used for cursors.
type RedisHash interface {
	HGet(ctx context.Context, key, field string) *redis.StringCmd
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

// RedisCursors keeps every cursor in one hash, field "<recipient>:<class>".
type RedisCursors struct {
	client RedisHash
	key    string
}

func NewRedisCursors(client RedisHash, key string) *RedisCursors {
	if key == "" {
		key = DefaultCursorKey
	}
	return &RedisCursors{client: client, key: key}
}

func cursorField(recipient models.Address, class models.VehicleClass) string {
	return recipient.String() + ":" + string(class)
}

func (c *RedisCursors) Get(ctx context.Context, recipient models.Address, class models.VehicleClass) (uint64, error) {
	v, err := c.client.HGet(ctx, c.key, cursorField(recipient, class)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(v, 10, 64)
}

func (c *RedisCursors) Set(ctx context.Context, recipient models.Address, class models.VehicleClass, meters uint64) error {
	return c.client.HSet(ctx, c.key, cursorField(recipient, class), strconv.FormatUint(meters, 10)).Err()
}
