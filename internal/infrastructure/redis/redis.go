package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/lingkarclub/access-engine/internal/domain"
)

type Cache struct {
	Client *redis.Client
}

func New(addr, pass string, db int) *Cache {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr, Password: pass, DB: db,
	})
	return &Cache{Client: rdb}
}

// GetGatheringCapacity reads the cached capacity snapshot. A value of -1
// marks a closed gathering; a miss means the caller must fall back to the
// database.
func (c *Cache) GetGatheringCapacity(ctx context.Context, gatheringID uuid.UUID) (int, error) {
	val, err := c.Client.Get(ctx, "gathering:cap:"+gatheringID.String()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, domain.ErrCacheMiss
		}
		return 0, err
	}
	return strconv.Atoi(val)
}

func (c *Cache) SetGatheringCapacity(ctx context.Context, gatheringID uuid.UUID, capacity int) error {
	return c.Client.Set(ctx, "gathering:cap:"+gatheringID.String(), capacity, 24*time.Hour).Err()
}

// AllowRequest: simple fixed window rate limit
func (c *Cache) AllowRequest(ctx context.Context, ip string, limit int, window time.Duration) (bool, error) {
	key := "ratelimit:" + ip
	count, err := c.Client.Incr(ctx, key).Result()
	if err != nil {
		return true, nil // fail open
	}
	if count == 1 {
		_ = c.Client.Expire(ctx, key, window).Err()
	}
	return count <= int64(limit), nil
}
