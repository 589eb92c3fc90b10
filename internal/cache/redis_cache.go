package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"boxoffice/backend/internal/domain"
)

type RedisSeatCache struct {
	client *redis.Client
}

func NewRedisSeatCache(addr string, password string, db int) *RedisSeatCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisSeatCache{client: client}
}

func (c *RedisSeatCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisSeatCache) Close() error {
	return c.client.Close()
}

func seatKey(showID int64) string {
	return fmt.Sprintf("seats:%d", showID)
}

func (c *RedisSeatCache) Get(ctx context.Context, showID int64) ([]domain.SeatView, bool, error) {
	val, err := c.client.Get(ctx, seatKey(showID)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var seats []domain.SeatView
	if err := json.Unmarshal([]byte(val), &seats); err != nil {
		return nil, false, err
	}
	return seats, true, nil
}

func (c *RedisSeatCache) Set(ctx context.Context, showID int64, seats []domain.SeatView, ttl time.Duration) error {
	if seats == nil {
		return nil
	}
	payload, err := json.Marshal(seats)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, seatKey(showID), payload, ttl).Err()
}

func (c *RedisSeatCache) Invalidate(ctx context.Context, showID int64) error {
	return c.client.Del(ctx, seatKey(showID)).Err()
}
