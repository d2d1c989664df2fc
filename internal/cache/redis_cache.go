package cache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"timbangpos/backend/internal/domain"
)

type RedisReportCache struct {
	client *redis.Client
}

func NewRedisReportCache(addr string, password string, db int) *RedisReportCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisReportCache{client: client}
}

func (c *RedisReportCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisReportCache) Close() error {
	return c.client.Close()
}

func (c *RedisReportCache) GetDebtors(ctx context.Context, key string) (*domain.DebtorsReport, bool, error) {
	var report domain.DebtorsReport
	ok, err := c.get(ctx, key, &report)
	if !ok || err != nil {
		return nil, false, err
	}
	return &report, true, nil
}

func (c *RedisReportCache) SetDebtors(ctx context.Context, key string, value *domain.DebtorsReport, ttl time.Duration) error {
	return c.set(ctx, key, value, ttl)
}

func (c *RedisReportCache) GetPaymentSummary(ctx context.Context, key string) (*domain.PaymentSummary, bool, error) {
	var summary domain.PaymentSummary
	ok, err := c.get(ctx, key, &summary)
	if !ok || err != nil {
		return nil, false, err
	}
	return &summary, true, nil
}

func (c *RedisReportCache) SetPaymentSummary(ctx context.Context, key string, value *domain.PaymentSummary, ttl time.Duration) error {
	return c.set(ctx, key, value, ttl)
}

func (c *RedisReportCache) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

func (c *RedisReportCache) get(ctx context.Context, key string, out any) (bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(val), out); err != nil {
		return false, err
	}
	return true, nil
}

func (c *RedisReportCache) set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, ttl).Err()
}
