package cache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"storeledger/backend/internal/domain"
)

// ResultStore is the shared second tier behind ResultCache. It is keyed by
// the global fingerprint so every process computing the same inputs agrees.
type ResultStore interface {
	Get(ctx context.Context, fingerprint string) (*domain.StoreResults, bool, error)
	Set(ctx context.Context, fingerprint string, value *domain.StoreResults, ttl time.Duration) error
	Clear(ctx context.Context) error
}

type NoopResultStore struct{}

func (NoopResultStore) Get(_ context.Context, _ string) (*domain.StoreResults, bool, error) {
	return nil, false, nil
}

func (NoopResultStore) Set(_ context.Context, _ string, _ *domain.StoreResults, _ time.Duration) error {
	return nil
}

func (NoopResultStore) Clear(_ context.Context) error {
	return nil
}

const redisKeyPrefix = "storeledger:results:"

type RedisResultStore struct {
	client *redis.Client
}

func NewRedisResultStore(addr string, password string, db int) *RedisResultStore {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisResultStore{client: client}
}

func NewRedisResultStoreFromClient(client *redis.Client) *RedisResultStore {
	return &RedisResultStore{client: client}
}

func (c *RedisResultStore) Client() *redis.Client {
	return c.client
}

func (c *RedisResultStore) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisResultStore) Close() error {
	return c.client.Close()
}

func RedisKey(fingerprint string) string {
	return redisKeyPrefix + Digest(fingerprint)
}

func (c *RedisResultStore) Get(ctx context.Context, fingerprint string) (*domain.StoreResults, bool, error) {
	val, err := c.client.Get(ctx, RedisKey(fingerprint)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var resp domain.StoreResults
	if err := json.Unmarshal([]byte(val), &resp); err != nil {
		return nil, false, err
	}
	return &resp, true, nil
}

func (c *RedisResultStore) Set(ctx context.Context, fingerprint string, value *domain.StoreResults, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, RedisKey(fingerprint), payload, ttl).Err()
}

// Clear removes every result key written by this store.
func (c *RedisResultStore) Clear(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, redisKeyPrefix+"*", 200).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}
