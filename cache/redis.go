package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisTimeout = 5 * time.Second

// RedisCache stores each generation as a Redis hash of key to bytes.
// The generation names are tracked in a set so they can be enumerated.
type RedisCache struct {
	redis     *redis.Client
	namespace string
}

// NewRedisCache creates a provider on top of an existing client.
// All Redis keys are prefixed with the namespace.
func NewRedisCache(redisClient *redis.Client, namespace string) RedisCache {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return RedisCache{
		redis:     redisClient,
		namespace: namespace,
	}
}

func (r RedisCache) generationKey(generation string) string {
	return r.namespace + ":gen:" + generation
}

func (r RedisCache) setKey() string {
	return r.namespace + ":generations"
}

func ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), redisTimeout)
}

func (r RedisCache) Get(generation, key string) ([]byte, bool, error) {
	c, cancel := ctx()
	defer cancel()
	data, err := r.redis.HGet(c, r.generationKey(generation), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis hget: %w", err)
	}
	return data, true, nil
}

func (r RedisCache) Put(generation, key string, bytes []byte) error {
	c, cancel := ctx()
	defer cancel()
	_, err := r.redis.TxPipelined(c, func(pipe redis.Pipeliner) error {
		pipe.SAdd(c, r.setKey(), generation)
		pipe.HSet(c, r.generationKey(generation), key, bytes)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis hset: %w", err)
	}
	return nil
}

func (r RedisCache) Has(generation, key string) bool {
	c, cancel := ctx()
	defer cancel()
	ok, err := r.redis.HExists(c, r.generationKey(generation), key).Result()
	return err == nil && ok
}

func (r RedisCache) Purge(generation, key string) error {
	c, cancel := ctx()
	defer cancel()
	if err := r.redis.HDel(c, r.generationKey(generation), key).Err(); err != nil {
		return fmt.Errorf("redis hdel: %w", err)
	}
	return nil
}

func (r RedisCache) Delete(generation string) error {
	c, cancel := ctx()
	defer cancel()
	_, err := r.redis.TxPipelined(c, func(pipe redis.Pipeliner) error {
		pipe.Del(c, r.generationKey(generation))
		pipe.SRem(c, r.setKey(), generation)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (r RedisCache) Generations() ([]string, error) {
	c, cancel := ctx()
	defer cancel()
	names, err := r.redis.SMembers(c, r.setKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

func (r RedisCache) Close() error {
	return r.redis.Close()
}
