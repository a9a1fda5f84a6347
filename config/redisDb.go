package config

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisConnectAttempts = 5

// RedisBlobStore keeps the serialized database under a plain redis key with no expiry.
type RedisBlobStore struct {
	rdb *redis.Client
}

// ConnectRedisBlobStore connects with backoff and gives up after a few attempts.
func ConnectRedisBlobStore(ctx context.Context, redisAddr string) (*RedisBlobStore, error) {
	if redisAddr == "" {
		redisAddr = "localhost:6379"
		log.Printf("redis address not set; defaulting to %s", redisAddr)
	}

	var lastErr error
	for attempt := 1; attempt <= redisConnectAttempts; attempt++ {
		rdb := redis.NewClient(&redis.Options{
			Addr:     redisAddr,
			Password: "",
			DB:       0, // use default DB
		})
		err := rdb.Ping(ctx).Err()
		if err == nil {
			log.Printf("connected to redis (attempt=%d addr=%s)", attempt, redisAddr)
			return NewRedisBlobStore(rdb), nil
		}
		_ = rdb.Close()
		lastErr = err

		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		log.Printf("failed to connect redis (attempt=%d addr=%s): %v; retrying in %s", attempt, redisAddr, err, sleep)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sleep):
		}
	}
	return nil, fmt.Errorf("connect redis %s: %w", redisAddr, lastErr)
}

func NewRedisBlobStore(rdb *redis.Client) *RedisBlobStore {
	return &RedisBlobStore{rdb: rdb}
}

func (r *RedisBlobStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (r *RedisBlobStore) Put(ctx context.Context, key string, value []byte) error {
	return r.rdb.Set(ctx, key, value, 0).Err()
}

func (r *RedisBlobStore) Delete(ctx context.Context, key string) error {
	return r.rdb.Del(ctx, key).Err()
}

func (r *RedisBlobStore) Close() error {
	return r.rdb.Close()
}
