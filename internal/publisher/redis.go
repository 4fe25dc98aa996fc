package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher stores the latest product per code and content type in Redis
// and announces it on a pub/sub channel.
//
// Keys:
// - product:{code}:{content_type}  latest product JSON, expires after ttl
// - products:{code}                channel receiving every emission
type RedisPublisher struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisPublisher creates a product publisher on an existing client.
func NewRedisPublisher(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisPublisher {
	return &RedisPublisher{
		client: client,
		ttl:    ttl,
		logger: logger.With("component", "redis_publisher"),
	}
}

// ProductKey is the cache key holding the latest product of code and contentType.
func ProductKey(code, contentType string) string {
	return fmt.Sprintf("product:%s:%s", code, contentType)
}

// Channel is the pub/sub channel products of code are announced on.
func Channel(code string) string {
	return "products:" + code
}

// Publish stores p under its product key with TTL and publishes it.
func (r *RedisPublisher) Publish(ctx context.Context, p Product) error {
	startTime := time.Now()

	jsonBytes, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("json marshal failed: %w", err)
	}

	cacheKey := ProductKey(p.Code, p.ContentType)

	_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, cacheKey, jsonBytes, r.ttl)
		pipe.Publish(ctx, Channel(p.Code), jsonBytes)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis publish failed: %w", err)
	}

	r.logger.Debug("product_published",
		"code", p.Code,
		"content_type", p.ContentType,
		"cache_key", cacheKey,
		"ttl_sec", r.ttl.Seconds(),
		"size_bytes", len(jsonBytes),
		"latency_ms", time.Since(startTime).Milliseconds(),
	)
	return nil
}

// Latest reads back the cached product of code and contentType.
func (r *RedisPublisher) Latest(ctx context.Context, code, contentType string) (Product, bool, error) {
	raw, err := r.client.Get(ctx, ProductKey(code, contentType)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Product{}, false, nil
	}
	if err != nil {
		return Product{}, false, fmt.Errorf("redis GET failed: %w", err)
	}
	var p Product
	if err := json.Unmarshal(raw, &p); err != nil {
		return Product{}, false, fmt.Errorf("json unmarshal failed: %w", err)
	}
	return p, true, nil
}
