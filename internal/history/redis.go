package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"marketviews/internal/models"
)

// RedisStore keeps bars in Redis.
//
// Layout per feed and timeframe:
// - bars:{feed}:{tf}      hash, field = bar id, value = bar JSON
// - bars:{feed}:{tf}:ids  sorted set of bar ids scored by id
type RedisStore struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisStore creates a history store on an existing client.
func NewRedisStore(client *redis.Client, logger *slog.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		logger: logger.With("component", "history_store"),
	}
}

// Dial parses redisURL, verifies the connection and returns a client.
func Dial(redisURL, redisPassword string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if redisPassword != "" {
		opt.Password = redisPassword
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

func barsKey(feed, timeFrame string) string {
	return fmt.Sprintf("bars:%s:%s", feed, timeFrame)
}

func idsKey(feed, timeFrame string) string {
	return barsKey(feed, timeFrame) + ":ids"
}

// OpenBar implements Provider.
func (s *RedisStore) OpenBar(ctx context.Context, feed, timeFrame string) (models.OHLCBar, bool, error) {
	bars, err := s.Bars(ctx, feed, timeFrame, 1)
	if err != nil {
		return models.OHLCBar{}, false, err
	}
	if len(bars) == 0 || bars[0].Closed {
		return models.OHLCBar{}, false, nil
	}
	return bars[0], true, nil
}

// AddBar implements Provider.
func (s *RedisStore) AddBar(ctx context.Context, feed, timeFrame string, bar models.OHLCBar) error {
	return s.upsert(ctx, feed, timeFrame, bar, "bar_added")
}

// ReplaceBar implements Provider.
func (s *RedisStore) ReplaceBar(ctx context.Context, feed, timeFrame string, bar models.OHLCBar) error {
	return s.upsert(ctx, feed, timeFrame, bar, "bar_replaced")
}

func (s *RedisStore) upsert(ctx context.Context, feed, timeFrame string, bar models.OHLCBar, event string) error {
	jsonBytes, err := json.Marshal(bar)
	if err != nil {
		return fmt.Errorf("json marshal failed: %w", err)
	}

	id := strconv.FormatInt(bar.ID, 10)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, barsKey(feed, timeFrame), id, jsonBytes)
		pipe.ZAdd(ctx, idsKey(feed, timeFrame), redis.Z{Score: float64(bar.ID), Member: id})
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis bar upsert failed: %w", err)
	}

	s.logger.Debug(event,
		"feed", feed,
		"time_frame", timeFrame,
		"bar_id", bar.ID,
		"closed", bar.Closed,
	)
	return nil
}

// Bars implements Provider.
func (s *RedisStore) Bars(ctx context.Context, feed, timeFrame string, depth int) ([]models.OHLCBar, error) {
	stop := int64(-1)
	if depth > 0 {
		stop = int64(depth) - 1
	}

	ids, err := s.client.ZRevRange(ctx, idsKey(feed, timeFrame), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("redis ZREVRANGE failed: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	values, err := s.client.HMGet(ctx, barsKey(feed, timeFrame), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis HMGET failed: %w", err)
	}

	out := make([]models.OHLCBar, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			s.logger.Warn("bar_missing", "feed", feed, "time_frame", timeFrame, "bar_id", ids[i])
			continue
		}
		var bar models.OHLCBar
		if err := json.Unmarshal([]byte(raw), &bar); err != nil {
			return nil, fmt.Errorf("json unmarshal bar %s failed: %w", ids[i], err)
		}
		out = append(out, bar)
	}
	return out, nil
}
