package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"marketviews/internal/instrumentation"
	"marketviews/internal/models"
)

// EventHandler processes deserialized book events.
type EventHandler func(ctx context.Context, envelope *models.BookEventEnvelope, streamID string) error

// Consumer reads book events from Redis Streams using consumer groups.
// Messages are acknowledged only after the handler succeeded.
type Consumer struct {
	client        *redis.Client
	streamKey     string
	consumerGroup string
	consumerName  string
	blockTime     time.Duration
	batchSize     int64
	handler       EventHandler
	metrics       *instrumentation.Metrics
	logger        *slog.Logger
}

// Config holds consumer configuration.
type Config struct {
	StreamKey     string        // e.g., "books:events"
	ConsumerGroup string        // e.g., "marketviews"
	ConsumerName  string        // e.g., "marketviews-1"; a random name when empty
	BlockTime     time.Duration // How long to block waiting for messages
	BatchSize     int64         // Number of messages to read per batch
}

// New creates a Redis Streams consumer on client and ensures the consumer group exists.
func New(ctx context.Context, client *redis.Client, cfg Config, handler EventHandler, metrics *instrumentation.Metrics, logger *slog.Logger) (*Consumer, error) {
	if cfg.ConsumerName == "" {
		cfg.ConsumerName = "marketviews-" + uuid.NewString()[:8]
	}
	if cfg.BlockTime <= 0 {
		cfg.BlockTime = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}

	consumer := &Consumer{
		client:        client,
		streamKey:     cfg.StreamKey,
		consumerGroup: cfg.ConsumerGroup,
		consumerName:  cfg.ConsumerName,
		blockTime:     cfg.BlockTime,
		batchSize:     cfg.BatchSize,
		handler:       handler,
		metrics:       metrics,
		logger:        logger.With("component", "consumer", "stream_key", cfg.StreamKey),
	}

	// XGroupCreateMkStream creates the stream if missing
	err := client.XGroupCreateMkStream(ctx, cfg.StreamKey, cfg.ConsumerGroup, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	consumer.logger.Info("consumer_initialized",
		"consumer_group", cfg.ConsumerGroup,
		"consumer_name", cfg.ConsumerName,
	)

	return consumer, nil
}

// Start begins consuming messages from the stream.
// Blocks until context is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer_starting")

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("consumer_stopping")
			return ctx.Err()
		default:
			if _, err := c.Poll(ctx); err != nil {
				if ctx.Err() != nil {
					continue
				}
				c.logger.Error("xreadgroup_failed", "error", err)
				c.metrics.RecordError("consumer", "xreadgroup")
				time.Sleep(1 * time.Second) // Back off on error
			}
		}
	}
}

// Poll reads one batch of new messages, handles them in stream order and
// acknowledges the ones handled successfully. It returns the number acknowledged.
func (c *Consumer) Poll(ctx context.Context) (int, error) {
	// ">" means read only new messages not yet delivered to this group
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.consumerGroup,
		Consumer: c.consumerName,
		Streams:  []string{c.streamKey, ">"},
		Count:    c.batchSize,
		Block:    c.blockTime,
		NoAck:    false, // We'll explicitly XACK after processing
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// No new messages
			return 0, nil
		}
		return 0, err
	}

	acked := 0
	for _, stream := range streams {
		for _, message := range stream.Messages {
			if err := c.processMessage(ctx, message); err != nil {
				c.logger.Error("message_processing_failed",
					"stream_id", message.ID,
					"error", err,
				)
				c.metrics.RecordError("consumer", "message")
				// Stays pending in the group until an operator claims it
				// (XPENDING, XCLAIM); Poll only reads new messages.
				continue
			}

			if err := c.client.XAck(ctx, c.streamKey, c.consumerGroup, message.ID).Err(); err != nil {
				c.logger.Error("xack_failed",
					"stream_id", message.ID,
					"error", err,
				)
				continue
			}
			acked++
			c.logger.Debug("message_acknowledged", "stream_id", message.ID)
		}
	}
	return acked, nil
}

// processMessage deserializes and processes a single message.
func (c *Consumer) processMessage(ctx context.Context, msg redis.XMessage) error {
	startTime := time.Now()

	// Message format is: {data: <json_bytes>}
	dataField, ok := msg.Values["data"]
	if !ok {
		return fmt.Errorf("message missing 'data' field")
	}

	jsonBytes, ok := dataField.(string)
	if !ok {
		return fmt.Errorf("data field is not a string")
	}

	var envelope models.BookEventEnvelope
	if err := json.Unmarshal([]byte(jsonBytes), &envelope); err != nil {
		return fmt.Errorf("json unmarshal failed: %w", err)
	}

	var lagMs int64
	if !envelope.TsEvent.IsZero() {
		lagMs = time.Since(envelope.TsEvent).Milliseconds()
		c.metrics.RecordStreamLag(float64(lagMs))
	}

	if err := c.handler(ctx, &envelope, msg.ID); err != nil {
		return fmt.Errorf("handler failed: %w", err)
	}

	c.logger.Debug("event_processed",
		"stream_id", msg.ID,
		"feed", envelope.Feed,
		"type", envelope.Type,
		"lag_ms", lagMs,
		"processing_ms", time.Since(startTime).Milliseconds(),
	)

	return nil
}
