// Package redisstream implements the durable event log on Redis Streams.
// One stream per event type, capped with MAXLEN, consumed through a single
// consumer group shared by all workers.
package redisstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	redis "github.com/redis/go-redis/v9"

	"github.com/loomery/loom/pkg/eventlog"
	"github.com/loomery/loom/pkg/models"
)

const eventField = "event"

// Config holds the broker and stream settings for the Redis-backed log.
type Config struct {
	Addr     string
	Password string
	DB       int

	// StreamPrefix is prepended to every event type to form the stream key.
	StreamPrefix string
	// Group is the consumer group shared by the worker pool.
	Group string
	// MaxLen caps each stream; oldest entries are trimmed past it.
	MaxLen int64
	// EventTypes are the streams this log consumes. Producers may append to
	// any type.
	EventTypes []string

	// Reconnect policy for transient broker errors.
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = "localhost:6379"
	}

	if c.StreamPrefix == "" {
		c.StreamPrefix = "loom:events"
	}

	if c.Group == "" {
		c.Group = "loom-workers"
	}

	if c.MaxLen <= 0 {
		c.MaxLen = 10000
	}

	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}

	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 100 * time.Millisecond
	}

	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Second
	}

	return c
}

// Log is a Redis Streams implementation of eventlog.Log.
type Log struct {
	client redis.UniversalClient
	config Config
	logger *slog.Logger
}

// NewLog connects to Redis and verifies the connection.
func NewLog(ctx context.Context, config Config, logger *slog.Logger) (*Log, error) {
	config = config.withDefaults()

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log := &Log{
		client: client,
		config: config,
		logger: logger.With("module", "eventlog", "addr", config.Addr),
	}

	log.logger.InfoContext(ctx, "Connected to Redis", "group", config.Group, "prefix", config.StreamPrefix)

	return log, nil
}

// Client exposes the underlying connection so other Redis-backed
// components can share the pool.
func (l *Log) Client() redis.UniversalClient {
	return l.client
}

func (l *Log) streamKey(eventType string) string {
	return l.config.StreamPrefix + ":" + eventType
}

// Append records the event on its type's stream, trimming the stream to the
// configured cap. Durable once this returns; processing is not implied.
func (l *Log) Append(ctx context.Context, event *models.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event %s: %w", event.ID, err)
	}

	args := &redis.XAddArgs{
		Stream: l.streamKey(event.Type),
		MaxLen: l.config.MaxLen,
		Approx: true,
		Values: map[string]any{eventField: string(payload)},
	}

	return l.withRetry(ctx, "append", func() error {
		return l.client.XAdd(ctx, args).Err()
	})
}

// EnsureGroup creates the consumer group for the event type's stream,
// creating the stream when missing. An already existing group is fine.
func (l *Log) EnsureGroup(ctx context.Context, eventType string) error {
	err := l.client.XGroupCreateMkStream(ctx, l.streamKey(eventType), l.config.Group, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group on %s: %w", l.streamKey(eventType), err)
	}

	return nil
}

// Read performs one blocking group read across all configured streams.
// XREADGROUP applies count per stream, and every entry it returns is
// already claimed into this consumer's pending list, so the full claimed
// batch is returned rather than stalling the overflow until a peer's
// reclaim. One read delivers at most streams*count messages.
func (l *Log) Read(ctx context.Context, consumer string, count int64, block time.Duration) ([]eventlog.Message, error) {
	if len(l.config.EventTypes) == 0 {
		return nil, nil
	}

	streams := make([]string, 0, len(l.config.EventTypes)*2)
	for _, eventType := range l.config.EventTypes {
		streams = append(streams, l.streamKey(eventType))
	}

	for range l.config.EventTypes {
		streams = append(streams, ">")
	}

	var result []redis.XStream

	err := l.withRetry(ctx, "read", func() error {
		var readErr error
		result, readErr = l.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    l.config.Group,
			Consumer: consumer,
			Streams:  streams,
			Count:    count,
			Block:    block,
		}).Result()

		if errors.Is(readErr, redis.Nil) {
			result = nil

			return nil
		}

		return readErr
	})
	if err != nil {
		return nil, err
	}

	messages := make([]eventlog.Message, 0, count)

	for _, stream := range result {
		for _, entry := range stream.Messages {
			msg, err := l.decodeMessage(stream.Stream, entry)
			if err != nil {
				l.logger.WarnContext(ctx, "Dropping undecodable stream entry",
					"stream", stream.Stream, "id", entry.ID, "error", err)

				_ = l.client.XAck(ctx, stream.Stream, l.config.Group, entry.ID).Err()

				continue
			}

			messages = append(messages, msg)
		}
	}

	return messages, nil
}

// Ack removes the message from the group's pending-entries list.
func (l *Log) Ack(ctx context.Context, stream, id string) error {
	return l.withRetry(ctx, "ack", func() error {
		return l.client.XAck(ctx, stream, l.config.Group, id).Err()
	})
}

// Reclaim transfers messages pending longer than minIdle to the given
// consumer so a crashed worker's in-flight work is not lost.
func (l *Log) Reclaim(ctx context.Context, consumer string, minIdle time.Duration, count int64) ([]eventlog.Message, error) {
	var reclaimed []eventlog.Message

	for _, eventType := range l.config.EventTypes {
		stream := l.streamKey(eventType)

		pending, err := l.client.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream: stream,
			Group:  l.config.Group,
			Idle:   minIdle,
			Start:  "-",
			End:    "+",
			Count:  count,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || strings.Contains(err.Error(), "NOGROUP") {
				continue
			}

			return reclaimed, fmt.Errorf("failed to inspect pending entries on %s: %w", stream, err)
		}

		if len(pending) == 0 {
			continue
		}

		ids := make([]string, 0, len(pending))
		deliveries := make(map[string]int64, len(pending))

		for _, entry := range pending {
			ids = append(ids, entry.ID)
			deliveries[entry.ID] = entry.RetryCount
		}

		claimed, err := l.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   stream,
			Group:    l.config.Group,
			Consumer: consumer,
			MinIdle:  minIdle,
			Messages: ids,
		}).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return reclaimed, fmt.Errorf("failed to claim pending entries on %s: %w", stream, err)
		}

		for _, entry := range claimed {
			msg, decodeErr := l.decodeMessage(stream, entry)
			if decodeErr != nil {
				_ = l.client.XAck(ctx, stream, l.config.Group, entry.ID).Err()

				continue
			}

			msg.Event.DeliveryCount = deliveries[entry.ID]
			reclaimed = append(reclaimed, msg)
		}
	}

	return reclaimed, nil
}

func (l *Log) Close() error {
	return l.client.Close()
}

func (l *Log) decodeMessage(stream string, entry redis.XMessage) (eventlog.Message, error) {
	raw, ok := entry.Values[eventField].(string)
	if !ok {
		return eventlog.Message{}, fmt.Errorf("stream entry %s has no %s field", entry.ID, eventField)
	}

	var event models.Event
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		return eventlog.Message{}, fmt.Errorf("failed to decode event in entry %s: %w", entry.ID, err)
	}

	event.StreamID = entry.ID
	if event.DeliveryCount == 0 {
		event.DeliveryCount = 1
	}

	return eventlog.Message{Stream: stream, ID: entry.ID, Event: &event}, nil
}

// withRetry retries transient broker errors with exponential backoff. The
// worker keeps running through broker outages instead of crashing.
func (l *Log) withRetry(ctx context.Context, op string, fn func() error) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(newExponential(l.config), uint64(l.config.MaxRetries)), ctx)

	attempt := 0

	return backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return backoff.Permanent(err)
		}

		attempt++
		l.logger.Warn("Retrying Redis operation", "op", op, "attempt", attempt, "error", err)

		return err
	}, policy)
}

func newExponential(config Config) *backoff.ExponentialBackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = config.InitialBackoff
	policy.MaxInterval = config.MaxBackoff

	return policy
}
