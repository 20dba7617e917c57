package sinks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/docsynapse-crawler/internal/progress"
)

// DefaultRedisChannelPrefix prefixes the per-job channel names.
const DefaultRedisChannelPrefix = "docsynapse.events"

// RedisPublisher is the subset of *redis.Client the sink uses.
type RedisPublisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisSink publishes events on "<prefix>:<job_id>" so other processes can
// follow a job without connecting to this instance.
type RedisSink struct {
	client RedisPublisher
	prefix string
}

// NewRedisSink publishes through client. An empty prefix selects
// DefaultRedisChannelPrefix.
func NewRedisSink(client RedisPublisher, prefix string) *RedisSink {
	if prefix == "" {
		prefix = DefaultRedisChannelPrefix
	}
	return &RedisSink{client: client, prefix: prefix}
}

// Channel returns the channel events for jobID are published on.
func (s *RedisSink) Channel(jobID string) string {
	return s.prefix + ":" + jobID
}

// Consume implements progress.Sink.
func (s *RedisSink) Consume(ctx context.Context, batch []progress.Event) error {
	var errs []error
	for _, evt := range batch {
		data, err := json.Marshal(evt)
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}
		if err := s.client.Publish(ctx, s.Channel(evt.JobID), data).Err(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("redis publish: %w", errors.Join(errs...))
	}
	return nil
}

// Close closes the client when it owns a connection pool.
func (s *RedisSink) Close(context.Context) error {
	if closer, ok := s.client.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			return fmt.Errorf("close redis client: %w", err)
		}
	}
	return nil
}
