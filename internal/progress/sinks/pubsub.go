package sinks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"

	"github.com/JakeFAU/docsynapse-crawler/internal/progress"
)

// PubSubSink publishes every event as one JSON message on a Pub/Sub topic.
// Attributes carry the job id and stage so subscribers can filter, plus the
// trace context of the publishing span.
type PubSubSink struct {
	topic *pubsub.Topic
}

// NewPubSubSink publishes through topic. Message ordering is not required.
func NewPubSubSink(topic *pubsub.Topic) *PubSubSink {
	return &PubSubSink{topic: topic}
}

// Consume implements progress.Sink. It waits for every publish in the batch
// and joins their errors.
func (s *PubSubSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s.topic == nil {
		return errors.New("pubsub topic is not configured")
	}
	results := make([]*pubsub.PublishResult, 0, len(batch))
	for _, evt := range batch {
		data, err := json.Marshal(evt)
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}
		attrs := map[string]string{
			"job_id": evt.JobID,
			"stage":  string(evt.Stage),
		}
		otel.GetTextMapPropagator().Inject(ctx, pubsubCarrier(attrs))
		results = append(results, s.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs}))
	}
	var errs []error
	for _, res := range results {
		if _, err := res.Get(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("publish %d of %d events: %w", len(errs), len(batch), errors.Join(errs...))
	}
	return nil
}

// Close flushes outstanding messages and stops the topic's publisher.
func (s *PubSubSink) Close(context.Context) error {
	if s.topic != nil {
		s.topic.Stop()
	}
	return nil
}

// pubsubCarrier adapts message attributes to propagation.TextMapCarrier.
type pubsubCarrier map[string]string

func (c pubsubCarrier) Get(key string) string { return c[key] }

func (c pubsubCarrier) Set(key, value string) { c[key] = value }

func (c pubsubCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}
