// Package events fans transcript events out to Kafka.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"ai-scribe-service/internal/observability/metrics"
)

// Event type labels used in headers and metrics.
const (
	EventTypeLive  = "live"
	EventTypeChunk = "chunk"
)

// Publisher publishes live transcript updates and finalized chunks to
// separate Kafka topics. Writes are asynchronous so callers on the live
// path never wait on the broker.
type Publisher struct {
	writerLive  *kafka.Writer
	writerChunk *kafka.Writer
	principal   string
	topicLive   string
	topicChunk  string
	enabled     bool
	metrics     *metrics.Metrics
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers    []string
	TopicLive  string
	TopicChunk string
	Principal  string
	Enabled    bool
}

// New creates a new Kafka event publisher.
func New(cfg *Config) *Publisher {
	m := metrics.DefaultMetrics

	// Handle nil config case
	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{
			enabled: false,
			metrics: m,
		}
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return &Publisher{
			principal:  cfg.Principal,
			topicLive:  cfg.TopicLive,
			topicChunk: cfg.TopicChunk,
			enabled:    false,
			metrics:    m,
		}
	}

	// Longer dial timeout for DNS resolution in Kubernetes
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}

	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	p := &Publisher{
		principal:  cfg.Principal,
		topicLive:  cfg.TopicLive,
		topicChunk: cfg.TopicChunk,
		enabled:    true,
		metrics:    m,
	}
	p.writerLive = p.newWriter(cfg.Brokers, cfg.TopicLive, EventTypeLive, transport)
	p.writerChunk = p.newWriter(cfg.Brokers, cfg.TopicChunk, EventTypeChunk, transport)

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicLive", cfg.TopicLive).
		Str("topicChunk", cfg.TopicChunk).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return p
}

func (p *Publisher) newWriter(brokers []string, topic, eventType string, transport *kafka.Transport) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Transport:    transport,
		Completion:   p.completion(topic, eventType),
	}
}

// completion records the outcome of an asynchronous batch.
func (p *Publisher) completion(topic, eventType string) func([]kafka.Message, error) {
	return func(messages []kafka.Message, err error) {
		for _, msg := range messages {
			latency := time.Since(msg.Time).Seconds()
			p.metrics.RecordKafkaPublish(topic, eventType, err, latency)
		}
		if err != nil {
			log.Error().
				Err(err).
				Str("topic", topic).
				Int("messages", len(messages)).
				Msg("Failed to write to Kafka")
		}
	}
}

// PublishLive publishes a live transcript update keyed by session.
func (p *Publisher) PublishLive(ctx context.Context, key string, event any) error {
	return p.publish(ctx, p.writerLive, p.topicLive, EventTypeLive, key, event)
}

// PublishChunk publishes a finalized chunk keyed by session.
func (p *Publisher) PublishChunk(ctx context.Context, key string, event any) error {
	return p.publish(ctx, p.writerChunk, p.topicChunk, EventTypeChunk, key, event)
}

// publish writes one message to a specific Kafka writer.
func (p *Publisher) publish(ctx context.Context, writer *kafka.Writer, topic, eventType, key string, event any) error {
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	// If Kafka is disabled, just log
	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Time:  start,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	// Async writer: errors surface in the completion callback.
	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to enqueue Kafka message")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}
	return nil
}

// Close flushes and closes both Kafka writers.
func (p *Publisher) Close() error {
	var err error
	if p.writerLive != nil {
		if e := p.writerLive.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing live writer")
			err = e
		}
	}
	if p.writerChunk != nil {
		if e := p.writerChunk.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing chunk writer")
			err = e
		}
	}
	return err
}
