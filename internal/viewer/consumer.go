package viewer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"ai-scribe-service/internal/observability/logging"
)

// Reader is the subset of kafka.Reader the consumer needs.
type Reader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// NewReader builds a partition reader positioned lookback into the past.
// Partition readers avoid consumer groups, which suits port-forwarded brokers.
func NewReader(ctx context.Context, brokers []string, topic string, lookback time.Duration) *kafka.Reader {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   brokers,
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	if err := r.SetOffsetAt(ctx, time.Now().Add(-lookback)); err != nil {
		l := logging.WithComponent("viewer-consumer")
		l.Warn().Err(err).Str("topic", topic).Msg("Failed to seek, reading from start")
	}
	return r
}

// Consume forwards every message of topic to the hub until ctx is done.
// Messages that are not JSON are skipped.
func Consume(ctx context.Context, hub *Hub, r Reader, topic string) {
	log := logging.WithComponent("viewer-consumer").With().Str("topic", topic).Logger()
	defer r.Close()

	log.Info().Msg("Consuming transcript events")
	for {
		msg, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Msg("Kafka read error")
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		if !json.Valid(msg.Value) {
			log.Warn().Int64("offset", msg.Offset).Msg("Skipping non-JSON message")
			continue
		}

		log.Debug().Str("key", string(msg.Key)).Int64("offset", msg.Offset).Msg("Received event")
		hub.Broadcast(ctx, Message{
			Topic:   topic,
			Key:     string(msg.Key),
			Payload: json.RawMessage(msg.Value),
		})
	}
}
