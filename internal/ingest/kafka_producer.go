package ingest

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/courier-dispatch/internal/models"
)

// EventProducer archives dispatch lifecycle events to Kafka for the
// stats consumer and anything else downstream.
type EventProducer struct {
	writer *kafka.Writer
}

func NewEventProducer(brokers []string, topic string) *EventProducer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &EventProducer{writer: w}
}

// Emit publishes one feed event keyed by request ID so per-request
// ordering is preserved within a partition.
func (p *EventProducer) Emit(ctx context.Context, ev models.FeedEvent) error {
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	key := strconv.FormatInt(ev.RequestID, 10)
	return p.writer.WriteMessages(wctx, kafka.Message{Key: []byte(key), Value: b})
}

func (p *EventProducer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
