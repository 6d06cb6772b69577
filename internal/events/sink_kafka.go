package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Topic carries every domain event, keyed by subject so per-subject
// ordering survives partitioning.
const Topic = "kyc.case.events"

// envelope is the wire shape of an exported event.
type envelope struct {
	Kind       string    `json:"kind"`
	Key        string    `json:"key"`
	Payload    any       `json:"payload"`
	ExportedAt time.Time `json:"exported_at"`
}

// KafkaSink exports events to a Kafka topic. Produce errors are
// surfaced to the dispatcher, which logs them; the verification flow
// never waits on Kafka.
type KafkaSink struct {
	client *kgo.Client
	logger *slog.Logger
}

// NewKafkaSink connects to the brokers and ensures the topic exists.
// Returns nil sink when no brokers are configured.
func NewKafkaSink(ctx context.Context, brokers []string, logger *slog.Logger) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerBatchMaxBytes(1<<20),
		kgo.ProduceRequestTimeout(10*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}
	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("kafka ping: %w", err)
	}

	if err := ensureTopic(ctx, client); err != nil {
		client.Close()
		return nil, err
	}
	return &KafkaSink{client: client, logger: logger}, nil
}

func ensureTopic(ctx context.Context, client *kgo.Client) error {
	admin := kadm.NewClient(client)
	topics, err := admin.ListTopics(ctx)
	if err != nil {
		return fmt.Errorf("kafka list topics: %w", err)
	}
	if topics.Has(Topic) {
		return nil
	}
	if _, err := admin.CreateTopic(ctx, 3, 1, nil, Topic); err != nil {
		return fmt.Errorf("kafka create topic: %w", err)
	}
	return nil
}

// Deliver produces one event synchronously on the dispatcher goroutine.
func (s *KafkaSink) Deliver(ctx context.Context, event Event) error {
	value, err := json.Marshal(envelope{
		Kind:       event.Kind(),
		Key:        event.Key(),
		Payload:    event,
		ExportedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	record := &kgo.Record{
		Topic: Topic,
		Key:   []byte(event.Key()),
		Value: value,
	}
	if err := s.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce event: %w", err)
	}
	return nil
}

// Close flushes and releases the client.
func (s *KafkaSink) Close() {
	if s != nil && s.client != nil {
		s.client.Close()
	}
}

var _ Sink = (*KafkaSink)(nil)
