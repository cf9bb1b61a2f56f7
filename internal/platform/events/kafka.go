package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"
)

const DefaultTopic = "sdoh.referral.events"

// KafkaConfig holds configuration for the Kafka publisher.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	// Linger is how long the client waits to batch records.
	Linger     time.Duration
	MaxRetries int
}

// KafkaPublisher writes events to a Kafka-compatible broker with franz-go.
// Records are keyed by referral id so one referral's events stay ordered
// within a partition.
type KafkaPublisher struct {
	client *kgo.Client
	topic  string
	logger zerolog.Logger
}

func NewKafkaPublisher(cfg KafkaConfig, logger zerolog.Logger) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher: no brokers configured")
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.Linger <= 0 {
		cfg.Linger = 10 * time.Millisecond
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.ProducerLinger(cfg.Linger),
		kgo.RecordRetries(cfg.MaxRetries),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}
	return &KafkaPublisher{
		client: client,
		topic:  cfg.Topic,
		logger: logger.With().Str("component", "kafka-publisher").Str("topic", cfg.Topic).Logger(),
	}, nil
}

// Publish produces e synchronously and returns the broker's verdict.
func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	rec, err := toRecord(p.topic, e)
	if err != nil {
		return err
	}
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("produce %s for referral %s: %w", e.Type, e.ReferralID, err)
	}
	p.logger.Debug().Str("type", e.Type).Str("referral_id", e.ReferralID).Msg("event published")
	return nil
}

// Close flushes buffered records and closes the client.
func (p *KafkaPublisher) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.client.Flush(ctx); err != nil {
		p.logger.Warn().Err(err).Msg("error flushing on close")
	}
	p.client.Close()
	return nil
}

func toRecord(topic string, e Event) (*kgo.Record, error) {
	value, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return &kgo.Record{
		Topic: topic,
		Key:   []byte(e.ReferralID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "event-type", Value: []byte(e.Type)},
		},
	}, nil
}
