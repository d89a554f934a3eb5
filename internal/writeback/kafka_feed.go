package writeback

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"

	"github.com/rzpsarthak13/offlinesync/internal/core"
	"github.com/rzpsarthak13/offlinesync/internal/logging"
)

// ErrFeedClosed is returned when publishing to a closed feed.
var ErrFeedClosed = errors.New("kafka feed is closed")

// KafkaFeedConfig holds configuration for the drain report feed.
type KafkaFeedConfig struct {
	Brokers      []string      `yaml:"brokers" json:"brokers" koanf:"brokers"`
	Topic        string        `yaml:"topic" json:"topic" koanf:"topic"`
	BatchTimeout time.Duration `yaml:"batch_timeout" json:"batch_timeout" koanf:"batch_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout" koanf:"write_timeout"`
	RequiredAcks int           `yaml:"required_acks" json:"required_acks" koanf:"required_acks"` // 0, 1, or -1 (all)
}

// Validate checks the feed configuration.
func (c KafkaFeedConfig) Validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("at least one Kafka broker is required")
	}
	if c.Topic == "" {
		return fmt.Errorf("kafka topic is required")
	}
	return nil
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaFeed publishes every drain report to a Kafka topic so other services
// can follow sync progress. It implements core.DrainObserver.
type KafkaFeed struct {
	writer messageWriter
	topic  string
	source string

	mu     sync.RWMutex
	closed bool
}

// NewKafkaFeed creates a feed writing to config.Topic. source identifies
// this engine instance in message keys.
func NewKafkaFeed(config KafkaFeedConfig, source string) (*KafkaFeed, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.BatchTimeout <= 0 {
		config.BatchTimeout = 50 * time.Millisecond
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 5 * time.Second
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(config.Brokers...),
		Topic:        config.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: config.BatchTimeout,
		WriteTimeout: config.WriteTimeout,
		RequiredAcks: kafka.RequiredAcks(config.RequiredAcks),
		MaxAttempts:  3,
	}

	logging.Info().Str("component", "kafka-feed").Strs("brokers", config.Brokers).
		Str("topic", config.Topic).Msg("Drain report feed initialized")

	return newKafkaFeed(writer, config.Topic, source), nil
}

func newKafkaFeed(w messageWriter, topic, source string) *KafkaFeed {
	if source == "" {
		source = "offlinesync"
	}
	return &KafkaFeed{writer: w, topic: topic, source: source}
}

func (f *KafkaFeed) reportMessage(report core.DrainReport) (kafka.Message, error) {
	data, err := json.Marshal(report)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal drain report: %w", err)
	}
	return kafka.Message{
		Key:   []byte(f.source),
		Value: data,
		Time:  report.FinishedAt,
		Headers: []kafka.Header{
			{Key: "succeeded", Value: []byte(strconv.Itoa(report.Succeeded))},
			{Key: "failed", Value: []byte(strconv.Itoa(report.Failed))},
			{Key: "remaining", Value: []byte(strconv.Itoa(report.Remaining))},
		},
	}, nil
}

// Publish writes one report to the topic.
func (f *KafkaFeed) Publish(ctx context.Context, report core.DrainReport) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return ErrFeedClosed
	}

	msg, err := f.reportMessage(report)
	if err != nil {
		return err
	}
	if err := f.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write drain report to Kafka: %w", err)
	}
	return nil
}

// OnDrainComplete publishes the report. Failures are logged; the drain
// itself is never affected by the feed.
func (f *KafkaFeed) OnDrainComplete(ctx context.Context, report core.DrainReport) {
	if err := f.Publish(ctx, report); err != nil {
		logging.Warn().Err(err).Str("component", "kafka-feed").Str("topic", f.topic).
			Msg("Failed to publish drain report")
	}
}

// Close flushes and closes the writer.
func (f *KafkaFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	return f.writer.Close()
}
