package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

// KafkaConfig configures the Kafka publisher.
type KafkaConfig struct {
	Brokers          string
	Topic            string
	ClientID         string
	SecurityProtocol string
	SASLMechanism    string
	SASLUsername     string
	SASLPassword     string
	FlushTimeout     time.Duration
}

// ConfigMap renders cfg as librdkafka properties.
func (cfg KafkaConfig) ConfigMap() *kafka.ConfigMap {
	cm := &kafka.ConfigMap{
		"bootstrap.servers":   cfg.Brokers,
		"acks":                "all",
		"enable.idempotence":  true,
		"compression.type":    "snappy",
		"linger.ms":           20,
		"delivery.timeout.ms": 30000,
	}
	if cfg.ClientID != "" {
		_ = cm.SetKey("client.id", cfg.ClientID)
	}
	if cfg.SecurityProtocol != "" {
		_ = cm.SetKey("security.protocol", cfg.SecurityProtocol)
	}
	if cfg.SASLMechanism != "" {
		_ = cm.SetKey("sasl.mechanism", cfg.SASLMechanism)
		_ = cm.SetKey("sasl.username", cfg.SASLUsername)
		_ = cm.SetKey("sasl.password", cfg.SASLPassword)
	}
	return cm
}

// KafkaPublisher produces events to a Kafka topic. Delivery is asynchronous;
// failures are counted and logged.
type KafkaPublisher struct {
	producer *kafka.Producer
	topic    string
	flush    time.Duration

	sent   atomic.Int64
	acked  atomic.Int64
	failed atomic.Int64

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewKafkaPublisher creates a producer for cfg.
func NewKafkaPublisher(cfg KafkaConfig) (*KafkaPublisher, error) {
	if cfg.Brokers == "" {
		return nil, errors.New("kafka brokers are required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka topic is required")
	}
	p, err := kafka.NewProducer(cfg.ConfigMap())
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	flush := cfg.FlushTimeout
	if flush <= 0 {
		flush = 10 * time.Second
	}
	kp := &KafkaPublisher{producer: p, topic: cfg.Topic, flush: flush}
	kp.wg.Add(1)
	go kp.handleDeliveryReports()
	slog.Info("Kafka publisher initialized", "topic", cfg.Topic, "brokers", cfg.Brokers)
	return kp, nil
}

func (kp *KafkaPublisher) handleDeliveryReports() {
	defer kp.wg.Done()
	for e := range kp.producer.Events() {
		m, ok := e.(*kafka.Message)
		if !ok {
			continue
		}
		if m.TopicPartition.Error != nil {
			kp.failed.Add(1)
			slog.Warn("Event delivery failed", "error", m.TopicPartition.Error)
			continue
		}
		kp.acked.Add(1)
	}
}

// Publish enqueues e. It returns once librdkafka accepted the message.
func (kp *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	msg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &kp.topic, Partition: kafka.PartitionAny},
		Key:            []byte(e.Key),
		Value:          value,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(e.ID)},
			{Key: "kind", Value: []byte(e.Kind)},
		},
	}
	if err := kp.producer.Produce(msg, nil); err != nil {
		kp.failed.Add(1)
		var kerr kafka.Error
		if errors.As(err, &kerr) && kerr.Code() == kafka.ErrQueueFull {
			return fmt.Errorf("kafka queue full: %w", err)
		}
		return fmt.Errorf("produce %s event: %w", e.Kind, err)
	}
	kp.sent.Add(1)
	return nil
}

// Metrics returns delivery counters.
func (kp *KafkaPublisher) Metrics() map[string]int64 {
	return map[string]int64{
		"sent":   kp.sent.Load(),
		"acked":  kp.acked.Load(),
		"failed": kp.failed.Load(),
	}
}

// Close flushes pending messages and shuts the producer down.
func (kp *KafkaPublisher) Close() error {
	kp.closeOnce.Do(func() {
		if remaining := kp.producer.Flush(int(kp.flush.Milliseconds())); remaining > 0 {
			slog.Warn("Events still queued after flush", "remaining", remaining)
		}
		kp.producer.Close()
		kp.wg.Wait()
	})
	return nil
}
