// Package kafka publishes outbox events to one Kafka topic, keyed by order
// id so each order's events stay in one partition.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/rs/zerolog/log"

	"github.com/Bernabe-03/oplaisir/internal/outbox"
)

type Config struct {
	BootstrapServers string
	ClientID         string
	Topic            string
	DeliveryTimeout  time.Duration
}

type Producer struct {
	producer *kafka.Producer
	cfg      Config
	done     chan struct{}
}

func NewProducer(cfg Config) (*Producer, error) {
	if cfg.BootstrapServers == "" {
		return nil, errors.New("kafka: bootstrap servers missing")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka: topic missing")
	}
	if cfg.DeliveryTimeout == 0 {
		cfg.DeliveryTimeout = 15 * time.Second
	}

	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":  cfg.BootstrapServers,
		"client.id":          cfg.ClientID,
		"acks":               "all",
		"enable.idempotence": true,
	})
	if err != nil {
		return nil, fmt.Errorf("kafka: failed to create producer: %w", err)
	}

	p := &Producer{producer: producer, cfg: cfg, done: make(chan struct{})}
	go p.handleEvents()
	return p, nil
}

// handleEvents drains producer-level events; per-message reports go to the
// channel passed to Produce.
func (p *Producer) handleEvents() {
	defer close(p.done)
	for evt := range p.producer.Events() {
		switch e := evt.(type) {
		case kafka.Error:
			log.Error().Err(e).Bool("fatal", e.IsFatal()).Msg("kafka: producer error")
		default:
			log.Debug().Str("event", e.String()).Msg("kafka: producer event")
		}
	}
}

// Publish blocks until the delivery report arrives.
func (p *Producer) Publish(ctx context.Context, msg outbox.Message) error {
	topic := p.cfg.Topic
	deliveries := make(chan kafka.Event, 1)

	err := p.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(msg.AggregateID),
		Value:          msg.Payload,
		Timestamp:      msg.CreatedAt,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(msg.ID)},
			{Key: "event_type", Value: []byte(msg.Type)},
		},
	}, deliveries)
	if err != nil {
		return fmt.Errorf("kafka: failed to produce %s: %w", msg.ID, err)
	}

	timer := time.NewTimer(p.cfg.DeliveryTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("kafka: no delivery report for %s after %s", msg.ID, p.cfg.DeliveryTimeout)
	case evt := <-deliveries:
		m, ok := evt.(*kafka.Message)
		if !ok {
			return fmt.Errorf("kafka: unexpected delivery event %v", evt)
		}
		if m.TopicPartition.Error != nil {
			return fmt.Errorf("kafka: delivery of %s failed: %w", msg.ID, m.TopicPartition.Error)
		}
		return nil
	}
}

// Close flushes pending messages and closes the producer.
func (p *Producer) Close() {
	if p == nil || p.producer == nil {
		return
	}
	if remaining := p.producer.Flush(int(p.cfg.DeliveryTimeout.Milliseconds())); remaining > 0 {
		log.Warn().Int("remaining", remaining).Msg("kafka: messages left unflushed on close")
	}
	p.producer.Close()
	<-p.done
}
