package event_publisher

import (
	"context"
	"crossswap/apps/crossswap/internal/metrics"
	"crossswap/apps/crossswap/internal/model"
	"fmt"
	"github.com/confluentinc/confluent-kafka-go/kafka"
	"go.uber.org/zap"
	"sync"
	"time"
)

// Outbox is the durable queue the publisher drains.
type Outbox interface {
	GetUnsentEventsForProcessing(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkEventAsSent(ctx context.Context, eventID string) error
	MarkEventAsFailed(ctx context.Context, eventID string) error
}

type EventPublisher struct {
	logger        *zap.Logger
	kafkaProducer *kafka.Producer
	kafkaTopic    string
	outbox        Outbox
	interval      time.Duration
	batchSize     int
	send          func(model.OutboxEvent) error
	mu            sync.Mutex // Protects concurrent access to publishing operations
}

func NewEventPublisher(kafkaBroker, kafkaTopic string, interval time.Duration, logger *zap.Logger, outbox Outbox) (*EventPublisher, error) {
	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": kafkaBroker,
		"acks":              "all",
		"retries":           3,
		"retry.backoff.ms":  100,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	ep := &EventPublisher{
		logger:        logger,
		kafkaProducer: producer,
		kafkaTopic:    kafkaTopic,
		outbox:        outbox,
		interval:      interval,
		batchSize:     100,
	}
	ep.send = ep.publishEventToKafka
	return ep, nil
}

// StartPublishing drains the outbox every interval until ctx is done.
func (ep *EventPublisher) StartPublishing(ctx context.Context) {
	ticker := time.NewTicker(ep.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ep.publishUnsentEvents(ctx); err != nil {
				ep.logger.Error("Error publishing events to Kafka", zap.Error(err))
			}
		}
	}
}

func (ep *EventPublisher) publishUnsentEvents(ctx context.Context) error {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	outboxEvents, err := ep.outbox.GetUnsentEventsForProcessing(ctx, ep.batchSize)
	if err != nil {
		return err
	}

	successCount := 0
	for _, event := range outboxEvents {
		if err := ep.send(event); err != nil {
			ep.logger.Error("Failed to publish event to Kafka", zap.String("event_id", event.EventID), zap.String("event_type", event.EventType), zap.Error(err))
			// Back to 'unsent' for retry
			if markErr := ep.outbox.MarkEventAsFailed(ctx, event.EventID); markErr != nil {
				ep.logger.Error("Failed to mark event as failed", zap.String("event_id", event.EventID), zap.Error(markErr))
			}
			continue
		}

		if err := ep.outbox.MarkEventAsSent(ctx, event.EventID); err != nil {
			// Published but still marked processing; a later sweep may resend it.
			ep.logger.Error("Failed to mark event as sent", zap.String("event_id", event.EventID), zap.Error(err))
		} else {
			successCount++
			metrics.OutboxPublished.Inc()
		}
	}

	if successCount > 0 {
		ep.logger.Info("Published events to Kafka", zap.Int("success_count", successCount), zap.Int("attempted", len(outboxEvents)))
	}

	return nil
}

// partitionKey keeps every event of one order on one partition so consumers
// see them in order. Feed snapshots carry no order and share a key.
func partitionKey(event model.OutboxEvent) []byte {
	if event.OrderHash != "" {
		return []byte(event.OrderHash)
	}
	return []byte(event.EventType)
}

func (ep *EventPublisher) publishEventToKafka(event model.OutboxEvent) error {
	deliveryChan := make(chan kafka.Event)
	defer close(deliveryChan)

	err := ep.kafkaProducer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &ep.kafkaTopic, Partition: kafka.PartitionAny},
		Key:            partitionKey(event),
		Value:          event.EventBlob,
		Headers:        []kafka.Header{{Key: "event_type", Value: []byte(event.EventType)}},
	}, deliveryChan)

	if err != nil {
		return err
	}

	e := <-deliveryChan
	switch ev := e.(type) {
	case *kafka.Message:
		if ev.TopicPartition.Error != nil {
			return ev.TopicPartition.Error
		}
		return nil
	default:
		return fmt.Errorf("unexpected kafka event type: %T", e)
	}
}

func (ep *EventPublisher) Close() error {
	if ep.kafkaProducer != nil {
		ep.kafkaProducer.Flush(5000)
		ep.kafkaProducer.Close()
	}
	return nil
}
