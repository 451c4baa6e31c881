// Package feed_consumer reads the relayer's event feed from Kafka and hands
// each event to a handler.
package feed_consumer

import (
	"context"
	"crossswap/apps/crossswap/internal/events"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/confluentinc/confluent-kafka-go/kafka"
	"go.uber.org/zap"
	"time"
)

type Handler interface {
	HandleEvent(ctx context.Context, event events.SwapEvent) error
}

type HandlerFunc func(ctx context.Context, event events.SwapEvent) error

func (f HandlerFunc) HandleEvent(ctx context.Context, event events.SwapEvent) error {
	return f(ctx, event)
}

// Filter passes only the listed event types to next.
func Filter(next Handler, types ...events.EventType) Handler {
	allowed := make(map[events.EventType]bool, len(types))
	for _, t := range types {
		allowed[t] = true
	}
	return HandlerFunc(func(ctx context.Context, event events.SwapEvent) error {
		if !allowed[event.EventType] {
			return nil
		}
		return next.HandleEvent(ctx, event)
	})
}

type FeedConsumer struct {
	logger        *zap.Logger
	kafkaConsumer *kafka.Consumer
	kafkaTopic    string
	handler       Handler
}

func NewFeedConsumer(kafkaBroker, kafkaTopic, groupID string, logger *zap.Logger, handler Handler) (*FeedConsumer, error) {
	consumer, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers": kafkaBroker,
		"group.id":          groupID,
		"auto.offset.reset": "earliest",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer: %w", err)
	}

	return &FeedConsumer{
		logger:        logger,
		kafkaConsumer: consumer,
		kafkaTopic:    kafkaTopic,
		handler:       handler,
	}, nil
}

// Start consumes until ctx is done.
func (fc *FeedConsumer) Start(ctx context.Context) error {
	fc.logger.Info("Starting feed consumer", zap.String("topic", fc.kafkaTopic))

	if err := fc.kafkaConsumer.Subscribe(fc.kafkaTopic, nil); err != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", fc.kafkaTopic, err)
	}

	for {
		select {
		case <-ctx.Done():
			return fc.kafkaConsumer.Close()
		default:
		}

		msg, err := fc.kafkaConsumer.ReadMessage(500 * time.Millisecond)
		if err != nil {
			var kerr kafka.Error
			if errors.As(err, &kerr) && kerr.Code() == kafka.ErrTimedOut {
				continue
			}
			fc.logger.Error("Error reading message from Kafka", zap.Error(err))
			continue
		}

		if err := fc.processMessage(ctx, msg); err != nil {
			fc.logger.Error("Error processing message",
				zap.String("topic", *msg.TopicPartition.Topic),
				zap.Int32("partition", msg.TopicPartition.Partition),
				zap.String("key", string(msg.Key)),
				zap.Error(err))
		}
	}
}

func (fc *FeedConsumer) processMessage(ctx context.Context, msg *kafka.Message) error {
	var event events.SwapEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("failed to unmarshal swap event: %w", err)
	}

	fc.logger.Debug("Processing swap event",
		zap.String("event_type", string(event.EventType)),
		zap.String("order_hash", event.OrderHash))

	return fc.handler.HandleEvent(ctx, event)
}
