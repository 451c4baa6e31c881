// Package natsfeed carries the relayer's event feed over NATS for
// resolvers that want low latency.
package natsfeed

import (
	"context"
	"crossswap/apps/crossswap/internal/events"
	"crossswap/apps/crossswap/internal/metrics"
	"encoding/json"
	"fmt"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"time"
)

const DefaultSubject = "crossswap.events"

type Feed struct {
	conn    *nats.Conn
	subject string
	logger  *zap.Logger
}

// Connect dials NATS and keeps reconnecting forever.
func Connect(url, subject string, logger *zap.Logger) (*Feed, error) {
	if subject == "" {
		subject = DefaultSubject
	}

	conn, err := nats.Connect(url,
		nats.Name("crossswap"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
			metrics.NATSConnectionStatus.Set(0)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
			metrics.NATSConnectionStatus.Set(1)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	metrics.NATSConnectionStatus.Set(1)

	return &Feed{conn: conn, subject: subject, logger: logger}, nil
}

// Subject is the subject an event type is published on.
func Subject(prefix string, eventType events.EventType) string {
	return prefix + "." + string(eventType)
}

func (f *Feed) Publish(_ context.Context, event events.SwapEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := f.conn.Publish(Subject(f.subject, event.EventType), data); err != nil {
		return fmt.Errorf("failed to publish to NATS: %w", err)
	}
	return nil
}

// Subscribe delivers every event under the feed subject to handler until
// ctx is done.
func (f *Feed) Subscribe(ctx context.Context, handler func(events.SwapEvent)) error {
	sub, err := f.conn.Subscribe(f.subject+".>", func(msg *nats.Msg) {
		var event events.SwapEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			f.logger.Error("Failed to decode NATS event", zap.String("subject", msg.Subject), zap.Error(err))
			return
		}
		handler(event)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", f.subject, err)
	}

	<-ctx.Done()
	if err := sub.Unsubscribe(); err != nil {
		f.logger.Warn("Failed to unsubscribe", zap.Error(err))
	}
	return ctx.Err()
}

func (f *Feed) Close() {
	if f.conn != nil {
		f.conn.Drain()
	}
	metrics.NATSConnectionStatus.Set(0)
}
