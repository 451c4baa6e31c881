package repository

import (
	"context"
	"crossswap/apps/crossswap/internal/events"
	"crossswap/apps/crossswap/internal/model"
	"database/sql"
	"encoding/json"
	"fmt"
	"go.uber.org/zap"
)

// OutboxRepository stores relayer events for the Kafka publisher. Publish
// makes it usable as the relayer's broadcaster.
type OutboxRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewOutboxRepository(db *sql.DB, logger *zap.Logger) *OutboxRepository {
	return &OutboxRepository{db: db, logger: logger}
}

func (o *OutboxRepository) Publish(ctx context.Context, event events.SwapEvent) error {
	blob, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return o.StoreOutboxEvent(ctx, model.OutboxEvent{
		EventID:   event.EventID,
		EventType: string(event.EventType),
		OrderHash: event.OrderHash,
		Status:    model.OutboxStatusUnsent,
		EventBlob: blob,
		CreatedAt: event.Timestamp,
	})
}

func (o *OutboxRepository) StoreOutboxEvent(ctx context.Context, event model.OutboxEvent) error {
	_, err := o.db.ExecContext(ctx, `
		INSERT INTO event_outbox (event_id, event_type, order_hash, status, event_blob, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (event_id) DO NOTHING
	`, event.EventID, event.EventType, event.OrderHash, event.Status, []byte(event.EventBlob), event.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to store outbox event: %w", err)
	}

	o.logger.Debug("Stored event", zap.String("event_type", event.EventType), zap.String("order_hash", event.OrderHash))
	return nil
}

func (o *OutboxRepository) GetUnsentEventsForProcessing(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	tx, err := o.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() // Will be ignored if tx.Commit() succeeds

	// Lock unsent rows so concurrent publishers skip them.
	rows, err := tx.QueryContext(ctx, `
		SELECT event_id, event_type, order_hash, status, event_blob, created_at
		FROM event_outbox
		WHERE status = 'unsent'
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var outbox []model.OutboxEvent
	for rows.Next() {
		var event model.OutboxEvent
		var blob []byte
		if err := rows.Scan(&event.EventID, &event.EventType, &event.OrderHash, &event.Status, &blob, &event.CreatedAt); err != nil {
			return nil, err
		}
		event.EventBlob = blob
		outbox = append(outbox, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for _, event := range outbox {
		_, err = tx.ExecContext(ctx, `
			UPDATE event_outbox
			SET status = 'processing'
			WHERE event_id = $1 AND status = 'unsent'
		`, event.EventID)
		if err != nil {
			return nil, err
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}

	return outbox, nil
}

func (o *OutboxRepository) MarkEventAsSent(ctx context.Context, eventID string) error {
	_, err := o.db.ExecContext(ctx, `
		UPDATE event_outbox
		SET status = 'sent'
		WHERE event_id = $1
	`, eventID)
	return err
}

// MarkEventAsFailed returns a processing event to the unsent pool.
func (o *OutboxRepository) MarkEventAsFailed(ctx context.Context, eventID string) error {
	_, err := o.db.ExecContext(ctx, `
		UPDATE event_outbox
		SET status = 'unsent'
		WHERE event_id = $1 AND status = 'processing'
	`, eventID)
	return err
}
