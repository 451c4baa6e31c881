package repository

import (
	"context"
	"crossswap/apps/crossswap/internal/events"
	"database/sql"
	"fmt"
	"go.uber.org/zap"
	"time"
)

// HistoryEntry is one materialized lifecycle event of an order.
type HistoryEntry struct {
	EventID    string    `json:"event_id"`
	OrderHash  string    `json:"order_hash"`
	EventType  string    `json:"event_type"`
	Resolver   string    `json:"resolver,omitempty"`
	Side       string    `json:"side,omitempty"`
	Amount     string    `json:"amount,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

type HistoryRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewHistoryRepository(db *sql.DB, logger *zap.Logger) *HistoryRepository {
	return &HistoryRepository{db: db, logger: logger}
}

// Append records an order event. Replays of the same event are ignored.
func (h *HistoryRepository) Append(ctx context.Context, event events.SwapEvent) error {
	if event.OrderHash == "" {
		return nil
	}

	var amount sql.NullString
	if event.Amount != "" {
		amount = sql.NullString{String: event.Amount, Valid: true}
	}

	_, err := h.db.ExecContext(ctx, `
		INSERT INTO swap_history (event_id, order_hash, event_type, resolver, side, amount, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (event_id) DO NOTHING
	`, event.EventID, event.OrderHash, string(event.EventType), event.Resolver, string(event.Side), amount, event.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

func (h *HistoryRepository) History(ctx context.Context, orderHash string) ([]HistoryEntry, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT event_id, order_hash, event_type, resolver, side, COALESCE(amount::TEXT, ''), occurred_at
		FROM swap_history
		WHERE order_hash = $1
		ORDER BY occurred_at
	`, orderHash)
	if err != nil {
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.EventID, &e.OrderHash, &e.EventType, &e.Resolver, &e.Side, &e.Amount, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history: %w", err)
	}

	return entries, nil
}
