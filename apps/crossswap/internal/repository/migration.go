package repository

import (
	"database/sql"
	"fmt"
)

// InitMigration creates the relayer schema. Amounts are stored as
// NUMERIC(78,0) so any uint256 fits.
func InitMigration(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			order_hash VARCHAR(66) PRIMARY KEY,
			maker VARCHAR(128) NOT NULL,
			receiver VARCHAR(128) NOT NULL DEFAULT '',
			allowed_taker VARCHAR(128) NOT NULL DEFAULT '',
			maker_asset VARCHAR(128) NOT NULL,
			taker_asset VARCHAR(128) NOT NULL,
			making_amount NUMERIC(78,0) NOT NULL,
			taking_amount NUMERIC(78,0),
			auction_start_price NUMERIC(78,0),
			auction_end_price NUMERIC(78,0),
			auction_start_time TIMESTAMP,
			auction_end_time TIMESTAMP,
			deadline TIMESTAMP NOT NULL,
			nonce BIGINT NOT NULL,
			src_chain_id BIGINT NOT NULL,
			dst_chain_id BIGINT NOT NULL,
			hashlock VARCHAR(66) NOT NULL,
			timelocks NUMERIC(78,0) NOT NULL,
			filled_amount NUMERIC(78,0) NOT NULL DEFAULT 0,
			status VARCHAR(20) NOT NULL,
			swap_state VARCHAR(20) NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_maker_status ON orders (maker, status)`,
		`CREATE TABLE IF NOT EXISTS commitments (
			id UUID PRIMARY KEY,
			order_hash VARCHAR(66) NOT NULL REFERENCES orders (order_hash),
			resolver VARCHAR(128) NOT NULL,
			source_escrow_ref VARCHAR(128) NOT NULL DEFAULT '',
			dest_escrow_ref VARCHAR(128) NOT NULL DEFAULT '',
			commit_time TIMESTAMP NOT NULL,
			is_active BOOLEAN NOT NULL,
			is_completed BOOLEAN NOT NULL,
			bond NUMERIC(78,0),
			rescued_from VARCHAR(128) NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_commitments_order ON commitments (order_hash, is_active)`,
		`CREATE TABLE IF NOT EXISTS escrows (
			order_hash VARCHAR(66) NOT NULL REFERENCES orders (order_hash),
			side VARCHAR(20) NOT NULL,
			hashlock VARCHAR(66) NOT NULL,
			maker VARCHAR(128) NOT NULL,
			recipient VARCHAR(128) NOT NULL,
			token VARCHAR(128) NOT NULL,
			total_amount NUMERIC(78,0) NOT NULL,
			safety_deposit NUMERIC(78,0) NOT NULL,
			deployed_at TIMESTAMP NOT NULL,
			state VARCHAR(20) NOT NULL,
			maker_funded BOOLEAN NOT NULL,
			revealed_secret VARCHAR(66) NOT NULL DEFAULT '',
			allocations JSONB NOT NULL,
			PRIMARY KEY (order_hash, side)
		)`,
		`CREATE TABLE IF NOT EXISTS payouts (
			order_hash VARCHAR(66) NOT NULL REFERENCES orders (order_hash),
			side VARCHAR(20) NOT NULL,
			recipient VARCHAR(128) NOT NULL,
			token VARCHAR(128) NOT NULL,
			amount NUMERIC(78,0) NOT NULL,
			kind VARCHAR(20) NOT NULL,
			created_at TIMESTAMP NOT NULL,
			PRIMARY KEY (order_hash, side, recipient, kind)
		)`,
		`CREATE TABLE IF NOT EXISTS resolvers (
			address VARCHAR(128) PRIMARY KEY,
			name VARCHAR(128) NOT NULL,
			registered_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS event_outbox (
			event_id UUID PRIMARY KEY,
			event_type VARCHAR(32) NOT NULL,
			order_hash VARCHAR(66) NOT NULL DEFAULT '',
			status VARCHAR(20) NOT NULL DEFAULT 'unsent',
			event_blob JSONB NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_event_outbox_status ON event_outbox (status, created_at)`,
		`CREATE TABLE IF NOT EXISTS swap_history (
			event_id UUID PRIMARY KEY,
			order_hash VARCHAR(66) NOT NULL,
			event_type VARCHAR(32) NOT NULL,
			resolver VARCHAR(128) NOT NULL DEFAULT '',
			side VARCHAR(20) NOT NULL DEFAULT '',
			amount NUMERIC(78,0),
			occurred_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_swap_history_order ON swap_history (order_hash, occurred_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query %s: %w", query, err)
		}
	}
	return nil
}
