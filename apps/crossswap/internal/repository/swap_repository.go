package repository

import (
	"context"
	"crossswap/apps/crossswap/internal/model"
	"crossswap/apps/crossswap/internal/relayer"
	"database/sql"
	"encoding/json"
	"fmt"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
	"time"
)

type SwapRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewSwapRepository(db *sql.DB, logger *zap.Logger) *SwapRepository {
	return &SwapRepository{db: db, logger: logger}
}

// SaveSnapshot upserts the order, its current commitment, both escrows and
// any new payouts in one transaction.
func (r *SwapRepository) SaveSnapshot(ctx context.Context, s relayer.Snapshot) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // Will be ignored if tx.Commit() succeeds

	if err := upsertOrder(ctx, tx, s.Order, s.State); err != nil {
		return err
	}
	if s.Commitment != nil {
		if err := upsertCommitment(ctx, tx, *s.Commitment); err != nil {
			return err
		}
	}
	for _, e := range s.Escrows {
		if err := upsertEscrow(ctx, tx, e); err != nil {
			return err
		}
	}
	for _, p := range s.Payouts {
		if err := insertPayout(ctx, tx, p); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}

	r.logger.Debug("Saved order snapshot",
		zap.String("order_hash", s.Order.OrderHash.Hex()),
		zap.String("swap_state", string(s.State)))
	return nil
}

func upsertOrder(ctx context.Context, tx *sql.Tx, o model.Order, state model.SwapState) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO orders (order_hash, maker, receiver, allowed_taker, maker_asset, taker_asset, making_amount, taking_amount,
			auction_start_price, auction_end_price, auction_start_time, auction_end_time, deadline, nonce, src_chain_id, dst_chain_id,
			hashlock, timelocks, filled_amount, status, swap_state, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
		ON CONFLICT (order_hash) DO UPDATE SET
			filled_amount = EXCLUDED.filled_amount,
			status = EXCLUDED.status,
			swap_state = EXCLUDED.swap_state,
			updated_at = NOW()
	`, o.OrderHash.Hex(), o.Maker, o.Receiver, o.AllowedTaker, o.MakerAsset, o.TakerAsset, numeric(o.MakingAmount), numeric(o.TakingAmount),
		numeric(o.AuctionStartPrice), numeric(o.AuctionEndPrice), nullTime(o.AuctionStartTime), nullTime(o.AuctionEndTime), o.Deadline, o.Nonce,
		o.SrcChainID, o.DstChainID, o.Hashlock.Hex(), o.Timelocks.Pack().Dec(), numeric(o.FilledAmount), string(o.Status), string(state), o.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert order: %w", err)
	}
	return nil
}

func upsertCommitment(ctx context.Context, tx *sql.Tx, c model.Commitment) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO commitments (id, order_hash, resolver, source_escrow_ref, dest_escrow_ref, commit_time, is_active, is_completed, bond, rescued_from)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			source_escrow_ref = EXCLUDED.source_escrow_ref,
			dest_escrow_ref = EXCLUDED.dest_escrow_ref,
			is_active = EXCLUDED.is_active,
			is_completed = EXCLUDED.is_completed
	`, c.ID, c.OrderHash.Hex(), c.Resolver, c.SourceEscrowRef, c.DestEscrowRef, c.CommitTime, c.IsActive, c.IsCompleted, numeric(c.Bond), c.RescuedFrom)
	if err != nil {
		return fmt.Errorf("failed to upsert commitment: %w", err)
	}

	// A replaced commitment is no longer current, so flip any stale rows.
	_, err = tx.ExecContext(ctx, `
		UPDATE commitments SET is_active = FALSE
		WHERE order_hash = $1 AND id <> $2 AND is_active
	`, c.OrderHash.Hex(), c.ID)
	if err != nil {
		return fmt.Errorf("failed to deactivate replaced commitments: %w", err)
	}
	return nil
}

func upsertEscrow(ctx context.Context, tx *sql.Tx, e model.EscrowRecord) error {
	allocations, err := json.Marshal(e.Allocations)
	if err != nil {
		return fmt.Errorf("failed to marshal allocations: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO escrows (order_hash, side, hashlock, maker, recipient, token, total_amount, safety_deposit, deployed_at, state, maker_funded, revealed_secret, allocations)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (order_hash, side) DO UPDATE SET
			total_amount = EXCLUDED.total_amount,
			safety_deposit = EXCLUDED.safety_deposit,
			state = EXCLUDED.state,
			maker_funded = EXCLUDED.maker_funded,
			revealed_secret = EXCLUDED.revealed_secret,
			allocations = EXCLUDED.allocations
	`, e.OrderHash.Hex(), string(e.Side), e.Hashlock.Hex(), e.Maker, e.Recipient, e.Token, numeric(e.TotalAmount), numeric(e.SafetyDeposit),
		e.DeployedAt, string(e.State), e.MakerFunded, e.RevealedSecret, allocations)
	if err != nil {
		return fmt.Errorf("failed to upsert escrow: %w", err)
	}
	return nil
}

func insertPayout(ctx context.Context, tx *sql.Tx, p model.Payout) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO payouts (order_hash, side, recipient, token, amount, kind, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (order_hash, side, recipient, kind) DO NOTHING
	`, p.OrderHash.Hex(), string(p.Side), p.Recipient, p.Token, numeric(p.Amount), string(p.Kind), p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert payout: %w", err)
	}
	return nil
}

// GetOrder loads an archived order. It returns nil when the order is unknown.
func (r *SwapRepository) GetOrder(ctx context.Context, hash common.Hash) (*model.Order, model.SwapState, error) {
	var (
		o                              model.Order
		orderHash, hashlock, timelocks string
		making, filled                 string
		taking, startPrice, endPrice   sql.NullString
		startTime, endTime             sql.NullTime
		status, state                  string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT order_hash, maker, receiver, allowed_taker, maker_asset, taker_asset, making_amount, taking_amount,
			auction_start_price, auction_end_price, auction_start_time, auction_end_time, deadline, nonce, src_chain_id, dst_chain_id,
			hashlock, timelocks, filled_amount, status, swap_state, created_at
		FROM orders
		WHERE order_hash = $1
	`, hash.Hex()).Scan(&orderHash, &o.Maker, &o.Receiver, &o.AllowedTaker, &o.MakerAsset, &o.TakerAsset, &making, &taking,
		&startPrice, &endPrice, &startTime, &endTime, &o.Deadline, &o.Nonce, &o.SrcChainID, &o.DstChainID,
		&hashlock, &timelocks, &filled, &status, &state, &o.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, "", nil
		}
		return nil, "", fmt.Errorf("failed to get order: %w", err)
	}

	o.OrderHash = common.HexToHash(orderHash)
	o.Hashlock = common.HexToHash(hashlock)
	o.Status = model.OrderStatus(status)
	o.AuctionStartTime = startTime.Time
	o.AuctionEndTime = endTime.Time

	packed, err := parseNumeric(timelocks)
	if err != nil {
		return nil, "", err
	}
	o.Timelocks = model.UnpackTimelocks(packed)

	for _, f := range []struct {
		dst **uint256.Int
		src sql.NullString
	}{
		{&o.MakingAmount, sql.NullString{String: making, Valid: true}},
		{&o.FilledAmount, sql.NullString{String: filled, Valid: true}},
		{&o.TakingAmount, taking},
		{&o.AuctionStartPrice, startPrice},
		{&o.AuctionEndPrice, endPrice},
	} {
		if !f.src.Valid {
			continue
		}
		v, err := parseNumeric(f.src.String)
		if err != nil {
			return nil, "", err
		}
		*f.dst = v
	}

	return &o, model.SwapState(state), nil
}

func numeric(v *uint256.Int) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: v.Dec(), Valid: true}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

// parseNumeric reads a NUMERIC(78,0) column, which Postgres may render
// with a trailing ".0" scale.
func parseNumeric(s string) (*uint256.Int, error) {
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			s = s[:i]
			break
		}
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to parse numeric %q: %w", s, err)
	}
	return v, nil
}
