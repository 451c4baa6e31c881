package relayer

import (
	"context"
	"crossswap/apps/crossswap/internal/hashlock"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

type NotificationKind string

const (
	NotifyEscrowsReady NotificationKind = "escrows_ready"
	NotifyCompletion   NotificationKind = "completion"
)

// Notification is an asynchronous resolver or chain report consumed by the
// Run loop.
type Notification struct {
	Kind         NotificationKind
	OrderHash    common.Hash
	Resolver     string
	SourceEscrow string
	DestEscrow   string
	Secret       hashlock.Secret
}

// Notify queues n for the Run loop.
func (r *Relayer) Notify(ctx context.Context, n Notification) error {
	select {
	case r.inbox <- n:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Relayer) handle(n Notification) {
	var err error
	switch n.Kind {
	case NotifyEscrowsReady:
		err = r.EscrowsReady(n.OrderHash, n.Resolver, n.SourceEscrow, n.DestEscrow)
	case NotifyCompletion:
		err = r.Complete(n.OrderHash, n.Resolver, n.Secret)
	default:
		r.logger.Warn("Unknown notification", zap.String("kind", string(n.Kind)))
		return
	}
	if err != nil {
		r.logger.Warn("Notification rejected",
			zap.String("kind", string(n.Kind)),
			zap.String("order_hash", n.OrderHash.Hex()),
			zap.String("resolver", n.Resolver),
			zap.Error(err))
	}
}
