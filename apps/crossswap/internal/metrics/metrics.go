package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ============================================
	// Order lifecycle
	// ============================================
	OrdersCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crossswap_orders_created_total",
		Help: "Total number of orders accepted by the relayer",
	})

	OrdersFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossswap_orders_finished_total",
			Help: "Total number of orders that reached a final swap state",
		},
		[]string{"state"},
	)

	ActiveOrders = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crossswap_active_orders",
		Help: "Number of orders currently fillable",
	})

	// ============================================
	// Resolver actions
	// ============================================
	Commits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossswap_commits_total",
			Help: "Commit attempts by outcome",
		},
		[]string{"outcome"},
	)

	Rescues = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossswap_rescues_total",
			Help: "Rescue attempts by outcome",
		},
		[]string{"outcome"},
	)

	EscrowDeploys = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossswap_escrow_deploys_total",
			Help: "Escrow deployments by side",
		},
		[]string{"side"},
	)

	EscrowSettlements = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossswap_escrow_settlements_total",
			Help: "Escrow withdrawals and cancellations by side",
		},
		[]string{"side", "action"},
	)

	// ============================================
	// Broadcast feed
	// ============================================
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossswap_events_published_total",
			Help: "Events handed to the broadcast feed",
		},
		[]string{"event_type"},
	)

	EventsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossswap_events_failed_total",
			Help: "Events the broadcast feed failed to accept",
		},
		[]string{"event_type"},
	)

	Broadcasts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crossswap_broadcasts_total",
		Help: "Feed snapshots broadcast to resolvers",
	})

	OutboxPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crossswap_outbox_published_total",
		Help: "Outbox events delivered to Kafka",
	})

	NATSConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crossswap_nats_connection_status",
		Help: "NATS connection status (1=connected, 0=disconnected)",
	})
)
