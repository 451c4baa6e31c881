package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crossswap/apps/crossswap/internal/config"
	"crossswap/apps/crossswap/internal/events"
	"crossswap/apps/crossswap/internal/feed_consumer"
	"crossswap/apps/crossswap/internal/natsfeed"
	"crossswap/apps/crossswap/internal/relayerclient"
	"crossswap/apps/crossswap/internal/resolver"
	"go.uber.org/zap"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer logger.Sync()

	cfg := config.NewConfig()
	if cfg.ResolverAddress == "" {
		logger.Fatal("RESOLVER_ADDRESS is required")
	}

	policy, err := resolver.LookupPolicy(cfg.ResolverPolicyFile, cfg.ResolverPolicy)
	if err != nil {
		logger.Fatal("Failed to load resolver policy", zap.Error(err))
	}
	quoter, err := resolver.ParseMarketPrices(cfg.MarketPrices)
	if err != nil {
		logger.Fatal("Failed to parse MARKET_PRICES", zap.Error(err))
	}

	logger.Info("Starting resolver with configuration",
		zap.String("relayer_url", cfg.RelayerURL),
		zap.String("address", cfg.ResolverAddress),
		zap.String("policy", policy.Name),
		zap.Uint64("profit_margin_bps", policy.ProfitMarginBps),
		zap.Duration("competition_delay", policy.CompetitionDelay),
		zap.String("max_order_size", policy.MaxOrderSize),
		zap.Bool("rescue", policy.Rescue),
		zap.Int("market_pairs", len(quoter)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := relayerclient.NewClient(cfg.RelayerURL)
	name := cfg.ResolverName
	if name == "" {
		name = cfg.ResolverAddress
	}
	if err := client.RegisterResolver(ctx, cfg.ResolverAddress, name, cfg.ResolverBond); err != nil {
		logger.Fatal("Failed to register with relayer", zap.Error(err))
	}

	res, err := resolver.NewResolver(cfg.ResolverAddress, policy, quoter, client, logger)
	if err != nil {
		logger.Fatal("Failed to create resolver", zap.Error(err))
	}

	handle := func(ev events.SwapEvent) {
		if err := res.HandleEvent(ctx, ev); err != nil {
			logger.Error("Failed to handle event", zap.String("event_type", string(ev.EventType)), zap.Error(err))
		}
	}

	switch {
	case cfg.NatsURL != "":
		nf, err := natsfeed.Connect(cfg.NatsURL, cfg.NatsSubject, logger)
		if err != nil {
			logger.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		defer nf.Close()
		go func() {
			if err := nf.Subscribe(ctx, handle); err != nil && ctx.Err() == nil {
				logger.Fatal("NATS feed failed", zap.Error(err))
			}
		}()

	case cfg.KafkaBroker != "":
		consumer, err := feed_consumer.NewFeedConsumer(cfg.KafkaBroker, cfg.KafkaTopic, "crossswap-resolver-"+cfg.ResolverAddress, logger, res)
		if err != nil {
			logger.Fatal("Failed to create feed consumer", zap.Error(err))
		}
		go func() {
			if err := consumer.Start(ctx); err != nil {
				logger.Error("Feed consumer stopped", zap.Error(err))
			}
		}()

	default:
		go streamEvents(ctx, client, handle, logger)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	logger.Info("Received shutdown signal, starting graceful shutdown...")
	cancel()
	res.Wait()

	logger.Info("Resolver shutdown complete")
}

// streamEvents follows the relayer's HTTP event stream, reconnecting after
// failures. The feed snapshot is replayed on every connect so orders
// announced while disconnected are not missed.
func streamEvents(ctx context.Context, client *relayerclient.Client, handle func(events.SwapEvent), logger *zap.Logger) {
	for ctx.Err() == nil {
		if snapshot, err := client.Feed(ctx); err == nil {
			handle(events.SwapEvent{EventType: events.OrderBroadcast, Feed: &snapshot, Timestamp: snapshot.Timestamp})
		}

		err := client.Stream(ctx, handle)
		if ctx.Err() != nil {
			return
		}
		logger.Warn("Event stream disconnected, reconnecting", zap.Error(err))

		select {
		case <-ctx.Done():
			return
		case <-time.After(2 * time.Second):
		}
	}
}
