package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crossswap/apps/crossswap/internal/api"
	"crossswap/apps/crossswap/internal/chain"
	"crossswap/apps/crossswap/internal/clock"
	"crossswap/apps/crossswap/internal/config"
	"crossswap/apps/crossswap/internal/event_publisher"
	"crossswap/apps/crossswap/internal/events"
	"crossswap/apps/crossswap/internal/feed"
	"crossswap/apps/crossswap/internal/feed_consumer"
	"crossswap/apps/crossswap/internal/natsfeed"
	"crossswap/apps/crossswap/internal/relayer"
	"crossswap/apps/crossswap/internal/repository"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer logger.Sync()

	cfg := config.NewConfig()

	logger.Info("Starting relayer with configuration",
		zap.Int("api_port", cfg.APIPort),
		zap.Bool("database", cfg.DbURL != ""),
		zap.String("kafka_broker", cfg.KafkaBroker),
		zap.String("kafka_topic", cfg.KafkaTopic),
		zap.String("nats_url", cfg.NatsURL),
		zap.String("rpc_url", cfg.RpcURL),
		zap.Duration("execution_window", cfg.ExecutionWindow),
		zap.Duration("broadcast_interval", cfg.BroadcastInterval),
		zap.String("safety_deposit_per_unit", cfg.SafetyDepositPerUnit.Dec()),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := feed.NewHub(logger)
	broadcasters := feed.Multi{hub}
	deps := api.Dependencies{Events: hub}
	var store relayer.Store

	if cfg.DbURL != "" {
		db, err := sql.Open("postgres", cfg.DbURL)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer db.Close()

		if err := repository.InitMigration(db); err != nil {
			logger.Fatal("Failed to initialize database", zap.Error(err))
		}

		repos := repository.NewStore(db, logger)
		store = repos
		deps.Archive = repos
		history := repository.NewHistoryRepository(db, logger)
		deps.History = history
		outbox := repository.NewOutboxRepository(db, logger)

		if cfg.KafkaBroker != "" {
			// Events go through the outbox and reach Kafka from there.
			broadcasters = append(broadcasters, outbox)

			publisher, err := event_publisher.NewEventPublisher(cfg.KafkaBroker, cfg.KafkaTopic, cfg.OutboxInterval, logger, outbox)
			if err != nil {
				logger.Fatal("Failed to create event publisher", zap.Error(err))
			}
			defer publisher.Close()
			go publisher.StartPublishing(ctx)

			materializer, err := feed_consumer.NewFeedConsumer(cfg.KafkaBroker, cfg.KafkaTopic, "crossswap-history", logger,
				feed_consumer.HandlerFunc(func(ctx context.Context, ev events.SwapEvent) error {
					if ev.EventType == events.OrderBroadcast {
						return nil
					}
					return history.Append(ctx, ev)
				}))
			if err != nil {
				logger.Fatal("Failed to create history consumer", zap.Error(err))
			}
			go func() {
				if err := materializer.Start(ctx); err != nil {
					logger.Error("History consumer stopped", zap.Error(err))
				}
			}()
		}
	}

	if cfg.KafkaBroker != "" && cfg.DbURL == "" {
		logger.Warn("KAFKA_BROKER needs DB_URL for the outbox, Kafka feed disabled")
	}

	if cfg.NatsURL != "" {
		nf, err := natsfeed.Connect(cfg.NatsURL, cfg.NatsSubject, logger)
		if err != nil {
			logger.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		defer nf.Close()
		broadcasters = append(broadcasters, nf)
	}

	r := relayer.NewRelayer(relayer.Config{
		ExecutionWindow:      cfg.ExecutionWindow,
		BroadcastInterval:    cfg.BroadcastInterval,
		TimeoutCheckInterval: cfg.TimeoutCheckInterval,
		TimelockBuffer:       cfg.TimelockBuffer,
		SafetyDepositPerUnit: cfg.SafetyDepositPerUnit,
		DefaultTimelocks:     cfg.Timelocks,
	}, clock.Real{}, broadcasters, store, logger)
	deps.Relayer = r

	if cfg.RpcURL != "" {
		client, err := ethclient.Dial(cfg.RpcURL)
		if err != nil {
			logger.Fatal("Failed to connect to Ethereum client", zap.Error(err))
		}
		defer client.Close()

		calls, err := chain.NewCallBuilder(client)
		if err != nil {
			logger.Fatal("Failed to create call builder", zap.Error(err))
		}
		deps.Calls = calls

		if common.IsHexAddress(cfg.EscrowFactoryAddress) {
			watcher, err := chain.NewSecretWatcher(chain.WatcherConfig{
				FactoryAddress: common.HexToAddress(cfg.EscrowFactoryAddress),
				ChunkSize:      cfg.ChunkSize,
				FinalityOffset: cfg.FinalityOffset,
				PollInterval:   cfg.BroadcastInterval,
			}, client, r, logger)
			if err != nil {
				logger.Fatal("Failed to create secret watcher", zap.Error(err))
			}
			go func() {
				if err := watcher.Start(ctx); err != nil {
					logger.Error("Secret watcher stopped", zap.Error(err))
				}
			}()
		} else {
			logger.Warn("ESCROW_FACTORY_ADDRESS not set, on-chain withdrawals are not watched")
		}
	}

	go func() {
		if err := r.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Fatal("Relayer loop failed", zap.Error(err))
		}
	}()

	apiServer, err := api.NewServer(cfg.APIPort, deps, logger)
	if err != nil {
		logger.Fatal("Failed to create API server", zap.Error(err))
	}
	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Fatal("API server failed", zap.Error(err))
		}
	}()

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	logger.Info("Received shutdown signal, starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := apiServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error shutting down API server", zap.Error(err))
	}
	cancel()

	logger.Info("Relayer shutdown complete")
}
