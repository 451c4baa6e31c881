package config

import (
	"crossswap/apps/crossswap/internal/model"
	"github.com/holiman/uint256"
	"github.com/joho/godotenv"
	"log"
	"os"
	"strconv"
	"time"
)

type Config struct {
	APIPort int
	DbURL   string

	KafkaBroker string
	KafkaTopic  string
	NatsURL     string
	NatsSubject string

	RpcURL               string
	EscrowFactoryAddress string
	ChunkSize            uint64
	FinalityOffset       uint64

	ExecutionWindow      time.Duration
	BroadcastInterval    time.Duration
	TimeoutCheckInterval time.Duration
	OutboxInterval       time.Duration
	SafetyDepositPerUnit *uint256.Int
	TimelockBuffer       uint32
	Timelocks            model.Timelocks

	RelayerURL         string
	ResolverAddress    string
	ResolverName       string
	ResolverPolicy     string
	ResolverPolicyFile string
	ResolverBond       *uint256.Int
	MarketPrices       string
}

// NewConfig loads configuration from environment variables. Every external
// system is optional; an empty URL disables it.
func NewConfig() *Config {
	// Load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Fatalf("Could not load .env file: %v", err)
	}

	return &Config{
		APIPort: getEnvInt("API_PORT", 8080),
		DbURL:   os.Getenv("DB_URL"),

		KafkaBroker: os.Getenv("KAFKA_BROKER"),
		KafkaTopic:  getEnvOrDefault("KAFKA_TOPIC", "crossswap-events"),
		NatsURL:     os.Getenv("NATS_URL"),
		NatsSubject: getEnvOrDefault("NATS_SUBJECT", "crossswap.events"),

		RpcURL:               os.Getenv("RPC_URL"),
		EscrowFactoryAddress: os.Getenv("ESCROW_FACTORY_ADDRESS"),
		ChunkSize:            getEnvUint64("CHUNK_SIZE", 100),
		FinalityOffset:       getEnvUint64("FINALITY_OFFSET", 12),

		ExecutionWindow:      getEnvDuration("EXECUTION_WINDOW", 5*time.Minute),
		BroadcastInterval:    getEnvDuration("BROADCAST_INTERVAL", 5*time.Second),
		TimeoutCheckInterval: getEnvDuration("TIMEOUT_CHECK_INTERVAL", 10*time.Second),
		OutboxInterval:       getEnvDuration("OUTBOX_INTERVAL", 3*time.Second),
		SafetyDepositPerUnit: getEnvUint256("SAFETY_DEPOSIT_PER_UNIT", 0),
		TimelockBuffer:       getEnvUint32("TIMELOCK_BUFFER", 60),
		Timelocks: model.Timelocks{
			SrcWithdrawal:         getEnvUint32("TIMELOCK_SRC_WITHDRAWAL", 12),
			SrcPublicWithdrawal:   getEnvUint32("TIMELOCK_SRC_PUBLIC_WITHDRAWAL", 120),
			SrcCancellation:       getEnvUint32("TIMELOCK_SRC_CANCELLATION", 900),
			SrcPublicCancellation: getEnvUint32("TIMELOCK_SRC_PUBLIC_CANCELLATION", 1200),
			DstWithdrawal:         getEnvUint32("TIMELOCK_DST_WITHDRAWAL", 10),
			DstPublicWithdrawal:   getEnvUint32("TIMELOCK_DST_PUBLIC_WITHDRAWAL", 100),
			DstCancellation:       getEnvUint32("TIMELOCK_DST_CANCELLATION", 600),
		},

		RelayerURL:         getEnvOrDefault("RELAYER_URL", "http://localhost:8080"),
		ResolverAddress:    os.Getenv("RESOLVER_ADDRESS"),
		ResolverName:       os.Getenv("RESOLVER_NAME"),
		ResolverPolicy:     getEnvOrDefault("RESOLVER_POLICY", "balanced"),
		ResolverPolicyFile: os.Getenv("RESOLVER_POLICY_FILE"),
		ResolverBond:       getEnvUint256("RESOLVER_BOND", 0),
		MarketPrices:       os.Getenv("MARKET_PRICES"),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvUint64(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseUint(value, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvUint32(key string, defaultValue uint32) uint32 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseUint(value, 10, 32); err == nil {
			return uint32(parsed)
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvUint256 reads a decimal integer. Malformed values are fatal since
// they are money.
func getEnvUint256(key string, defaultValue uint64) *uint256.Int {
	value := os.Getenv(key)
	if value == "" {
		return uint256.NewInt(defaultValue)
	}
	parsed, err := uint256.FromDecimal(value)
	if err != nil {
		log.Fatalf("Invalid %s: %v", key, err)
	}
	return parsed
}
