package test

import (
	"os"
	"testing"
	"time"

	"crossswap/apps/crossswap/internal/api"
	"crossswap/apps/crossswap/internal/model"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

const (
	// Resolver bond registered for every test resolver
	TestBond = "1000"

	TestMaker      = "0x0B8fA6F76eB75ae3a4ca28eb3020DFC4503F2136"
	TestMakerAsset = "USDC"
	TestTakerAsset = "DAI"
	TestAmount     = "100"

	// 0.95 and 0.93 at 1e18 precision
	TestStartPrice = "950000000000000000"
	TestEndPrice   = "930000000000000000"
)

// relayerURL returns the address of a running relayer, skipping the test
// when none is configured.
func relayerURL(t *testing.T) string {
	t.Helper()
	// Try the test directory first, then the app root
	for _, path := range []string{".env", "../.env"} {
		_ = godotenv.Load(path)
	}
	url := os.Getenv("RELAYER_URL")
	if url == "" {
		t.Skip("RELAYER_URL not set, skipping live relayer test")
	}
	return url
}

// uniqueResolver returns a resolver address unused by earlier runs against
// the same relayer.
func uniqueResolver(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

func testOrder(hashlock string) api.CreateOrderRequest {
	now := time.Now().UTC()
	return api.CreateOrderRequest{
		Maker:             TestMaker,
		MakerAsset:        TestMakerAsset,
		TakerAsset:        TestTakerAsset,
		MakingAmount:      TestAmount,
		AuctionStartPrice: TestStartPrice,
		AuctionEndPrice:   TestEndPrice,
		AuctionStartTime:  now,
		AuctionEndTime:    now.Add(5 * time.Minute),
		Deadline:          now.Add(time.Hour),
		SrcChainID:        1,
		DstChainID:        10,
		Hashlock:          hashlock,
		Timelocks: &model.Timelocks{
			SrcPublicWithdrawal: 600, SrcCancellation: 1200, SrcPublicCancellation: 1500,
			DstPublicWithdrawal: 500, DstCancellation: 900,
		},
	}
}
