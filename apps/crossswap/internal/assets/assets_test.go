package assets

import (
	"github.com/holiman/uint256"
	"testing"
)

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		asset  string
		amount uint64
		want   string
	}{
		{"USDC", 1500000, "1.5"},
		{"usdc", 1, "0.000001"},
		{"WBTC", 100000000, "1"},
		{"0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599", 50000000, "0.5"},
		{"UNKNOWN", 42, "42"},
	}
	for _, tt := range tests {
		t.Run(tt.asset, func(t *testing.T) {
			if got := DefaultRegistry.FormatAmount(tt.asset, uint256.NewInt(tt.amount)); got != tt.want {
				t.Errorf("FormatAmount() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestParseAmount(t *testing.T) {
	got, err := DefaultRegistry.ParseAmount("DAI", "2.25")
	if err != nil {
		t.Fatalf("ParseAmount failed: %v", err)
	}
	if got.Dec() != "2250000000000000000" {
		t.Errorf("ParseAmount = %s", got.Dec())
	}

	for _, bad := range []struct{ asset, amount string }{
		{"USDC", "0.0000001"},
		{"USDC", "-1"},
		{"USDC", "abc"},
		{"XYZ", "1"},
	} {
		if _, err := DefaultRegistry.ParseAmount(bad.asset, bad.amount); err == nil {
			t.Errorf("ParseAmount(%s, %s) succeeded, want error", bad.asset, bad.amount)
		}
	}
}
