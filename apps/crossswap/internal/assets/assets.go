package assets

import (
	"errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"strings"
)

var ErrUnknownAsset = errors.New("unknown asset")

// Asset is a token one of the swap chains can lock in escrow.
type Asset struct {
	Symbol   string         `json:"symbol"`
	Name     string         `json:"name"`
	Address  common.Address `json:"address"`
	Decimals int32          `json:"decimals"`
}

type AssetRegistry struct {
	assets    map[string]*Asset
	byAddress map[common.Address]*Asset
}

func NewAssetRegistry(supported ...*Asset) *AssetRegistry {
	registry := &AssetRegistry{
		assets:    make(map[string]*Asset),
		byAddress: make(map[common.Address]*Asset),
	}
	for _, asset := range supported {
		registry.assets[strings.ToUpper(asset.Symbol)] = asset
		if asset.Address != (common.Address{}) {
			registry.byAddress[asset.Address] = asset
		}
	}
	return registry
}

// Lookup resolves a symbol (case-insensitive) or a contract address.
func (r *AssetRegistry) Lookup(key string) (*Asset, bool) {
	if asset, ok := r.assets[strings.ToUpper(key)]; ok {
		return asset, true
	}
	if common.IsHexAddress(key) {
		asset, ok := r.byAddress[common.HexToAddress(key)]
		return asset, ok
	}
	return nil, false
}

func (r *AssetRegistry) IsSupported(key string) bool {
	_, ok := r.Lookup(key)
	return ok
}

// FormatAmount renders a base-unit amount in whole tokens. Unknown assets
// are rendered in base units.
func (r *AssetRegistry) FormatAmount(key string, amount *uint256.Int) string {
	if amount == nil {
		return ""
	}
	asset, ok := r.Lookup(key)
	if !ok {
		return amount.Dec()
	}
	return decimal.NewFromBigInt(amount.ToBig(), -asset.Decimals).String()
}

// ParseAmount converts a whole-token amount such as "1.5" to base units.
func (r *AssetRegistry) ParseAmount(key, human string) (*uint256.Int, error) {
	asset, ok := r.Lookup(key)
	if !ok {
		return nil, ErrUnknownAsset
	}
	d, err := decimal.NewFromString(human)
	if err != nil {
		return nil, err
	}
	if d.IsNegative() {
		return nil, errors.New("negative amount")
	}
	base := d.Shift(asset.Decimals)
	if !base.Equal(base.Truncate(0)) {
		return nil, errors.New("amount has more precision than the asset supports")
	}
	v, overflow := uint256.FromBig(base.BigInt())
	if overflow {
		return nil, errors.New("amount overflows 256 bits")
	}
	return v, nil
}

// DefaultRegistry holds the assets the demo chains trade.
var DefaultRegistry = NewAssetRegistry(
	&Asset{Symbol: "native", Name: "Native gas token", Decimals: 18},
	&Asset{
		Symbol:   "USDC",
		Name:     "USD Coin",
		Address:  common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"),
		Decimals: 6,
	},
	&Asset{
		Symbol:   "DAI",
		Name:     "Dai Stablecoin",
		Address:  common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F"),
		Decimals: 18,
	},
	&Asset{
		Symbol:   "WETH",
		Name:     "Wrapped Ether",
		Address:  common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"),
		Decimals: 18,
	},
	&Asset{
		Symbol:   "WBTC",
		Name:     "Wrapped BTC",
		Address:  common.HexToAddress("0x2260fac5e5542a773aa44fbcfedf7c193bc2c599"),
		Decimals: 8,
	},
)
