package resolver

import (
	"fmt"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"strings"
)

// Quoter gives the market value of one maker unit in taker units, scaled by
// auction.PricePrecision.
type Quoter interface {
	Quote(makerAsset, takerAsset string) (*uint256.Int, bool)
}

// StaticQuoter serves fixed prices keyed by "MAKER/TAKER".
type StaticQuoter map[string]*uint256.Int

func pairKey(makerAsset, takerAsset string) string {
	return strings.ToUpper(makerAsset) + "/" + strings.ToUpper(takerAsset)
}

func (q StaticQuoter) Quote(makerAsset, takerAsset string) (*uint256.Int, bool) {
	p, ok := q[pairKey(makerAsset, takerAsset)]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// ParseMarketPrices reads "USDC/DAI=1.0,WETH/USDC=3200" into a StaticQuoter.
func ParseMarketPrices(raw string) (StaticQuoter, error) {
	q := make(StaticQuoter)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		pair, price, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("invalid market price %q", entry)
		}
		assets := strings.Split(strings.TrimSpace(pair), "/")
		if len(assets) != 2 || assets[0] == "" || assets[1] == "" {
			return nil, fmt.Errorf("invalid market pair %q", pair)
		}

		d, err := decimal.NewFromString(strings.TrimSpace(price))
		if err != nil || !d.IsPositive() {
			return nil, fmt.Errorf("invalid price for %s: %q", pair, price)
		}
		scaled, overflow := uint256.FromBig(d.Shift(18).Truncate(0).BigInt())
		if overflow {
			return nil, fmt.Errorf("price for %s overflows", pair)
		}
		q[pairKey(assets[0], assets[1])] = scaled
	}
	return q, nil
}

// Profitable reports whether paying price still leaves marginBps against
// the market quote.
func Profitable(market, price *uint256.Int, marginBps uint64) bool {
	lhs, overflow := new(uint256.Int).MulOverflow(market, uint256.NewInt(10_000))
	if overflow {
		return true
	}
	rhs, overflow := new(uint256.Int).MulOverflow(price, uint256.NewInt(10_000+marginBps))
	if overflow {
		return false
	}
	return !lhs.Lt(rhs)
}
