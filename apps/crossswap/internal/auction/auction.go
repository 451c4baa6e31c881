// Package auction prices orders on a linearly decaying Dutch auction curve.
// All math is 256-bit integer fixed point with PricePrecision decimals so
// that every chain adapter derives the same price for the same instant.
package auction

import (
	"crossswap/apps/crossswap/internal/clock"
	"errors"
	"fmt"
	"github.com/holiman/uint256"
	"time"
)

// PricePrecision is the fixed-point scale of a price (1e18 == 1.0).
var PricePrecision = uint256.NewInt(1_000_000_000_000_000_000)

var (
	ErrAuctionNotStarted    = errors.New("auction not started")
	ErrInvalidAuctionParams = errors.New("invalid auction params")
	ErrDivisionByZero       = errors.New("division by zero")
	ErrOverflow             = errors.New("arithmetic overflow")
)

// Params describes one auction curve. Times are compared at second
// resolution, matching the on-chain representation.
type Params struct {
	StartPrice *uint256.Int
	EndPrice   *uint256.Int
	StartTime  time.Time
	EndTime    time.Time
}

func (p Params) Validate() error {
	if p.StartPrice == nil || p.EndPrice == nil {
		return fmt.Errorf("%w: missing price", ErrInvalidAuctionParams)
	}
	if p.EndTime.Unix() <= p.StartTime.Unix() {
		return fmt.Errorf("%w: end time must be after start time", ErrInvalidAuctionParams)
	}
	if p.StartPrice.Lt(p.EndPrice) {
		return fmt.Errorf("%w: start price below end price", ErrInvalidAuctionParams)
	}
	return nil
}

// CurrentPrice returns the price at now. Before the start it fails with
// ErrAuctionNotStarted; at or after the end it returns EndPrice exactly.
func CurrentPrice(p Params, now time.Time) (*uint256.Int, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	start, end, at := p.StartTime.Unix(), p.EndTime.Unix(), now.Unix()
	if at < start {
		return nil, ErrAuctionNotStarted
	}
	if at >= end {
		return p.EndPrice.Clone(), nil
	}

	spread := new(uint256.Int).Sub(p.StartPrice, p.EndPrice)
	decay, overflow := new(uint256.Int).MulOverflow(spread, uint256.NewInt(uint64(at-start)))
	if overflow {
		return nil, ErrOverflow
	}
	decay.Div(decay, uint256.NewInt(uint64(end-start)))

	return new(uint256.Int).Sub(p.StartPrice, decay), nil
}

// TakingAmount converts a making amount at price: making * price / 1e18.
func TakingAmount(making, price *uint256.Int) (*uint256.Int, error) {
	product, overflow := new(uint256.Int).MulOverflow(making, price)
	if overflow {
		return nil, ErrOverflow
	}
	return product.Div(product, PricePrecision), nil
}

// MakingAmount is the inverse of TakingAmount: taking * 1e18 / price.
func MakingAmount(taking, price *uint256.Int) (*uint256.Int, error) {
	if price.IsZero() {
		return nil, ErrDivisionByZero
	}
	product, overflow := new(uint256.Int).MulOverflow(taking, PricePrecision)
	if overflow {
		return nil, ErrOverflow
	}
	return product.Div(product, price), nil
}

// Pricer binds the curve math to a clock.
type Pricer struct {
	clock clock.Clock
}

func NewPricer(c clock.Clock) *Pricer {
	return &Pricer{clock: c}
}

func (p *Pricer) CurrentPrice(params Params) (*uint256.Int, error) {
	return CurrentPrice(params, p.clock.Now())
}

func (p *Pricer) TakingAmountFor(making *uint256.Int, params Params) (*uint256.Int, error) {
	price, err := p.CurrentPrice(params)
	if err != nil {
		return nil, err
	}
	return TakingAmount(making, price)
}

func (p *Pricer) MakingAmountFor(taking *uint256.Int, params Params) (*uint256.Int, error) {
	price, err := p.CurrentPrice(params)
	if err != nil {
		return nil, err
	}
	return MakingAmount(taking, price)
}
