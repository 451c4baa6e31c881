package auction

import (
	"crossswap/apps/crossswap/internal/clock"
	"errors"
	"github.com/holiman/uint256"
	"testing"
	"time"
)

func price(s string) *uint256.Int {
	return uint256.MustFromDecimal(s)
}

func testParams(start time.Time) Params {
	return Params{
		StartPrice: price("950000000000000000"),
		EndPrice:   price("930000000000000000"),
		StartTime:  start,
		EndTime:    start.Add(300 * time.Second),
	}
}

func TestCurrentPriceCurve(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	params := testParams(start)

	tests := []struct {
		name    string
		offset  time.Duration
		want    string
		wantErr error
	}{
		{name: "BeforeStart", offset: -time.Second, wantErr: ErrAuctionNotStarted},
		{name: "AtStart", offset: 0, want: "950000000000000000"},
		{name: "Midway", offset: 150 * time.Second, want: "940000000000000000"},
		{name: "OneThird", offset: 100 * time.Second, want: "943333333333333334"},
		{name: "AtEnd", offset: 300 * time.Second, want: "930000000000000000"},
		{name: "PastEnd", offset: time.Hour, want: "930000000000000000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CurrentPrice(params, start.Add(tt.offset))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("CurrentPrice failed: %v", err)
			}
			if got.Dec() != tt.want {
				t.Errorf("price = %s, want %s", got.Dec(), tt.want)
			}
		})
	}
}

func TestCurrentPriceMonotonic(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	params := testParams(start)

	prev, err := CurrentPrice(params, start)
	if err != nil {
		t.Fatalf("CurrentPrice failed: %v", err)
	}
	for s := 1; s <= 320; s++ {
		cur, err := CurrentPrice(params, start.Add(time.Duration(s)*time.Second))
		if err != nil {
			t.Fatalf("CurrentPrice at +%ds failed: %v", s, err)
		}
		if cur.Gt(prev) {
			t.Fatalf("price increased at +%ds: %s > %s", s, cur.Dec(), prev.Dec())
		}
		prev = cur
	}
}

func TestInvalidParams(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)

	tests := []struct {
		name   string
		params Params
	}{
		{name: "EndBeforeStart", params: Params{StartPrice: price("2"), EndPrice: price("1"), StartTime: start, EndTime: start.Add(-time.Second)}},
		{name: "ZeroDuration", params: Params{StartPrice: price("2"), EndPrice: price("1"), StartTime: start, EndTime: start}},
		{name: "RisingPrice", params: Params{StartPrice: price("1"), EndPrice: price("2"), StartTime: start, EndTime: start.Add(time.Minute)}},
		{name: "MissingPrice", params: Params{StartTime: start, EndTime: start.Add(time.Minute)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := CurrentPrice(tt.params, start); !errors.Is(err, ErrInvalidAuctionParams) {
				t.Errorf("expected ErrInvalidAuctionParams, got %v", err)
			}
		})
	}
}

func TestTakingAndMakingAmounts(t *testing.T) {
	p := price("950000000000000000")

	taking, err := TakingAmount(price("100000000000000000000"), p)
	if err != nil {
		t.Fatalf("TakingAmount failed: %v", err)
	}
	if taking.Dec() != "95000000000000000000" {
		t.Errorf("taking = %s, want 95e18", taking.Dec())
	}

	making, err := MakingAmount(taking, p)
	if err != nil {
		t.Fatalf("MakingAmount failed: %v", err)
	}
	if making.Dec() != "100000000000000000000" {
		t.Errorf("making = %s, want 100e18", making.Dec())
	}

	if _, err := MakingAmount(taking, new(uint256.Int)); !errors.Is(err, ErrDivisionByZero) {
		t.Errorf("expected ErrDivisionByZero, got %v", err)
	}

	max := new(uint256.Int).SetAllOne()
	if _, err := TakingAmount(max, p); !errors.Is(err, ErrOverflow) {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
}

func TestPricerUsesClock(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	c := clock.NewManual(start.Add(-time.Minute))
	pricer := NewPricer(c)
	params := testParams(start)

	if _, err := pricer.CurrentPrice(params); !errors.Is(err, ErrAuctionNotStarted) {
		t.Fatalf("expected ErrAuctionNotStarted, got %v", err)
	}

	c.Set(start.Add(150 * time.Second))
	taking, err := pricer.TakingAmountFor(price("100"), params)
	if err != nil {
		t.Fatalf("TakingAmountFor failed: %v", err)
	}
	if taking.Dec() != "94" {
		t.Errorf("taking = %s, want 94", taking.Dec())
	}
}
