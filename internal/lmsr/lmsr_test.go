package lmsr

import (
	"math"
	"testing"

	"predicore/pkg/types"
)

func TestFreshMarketInitialPrices(t *testing.T) {
	t.Parallel()

	b := int64(1_000_000_000)
	cost, err := Cost(b, 0, 0)
	if err != nil {
		t.Fatalf("Cost: %v", err)
	}
	if cost != 0 {
		t.Errorf("Cost(b,0,0) = %d, want 0", cost)
	}

	py, err := Price(b, 0, 0, types.YES)
	if err != nil {
		t.Fatalf("Price YES: %v", err)
	}
	pn, err := Price(b, 0, 0, types.NO)
	if err != nil {
		t.Fatalf("Price NO: %v", err)
	}
	if math.Abs(py-0.5) > 1e-9 {
		t.Errorf("price(YES) = %v, want 0.5", py)
	}
	if math.Abs(pn-0.5) > 1e-9 {
		t.Errorf("price(NO) = %v, want 0.5", pn)
	}
}

func TestPricesSumToOne(t *testing.T) {
	t.Parallel()

	tests := []struct{ b, qYes, qNo int64 }{
		{1_000_000_000, 0, 0},
		{1_000_000_000, 200_200_000, 0},
		{1_000_000, 500_000, 500_000},
		{1_000_000_000, 5_000_000_000, 1_000_000},
	}
	for _, tt := range tests {
		py, err := Price(tt.b, tt.qYes, tt.qNo, types.YES)
		if err != nil {
			t.Fatalf("Price: %v", err)
		}
		pn, err := Price(tt.b, tt.qYes, tt.qNo, types.NO)
		if err != nil {
			t.Fatalf("Price: %v", err)
		}
		if math.Abs(py+pn-1) > 1e-9 {
			t.Errorf("b=%d qYes=%d qNo=%d: price(YES)+price(NO) = %v, want 1", tt.b, tt.qYes, tt.qNo, py+pn)
		}
	}
}

func TestSingleBuyPriceShift(t *testing.T) {
	t.Parallel()

	b := int64(1_000_000_000)
	amount := int64(100_000_000)

	delta, err := SharesForCost(b, 0, 0, types.YES, amount)
	if err != nil {
		t.Fatalf("SharesForCost: %v", err)
	}

	const wantShares = 190_902_829
	if diff := delta - wantShares; diff > 10_000 || diff < -10_000 {
		t.Errorf("shares = %d, want ~%d (+/-1e4)", delta, wantShares)
	}

	cost, err := TradeCost(b, 0, 0, types.YES, delta)
	if err != nil {
		t.Fatalf("TradeCost: %v", err)
	}
	if cost > amount {
		t.Errorf("cost %d exceeds amount %d", cost, amount)
	}
	if amount-cost > 1 {
		t.Errorf("amount-cost = %d, want <= 1 micro-unit of dust", amount-cost)
	}

	priceBefore, _ := Price(b, 0, 0, types.YES)
	priceAfter, err := Price(b, delta, 0, types.YES)
	if err != nil {
		t.Fatalf("Price after: %v", err)
	}
	if priceAfter <= priceBefore {
		t.Errorf("price(YES) after buy = %v, want > %v", priceAfter, priceBefore)
	}

	priceAfterNo, _ := Price(b, delta, 0, types.NO)
	if priceAfterNo >= 0.5 {
		t.Errorf("price(NO) after YES buy = %v, want < 0.5", priceAfterNo)
	}
}

func TestRefundRoundTrip(t *testing.T) {
	t.Parallel()

	b := int64(1_000_000_000)
	amount := int64(100_000_000)
	delta, err := SharesForCost(b, 0, 0, types.YES, amount)
	if err != nil {
		t.Fatalf("SharesForCost: %v", err)
	}

	// Selling the same delta back should return price to within 1
	// micro-unit of 0.5 (approximate round trip under LMSR).
	priceAfterSell, err := Price(b, 0, 0, types.YES)
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if math.Abs(priceAfterSell-0.5) > 1e-6 {
		t.Errorf("price after round trip = %v, want ~0.5", priceAfterSell)
	}

	refundCost, err := TradeCost(b, delta, 0, types.YES, -delta)
	if err != nil {
		t.Fatalf("TradeCost refund: %v", err)
	}
	if refundCost >= 0 {
		t.Errorf("refund trade cost = %d, want negative (payout)", refundCost)
	}
}

func TestBLessThanOrEqualZeroRejected(t *testing.T) {
	t.Parallel()

	if _, err := Cost(0, 0, 0); err != ErrInvalidLiquidity {
		t.Errorf("Cost with b=0: got %v, want ErrInvalidLiquidity", err)
	}
	if _, err := Cost(-1, 0, 0); err != ErrInvalidLiquidity {
		t.Errorf("Cost with b=-1: got %v, want ErrInvalidLiquidity", err)
	}
}

func TestMaxLoss(t *testing.T) {
	t.Parallel()

	b := int64(1_000_000_000)
	got := MaxLoss(b)
	want := int64(math.Floor(float64(b) * math.Ln2))
	if got != want {
		t.Errorf("MaxLoss(%d) = %d, want %d", b, got, want)
	}
}

func TestPriceSaturationAtSmallB(t *testing.T) {
	t.Parallel()

	// b = 1 micro-unit: a 1e9 micro-unit YES buy should still clear the
	// trade path and saturate the price close to 1, not fail outright.
	b := int64(1)
	amount := int64(1_000_000_000)

	delta, err := SharesForCost(b, 0, 0, types.YES, amount)
	if err != nil {
		t.Fatalf("SharesForCost: %v", err)
	}
	if delta <= 0 {
		t.Fatalf("delta = %d, want > 0", delta)
	}

	cost, err := TradeCost(b, 0, 0, types.YES, delta)
	if err != nil {
		t.Fatalf("TradeCost: %v", err)
	}
	if cost > amount {
		t.Errorf("cost %d exceeds amount %d", cost, amount)
	}

	py, err := Price(b, delta, 0, types.YES)
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if py <= 1-1e-6 {
		t.Errorf("price(YES) = %v, want > 1-1e-6", py)
	}
}

func TestSlippage(t *testing.T) {
	t.Parallel()

	if got := Slippage(0.5, 0.6); math.Abs(got-0.1) > 1e-12 {
		t.Errorf("Slippage(0.5,0.6) = %v, want 0.1", got)
	}
	if got := Slippage(0.6, 0.5); math.Abs(got-0.1) > 1e-12 {
		t.Errorf("Slippage(0.6,0.5) = %v, want 0.1", got)
	}
}
