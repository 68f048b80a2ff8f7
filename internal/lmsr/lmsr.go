// Package lmsr implements the Logarithmic Market Scoring Rule automated
// market maker for binary prediction markets.
//
// The LMSR was proposed by Robin Hanson and provides bounded market-maker
// loss (capped at b*ln(2) for a binary market), continuous pricing with
// infinite liquidity, and a path-independent cost function.
//
// All quantities (b, share vectors, cost) are int64 micro-units — the
// canonical, durable representation. Internal transcendental evaluation
// uses float64 in stabilized log-sum-exp form and is converted back to
// micro-units immediately; a float64 is never the stored or compared
// value for money. Because q/b is a ratio of two micro-unit quantities,
// evaluating it directly on the raw int64 values is dimensionally
// correct — no intermediate decimal rescaling is needed.
package lmsr

import (
	"errors"
	"math"

	"predicore/internal/fixedpoint"
	"predicore/pkg/types"
)

var (
	// ErrInvalidLiquidity is returned when b <= 0.
	ErrInvalidLiquidity = errors.New("lmsr: liquidity parameter b must be positive")

	// ErrDegenerateMarket is returned when a cost search can't bracket a
	// root even after repeated doubling (the upper bound overflowed
	// int64), meaning the market cannot be priced for that trade at all.
	ErrDegenerateMarket = errors.New("lmsr: market price has saturated")
)

// bisectionMultiplier bounds the search window for shares-for-cost
// inversion: Δ ranges over [0, cost*K]. Cost is strictly increasing and
// convex in Δ, so any K large enough to exceed the true root is safe;
// a market with cost>=1 micro-unit per share in the degenerate limit
// bounds K conservatively at this value.
const bisectionMultiplier = 1_000_000

// bisectionTolerance is the cost-window width, in micro-units, at which
// bisection terminates: the search stops once the bracket is within
// +/-1 micro-unit of the target cost.
const bisectionTolerance = 1

// Cost computes C(qYes, qNo) = b * log(exp(qYes/b) + exp(qNo/b)) in
// micro-units, using the stabilized, max-normalized log-sum-exp form:
// the dominant side's exponent is always 0 after normalization, so an
// extreme q/b ratio on one side saturates that side's price toward {0,1}
// rather than overflowing. A saturated market still prices correctly;
// it just has nothing left to learn in that direction.
func Cost(b, qYes, qNo int64) (int64, error) {
	if b <= 0 {
		return 0, ErrInvalidLiquidity
	}
	bf := float64(b)
	a := float64(qYes) / bf
	c := float64(qNo) / bf
	lse := fixedpoint.LogSumExp(a, c)
	return int64(math.Floor(bf * lse)), nil
}

// Price returns the instantaneous probability for outcome o. price(YES)
// is computed directly from the softmax; price(NO) is derived as
// 1 - price(YES) so the two always sum to exactly 1 within float
// precision, rather than computed independently and risking drift.
func Price(b, qYes, qNo int64, o types.Outcome) (float64, error) {
	if b <= 0 {
		return 0, ErrInvalidLiquidity
	}
	bf := float64(b)
	a := float64(qYes) / bf
	c := float64(qNo) / bf
	m := math.Max(a, c)
	expYes := math.Exp(a - m)
	expNo := math.Exp(c - m)
	sum := expYes + expNo
	priceYes := expYes / sum
	if o == types.YES {
		return priceYes, nil
	}
	return 1 - priceYes, nil
}

// TradeCost computes the cost to change outcome o's quantity by delta
// micro-units: C(q') - C(q) where q' is q with q_o += delta. delta may
// be negative (a sell/refund).
func TradeCost(b, qYes, qNo int64, o types.Outcome, delta int64) (int64, error) {
	before, err := Cost(b, qYes, qNo)
	if err != nil {
		return 0, err
	}
	newYes, newNo := qYes, qNo
	if o == types.YES {
		newYes += delta
	} else {
		newNo += delta
	}
	after, err := Cost(b, newYes, newNo)
	if err != nil {
		return 0, err
	}
	return after - before, nil
}

// SharesForCost computes the largest integer delta such that
// TradeCost(b, qYes, qNo, o, delta) <= cost, by monotone bisection. cost
// must be positive (a buy). Terminates when the cost window is within
// bisectionTolerance micro-units.
func SharesForCost(b, qYes, qNo int64, o types.Outcome, cost int64) (int64, error) {
	if cost <= 0 {
		return 0, errors.New("lmsr: cost must be positive")
	}

	lo, hi := int64(0), cost*bisectionMultiplier
	// Expand hi until it overshoots cost, guarding against a hi that's
	// still too small for very large b (shallow price curve).
	for {
		c, err := TradeCost(b, qYes, qNo, o, hi)
		if err != nil {
			return 0, err
		}
		if c >= cost {
			break
		}
		hi *= 2
		if hi < 0 { // overflow guard
			return 0, ErrDegenerateMarket
		}
	}

	for hi-lo > bisectionTolerance {
		mid := lo + (hi-lo)/2
		c, err := TradeCost(b, qYes, qNo, o, mid)
		if err != nil {
			return 0, err
		}
		if c <= cost {
			lo = mid
		} else {
			hi = mid
		}
	}
	return lo, nil
}

// Slippage is the absolute price movement caused by a trade.
func Slippage(priceBefore, priceAfter float64) float64 {
	return math.Abs(priceAfter - priceBefore)
}

// MaxLoss returns the LMSR market maker's bounded worst-case loss:
// b * ln(2) for a binary market.
func MaxLoss(b int64) int64 {
	return int64(math.Floor(float64(b) * math.Ln2))
}
