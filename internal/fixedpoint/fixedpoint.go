// Package fixedpoint converts between external decimal amounts and the
// internal int64 micro-unit representation, and provides the stabilized
// log-sum-exp building block the LMSR engine is built on.
//
// All monetary state that matters for correctness lives in micro-units;
// float64 is used only for the transcendental evaluation inside log-sum-exp
// and for display prices, never carried across a component boundary as the
// authoritative value.
package fixedpoint

import (
	"math"

	"github.com/shopspring/decimal"
)

// Scale is the micro-unit scaling factor: an external value of 1.0 is
// stored as 1_000_000.
const Scale = 1_000_000

// expBound is the platform-safe magnitude bound for a float64 exponent
// argument. Values are clamped here before exp() is taken; exceeding it
// flags a degenerate market whose price has saturated to {0,1}.
const expBound = 700.0

// ToMicro converts an external decimal amount to int64 micro-units,
// truncating toward zero (floor for non-negative inputs).
func ToMicro(x decimal.Decimal) int64 {
	scaled := x.Mul(decimal.NewFromInt(Scale))
	return scaled.Truncate(0).IntPart()
}

// FromMicro converts an int64 micro-unit amount back to an external
// decimal value.
func FromMicro(n int64) decimal.Decimal {
	return decimal.NewFromInt(n).Div(decimal.NewFromInt(Scale))
}

// LogSumExp evaluates log(exp(a) + exp(b)) in the numerically stable form
// m + log(exp(a-m) + exp(b-m)), where m = max(a,b). Arguments are clamped
// to +/- expBound before exponentiation: a market whose exponent has
// saturated reports its price as having collapsed to {0,1} rather than
// overflowing to +Inf.
func LogSumExp(a, b float64) float64 {
	m := math.Max(a, b)
	ac := clamp(a - m)
	bc := clamp(b - m)
	return m + math.Log(math.Exp(ac)+math.Exp(bc))
}

func clamp(x float64) float64 {
	if x > expBound {
		return expBound
	}
	if x < -expBound {
		return -expBound
	}
	return x
}

// Saturated reports whether evaluating exp(x) at the given exponent would
// have hit the clamp bound, i.e. the market's price has saturated.
func Saturated(x float64) bool {
	return x > expBound || x < -expBound
}
