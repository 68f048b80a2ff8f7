package lifecycle

import (
	"fmt"
	"time"

	"predicore/internal/core"
	"predicore/internal/lmsr"
	"predicore/pkg/types"
)

// refundFraction and its complement define the early-exit refund split:
// the user gets back a quarter of total_cost, the remaining three
// quarters stay in the pool as a penalty. total_volume is left untouched
// by design, so the forfeited three quarters still count toward the
// market's total volume at settlement.
const refundFraction = 4

// Refund lets a user holding (user, outcome) exit early while the market
// is ACTIVE. The position is removed, a quarter of its cost is returned
// (recorded as a negative-amount trade), and the shares are added back to
// the AMM's outcome quantity (q_o += s). Under the LMSR price function this
// raises the price of outcome o; it does not restore the pre-trade price.
func Refund(m *types.Market, user string, outcome types.Outcome, now time.Time) (types.Trade, error) {
	if err := CheckTradable(m); err != nil {
		return types.Trade{}, err
	}

	key := types.PositionKey{User: user, Outcome: outcome}
	pos, ok := m.Positions[key]
	if !ok || pos.Shares == 0 {
		return types.Trade{}, fmt.Errorf("lifecycle: refund %s/%s: %w", user, outcome, core.ErrInsufficientPosition)
	}

	refundAmount := int64(pos.TotalCost) / refundFraction

	shares := int64(pos.Shares)
	if outcome == types.YES {
		m.AMM.SharesYes += types.Micro(shares)
	} else {
		m.AMM.SharesNo += types.Micro(shares)
	}
	delete(m.Positions, key)

	priceAfter, err := lmsr.Price(int64(m.AMM.B), int64(m.AMM.SharesYes), int64(m.AMM.SharesNo), outcome)
	if err != nil {
		return types.Trade{}, fmt.Errorf("lifecycle: refund price: %w", err)
	}

	trade := types.Trade{
		MarketID:   m.ID,
		User:       user,
		Outcome:    outcome,
		Amount:     -types.Micro(refundAmount),
		Shares:     -types.Micro(shares),
		PriceAfter: priceAfter,
		Timestamp:  now,
	}
	m.Trades = append(m.Trades, trade)
	return trade, nil
}
