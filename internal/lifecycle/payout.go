package lifecycle

import (
	"fmt"

	"predicore/internal/core"
	"predicore/pkg/types"
)

// ComputePayouts implements the winner-take-all payout rule: each winning
// position receives floor(s / S_w * total_volume) micro-units, where S_w
// is the total winning-outcome shares across all positions. If no one
// holds the winning outcome (S_w == 0), every position degenerates to a
// refund of its own total_cost. The returned map is keyed by user
// address; losing positions are simply absent (their payout is zero).
func ComputePayouts(m *types.Market) (map[string]int64, error) {
	if m.Status != types.RESOLVED && m.Status != types.SETTLED {
		return nil, fmt.Errorf("lifecycle: payouts for %s: %w", m.ID, core.ErrIllegalTransition)
	}
	if m.WinningOutcome == nil {
		return nil, fmt.Errorf("lifecycle: payouts for %s: no winning outcome recorded", m.ID)
	}
	winner := *m.WinningOutcome

	var sWin int64
	for key, pos := range m.Positions {
		if key.Outcome == winner {
			sWin += int64(pos.Shares)
		}
	}

	payouts := make(map[string]int64)
	if sWin == 0 {
		for key, pos := range m.Positions {
			if pos.TotalCost == 0 {
				continue
			}
			payouts[key.User] += int64(pos.TotalCost)
		}
		return payouts, nil
	}

	totalVolume := int64(m.TotalVolume)
	for key, pos := range m.Positions {
		if key.Outcome != winner || pos.Shares == 0 {
			continue
		}
		payout := int64(pos.Shares) * totalVolume / sWin
		if payout > 0 {
			payouts[key.User] += payout
		}
	}
	return payouts, nil
}
