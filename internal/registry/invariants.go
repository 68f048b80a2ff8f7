package registry

import (
	"fmt"

	"predicore/pkg/types"
)

// CheckInvariants validates the market-level invariants that can be
// checked structurally from current state. The lifecycle DAG is enforced
// by internal/lifecycle's transition functions; total_volume bookkeeping
// is not checked here or elsewhere. The executor calls this inside
// Registry.Mutate after each trade, and engine.CreateMarket calls it
// before insertion; the other mutation paths do not call it.
func CheckInvariants(m *types.Market) error {
	if m.AMM.SharesYes < 0 {
		return fmt.Errorf("registry: invariant violated: shares.YES = %d < 0", m.AMM.SharesYes)
	}
	if m.AMM.SharesNo < 0 {
		return fmt.Errorf("registry: invariant violated: shares.NO = %d < 0", m.AMM.SharesNo)
	}
	if m.AMM.B <= 0 {
		return fmt.Errorf("registry: invariant violated: b = %d <= 0", m.AMM.B)
	}
	for k, p := range m.Positions {
		if p.Shares < 0 {
			return fmt.Errorf("registry: invariant violated: position %s/%s shares = %d < 0", k.User, k.Outcome, p.Shares)
		}
		if p.TotalCost < 0 {
			return fmt.Errorf("registry: invariant violated: position %s/%s total_cost = %d < 0", k.User, k.Outcome, p.TotalCost)
		}
	}
	hasWinner := m.WinningOutcome != nil
	resolvedOrBeyond := m.Status == types.RESOLVED || m.Status == types.SETTLED
	if hasWinner != resolvedOrBeyond {
		return fmt.Errorf("registry: invariant violated: winning_outcome set=%v but status=%s", hasWinner, m.Status)
	}
	return nil
}
