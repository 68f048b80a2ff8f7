// Package lifecycle implements the market state machine: ACTIVE -> FROZEN
// -> RESOLVED -> SETTLED, with CANCELLED reachable from ACTIVE or FROZEN.
// The transition functions here are called with the caller already holding
// the market's write lock (via registry.Registry.Mutate); read-only helpers
// such as ComputePayouts are also called on cloned snapshots. None of
// these functions lock anything themselves.
package lifecycle

import (
	"fmt"
	"time"

	"predicore/internal/core"
	"predicore/pkg/types"
)

// CheckTradable returns ErrMarketNotTradable unless the market accepts
// trade, refund, and create operations (status == ACTIVE).
func CheckTradable(m *types.Market) error {
	if m.Status != types.ACTIVE {
		return fmt.Errorf("lifecycle: market %s: %w", m.ID, core.ErrMarketNotTradable)
	}
	return nil
}

// Freeze transitions an ACTIVE market to FROZEN. authority identifies the
// caller (an oracle identity or admin) for audit purposes; the caller's
// authority itself is not independently verified here.
func Freeze(m *types.Market, authority string) error {
	if m.Status != types.ACTIVE {
		return fmt.Errorf("lifecycle: freeze %s from %s: %w", m.ID, m.Status, core.ErrIllegalTransition)
	}
	m.Status = types.FROZEN
	return nil
}

// Resolve transitions a FROZEN market to RESOLVED, recording the winning
// outcome. Proof verification happens upstream (internal/resolution);
// this function only performs the state transition once a verified
// outcome is in hand.
func Resolve(m *types.Market, outcome types.Outcome, now time.Time) error {
	if m.Status != types.FROZEN {
		return fmt.Errorf("lifecycle: resolve %s from %s: %w", m.ID, m.Status, core.ErrIllegalTransition)
	}
	o := outcome
	m.Status = types.RESOLVED
	m.WinningOutcome = &o
	t := now
	m.ResolvedAt = &t
	return nil
}

// Settle transitions a RESOLVED market to SETTLED. Called by the
// settlement coordinator once signature quorum is reached.
func Settle(m *types.Market, now time.Time) error {
	if m.Status != types.RESOLVED {
		return fmt.Errorf("lifecycle: settle %s from %s: %w", m.ID, m.Status, core.ErrIllegalTransition)
	}
	m.Status = types.SETTLED
	t := now
	m.SettledAt = &t
	return nil
}

// Cancel transitions an ACTIVE or FROZEN market to CANCELLED, refunding
// every open position in full (total_cost, no penalty — distinct from
// the early-exit Refund below, which retains a quarter penalty).
func Cancel(m *types.Market, reason string, now time.Time) error {
	if m.Status != types.ACTIVE && m.Status != types.FROZEN {
		return fmt.Errorf("lifecycle: cancel %s from %s: %w", m.ID, m.Status, core.ErrIllegalTransition)
	}
	for key, pos := range m.Positions {
		if pos.Shares == 0 {
			continue
		}
		trade := types.Trade{
			MarketID:  m.ID,
			User:      key.User,
			Outcome:   key.Outcome,
			Amount:    -pos.TotalCost,
			Shares:    -pos.Shares,
			Timestamp: now,
		}
		m.Trades = append(m.Trades, trade)
		delete(m.Positions, key)
	}
	m.Status = types.CANCELLED
	return nil
}
