// Package executor implements the trade executor: validate intent,
// invoke the LMSR engine, mutate the market, emit a trade record, and
// hand the mutation off for persistence and broadcast.
//
// Structurally this is a per-request validate -> compute -> mutate ->
// reconcile pipeline: every step either rejects cleanly or the mutation
// is applied and persisted before the caller's request returns.
package executor

import (
	"fmt"
	"log/slog"
	"time"

	"predicore/internal/core"
	"predicore/internal/lifecycle"
	"predicore/internal/lmsr"
	"predicore/internal/registry"
	"predicore/pkg/types"
)

// defaultMaxSlippage is used when an intent omits MaxSlippage.
const defaultMaxSlippage = 0.05

// Intent is the trade-admission request.
type Intent struct {
	MarketID    string
	User        string
	Outcome     types.Outcome
	Amount      int64 // micro-units, > 0
	MaxSlippage float64
}

// Executor wires the registry to the LMSR engine, persistence, and the
// broadcaster.
type Executor struct {
	reg    *registry.Registry
	store  core.Store
	bus    core.Broadcaster
	logger *slog.Logger
}

// New returns an Executor backed by the given registry, store, and
// broadcaster.
func New(reg *registry.Registry, store core.Store, bus core.Broadcaster, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{reg: reg, store: store, bus: bus, logger: logger.With("component", "executor")}
}

// Execute admits a trade: validates the intent, prices it against the
// LMSR curve, checks slippage, and commits the mutation.
func (x *Executor) Execute(intent Intent) (types.Trade, error) {
	if intent.Outcome != types.YES && intent.Outcome != types.NO {
		return types.Trade{}, fmt.Errorf("executor: %w", core.ErrInvalidOutcome)
	}
	if intent.Amount <= 0 {
		return types.Trade{}, fmt.Errorf("executor: %w", core.ErrInvalidAmount)
	}
	maxSlippage := intent.MaxSlippage
	if maxSlippage <= 0 {
		maxSlippage = defaultMaxSlippage
	}

	preState, err := x.reg.Get(intent.MarketID)
	if err != nil {
		return types.Trade{}, err
	}

	var trade types.Trade
	err = x.reg.Mutate(intent.MarketID, func(m *types.Market) error {
		if err := lifecycle.CheckTradable(m); err != nil {
			return err
		}

		b := int64(m.AMM.B)
		qYes := int64(m.AMM.SharesYes)
		qNo := int64(m.AMM.SharesNo)

		priceBefore, err := lmsr.Price(b, qYes, qNo, intent.Outcome)
		if err != nil {
			return fmt.Errorf("executor: %w", err)
		}

		delta, err := lmsr.SharesForCost(b, qYes, qNo, intent.Outcome, intent.Amount)
		if err != nil {
			return fmt.Errorf("executor: %w", err)
		}
		cost, err := lmsr.TradeCost(b, qYes, qNo, intent.Outcome, delta)
		if err != nil {
			return fmt.Errorf("executor: %w", err)
		}
		if cost > intent.Amount {
			return fmt.Errorf("executor: cost %d exceeds amount %d: %w", cost, intent.Amount, core.ErrInvalidAmount)
		}

		var newYes, newNo int64
		if intent.Outcome == types.YES {
			newYes, newNo = qYes+delta, qNo
		} else {
			newYes, newNo = qYes, qNo+delta
		}
		priceAfter, err := lmsr.Price(b, newYes, newNo, intent.Outcome)
		if err != nil {
			return fmt.Errorf("executor: %w", err)
		}
		slippage := lmsr.Slippage(priceBefore, priceAfter)
		if slippage > maxSlippage {
			return fmt.Errorf("executor: slippage %.6f exceeds max %.6f: %w", slippage, maxSlippage, core.ErrSlippageExceeded)
		}

		if intent.Outcome == types.YES {
			m.AMM.SharesYes = types.Micro(newYes)
		} else {
			m.AMM.SharesNo = types.Micro(newNo)
		}
		m.TotalVolume += types.Micro(cost)

		key := types.PositionKey{User: intent.User, Outcome: intent.Outcome}
		pos, ok := m.Positions[key]
		if !ok {
			pos = &types.Position{}
			m.Positions[key] = pos
		}
		pos.Shares += types.Micro(delta)
		pos.TotalCost += types.Micro(cost)

		trade = types.Trade{
			MarketID:   m.ID,
			User:       intent.User,
			Outcome:    intent.Outcome,
			Amount:     types.Micro(cost),
			Shares:     types.Micro(delta),
			PriceAfter: priceAfter,
			Timestamp:  time.Now(),
		}
		m.Trades = append(m.Trades, trade)

		return registry.CheckInvariants(m)
	})
	if err != nil {
		return types.Trade{}, err
	}

	if err := x.persistAndBroadcast(intent.MarketID); err != nil {
		if rbErr := x.reg.Replace(intent.MarketID, preState); rbErr != nil {
			x.logger.Error("rollback after persistence failure also failed", "error", rbErr, "market_id", intent.MarketID)
		}
		return types.Trade{}, err
	}
	return trade, nil
}

// persistAndBroadcast saves the whole registry snapshot and publishes a
// market-update event. Both complete before the caller's request
// returns, but after the market lock guarding the mutation has already
// been released (the snapshot read here is a fresh, consistent clone).
// A persistence failure is fatal per-mutation: the caller is expected to
// roll the in-memory mutation back using the error returned here.
func (x *Executor) persistAndBroadcast(marketID string) error {
	if x.store != nil {
		if err := x.store.Save(x.reg.Snapshot(), x.reg.LockedSnapshot()); err != nil {
			x.logger.Error("persistence failure", "error", err, "market_id", marketID)
			return fmt.Errorf("executor: %w: %v", core.ErrPersistenceFailure, err)
		}
	}
	if x.bus != nil {
		if m, err := x.reg.Get(marketID); err == nil {
			x.bus.PublishMarketUpdate(m)
		}
	}
	return nil
}
