package executor

import (
	"errors"
	"testing"
	"time"

	"predicore/internal/core"
	"predicore/internal/registry"
	"predicore/pkg/types"
)

type fakeStore struct {
	saves int
}

func (f *fakeStore) Save(markets []*types.Market, locked types.LockedLiquidity) error {
	f.saves++
	return nil
}

func (f *fakeStore) Load() ([]*types.Market, types.LockedLiquidity, error) {
	return nil, nil, nil
}

type fakeBus struct {
	updates int
}

func (f *fakeBus) PublishMarketUpdate(m *types.Market)                                   { f.updates++ }
func (f *fakeBus) PublishSignatureRequest(marketID string, stateHash [32]byte, deadline int64) {}
func (f *fakeBus) PublishSignatureProgress(marketID string, collected, required int)       {}
func (f *fakeBus) PublishSignatureRequestCancelled(marketID, reason string)                {}

func setup(t *testing.T) (*Executor, *registry.Registry, *fakeStore, *fakeBus) {
	t.Helper()
	reg := registry.New()
	m := &types.Market{
		ID:        "m1",
		CreatedAt: time.Now(),
		Status:    types.ACTIVE,
		AMM:       types.AMM{B: 1_000_000_000},
		Positions: map[types.PositionKey]*types.Position{},
	}
	if err := reg.Insert(m); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	store := &fakeStore{}
	bus := &fakeBus{}
	return New(reg, store, bus, nil), reg, store, bus
}

func TestExecuteSingleBuy(t *testing.T) {
	t.Parallel()

	x, reg, store, bus := setup(t)

	trade, err := x.Execute(Intent{MarketID: "m1", User: "u1", Outcome: types.YES, Amount: 100_000_000})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if trade.Amount > 100_000_000 || int64(100_000_000-trade.Amount) > 1 {
		t.Errorf("trade.Amount = %d, want within 1 micro-unit of 100000000", trade.Amount)
	}
	if trade.PriceAfter <= 0.5 {
		t.Errorf("price_after = %v, want > 0.5", trade.PriceAfter)
	}

	m, _ := reg.Get("m1")
	pos := m.Positions[types.PositionKey{User: "u1", Outcome: types.YES}]
	if pos == nil || pos.Shares != trade.Shares {
		t.Errorf("position shares = %v, want %d", pos, trade.Shares)
	}
	if store.saves != 1 {
		t.Errorf("store.saves = %d, want 1", store.saves)
	}
	if bus.updates != 1 {
		t.Errorf("bus.updates = %d, want 1", bus.updates)
	}
}

func TestExecuteRejectsInvalidOutcome(t *testing.T) {
	t.Parallel()

	x, _, _, _ := setup(t)
	_, err := x.Execute(Intent{MarketID: "m1", User: "u1", Outcome: types.Outcome(99), Amount: 1000})
	if !errors.Is(err, core.ErrInvalidOutcome) {
		t.Errorf("got %v, want ErrInvalidOutcome", err)
	}
}

func TestExecuteRejectsNonPositiveAmount(t *testing.T) {
	t.Parallel()

	x, _, _, _ := setup(t)
	_, err := x.Execute(Intent{MarketID: "m1", User: "u1", Outcome: types.YES, Amount: 0})
	if !errors.Is(err, core.ErrInvalidAmount) {
		t.Errorf("got %v, want ErrInvalidAmount", err)
	}
}

func TestExecuteRejectsMissingMarket(t *testing.T) {
	t.Parallel()

	x, _, _, _ := setup(t)
	_, err := x.Execute(Intent{MarketID: "missing", User: "u1", Outcome: types.YES, Amount: 1000})
	if !errors.Is(err, core.ErrMarketNotFound) {
		t.Errorf("got %v, want ErrMarketNotFound", err)
	}
}

func TestExecuteRejectsNotTradable(t *testing.T) {
	t.Parallel()

	x, reg, _, _ := setup(t)
	_ = reg.Mutate("m1", func(m *types.Market) error {
		m.Status = types.FROZEN
		return nil
	})
	_, err := x.Execute(Intent{MarketID: "m1", User: "u1", Outcome: types.YES, Amount: 1000})
	if !errors.Is(err, core.ErrMarketNotTradable) {
		t.Errorf("got %v, want ErrMarketNotTradable", err)
	}
}

func TestExecuteRejectsExcessiveSlippage(t *testing.T) {
	t.Parallel()

	x, _, _, _ := setup(t)
	_, err := x.Execute(Intent{MarketID: "m1", User: "u1", Outcome: types.YES, Amount: 900_000_000, MaxSlippage: 0.01})
	if !errors.Is(err, core.ErrSlippageExceeded) {
		t.Errorf("got %v, want ErrSlippageExceeded", err)
	}
}

func TestExecuteSucceedsOnSaturatedMarket(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	m := &types.Market{
		ID:        "m1",
		CreatedAt: time.Now(),
		Status:    types.ACTIVE,
		AMM:       types.AMM{B: 1},
		Positions: map[types.PositionKey]*types.Position{},
	}
	if err := reg.Insert(m); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	x := New(reg, &fakeStore{}, &fakeBus{}, nil)

	trade, err := x.Execute(Intent{MarketID: "m1", User: "u1", Outcome: types.YES, Amount: 1_000_000_000, MaxSlippage: 1})
	if err != nil {
		t.Fatalf("Execute on b=1 market: %v", err)
	}
	if trade.PriceAfter <= 1-1e-6 {
		t.Errorf("price_after = %v, want > 1-1e-6 (saturated)", trade.PriceAfter)
	}
}

type failingStore struct{}

func (failingStore) Save(markets []*types.Market, locked types.LockedLiquidity) error {
	return errors.New("disk full")
}

func (failingStore) Load() ([]*types.Market, types.LockedLiquidity, error) {
	return nil, nil, nil
}

func TestExecuteRollsBackOnPersistenceFailure(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	m := &types.Market{
		ID:        "m1",
		CreatedAt: time.Now(),
		Status:    types.ACTIVE,
		AMM:       types.AMM{B: 1_000_000_000},
		Positions: map[types.PositionKey]*types.Position{},
	}
	if err := reg.Insert(m); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	x := New(reg, failingStore{}, &fakeBus{}, nil)

	_, err := x.Execute(Intent{MarketID: "m1", User: "u1", Outcome: types.YES, Amount: 100_000_000})
	if !errors.Is(err, core.ErrPersistenceFailure) {
		t.Fatalf("got %v, want ErrPersistenceFailure", err)
	}

	got, _ := reg.Get("m1")
	if got.AMM.SharesYes != 0 {
		t.Errorf("shares_yes = %d, want 0 (mutation rolled back)", got.AMM.SharesYes)
	}
	if _, ok := got.Positions[types.PositionKey{User: "u1", Outcome: types.YES}]; ok {
		t.Error("position present after rollback, want none")
	}
	if len(got.Trades) != 0 {
		t.Errorf("trades = %d, want 0 after rollback", len(got.Trades))
	}
}
