// Package resolution implements the oracle-driven resolution engine: a
// single periodic control loop, owned by a dedicated worker, that
// freezes expired markets, fetches outcomes from the oracle port,
// verifies proofs, and drives lifecycle transitions.
//
// Structurally this is a ticker-driven Run(ctx) loop, cancellable at
// tick boundaries, that catches all per-item errors and continues
// rather than aborting: one market's oracle failure never blocks the
// rest of the pass.
package resolution

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"predicore/internal/core"
	"predicore/internal/lifecycle"
	"predicore/internal/oracle"
	"predicore/internal/registry"
	"predicore/pkg/types"
)

// Config carries the resolution loop's tunables.
type Config struct {
	CheckInterval         time.Duration
	AutoFreeze            bool
	AutoResolve           bool
	RequireManualApproval bool
	OracleCallTimeout     time.Duration
}

// pendingApproval stashes a verified proof awaiting manual sign-off.
type pendingApproval struct {
	proof oracle.Proof
}

// Engine is the resolution control loop.
type Engine struct {
	reg    *registry.Registry
	oracle oracle.Port
	store  core.Store
	bus    core.Broadcaster
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]pendingApproval

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a resolution Engine. It does not start the loop; call Run
// in a goroutine (or Start, which does so for you).
func New(reg *registry.Registry, oraclePort oracle.Port, store core.Store, bus core.Broadcaster, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	if cfg.OracleCallTimeout <= 0 {
		cfg.OracleCallTimeout = 10 * time.Second
	}
	return &Engine{
		reg:     reg,
		oracle:  oraclePort,
		store:   store,
		bus:     bus,
		cfg:     cfg,
		logger:  logger.With("component", "resolution"),
		pending: make(map[string]pendingApproval),
	}
}

// Start launches the loop in its own goroutine. Stop cancels it.
func (e *Engine) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.Run(ctx)
	}()
}

// Stop cancels the loop and waits for it to return.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

// Run executes the control loop until ctx is cancelled. It is
// cancellable at tick boundaries only: a tick already in progress runs
// to completion.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

// tick runs one scan-freeze-resolve pass. Any oracle error for a single
// market is logged and retried on the next tick; it never aborts the
// rest of the pass.
func (e *Engine) tick(ctx context.Context) {
	active := e.reg.ListByStatus(types.ACTIVE)
	for _, m := range active {
		if err := e.maybeFreeze(ctx, m); err != nil {
			e.logger.Error("freeze check failed", "market_id", m.ID, "error", err)
		}
	}

	frozen := e.reg.ListByStatus(types.FROZEN)
	for _, m := range frozen {
		if err := e.maybeResolve(ctx, m); err != nil {
			e.logger.Error("resolve attempt failed", "market_id", m.ID, "error", err)
		}
	}
}

func (e *Engine) maybeFreeze(ctx context.Context, m *types.Market) error {
	if !e.cfg.AutoFreeze {
		return nil
	}
	cctx, cancel := context.WithTimeout(ctx, e.cfg.OracleCallTimeout)
	defer cancel()

	should, err := e.oracle.ShouldFreeze(cctx, m.ID, m.EndTime)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrOracleUnavailable, err)
	}
	if !should {
		return nil
	}

	preState, err := e.reg.Get(m.ID)
	if err != nil {
		return err
	}
	err = e.reg.Mutate(m.ID, func(live *types.Market) error {
		return lifecycle.Freeze(live, e.oracle.Identity())
	})
	if err != nil {
		return err
	}
	return e.persistAndBroadcast(m.ID, preState)
}

func (e *Engine) maybeResolve(ctx context.Context, m *types.Market) error {
	if !e.cfg.AutoResolve {
		return nil
	}
	cctx, cancel := context.WithTimeout(ctx, e.cfg.OracleCallTimeout)
	defer cancel()

	proof, err := e.oracle.FetchOutcome(cctx, m.ID, m.Question)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrOracleUnavailable, err)
	}
	valid, err := e.oracle.VerifyProof(cctx, proof)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrOracleUnavailable, err)
	}
	if !valid {
		return fmt.Errorf("%w: market %s", core.ErrOracleProofInvalid, m.ID)
	}

	if e.cfg.RequireManualApproval {
		e.mu.Lock()
		e.pending[m.ID] = pendingApproval{proof: proof}
		e.mu.Unlock()
		return nil
	}

	return e.applyResolve(m.ID, proof)
}

func (e *Engine) applyResolve(marketID string, proof oracle.Proof) error {
	preState, err := e.reg.Get(marketID)
	if err != nil {
		return err
	}
	err = e.reg.Mutate(marketID, func(live *types.Market) error {
		return lifecycle.Resolve(live, proof.Outcome, proof.Timestamp)
	})
	if err != nil {
		return err
	}
	return e.persistAndBroadcast(marketID, preState)
}

// ApprovePending advances a stashed proof to resolve. admin is recorded
// only for audit logging; no independent authorization model is defined
// for this action.
func (e *Engine) ApprovePending(marketID, admin string) error {
	e.mu.Lock()
	pa, ok := e.pending[marketID]
	if ok {
		delete(e.pending, marketID)
	}
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("resolution: %w: no pending approval for %s", core.ErrMarketNotFound, marketID)
	}
	e.logger.Info("manual approval granted", "market_id", marketID, "admin", admin)
	return e.applyResolve(marketID, pa.proof)
}

// RejectPending discards a stashed proof, leaving the market FROZEN.
func (e *Engine) RejectPending(marketID, admin, reason string) error {
	e.mu.Lock()
	_, ok := e.pending[marketID]
	if ok {
		delete(e.pending, marketID)
	}
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("resolution: %w: no pending approval for %s", core.ErrMarketNotFound, marketID)
	}
	e.logger.Info("manual approval rejected", "market_id", marketID, "admin", admin, "reason", reason)
	return nil
}

// ForceResolve is the admin override: it bypasses oracle verification
// entirely and logs the admin identity and reason for audit. This action
// is not guarded by signature verification; callers are responsible for
// authorization.
func (e *Engine) ForceResolve(marketID string, outcome types.Outcome, admin, reason string) error {
	preState, err := e.reg.Get(marketID)
	if err != nil {
		return err
	}
	err = e.reg.Mutate(marketID, func(live *types.Market) error {
		return lifecycle.Resolve(live, outcome, time.Now())
	})
	if err != nil {
		return err
	}
	e.logger.Warn("force-resolved market", "market_id", marketID, "outcome", outcome, "admin", admin, "reason", reason)
	return e.persistAndBroadcast(marketID, preState)
}

// persistAndBroadcast saves the registry snapshot and publishes a
// market-update event. A persistence failure rolls the in-memory
// mutation back to preState and returns a wrapped
// core.ErrPersistenceFailure; tick's caller is what logs and continues
// rather than aborting the rest of the pass.
func (e *Engine) persistAndBroadcast(marketID string, preState *types.Market) error {
	if e.store != nil {
		if err := e.store.Save(e.reg.Snapshot(), e.reg.LockedSnapshot()); err != nil {
			e.logger.Error("persistence failure", "error", err, "market_id", marketID)
			if rbErr := e.reg.Replace(marketID, preState); rbErr != nil {
				e.logger.Error("rollback after persistence failure also failed", "error", rbErr, "market_id", marketID)
			}
			return fmt.Errorf("resolution: %w: %v", core.ErrPersistenceFailure, err)
		}
	}
	if e.bus != nil {
		if m, err := e.reg.Get(marketID); err == nil {
			e.bus.PublishMarketUpdate(m)
		}
	}
	return nil
}
