// Package engine is the central orchestrator of the prediction-market
// core. It wires together every component — registry, executor,
// lifecycle, resolution engine, settlement coordinator, store,
// broadcaster, oracle port, and channel-client port — behind a single
// set of admin and query entry points.
//
// Structurally this follows a New()/Start()/Stop() lifecycle with a
// ctx/cancel/wg goroutine discipline: on Stop, the resolution loop and
// settlement coordinator are given a chance to finish their current tick
// before the store is closed. Core owns one goroutine per long-running
// subsystem, not per traded market.
package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"predicore/internal/broadcast"
	"predicore/internal/channel"
	"predicore/internal/config"
	"predicore/internal/core"
	"predicore/internal/executor"
	"predicore/internal/lifecycle"
	"predicore/internal/lmsr"
	"predicore/internal/oracle"
	"predicore/internal/registry"
	"predicore/internal/resolution"
	"predicore/internal/settlement"
	"predicore/internal/store"
	"predicore/pkg/types"
)

// deadlineExpiryInterval is how often the settlement coordinator sweeps
// for signature requests whose deadline has passed without quorum.
const deadlineExpiryInterval = 15 * time.Second

// MarketStats is the aggregate view returned by GetMarketStats.
type MarketStats struct {
	MarketID         string
	Status           types.Status
	TotalVolume      types.Micro
	PriceYes         float64
	PriceNo          float64
	ParticipantCount int
	TradeCount       int
}

// Core orchestrates every subsystem of the prediction-market engine.
type Core struct {
	cfg config.Config

	reg        *registry.Registry
	store      *store.Store
	hub        *broadcast.Hub
	exec       *executor.Executor
	resolution *resolution.Engine
	settlement *settlement.Coordinator
	oracle     oracle.Port
	channel    *channel.WSAdapter
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds and wires a Core from cfg, restoring any persisted snapshot.
// It does not start any background loop; call Start for that.
func New(cfg config.Config, logger *slog.Logger) (*Core, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := store.Open(cfg.Store.DataDir)
	if err != nil {
		return nil, fmt.Errorf("engine: open store: %w", err)
	}

	reg := registry.New()
	markets, locked, err := st.Load()
	if err != nil {
		return nil, fmt.Errorf("engine: load snapshot: %w", err)
	}
	if markets != nil {
		reg.Restore(markets)
	}
	if locked != nil {
		reg.RestoreLocked(locked)
	}

	hub := broadcast.NewHub(logger)

	oraclePort, err := buildOracle(cfg.Oracle)
	if err != nil {
		return nil, err
	}

	exec := executor.New(reg, st, hub, logger)

	resCfg := resolution.Config{
		CheckInterval:         cfg.Resolution.CheckInterval,
		AutoFreeze:            cfg.Resolution.AutoFreeze,
		AutoResolve:           cfg.Resolution.AutoResolve,
		RequireManualApproval: cfg.Resolution.RequireManualApproval,
		OracleCallTimeout:     cfg.Resolution.OracleCallTimeout,
	}
	resEngine := resolution.New(reg, oraclePort, st, hub, resCfg, logger)

	settleCoord := settlement.New(reg, st, hub, logger)

	chClient := channel.NewWSAdapter(cfg.Channel.NetworkURL, logger)

	return &Core{
		cfg:        cfg,
		reg:        reg,
		store:      st,
		hub:        hub,
		exec:       exec,
		resolution: resEngine,
		settlement: settleCoord,
		oracle:     oraclePort,
		channel:    chClient,
		logger:     logger.With("component", "engine"),
	}, nil
}

func buildOracle(cfg config.OracleConfig) (oracle.Port, error) {
	switch cfg.Kind {
	case "http":
		return oracle.NewHTTPAdapter(cfg.BaseURL, cfg.Identity), nil
	case "onchain":
		return oracle.NewOnchainAdapter(common.HexToAddress(cfg.TrustedSigner), cfg.Identity, cfg.FreezeAfter), nil
	default:
		return nil, fmt.Errorf("engine: unknown oracle kind %q", cfg.Kind)
	}
}

// Start launches every background worker: the broadcaster's fan-out
// loop, the resolution control loop, the settlement deadline sweep, and
// the channel adapter's reconnecting connection.
func (c *Core) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)

	go c.hub.Run()

	c.resolution.Start(c.ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.runDeadlineSweep()
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.channel.Run(c.ctx); err != nil && c.ctx.Err() == nil {
			c.logger.Error("channel adapter error", "error", err)
		}
	}()

	c.logger.Info("engine started", "dry_run", c.cfg.DryRun)
	return nil
}

// Stop cancels the resolution loop, the settlement deadline sweep and the
// channel adapter, waits for them to return, and closes the store. The
// broadcaster's fan-out loop has no stop signal and is not waited for.
func (c *Core) Stop() {
	c.logger.Info("shutting down")
	if c.cancel != nil {
		c.cancel()
	}
	c.resolution.Stop()
	c.wg.Wait()
	if err := c.store.Close(); err != nil {
		c.logger.Error("failed to close store", "error", err)
	}
	c.logger.Info("shutdown complete")
}

// Hub exposes the broadcaster for an HTTP binding to subscribe to.
func (c *Core) Hub() *broadcast.Hub {
	return c.hub
}

func (c *Core) runDeadlineSweep() {
	ticker := time.NewTicker(deadlineExpiryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.settlement.ExpireDeadlines(time.Now())
		}
	}
}

// --- Admin entry points ---

// CreateMarketParams is the input to CreateMarket.
type CreateMarketParams struct {
	Question         string
	Description      string
	DurationSeconds  int64
	InitialLiquidity int64
	Creator          string
	ChannelID        string
	AppSessionID     string
}

// CreateMarket admits a new ACTIVE market funded with InitialLiquidity as
// the LMSR liquidity parameter b. The channel-client open call is
// best-effort: the core only touches the channel port on the creation
// and settlement paths, and channel failures are advisory, so a failed
// confirmation is logged and does not block market creation.
func (c *Core) CreateMarket(ctx context.Context, p CreateMarketParams) (string, error) {
	if p.InitialLiquidity <= 0 {
		return "", fmt.Errorf("engine: %w: initial_liquidity must be > 0", core.ErrInvalidAmount)
	}
	if p.DurationSeconds <= 0 {
		return "", fmt.Errorf("engine: invalid duration_seconds %d", p.DurationSeconds)
	}

	if ack, err := c.channel.OpenChannel(ctx, p.Creator, p.InitialLiquidity); err != nil {
		c.logger.Warn("channel open_channel failed, proceeding with supplied channel id", "error", err, "creator", p.Creator)
	} else {
		c.logger.Info("channel opened", "channel_id", ack.ChannelID, "session_id", ack.SessionID)
	}

	now := time.Now()
	m := &types.Market{
		ID:           newMarketID(p.Question, p.Creator),
		Question:     p.Question,
		Description:  p.Description,
		Creator:      p.Creator,
		CreatedAt:    now,
		EndTime:      now.Add(time.Duration(p.DurationSeconds) * time.Second),
		Status:       types.ACTIVE,
		AMM:          types.AMM{B: types.Micro(p.InitialLiquidity)},
		Positions:    make(map[types.PositionKey]*types.Position),
		ChannelID:    p.ChannelID,
		AppSessionID: p.AppSessionID,
	}
	if err := registry.CheckInvariants(m); err != nil {
		return "", err
	}
	if err := c.reg.Insert(m); err != nil {
		return "", err
	}
	c.reg.IncreaseLocked(p.Creator, p.InitialLiquidity)

	if err := c.store.Save(c.reg.Snapshot(), c.reg.LockedSnapshot()); err != nil {
		c.logger.Error("persistence failure on create", "error", err, "market_id", m.ID)
		return "", fmt.Errorf("engine: %w: %v", core.ErrPersistenceFailure, err)
	}
	c.hub.PublishMarketUpdate(m)
	return m.ID, nil
}

// newMarketID derives a collision-resistant id from the market's
// question and creator plus a random salt, keccak256-hashed with the
// same go-ethereum primitive the settlement coordinator uses for the
// final-state commitment, rather than introducing a second hash
// function into the module.
func newMarketID(question, creator string) string {
	salt := make([]byte, 16)
	_, _ = rand.Read(salt)
	h := crypto.Keccak256Hash([]byte(question), []byte(creator), salt)
	return hex.EncodeToString(h[:16])
}

// SubmitTrade admits a trade against an ACTIVE market. Trade admission
// is the executor's own API; it's exposed here too so Core remains the
// single entry point callers need.
func (c *Core) SubmitTrade(intent executor.Intent) (types.Trade, error) {
	return c.exec.Execute(intent)
}

// FreezeMarket transitions an ACTIVE market to FROZEN under admin or
// oracle authority.
func (c *Core) FreezeMarket(marketID, authority string) error {
	preState, err := c.reg.Get(marketID)
	if err != nil {
		return err
	}
	if err := c.reg.Mutate(marketID, func(m *types.Market) error {
		return lifecycle.Freeze(m, authority)
	}); err != nil {
		return err
	}
	return c.persistAndBroadcast(marketID, preState)
}

// ResolveMarket transitions a FROZEN market to RESOLVED given a proof.
// The freeze/resolve scan and the usual oracle polling are the
// resolution engine's job (internal/resolution); this entry point is for
// callers that already hold an outcome proof (e.g. replaying an external
// adjudication), so it still verifies the proof itself before applying
// the transition.
func (c *Core) ResolveMarket(marketID string, outcome types.Outcome, proof oracle.Proof) error {
	valid, err := c.oracle.VerifyProof(context.Background(), proof)
	if err != nil {
		return fmt.Errorf("engine: %w: %v", core.ErrOracleUnavailable, err)
	}
	if !valid {
		return fmt.Errorf("engine: %w: market %s", core.ErrOracleProofInvalid, marketID)
	}

	preState, err := c.reg.Get(marketID)
	if err != nil {
		return err
	}
	if err := c.reg.Mutate(marketID, func(m *types.Market) error {
		return lifecycle.Resolve(m, outcome, proof.Timestamp)
	}); err != nil {
		return err
	}
	return c.persistAndBroadcast(marketID, preState)
}

// SettleMarket opens the signature-collection window for a RESOLVED
// market, using the configured signature deadline and required signers.
func (c *Core) SettleMarket(marketID string) error {
	participants := c.cfg.Settlement.RequiredSigners
	deadline := time.Now().Add(c.cfg.Settlement.SignatureDeadline)
	return c.settlement.Request(marketID, participants, deadline, time.Now().Unix())
}

// SubmitSettlementSignature forwards a participant's signature to the
// settlement coordinator, required to drive SettleMarket to completion.
func (c *Core) SubmitSettlementSignature(marketID, signer string, signature []byte) (collected, required int, err error) {
	return c.settlement.Submit(marketID, signer, signature)
}

// CancelMarket transitions an ACTIVE or FROZEN market to CANCELLED,
// refunding every open position at full cost.
func (c *Core) CancelMarket(marketID, reason string) error {
	preState, err := c.reg.Get(marketID)
	if err != nil {
		return err
	}
	if err := c.reg.Mutate(marketID, func(m *types.Market) error {
		return lifecycle.Cancel(m, reason, time.Now())
	}); err != nil {
		return err
	}
	c.reg.DecreaseLocked(preState.Creator, int64(preState.AMM.B))
	if err := c.persistAndBroadcast(marketID, preState); err != nil {
		c.reg.IncreaseLocked(preState.Creator, int64(preState.AMM.B))
		return err
	}
	return nil
}

// ForceResolve is the admin override that bypasses oracle verification
// entirely. This action is not guarded by signature verification;
// callers are responsible for authorization.
func (c *Core) ForceResolve(marketID string, outcome types.Outcome, admin, reason string) error {
	return c.resolution.ForceResolve(marketID, outcome, admin, reason)
}

func (c *Core) persistAndBroadcast(marketID string, preState *types.Market) error {
	if err := c.store.Save(c.reg.Snapshot(), c.reg.LockedSnapshot()); err != nil {
		c.logger.Error("persistence failure", "error", err, "market_id", marketID)
		if rbErr := c.reg.Replace(marketID, preState); rbErr != nil {
			c.logger.Error("rollback after persistence failure also failed", "error", rbErr, "market_id", marketID)
		}
		return fmt.Errorf("engine: %w: %v", core.ErrPersistenceFailure, err)
	}
	if m, err := c.reg.Get(marketID); err == nil {
		c.hub.PublishMarketUpdate(m)
	}
	return nil
}

// --- Query entry points ---

// ListActive returns every ACTIVE market.
func (c *Core) ListActive() []*types.Market {
	return c.reg.ListByStatus(types.ACTIVE)
}

// GetMarket returns a single market by id.
func (c *Core) GetMarket(marketID string) (*types.Market, error) {
	return c.reg.Get(marketID)
}

// GetUserPositions returns every position a user holds, keyed by
// market id.
func (c *Core) GetUserPositions(user string) map[string][]types.Position {
	out := make(map[string][]types.Position)
	for _, m := range c.reg.List() {
		for key, pos := range m.Positions {
			if key.User != user {
				continue
			}
			out[m.ID] = append(out[m.ID], *pos)
		}
	}
	return out
}

// GetUserTrades returns a user's trade history in a single market.
func (c *Core) GetUserTrades(marketID, user string) ([]types.Trade, error) {
	m, err := c.reg.Get(marketID)
	if err != nil {
		return nil, err
	}
	var out []types.Trade
	for _, t := range m.Trades {
		if t.User == user {
			out = append(out, t)
		}
	}
	return out, nil
}

// GetMarketStats summarizes a market's current AMM and trading state.
func (c *Core) GetMarketStats(marketID string) (MarketStats, error) {
	m, err := c.reg.Get(marketID)
	if err != nil {
		return MarketStats{}, err
	}
	stats := MarketStats{
		MarketID:         m.ID,
		Status:           m.Status,
		TotalVolume:      m.TotalVolume,
		ParticipantCount: len(m.Positions),
		TradeCount:       len(m.Trades),
	}
	if m.Status == types.ACTIVE || m.Status == types.FROZEN {
		b, qYes, qNo := int64(m.AMM.B), int64(m.AMM.SharesYes), int64(m.AMM.SharesNo)
		if priceYes, err := lmsr.Price(b, qYes, qNo, types.YES); err == nil {
			stats.PriceYes = priceYes
		}
		if priceNo, err := lmsr.Price(b, qYes, qNo, types.NO); err == nil {
			stats.PriceNo = priceNo
		}
	}
	return stats, nil
}

// GetLockedLiquidity returns an address's total locked liquidity across
// all markets it created.
func (c *Core) GetLockedLiquidity(address string) int64 {
	return c.reg.GetLocked(address)
}

// GetUserWinnings returns a user's computed payout in a RESOLVED or
// SETTLED market, under the winner-take-all payout rule.
func (c *Core) GetUserWinnings(marketID, user string) (int64, error) {
	m, err := c.reg.Get(marketID)
	if err != nil {
		return 0, err
	}
	payouts, err := lifecycle.ComputePayouts(m)
	if err != nil {
		return 0, err
	}
	return payouts[user], nil
}
