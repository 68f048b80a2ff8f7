// Package settlement implements the settlement coordinator: it builds a
// deterministic final-state commitment, orchestrates signature collection
// from participants under a deadline, and emits the settlement envelope
// handed to the external adjudicator.
//
// The final-state hash and signature verification use go-ethereum's
// crypto.Keccak256 for hashing and crypto.SigToPub/PubkeyToAddress for
// recover-to-signer verification, plus go-ethereum/accounts/abi for the
// canonical tuple encoding the commitment requires.
package settlement

import (
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"predicore/internal/core"
	"predicore/internal/lifecycle"
	"predicore/internal/registry"
	"predicore/pkg/types"
)

// Envelope is the artifact handed to the external adjudicator once
// signature quorum is reached.
type Envelope struct {
	MarketID     string
	StateHash    [32]byte
	EncodedState []byte
	Signatures   map[common.Address][]byte
}

// request tracks one open signature-collection window.
type request struct {
	marketID     string
	stateHash    [32]byte
	encodedState []byte
	nonce        int64
	required     map[common.Address]bool
	signatures   map[common.Address][]byte
	deadline     time.Time
	cancelled    bool
}

// Coordinator orchestrates settlement for RESOLVED markets.
type Coordinator struct {
	reg    *registry.Registry
	store  core.Store
	bus    core.Broadcaster
	logger *slog.Logger

	mu       sync.Mutex
	requests map[string]*request
	ready    map[string]Envelope
}

// New builds a Coordinator.
func New(reg *registry.Registry, store core.Store, bus core.Broadcaster, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		reg:      reg,
		store:    store,
		bus:      bus,
		logger:   logger.With("component", "settlement"),
		requests: make(map[string]*request),
		ready:    make(map[string]Envelope),
	}
}

var finalStateArgs = abi.Arguments{
	{Type: mustType("bytes32")},
	{Type: mustType("bytes32")},
	{Type: mustType("uint256")},
	{Type: mustType("address[]")},
	{Type: mustType("uint256[]")},
	{Type: mustType("uint256")},
	{Type: mustType("uint256")},
	{Type: mustType("uint256")},
}

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(fmt.Sprintf("settlement: invalid abi type %q: %v", t, err))
	}
	return typ
}

// buildFinalState computes payouts, validates their sum against
// total_volume within participant-count tolerance, and produces the
// canonical ABI-encoded tuple and its keccak256 hash.
func buildFinalState(m *types.Market, nonce int64) ([]byte, [32]byte, map[string]int64, error) {
	payouts, err := lifecycle.ComputePayouts(m)
	if err != nil {
		return nil, [32]byte{}, nil, err
	}

	var sum int64
	addrs := make([]string, 0, len(payouts))
	for addr, amt := range payouts {
		sum += amt
		addrs = append(addrs, addr)
	}
	participantCount := int64(len(m.Positions))
	diff := int64(m.TotalVolume) - sum
	if diff < 0 {
		diff = -diff
	}
	if diff > participantCount {
		return nil, [32]byte{}, nil, fmt.Errorf("settlement: payout sum %d deviates from total_volume %d by more than participant_count %d", sum, m.TotalVolume, participantCount)
	}

	sort.Strings(addrs)

	payoutAddrs := make([]common.Address, len(addrs))
	payoutAmounts := make([]*big.Int, len(addrs))
	for i, a := range addrs {
		payoutAddrs[i] = common.HexToAddress(a)
		payoutAmounts[i] = big.NewInt(payouts[a])
	}

	outcome := big.NewInt(0)
	if m.WinningOutcome != nil && *m.WinningOutcome == types.NO {
		outcome = big.NewInt(1)
	}

	var resolvedAt int64
	if m.ResolvedAt != nil {
		resolvedAt = m.ResolvedAt.Unix()
	}

	marketIDHash := crypto.Keccak256Hash([]byte(m.ID))
	sessionIDHash := crypto.Keccak256Hash([]byte(m.AppSessionID))

	encoded, err := finalStateArgs.Pack(
		marketIDHash,
		sessionIDHash,
		outcome,
		payoutAddrs,
		payoutAmounts,
		big.NewInt(int64(m.TotalVolume)),
		big.NewInt(resolvedAt),
		big.NewInt(nonce),
	)
	if err != nil {
		return nil, [32]byte{}, nil, fmt.Errorf("settlement: abi encoding: %w", err)
	}

	return encoded, crypto.Keccak256Hash(encoded), payouts, nil
}

// Request begins a signature-collection window for a RESOLVED market.
// nonce is the monotonic replay-protection value: the request's
// creation timestamp in Unix seconds.
func (c *Coordinator) Request(marketID string, participants []string, deadline time.Time, nonce int64) error {
	m, err := c.reg.Get(marketID)
	if err != nil {
		return err
	}
	if m.Status != types.RESOLVED {
		return fmt.Errorf("settlement: %w: market %s is %s, want RESOLVED", core.ErrIllegalTransition, marketID, m.Status)
	}

	encoded, hash, _, err := buildFinalState(m, nonce)
	if err != nil {
		return err
	}

	required := make(map[common.Address]bool, len(participants))
	for _, p := range participants {
		required[common.HexToAddress(p)] = true
	}

	c.mu.Lock()
	c.requests[marketID] = &request{
		marketID:     marketID,
		stateHash:    hash,
		encodedState: encoded,
		nonce:        nonce,
		required:     required,
		signatures:   make(map[common.Address][]byte),
		deadline:     deadline,
	}
	c.mu.Unlock()

	if c.bus != nil {
		c.bus.PublishSignatureRequest(marketID, hash, deadline.Unix())
	}
	return nil
}

// Submit records a participant's signature over the pending request's
// state hash. A request must exist, the deadline must not have passed,
// the signer must be required, must not have already responded, and the
// signature must recover to signer against state_hash.
func (c *Coordinator) Submit(marketID string, signer string, signature []byte) (collected, required int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	req, ok := c.requests[marketID]
	if !ok {
		return 0, 0, fmt.Errorf("settlement: %w for market %s", core.ErrNoPendingSettlement, marketID)
	}
	if req.cancelled || time.Now().After(req.deadline) {
		return 0, 0, fmt.Errorf("settlement: %w", core.ErrSignatureDeadlineExpired)
	}

	signerAddr := common.HexToAddress(signer)
	if !req.required[signerAddr] {
		return 0, 0, fmt.Errorf("settlement: %w: %s", core.ErrSignerNotRequired, signer)
	}
	if _, already := req.signatures[signerAddr]; already {
		return 0, 0, fmt.Errorf("settlement: %w: %s", core.ErrSignerAlreadyResponded, signer)
	}

	recovered, err := recoverSigner(req.stateHash, signature)
	if err != nil || recovered != signerAddr {
		return 0, 0, fmt.Errorf("settlement: %w", core.ErrSignatureInvalid)
	}

	req.signatures[signerAddr] = signature
	collected = len(req.signatures)
	required = len(req.required)

	if c.bus != nil {
		c.bus.PublishSignatureProgress(marketID, collected, required)
	}

	if collected >= required {
		if err := c.complete(req); err != nil {
			return collected, required, err
		}
	}
	return collected, required, nil
}

// recoverSigner recovers the signer address from a 65-byte [R||S||V]
// signature over hash using ECDSA public-key recovery.
func recoverSigner(hash [32]byte, signature []byte) (common.Address, error) {
	if len(signature) != 65 {
		return common.Address{}, fmt.Errorf("settlement: signature length %d, want 65", len(signature))
	}
	pub, err := crypto.SigToPub(hash[:], signature)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// complete is called with c.mu held once quorum is reached: it
// transitions the market to SETTLED via the lifecycle controller,
// releases the creator's locked liquidity, and stores the envelope for
// retrieval. Replay protection means the coordinator never retries a
// completed request with the same nonce.
func (c *Coordinator) complete(req *request) error {
	preState, err := c.reg.Get(req.marketID)
	if err != nil {
		return err
	}

	err = c.reg.Mutate(req.marketID, func(live *types.Market) error {
		return lifecycle.Settle(live, time.Now())
	})
	if err != nil {
		return err
	}
	c.reg.DecreaseLocked(preState.Creator, int64(preState.AMM.B))

	if c.store != nil {
		if err := c.store.Save(c.reg.Snapshot(), c.reg.LockedSnapshot()); err != nil {
			c.logger.Error("persistence failure", "error", err, "market_id", req.marketID)
			if rbErr := c.reg.Replace(req.marketID, preState); rbErr != nil {
				c.logger.Error("rollback after persistence failure also failed", "error", rbErr, "market_id", req.marketID)
			}
			c.reg.IncreaseLocked(preState.Creator, int64(preState.AMM.B))
			return fmt.Errorf("settlement: %w: %v", core.ErrPersistenceFailure, err)
		}
	}

	sigs := make(map[common.Address][]byte, len(req.signatures))
	for k, v := range req.signatures {
		sigs[k] = v
	}
	c.ready[req.marketID] = Envelope{
		MarketID:     req.marketID,
		StateHash:    req.stateHash,
		EncodedState: req.encodedState,
		Signatures:   sigs,
	}
	delete(c.requests, req.marketID)

	if c.bus != nil {
		if updated, err := c.reg.Get(req.marketID); err == nil {
			c.bus.PublishMarketUpdate(updated)
		}
	}
	return nil
}

// Envelope returns the settlement envelope for a completed market, if
// any.
func (c *Coordinator) Envelope(marketID string) (Envelope, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	env, ok := c.ready[marketID]
	return env, ok
}

// ExpireDeadlines cancels every pending request whose deadline has
// passed without quorum, broadcasting a cancellation event. The market
// stays RESOLVED; settlement can be requested again later.
func (c *Coordinator) ExpireDeadlines(now time.Time) {
	c.mu.Lock()
	var expired []string
	for id, req := range c.requests {
		if !req.cancelled && now.After(req.deadline) && len(req.signatures) < len(req.required) {
			req.cancelled = true
			expired = append(expired, id)
		}
	}
	c.mu.Unlock()

	for _, id := range expired {
		c.logger.Warn("settlement request expired without quorum", "market_id", id)
		if c.bus != nil {
			c.bus.PublishSignatureRequestCancelled(id, "deadline expired without quorum")
		}
	}
}

// IsReady reports whether a market's settlement request has reached
// quorum (or already completed).
func (c *Coordinator) IsReady(marketID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.ready[marketID]; ok {
		return true
	}
	req, ok := c.requests[marketID]
	if !ok {
		return false
	}
	return len(req.signatures) >= len(req.required)
}
