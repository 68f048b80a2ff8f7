package settlement

import (
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"predicore/internal/core"
	"predicore/internal/registry"
	"predicore/pkg/types"
)

type nilBus struct{}

func (nilBus) PublishMarketUpdate(m *types.Market)                                        {}
func (nilBus) PublishSignatureRequest(marketID string, stateHash [32]byte, deadline int64) {}
func (nilBus) PublishSignatureProgress(marketID string, collected, required int)           {}
func (nilBus) PublishSignatureRequestCancelled(marketID, reason string)                    {}

type nilStore struct{}

func (nilStore) Save(markets []*types.Market, locked types.LockedLiquidity) error { return nil }
func (nilStore) Load() ([]*types.Market, types.LockedLiquidity, error)            { return nil, nil, nil }

type failingStore struct{}

func (failingStore) Save(markets []*types.Market, locked types.LockedLiquidity) error {
	return errors.New("disk full")
}

func (failingStore) Load() ([]*types.Market, types.LockedLiquidity, error) {
	return nil, nil, nil
}

func resolvedMarket(id string, u1, u2 string) *types.Market {
	winner := types.YES
	now := time.Now()
	return &types.Market{
		ID:           id,
		Creator:      "0x000000000000000000000000000000000000aa",
		AppSessionID: "session-1",
		Status:       types.RESOLVED,
		AMM:          types.AMM{B: 1000},
		TotalVolume:  1_000_000,
		WinningOutcome: &winner,
		ResolvedAt:     &now,
		Positions: map[types.PositionKey]*types.Position{
			{User: u1, Outcome: types.YES}: {Shares: 600_000, TotalCost: 400_000},
			{User: u2, Outcome: types.NO}:  {Shares: 400_000, TotalCost: 300_000},
		},
	}
}

func TestRequestSubmitComplete(t *testing.T) {
	t.Parallel()

	key1, _ := crypto.GenerateKey()
	key2, _ := crypto.GenerateKey()
	u1 := crypto.PubkeyToAddress(key1.PublicKey).Hex()
	u2 := crypto.PubkeyToAddress(key2.PublicKey).Hex()

	reg := registry.New()
	m := resolvedMarket("m1", u1, u2)
	if err := reg.Insert(m); err != nil {
		t.Fatal(err)
	}

	c := New(reg, nilStore{}, nilBus{}, nil)
	deadline := time.Now().Add(30 * time.Minute)
	if err := c.Request("m1", []string{u1, u2}, deadline, 1); err != nil {
		t.Fatalf("Request: %v", err)
	}

	c.mu.Lock()
	hash := c.requests["m1"].stateHash
	c.mu.Unlock()

	sig1, err := crypto.Sign(hash[:], key1)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	collected, required, err := c.Submit("m1", u1, sig1)
	if err != nil {
		t.Fatalf("Submit u1: %v", err)
	}
	if collected != 1 || required != 2 {
		t.Errorf("progress = %d/%d, want 1/2", collected, required)
	}

	sig2, err := crypto.Sign(hash[:], key2)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	collected, required, err = c.Submit("m1", u2, sig2)
	if err != nil {
		t.Fatalf("Submit u2: %v", err)
	}
	if collected != required {
		t.Errorf("progress = %d/%d, want complete", collected, required)
	}

	if !c.IsReady("m1") {
		t.Error("IsReady = false, want true after quorum")
	}
	env, ok := c.Envelope("m1")
	if !ok {
		t.Fatal("Envelope missing after completion")
	}
	if len(env.Signatures) != 2 {
		t.Errorf("envelope has %d signatures, want 2", len(env.Signatures))
	}

	got, _ := reg.Get("m1")
	if got.Status != types.SETTLED {
		t.Errorf("status = %v, want SETTLED", got.Status)
	}
}

func TestSubmitRejectsNonRequiredSigner(t *testing.T) {
	t.Parallel()

	key1, _ := crypto.GenerateKey()
	key2, _ := crypto.GenerateKey()
	key3, _ := crypto.GenerateKey()
	u1 := crypto.PubkeyToAddress(key1.PublicKey).Hex()
	u2 := crypto.PubkeyToAddress(key2.PublicKey).Hex()
	u3 := crypto.PubkeyToAddress(key3.PublicKey).Hex()

	reg := registry.New()
	if err := reg.Insert(resolvedMarket("m1", u1, u2)); err != nil {
		t.Fatal(err)
	}

	c := New(reg, nilStore{}, nilBus{}, nil)
	if err := c.Request("m1", []string{u1, u2}, time.Now().Add(time.Hour), 1); err != nil {
		t.Fatal(err)
	}

	c.mu.Lock()
	hash := c.requests["m1"].stateHash
	c.mu.Unlock()
	sig3, _ := crypto.Sign(hash[:], key3)

	_, _, err := c.Submit("m1", u3, sig3)
	if !errors.Is(err, core.ErrSignerNotRequired) {
		t.Errorf("got %v, want ErrSignerNotRequired", err)
	}
}

func TestSubmitRejectsDuplicateSigner(t *testing.T) {
	t.Parallel()

	key1, _ := crypto.GenerateKey()
	key2, _ := crypto.GenerateKey()
	u1 := crypto.PubkeyToAddress(key1.PublicKey).Hex()
	u2 := crypto.PubkeyToAddress(key2.PublicKey).Hex()

	reg := registry.New()
	if err := reg.Insert(resolvedMarket("m1", u1, u2)); err != nil {
		t.Fatal(err)
	}
	c := New(reg, nilStore{}, nilBus{}, nil)
	if err := c.Request("m1", []string{u1, u2}, time.Now().Add(time.Hour), 1); err != nil {
		t.Fatal(err)
	}

	c.mu.Lock()
	hash := c.requests["m1"].stateHash
	c.mu.Unlock()
	sig1, _ := crypto.Sign(hash[:], key1)

	if _, _, err := c.Submit("m1", u1, sig1); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if _, _, err := c.Submit("m1", u1, sig1); !errors.Is(err, core.ErrSignerAlreadyResponded) {
		t.Errorf("got %v, want ErrSignerAlreadyResponded", err)
	}
}

func TestExpireDeadlinesCancelsWithoutQuorum(t *testing.T) {
	t.Parallel()

	key1, _ := crypto.GenerateKey()
	key2, _ := crypto.GenerateKey()
	u1 := crypto.PubkeyToAddress(key1.PublicKey).Hex()
	u2 := crypto.PubkeyToAddress(key2.PublicKey).Hex()

	reg := registry.New()
	if err := reg.Insert(resolvedMarket("m1", u1, u2)); err != nil {
		t.Fatal(err)
	}
	c := New(reg, nilStore{}, nilBus{}, nil)
	deadline := time.Now().Add(time.Minute)
	if err := c.Request("m1", []string{u1, u2}, deadline, 1); err != nil {
		t.Fatal(err)
	}

	c.mu.Lock()
	hash := c.requests["m1"].stateHash
	c.mu.Unlock()
	sig1, _ := crypto.Sign(hash[:], key1)
	if _, _, err := c.Submit("m1", u1, sig1); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	c.ExpireDeadlines(deadline.Add(time.Second))

	if c.IsReady("m1") {
		t.Error("IsReady = true, want false after deadline expiry without quorum")
	}
	got, _ := reg.Get("m1")
	if got.Status != types.RESOLVED {
		t.Errorf("status = %v, want RESOLVED (unchanged)", got.Status)
	}

	if _, _, err := c.Submit("m1", u2, sig1); !errors.Is(err, core.ErrSignatureDeadlineExpired) {
		t.Errorf("submit after expiry: got %v, want ErrSignatureDeadlineExpired", err)
	}
}

func TestCompleteRollsBackOnPersistenceFailure(t *testing.T) {
	t.Parallel()

	key1, _ := crypto.GenerateKey()
	key2, _ := crypto.GenerateKey()
	u1 := crypto.PubkeyToAddress(key1.PublicKey).Hex()
	u2 := crypto.PubkeyToAddress(key2.PublicKey).Hex()

	reg := registry.New()
	m := resolvedMarket("m1", u1, u2)
	if err := reg.Insert(m); err != nil {
		t.Fatal(err)
	}
	reg.IncreaseLocked(m.Creator, int64(m.AMM.B))

	c := New(reg, failingStore{}, nilBus{}, nil)
	deadline := time.Now().Add(30 * time.Minute)
	if err := c.Request("m1", []string{u1, u2}, deadline, 1); err != nil {
		t.Fatalf("Request: %v", err)
	}

	c.mu.Lock()
	hash := c.requests["m1"].stateHash
	c.mu.Unlock()

	sig1, _ := crypto.Sign(hash[:], key1)
	if _, _, err := c.Submit("m1", u1, sig1); err != nil {
		t.Fatalf("Submit u1: %v", err)
	}

	sig2, _ := crypto.Sign(hash[:], key2)
	_, _, err := c.Submit("m1", u2, sig2)
	if !errors.Is(err, core.ErrPersistenceFailure) {
		t.Fatalf("got %v, want ErrPersistenceFailure", err)
	}

	got, _ := reg.Get("m1")
	if got.Status != types.RESOLVED {
		t.Errorf("status = %v, want RESOLVED (rolled back)", got.Status)
	}
	if locked := reg.GetLocked(m.Creator); locked != int64(m.AMM.B) {
		t.Errorf("locked liquidity = %d, want %d (DecreaseLocked reversed)", locked, int64(m.AMM.B))
	}
	if _, ok := c.Envelope("m1"); ok {
		t.Error("Envelope present despite failed completion")
	}
}
