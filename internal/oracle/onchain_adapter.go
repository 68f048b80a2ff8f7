package oracle

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"predicore/pkg/types"
)

// OnchainAdapter verifies oracle proofs the way the settlement
// coordinator verifies settlement signatures: recover the signer's
// address from an ECDSA signature over a keccak256 digest and compare
// against a configured, trusted oracle address, using the same
// go-ethereum/crypto primitives (crypto.Sign / address derivation) in
// the recover-and-compare direction instead of the sign direction.
type OnchainAdapter struct {
	trustedSigner common.Address
	identity      string
	freezeAfter   time.Duration
}

// NewOnchainAdapter builds an adapter that trusts proofs signed by
// trustedSigner. freezeAfter is the grace period past end_time after
// which ShouldFreeze reports true (the on-chain aggregator has no
// explicit "should freeze" signal of its own, unlike an HTTP oracle that
// might expose one directly).
func NewOnchainAdapter(trustedSigner common.Address, identity string, freezeAfter time.Duration) *OnchainAdapter {
	return &OnchainAdapter{trustedSigner: trustedSigner, identity: identity, freezeAfter: freezeAfter}
}

func (o *OnchainAdapter) Identity() string { return o.identity }

func (o *OnchainAdapter) ShouldFreeze(ctx context.Context, marketID string, endTime time.Time) (bool, error) {
	return time.Now().After(endTime.Add(o.freezeAfter)), nil
}

// FetchOutcome is not implemented by this adapter: an on-chain aggregator
// is expected to push proofs out-of-band (e.g. via an event subscription
// feeding a channel the resolution engine drains), not to be polled
// synchronously. Wire a PushFeed (not shown) in front of this adapter to
// supply FetchOutcome results if needed; VerifyProof below is what this
// adapter actually contributes.
func (o *OnchainAdapter) FetchOutcome(ctx context.Context, marketID, question string) (Proof, error) {
	return Proof{}, fmt.Errorf("oracle: onchain adapter does not support polling fetch-outcome for %s", marketID)
}

// digest hashes the fields of a proof with keccak256 over a deterministic
// concatenation: market id bytes, the outcome byte, and the big-endian
// Unix timestamp. (The settlement coordinator ABI-encodes its tuple
// instead.)
func digest(marketID string, outcome types.Outcome, timestamp time.Time) []byte {
	buf := make([]byte, 0, len(marketID)+16)
	buf = append(buf, []byte(marketID)...)
	buf = append(buf, byte(outcome))
	ts := timestamp.Unix()
	for i := 7; i >= 0; i-- {
		buf = append(buf, byte(ts>>(8*i)))
	}
	return crypto.Keccak256(buf)
}

func (o *OnchainAdapter) VerifyProof(ctx context.Context, proof Proof) (bool, error) {
	if len(proof.Signature) != 65 {
		return false, fmt.Errorf("oracle: signature length %d, want 65", len(proof.Signature))
	}
	marketID := proof.Metadata["market_id"]
	h := digest(marketID, proof.Outcome, proof.Timestamp)

	pub, err := crypto.SigToPub(h, proof.Signature)
	if err != nil {
		return false, fmt.Errorf("oracle: recovering signer: %w", err)
	}
	signer := crypto.PubkeyToAddress(*pub)
	return signer == o.trustedSigner, nil
}

func (o *OnchainAdapter) Status(ctx context.Context) (Status, error) {
	return Status{Healthy: true, LastUpdate: time.Now(), Kind: "onchain"}, nil
}
