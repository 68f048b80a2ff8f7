package oracle

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"predicore/pkg/types"
)

func TestOnchainAdapterVerifyProof(t *testing.T) {
	t.Parallel()

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	signer := crypto.PubkeyToAddress(key.PublicKey)
	adapter := NewOnchainAdapter(signer, "oracle-1", time.Hour)

	ts := time.Unix(1_700_000_000, 0)
	h := digest("market-1", types.YES, ts)
	sig, err := crypto.Sign(h, key)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	proof := Proof{
		Outcome:   types.YES,
		Timestamp: ts,
		Signature: sig,
		Metadata:  map[string]string{"market_id": "market-1"},
	}

	ok, err := adapter.VerifyProof(context.Background(), proof)
	if err != nil {
		t.Fatalf("VerifyProof: %v", err)
	}
	if !ok {
		t.Error("VerifyProof = false, want true for a signature from the trusted signer")
	}

	other, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	badSig, err := crypto.Sign(h, other)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	proof.Signature = badSig
	ok, err = adapter.VerifyProof(context.Background(), proof)
	if err != nil {
		t.Fatalf("VerifyProof: %v", err)
	}
	if ok {
		t.Error("VerifyProof = true for an untrusted signer, want false")
	}
}

func TestOnchainAdapterShouldFreeze(t *testing.T) {
	t.Parallel()

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	adapter := NewOnchainAdapter(crypto.PubkeyToAddress(key.PublicKey), "oracle-1", time.Minute)

	future := time.Now().Add(time.Hour)
	got, err := adapter.ShouldFreeze(context.Background(), "m1", future)
	if err != nil {
		t.Fatalf("ShouldFreeze: %v", err)
	}
	if got {
		t.Error("ShouldFreeze = true for a future end_time, want false")
	}

	past := time.Now().Add(-time.Hour)
	got, err = adapter.ShouldFreeze(context.Background(), "m1", past)
	if err != nil {
		t.Fatalf("ShouldFreeze: %v", err)
	}
	if !got {
		t.Error("ShouldFreeze = false for a long-past end_time, want true")
	}
}
