// Package oracle defines the Oracle port consumed by the resolution
// engine and ships two reference adapters: an HTTP-polling adapter
// (internal/oracle/http_adapter.go) and an on-chain aggregator adapter
// (internal/oracle/onchain_adapter.go). The core depends only on the
// Port interface; adapters are swappable at wiring time.
package oracle

import (
	"context"
	"time"

	"predicore/pkg/types"
)

// Proof is an oracle-supplied, independently verifiable attestation of a
// market's outcome. The core treats it opaquely beyond the fields it
// reads directly; verification is delegated to Port.VerifyProof.
type Proof struct {
	Outcome   types.Outcome
	Timestamp time.Time
	Signature []byte
	Metadata  map[string]string
}

// Status reports oracle health, polled by admin/diagnostic surfaces.
type Status struct {
	Healthy    bool
	LastUpdate time.Time
	Kind       string
}

// Port is the interface the resolution engine consumes. Every method
// carries a context so the caller can enforce a per-call timeout.
type Port interface {
	ShouldFreeze(ctx context.Context, marketID string, endTime time.Time) (bool, error)
	FetchOutcome(ctx context.Context, marketID, question string) (Proof, error)
	VerifyProof(ctx context.Context, proof Proof) (bool, error)
	Status(ctx context.Context) (Status, error)
	// Identity names the authority recorded on freeze/resolve transitions.
	Identity() string
}
