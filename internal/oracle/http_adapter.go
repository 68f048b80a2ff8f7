package oracle

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"predicore/pkg/types"
)

// proofResponse is the JSON shape returned by the configured outcome
// endpoint, fetched with the resty client (timeout + bounded retry) that
// NewHTTPAdapter builds.
type proofResponse struct {
	Outcome   string            `json:"outcome"`
	Timestamp time.Time         `json:"timestamp"`
	Signature string            `json:"signature"` // hex-encoded
	Metadata  map[string]string `json:"metadata"`
}

type freezeResponse struct {
	ShouldFreeze bool `json:"should_freeze"`
}

// HTTPAdapter polls a configurable REST endpoint for outcome proofs. It
// implements Port.
type HTTPAdapter struct {
	client   *resty.Client
	identity string
}

// NewHTTPAdapter builds an HTTPAdapter pointed at baseURL with
// conservative timeout/retry defaults.
func NewHTTPAdapter(baseURL, identity string) *HTTPAdapter {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second)
	return &HTTPAdapter{client: client, identity: identity}
}

func (h *HTTPAdapter) Identity() string { return h.identity }

func (h *HTTPAdapter) ShouldFreeze(ctx context.Context, marketID string, endTime time.Time) (bool, error) {
	var out freezeResponse
	resp, err := h.client.R().
		SetContext(ctx).
		SetQueryParam("market_id", marketID).
		SetQueryParam("end_time", endTime.Format(time.RFC3339)).
		SetResult(&out).
		Get("/should-freeze")
	if err != nil {
		return false, fmt.Errorf("oracle: should-freeze request: %w", err)
	}
	if resp.IsError() {
		return false, fmt.Errorf("oracle: should-freeze status %d", resp.StatusCode())
	}
	return out.ShouldFreeze, nil
}

func (h *HTTPAdapter) FetchOutcome(ctx context.Context, marketID, question string) (Proof, error) {
	var out proofResponse
	resp, err := h.client.R().
		SetContext(ctx).
		SetQueryParam("market_id", marketID).
		SetQueryParam("question", question).
		SetResult(&out).
		Get("/outcome")
	if err != nil {
		return Proof{}, fmt.Errorf("oracle: fetch-outcome request: %w", err)
	}
	if resp.IsError() {
		return Proof{}, fmt.Errorf("oracle: fetch-outcome status %d", resp.StatusCode())
	}

	var outcome types.Outcome
	switch out.Outcome {
	case "YES":
		outcome = types.YES
	case "NO":
		outcome = types.NO
	default:
		return Proof{}, fmt.Errorf("oracle: unrecognized outcome %q", out.Outcome)
	}

	sig, err := hex.DecodeString(out.Signature)
	if err != nil {
		return Proof{}, fmt.Errorf("oracle: decoding signature: %w", err)
	}

	return Proof{
		Outcome:   outcome,
		Timestamp: out.Timestamp,
		Signature: sig,
		Metadata:  out.Metadata,
	}, nil
}

// VerifyProof delegates to the same endpoint's /verify route, passing
// the proof back as JSON; a production deployment would instead verify
// the signature locally (see onchain_adapter.go for the ECDSA path).
func (h *HTTPAdapter) VerifyProof(ctx context.Context, proof Proof) (bool, error) {
	body, err := json.Marshal(map[string]any{
		"outcome":   proof.Outcome.String(),
		"timestamp": proof.Timestamp,
		"signature": hex.EncodeToString(proof.Signature),
	})
	if err != nil {
		return false, fmt.Errorf("oracle: encoding verify request: %w", err)
	}

	var out struct {
		Valid bool `json:"valid"`
	}
	resp, err := h.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		Post("/verify")
	if err != nil {
		return false, fmt.Errorf("oracle: verify request: %w", err)
	}
	if resp.IsError() {
		return false, fmt.Errorf("oracle: verify status %d", resp.StatusCode())
	}
	return out.Valid, nil
}

func (h *HTTPAdapter) Status(ctx context.Context) (Status, error) {
	var out struct {
		Healthy    bool      `json:"healthy"`
		LastUpdate time.Time `json:"last_update"`
	}
	resp, err := h.client.R().SetContext(ctx).SetResult(&out).Get("/status")
	if err != nil {
		return Status{}, fmt.Errorf("oracle: status request: %w", err)
	}
	if resp.IsError() {
		return Status{}, fmt.Errorf("oracle: status code %d", resp.StatusCode())
	}
	return Status{Healthy: out.Healthy, LastUpdate: out.LastUpdate, Kind: "http"}, nil
}
