// Package core holds the error taxonomy and shared sentinels used across
// the prediction-market core. Every package wraps one of these with
// fmt.Errorf("%s: %w", ...) so callers can branch with errors.Is.
package core

import "errors"

// Lifecycle violations.
var (
	ErrMarketNotFound        = errors.New("market not found")
	ErrMarketNotTradable     = errors.New("market not tradable")
	ErrMarketAlreadyResolved = errors.New("market already resolved")
	ErrIllegalTransition     = errors.New("illegal lifecycle transition")
)

// Trade-admission violations.
var (
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidOutcome      = errors.New("invalid outcome")
	ErrInsufficientPosition = errors.New("insufficient position")
	ErrSlippageExceeded    = errors.New("slippage exceeded")
)

// Resolution failures (retryable; log and leave market in current state).
var (
	ErrOracleUnavailable = errors.New("oracle unavailable")
	ErrOracleProofInvalid = errors.New("oracle proof invalid")
)

// Settlement-collection violations.
var (
	ErrSignatureInvalid          = errors.New("signature invalid")
	ErrSignatureDeadlineExpired  = errors.New("signature deadline expired")
	ErrSignerNotRequired         = errors.New("signer not required")
	ErrSignerAlreadyResponded    = errors.New("signer already responded")
	ErrNoPendingSettlement       = errors.New("no pending settlement request")
)

// Persistence and authorization.
var (
	ErrPersistenceFailure = errors.New("persistence failure")
	ErrAuthorizationDenied = errors.New("authorization denied")
)
