// Package admin is the thin, optional HTTP binding for the core's admin
// and query entry points. It is deliberately surface-agnostic logic kept
// out of internal/engine: the core is fully usable as a library without
// this package.
//
// A single *Handlers struct holds every dependency, routed through
// net/http.ServeMux, with an origin allow-list guarding the WebSocket
// upgrade (see isOriginAllowed).
package admin

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"predicore/internal/config"
	"predicore/internal/core"
	"predicore/internal/engine"
	"predicore/internal/executor"
	"predicore/internal/oracle"
	"predicore/pkg/types"
)

// Handlers holds the engine dependency and every HTTP handler.
type Handlers struct {
	eng    *engine.Core
	cfg    config.DashboardConfig
	logger *slog.Logger
}

// NewHandlers builds a Handlers bound to eng.
func NewHandlers(eng *engine.Core, cfg config.DashboardConfig, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{eng: eng, cfg: cfg, logger: logger.With("component", "admin-handlers")}
}

// HandleHealth returns a simple liveness response.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createMarketRequest struct {
	Question         string `json:"question"`
	Description      string `json:"description"`
	DurationSeconds  int64  `json:"duration_seconds"`
	InitialLiquidity int64  `json:"initial_liquidity"`
	Creator          string `json:"creator"`
	ChannelID        string `json:"channel_id"`
	AppSessionID     string `json:"app_session_id"`
}

// HandleCreateMarket opens a new market.
func (h *Handlers) HandleCreateMarket(w http.ResponseWriter, r *http.Request) {
	var req createMarketRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id, err := h.eng.CreateMarket(r.Context(), engine.CreateMarketParams{
		Question:         req.Question,
		Description:      req.Description,
		DurationSeconds:  req.DurationSeconds,
		InitialLiquidity: req.InitialLiquidity,
		Creator:          req.Creator,
		ChannelID:        req.ChannelID,
		AppSessionID:     req.AppSessionID,
	})
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"market_id": id})
}

type freezeMarketRequest struct {
	MarketID  string `json:"market_id"`
	Authority string `json:"authority"`
}

// HandleFreezeMarket freezes a market ahead of resolution.
func (h *Handlers) HandleFreezeMarket(w http.ResponseWriter, r *http.Request) {
	var req freezeMarketRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.eng.FreezeMarket(req.MarketID, req.Authority); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type resolveMarketRequest struct {
	MarketID string        `json:"market_id"`
	Outcome  types.Outcome `json:"outcome"`
	Proof    oracle.Proof  `json:"proof"`
}

// HandleResolveMarket resolves a frozen market against an oracle proof.
func (h *Handlers) HandleResolveMarket(w http.ResponseWriter, r *http.Request) {
	var req resolveMarketRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.eng.ResolveMarket(req.MarketID, req.Outcome, req.Proof); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type settleMarketRequest struct {
	MarketID string `json:"market_id"`
}

// HandleSettleMarket opens a signature-collection window for a resolved market.
func (h *Handlers) HandleSettleMarket(w http.ResponseWriter, r *http.Request) {
	var req settleMarketRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.eng.SettleMarket(req.MarketID); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type cancelMarketRequest struct {
	MarketID string `json:"market_id"`
	Reason   string `json:"reason"`
}

// HandleCancelMarket cancels a market and refunds open positions.
func (h *Handlers) HandleCancelMarket(w http.ResponseWriter, r *http.Request) {
	var req cancelMarketRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.eng.CancelMarket(req.MarketID, req.Reason); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type forceResolveRequest struct {
	MarketID string        `json:"market_id"`
	Outcome  types.Outcome `json:"outcome"`
	Admin    string        `json:"admin"`
	Reason   string        `json:"reason"`
}

// HandleForceResolve is the admin override that bypasses oracle verification.
func (h *Handlers) HandleForceResolve(w http.ResponseWriter, r *http.Request) {
	var req forceResolveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.eng.ForceResolve(req.MarketID, req.Outcome, req.Admin, req.Reason); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type submitTradeRequest struct {
	MarketID    string        `json:"market_id"`
	User        string        `json:"user"`
	Outcome     types.Outcome `json:"outcome"`
	Amount      int64         `json:"amount"`
	MaxSlippage float64       `json:"max_slippage"`
}

// HandleSubmitTrade admits a trade against an active market. Trade
// admission has its own executor-level API; this handler exposes it over
// HTTP for callers that want a single surface.
func (h *Handlers) HandleSubmitTrade(w http.ResponseWriter, r *http.Request) {
	var req submitTradeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	trade, err := h.eng.SubmitTrade(executor.Intent{
		MarketID:    req.MarketID,
		User:        req.User,
		Outcome:     req.Outcome,
		Amount:      req.Amount,
		MaxSlippage: req.MaxSlippage,
	})
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, trade)
}

type submitSignatureRequest struct {
	MarketID  string `json:"market_id"`
	Signer    string `json:"signer"`
	Signature string `json:"signature"` // hex-encoded, optional 0x prefix
}

// HandleSubmitSignature forwards a participant's signature to the
// settlement coordinator.
func (h *Handlers) HandleSubmitSignature(w http.ResponseWriter, r *http.Request) {
	var req submitSignatureRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sig, err := decodeHexSignature(req.Signature)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	collected, required, err := h.eng.SubmitSettlementSignature(req.MarketID, req.Signer, sig)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"collected": collected, "required": required})
}

// HandleListActive lists every ACTIVE market.
func (h *Handlers) HandleListActive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.eng.ListActive())
}

// HandleGetMarket returns a single market by ID.
func (h *Handlers) HandleGetMarket(w http.ResponseWriter, r *http.Request) {
	m, err := h.eng.GetMarket(r.URL.Query().Get("market_id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// HandleGetUserPositions returns a user's open positions across markets.
func (h *Handlers) HandleGetUserPositions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.eng.GetUserPositions(r.URL.Query().Get("user")))
}

// HandleGetUserTrades returns a user's trade history in one market.
func (h *Handlers) HandleGetUserTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := h.eng.GetUserTrades(r.URL.Query().Get("market_id"), r.URL.Query().Get("user"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

// HandleGetMarketStats returns aggregate volume and price stats for a market.
func (h *Handlers) HandleGetMarketStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.eng.GetMarketStats(r.URL.Query().Get("market_id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// HandleGetLockedLiquidity returns an address's total locked liquidity.
func (h *Handlers) HandleGetLockedLiquidity(w http.ResponseWriter, r *http.Request) {
	amount := h.eng.GetLockedLiquidity(r.URL.Query().Get("address"))
	writeJSON(w, http.StatusOK, map[string]int64{"locked": amount})
}

// HandleGetUserWinnings returns a user's payout for a settled market.
func (h *Handlers) HandleGetUserWinnings(w http.ResponseWriter, r *http.Request) {
	winnings, err := h.eng.GetUserWinnings(r.URL.Query().Get("market_id"), r.URL.Query().Get("user"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"winnings": winnings})
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// statusFor maps the core's error taxonomy onto HTTP status codes;
// everything unrecognized is a 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrMarketNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrInvalidOutcome),
		errors.Is(err, core.ErrInsufficientPosition),
		errors.Is(err, core.ErrSlippageExceeded),
		errors.Is(err, core.ErrSignatureInvalid),
		errors.Is(err, core.ErrSignerNotRequired),
		errors.Is(err, core.ErrSignerAlreadyResponded):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrMarketNotTradable),
		errors.Is(err, core.ErrMarketAlreadyResolved),
		errors.Is(err, core.ErrIllegalTransition),
		errors.Is(err, core.ErrSignatureDeadlineExpired),
		errors.Is(err, core.ErrNoPendingSettlement):
		return http.StatusConflict
	case errors.Is(err, core.ErrAuthorizationDenied):
		return http.StatusForbidden
	case errors.Is(err, core.ErrOracleUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, core.ErrOracleProofInvalid):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrPersistenceFailure):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
