package admin

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"predicore/internal/config"
	"predicore/internal/engine"
)

// Server runs the HTTP/WebSocket admin and query surface. It is an
// optional binding: eng is fully usable without ever constructing a
// Server.
type Server struct {
	cfg      config.DashboardConfig
	handlers *Handlers
	server   *http.Server
	logger   *slog.Logger
}

// NewServer wires every admin/query route and the /ws event stream.
func NewServer(cfg config.DashboardConfig, eng *engine.Core, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	handlers := NewHandlers(eng, cfg, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", handlers.HandleHealth)
	mux.HandleFunc("/ws", handlers.HandleWebSocket)

	mux.HandleFunc("/admin/create_market", handlers.HandleCreateMarket)
	mux.HandleFunc("/admin/freeze_market", handlers.HandleFreezeMarket)
	mux.HandleFunc("/admin/resolve_market", handlers.HandleResolveMarket)
	mux.HandleFunc("/admin/settle_market", handlers.HandleSettleMarket)
	mux.HandleFunc("/admin/cancel_market", handlers.HandleCancelMarket)
	mux.HandleFunc("/admin/force_resolve", handlers.HandleForceResolve)
	mux.HandleFunc("/admin/submit_trade", handlers.HandleSubmitTrade)
	mux.HandleFunc("/admin/submit_signature", handlers.HandleSubmitSignature)

	mux.HandleFunc("/query/list_active", handlers.HandleListActive)
	mux.HandleFunc("/query/get_market", handlers.HandleGetMarket)
	mux.HandleFunc("/query/get_user_positions", handlers.HandleGetUserPositions)
	mux.HandleFunc("/query/get_user_trades", handlers.HandleGetUserTrades)
	mux.HandleFunc("/query/get_market_stats", handlers.HandleGetMarketStats)
	mux.HandleFunc("/query/get_locked_liquidity", handlers.HandleGetLockedLiquidity)
	mux.HandleFunc("/query/get_user_winnings", handlers.HandleGetUserWinnings)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		cfg:      cfg,
		handlers: handlers,
		server:   srv,
		logger:   logger.With("component", "admin-server"),
	}
}

// Start blocks serving HTTP until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("admin server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("admin server: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	s.logger.Info("stopping admin server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
