// WSAdapter implements Client over a persistent, auto-reconstructing
// WebSocket connection to the external state-channel network,
// generalizing internal/exchange/ws.go's WSFeed: the same
// exponential-backoff reconnect loop and ping keepalive, but where
// WSFeed dispatches inbound book/price_change/trade/order events to
// fan-out channels, WSAdapter correlates inbound frames to pending
// outbound requests by request id and resolves a waiting caller.
package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pingInterval     = 50 * time.Second
	readTimeout      = 90 * time.Second
	maxReconnectWait = 30 * time.Second
	writeTimeout     = 10 * time.Second
)

type requestFrame struct {
	Type      string `json:"type"`
	RequestID int64  `json:"request_id"`
	ChannelID string `json:"channel_id,omitempty"`
	Creator   string `json:"creator,omitempty"`
	Dest      string `json:"dest,omitempty"`
	Amount    int64  `json:"amount,omitempty"`
}

type responseFrame struct {
	RequestID int64  `json:"request_id"`
	Error     string `json:"error,omitempty"`
	ChannelID string `json:"channel_id"`
	SessionID string `json:"session_id"`
	Nonce     int64  `json:"nonce"`
}

// WSAdapter is a reconnecting WebSocket implementation of Client.
type WSAdapter struct {
	url string

	connMu sync.Mutex
	conn   *websocket.Conn

	nextID  int64
	pendMu  sync.Mutex
	pending map[int64]chan responseFrame

	logger *slog.Logger
}

// NewWSAdapter builds a WSAdapter. Call Run in its own goroutine before
// issuing requests.
func NewWSAdapter(url string, logger *slog.Logger) *WSAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSAdapter{
		url:     url,
		pending: make(map[int64]chan responseFrame),
		logger:  logger.With("component", "channel-ws"),
	}
}

// Run connects and maintains the connection with exponential backoff,
// matching WSFeed.Run's 1s-to-30s reconnect schedule. Blocks until ctx
// is cancelled.
func (a *WSAdapter) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		err := a.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		a.logger.Warn("channel network disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

func (a *WSAdapter) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, a.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	a.connMu.Lock()
	a.conn = conn
	a.connMu.Unlock()

	defer func() {
		a.connMu.Lock()
		conn.Close()
		a.conn = nil
		a.connMu.Unlock()
	}()

	a.logger.Info("channel network connected")

	pingCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go a.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		a.dispatch(msg)
	}
}

func (a *WSAdapter) dispatch(data []byte) {
	var resp responseFrame
	if err := json.Unmarshal(data, &resp); err != nil {
		a.logger.Debug("ignoring non-json channel network message", "data", string(data))
		return
	}

	a.pendMu.Lock()
	ch, ok := a.pending[resp.RequestID]
	if ok {
		delete(a.pending, resp.RequestID)
	}
	a.pendMu.Unlock()

	if !ok {
		a.logger.Warn("response for unknown request id", "request_id", resp.RequestID)
		return
	}
	select {
	case ch <- resp:
	default:
	}
}

func (a *WSAdapter) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.writeMessage(websocket.PingMessage, nil); err != nil {
				a.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (a *WSAdapter) writeMessage(msgType int, data []byte) error {
	a.connMu.Lock()
	defer a.connMu.Unlock()
	if a.conn == nil {
		return fmt.Errorf("channel network not connected")
	}
	a.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return a.conn.WriteMessage(msgType, data)
}

// do sends a request frame and blocks for its correlated response or
// ctx cancellation.
func (a *WSAdapter) do(ctx context.Context, frame requestFrame) (Ack, error) {
	frame.RequestID = atomic.AddInt64(&a.nextID, 1)

	respCh := make(chan responseFrame, 1)
	a.pendMu.Lock()
	a.pending[frame.RequestID] = respCh
	a.pendMu.Unlock()

	a.connMu.Lock()
	conn := a.conn
	a.connMu.Unlock()
	if conn == nil {
		return Ack{}, fmt.Errorf("channel network not connected")
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(frame); err != nil {
		return Ack{}, fmt.Errorf("write request: %w", err)
	}

	select {
	case <-ctx.Done():
		return Ack{}, ctx.Err()
	case resp := <-respCh:
		if resp.Error != "" {
			return Ack{}, fmt.Errorf("channel network: %s", resp.Error)
		}
		return Ack{ChannelID: resp.ChannelID, SessionID: resp.SessionID, Nonce: resp.Nonce}, nil
	}
}

// OpenChannel implements Client.
func (a *WSAdapter) OpenChannel(ctx context.Context, creator string, amount int64) (Ack, error) {
	return a.do(ctx, requestFrame{Type: "open_channel", Creator: creator, Amount: amount})
}

// Resize implements Client.
func (a *WSAdapter) Resize(ctx context.Context, channelID string, deltaAmount int64) (Ack, error) {
	return a.do(ctx, requestFrame{Type: "resize", ChannelID: channelID, Amount: deltaAmount})
}

// Transfer implements Client.
func (a *WSAdapter) Transfer(ctx context.Context, channelID, dest string, amount int64) (Ack, error) {
	return a.do(ctx, requestFrame{Type: "transfer", ChannelID: channelID, Dest: dest, Amount: amount})
}

// Close implements Client.
func (a *WSAdapter) Close(ctx context.Context, channelID string) (Ack, error) {
	return a.do(ctx, requestFrame{Type: "close", ChannelID: channelID})
}
