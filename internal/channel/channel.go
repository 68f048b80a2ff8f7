// Package channel defines the ChannelClient port: the boundary to the
// external state-channel network that actually custodies funds. The
// core never implements channel mechanics itself; it only opens,
// resizes, funds transfers on, and closes a channel keyed by a session
// id handed back from the network.
package channel

import "context"

// Ack is the network's acknowledgement of a channel operation.
type Ack struct {
	ChannelID string
	SessionID string
	Nonce     int64
}

// Client is the port consumed by the engine orchestrator to manage the
// state channel backing a market's locked liquidity.
type Client interface {
	// OpenChannel opens a channel funded with amount (micro-units),
	// returning the network-assigned channel/session identifiers.
	OpenChannel(ctx context.Context, creator string, amount int64) (Ack, error)
	// Resize changes a channel's funding by a signed delta.
	Resize(ctx context.Context, channelID string, deltaAmount int64) (Ack, error)
	// Transfer moves funds from the channel to dest (a payout).
	Transfer(ctx context.Context, channelID, dest string, amount int64) (Ack, error)
	// Close closes the channel, releasing any remaining funds back to
	// the creator.
	Close(ctx context.Context, channelID string) (Ack, error)
}
