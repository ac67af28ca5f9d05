package domain

import "context"

// TransportStatus reports the runtime state of a transport.
type TransportStatus struct {
	ChannelID string `json:"channelId"`
	Connected bool   `json:"connected"`
	Running   bool   `json:"running"`
	LastError string `json:"lastError,omitempty"`
}

// Transport is the interface that every message transport must satisfy.
// The dispatcher never sees a chat protocol, only invocations and replies.
type Transport interface {
	// ID returns the transport identifier (e.g., "irc", "ws").
	ID() string

	// Start connects the transport and begins delivering invocations.
	// It blocks until the context is cancelled or the connection ends.
	Start(ctx context.Context) error

	// Stop gracefully disconnects the transport.
	Stop(ctx context.Context) error

	// Send delivers a reply to a chat.
	Send(ctx context.Context, msg OutboundMessage) error

	// OnCommand registers the handler for inbound command invocations.
	OnCommand(handler func(inv Invocation))
}
