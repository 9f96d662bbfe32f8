// Package channel connects Switchboard to customer chat platforms.
package channel

import (
	"context"
	"time"
)

// Platform names stored on dialogs.
const (
	PlatformTelegram = "telegram"
	PlatformSlack    = "slack"
	PlatformDiscord  = "discord"
)

// Adapter is the interface that platform-specific implementations must satisfy.
// Each adapter owns the connection to one chat platform.
type Adapter interface {
	// Connect establishes a connection to the chat platform.
	Connect(ctx context.Context) error

	// Listen returns a channel of inbound customer messages. The channel is
	// closed when the adapter is closed. Listen must only be called after
	// Connect.
	Listen(ctx context.Context) (<-chan InboundMessage, error)

	// Send delivers an outbound message to a customer chat.
	Send(ctx context.Context, msg OutboundMessage) error

	// Close gracefully shuts down the adapter connection.
	Close() error
}

// InboundMessage is a customer message received from a chat platform.
type InboundMessage struct {
	Platform  string    // e.g. "telegram", "slack"
	ChatID    string    // platform chat the reply goes back to
	UserID    string    // platform-specific user identifier
	UserName  string    // username, or first name when there is none
	Text      string    // raw message text
	Timestamp time.Time // when the message was sent
}

// OutboundMessage is a reply to a customer chat.
type OutboundMessage struct {
	ChatID string
	Text   string
}
