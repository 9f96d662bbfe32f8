package channel

import (
	"context"
	"fmt"
	"time"
)

// DefaultSendTimeout bounds a single outbound delivery.
const DefaultSendTimeout = 10 * time.Second

// Deliverer sends replies through an Adapter with a per-call timeout.
type Deliverer struct {
	adapter Adapter
	timeout time.Duration
}

// NewDeliverer wraps adapter. A non-positive timeout uses DefaultSendTimeout.
func NewDeliverer(adapter Adapter, timeout time.Duration) *Deliverer {
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	return &Deliverer{adapter: adapter, timeout: timeout}
}

// Deliver sends text to chatID. A nil Deliverer or adapter is an error so
// callers can log it like any other delivery failure.
func (d *Deliverer) Deliver(ctx context.Context, chatID, text string) error {
	if d == nil || d.adapter == nil {
		return fmt.Errorf("channel: no adapter configured")
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if err := d.adapter.Send(ctx, OutboundMessage{ChatID: chatID, Text: text}); err != nil {
		return fmt.Errorf("channel: deliver to %s: %w", chatID, err)
	}
	return nil
}
