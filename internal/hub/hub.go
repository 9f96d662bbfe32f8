// Package hub fans dashboard events out to live subscribers. Delivery is
// best-effort and at-most-once; there is no replay for late joiners.
package hub

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Channel names.
const (
	ChannelDialogs   = "dialogs"
	ChannelMessages  = "messages"
	ChannelOperators = "operators"
	ChannelSystem    = "system"
)

// Channels lists every channel a client may subscribe to.
var Channels = []string{ChannelDialogs, ChannelMessages, ChannelOperators, ChannelSystem}

// ValidChannel reports whether name is a known channel.
func ValidChannel(name string) bool {
	for _, c := range Channels {
		if c == name {
			return true
		}
	}
	return false
}

// Subscriber receives encoded event payloads. Implementations must be
// comparable (pointer receivers are).
type Subscriber interface {
	Send(payload []byte) error
}

// SubscriberFunc adapts a function to Subscriber. Values of this type are
// not comparable; wrap them in a pointer before subscribing.
type SubscriberFunc func(payload []byte) error

// Send implements Subscriber.
func (f *SubscriberFunc) Send(payload []byte) error { return (*f)(payload) }

// Hub is a registry of subscribers per channel.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[Subscriber]struct{}
	logger *slog.Logger
}

// New returns an empty hub.
func New(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{subs: make(map[string]map[Subscriber]struct{}), logger: logger}
}

// Subscribe registers s on channel and returns a func that removes it.
func (h *Hub) Subscribe(channel string, s Subscriber) func() {
	h.mu.Lock()
	set, ok := h.subs[channel]
	if !ok {
		set = make(map[Subscriber]struct{})
		h.subs[channel] = set
	}
	set[s] = struct{}{}
	h.mu.Unlock()

	return func() { h.Unsubscribe(channel, s) }
}

// Unsubscribe removes s from channel. Removing an unknown subscriber is a
// no-op.
func (h *Hub) Unsubscribe(channel string, s Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[channel]
	if !ok {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(h.subs, channel)
	}
}

// Count returns the number of subscribers on channel.
func (h *Hub) Count(channel string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[channel])
}

// Publish encodes payload once and sends it to every subscriber of channel.
// Subscribers whose Send fails are dropped. A nil hub discards the event.
// It returns the number of successful deliveries.
func (h *Hub) Publish(channel string, payload any) int {
	if h == nil {
		return 0
	}
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("hub: encode event", "channel", channel, "error", err)
		return 0
	}

	h.mu.Lock()
	targets := make([]Subscriber, 0, len(h.subs[channel]))
	for s := range h.subs[channel] {
		targets = append(targets, s)
	}
	h.mu.Unlock()

	delivered := 0
	for _, s := range targets {
		if err := s.Send(data); err != nil {
			h.logger.Debug("hub: dropping subscriber", "channel", channel, "error", err)
			h.Unsubscribe(channel, s)
			continue
		}
		delivered++
	}
	return delivered
}
