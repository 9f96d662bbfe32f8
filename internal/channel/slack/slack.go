// Package slack implements the channel Adapter for Slack using Socket Mode.
// Customers reach the bot by direct message or by mentioning it; replies go
// back to the same conversation.
package slack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"github.com/zulandar/switchboard/internal/channel"
)

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	AuthTest() (*slackapi.AuthTestResponse, error)
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
	GetUserInfo(userID string) (*slackapi.User, error)
}

// socketClient abstracts the Socket Mode client methods we use. RunContext
// blocks until ctx ends; the client redials dropped connections itself.
type socketClient interface {
	RunContext(ctx context.Context) error
	EventsChan() chan socketmode.Event
	Ack(req socketmode.Request, payload ...interface{})
}

// realSocketClient wraps *socketmode.Client to implement socketClient.
type realSocketClient struct {
	client *socketmode.Client
}

func (r *realSocketClient) RunContext(ctx context.Context) error { return r.client.RunContext(ctx) }
func (r *realSocketClient) EventsChan() chan socketmode.Event    { return r.client.Events }
func (r *realSocketClient) Ack(req socketmode.Request, payload ...interface{}) {
	r.client.Ack(req, payload...)
}

// Adapter implements channel.Adapter for Slack Socket Mode.
type Adapter struct {
	client    slackClient
	socket    socketClient
	botUserID string
	appToken  string
	botToken  string
	logger    *slog.Logger

	mu        sync.Mutex
	connected bool
	closed    bool
	cancel    context.CancelFunc

	inbound chan channel.InboundMessage
	sendMu  sync.RWMutex
	quit    chan struct{}
}

// AdapterOpts holds parameters for creating a Slack Adapter.
type AdapterOpts struct {
	AppToken string // xapp-... Slack app-level token for Socket Mode
	BotToken string // xoxb-... Slack bot token
	Logger   *slog.Logger
	// For testing: inject mock clients instead of real Slack API.
	Client slackClient
	Socket socketClient
}

// New creates a Slack Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	if opts.Socket == nil && opts.AppToken == "" {
		return nil, fmt.Errorf("slack: app token is required for socket mode")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Adapter{
		client:   opts.Client,
		socket:   opts.Socket,
		appToken: opts.AppToken,
		botToken: opts.BotToken,
		logger:   logger,
		inbound:  make(chan channel.InboundMessage, 100),
		quit:     make(chan struct{}),
	}, nil
}

// Connect establishes the Socket Mode WebSocket connection.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("slack: adapter already closed")
	}
	if a.connected {
		return nil
	}

	// Create real clients if not injected (production path).
	if a.client == nil {
		api := slackapi.New(a.botToken, slackapi.OptionAppLevelToken(a.appToken))
		a.client = api
		a.socket = &realSocketClient{client: socketmode.New(api)}
	}

	// Get bot user ID for self-message filtering.
	auth, err := a.client.AuthTest()
	if err != nil {
		return fmt.Errorf("slack: auth test: %w", err)
	}
	a.botUserID = auth.UserID

	a.connected = true
	return nil
}

// Listen returns a channel of inbound messages. Starts the Socket Mode
// event pump in a background goroutine. Must be called after Connect.
func (a *Adapter) Listen(ctx context.Context) (<-chan channel.InboundMessage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil, fmt.Errorf("slack: not connected")
	}

	listenCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	go a.runSocket(listenCtx)
	go a.pumpEvents(listenCtx)

	return a.inbound, nil
}

// Send posts msg to the Slack conversation named by ChatID.
func (a *Adapter) Send(ctx context.Context, msg channel.OutboundMessage) error {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return fmt.Errorf("slack: not connected")
	}
	a.mu.Unlock()

	if msg.ChatID == "" {
		return fmt.Errorf("slack: no channel specified")
	}

	err := a.post(ctx, msg)
	var limited *slackapi.RateLimitedError
	if errors.As(err, &limited) {
		// One retry after the advertised wait; the deliverer's timeout bounds it.
		select {
		case <-ctx.Done():
			return fmt.Errorf("slack: post message: %w", ctx.Err())
		case <-time.After(limited.RetryAfter):
		}
		err = a.post(ctx, msg)
	}
	if err != nil {
		return fmt.Errorf("slack: post message: %w", err)
	}
	return nil
}

// Close shuts down the adapter and closes the inbound channel.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.connected = false
	if a.cancel != nil {
		a.cancel()
	}
	a.mu.Unlock()

	close(a.quit)
	a.sendMu.Lock()
	close(a.inbound)
	a.sendMu.Unlock()
	return nil
}

// BotUserID returns the bot's Slack user ID (available after Connect).
func (a *Adapter) BotUserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.botUserID
}

func (a *Adapter) post(ctx context.Context, msg channel.OutboundMessage) error {
	_, _, err := a.client.PostMessageContext(ctx, msg.ChatID, slackapi.MsgOptionText(msg.Text, false))
	return err
}

// runSocket runs Socket Mode until ctx ends. A terminal error means the
// channel is gone, so it is logged at error level.
func (a *Adapter) runSocket(ctx context.Context) {
	if err := a.socket.RunContext(ctx); err != nil && ctx.Err() == nil {
		a.logger.Error("slack: socket mode stopped", "error", err)
	}
}

// pumpEvents reads Socket Mode events and converts them to InboundMessages.
func (a *Adapter) pumpEvents(ctx context.Context) {
	events := a.socket.EventsChan()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			a.handleSocketEvent(evt)
		}
	}
}

// handleSocketEvent processes a single Socket Mode event.
func (a *Adapter) handleSocketEvent(evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeEventsAPI:
		eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		if evt.Request != nil {
			a.socket.Ack(*evt.Request)
		}
		a.handleEventsAPI(eventsAPIEvent)

	case socketmode.EventTypeConnecting:
		a.logger.Info("slack: connecting to Socket Mode")

	case socketmode.EventTypeConnected:
		a.logger.Info("slack: connected to Socket Mode")

	case socketmode.EventTypeConnectionError:
		a.logger.Warn("slack: connection error", "data", evt.Data)

	case socketmode.EventTypeDisconnect:
		a.logger.Info("slack: server requested disconnect")
	}
}

// handleEventsAPI processes Events API callbacks.
func (a *Adapter) handleEventsAPI(event slackevents.EventsAPIEvent) {
	if event.Type != slackevents.CallbackEvent {
		return
	}
	switch ev := event.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		a.handleMessage(ev)
	case *slackevents.AppMentionEvent:
		a.handleAppMention(ev)
	}
}

// handleMessage converts a direct message to an InboundMessage. Channel
// traffic only reaches the bot through mentions.
func (a *Adapter) handleMessage(ev *slackevents.MessageEvent) {
	if ev.ChannelType != "im" {
		return
	}
	if ev.User == a.BotUserID() || ev.BotID != "" || ev.SubType != "" {
		return
	}
	a.dispatch(channel.InboundMessage{
		Platform:  channel.PlatformSlack,
		ChatID:    ev.Channel,
		UserID:    ev.User,
		UserName:  a.resolveUserName(ev.User),
		Text:      ev.Text,
		Timestamp: parseSlackTimestamp(ev.TimeStamp),
	})
}

// handleAppMention converts a Slack @mention event to an InboundMessage.
func (a *Adapter) handleAppMention(ev *slackevents.AppMentionEvent) {
	botID := a.BotUserID()
	if ev.User == botID {
		return
	}
	a.dispatch(channel.InboundMessage{
		Platform:  channel.PlatformSlack,
		ChatID:    ev.Channel,
		UserID:    ev.User,
		UserName:  a.resolveUserName(ev.User),
		Text:      stripMention(ev.Text, botID),
		Timestamp: parseSlackTimestamp(ev.TimeStamp),
	})
}

func (a *Adapter) dispatch(msg channel.InboundMessage) {
	a.sendMu.RLock()
	defer a.sendMu.RUnlock()
	select {
	case <-a.quit:
		return
	default:
	}
	select {
	case a.inbound <- msg:
	case <-a.quit:
	}
}

// resolveUserName looks up a user's display name. Falls back to user ID.
func (a *Adapter) resolveUserName(userID string) string {
	if userID == "" {
		return ""
	}
	user, err := a.client.GetUserInfo(userID)
	if err != nil {
		return userID
	}
	if user.Profile.DisplayName != "" {
		return user.Profile.DisplayName
	}
	return user.RealName
}

// stripMention removes the bot's <@ID> token from mention text.
func stripMention(text, botID string) string {
	if botID == "" {
		return strings.TrimSpace(text)
	}
	return strings.TrimSpace(strings.ReplaceAll(text, "<@"+botID+">", ""))
}

// parseSlackTimestamp converts a Slack timestamp (e.g., "1234567890.123456")
// to a time.Time.
func parseSlackTimestamp(ts string) time.Time {
	parts := strings.SplitN(ts, ".", 2)
	sec, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
