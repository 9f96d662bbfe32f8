// Package telegram implements the channel Adapter for Telegram bots, using
// long polling by default or a webhook when a public URL is configured.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"github.com/zulandar/switchboard/internal/channel"
)

// maxMessageRunes is Telegram's limit on a single text message.
const maxMessageRunes = 4096

// sender abstracts the Bot API methods we use, enabling test mocks.
type sender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error)
}

// Adapter implements channel.Adapter for Telegram.
type Adapter struct {
	token         string
	webhookURL    string
	webhookSecret string
	logger        *slog.Logger

	mu         sync.Mutex
	bot        *bot.Bot
	client     sender
	connected  bool
	closed     bool
	inbound    chan channel.InboundMessage
	cancelFunc context.CancelFunc
	done       chan struct{}

	// sendMu guards inbound against close while a handler is queueing.
	sendMu sync.RWMutex
	quit   chan struct{}
}

// AdapterOpts holds parameters for creating a Telegram Adapter.
type AdapterOpts struct {
	Token         string
	WebhookURL    string // empty for long polling
	WebhookSecret string // checked against X-Telegram-Bot-Api-Secret-Token
	Logger        *slog.Logger
	// For testing: inject a mock client instead of the real Bot API.
	Client sender
}

// New creates a Telegram Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Client == nil && opts.Token == "" {
		return nil, fmt.Errorf("telegram: bot token is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		token:         opts.Token,
		webhookURL:    opts.WebhookURL,
		webhookSecret: opts.WebhookSecret,
		logger:        logger,
		client:        opts.Client,
		inbound:       make(chan channel.InboundMessage, 100),
		quit:          make(chan struct{}),
	}, nil
}

// Connect creates the bot and registers or removes the webhook to match the
// configured mode.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("telegram: adapter already closed")
	}
	if a.connected {
		return nil
	}

	if a.client == nil {
		opts := []bot.Option{bot.WithDefaultHandler(a.handleUpdate)}
		if a.webhookSecret != "" {
			opts = append(opts, bot.WithWebhookSecretToken(a.webhookSecret))
		}
		b, err := bot.New(a.token, opts...)
		if err != nil {
			return fmt.Errorf("telegram: create bot: %w", err)
		}
		if a.webhookURL != "" {
			if _, err := b.SetWebhook(ctx, &bot.SetWebhookParams{
				URL:         a.webhookURL,
				SecretToken: a.webhookSecret,
			}); err != nil {
				return fmt.Errorf("telegram: set webhook: %w", err)
			}
		} else if _, err := b.DeleteWebhook(ctx, &bot.DeleteWebhookParams{}); err != nil {
			return fmt.Errorf("telegram: delete webhook: %w", err)
		}
		a.bot = b
		a.client = b
	}

	a.connected = true
	return nil
}

// Listen starts receiving updates in the background and returns the
// inbound channel. Must be called after Connect.
func (a *Adapter) Listen(ctx context.Context) (<-chan channel.InboundMessage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil, fmt.Errorf("telegram: not connected")
	}
	if a.bot == nil || a.done != nil {
		return a.inbound, nil
	}

	listenCtx, cancel := context.WithCancel(ctx)
	a.cancelFunc = cancel
	a.done = make(chan struct{})
	go func(b *bot.Bot, done chan struct{}) {
		defer close(done)
		if a.webhookURL != "" {
			a.logger.Info("telegram: receiving updates via webhook", "url", a.webhookURL)
			b.StartWebhook(listenCtx)
			return
		}
		a.logger.Info("telegram: long polling for updates")
		b.Start(listenCtx)
	}(a.bot, a.done)

	return a.inbound, nil
}

// Send delivers msg to a Telegram chat, splitting text that exceeds the
// per-message limit.
func (a *Adapter) Send(ctx context.Context, msg channel.OutboundMessage) error {
	a.mu.Lock()
	client := a.client
	connected := a.connected
	a.mu.Unlock()
	if !connected {
		return fmt.Errorf("telegram: not connected")
	}
	if msg.ChatID == "" {
		return fmt.Errorf("telegram: no chat specified")
	}
	if strings.TrimSpace(msg.Text) == "" {
		return fmt.Errorf("telegram: empty message")
	}

	for _, part := range splitText(msg.Text, maxMessageRunes) {
		if _, err := client.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: msg.ChatID,
			Text:   part,
		}); err != nil {
			return fmt.Errorf("telegram: send message: %w", err)
		}
	}
	return nil
}

// Close stops receiving updates and closes the inbound channel.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.connected = false
	cancel, done := a.cancelFunc, a.done
	a.mu.Unlock()

	close(a.quit)
	if cancel != nil {
		cancel()
		<-done
	}

	a.sendMu.Lock()
	close(a.inbound)
	a.sendMu.Unlock()
	return nil
}

// WebhookHandler serves Telegram webhook deliveries. It answers 503 until
// the adapter has connected in webhook mode.
func (a *Adapter) WebhookHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.mu.Lock()
		b := a.bot
		a.mu.Unlock()
		if b == nil || a.webhookURL == "" {
			http.Error(w, "webhook not active", http.StatusServiceUnavailable)
			return
		}
		b.WebhookHandler()(w, r)
	})
}

// handleUpdate is the bot's default handler.
func (a *Adapter) handleUpdate(ctx context.Context, _ *bot.Bot, update *tgmodels.Update) {
	msg, ok := toInbound(update)
	if !ok {
		return
	}
	a.dispatch(ctx, msg)
}

// dispatch queues msg unless the adapter has been closed.
func (a *Adapter) dispatch(ctx context.Context, msg channel.InboundMessage) {
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
	case <-ctx.Done():
	}
}

// toInbound converts a text message update. Commands, bot authors and
// non-text updates are skipped.
func toInbound(update *tgmodels.Update) (channel.InboundMessage, bool) {
	if update == nil || update.Message == nil {
		return channel.InboundMessage{}, false
	}
	m := update.Message
	if strings.TrimSpace(m.Text) == "" || strings.HasPrefix(m.Text, "/") {
		return channel.InboundMessage{}, false
	}

	msg := channel.InboundMessage{
		Platform:  channel.PlatformTelegram,
		ChatID:    strconv.FormatInt(m.Chat.ID, 10),
		Text:      m.Text,
		Timestamp: time.Unix(int64(m.Date), 0).UTC(),
	}
	if m.From != nil {
		if m.From.IsBot {
			return channel.InboundMessage{}, false
		}
		msg.UserID = strconv.FormatInt(m.From.ID, 10)
		msg.UserName = m.From.Username
		if msg.UserName == "" {
			msg.UserName = m.From.FirstName
		}
	}
	return msg, true
}

// splitText breaks text into pieces of at most limit runes, preferring to
// cut at a newline in the second half of each piece.
func splitText(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}
	var parts []string
	for len(runes) > limit {
		cut := limit
		for i := limit - 1; i >= limit/2; i-- {
			if runes[i] == '\n' {
				cut = i + 1
				break
			}
		}
		parts = append(parts, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}
	return parts
}
