// Package inbound handles customer messages arriving from a chat channel:
// it stores them, lets the AI responder answer when the dialog allows it,
// and moves the dialog between auto and wait_operator.
package inbound

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/zulandar/switchboard/internal/audit"
	"github.com/zulandar/switchboard/internal/channel"
	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/dialog"
	"github.com/zulandar/switchboard/internal/hub"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/rag"
	"github.com/zulandar/switchboard/internal/responder"
	"gorm.io/gorm"
)

// DefaultHighConfidence is the score an AI answer needs while a customer
// waits for an operator.
const DefaultHighConfidence = 0.5

// aiSenderName labels AI messages in the transcript.
const aiSenderName = "AI"

// Options configures a Handler.
type Options struct {
	DB             *gorm.DB
	Engine         *dialog.Engine
	Responder      *responder.Responder
	Hub            *hub.Hub
	Outbound       dialog.Outbound
	Keywords       []string // defaults to config.DefaultOperatorKeywords
	HighConfidence float64
	Logger         *slog.Logger
}

// Handler processes inbound customer messages.
type Handler struct {
	db             *gorm.DB
	engine         *dialog.Engine
	responder      *responder.Responder
	hub            *hub.Hub
	outbound       dialog.Outbound
	keywords       []string
	highConfidence float64
	logger         *slog.Logger
}

// NewHandler validates opts and returns a Handler.
func NewHandler(opts Options) (*Handler, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("inbound: db is required")
	}
	if opts.Engine == nil {
		return nil, fmt.Errorf("inbound: engine is required")
	}
	if opts.Responder == nil {
		return nil, fmt.Errorf("inbound: responder is required")
	}
	if opts.Keywords == nil {
		opts.Keywords = config.DefaultOperatorKeywords
	}
	if opts.HighConfidence <= 0 {
		opts.HighConfidence = DefaultHighConfidence
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	keywords := make([]string, 0, len(opts.Keywords))
	for _, k := range opts.Keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			keywords = append(keywords, k)
		}
	}
	return &Handler{
		db:             opts.DB,
		engine:         opts.Engine,
		responder:      opts.Responder,
		hub:            opts.Hub,
		outbound:       opts.Outbound,
		keywords:       keywords,
		highConfidence: opts.HighConfidence,
		logger:         opts.Logger,
	}, nil
}

// Outcome reports what handling one message did.
type Outcome struct {
	Dialog      *models.Dialog
	UserMessage *models.Message
	// AIMessage is nil when the AI stayed silent, which happens while the
	// customer waits for an operator and retrieval is not confident.
	AIMessage     *models.Message
	Result        *responder.Result
	PrevStatus    models.DialogStatus
	StatusChanged bool
}

// WantsOperator reports whether text contains one of the handoff keywords.
func (h *Handler) WantsOperator(text string) bool {
	lower := strings.ToLower(text)
	for _, k := range h.keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// HandleInbound implements channel.Handler.
func (h *Handler) HandleInbound(ctx context.Context, msg channel.InboundMessage) error {
	_, err := h.Handle(ctx, msg)
	return err
}

// Handle stores msg, decides on and stores the AI reply, and updates the
// dialog in one transaction. After commit the reply is delivered and events
// are published; neither can fail the call. Messages without text or chat
// id are ignored and yield a nil Outcome.
func (h *Handler) Handle(ctx context.Context, msg channel.InboundMessage) (*Outcome, error) {
	text := strings.TrimSpace(msg.Text)
	if text == "" || msg.ChatID == "" {
		return nil, nil
	}
	platform := msg.Platform
	if platform == "" {
		platform = channel.PlatformTelegram
	}

	out := &Outcome{}
	err := h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		d, _, err := h.engine.FindOrCreate(tx, platform, msg.ChatID)
		if err != nil {
			return err
		}
		out.Dialog = d
		out.PrevStatus = d.Status

		now := h.engine.Now()
		userMsg := models.NewMessage(d.ID, models.RoleUser, text)
		userMsg.SenderID = msg.UserID
		if userMsg.SenderID == "" {
			userMsg.SenderID = msg.ChatID
		}
		userMsg.SenderName = msg.UserName
		userMsg.CreatedAt = now
		if err := tx.Create(userMsg).Error; err != nil {
			return fmt.Errorf("inbound: create user message: %w", err)
		}
		out.UserMessage = userMsg

		d.LastMessageAt = &now
		d.UnreadMessagesCount++

		res, err := h.decide(ctx, tx, d, userMsg)
		if err != nil {
			return err
		}
		out.Result = res

		if res != nil {
			aiMsg, err := h.storeReply(tx, d, res, now)
			if err != nil {
				return err
			}
			out.AIMessage = aiMsg
			h.transition(d, res)
		}

		if err := dialog.SaveState(tx, d); err != nil {
			return err
		}

		if out.AIMessage != nil {
			if err := audit.Log(tx, nil, models.ActionAIMessageSent, audit.Params{
				"dialog_id":   d.ID,
				"message_id":  out.AIMessage.ID,
				"is_fallback": out.AIMessage.IsFallback,
			}); err != nil {
				return err
			}
		}
		if d.Status != out.PrevStatus {
			out.StatusChanged = true
			return audit.Log(tx, nil, models.ActionDialogStatusChanged, audit.Params{
				"dialog_id": d.ID,
				"from":      out.PrevStatus,
				"status":    d.Status,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("inbound: handle %s/%s: %w", platform, msg.ChatID, err)
	}

	if out.AIMessage != nil {
		h.deliver(ctx, msg.ChatID, out.AIMessage)
	}
	h.hub.Publish(hub.ChannelMessages, hub.MessageCreated(out.UserMessage))
	if out.AIMessage != nil {
		h.hub.Publish(hub.ChannelMessages, hub.MessageCreated(out.AIMessage))
	}
	h.hub.Publish(hub.ChannelDialogs, hub.DialogUpdated(out.Dialog))

	h.logger.Info("inbound: handled message",
		"dialog_id", out.Dialog.ID,
		"status", out.Dialog.Status,
		"ai_replied", out.AIMessage != nil,
	)
	return out, nil
}

// decide returns the responder's result, or nil when the AI must not speak.
func (h *Handler) decide(ctx context.Context, tx *gorm.DB, d *models.Dialog, userMsg *models.Message) (*responder.Result, error) {
	req := responder.Request{Dialog: d, Text: userMsg.Content, CurrentMessageID: userMsg.ID}

	switch {
	case h.WantsOperator(userMsg.Content):
		d.Status = models.StatusWaitOperator
		return &responder.Result{Text: responder.FallbackText, IsFallback: true}, nil

	case d.Status == models.StatusWaitOperator:
		matches := h.responder.Rank(ctx, tx, userMsg.Content)
		if rag.MaxScore(matches) < h.highConfidence {
			return nil, nil
		}
		req.Matches = matches
		req.Precomputed = true
	}

	res, err := h.responder.Reply(ctx, tx, req)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (h *Handler) storeReply(tx *gorm.DB, d *models.Dialog, res *responder.Result, now time.Time) (*models.Message, error) {
	m := models.NewMessage(d.ID, models.RoleAI, res.Text)
	m.SenderName = aiSenderName
	m.IsFallback = res.IsFallback
	m.UsedRAG = res.UsedRAG
	m.AIReplyDuringOperatorWait = d.Status == models.StatusWaitOperator && !res.IsFallback
	m.CreatedAt = now
	if len(res.Matches) > 0 {
		if err := m.SetMetadata(models.MessageMetadata{
			ChunkIDs:  rag.ChunkIDs(res.Matches),
			Relevance: rag.Scores(res.Matches),
		}); err != nil {
			return nil, fmt.Errorf("inbound: encode metadata: %w", err)
		}
	}
	if err := tx.Create(m).Error; err != nil {
		return nil, fmt.Errorf("inbound: create ai message: %w", err)
	}
	return m, nil
}

// transition applies the post-reply status. A fallback hands the dialog to
// operators; a confident answer returns it to auto unless the customer was
// already waiting for an operator.
func (h *Handler) transition(d *models.Dialog, res *responder.Result) {
	switch {
	case res.IsFallback:
		d.Status = models.StatusWaitOperator
	case d.Status == models.StatusWaitOperator:
	default:
		d.Status = models.StatusAuto
		d.UnreadMessagesCount = 0
	}
}

func (h *Handler) deliver(ctx context.Context, chatID string, m *models.Message) {
	if h.outbound == nil {
		return
	}
	if err := h.outbound.Deliver(ctx, chatID, m.Content); err != nil {
		h.logger.Warn("inbound: reply delivery failed", "dialog_id", m.DialogID, "error", err)
	}
}
