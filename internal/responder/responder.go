// Package responder decides whether the AI may answer a customer message
// and, if so, produces the reply from retrieved knowledge.
package responder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cloudwego/eino/schema"
	"github.com/zulandar/switchboard/internal/instructions"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/provider"
	"github.com/zulandar/switchboard/internal/rag"
	"gorm.io/gorm"
)

// FallbackText is sent when the AI cannot answer from the knowledge base.
const FallbackText = "Для ответа на ваш вопрос мне нужно посоветоваться с коллегами, после этого вернусь к вам с решением."

const (
	contextPreamble = "Контекст из базы знаний. Отвечай только если информация есть в блоках ниже.\n"
	contextSep      = "\n---\n"
	localPrefix     = "Согласно внутренней базе знаний:\n"

	// minContextRunes is the length a matched chunk must exceed to count as
	// usable context.
	minContextRunes = 50
)

// Ranker finds knowledge chunks relevant to a query.
type Ranker interface {
	Rank(ctx context.Context, db *gorm.DB, query string, opts rag.Options) ([]rag.Match, error)
}

// Options configures a Responder.
type Options struct {
	Completer    provider.Completer
	Ranker       Ranker
	MinRelevance float64
	TopK         int
	HistoryLimit int
	Timeout      time.Duration
	Logger       *slog.Logger
}

// Responder produces AI replies.
type Responder struct {
	completer    provider.Completer
	ranker       Ranker
	minRelevance float64
	topK         int
	historyLimit int
	timeout      time.Duration
	logger       *slog.Logger
}

// New validates opts and returns a Responder.
func New(opts Options) (*Responder, error) {
	if opts.Ranker == nil {
		return nil, fmt.Errorf("responder: ranker is required")
	}
	if opts.Completer == nil {
		opts.Completer = provider.Unconfigured{}
	}
	if opts.MinRelevance == 0 {
		opts.MinRelevance = rag.DefaultMinRelevance
	}
	if opts.TopK <= 0 {
		opts.TopK = rag.DefaultLimit
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 15
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Responder{
		completer:    opts.Completer,
		ranker:       opts.Ranker,
		minRelevance: opts.MinRelevance,
		topK:         opts.TopK,
		historyLimit: opts.HistoryLimit,
		timeout:      opts.Timeout,
		logger:       opts.Logger,
	}, nil
}

// Request is one customer message to answer.
type Request struct {
	Dialog *models.Dialog
	Text   string
	// CurrentMessageID is the stored inbound message, left out of history.
	CurrentMessageID uint
	// Matches are used as-is when Precomputed is set.
	Matches     []rag.Match
	Precomputed bool
}

// Result is the responder's decision.
type Result struct {
	Text       string
	IsFallback bool
	UsedRAG    bool
	Matches    []rag.Match
	MaxScore   float64
}

// Rank runs retrieval with the responder's configured bounds. Retrieval
// errors are logged and yield no matches.
func (r *Responder) Rank(ctx context.Context, db *gorm.DB, text string) []rag.Match {
	matches, err := r.ranker.Rank(ctx, db, text, rag.Options{Limit: r.topK, MinRelevance: r.minRelevance})
	if err != nil {
		r.logger.Warn("responder: retrieval failed", "error", err)
		return nil
	}
	return matches
}

// Reply answers req.Text. Only storage errors are returned; every other
// failure degrades to a fallback or a local reply.
func (r *Responder) Reply(ctx context.Context, db *gorm.DB, req Request) (Result, error) {
	matches := req.Matches
	if !req.Precomputed {
		matches = r.Rank(ctx, db, req.Text)
	}
	res := Result{Matches: matches, MaxScore: rag.MaxScore(matches)}

	if !r.sufficient(matches) {
		return r.fallback(res), nil
	}

	system, err := instructions.CurrentText(db)
	if err != nil {
		return Result{}, fmt.Errorf("responder: %w", err)
	}
	history, err := r.history(db, req)
	if err != nil {
		return Result{}, err
	}

	text := r.complete(ctx, buildMessages(system, matches, history, req.Text), matches)
	if text == "" {
		return r.fallback(res), nil
	}
	res.Text = text
	res.UsedRAG = true
	return res, nil
}

func (r *Responder) fallback(res Result) Result {
	res.Text = FallbackText
	res.IsFallback = true
	res.UsedRAG = len(res.Matches) > 0
	return res
}

// sufficient reports whether matches can ground an answer: the best score
// clears the threshold and at least one chunk has substance.
func (r *Responder) sufficient(matches []rag.Match) bool {
	if len(matches) == 0 || matches[0].Score < r.minRelevance {
		return false
	}
	for _, m := range matches {
		if utf8.RuneCountInString(m.Chunk.Text) > minContextRunes {
			return true
		}
	}
	return false
}

func (r *Responder) history(db *gorm.DB, req Request) ([]models.Message, error) {
	if req.Dialog == nil || req.Dialog.ID == 0 {
		return nil, nil
	}
	q := db.Where("dialog_id = ?", req.Dialog.ID)
	if req.CurrentMessageID != 0 {
		q = q.Where("id <> ?", req.CurrentMessageID)
	}
	var msgs []models.Message
	if err := q.Order("created_at DESC, id DESC").Limit(r.historyLimit).Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("responder: load history: %w", err)
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// complete calls the completer under the configured timeout. When no model
// is reachable it answers with the best chunk verbatim.
func (r *Responder) complete(ctx context.Context, messages []*schema.Message, matches []rag.Match) string {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	out, err := r.completer.Complete(ctx, messages)
	if err == nil {
		return strings.TrimSpace(out)
	}
	if errors.Is(err, provider.ErrNotConfigured) {
		r.logger.Warn("responder: no completion backend, using local reply")
	} else {
		r.logger.Warn("responder: completion failed, using local reply", "error", err)
	}
	if len(matches) == 0 {
		return ""
	}
	return localPrefix + strings.TrimSpace(matches[0].Chunk.Text)
}

func buildMessages(system string, matches []rag.Match, history []models.Message, text string) []*schema.Message {
	messages := []*schema.Message{schema.SystemMessage(system)}
	if len(matches) > 0 {
		blocks := make([]string, len(matches))
		for i, m := range matches {
			blocks[i] = m.Chunk.Text
		}
		messages = append(messages, schema.SystemMessage(contextPreamble+strings.Join(blocks, contextSep)))
	}
	for _, m := range history {
		if m.Role == models.RoleUser {
			messages = append(messages, schema.UserMessage(m.Content))
		} else {
			messages = append(messages, schema.AssistantMessage(m.Content, nil))
		}
	}
	return append(messages, schema.UserMessage(text))
}
