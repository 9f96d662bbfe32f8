// Package provider adapts LLM and embedding backends (OpenAI, Ollama,
// GigaChat) to the small interfaces the responder and retriever use.
package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino/schema"
	"github.com/zulandar/switchboard/internal/config"
)

// ErrNotConfigured is returned when no backend is set up for a call.
var ErrNotConfigured = errors.New("provider: not configured")

// Error wraps a failed backend call.
type Error struct {
	Provider string
	Op       string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider: %s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Completer generates the assistant's next message for a prompt.
type Completer interface {
	Complete(ctx context.Context, messages []*schema.Message) (string, error)
}

// Set is the pair of backends selected by configuration.
type Set struct {
	Name      string
	Completer Completer
	Embedder  Embedder
}

// Unconfigured is a Completer that always reports ErrNotConfigured.
type Unconfigured struct{}

// Complete implements Completer.
func (Unconfigured) Complete(context.Context, []*schema.Message) (string, error) {
	return "", ErrNotConfigured
}

// New builds the backend set for cfg. Every embedder it returns falls back to
// the local hash embedding when the remote call fails.
func New(ctx context.Context, cfg config.ProviderConfig, logger *slog.Logger) (*Set, error) {
	if logger == nil {
		logger = slog.Default()
	}
	local := LocalEmbedder{}

	switch cfg.Kind {
	case "", "none":
		return &Set{Name: "none", Completer: Unconfigured{}, Embedder: local}, nil

	case "openai":
		chat, err := NewOpenAICompleter(ctx, cfg)
		if err != nil {
			return nil, err
		}
		emb, err := NewOpenAIEmbedder(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &Set{Name: "openai", Completer: chat, Embedder: NewFallbackEmbedder(emb, logger)}, nil

	case "ollama":
		chat, err := NewOllamaCompleter(ctx, cfg)
		if err != nil {
			return nil, err
		}
		emb, err := NewOllamaEmbedder(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &Set{Name: "ollama", Completer: chat, Embedder: NewFallbackEmbedder(emb, logger)}, nil

	case "gigachat":
		client, err := NewGigaChat(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &Set{Name: "gigachat", Completer: client, Embedder: NewFallbackEmbedder(client, logger)}, nil

	default:
		return nil, fmt.Errorf("provider: unknown kind %q", cfg.Kind)
	}
}
