package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	ollamaemb "github.com/cloudwego/eino-ext/components/embedding/ollama"
	openaiemb "github.com/cloudwego/eino-ext/components/embedding/openai"
	ollamamodel "github.com/cloudwego/eino-ext/components/model/ollama"
	openaimodel "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/zulandar/switchboard/internal/config"
)

// chatModel is the subset of eino's chat model contract used here.
type chatModel interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

// EinoCompleter adapts an eino chat model to Completer.
type EinoCompleter struct {
	name  string
	model chatModel
}

// NewEinoCompleter wraps m under the given provider name.
func NewEinoCompleter(name string, m chatModel) *EinoCompleter {
	return &EinoCompleter{name: name, model: m}
}

// Complete implements Completer.
func (c *EinoCompleter) Complete(ctx context.Context, messages []*schema.Message) (string, error) {
	if c.model == nil {
		return "", ErrNotConfigured
	}
	out, err := c.model.Generate(ctx, messages)
	if err != nil {
		return "", &Error{Provider: c.name, Op: "generate", Err: err}
	}
	if out == nil {
		return "", &Error{Provider: c.name, Op: "generate", Err: errors.New("empty response")}
	}
	return strings.TrimSpace(out.Content), nil
}

// EinoEmbedder adapts an eino embedder to Embedder.
type EinoEmbedder struct {
	name     string
	embedder embedding.Embedder
}

// NewEinoEmbedder wraps e under the given provider name.
func NewEinoEmbedder(name string, e embedding.Embedder) *EinoEmbedder {
	return &EinoEmbedder{name: name, embedder: e}
}

// Embed implements Embedder.
func (e *EinoEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if e.embedder == nil {
		return nil, ErrNotConfigured
	}
	vecs, err := e.embedder.EmbedStrings(ctx, []string{text})
	if err != nil {
		return nil, &Error{Provider: e.name, Op: "embed", Err: err}
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return nil, &Error{Provider: e.name, Op: "embed", Err: errors.New("no embeddings returned")}
	}
	return vecs[0], nil
}

// NewOpenAICompleter builds a Completer backed by an OpenAI-compatible API.
func NewOpenAICompleter(ctx context.Context, cfg config.ProviderConfig) (*EinoCompleter, error) {
	m, err := openaimodel.NewChatModel(ctx, &openaimodel.ChatModelConfig{
		BaseURL: cfg.BaseURL,
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
		Timeout: cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("provider: openai chat model: %w", err)
	}
	return NewEinoCompleter("openai", m), nil
}

// NewOpenAIEmbedder builds an Embedder backed by an OpenAI-compatible API.
func NewOpenAIEmbedder(ctx context.Context, cfg config.ProviderConfig) (*EinoEmbedder, error) {
	e, err := openaiemb.NewEmbedder(ctx, &openaiemb.EmbeddingConfig{
		BaseURL: cfg.BaseURL,
		APIKey:  cfg.APIKey,
		Model:   cfg.EmbeddingModel,
		Timeout: cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("provider: openai embedder: %w", err)
	}
	return NewEinoEmbedder("openai", e), nil
}

// NewOllamaCompleter builds a Completer backed by a local Ollama server.
func NewOllamaCompleter(ctx context.Context, cfg config.ProviderConfig) (*EinoCompleter, error) {
	m, err := ollamamodel.NewChatModel(ctx, &ollamamodel.ChatModelConfig{
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
		Timeout: cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("provider: ollama chat model: %w", err)
	}
	return NewEinoCompleter("ollama", m), nil
}

// NewOllamaEmbedder builds an Embedder backed by a local Ollama server.
func NewOllamaEmbedder(ctx context.Context, cfg config.ProviderConfig) (*EinoEmbedder, error) {
	e, err := ollamaemb.NewEmbedder(ctx, &ollamaemb.EmbeddingConfig{
		BaseURL: cfg.BaseURL,
		Model:   cfg.EmbeddingModel,
		Timeout: cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("provider: ollama embedder: %w", err)
	}
	return NewEinoEmbedder("ollama", e), nil
}
