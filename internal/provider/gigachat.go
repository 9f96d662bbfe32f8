package provider

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"github.com/zulandar/switchboard/internal/config"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// defaultTokenLifetime applies when the OAuth response carries no expiry.
const defaultTokenLifetime = 25 * time.Minute

// GigaChat is a Completer and Embedder for the Sber GigaChat API. Tokens
// come from the client-credentials flow and are cached until shortly
// before they expire.
type GigaChat struct {
	apiURL         string
	model          string
	embeddingModel string
	client         *http.Client
}

// NewGigaChat builds a GigaChat client from cfg.
func NewGigaChat(ctx context.Context, cfg config.ProviderConfig) (*GigaChat, error) {
	gc := cfg.GigaChat
	if gc.ClientID == "" || gc.ClientSecret == "" {
		return nil, ErrNotConfigured
	}

	base := http.DefaultTransport.(*http.Transport).Clone()
	if gc.InsecureSkipVerify {
		base.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	cc := &clientcredentials.Config{
		ClientID:     gc.ClientID,
		ClientSecret: gc.ClientSecret,
		TokenURL:     gc.OAuthURL,
		Scopes:       []string{gc.Scope},
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	tokenHTTP := &http.Client{Timeout: 30 * time.Second, Transport: &rqUIDTransport{base: base}}
	tokenCtx := context.WithValue(context.WithoutCancel(ctx), oauth2.HTTPClient, tokenHTTP)

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &GigaChat{
		apiURL:         strings.TrimRight(gc.APIURL, "/"),
		model:          cfg.Model,
		embeddingModel: cfg.EmbeddingModel,
		client: &http.Client{
			Timeout: timeout,
			Transport: &oauth2.Transport{
				Source: oauth2.ReuseTokenSource(nil, &gigaChatTokenSource{ctx: tokenCtx, cfg: cc}),
				Base:   base,
			},
		},
	}, nil
}

type gigaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type gigaChatCompletionRequest struct {
	Model    string            `json:"model"`
	Messages []gigaChatMessage `json:"messages"`
}

type gigaChatCompletionResponse struct {
	Choices []struct {
		Message gigaChatMessage `json:"message"`
	} `json:"choices"`
}

type gigaChatEmbeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type gigaChatEmbeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// Complete implements Completer.
func (g *GigaChat) Complete(ctx context.Context, messages []*schema.Message) (string, error) {
	req := gigaChatCompletionRequest{Model: g.model}
	for _, m := range messages {
		req.Messages = append(req.Messages, gigaChatMessage{Role: string(m.Role), Content: m.Content})
	}
	var resp gigaChatCompletionResponse
	if err := g.post(ctx, "chat/completions", req, &resp); err != nil {
		return "", &Error{Provider: "gigachat", Op: "chat", Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &Error{Provider: "gigachat", Op: "chat", Err: errors.New("empty response")}
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Embed implements Embedder.
func (g *GigaChat) Embed(ctx context.Context, text string) ([]float64, error) {
	var resp gigaChatEmbeddingResponse
	if err := g.post(ctx, "embeddings", gigaChatEmbeddingRequest{Model: g.embeddingModel, Input: []string{text}}, &resp); err != nil {
		return nil, &Error{Provider: "gigachat", Op: "embed", Err: err}
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, &Error{Provider: "gigachat", Op: "embed", Err: errors.New("empty embedding response")}
	}
	return resp.Data[0].Embedding, nil
}

func (g *GigaChat) post(ctx context.Context, endpoint string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.apiURL+"/"+endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

// gigaChatTokenSource fetches a fresh client-credentials token and derives
// its expiry from the non-standard expires_at field (Unix milliseconds).
type gigaChatTokenSource struct {
	ctx context.Context
	cfg *clientcredentials.Config
}

func (s *gigaChatTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.cfg.Token(s.ctx)
	if err != nil {
		return nil, err
	}
	if tok.Expiry.IsZero() {
		if ms, ok := tok.Extra("expires_at").(float64); ok && ms > 0 {
			tok.Expiry = time.UnixMilli(int64(ms)).Add(-30 * time.Second)
		} else {
			tok.Expiry = time.Now().Add(defaultTokenLifetime)
		}
	}
	return tok, nil
}

// rqUIDTransport stamps every token request with the RqUID header GigaChat
// requires.
type rqUIDTransport struct {
	base http.RoundTripper
}

func (t *rqUIDTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Header.Set("RqUID", uuid.NewString())
	return t.base.RoundTrip(r)
}
