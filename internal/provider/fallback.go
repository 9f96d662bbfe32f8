package provider

import (
	"context"
	"log/slog"
)

// FallbackEmbedder tries Primary and degrades to the local embedding on any
// error. It never returns an error itself.
type FallbackEmbedder struct {
	Primary Embedder
	Local   Embedder
	logger  *slog.Logger
}

// NewFallbackEmbedder wraps primary with a LocalEmbedder fallback.
func NewFallbackEmbedder(primary Embedder, logger *slog.Logger) *FallbackEmbedder {
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackEmbedder{Primary: primary, Local: LocalEmbedder{}, logger: logger}
}

// Embed implements Embedder.
func (f *FallbackEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if f.Primary != nil {
		vec, err := f.Primary.Embed(ctx, text)
		if err == nil && len(vec) > 0 {
			return vec, nil
		}
		f.logger.Warn("provider: falling back to local embedding", "error", err)
	}
	return f.Local.Embed(ctx, text)
}
