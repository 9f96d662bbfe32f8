// Package rag ranks stored knowledge chunks against a query by cosine
// similarity of their embeddings.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/provider"
	"gorm.io/gorm"
)

// Defaults applied when Options fields are zero.
const (
	DefaultLimit        = 5
	DefaultMinRelevance = 0.3
)

// Options bound a ranking. A zero MinRelevance selects the default floor;
// configuration rejects an explicit zero before it reaches here.
type Options struct {
	Limit        int
	MinRelevance float64
}

func (o Options) withDefaults() Options {
	if o.Limit <= 0 {
		o.Limit = DefaultLimit
	}
	if o.MinRelevance == 0 {
		o.MinRelevance = DefaultMinRelevance
	}
	return o
}

// Match is a chunk and its similarity to the query.
type Match struct {
	Chunk models.KnowledgeChunk
	Score float64
}

// Retriever embeds queries and ranks chunks.
type Retriever struct {
	embedder provider.Embedder
	defaults Options
	logger   *slog.Logger
}

// NewRetriever returns a Retriever using embedder for queries. defaults fill
// in any zero Options passed to Rank.
func NewRetriever(embedder provider.Embedder, defaults Options, logger *slog.Logger) *Retriever {
	if embedder == nil {
		embedder = provider.LocalEmbedder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{embedder: embedder, defaults: defaults.withDefaults(), logger: logger}
}

// Rank returns the chunks scoring at least opts.MinRelevance against query,
// best first, at most opts.Limit of them. Chunks without a stored embedding
// are skipped. A blank query matches nothing and is not embedded.
func (r *Retriever) Rank(ctx context.Context, db *gorm.DB, query string, opts Options) ([]Match, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if opts.Limit <= 0 {
		opts.Limit = r.defaults.Limit
	}
	if opts.MinRelevance == 0 {
		opts.MinRelevance = r.defaults.MinRelevance
	}

	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("rag: embed query: %w", err)
	}

	var chunks []models.KnowledgeChunk
	if err := db.WithContext(ctx).Where("embedding IS NOT NULL").
		Order("chunk_index ASC, id ASC").Find(&chunks).Error; err != nil {
		return nil, fmt.Errorf("rag: load chunks: %w", err)
	}

	matches := make([]Match, 0, len(chunks))
	for _, c := range chunks {
		vec, err := c.Vector()
		if err != nil {
			r.logger.Warn("rag: bad chunk embedding", "chunk_id", c.ID, "error", err)
			continue
		}
		if vec == nil {
			continue
		}
		matches = append(matches, Match{Chunk: c, Score: CosineSimilarity(vector, vec)})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })

	out := matches[:0]
	for _, m := range matches {
		if m.Score < opts.MinRelevance {
			break
		}
		out = append(out, m)
		if len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

// CosineSimilarity returns the cosine of the angle between a and b. It is 0
// for vectors of different length, empty vectors, or a zero-norm vector.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// MaxScore returns the top score in matches, or 0.
func MaxScore(matches []Match) float64 {
	if len(matches) == 0 {
		return 0
	}
	return matches[0].Score
}

// ChunkIDs returns the chunk ids of matches in rank order.
func ChunkIDs(matches []Match) []uint {
	ids := make([]uint, len(matches))
	for i, m := range matches {
		ids[i] = m.Chunk.ID
	}
	return ids
}

// Scores returns the scores of matches in rank order.
func Scores(matches []Match) []float64 {
	scores := make([]float64, len(matches))
	for i, m := range matches {
		scores[i] = m.Score
	}
	return scores
}
