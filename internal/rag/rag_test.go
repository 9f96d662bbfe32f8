package rag

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/zulandar/switchboard/internal/db"
	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
)

type mapEmbedder struct {
	vectors map[string][]float64
	calls   int
	err     error
}

func (m *mapEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.vectors[text], nil
}

func seedChunks(t *testing.T, gormDB *gorm.DB, vectors [][]float64) []models.KnowledgeChunk {
	t.Helper()
	file := models.KnowledgeFile{FilenameOriginal: "kb.txt", StoredPath: "/tmp/kb.txt", SizeBytes: 1, TotalChunks: len(vectors)}
	if err := gormDB.Create(&file).Error; err != nil {
		t.Fatalf("create file: %v", err)
	}
	chunks := make([]models.KnowledgeChunk, len(vectors))
	for i, v := range vectors {
		chunks[i] = models.KnowledgeChunk{FileID: file.ID, ChunkIndex: i, Text: "chunk"}
		if err := chunks[i].SetEmbedding(v); err != nil {
			t.Fatalf("SetEmbedding: %v", err)
		}
		if err := gormDB.Create(&chunks[i]).Error; err != nil {
			t.Fatalf("create chunk: %v", err)
		}
	}
	return chunks
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float64
		want float64
	}{
		{"identical", []float64{1, 2, 3}, []float64{1, 2, 3}, 1},
		{"scaled", []float64{1, 2}, []float64{2, 4}, 1},
		{"orthogonal", []float64{1, 0}, []float64{0, 1}, 0},
		{"opposite", []float64{1, 1}, []float64{-1, -1}, -1},
		{"length mismatch", []float64{1, 2}, []float64{1, 2, 3}, 0},
		{"empty", nil, nil, 0},
		{"zero norm", []float64{0, 0}, []float64{1, 1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CosineSimilarity(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("CosineSimilarity = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCosineSimilarity_SymmetricAndBounded(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 200; i++ {
		a := make([]float64, 16)
		b := make([]float64, 16)
		for j := range a {
			a[j] = rng.Float64()*2 - 1
			b[j] = rng.Float64()*2 - 1
		}
		ab, ba := CosineSimilarity(a, b), CosineSimilarity(b, a)
		if math.Abs(ab-ba) > 1e-12 {
			t.Fatalf("not symmetric: %v vs %v", ab, ba)
		}
		if ab < -1-1e-9 || ab > 1+1e-9 {
			t.Fatalf("out of bounds: %v", ab)
		}
	}
}

func TestRank_SortsFiltersAndLimits(t *testing.T) {
	gormDB, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	chunks := seedChunks(t, gormDB, [][]float64{
		{0, 1},   // 0.0
		{1, 0},   // 1.0
		{1, 1},   // ~0.707
		{1, 0.1}, // ~0.995
		{-1, 0},  // -1.0
		{0.2, 1}, // ~0.196
	})
	emb := &mapEmbedder{vectors: map[string][]float64{"доставка": {1, 0}}}
	r := NewRetriever(emb, Options{}, nil)

	matches, err := r.Rank(context.Background(), gormDB, "доставка", Options{Limit: 2, MinRelevance: 0.3})
	if err != nil {
		t.Fatalf("Rank: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("matches = %d, want 2", len(matches))
	}
	if matches[0].Chunk.ID != chunks[1].ID || matches[1].Chunk.ID != chunks[3].ID {
		t.Errorf("order = %d, %d, want %d, %d", matches[0].Chunk.ID, matches[1].Chunk.ID, chunks[1].ID, chunks[3].ID)
	}
	if matches[0].Score < matches[1].Score {
		t.Error("matches not sorted by descending score")
	}

	all, err := r.Rank(context.Background(), gormDB, "доставка", Options{Limit: 10, MinRelevance: 0.3})
	if err != nil {
		t.Fatalf("Rank: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("matches above 0.3 = %d, want 3", len(all))
	}
	for _, m := range all {
		if m.Score < 0.3 {
			t.Errorf("match below threshold: %v", m.Score)
		}
	}
	if got := MaxScore(all); math.Abs(got-1) > 1e-9 {
		t.Errorf("MaxScore = %v, want 1", got)
	}
	if ids := ChunkIDs(all); len(ids) != 3 || ids[0] != chunks[1].ID {
		t.Errorf("ChunkIDs = %v", ids)
	}
	if scores := Scores(all); len(scores) != 3 || scores[2] > scores[1] {
		t.Errorf("Scores = %v", scores)
	}
}

func TestRank_SkipsChunksWithoutEmbedding(t *testing.T) {
	gormDB, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	chunks := seedChunks(t, gormDB, [][]float64{nil, {1, 0}})
	r := NewRetriever(&mapEmbedder{vectors: map[string][]float64{"q": {1, 0}}}, Options{}, nil)

	matches, err := r.Rank(context.Background(), gormDB, "q", Options{})
	if err != nil {
		t.Fatalf("Rank: %v", err)
	}
	if len(matches) != 1 || matches[0].Chunk.ID != chunks[1].ID {
		t.Errorf("matches = %+v, want only the embedded chunk", matches)
	}
}

func TestRank_BlankQuery(t *testing.T) {
	gormDB, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	emb := &mapEmbedder{}
	r := NewRetriever(emb, Options{}, nil)
	for _, q := range []string{"", "   ", "\n\t"} {
		matches, err := r.Rank(context.Background(), gormDB, q, Options{})
		if err != nil || len(matches) != 0 {
			t.Errorf("Rank(%q) = %v, %v, want empty", q, matches, err)
		}
	}
	if emb.calls != 0 {
		t.Errorf("embedder called %d times for blank queries", emb.calls)
	}
}

func TestRank_EmbedError(t *testing.T) {
	gormDB, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	boom := errors.New("boom")
	r := NewRetriever(&mapEmbedder{err: boom}, Options{}, nil)
	if _, err := r.Rank(context.Background(), gormDB, "q", Options{}); !errors.Is(err, boom) {
		t.Errorf("error = %v, want wrapped boom", err)
	}
}
