package search

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/tickup/tendersearch/internal/store"
	"github.com/tickup/tendersearch/pkg/models"
)

// MockEmbedder implements the ai.Embedder interface for testing
type MockEmbedder struct {
	EmbedFunc func(text string) ([]float32, error)
	DimFunc   func() int
}

func (m *MockEmbedder) Embed(text string) ([]float32, error) {
	if m.EmbedFunc != nil {
		return m.EmbedFunc(text)
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func (m *MockEmbedder) EmbedBatch(texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := m.Embed(t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (m *MockEmbedder) Dim() int {
	if m.DimFunc != nil {
		return m.DimFunc()
	}
	return 3
}

// MockStore implements the store.ChunkStore interface for testing
type MockStore struct {
	SearchByVectorFunc  func(ctx context.Context, embedding []float32, k int, f store.Filters) ([]models.ScoredChunk, error)
	SearchByKeywordFunc func(ctx context.Context, text string, k int, f store.Filters) ([]models.ScoredChunk, error)
}

func (m *MockStore) Migrate(ctx context.Context, embedDim int) error { return nil }

func (m *MockStore) UpsertChunk(ctx context.Context, c models.Chunk, embedding []float32, contentHash string) error {
	return nil
}

func (m *MockStore) SearchByVector(ctx context.Context, embedding []float32, k int, f store.Filters) ([]models.ScoredChunk, error) {
	if m.SearchByVectorFunc != nil {
		return m.SearchByVectorFunc(ctx, embedding, k, f)
	}
	return []models.ScoredChunk{}, nil
}

func (m *MockStore) SearchByKeyword(ctx context.Context, text string, k int, f store.Filters) ([]models.ScoredChunk, error) {
	if m.SearchByKeywordFunc != nil {
		return m.SearchByKeywordFunc(ctx, text, k, f)
	}
	return []models.ScoredChunk{}, nil
}

func (m *MockStore) GetChunkMeta(ctx context.Context, id string) (store.ChunkMeta, bool, error) {
	return store.ChunkMeta{}, false, nil
}

func (m *MockStore) GetTenders(ctx context.Context) ([]string, error) { return nil, nil }

func (m *MockStore) GetDocuments(ctx context.Context, tenderCode string) ([]string, error) {
	return nil, nil
}

func (m *MockStore) DeleteTender(ctx context.Context, tenderCode string) error { return nil }

func scored(id string, score float64) models.ScoredChunk {
	return models.ScoredChunk{Chunk: models.Chunk{ID: id, Text: "testo " + id}, Score: score}
}

func ids(cands []models.RankedCandidate) []string {
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.Chunk.ID
	}
	return out
}

func equalIDs(a []string, b ...string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		scores   []float64
		expected []float64
	}{
		{
			name:     "empty set",
			scores:   []float64{},
			expected: []float64{},
		},
		{
			name:     "single element normalizes to 1",
			scores:   []float64{0.42},
			expected: []float64{1.0},
		},
		{
			name:     "identical scores all normalize to 1",
			scores:   []float64{0.5, 0.5, 0.5},
			expected: []float64{1.0, 1.0, 1.0},
		},
		{
			name:     "spread scores scale to full range",
			scores:   []float64{0.9, 0.5, 0.1},
			expected: []float64{1.0, 0.5, 0.0},
		},
		{
			name:     "negative scores still scale",
			scores:   []float64{-1, 0, 1},
			expected: []float64{0.0, 0.5, 1.0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set := make([]models.ScoredChunk, len(tt.scores))
			for i, s := range tt.scores {
				set[i] = scored("c", s)
			}
			got := normalize(set)
			if len(got) != len(tt.expected) {
				t.Fatalf("expected %d values, got %d", len(tt.expected), len(got))
			}
			for i := range got {
				if math.Abs(got[i]-tt.expected[i]) > 1e-9 {
					t.Errorf("value %d: expected %v, got %v", i, tt.expected[i], got[i])
				}
			}
		})
	}
}

func TestFuse(t *testing.T) {
	t.Run("opposite rankings with alpha 0.5 tie-break by vector rank", func(t *testing.T) {
		vec := []models.ScoredChunk{scored("A", 0.9), scored("B", 0.5), scored("C", 0.1)}
		kw := []models.ScoredChunk{scored("C", 0.9), scored("B", 0.5), scored("A", 0.1)}

		fused := Fuse(vec, kw, 0.5)

		// Every fused score is 0.5; the tie-break falls back to vector rank.
		for _, c := range fused {
			if math.Abs(c.Score-0.5) > 1e-9 {
				t.Errorf("expected fused score 0.5 for %s, got %v", c.Chunk.ID, c.Score)
			}
		}
		if !equalIDs(ids(fused), "A", "B", "C") {
			t.Errorf("expected order A,B,C by vector rank, got %v", ids(fused))
		}
	})

	t.Run("alpha 1 reproduces vector ranking", func(t *testing.T) {
		vec := []models.ScoredChunk{scored("A", 0.9), scored("B", 0.5)}
		kw := []models.ScoredChunk{scored("B", 0.9), scored("A", 0.5)}

		fused := Fuse(vec, kw, 1.0)
		if !equalIDs(ids(fused), "A", "B") {
			t.Errorf("expected vector order A,B, got %v", ids(fused))
		}
	})

	t.Run("alpha 0 reproduces keyword ranking", func(t *testing.T) {
		vec := []models.ScoredChunk{scored("A", 0.9), scored("B", 0.5)}
		kw := []models.ScoredChunk{scored("B", 0.9), scored("A", 0.5)}

		fused := Fuse(vec, kw, 0.0)
		if !equalIDs(ids(fused), "B", "A") {
			t.Errorf("expected keyword order B,A, got %v", ids(fused))
		}
	})

	t.Run("chunk missing from one side contributes zero there", func(t *testing.T) {
		vec := []models.ScoredChunk{scored("A", 0.9), scored("B", 0.1)}
		kw := []models.ScoredChunk{scored("C", 0.8)}

		fused := Fuse(vec, kw, 0.7)

		byID := map[string]models.RankedCandidate{}
		for _, c := range fused {
			byID[c.Chunk.ID] = c
		}

		// A: vector norm 1.0, no keyword side -> 0.7*1.0
		if math.Abs(byID["A"].Score-0.7) > 1e-9 {
			t.Errorf("expected A score 0.7, got %v", byID["A"].Score)
		}
		// C: single-element keyword set normalizes to 1.0 -> 0.3*1.0
		if math.Abs(byID["C"].Score-0.3) > 1e-9 {
			t.Errorf("expected C score 0.3, got %v", byID["C"].Score)
		}
		if byID["A"].KeywordRank != -1 {
			t.Errorf("expected A keyword rank -1, got %d", byID["A"].KeywordRank)
		}
		if byID["C"].VectorRank != -1 {
			t.Errorf("expected C vector rank -1, got %d", byID["C"].VectorRank)
		}
	})

	t.Run("chunk on both sides merges scores and keeps the vector payload", func(t *testing.T) {
		vecChunk := scored("A", 0.9)
		vecChunk.Chunk.Buyer = "Comune di Milano"
		kwChunk := scored("A", 0.8)
		kwChunk.Chunk.Buyer = "other"

		fused := Fuse(
			[]models.ScoredChunk{vecChunk, scored("B", 0.1)},
			[]models.ScoredChunk{kwChunk, scored("B", 0.2)},
			0.5,
		)

		if len(fused) != 2 {
			t.Fatalf("expected 2 candidates, got %d", len(fused))
		}
		top := fused[0]
		if top.Chunk.ID != "A" {
			t.Fatalf("expected A first, got %s", top.Chunk.ID)
		}
		// First source (vector) wins for the chunk payload.
		if top.Chunk.Buyer != "Comune di Milano" {
			t.Errorf("expected vector payload to win, got buyer %q", top.Chunk.Buyer)
		}
		// A tops both sides: 0.5*1.0 + 0.5*1.0
		if math.Abs(top.Score-1.0) > 1e-9 {
			t.Errorf("expected merged score 1.0, got %v", top.Score)
		}
		if top.VectorRank != 0 || top.KeywordRank != 0 {
			t.Errorf("expected ranks 0/0, got %d/%d", top.VectorRank, top.KeywordRank)
		}
	})

	t.Run("empty inputs produce empty output", func(t *testing.T) {
		fused := Fuse(nil, nil, 0.7)
		if len(fused) != 0 {
			t.Errorf("expected no candidates, got %d", len(fused))
		}
	})
}

func TestSortCandidates(t *testing.T) {
	cands := []models.RankedCandidate{
		{Chunk: models.Chunk{ID: "kw-only"}, Score: 0.5, VectorRank: -1, KeywordRank: 0},
		{Chunk: models.Chunk{ID: "vec-late"}, Score: 0.5, VectorRank: 3, KeywordRank: -1},
		{Chunk: models.Chunk{ID: "vec-early"}, Score: 0.5, VectorRank: 1, KeywordRank: 2},
		{Chunk: models.Chunk{ID: "high"}, Score: 0.9, VectorRank: -1, KeywordRank: 5},
	}

	SortCandidates(cands)

	// Score first, then vector-presence, then vector rank.
	if !equalIDs(ids(cands), "high", "vec-early", "vec-late", "kw-only") {
		t.Errorf("unexpected order: %v", ids(cands))
	}
}

func TestVectorStrategy(t *testing.T) {
	t.Run("embedding failure carries the embedding sentinel", func(t *testing.T) {
		cause := errors.New("provider down")
		v := NewVectorStrategy(&MockEmbedder{
			EmbedFunc: func(text string) ([]float32, error) {
				return nil, cause
			},
		}, &MockStore{})

		_, err := v.Search(context.Background(), "query", 10, store.Filters{})
		if err == nil {
			t.Fatal("expected error")
		}
		if !errors.Is(err, ErrEmbedding) {
			t.Errorf("expected ErrEmbedding in the chain, got: %v", err)
		}
		if !errors.Is(err, cause) {
			t.Errorf("expected the provider cause in the chain, got: %v", err)
		}
	})

	t.Run("store ordering and scores pass through untouched", func(t *testing.T) {
		stored := []models.ScoredChunk{
			scored("A", 0.92),
			scored("B", 0.75),
			scored("C", 0.75),
			scored("D", 0.31),
		}
		v := NewVectorStrategy(&MockEmbedder{}, &MockStore{
			SearchByVectorFunc: func(ctx context.Context, embedding []float32, k int, f store.Filters) ([]models.ScoredChunk, error) {
				return stored, nil
			},
		})

		res, err := v.Search(context.Background(), "query", 10, store.Filters{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(res) != len(stored) {
			t.Fatalf("expected %d results, got %d", len(stored), len(res))
		}
		for i := range res {
			if res[i].Chunk.ID != stored[i].Chunk.ID || res[i].Score != stored[i].Score {
				t.Errorf("result %d: expected %s/%v, got %s/%v",
					i, stored[i].Chunk.ID, stored[i].Score, res[i].Chunk.ID, res[i].Score)
			}
			if i > 0 && res[i].Score > res[i-1].Score {
				t.Errorf("scores increase at %d: %v after %v", i, res[i].Score, res[i-1].Score)
			}
		}
	})

	t.Run("non-positive topK short-circuits without touching the store", func(t *testing.T) {
		called := false
		v := NewVectorStrategy(&MockEmbedder{}, &MockStore{
			SearchByVectorFunc: func(ctx context.Context, embedding []float32, k int, f store.Filters) ([]models.ScoredChunk, error) {
				called = true
				return nil, nil
			},
		})

		res, err := v.Search(context.Background(), "query", 0, store.Filters{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(res) != 0 || called {
			t.Errorf("expected empty result without store call, got %d results (called=%v)", len(res), called)
		}
	})

	t.Run("passes the filters and k through", func(t *testing.T) {
		var gotK int
		var gotFilters store.Filters
		v := NewVectorStrategy(&MockEmbedder{}, &MockStore{
			SearchByVectorFunc: func(ctx context.Context, embedding []float32, k int, f store.Filters) ([]models.ScoredChunk, error) {
				gotK = k
				gotFilters = f
				return []models.ScoredChunk{scored("A", 0.9)}, nil
			},
		})

		res, err := v.Search(context.Background(), "query", 7, store.Filters{TenderCode: "CIG-1"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(res) != 1 || gotK != 7 || gotFilters.TenderCode != "CIG-1" {
			t.Errorf("unexpected pass-through: k=%d filters=%+v results=%d", gotK, gotFilters, len(res))
		}
	})
}

func TestKeywordStrategy(t *testing.T) {
	t.Run("blank query returns empty without store call", func(t *testing.T) {
		called := false
		k := NewKeywordStrategy(&MockStore{
			SearchByKeywordFunc: func(ctx context.Context, text string, k int, f store.Filters) ([]models.ScoredChunk, error) {
				called = true
				return nil, nil
			},
		})

		res, err := k.Search(context.Background(), "   ", 10, store.Filters{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(res) != 0 || called {
			t.Errorf("expected empty result without store call")
		}
	})
}

func TestHybridSearch(t *testing.T) {
	newHybrid := func(vecFn func(context.Context, []float32, int, store.Filters) ([]models.ScoredChunk, error),
		kwFn func(context.Context, string, int, store.Filters) ([]models.ScoredChunk, error)) *Hybrid {
		st := &MockStore{SearchByVectorFunc: vecFn, SearchByKeywordFunc: kwFn}
		return NewHybrid(NewVectorStrategy(&MockEmbedder{}, st), NewKeywordStrategy(st), 2)
	}

	t.Run("both strategies failing is an error", func(t *testing.T) {
		h := newHybrid(
			func(ctx context.Context, e []float32, k int, f store.Filters) ([]models.ScoredChunk, error) {
				return nil, errors.New("vector boom")
			},
			func(ctx context.Context, q string, k int, f store.Filters) ([]models.ScoredChunk, error) {
				return nil, errors.New("keyword boom")
			},
		)

		_, _, err := h.Search(context.Background(), "query", 5, 0.7, store.Filters{})
		if err == nil {
			t.Fatal("expected error when both strategies fail")
		}
	})

	t.Run("embedding sentinel survives the both-failed wrap", func(t *testing.T) {
		st := &MockStore{
			SearchByKeywordFunc: func(ctx context.Context, q string, k int, f store.Filters) ([]models.ScoredChunk, error) {
				return nil, errors.New("keyword boom")
			},
		}
		emb := &MockEmbedder{
			EmbedFunc: func(text string) ([]float32, error) {
				return nil, errors.New("provider down")
			},
		}
		h := NewHybrid(NewVectorStrategy(emb, st), NewKeywordStrategy(st), 2)

		_, _, err := h.Search(context.Background(), "query", 5, 0.7, store.Filters{})
		if !errors.Is(err, ErrEmbedding) {
			t.Errorf("expected ErrEmbedding in the chain, got: %v", err)
		}
	})

	t.Run("vector failure degrades to keyword-only", func(t *testing.T) {
		h := newHybrid(
			func(ctx context.Context, e []float32, k int, f store.Filters) ([]models.ScoredChunk, error) {
				return nil, errors.New("vector boom")
			},
			func(ctx context.Context, q string, k int, f store.Filters) ([]models.ScoredChunk, error) {
				return []models.ScoredChunk{scored("A", 0.9), scored("B", 0.5)}, nil
			},
		)

		res, degraded, err := h.Search(context.Background(), "query", 5, 0.7, store.Filters{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if degraded != DegradedKeywordOnly {
			t.Errorf("expected degradation %q, got %q", DegradedKeywordOnly, degraded)
		}
		if !equalIDs(ids(res), "A", "B") {
			t.Errorf("expected keyword ranking preserved, got %v", ids(res))
		}
	})

	t.Run("keyword failure degrades to vector-only", func(t *testing.T) {
		h := newHybrid(
			func(ctx context.Context, e []float32, k int, f store.Filters) ([]models.ScoredChunk, error) {
				return []models.ScoredChunk{scored("A", 0.9), scored("B", 0.5)}, nil
			},
			func(ctx context.Context, q string, k int, f store.Filters) ([]models.ScoredChunk, error) {
				return nil, errors.New("keyword boom")
			},
		)

		res, degraded, err := h.Search(context.Background(), "query", 5, 0.7, store.Filters{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if degraded != DegradedVectorOnly {
			t.Errorf("expected degradation %q, got %q", DegradedVectorOnly, degraded)
		}
		if !equalIDs(ids(res), "A", "B") {
			t.Errorf("expected vector ranking preserved, got %v", ids(res))
		}
	})

	t.Run("result is truncated to topK after fusion", func(t *testing.T) {
		h := newHybrid(
			func(ctx context.Context, e []float32, k int, f store.Filters) ([]models.ScoredChunk, error) {
				return []models.ScoredChunk{scored("A", 0.9), scored("B", 0.8), scored("C", 0.1)}, nil
			},
			func(ctx context.Context, q string, k int, f store.Filters) ([]models.ScoredChunk, error) {
				return []models.ScoredChunk{scored("D", 0.9), scored("E", 0.1)}, nil
			},
		)

		res, _, err := h.Search(context.Background(), "query", 2, 0.7, store.Filters{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(res) != 2 {
			t.Errorf("expected 2 candidates, got %d", len(res))
		}
	})

	t.Run("overfetch multiplies the per-strategy k", func(t *testing.T) {
		var vecK, kwK int
		h := newHybrid(
			func(ctx context.Context, e []float32, k int, f store.Filters) ([]models.ScoredChunk, error) {
				vecK = k
				return nil, nil
			},
			func(ctx context.Context, q string, k int, f store.Filters) ([]models.ScoredChunk, error) {
				kwK = k
				return nil, nil
			},
		)

		_, _, err := h.Search(context.Background(), "query", 5, 0.7, store.Filters{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if vecK != 10 || kwK != 10 {
			t.Errorf("expected both strategies fetch 10, got vector=%d keyword=%d", vecK, kwK)
		}
	})

	t.Run("non-positive topK returns empty", func(t *testing.T) {
		h := newHybrid(nil, nil)
		res, degraded, err := h.Search(context.Background(), "query", 0, 0.7, store.Filters{})
		if err != nil || degraded != "" || len(res) != 0 {
			t.Errorf("expected empty clean result, got res=%d degraded=%q err=%v", len(res), degraded, err)
		}
	})
}
