package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/tickup/tendersearch/internal/ai"
	"github.com/tickup/tendersearch/internal/store"
	"github.com/tickup/tendersearch/pkg/models"
)

// ErrEmbedding marks a failure to embed the query text. Callers discriminate
// with errors.Is; the wrapped cause carries the provider detail.
var ErrEmbedding = errors.New("embedding failed")

// Degradation values reported by Hybrid when one search branch failed and the
// fusion fell back to a single-strategy ranking.
const (
	DegradedVectorOnly  = "vector_only"
	DegradedKeywordOnly = "keyword_only"
)

// VectorStrategy embeds the query and searches the store by similarity.
type VectorStrategy struct {
	Embedder ai.Embedder
	Store    store.ChunkStore
}

func NewVectorStrategy(e ai.Embedder, s store.ChunkStore) *VectorStrategy {
	return &VectorStrategy{Embedder: e, Store: s}
}

func (v *VectorStrategy) Search(ctx context.Context, query string, topK int, f store.Filters) ([]models.ScoredChunk, error) {
	if topK <= 0 {
		return []models.ScoredChunk{}, nil
	}

	vec, err := v.Embedder.Embed(query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w: %w", ErrEmbedding, err)
	}
	return v.Store.SearchByVector(ctx, vec, topK, f)
}

// KeywordStrategy passes the query text straight to full-text search.
type KeywordStrategy struct {
	Store store.ChunkStore
}

func NewKeywordStrategy(s store.ChunkStore) *KeywordStrategy {
	return &KeywordStrategy{Store: s}
}

func (k *KeywordStrategy) Search(ctx context.Context, query string, topK int, f store.Filters) ([]models.ScoredChunk, error) {
	query = strings.TrimSpace(query)
	if topK <= 0 || query == "" {
		return []models.ScoredChunk{}, nil
	}
	return k.Store.SearchByKeyword(ctx, query, topK, f)
}

// Hybrid fuses vector and keyword results into a single ranked list.
type Hybrid struct {
	Vector  *VectorStrategy
	Keyword *KeywordStrategy

	// Overfetch multiplies topK on each branch before fusion; 2 recalls
	// chunks that rank highly on only one side. Values < 1 mean no over-fetch.
	Overfetch int
}

func NewHybrid(v *VectorStrategy, k *KeywordStrategy, overfetch int) *Hybrid {
	if overfetch < 1 {
		overfetch = 1
	}
	return &Hybrid{Vector: v, Keyword: k, Overfetch: overfetch}
}

// Search runs both strategies concurrently, normalizes each side's scores to
// [0,1] via min-max scaling, then fuses per chunk id as
// alpha*vector + (1-alpha)*keyword; a chunk missing from one side contributes
// 0 on that side. The returned degradation string is non-empty when exactly
// one branch failed and the other's ranking was used as-is.
func (h *Hybrid) Search(ctx context.Context, query string, topK int, alpha float64, f store.Filters) ([]models.RankedCandidate, string, error) {
	if topK <= 0 {
		return []models.RankedCandidate{}, "", nil
	}

	fetchK := topK * h.Overfetch

	var wg sync.WaitGroup
	var vecRes, kwRes []models.ScoredChunk
	var vecErr, kwErr error

	wg.Add(2)
	go func() {
		defer wg.Done()
		vecRes, vecErr = h.Vector.Search(ctx, query, fetchK, f)
	}()
	go func() {
		defer wg.Done()
		kwRes, kwErr = h.Keyword.Search(ctx, query, fetchK, f)
	}()
	wg.Wait()

	if vecErr != nil && kwErr != nil {
		return nil, "", fmt.Errorf("both search strategies failed: vector=%w, keyword=%w", vecErr, kwErr)
	}

	degraded := ""
	switch {
	case vecErr != nil:
		log.Warn().Err(vecErr).Msg("vector search failed, degrading to keyword-only ranking")
		vecRes = nil
		degraded = DegradedKeywordOnly
	case kwErr != nil:
		log.Warn().Err(kwErr).Msg("keyword search failed, degrading to vector-only ranking")
		kwRes = nil
		degraded = DegradedVectorOnly
	}

	fused := Fuse(vecRes, kwRes, alpha)
	if len(fused) > topK {
		fused = fused[:topK]
	}
	return fused, degraded, nil
}

// Fuse merges the two result sets into one ranked candidate list. Exported so
// the fusion arithmetic can be exercised without a store.
func Fuse(vecRes, kwRes []models.ScoredChunk, alpha float64) []models.RankedCandidate {
	vecNorm := normalize(vecRes)
	kwNorm := normalize(kwRes)

	byID := map[string]*models.RankedCandidate{}
	order := []string{}

	for i, sc := range vecRes {
		c := &models.RankedCandidate{
			Chunk:       sc.Chunk,
			Score:       alpha * vecNorm[i],
			VectorRank:  i,
			KeywordRank: -1,
		}
		if _, seen := byID[sc.Chunk.ID]; seen {
			continue
		}
		byID[sc.Chunk.ID] = c
		order = append(order, sc.Chunk.ID)
	}

	for i, sc := range kwRes {
		if existing, seen := byID[sc.Chunk.ID]; seen {
			// First source wins for chunk payload; only the score side merges.
			existing.Score += (1 - alpha) * kwNorm[i]
			existing.KeywordRank = i
			continue
		}
		byID[sc.Chunk.ID] = &models.RankedCandidate{
			Chunk:       sc.Chunk,
			Score:       (1 - alpha) * kwNorm[i],
			VectorRank:  -1,
			KeywordRank: i,
		}
		order = append(order, sc.Chunk.ID)
	}

	out := make([]models.RankedCandidate, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	SortCandidates(out)
	return out
}

// normalize min-max scales scores to [0,1] over the set. A single-element or
// zero-variance set normalizes to 1.0 for every member.
func normalize(set []models.ScoredChunk) []float64 {
	out := make([]float64, len(set))
	if len(set) == 0 {
		return out
	}
	minS, maxS := set[0].Score, set[0].Score
	for _, sc := range set[1:] {
		if sc.Score < minS {
			minS = sc.Score
		}
		if sc.Score > maxS {
			maxS = sc.Score
		}
	}
	if maxS == minS {
		for i := range out {
			out[i] = 1.0
		}
		return out
	}
	for i, sc := range set {
		out[i] = (sc.Score - minS) / (maxS - minS)
	}
	return out
}

// SortCandidates orders by score descending with the documented tie-break:
// vector-presence first, then original vector rank, then keyword rank.
func SortCandidates(cands []models.RankedCandidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		aVec, bVec := a.VectorRank >= 0, b.VectorRank >= 0
		if aVec != bVec {
			return aVec
		}
		if aVec && a.VectorRank != b.VectorRank {
			return a.VectorRank < b.VectorRank
		}
		return a.KeywordRank < b.KeywordRank
	})
}
