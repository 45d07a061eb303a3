package search

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tickup/tendersearch/internal/ai"
	"github.com/tickup/tendersearch/pkg/models"
)

// Reranker reorders a candidate list using a second-pass relevance signal.
// Implementations must not mutate the input slice and must return at most
// topN candidates drawn from the input.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []models.RankedCandidate, topN int) ([]models.RankedCandidate, error)
}

// Identity truncates without reordering.
type Identity struct{}

func (Identity) Rerank(_ context.Context, _ string, candidates []models.RankedCandidate, topN int) ([]models.RankedCandidate, error) {
	out := append([]models.RankedCandidate(nil), candidates...)
	if len(out) > topN {
		out = out[:topN]
	}
	return out, nil
}

// BoostRule is one declarative metadata boost. All non-zero conditions must
// hold for the boost to apply. The default values are hand-tuned starting
// points, not validated business rules; deployments override them in config.
type BoostRule struct {
	Name string

	// RecencyWindow matches chunks whose tender was published within the
	// window, measured back from Now.
	RecencyWindow time.Duration
	// MinAmount matches chunks whose tender base amount is at least this value.
	MinAmount float64
	// SectionType matches chunks with this exact section type.
	SectionType string

	Boost float64
}

func (r BoostRule) applies(c models.Chunk, now time.Time) bool {
	if r.RecencyWindow > 0 {
		if c.PublicationDate.IsZero() || now.Sub(c.PublicationDate) > r.RecencyWindow {
			return false
		}
	}
	if r.MinAmount > 0 && c.BaseAmount < r.MinAmount {
		return false
	}
	if r.SectionType != "" && c.SectionType != r.SectionType {
		return false
	}
	return true
}

// DefaultBoostRules returns the example boost policy: favour recent tenders,
// large base amounts, and the technical specification sections.
func DefaultBoostRules() []BoostRule {
	return []BoostRule{
		{Name: "recent_publication", RecencyWindow: 180 * 24 * time.Hour, Boost: 0.10},
		{Name: "large_amount", MinAmount: 1_000_000, Boost: 0.05},
		{Name: "capitolato_section", SectionType: "capitolato", Boost: 0.15},
	}
}

// MetadataBoost is a deterministic reranker applying additive boosts from
// declarative rules. No network calls.
type MetadataBoost struct {
	Rules []BoostRule

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

func NewMetadataBoost(rules []BoostRule) *MetadataBoost {
	return &MetadataBoost{Rules: rules}
}

func (m *MetadataBoost) Rerank(_ context.Context, _ string, candidates []models.RankedCandidate, topN int) ([]models.RankedCandidate, error) {
	now := time.Now()
	if m.Now != nil {
		now = m.Now()
	}

	out := append([]models.RankedCandidate(nil), candidates...)
	for i := range out {
		for _, r := range m.Rules {
			if r.applies(out[i].Chunk, now) {
				out[i].Score += r.Boost
			}
		}
	}
	SortCandidates(out)
	if len(out) > topN {
		out = out[:topN]
	}
	return out, nil
}

// LLMReranker asks the generation model for a relevance judgment in one
// batched call listing indexed snippets, and parses a comma-separated index
// order from the reply.
type LLMReranker struct {
	Generator ai.Generator

	// MaxSnippet caps each candidate's text in the prompt.
	MaxSnippet int
}

func NewLLMReranker(g ai.Generator) *LLMReranker {
	return &LLMReranker{Generator: g, MaxSnippet: 2000}
}

func (l *LLMReranker) Rerank(ctx context.Context, query string, candidates []models.RankedCandidate, topN int) ([]models.RankedCandidate, error) {
	out := append([]models.RankedCandidate(nil), candidates...)
	if len(out) == 0 {
		return out, nil
	}

	var sb strings.Builder
	sb.WriteString("Ordina i seguenti passaggi per rilevanza rispetto alla domanda.\n")
	sb.WriteString("Domanda: " + query + "\n")
	sb.WriteString("Passaggi:\n")
	for i, c := range out {
		text := c.Chunk.Text
		if l.MaxSnippet > 0 {
			if runes := []rune(text); len(runes) > l.MaxSnippet {
				text = string(runes[:l.MaxSnippet])
			}
		}
		fmt.Fprintf(&sb, "[%d] %s\n", i, text)
	}
	sb.WriteString("Restituisci gli indici in ordine di rilevanza separati da virgola:")

	reply, err := l.Generator.Generate(ctx, sb.String())
	if err != nil {
		// A failed judgment never drops candidates; keep the incoming order.
		log.Warn().Err(err).Msg("llm rerank failed, keeping fused order")
		if len(out) > topN {
			out = out[:topN]
		}
		return out, nil
	}

	order := parseOrdering(reply)
	ranked := make([]models.RankedCandidate, 0, len(out))
	seen := make(map[int]bool, len(out))
	for _, idx := range order {
		if idx < 0 || idx >= len(out) || seen[idx] {
			continue
		}
		seen[idx] = true
		ranked = append(ranked, out[idx])
	}
	// Candidates the model skipped (or whose index failed to parse) keep
	// their pre-rerank position after the judged ones.
	for i, c := range out {
		if !seen[i] {
			ranked = append(ranked, c)
		}
	}

	if len(ranked) > topN {
		ranked = ranked[:topN]
	}
	return ranked, nil
}

// parseOrdering extracts the first integer from each comma-separated token,
// so label prefixes ("Ordine: [1]"), brackets, and trailing words do not drop
// a judged index. Tokens without digits are skipped.
func parseOrdering(raw string) []int {
	parts := strings.Split(raw, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		start, end := -1, -1
		for i, r := range p {
			if r >= '0' && r <= '9' {
				if start < 0 {
					start = i
				}
				end = i + 1
				continue
			}
			if start >= 0 {
				break
			}
		}
		if start < 0 {
			continue
		}
		n, err := strconv.Atoi(p[start:end])
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out
}
