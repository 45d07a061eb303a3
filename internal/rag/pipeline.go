package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tickup/tendersearch/internal/ai"
	"github.com/tickup/tendersearch/internal/search"
	"github.com/tickup/tendersearch/internal/store"
	"github.com/tickup/tendersearch/pkg/models"
)

// NoDocumentsAnswer is returned in non-strict mode when retrieval finds
// nothing; the pipeline never produces a silently empty answer.
const NoDocumentsAnswer = "Non ho trovato documenti rilevanti per questa domanda nella documentazione di gara indicizzata."

// Retriever produces a fused, ranked candidate list for a query. The second
// return value names the degradation mode when one search branch failed.
type Retriever interface {
	Search(ctx context.Context, query string, topK int, alpha float64, f store.Filters) ([]models.RankedCandidate, string, error)
}

// Hinter supplies structured cross-document context for a tender, used to
// steer query rewriting. Optional; failures are ignored.
type Hinter interface {
	TenderContext(ctx context.Context, tenderCode string) (string, error)
}

// Options are the per-request knobs of one pipeline run.
type Options struct {
	TopK       int
	RerankTopN int
	Budget     int
	Unit       Unit
	Alpha      float64
	Strict     bool
	Filters    store.Filters
}

// DefaultOptions mirrors the documented answer() contract.
func DefaultOptions() Options {
	return Options{
		TopK:       20,
		RerankTopN: 5,
		Budget:     2000,
		Unit:       UnitWords,
		Alpha:      0.7,
	}
}

func (o Options) validate() error {
	if o.Alpha < 0 || o.Alpha > 1 {
		return fmt.Errorf("%w: alpha %v outside [0,1]", ErrConfiguration, o.Alpha)
	}
	if o.Budget <= 0 {
		return fmt.Errorf("%w: budget must be positive, got %d", ErrConfiguration, o.Budget)
	}
	if o.TopK <= 0 {
		return fmt.Errorf("%w: top_k must be positive, got %d", ErrConfiguration, o.TopK)
	}
	if o.RerankTopN <= 0 {
		return fmt.Errorf("%w: rerank_top_n must be positive, got %d", ErrConfiguration, o.RerankTopN)
	}
	return nil
}

// Pipeline composes rewrite, retrieval, rerank, assembly, and generation into
// the end-to-end answer operation. Stages run linearly; each stage's output
// is the next stage's sole input.
type Pipeline struct {
	Rewriter  *Rewriter
	Retriever Retriever
	Reranker  search.Reranker
	Generator ai.Generator
	Hinter    Hinter
}

func NewPipeline(rw *Rewriter, rt Retriever, rr search.Reranker, gen ai.Generator) *Pipeline {
	return &Pipeline{Rewriter: rw, Retriever: rt, Reranker: rr, Generator: gen}
}

// Answer runs the full RAG flow for one question.
func (p *Pipeline) Answer(ctx context.Context, question string, opts Options) (RagResponse, error) {
	start := time.Now()
	if err := opts.validate(); err != nil {
		return RagResponse{}, err
	}

	meta := RunMetadata{}

	// REWRITE: absorbed on failure, the original question carries on.
	query := strings.TrimSpace(question)
	if p.Rewriter != nil {
		rewritten, err := p.Rewriter.Rewrite(ctx, query, p.hint(ctx, opts.Filters.TenderCode))
		if err != nil {
			log.Warn().Err(err).Msg("query rewrite failed, using original question")
			meta.RewriteFailed = true
		} else {
			query = rewritten
		}
	}
	meta.RewrittenQuery = query

	// RETRIEVE
	candidates, degraded, err := p.Retriever.Search(ctx, query, opts.TopK, opts.Alpha, opts.Filters)
	if err != nil {
		// Double-wrap so the underlying kind (embedding, context) stays
		// discriminable behind the retrieval sentinel.
		return RagResponse{}, fmt.Errorf("%w: %w", ErrRetrieval, err)
	}
	meta.RetrievalDegraded = degraded
	meta.CandidatesFetched = len(candidates)

	if len(candidates) == 0 {
		if opts.Strict {
			return RagResponse{}, fmt.Errorf("%w: no candidates for query", ErrRetrieval)
		}
		meta.Elapsed = time.Since(start)
		return RagResponse{
			Answer:    NoDocumentsAnswer,
			Citations: []Citation{},
			Metadata:  meta,
		}, nil
	}

	// RERANK: reranker failures are absorbed per contract, the fused order
	// survives truncated.
	ranked := candidates
	if p.Reranker != nil {
		ranked, err = p.Reranker.Rerank(ctx, question, candidates, opts.RerankTopN)
		if err != nil {
			log.Warn().Err(err).Msg("rerank failed, keeping fused order")
			ranked = candidates
		}
	}
	if len(ranked) > opts.RerankTopN {
		ranked = ranked[:opts.RerankTopN]
	}

	// ASSEMBLE
	assembler := NewAssembler(opts.Budget, opts.Unit)
	assembled := assembler.Assemble(ranked)
	meta.CandidatesAssembled = len(assembled.Candidates)

	// GENERATE: never degraded.
	answer, err := p.Generator.Generate(ctx, buildPrompt(question, assembled.Rendered))
	if err != nil {
		return RagResponse{}, fmt.Errorf("%w: %w", ErrGeneration, err)
	}

	meta.Elapsed = time.Since(start)
	return RagResponse{
		Answer:    answer,
		Citations: assembled.Citations(),
		Metadata:  meta,
	}, nil
}

func (p *Pipeline) hint(ctx context.Context, tenderCode string) string {
	if p.Hinter == nil || tenderCode == "" {
		return ""
	}
	hint, err := p.Hinter.TenderContext(ctx, tenderCode)
	if err != nil {
		log.Debug().Err(err).Str("tender", tenderCode).Msg("graph hint unavailable")
		return ""
	}
	return hint
}

func buildPrompt(question, context string) string {
	return "Sei un assistente per gare e appalti. Rispondi in modo conciso usando solo il contesto fornito.\n" +
		"Includi riferimenti puntuali (sezione/pagina) se possibile. Se non trovi la risposta, di' che non è presente.\n" +
		"Domanda: " + question + "\n\n" +
		"Contesto:\n" + context + "\n\n" +
		"Risposta:"
}
