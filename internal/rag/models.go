package rag

import (
	"time"

	"github.com/tickup/tendersearch/pkg/models"
)

// Citation points an answer back at one chunk that was actually placed in the
// generation prompt. Derived 1:1 from the assembled context, never persisted.
type Citation struct {
	ChunkID     string  `json:"chunk_id"`
	SectionPath string  `json:"section_path"`
	PageNumbers []int   `json:"page_numbers,omitempty"`
	Score       float64 `json:"score"`
	TenderCode  string  `json:"tender_code,omitempty"`
	Buyer       string  `json:"buyer,omitempty"`
}

// RunMetadata records which stages degraded and how long the run took.
type RunMetadata struct {
	RewriteFailed      bool          `json:"rewrite_failed,omitempty"`
	RetrievalDegraded  string        `json:"retrieval_degraded,omitempty"`
	RewrittenQuery     string        `json:"rewritten_query,omitempty"`
	CandidatesFetched  int           `json:"candidates_fetched"`
	CandidatesAssembled int          `json:"candidates_assembled"`
	Elapsed            time.Duration `json:"elapsed_ns"`
}

// RagResponse is the terminal output of one pipeline run.
type RagResponse struct {
	Answer    string      `json:"answer"`
	Citations []Citation  `json:"citations"`
	Metadata  RunMetadata `json:"metadata"`
}

// AssembledContext is the budget-bounded prefix of a ranked list plus its
// rendered prompt text.
type AssembledContext struct {
	Candidates []models.RankedCandidate
	Rendered   string
	// Size is the total measured size of the rendered blocks, in the
	// assembler's configured unit.
	Size int
}

// Citations derives one citation per assembled candidate, in context order.
func (a AssembledContext) Citations() []Citation {
	out := make([]Citation, 0, len(a.Candidates))
	for _, c := range a.Candidates {
		out = append(out, Citation{
			ChunkID:     c.Chunk.ID,
			SectionPath: c.Chunk.SectionPath,
			PageNumbers: c.Chunk.PageNumbers,
			Score:       c.Score,
			TenderCode:  c.Chunk.TenderCode,
			Buyer:       c.Chunk.Buyer,
		})
	}
	return out
}
