package models

import "time"

// Chunk is one retrievable unit of tender document text. Chunks are produced
// at ingestion time and read-only afterwards.
type Chunk struct {
	ID              string    `json:"id"`
	TenderCode      string    `json:"tender_code"`
	LotID           string    `json:"lot_id,omitempty"`
	DocumentID      string    `json:"document_id"`
	SectionPath     string    `json:"section_path"`
	SectionType     string    `json:"section_type,omitempty"`
	Text            string    `json:"text"`
	PageNumbers     []int     `json:"page_numbers,omitempty"`
	SourceChunkID   string    `json:"source_chunk_id,omitempty"`
	Buyer           string    `json:"buyer,omitempty"`
	PublicationDate time.Time `json:"publication_date,omitempty"`
	BaseAmount      float64   `json:"base_amount,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// ScoredChunk pairs a chunk with the score assigned by a single search
// strategy. The scale is strategy-specific; callers normalize before mixing.
type ScoredChunk struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// RankedCandidate is a chunk whose score has been fused or reranked onto a
// single comparable scale for one pipeline run. VectorRank and KeywordRank
// keep the 0-based positions in the originating result sets (-1 when the
// chunk did not appear on that side); they drive the deterministic tie-break.
type RankedCandidate struct {
	Chunk       Chunk   `json:"chunk"`
	Score       float64 `json:"score"`
	VectorRank  int     `json:"-"`
	KeywordRank int     `json:"-"`
}
