package rag

import (
	"errors"

	"github.com/tickup/tendersearch/internal/search"
)

// Error kinds surfaced by the pipeline. Callers discriminate with errors.Is;
// the wrapped cause carries the provider detail.
var (
	// ErrEmbedding marks an unreachable or malformed embedding provider. It
	// is the search package's sentinel re-exported so API callers only deal
	// in rag error kinds; retrieval errors caused by embedding match both.
	ErrEmbedding = search.ErrEmbedding
	// ErrRetrieval marks a retrieval that produced nothing usable: both
	// strategies failed, or strict mode saw zero candidates.
	ErrRetrieval = errors.New("retrieval failed")
	// ErrGeneration marks a failed final answer synthesis. Never degraded:
	// an answer cannot be fabricated without the model.
	ErrGeneration = errors.New("generation failed")
	// ErrConfiguration marks invalid pipeline options.
	ErrConfiguration = errors.New("invalid configuration")
)
