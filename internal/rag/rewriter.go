package rag

import (
	"context"
	"strings"

	"github.com/tickup/tendersearch/internal/ai"
)

// Rewriter expands a raw user query into a retrieval-friendly one via a
// single generation call. One attempt, no retry; retries belong to the
// provider client.
type Rewriter struct {
	Generator ai.Generator
}

func NewRewriter(g ai.Generator) *Rewriter {
	return &Rewriter{Generator: g}
}

// Rewrite returns the clarified query. On any provider failure it returns the
// original query together with the error, so the caller can record the
// degradation without aborting.
func (r *Rewriter) Rewrite(ctx context.Context, query, hint string) (string, error) {
	var sb strings.Builder
	sb.WriteString("Riscrivi la query per la ricerca documentale, includendo eventuali riferimenti a lotto/gara se presenti.\n")
	if hint != "" {
		sb.WriteString("Contesto: " + hint + "\n")
	}
	sb.WriteString("Query: " + query + "\n")
	sb.WriteString("Query riscritta:")

	out, err := r.Generator.Generate(ctx, sb.String())
	if err != nil {
		return query, err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return query, nil
	}
	return out, nil
}
