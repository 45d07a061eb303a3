package rag

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestRewrite(t *testing.T) {
	t.Run("returns the trimmed model output", func(t *testing.T) {
		r := NewRewriter(&MockGenerator{
			GenerateFunc: func(ctx context.Context, prompt string) (string, error) {
				return "\n fornitura ambulanze lotto 2 \n", nil
			},
		})

		out, err := r.Rewrite(context.Background(), "ambulanze?", "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out != "fornitura ambulanze lotto 2" {
			t.Errorf("unexpected rewrite: %q", out)
		}
	})

	t.Run("provider failure returns the original query with the error", func(t *testing.T) {
		r := NewRewriter(&MockGenerator{
			GenerateFunc: func(ctx context.Context, prompt string) (string, error) {
				return "", errors.New("model down")
			},
		})

		out, err := r.Rewrite(context.Background(), "domanda originale", "")
		if err == nil {
			t.Fatal("expected error")
		}
		if out != "domanda originale" {
			t.Errorf("expected original query back, got %q", out)
		}
	})

	t.Run("blank model output falls back to the original query", func(t *testing.T) {
		r := NewRewriter(&MockGenerator{
			GenerateFunc: func(ctx context.Context, prompt string) (string, error) {
				return "   ", nil
			},
		})

		out, err := r.Rewrite(context.Background(), "domanda", "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out != "domanda" {
			t.Errorf("expected original query, got %q", out)
		}
	})

	t.Run("hint lands in the prompt", func(t *testing.T) {
		var gotPrompt string
		r := NewRewriter(&MockGenerator{
			GenerateFunc: func(ctx context.Context, prompt string) (string, error) {
				gotPrompt = prompt
				return "ok", nil
			},
		})

		if _, err := r.Rewrite(context.Background(), "domanda", "Gara CIG-1, 2 lotti"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(gotPrompt, "Contesto: Gara CIG-1, 2 lotti") {
			t.Errorf("hint missing from prompt:\n%s", gotPrompt)
		}
		if !strings.Contains(gotPrompt, "Query: domanda") {
			t.Errorf("query missing from prompt:\n%s", gotPrompt)
		}
	})
}
