package main

import (
	"testing"

	"github.com/tickup/tendersearch/internal/rag"
)

func TestRequestOptions(t *testing.T) {
	base := rag.Options{
		TopK:       20,
		RerankTopN: 5,
		Budget:     2000,
		Unit:       rag.UnitWords,
		Alpha:      0.7,
	}

	floatPtr := func(v float64) *float64 { return &v }

	t.Run("empty request keeps the configured defaults", func(t *testing.T) {
		opts := requestOptions(base, askRequest{Question: "domanda"})
		if opts.TopK != 20 || opts.RerankTopN != 5 || opts.Budget != 2000 || opts.Alpha != 0.7 {
			t.Errorf("defaults changed: %+v", opts)
		}
		if opts.Strict {
			t.Error("strict should stay off by default")
		}
	})

	t.Run("explicit alpha zero requests pure keyword ranking", func(t *testing.T) {
		opts := requestOptions(base, askRequest{Question: "domanda", Alpha: floatPtr(0)})
		if opts.Alpha != 0 {
			t.Errorf("expected alpha 0, got %v", opts.Alpha)
		}
	})

	t.Run("absent alpha keeps the configured value", func(t *testing.T) {
		opts := requestOptions(base, askRequest{Question: "domanda"})
		if opts.Alpha != 0.7 {
			t.Errorf("expected configured alpha 0.7, got %v", opts.Alpha)
		}
	})

	t.Run("knobs override the defaults", func(t *testing.T) {
		opts := requestOptions(base, askRequest{
			Question:   "domanda",
			TenderCode: "CIG-1",
			LotID:      "2",
			TopK:       40,
			RerankTopN: 8,
			Budget:     3000,
			Alpha:      floatPtr(0.4),
			Strict:     true,
		})
		if opts.TopK != 40 || opts.RerankTopN != 8 || opts.Budget != 3000 || opts.Alpha != 0.4 {
			t.Errorf("overrides not applied: %+v", opts)
		}
		if !opts.Strict {
			t.Error("expected strict mode on")
		}
		if opts.Filters.TenderCode != "CIG-1" || opts.Filters.LotID != "2" {
			t.Errorf("filters not applied: %+v", opts.Filters)
		}
	})

	t.Run("out-of-range alpha passes through for validation to reject", func(t *testing.T) {
		opts := requestOptions(base, askRequest{Question: "domanda", Alpha: floatPtr(1.5)})
		if opts.Alpha != 1.5 {
			t.Errorf("expected pass-through alpha 1.5, got %v", opts.Alpha)
		}
	})
}
