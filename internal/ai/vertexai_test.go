package ai

import (
	"context"
	"testing"
)

// Test configuration validation and defaults in NewVertexAIClient
func TestNewVertexAIClient_Configuration(t *testing.T) {
	ctx := context.Background()

	t.Run("nil config", func(t *testing.T) {
		_, err := NewVertexAIClient(ctx, nil)
		if err == nil {
			t.Fatal("Expected error for nil config")
		}
	})

	t.Run("defaults are applied", func(t *testing.T) {
		config := &ClientConfig{
			APIKey: "test-api-key",
		}

		client, err := NewVertexAIClient(ctx, config)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}

		if config.EmbedModel != "text-embedding-005" {
			t.Errorf("Expected default EmbedModel 'text-embedding-005', got %q", config.EmbedModel)
		}
		if config.GenModel != "gemini-2.0-flash" {
			t.Errorf("Expected default GenModel 'gemini-2.0-flash', got %q", config.GenModel)
		}
		if client.Dim() != 768 {
			t.Errorf("Expected default Dim 768, got %d", client.Dim())
		}
	})

	t.Run("explicit models are kept", func(t *testing.T) {
		config := &ClientConfig{
			APIKey:     "test-api-key",
			EmbedModel: "custom-embed",
			GenModel:   "custom-gen",
			Dim:        1024,
		}

		client, err := NewVertexAIClient(ctx, config)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}

		if config.EmbedModel != "custom-embed" || config.GenModel != "custom-gen" {
			t.Errorf("Expected custom models, got %q/%q", config.EmbedModel, config.GenModel)
		}
		if client.Dim() != 1024 {
			t.Errorf("Expected Dim 1024, got %d", client.Dim())
		}
	})
}

// Test VertexAIClient.EmbedBatch with empty input
func TestVertexAIClient_EmbedBatchEmpty(t *testing.T) {
	config := &ClientConfig{APIKey: "test-api-key"}
	client, err := NewVertexAIClient(context.Background(), config)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	vecs, err := client.EmbedBatch(nil)
	if err != nil {
		t.Fatalf("Expected no error for empty input, got: %v", err)
	}
	if len(vecs) != 0 {
		t.Errorf("Expected empty result, got %d vectors", len(vecs))
	}
}
