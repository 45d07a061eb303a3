package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newOllamaTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *OllamaClient) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewOllamaClient(&ClientConfig{
		BaseURL:    server.URL,
		EmbedModel: "nomic-embed-text",
		GenModel:   "llama3.1",
		Dim:        4,
	})
	return server, client
}

func TestNewOllamaClient_Defaults(t *testing.T) {
	config := &ClientConfig{}
	client := NewOllamaClient(config)

	if config.EmbedModel != "nomic-embed-text" {
		t.Errorf("Expected default embed model, got %q", config.EmbedModel)
	}
	if config.GenModel != "llama3.1" {
		t.Errorf("Expected default gen model, got %q", config.GenModel)
	}
	if config.BaseURL != "http://localhost:11434" {
		t.Errorf("Expected default base URL, got %q", config.BaseURL)
	}
	if client.Dim() != 768 {
		t.Errorf("Expected default Dim 768, got %d", client.Dim())
	}
}

func TestNewOllamaClient_TrailingSlashTrimmed(t *testing.T) {
	config := &ClientConfig{BaseURL: "http://ollama:11434/"}
	NewOllamaClient(config)
	if config.BaseURL != "http://ollama:11434" {
		t.Errorf("Expected trimmed base URL, got %q", config.BaseURL)
	}
}

func TestOllamaClient_Embed(t *testing.T) {
	_, client := newOllamaTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("Expected /api/embeddings, got %s", r.URL.Path)
		}

		var payload map[string]string
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("Failed to decode payload: %v", err)
		}
		if payload["model"] != "nomic-embed-text" {
			t.Errorf("Expected embed model in payload, got %q", payload["model"])
		}
		if payload["prompt"] != "testo di prova" {
			t.Errorf("Expected prompt in payload, got %q", payload["prompt"])
		}

		if _, err := w.Write([]byte(`{"embedding": [0.1, 0.2, 0.3]}`)); err != nil {
			t.Errorf("Failed to write response: %v", err)
		}
	})

	vec, err := client.Embed("testo di prova")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(vec) != 3 {
		t.Errorf("Expected vector of length 3, got %d", len(vec))
	}
}

func TestOllamaClient_EmbedErrors(t *testing.T) {
	tests := []struct {
		name         string
		statusCode   int
		responseBody string
		errorMsg     string
	}{
		{"non-200 status", 500, `{}`, "ollama embedding non-200"},
		{"empty embedding", 200, `{"embedding": []}`, "no embedding"},
		{"invalid JSON", 200, `not json`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, client := newOllamaTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
				if _, err := w.Write([]byte(tt.responseBody)); err != nil {
					t.Errorf("Failed to write response: %v", err)
				}
			})

			_, err := client.Embed("testo")
			if err == nil {
				t.Fatal("Expected error but got none")
			}
			if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("Expected error containing %q, got %q", tt.errorMsg, err.Error())
			}
		})
	}
}

func TestOllamaClient_EmbedBatchLoops(t *testing.T) {
	calls := 0
	_, client := newOllamaTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if _, err := w.Write([]byte(`{"embedding": [0.1]}`)); err != nil {
			t.Errorf("Failed to write response: %v", err)
		}
	})

	vecs, err := client.EmbedBatch([]string{"uno", "due", "tre"})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(vecs) != 3 {
		t.Errorf("Expected 3 vectors, got %d", len(vecs))
	}
	// The embeddings endpoint is single-input; the batch loops.
	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}
}

func TestOllamaClient_Generate(t *testing.T) {
	_, client := newOllamaTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("Expected /api/generate, got %s", r.URL.Path)
		}

		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("Failed to decode payload: %v", err)
		}
		if payload["stream"] != false {
			t.Error("Expected stream: false in payload")
		}

		if _, err := w.Write([]byte(`{"response": " La risposta. "}`)); err != nil {
			t.Errorf("Failed to write response: %v", err)
		}
	})

	out, err := client.Generate(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if out != "La risposta." {
		t.Errorf("Expected trimmed response, got %q", out)
	}
}

func TestOllamaClient_GenerateEmptyResponse(t *testing.T) {
	_, client := newOllamaTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte(`{"response": "   "}`)); err != nil {
			t.Errorf("Failed to write response: %v", err)
		}
	})

	_, err := client.Generate(context.Background(), "prompt")
	if err == nil || !strings.Contains(err.Error(), "no completion returned") {
		t.Errorf("Expected no-completion error, got: %v", err)
	}
}
