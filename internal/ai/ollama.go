package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"
)

// OllamaClient talks to a local Ollama server, the zero-cost option for
// development against real tender corpora.
type OllamaClient struct {
	config *ClientConfig
	http   *http.Client
}

func NewOllamaClient(config *ClientConfig) *OllamaClient {
	if config.EmbedModel == "" {
		config.EmbedModel = "nomic-embed-text"
	}
	if config.GenModel == "" {
		config.GenModel = "llama3.1"
	}
	if config.Dim == 0 {
		config.Dim = 768
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	return &OllamaClient{
		config: config,
		http:   &http.Client{Timeout: 120 * time.Second},
	}
}

// Embed implements the embedding functionality
func (c *OllamaClient) Embed(text string) ([]float32, error) {
	payload := map[string]string{
		"model":  c.config.EmbedModel,
		"prompt": text,
	}

	b, _ := json.Marshal(payload)
	req, _ := http.NewRequestWithContext(context.Background(), http.MethodPost,
		c.config.BaseURL+"/api/embeddings", bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("Failed to close response body: %v", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.New("ollama embedding non-200")
	}

	var out struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if len(out.Embedding) == 0 {
		return nil, errors.New("no embedding")
	}
	return out.Embedding, nil
}

// EmbedBatch falls back to per-text calls; the embeddings endpoint is single-input
func (c *OllamaClient) EmbedBatch(texts []string) ([][]float32, error) {
	vecs := make([][]float32, 0, len(texts))
	for _, t := range texts {
		v, err := c.Embed(t)
		if err != nil {
			return nil, err
		}
		vecs = append(vecs, v)
	}
	return vecs, nil
}

// Generate implements the completion functionality
func (c *OllamaClient) Generate(ctx context.Context, prompt string) (string, error) {
	payload := map[string]any{
		"model":  c.config.GenModel,
		"prompt": prompt,
		"stream": false,
	}

	var buf bytes.Buffer
	_ = json.NewEncoder(&buf).Encode(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.config.BaseURL+"/api/generate", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("Failed to close response body: %v", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return "", errors.New("ollama generate non-200")
	}

	var out struct {
		Response string `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.Response) == "" {
		return "", errors.New("no completion returned")
	}
	return strings.TrimSpace(out.Response), nil
}

func (c *OllamaClient) Dim() int {
	return c.config.Dim
}
