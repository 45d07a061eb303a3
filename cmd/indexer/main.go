package main

import (
	"context"
	"log"
	"strings"

	"github.com/tickup/tendersearch/internal/ai"
	"github.com/tickup/tendersearch/internal/config"
	"github.com/tickup/tendersearch/internal/graph"
	"github.com/tickup/tendersearch/internal/ingest"
	"github.com/tickup/tendersearch/internal/store"
	"github.com/spf13/pflag"
)

func main() {
	fs := pflag.NewFlagSet("tendersearch-indexer", pflag.ExitOnError)

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	provider := strings.ToLower(cfg.Provider)
	log.Printf("using provider: %s", provider)
	clientConfig, err := clientConfigFor(provider, cfg)
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()

	// Initialize store
	st, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatal(err)
	}
	defer st.Close()

	client, err := ai.NewClient(clientConfig)
	if err != nil {
		log.Fatal(err)
	}

	if client.Dim() == 0 {
		log.Fatal("embedding dimension must be set")
	}

	if err := st.Migrate(ctx, client.Dim()); err != nil {
		log.Fatal(err)
	}

	ix := ingest.New(st, cfg.DocsRoot, client)

	if cfg.Graph.Enabled {
		g, err := graph.New(ctx, cfg.Graph.URI, cfg.Graph.User, cfg.Graph.Password)
		if err != nil {
			log.Fatalf("graph connection failed: %v", err)
		}
		defer func() {
			if err := g.Close(ctx); err != nil {
				log.Printf("Failed to close graph driver: %v", err)
			}
		}()
		if err := g.EnsureSchema(ctx); err != nil {
			log.Fatal(err)
		}
		ix.Graph = g
	}

	if err := ix.SyncGraph(ctx); err != nil {
		log.Fatal(err)
	}

	if err := ix.Run(ctx); err != nil {
		log.Fatal(err)
	}
}

func clientConfigFor(provider string, cfg config.Specification) (*ai.ClientConfig, error) {
	switch provider {
	case "openai":
		return &ai.ClientConfig{
			APIKey:     cfg.APIKey,
			EmbedModel: cfg.EmbedModel,
			GenModel:   cfg.GenModel,
			Dim:        cfg.Dim,
			ProjectID:  cfg.ProjectID,
			Provider:   ai.ProviderOpenAI,
		}, nil
	case "vertexai", "google":
		return &ai.ClientConfig{
			APIKey:     cfg.APIKey,
			EmbedModel: cfg.EmbedModel,
			GenModel:   cfg.GenModel,
			Dim:        cfg.Dim,
			ProjectID:  cfg.ProjectID,
			Location:   cfg.Location,
			Provider:   ai.ProviderVertexAI,
		}, nil
	case "ollama":
		return &ai.ClientConfig{
			EmbedModel: cfg.EmbedModel,
			GenModel:   cfg.GenModel,
			Dim:        cfg.Dim,
			BaseURL:    cfg.OllamaURL,
			Provider:   ai.ProviderOllama,
		}, nil
	case "stub":
		return &ai.ClientConfig{
			Dim:      cfg.Dim,
			Provider: ai.ProviderStub,
		}, nil
	default:
		return nil, &unsupportedProviderError{provider}
	}
}

type unsupportedProviderError struct{ provider string }

func (e *unsupportedProviderError) Error() string {
	return "unsupported provider: " + e.provider
}
