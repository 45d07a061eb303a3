package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/spf13/pflag"
	"github.com/tickup/tendersearch/internal/ai"
	"github.com/tickup/tendersearch/internal/auth"
	"github.com/tickup/tendersearch/internal/config"
	"github.com/tickup/tendersearch/internal/graph"
	"github.com/tickup/tendersearch/internal/rag"
	"github.com/tickup/tendersearch/internal/search"
	"github.com/tickup/tendersearch/internal/store"
	"github.com/tickup/tendersearch/pkg/models"
)

// Simple is the trimmed search result payload served to the frontend.
type Simple struct {
	ChunkID     string  `json:"chunk_id"`
	TenderCode  string  `json:"tender_code"`
	DocumentID  string  `json:"document_id"`
	SectionPath string  `json:"section_path"`
	SectionType string  `json:"section_type,omitempty"`
	PageNumbers []int   `json:"page_numbers,omitempty"`
	Score       float64 `json:"score"`
	Preview     string  `json:"preview"`
	Buyer       string  `json:"buyer,omitempty"`
}

func output(res []models.RankedCandidate) (out []Simple) {
	out = make([]Simple, 0, len(res))
	for _, r := range res {
		score := r.Score
		if math.IsNaN(score) || math.IsInf(score, 0) {
			score = 0
		}
		preview := r.Chunk.Text
		if len(preview) > 400 {
			preview = preview[:400] + "…"
		}
		out = append(out, Simple{
			ChunkID:     r.Chunk.ID,
			TenderCode:  r.Chunk.TenderCode,
			DocumentID:  r.Chunk.DocumentID,
			SectionPath: r.Chunk.SectionPath,
			SectionType: r.Chunk.SectionType,
			PageNumbers: r.Chunk.PageNumbers,
			Score:       score,
			Preview:     preview,
			Buyer:       r.Chunk.Buyer,
		})
	}
	return out
}

// askRequest is the POST /ask body. Absent knobs fall back to the configured
// defaults. Alpha is a pointer because 0 is a valid value (pure keyword
// ranking) that must stay distinguishable from an omitted field.
type askRequest struct {
	Question   string   `json:"question"`
	TenderCode string   `json:"tender_code,omitempty"`
	LotID      string   `json:"lot_id,omitempty"`
	TopK       int      `json:"top_k,omitempty"`
	RerankTopN int      `json:"rerank_top_n,omitempty"`
	Budget     int      `json:"budget,omitempty"`
	Alpha      *float64 `json:"alpha,omitempty"`
	Strict     bool     `json:"strict,omitempty"`
}

// requestOptions overlays the request's knobs onto the configured defaults.
// Out-of-range values are left for Options validation to reject.
func requestOptions(base rag.Options, req askRequest) rag.Options {
	opts := base
	opts.Filters = store.Filters{TenderCode: req.TenderCode, LotID: req.LotID}
	if req.TopK > 0 {
		opts.TopK = req.TopK
	}
	if req.RerankTopN > 0 {
		opts.RerankTopN = req.RerankTopN
	}
	if req.Budget > 0 {
		opts.Budget = req.Budget
	}
	if req.Alpha != nil {
		opts.Alpha = *req.Alpha
	}
	if req.Strict {
		opts.Strict = true
	}
	return opts
}

func main() {
	// Create flagset for configuration
	fs := pflag.NewFlagSet("tendersearch-api", pflag.ExitOnError)

	// Load configuration
	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	// Set up logging
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	logger.Info().Str("provider", cfg.Provider).Str("log_level", cfg.LogLevel).Bool("auth_enabled", cfg.Auth.Enabled).Msg("starting tendersearch api")

	// Create AI client configuration
	var clientConfig *ai.ClientConfig
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		clientConfig = &ai.ClientConfig{
			APIKey:     cfg.APIKey,
			EmbedModel: cfg.EmbedModel,
			GenModel:   cfg.GenModel,
			Dim:        cfg.Dim,
			ProjectID:  cfg.ProjectID,
			Provider:   ai.ProviderOpenAI,
		}
	case "vertexai", "google":
		clientConfig = &ai.ClientConfig{
			APIKey:     cfg.APIKey,
			EmbedModel: cfg.EmbedModel,
			GenModel:   cfg.GenModel,
			Dim:        cfg.Dim,
			ProjectID:  cfg.ProjectID,
			Location:   cfg.Location,
			Provider:   ai.ProviderVertexAI,
		}
	case "ollama":
		clientConfig = &ai.ClientConfig{
			EmbedModel: cfg.EmbedModel,
			GenModel:   cfg.GenModel,
			Dim:        cfg.Dim,
			BaseURL:    cfg.OllamaURL,
			Provider:   ai.ProviderOllama,
		}
	case "stub":
		clientConfig = &ai.ClientConfig{
			Dim:      cfg.Dim,
			Provider: ai.ProviderStub,
		}
	default:
		log.Fatalf("unsupported provider: %s", cfg.Provider)
	}

	// Initialize auth with configuration
	auth.InitializeAuth(cfg.Auth.JwtSecret, cfg.Auth.Enabled)

	ctx := context.Background()
	st, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer st.Close()

	client, err := ai.NewClient(clientConfig)
	if err != nil {
		log.Fatalf("Failed to create AI client: %v", err)
	}

	// Use the AI client's dimension for database migration
	dim := client.Dim()
	logger.Info().Int("embedding_dim", dim).Str("embed_model", clientConfig.EmbedModel).Msg("AI client initialized")

	if err := st.Migrate(ctx, dim); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	// Assemble the retrieval pipeline
	hybrid := search.NewHybrid(
		search.NewVectorStrategy(client, st),
		search.NewKeywordStrategy(st),
		cfg.Retrieval.Overfetch,
	)

	var reranker search.Reranker
	switch cfg.Retrieval.Reranker {
	case "llm":
		reranker = search.NewLLMReranker(client)
	case "none":
		reranker = search.Identity{}
	default:
		reranker = search.NewMetadataBoost([]search.BoostRule{
			{Name: "recent_publication", RecencyWindow: time.Duration(cfg.Retrieval.BoostRecencyDays) * 24 * time.Hour, Boost: cfg.Retrieval.BoostRecency},
			{Name: "large_amount", MinAmount: cfg.Retrieval.BoostMinAmount, Boost: cfg.Retrieval.BoostAmount},
			{Name: "preferred_section", SectionType: cfg.Retrieval.BoostSectionType, Boost: cfg.Retrieval.BoostSection},
		})
	}

	pipeline := rag.NewPipeline(rag.NewRewriter(client), hybrid, reranker, client)

	if cfg.Graph.Enabled {
		g, err := graph.New(ctx, cfg.Graph.URI, cfg.Graph.User, cfg.Graph.Password)
		if err != nil {
			log.Fatalf("Failed to connect to graph: %v", err)
		}
		defer func() {
			if err := g.Close(ctx); err != nil {
				logger.Warn().Err(err).Msg("failed to close graph driver")
			}
		}()
		pipeline.Hinter = g
		logger.Info().Str("uri", cfg.Graph.URI).Msg("knowledge graph enabled")
	}

	baseOpts := rag.Options{
		TopK:       cfg.Retrieval.TopK,
		RerankTopN: cfg.Retrieval.RerankTopN,
		Budget:     cfg.Retrieval.Budget,
		Unit:       rag.Unit(cfg.Retrieval.BudgetUnit),
		Alpha:      cfg.Retrieval.Alpha,
		Strict:     cfg.Retrieval.Strict,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })

	// Auth status endpoint (always available)
	mux.HandleFunc("/auth/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		err := json.NewEncoder(w).Encode(map[string]bool{"enabled": auth.IsAuthEnabled()})
		if err != nil {
			http.Error(w, "Failed to encode response", 500)
		}
	})

	mux.HandleFunc("/tenders", auth.OptionalAuthMiddleware(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		tenders, err := st.GetTenders(ctx)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(tenders); err != nil {
			http.Error(w, "Failed to encode tenders", 500)
		}
	}))
	mux.HandleFunc("/tenders/", auth.OptionalAuthMiddleware(func(w http.ResponseWriter, r *http.Request) {
		// Support paths like /tenders/{code}/documents where {code} may be
		// URL-escaped by the frontend.
		rel := strings.TrimPrefix(r.URL.Path, "/tenders/")
		rel = strings.TrimSuffix(rel, "/")

		if strings.HasSuffix(rel, "/documents") {
			codePart := strings.TrimSuffix(rel, "/documents")
			codePart = strings.TrimPrefix(codePart, "/")
			code, err := url.PathUnescape(codePart)
			if err != nil {
				http.Error(w, "Invalid tender code", http.StatusBadRequest)
				return
			}

			ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel()
			docs, err := st.GetDocuments(ctx, code)
			if err != nil {
				http.Error(w, err.Error(), 500)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			if err := json.NewEncoder(w).Encode(docs); err != nil {
				http.Error(w, "Failed to encode documents", 500)
			}
			return
		}

		http.NotFound(w, r)
	}))
	mux.HandleFunc("/search", auth.OptionalAuthMiddleware(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		q := r.URL.Query().Get("q")
		if q == "" {
			http.Error(w, "missing query parameter q", http.StatusBadRequest)
			return
		}
		k := cfg.Retrieval.TopK
		if v := r.URL.Query().Get("k"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				k = n
			}
		}
		alpha := cfg.Retrieval.Alpha
		if v := r.URL.Query().Get("alpha"); v != "" {
			if a, err := strconv.ParseFloat(v, 64); err == nil && a >= 0 && a <= 1 {
				alpha = a
			}
		}

		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()
		f := store.Filters{
			TenderCode:  r.URL.Query().Get("tender"),
			LotID:       r.URL.Query().Get("lot"),
			SectionType: r.URL.Query().Get("section_type"),
			Buyer:       r.URL.Query().Get("buyer"),
		}
		res, degraded, err := hybrid.Search(ctx, q, k, alpha, f)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		if degraded != "" {
			w.Header().Set("X-Retrieval-Degraded", degraded)
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(output(res)); err != nil {
			log.Printf("failed to encode response: %v", err)
			_, _ = w.Write([]byte("[]"))
		}

		hlog.FromRequest(r).Info().Str("path", "/search").Str("q", q).Int("k", k).Dur("dur", time.Since(start)).Msg("served")
	}))
	mux.HandleFunc("/ask", auth.OptionalAuthMiddleware(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		start := time.Now()

		var req askRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if strings.TrimSpace(req.Question) == "" {
			http.Error(w, "missing question", http.StatusBadRequest)
			return
		}

		opts := requestOptions(baseOpts, req)

		ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
		defer cancel()
		resp, err := pipeline.Answer(ctx, req.Question, opts)
		if err != nil {
			status := http.StatusInternalServerError
			switch {
			case errors.Is(err, rag.ErrConfiguration):
				status = http.StatusBadRequest
			case errors.Is(err, rag.ErrRetrieval), errors.Is(err, rag.ErrGeneration):
				status = http.StatusBadGateway
			}
			http.Error(w, err.Error(), status)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			http.Error(w, "Failed to encode response", 500)
		}

		hlog.FromRequest(r).Info().Str("path", "/ask").Int("citations", len(resp.Citations)).Dur("dur", time.Since(start)).Msg("served")
	}))

	handler := hlog.NewHandler(logger)(
		hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
			logger.Info().Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Int("size", size).Dur("dur", dur).Msg("http")
		})(mux),
	)

	address := fmt.Sprintf(":%d", cfg.Port)
	s := &http.Server{Addr: address, Handler: handler}
	logger.Info().Str("addr", s.Addr).Msg("api server listening")
	log.Fatal(s.ListenAndServe())
}
