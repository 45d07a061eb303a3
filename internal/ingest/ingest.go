package ingest

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog/log"
	"github.com/tickup/tendersearch/internal/ai"
	"github.com/tickup/tendersearch/internal/graph"
	"github.com/tickup/tendersearch/internal/store"
	"github.com/tickup/tendersearch/pkg/models"
	"gopkg.in/yaml.v3"
)

// FileSystemWalker defines the interface for walking directories
type FileSystemWalker interface {
	Walk(root string, options *godirwalk.Options) error
}

// FileReader defines the interface for reading files
type FileReader interface {
	ReadFile(filename string) ([]byte, error)
}

// GraphWriter receives tender and lot nodes during ingestion. Optional.
type GraphWriter interface {
	UpsertTender(ctx context.Context, t graph.Tender) error
	UpsertLot(ctx context.Context, tenderCode string, l graph.Lot) error
}

// DefaultFileSystemWalker implements FileSystemWalker using godirwalk
type DefaultFileSystemWalker struct{}

func (d *DefaultFileSystemWalker) Walk(root string, options *godirwalk.Options) error {
	return godirwalk.Walk(root, options)
}

// DefaultFileReader implements FileReader using os
type DefaultFileReader struct{}

func (d *DefaultFileReader) ReadFile(filename string) ([]byte, error) {
	return os.ReadFile(filename)
}

// TenderMeta is the sidecar tender.yaml carried in each tender directory.
type TenderMeta struct {
	Code            string    `yaml:"code"`
	Title           string    `yaml:"title"`
	Buyer           string    `yaml:"buyer"`
	CPVCode         string    `yaml:"cpvCode"`
	BaseAmount      float64   `yaml:"baseAmount"`
	PublicationDate time.Time `yaml:"publicationDate"`
	Lots            []LotMeta `yaml:"lots"`
}

type LotMeta struct {
	ID         string  `yaml:"id"`
	Name       string  `yaml:"name"`
	CPVCode    string  `yaml:"cpvCode"`
	BaseAmount float64 `yaml:"baseAmount"`
}

// Ingester indexes a directory tree of tender documents. Layout:
// DocsRoot/<tender>/tender.yaml plus the tender's PDF and text files.
type Ingester struct {
	Store        store.ChunkStore
	Client       ai.Embedder
	Graph        GraphWriter
	DocsRoot     string
	ChunkSize    int
	ChunkOverlap int
	Walker       FileSystemWalker
	FileReader   FileReader
	ExtractPDF   func(path string) ([]pageText, error)
}

// New creates a new Ingester instance.
func New(s store.ChunkStore, docsRoot string, client ai.Embedder) *Ingester {
	return &Ingester{
		Store:        s,
		Client:       client,
		DocsRoot:     docsRoot,
		ChunkSize:    300,
		ChunkOverlap: 50,
		Walker:       &DefaultFileSystemWalker{},
		FileReader:   &DefaultFileReader{},
		ExtractPDF:   extractPDF,
	}
}

// hashContent returns the SHA-1 hash of the given content as a hex string.
func hashContent(s string) string {
	h := sha1.Sum([]byte(s))
	return hex.EncodeToString(h[:])
}

func chunkID(tenderCode, documentID string, idx int) string {
	h := sha1.Sum([]byte(tenderCode + "#" + documentID + "#" + fmt.Sprintf("%d", idx)))
	return hex.EncodeToString(h[:])
}

// workItem represents a file to be processed
type workItem struct {
	path string
	meta TenderMeta
}

// Run walks the documents root and indexes every supported file with a small
// worker pool; the pool cap keeps the embedding API happy.
func (ix *Ingester) Run(ctx context.Context) error {
	numWorkers := runtime.NumCPU()
	if numWorkers > 8 {
		numWorkers = 8
	}

	log.Info().Int("workers", numWorkers).Str("root", ix.DocsRoot).Msg("starting concurrent ingestion")

	workChan := make(chan workItem, numWorkers*2)
	errorChan := make(chan error, 1)

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			log.Debug().Int("worker", workerID).Msg("worker started")

			for item := range workChan {
				if err := ix.processWorkItem(ctx, item); err != nil {
					select {
					case errorChan <- err:
					default:
						log.Error().Err(err).Str("path", item.path).Msg("worker processing error")
					}
				}
			}

			log.Debug().Int("worker", workerID).Msg("worker finished")
		}(i)
	}

	go func() {
		wg.Wait()
		close(errorChan)
	}()

	walkErr := ix.Walker.Walk(ix.DocsRoot, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			// de may be nil when walking through a test double
			if de != nil && de.IsDir() {
				return nil
			}
			if !supportedFile(path) {
				return nil
			}

			meta, err := ix.tenderMetaFor(path)
			if err != nil {
				log.Warn().Err(err).Str("path", path).Msg("failed to read tender metadata, skipping file")
				return nil
			}

			select {
			case workChan <- workItem{path: path, meta: meta}:
			case <-ctx.Done():
				return ctx.Err()
			}

			return nil
		},
	})

	close(workChan)
	wg.Wait()

	select {
	case err := <-errorChan:
		if err != nil {
			return err
		}
	default:
	}

	return walkErr
}

// SyncGraph pushes every tender sidecar into the knowledge graph. No-op when
// no graph writer is configured.
func (ix *Ingester) SyncGraph(ctx context.Context) error {
	if ix.Graph == nil {
		return nil
	}

	entries, err := os.ReadDir(ix.DocsRoot)
	if err != nil {
		return fmt.Errorf("read docs root: %w", err)
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		meta, err := ix.loadTenderMeta(filepath.Join(ix.DocsRoot, e.Name()), e.Name())
		if err != nil {
			log.Warn().Err(err).Str("tender", e.Name()).Msg("skipping tender in graph sync")
			continue
		}
		t := graph.Tender{
			Code:            meta.Code,
			Title:           meta.Title,
			CPVCode:         meta.CPVCode,
			Buyer:           meta.Buyer,
			BaseAmount:      meta.BaseAmount,
			PublicationDate: meta.PublicationDate,
		}
		if err := ix.Graph.UpsertTender(ctx, t); err != nil {
			return err
		}
		for _, l := range meta.Lots {
			if err := ix.Graph.UpsertLot(ctx, meta.Code, graph.Lot{
				ID: l.ID, Name: l.Name, CPVCode: l.CPVCode, BaseAmount: l.BaseAmount,
			}); err != nil {
				return err
			}
		}
		log.Info().Str("tender", meta.Code).Int("lots", len(meta.Lots)).Msg("synced tender to graph")
	}
	return nil
}

// processWorkItem extracts, chunks, embeds, and upserts a single file.
func (ix *Ingester) processWorkItem(ctx context.Context, item workItem) error {
	pages, err := ix.extract(item.path)
	if err != nil {
		log.Warn().Err(err).Str("path", item.path).Msg("extraction failed, skipping file")
		return nil
	}

	docID := filepath.Base(item.path)
	chunks := chunkPages(pages, ix.ChunkSize, ix.ChunkOverlap)
	if len(chunks) == 0 {
		log.Debug().Str("path", item.path).Msg("no text extracted")
		return nil
	}

	// Figure out which chunks actually need a fresh embedding.
	type pending struct {
		chunk models.Chunk
		hash  string
		embed bool
	}
	items := make([]pending, 0, len(chunks))
	toEmbed := []string{}

	for _, ch := range chunks {
		id := chunkID(item.meta.Code, docID, ch.Index)
		hash := hashContent(ch.Text)

		needEmbed := true
		if meta, found, err := ix.Store.GetChunkMeta(ctx, id); err == nil && found {
			needEmbed = meta.ContentHash != hash || !meta.HasEmbedding
		}

		c := models.Chunk{
			ID:              id,
			TenderCode:      item.meta.Code,
			DocumentID:      docID,
			SectionPath:     fmt.Sprintf("%s > parte %d", docTitle(docID), ch.Index+1),
			SectionType:     sectionType(docID),
			Text:            ch.Text,
			PageNumbers:     ch.Pages,
			Buyer:           item.meta.Buyer,
			PublicationDate: item.meta.PublicationDate,
			BaseAmount:      item.meta.BaseAmount,
		}
		items = append(items, pending{chunk: c, hash: hash, embed: needEmbed})
		if needEmbed {
			toEmbed = append(toEmbed, ch.Text)
		}
	}

	var vecs [][]float32
	if len(toEmbed) > 0 {
		vecs, err = ix.Client.EmbedBatch(toEmbed)
		if err != nil {
			log.Error().Err(err).Str("path", item.path).Msg("embedding batch failed, storing without vectors")
			vecs = nil
		}
	}

	vi := 0
	for _, p := range items {
		var vec []float32
		if p.embed && vecs != nil {
			vec = vecs[vi]
			vi++
		}
		log.Info().Str("tender", p.chunk.TenderCode).
			Str("doc", p.chunk.DocumentID).
			Str("section", p.chunk.SectionPath).
			Bool("need_embed", p.embed).
			Msg("indexing chunk")
		if err := ix.Store.UpsertChunk(ctx, p.chunk, vec, p.hash); err != nil {
			log.Error().Err(err).Str("path", item.path).Msg("upsert failed")
		}
	}
	return nil
}

// extract dispatches on file extension.
func (ix *Ingester) extract(path string) ([]pageText, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return ix.ExtractPDF(path)
	default:
		b, err := ix.FileReader.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return []pageText{{Page: 0, Text: string(b)}}, nil
	}
}

// tenderMetaFor resolves the sidecar for the tender directory containing path.
func (ix *Ingester) tenderMetaFor(path string) (TenderMeta, error) {
	rel, err := filepath.Rel(ix.DocsRoot, path)
	if err != nil {
		return TenderMeta{}, err
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) < 2 {
		return TenderMeta{}, fmt.Errorf("file %s is not inside a tender directory", path)
	}
	tenderDir := parts[0]
	return ix.loadTenderMeta(filepath.Join(ix.DocsRoot, tenderDir), tenderDir)
}

// loadTenderMeta reads tender.yaml, falling back to the directory name as code.
func (ix *Ingester) loadTenderMeta(dir, fallbackCode string) (TenderMeta, error) {
	meta := TenderMeta{Code: fallbackCode}
	b, err := ix.FileReader.ReadFile(filepath.Join(dir, "tender.yaml"))
	if err != nil {
		if os.IsNotExist(err) {
			return meta, nil
		}
		return TenderMeta{}, err
	}
	if err := yaml.Unmarshal(b, &meta); err != nil {
		return TenderMeta{}, fmt.Errorf("parse tender.yaml in %s: %w", dir, err)
	}
	if meta.Code == "" {
		meta.Code = fallbackCode
	}
	return meta, nil
}

// supportedFile reports whether the ingester can extract text from the path.
func supportedFile(path string) bool {
	base := strings.ToLower(filepath.Base(path))
	if base == "tender.yaml" {
		return false
	}
	switch filepath.Ext(base) {
	case ".pdf", ".txt", ".md":
		return true
	}
	return false
}

// docTitle strips the extension and tidies the filename for section paths.
func docTitle(docID string) string {
	name := strings.TrimSuffix(docID, filepath.Ext(docID))
	name = strings.NewReplacer("_", " ", "-", " ").Replace(name)
	return strings.TrimSpace(name)
}

// sectionType classifies a document by its filename, the usual naming of
// Italian tender packets.
func sectionType(docID string) string {
	name := strings.ToLower(docID)
	switch {
	case strings.Contains(name, "capitolato"):
		return "capitolato"
	case strings.Contains(name, "disciplinare"):
		return "disciplinare"
	case strings.Contains(name, "bando"):
		return "bando"
	case strings.Contains(name, "allegato"):
		return "allegato"
	default:
		return "altro"
	}
}
