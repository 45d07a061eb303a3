package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	"github.com/tickup/tendersearch/pkg/models"
)

// Store provides methods to interact with the database.
type Store struct {
	pool *pgxpool.Pool
}

// ChunkStore defines the methods that the Store must implement.
type ChunkStore interface {
	Migrate(ctx context.Context, embedDim int) error
	UpsertChunk(ctx context.Context, c models.Chunk, embedding []float32, contentHash string) error
	SearchByVector(ctx context.Context, embedding []float32, k int, f Filters) ([]models.ScoredChunk, error)
	SearchByKeyword(ctx context.Context, text string, k int, f Filters) ([]models.ScoredChunk, error)
	GetChunkMeta(ctx context.Context, id string) (ChunkMeta, bool, error)
	GetTenders(ctx context.Context) ([]string, error)
	GetDocuments(ctx context.Context, tenderCode string) ([]string, error)
	DeleteTender(ctx context.Context, tenderCode string) error
}

// Filters restricts search to structurally matching chunks. Zero values mean
// no restriction; all comparisons are equality.
type Filters struct {
	TenderCode  string
	LotID       string
	SectionType string
	Buyer       string
}

// New creates a new Store instance connected to the given database URL.
func New(ctx context.Context, url string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{pool: p}, nil
}

func (s *Store) Close() { s.pool.Close() }

// Migrate applies necessary database migrations and schema setup.
func (s *Store) Migrate(ctx context.Context, embedDim int) error {
	q := `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS tender_chunks (
  id               TEXT PRIMARY KEY,
  tender_code      TEXT NOT NULL,
  lot_id           TEXT NOT NULL DEFAULT '',
  document_id      TEXT NOT NULL,
  section_path     TEXT NOT NULL DEFAULT '',
  section_type     TEXT NOT NULL DEFAULT '',
  content          TEXT NOT NULL,
  page_numbers     INT[] NOT NULL DEFAULT '{}',
  source_chunk_id  TEXT NOT NULL DEFAULT '',
  buyer            TEXT NOT NULL DEFAULT '',
  publication_date TIMESTAMP WITH TIME ZONE,
  base_amount      DOUBLE PRECISION NOT NULL DEFAULT 0,
  embedding        vector(%d),
  content_hash     TEXT,
  created_at       TIMESTAMP WITH TIME ZONE DEFAULT now(),
  ts_fielded       tsvector GENERATED ALWAYS AS (
    setweight(to_tsvector('italian', coalesce(section_path,'')), 'A') ||
    setweight(to_tsvector('italian', coalesce(content,'')), 'B')
  ) STORED
);

CREATE INDEX IF NOT EXISTS tender_chunks_tender_code_idx
  ON tender_chunks (tender_code);

CREATE INDEX IF NOT EXISTS tender_chunks_hash_idx
  ON tender_chunks (content_hash);
CREATE INDEX IF NOT EXISTS tender_chunks_ts_fielded_gin
  ON tender_chunks USING GIN (ts_fielded);

CREATE INDEX IF NOT EXISTS tender_chunks_embedding_idx
  ON tender_chunks USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);
`
	_, err := s.pool.Exec(ctx, fmt.Sprintf(q, embedDim))
	return err
}

// UpsertChunk inserts or updates a chunk.
func (s *Store) UpsertChunk(
	ctx context.Context,
	c models.Chunk,
	embedding []float32,
	contentHash string,
) error {
	var ev any
	if embedding != nil {
		ev = pgvector.NewVector(embedding)
	} else {
		ev = (*pgvector.Vector)(nil)
	}

	var pubDate any
	if !c.PublicationDate.IsZero() {
		pubDate = c.PublicationDate
	}

	const q = `
		INSERT INTO tender_chunks (
			id, tender_code, lot_id, document_id, section_path, section_type,
			content, page_numbers, source_chunk_id, buyer, publication_date,
			base_amount, embedding, content_hash, created_at
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14, now()
		)
		ON CONFLICT (id) DO UPDATE SET
			lot_id           = EXCLUDED.lot_id,
			section_path     = EXCLUDED.section_path,
			section_type     = EXCLUDED.section_type,
			content          = EXCLUDED.content,
			page_numbers     = EXCLUDED.page_numbers,
			source_chunk_id  = EXCLUDED.source_chunk_id,
			buyer            = EXCLUDED.buyer,
			publication_date = EXCLUDED.publication_date,
			base_amount      = EXCLUDED.base_amount,
			content_hash     = EXCLUDED.content_hash,
			embedding        = COALESCE(EXCLUDED.embedding, tender_chunks.embedding),
			created_at       = tender_chunks.created_at;`

	_, err := s.pool.Exec(ctx, q,
		c.ID, c.TenderCode, c.LotID, c.DocumentID, c.SectionPath, c.SectionType,
		c.Text, c.PageNumbers, c.SourceChunkID, c.Buyer, pubDate,
		c.BaseAmount, ev, contentHash,
	)
	return err
}

// SearchByVector returns the k chunks closest to the query embedding by
// cosine similarity, most similar first. Scores are clamped to [0,1].
func (s *Store) SearchByVector(
	ctx context.Context,
	embedding []float32,
	k int,
	f Filters,
) ([]models.ScoredChunk, error) {
	if k <= 0 || len(embedding) == 0 {
		return []models.ScoredChunk{}, nil
	}

	args := []any{pgvector.NewVector(embedding)}
	where, args := f.whereClause(args)

	q := fmt.Sprintf(`
SELECT %s,
       LEAST(GREATEST(1.0 - (embedding <=> $1), 0), 1) AS score
FROM tender_chunks
WHERE embedding IS NOT NULL AND %s
ORDER BY embedding <=> $1
LIMIT %d;
`, chunkColumns, where, k)

	return s.queryScored(ctx, q, args)
}

// SearchByKeyword runs an Italian full-text search over section path and
// content, ranked by ts_rank_cd. All query terms must match, mirroring the
// strict term matching of the keyword strategy.
func (s *Store) SearchByKeyword(
	ctx context.Context,
	text string,
	k int,
	f Filters,
) ([]models.ScoredChunk, error) {
	text = strings.TrimSpace(text)
	if k <= 0 || text == "" {
		return []models.ScoredChunk{}, nil
	}

	args := []any{text}
	where, args := f.whereClause(args)

	q := fmt.Sprintf(`
SELECT %s,
       ts_rank_cd(ts_fielded, plainto_tsquery('italian', $1)) AS score
FROM tender_chunks
WHERE ts_fielded @@ plainto_tsquery('italian', $1) AND %s
ORDER BY score DESC
LIMIT %d;
`, chunkColumns, where, k)

	return s.queryScored(ctx, q, args)
}

const chunkColumns = `id, tender_code, lot_id, document_id, section_path, section_type,
       content, page_numbers, source_chunk_id, buyer,
       COALESCE(publication_date, 'epoch'::timestamptz), base_amount, created_at`

// whereClause appends equality filters to args and returns the SQL fragment.
func (f Filters) whereClause(args []any) (string, []any) {
	where := "TRUE"
	ai := len(args) + 1
	add := func(col, val string) {
		if val == "" {
			return
		}
		where += fmt.Sprintf(" AND %s = $%d", col, ai)
		args = append(args, val)
		ai++
	}
	add("tender_code", f.TenderCode)
	add("lot_id", f.LotID)
	add("section_type", f.SectionType)
	add("buyer", f.Buyer)
	return where, args
}

func (s *Store) queryScored(ctx context.Context, q string, args []any) ([]models.ScoredChunk, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.ScoredChunk{}
	for rows.Next() {
		var c models.Chunk
		var score float64
		if err := rows.Scan(
			&c.ID, &c.TenderCode, &c.LotID, &c.DocumentID, &c.SectionPath, &c.SectionType,
			&c.Text, &c.PageNumbers, &c.SourceChunkID, &c.Buyer,
			&c.PublicationDate, &c.BaseAmount, &c.CreatedAt,
			&score,
		); err != nil {
			return nil, err
		}
		out = append(out, models.ScoredChunk{Chunk: c, Score: score})
	}
	return out, rows.Err()
}

// GetTenders returns a list of all unique tender codes in the database.
func (s *Store) GetTenders(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, "SELECT DISTINCT tender_code FROM tender_chunks ORDER BY tender_code")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}

	return codes, rows.Err()
}

// GetDocuments returns distinct document ids for a given tender.
func (s *Store) GetDocuments(ctx context.Context, tenderCode string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT document_id FROM tender_chunks WHERE tender_code = $1 ORDER BY document_id`, tenderCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// DeleteTender removes all chunks belonging to a tender.
func (s *Store) DeleteTender(ctx context.Context, tenderCode string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM tender_chunks WHERE tender_code = $1`, tenderCode)
	return err
}

// Ping checks the database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

// ChunkMeta holds metadata about an already indexed chunk.
type ChunkMeta struct {
	ContentHash  string
	HasEmbedding bool
}

// GetChunkMeta retrieves metadata for a chunk by id.
func (s *Store) GetChunkMeta(ctx context.Context, id string) (ChunkMeta, bool, error) {
	const q = `
      SELECT content_hash,
             embedding IS NOT NULL
      FROM tender_chunks
      WHERE id = $1
      LIMIT 1`
	var m ChunkMeta
	err := s.pool.QueryRow(ctx, q, id).Scan(&m.ContentHash, &m.HasEmbedding)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ChunkMeta{}, false, nil
		}
		return ChunkMeta{}, false, err
	}
	return m, true, nil
}
