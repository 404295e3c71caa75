// Package store implements the corpus store: the sole owner of repository
// and chunk metadata, the lexical full-text index, and the vector index
// handle chunks are retrieved through. Backed by Postgres + pgvector.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/reposearch/codeask/pkg/models"
)

// ErrRepositoryNotFound reports an unknown repository id. GetRepo itself
// signals absence with a false second return rather than this error;
// callers such as the agent loop wrap it when that happens.
var ErrRepositoryNotFound = errors.New("repository not found")

// CorpusStore is the interface the rest of the engine depends on, so
// callers (ingestion, retriever) can be tested against an in-memory fake
// without a live Postgres instance.
type CorpusStore interface {
	SaveRepo(ctx context.Context, repo models.Repository) error
	GetRepo(ctx context.Context, id string) (models.Repository, bool, error)
	ListRepos(ctx context.Context) ([]models.Repository, error)
	DeleteRepo(ctx context.Context, id string) error

	SaveChunks(ctx context.Context, chunks []models.CodeChunk) error
	GetChunk(ctx context.Context, id string) (models.CodeChunk, bool, error)

	ReplaceRepo(ctx context.Context, repo models.Repository, chunks []models.CodeChunk, embeddings map[string][]float32) error

	LexicalSearch(ctx context.Context, repoID, term string, limit int) ([]models.SearchResult, error)
	VectorSearch(ctx context.Context, repoID string, embedding []float32, limit int) ([]models.SearchResult, error)
	SaveEmbeddings(ctx context.Context, repoID string, embeddings map[string][]float32) error
}

// Store is the Postgres-backed CorpusStore implementation.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to the database at url and returns a Store.
func New(ctx context.Context, url string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse db url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() { s.pool.Close() }

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

// Migrate applies the schema: repos, chunks, a generated tsvector column
// plus GIN index for full-text search, and the pgvector-backed vector
// column + ivfflat index that is this store's handle to the vector index
// namespaced per repository.
func (s *Store) Migrate(ctx context.Context, embedDim int) error {
	q := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS repos (
  repo_id     TEXT PRIMARY KEY,
  origin      TEXT NOT NULL DEFAULT '',
  commit_hash TEXT NOT NULL DEFAULT '',
  indexed_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
  stats       JSONB NOT NULL DEFAULT '{}'::jsonb
);

CREATE TABLE IF NOT EXISTS chunks (
  chunk_id    TEXT PRIMARY KEY,
  repo_id     TEXT NOT NULL REFERENCES repos(repo_id) ON DELETE CASCADE,
  file_path   TEXT NOT NULL,
  language    TEXT NOT NULL DEFAULT '',
  start_line  INT NOT NULL,
  end_line    INT NOT NULL,
  symbol_name TEXT NOT NULL DEFAULT '',
  chunk_text  TEXT NOT NULL,
  method      TEXT NOT NULL DEFAULT '',
  imports     JSONB NOT NULL DEFAULT '[]'::jsonb,
  parameters  JSONB NOT NULL DEFAULT '[]'::jsonb,
  return_type TEXT NOT NULL DEFAULT '',
  has_context BOOLEAN NOT NULL DEFAULT FALSE,
  merged      BOOLEAN NOT NULL DEFAULT FALSE,
  orig_symbols JSONB NOT NULL DEFAULT '[]'::jsonb,
  embedding   vector(%d),
  fts         tsvector GENERATED ALWAYS AS (to_tsvector('english', chunk_text)) STORED
);

CREATE INDEX IF NOT EXISTS chunks_repo_id_idx ON chunks (repo_id);
CREATE INDEX IF NOT EXISTS chunks_file_path_idx ON chunks (file_path);
CREATE INDEX IF NOT EXISTS chunks_symbol_name_idx ON chunks (symbol_name);
CREATE INDEX IF NOT EXISTS chunks_fts_gin ON chunks USING GIN (fts);
CREATE INDEX IF NOT EXISTS chunks_embedding_ivfflat ON chunks USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);
`, embedDim)
	_, err := s.pool.Exec(ctx, q)
	return err
}

// SaveRepo upserts repository metadata by repo id.
func (s *Store) SaveRepo(ctx context.Context, repo models.Repository) error {
	stats, err := json.Marshal(repo.LangCounts)
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}
	const q = `
INSERT INTO repos (repo_id, origin, commit_hash, indexed_at, stats)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (repo_id) DO UPDATE SET
  origin = EXCLUDED.origin,
  commit_hash = EXCLUDED.commit_hash, indexed_at = EXCLUDED.indexed_at,
  stats = EXCLUDED.stats`
	_, err = s.pool.Exec(ctx, q, repo.ID, repo.Origin, repo.CommitHash, repo.IndexedAt, stats)
	return err
}

// GetRepo returns repository metadata, or ok=false if absent.
func (s *Store) GetRepo(ctx context.Context, id string) (models.Repository, bool, error) {
	const q = `SELECT repo_id, origin, commit_hash, indexed_at, stats FROM repos WHERE repo_id = $1`
	var repo models.Repository
	var stats []byte
	err := s.pool.QueryRow(ctx, q, id).Scan(&repo.ID, &repo.Origin, &repo.CommitHash, &repo.IndexedAt, &stats)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Repository{}, false, nil
		}
		return models.Repository{}, false, err
	}
	_ = json.Unmarshal(stats, &repo.LangCounts)
	return repo, true, nil
}

// ListRepos returns all repos ordered by ingestion timestamp, newest first.
func (s *Store) ListRepos(ctx context.Context) ([]models.Repository, error) {
	const q = `SELECT repo_id, origin, commit_hash, indexed_at, stats FROM repos ORDER BY indexed_at DESC`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Repository
	for rows.Next() {
		var repo models.Repository
		var stats []byte
		if err := rows.Scan(&repo.ID, &repo.Origin, &repo.CommitHash, &repo.IndexedAt, &stats); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(stats, &repo.LangCounts)
		out = append(out, repo)
	}
	return out, rows.Err()
}

// DeleteRepo removes a repository and cascades (via FK) to its chunks, FTS
// rows and vector rows, leaving no orphans in either index.
func (s *Store) DeleteRepo(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM repos WHERE repo_id = $1`, id)
	return err
}

// SaveChunks upserts all chunks; the generated fts column refreshes itself
// under the same write, so chunk rows and FTS rows never drift apart.
func (s *Store) SaveChunks(ctx context.Context, chunks []models.CodeChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const q = `
INSERT INTO chunks (
  chunk_id, repo_id, file_path, language, start_line, end_line,
  symbol_name, chunk_text, method, imports, parameters, return_type,
  has_context, merged, orig_symbols
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
ON CONFLICT (chunk_id) DO UPDATE SET
  file_path = EXCLUDED.file_path, language = EXCLUDED.language,
  start_line = EXCLUDED.start_line, end_line = EXCLUDED.end_line,
  symbol_name = EXCLUDED.symbol_name, chunk_text = EXCLUDED.chunk_text,
  method = EXCLUDED.method, imports = EXCLUDED.imports,
  parameters = EXCLUDED.parameters, return_type = EXCLUDED.return_type,
  has_context = EXCLUDED.has_context, merged = EXCLUDED.merged,
  orig_symbols = EXCLUDED.orig_symbols`

	for _, c := range chunks {
		imports, _ := json.Marshal(c.Imports)
		params, _ := json.Marshal(c.Parameters)
		origSymbols, _ := json.Marshal(c.Merge.OriginalSymbols)
		if _, err := tx.Exec(ctx, q,
			c.ID, c.RepoID, c.FilePath, c.Language, c.StartLine, c.EndLine,
			c.SymbolName, c.Text, string(c.Method), imports, params, c.ReturnType,
			c.HasContext, c.Merge.Merged, origSymbols,
		); err != nil {
			return fmt.Errorf("upsert chunk %s: %w", c.ID, err)
		}
	}
	return tx.Commit(ctx)
}

// SaveEmbeddings writes the per-chunk embedding vectors computed after
// chunking, so the vector index can be searched independently of the
// chunk upsert that created the row.
func (s *Store) SaveEmbeddings(ctx context.Context, repoID string, embeddings map[string][]float32) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const q = `UPDATE chunks SET embedding = $1 WHERE chunk_id = $2 AND repo_id = $3`
	for id, vec := range embeddings {
		if _, err := tx.Exec(ctx, q, pgvector.NewVector(vec), id, repoID); err != nil {
			return fmt.Errorf("save embedding %s: %w", id, err)
		}
	}
	return tx.Commit(ctx)
}

// ReplaceRepo atomically swaps in a repository's new corpus under one
// transaction: the previous repo row (and, via cascade, its chunks, FTS
// rows and vectors) is deleted and the new repo, chunk and embedding rows
// written, so a failure at any point rolls back to the pre-ingestion
// state. Ingestion uses this instead of composing DeleteRepo/SaveRepo/
// SaveChunks/SaveEmbeddings, whose independent commits could strand a
// half-replaced corpus.
func (s *Store) ReplaceRepo(ctx context.Context, repo models.Repository, chunks []models.CodeChunk, embeddings map[string][]float32) error {
	stats, err := json.Marshal(repo.LangCounts)
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM repos WHERE repo_id = $1`, repo.ID); err != nil {
		return fmt.Errorf("delete previous corpus: %w", err)
	}

	const repoQ = `
INSERT INTO repos (repo_id, origin, commit_hash, indexed_at, stats)
VALUES ($1, $2, $3, $4, $5)`
	if _, err := tx.Exec(ctx, repoQ, repo.ID, repo.Origin, repo.CommitHash, repo.IndexedAt, stats); err != nil {
		return fmt.Errorf("insert repo: %w", err)
	}

	const chunkQ = `
INSERT INTO chunks (
  chunk_id, repo_id, file_path, language, start_line, end_line,
  symbol_name, chunk_text, method, imports, parameters, return_type,
  has_context, merged, orig_symbols, embedding
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
ON CONFLICT (chunk_id) DO UPDATE SET
  file_path = EXCLUDED.file_path, language = EXCLUDED.language,
  start_line = EXCLUDED.start_line, end_line = EXCLUDED.end_line,
  symbol_name = EXCLUDED.symbol_name, chunk_text = EXCLUDED.chunk_text,
  method = EXCLUDED.method, imports = EXCLUDED.imports,
  parameters = EXCLUDED.parameters, return_type = EXCLUDED.return_type,
  has_context = EXCLUDED.has_context, merged = EXCLUDED.merged,
  orig_symbols = EXCLUDED.orig_symbols, embedding = EXCLUDED.embedding`

	for _, c := range chunks {
		imports, _ := json.Marshal(c.Imports)
		params, _ := json.Marshal(c.Parameters)
		origSymbols, _ := json.Marshal(c.Merge.OriginalSymbols)
		var vec any
		if v, ok := embeddings[c.ID]; ok {
			vec = pgvector.NewVector(v)
		}
		if _, err := tx.Exec(ctx, chunkQ,
			c.ID, c.RepoID, c.FilePath, c.Language, c.StartLine, c.EndLine,
			c.SymbolName, c.Text, string(c.Method), imports, params, c.ReturnType,
			c.HasContext, c.Merge.Merged, origSymbols, vec,
		); err != nil {
			return fmt.Errorf("insert chunk %s: %w", c.ID, err)
		}
	}

	return tx.Commit(ctx)
}

// GetChunk returns a single chunk by id, or ok=false if absent.
func (s *Store) GetChunk(ctx context.Context, id string) (models.CodeChunk, bool, error) {
	const q = `
SELECT chunk_id, repo_id, file_path, language, start_line, end_line,
       symbol_name, chunk_text, method, imports, parameters, return_type,
       has_context, merged, orig_symbols
FROM chunks WHERE chunk_id = $1`
	row := s.pool.QueryRow(ctx, q, id)
	c, err := scanChunk(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.CodeChunk{}, false, nil
		}
		return models.CodeChunk{}, false, err
	}
	return c, true, nil
}

// LexicalSearch runs a full-text match on chunk text scoped to repoID,
// ordered by the FTS engine's rank, converted so larger = more relevant.
func (s *Store) LexicalSearch(ctx context.Context, repoID, term string, limit int) ([]models.SearchResult, error) {
	const q = `
SELECT chunk_id, file_path, start_line, end_line, symbol_name, chunk_text,
       ts_rank_cd(fts, websearch_to_tsquery('english', $2)) * 10 AS rank
FROM chunks
WHERE repo_id = $1 AND fts @@ websearch_to_tsquery('english', $2)
ORDER BY rank DESC
LIMIT $3`
	rows, err := s.pool.Query(ctx, q, repoID, term, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SearchResult
	for rows.Next() {
		var r models.SearchResult
		if err := rows.Scan(&r.ChunkID, &r.FilePath, &r.StartLine, &r.EndLine, &r.SymbolName, &r.Text, &r.LexicalScore); err != nil {
			return nil, err
		}
		r.Sources = []string{"lexical"}
		out = append(out, r)
	}
	return out, rows.Err()
}

// VectorSearch runs an ANN cosine-similarity search over the repo's
// embedding column, the pgvector-backed handle to the per-repo vector
// namespace. Similarity = 1 - distance, per the vector index contract.
func (s *Store) VectorSearch(ctx context.Context, repoID string, embedding []float32, limit int) ([]models.SearchResult, error) {
	const q = `
SELECT chunk_id, file_path, start_line, end_line, symbol_name, chunk_text,
       1 - (embedding <=> $2) AS similarity
FROM chunks
WHERE repo_id = $1 AND embedding IS NOT NULL
ORDER BY embedding <=> $2
LIMIT $3`
	rows, err := s.pool.Query(ctx, q, repoID, pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SearchResult
	for rows.Next() {
		var r models.SearchResult
		if err := rows.Scan(&r.ChunkID, &r.FilePath, &r.StartLine, &r.EndLine, &r.SymbolName, &r.Text, &r.VectorScore); err != nil {
			return nil, err
		}
		r.Sources = []string{"vector"}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanChunk(row scannable) (models.CodeChunk, error) {
	var c models.CodeChunk
	var imports, params, origSymbols []byte
	var method string
	err := row.Scan(
		&c.ID, &c.RepoID, &c.FilePath, &c.Language, &c.StartLine, &c.EndLine,
		&c.SymbolName, &c.Text, &method, &imports, &params, &c.ReturnType,
		&c.HasContext, &c.Merge.Merged, &origSymbols,
	)
	if err != nil {
		return models.CodeChunk{}, err
	}
	c.Method = models.ChunkingMethod(method)
	_ = json.Unmarshal(imports, &c.Imports)
	_ = json.Unmarshal(params, &c.Parameters)
	_ = json.Unmarshal(origSymbols, &c.Merge.OriginalSymbols)
	return c, nil
}
