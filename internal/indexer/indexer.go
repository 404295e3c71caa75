// Package indexer ingests a repository into the Corpus Store: walk the
// source tree, chunk each file, embed the chunk texts, and replace the
// repository's previous corpus in one pass.
package indexer

import (
	"context"
	"crypto/sha256"
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

	"github.com/reposearch/codeask/internal/ai"
	"github.com/reposearch/codeask/internal/chunker"
	"github.com/reposearch/codeask/internal/store"
	"github.com/reposearch/codeask/pkg/models"
)

const embedBatchSize = 32

// IndexingError wraps any fatal chunker/embedder/store failure during
// ingestion. When it surfaces, the repository's previous corpus is still
// intact: nothing is written until chunking and embedding have finished.
type IndexingError struct {
	RepoID string
	Err    error
}

func (e *IndexingError) Error() string {
	return fmt.Sprintf("indexing repo %s: %v", e.RepoID, e.Err)
}

func (e *IndexingError) Unwrap() error { return e.Err }

// FileSystemWalker defines the interface for walking directories
type FileSystemWalker interface {
	Walk(root string, options *godirwalk.Options) error
}

// FileReader defines the interface for reading files
type FileReader interface {
	ReadFile(filename string) ([]byte, error)
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

// RepoID derives the stable 12-char hex repository identifier from the
// source URL or absolute local path.
func RepoID(origin string) string {
	h := sha256.Sum256([]byte(origin))
	return hex.EncodeToString(h[:])[:12]
}

// inflight serializes ingestion per repo id: a new run for the same id
// cancels the one already running and takes its place.
var inflight = struct {
	sync.Mutex
	seq     uint64
	entries map[string]inflightEntry
}{entries: map[string]inflightEntry{}}

type inflightEntry struct {
	token  uint64
	cancel context.CancelFunc
}

// Indexer ingests one repository.
type Indexer struct {
	Store      store.CorpusStore
	RepoRoot   string
	Origin     string // source URL, or local path when indexed in place
	CommitHash string
	Embedder   ai.Embedder
	Chunking   chunker.Config
	Walker     FileSystemWalker
	FileReader FileReader
}

// New creates an Indexer over the default filesystem walker and reader.
func New(s store.CorpusStore, repoRoot, origin string, embedder ai.Embedder, chunking chunker.Config) *Indexer {
	return &Indexer{
		Store:      s,
		RepoRoot:   repoRoot,
		Origin:     origin,
		Embedder:   embedder,
		Chunking:   chunking,
		Walker:     &DefaultFileSystemWalker{},
		FileReader: &DefaultFileReader{},
	}
}

// NewWithDependencies creates an Indexer with custom dependencies for testing
func NewWithDependencies(s store.CorpusStore, repoRoot, origin string, embedder ai.Embedder, chunking chunker.Config, walker FileSystemWalker, fileReader FileReader) *Indexer {
	return &Indexer{
		Store:      s,
		RepoRoot:   repoRoot,
		Origin:     origin,
		Embedder:   embedder,
		Chunking:   chunking,
		Walker:     walker,
		FileReader: fileReader,
	}
}

// workItem represents a file to be processed
type workItem struct {
	path    string
	content []byte
}

// Run ingests the repository and returns its metadata. The previous corpus
// for the same repo id, if any, is replaced wholesale only after chunking
// and embedding both succeed, so a failed run never leaves a half-indexed
// repository behind.
func (ix *Indexer) Run(ctx context.Context) (models.Repository, error) {
	repoID := RepoID(ix.Origin)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	token := replaceInflight(repoID, cancel)
	defer clearInflight(repoID, token)

	chunks, langCounts, err := ix.chunkRepository(ctx, repoID)
	if err != nil {
		return models.Repository{}, &IndexingError{RepoID: repoID, Err: err}
	}
	if len(chunks) == 0 {
		return models.Repository{}, &IndexingError{RepoID: repoID, Err: fmt.Errorf("no indexable files under %s", ix.RepoRoot)}
	}

	log.Info().Str("repo", repoID).Int("chunks", len(chunks)).Msg("chunking complete, embedding")

	embeddings, err := ix.embedChunks(ctx, chunks)
	if err != nil {
		return models.Repository{}, &IndexingError{RepoID: repoID, Err: fmt.Errorf("embed: %w", err)}
	}

	repo := models.Repository{
		ID:         repoID,
		Origin:     ix.Origin,
		CommitHash: ix.CommitHash,
		IndexedAt:  time.Now().UTC(),
		LangCounts: langCounts,
	}

	// Full-replace discipline: old corpus out, new corpus in, one
	// transaction. A failure here rolls back to the pre-ingestion state.
	if err := ix.Store.ReplaceRepo(ctx, repo, chunks, embeddings); err != nil {
		return models.Repository{}, &IndexingError{RepoID: repoID, Err: fmt.Errorf("replace corpus: %w", err)}
	}

	log.Info().Str("repo", repoID).Int("chunks", len(chunks)).Int("files", totalFiles(langCounts)).Msg("ingestion complete")
	return repo, nil
}

// chunkRepository walks the tree and chunks every indexable file with a
// worker pool. Unreadable files are logged and skipped; they never fail
// the run.
func (ix *Indexer) chunkRepository(ctx context.Context, repoID string) ([]models.CodeChunk, map[string]int, error) {
	numWorkers := runtime.NumCPU()
	if numWorkers > 8 {
		numWorkers = 8
	}

	log.Info().Int("workers", numWorkers).Str("root", ix.RepoRoot).Msg("starting concurrent chunking")

	workChan := make(chan workItem, numWorkers*2)

	var mu sync.Mutex
	var chunks []models.CodeChunk
	langCounts := map[string]int{}

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range workChan {
				relPath := rel(ix.RepoRoot, item.path)
				lang := guessLang(item.path)
				fileChunks := chunker.Chunk(ctx, repoID, relPath, lang, item.content, ix.Chunking)

				mu.Lock()
				chunks = append(chunks, fileChunks...)
				langCounts[lang]++
				mu.Unlock()
			}
		}()
	}

	walkErr := ix.Walker.Walk(ix.RepoRoot, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de != nil && de.IsDir() {
				return nil
			}
			if shouldSkip(path) {
				return nil
			}

			b, err := ix.FileReader.ReadFile(path)
			if err != nil {
				log.Warn().Err(err).Str("path", path).Msg("failed to read file")
				return nil
			}

			select {
			case workChan <- workItem{path: path, content: b}:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		},
	})

	close(workChan)
	wg.Wait()

	if walkErr != nil {
		return nil, nil, walkErr
	}
	return chunks, langCounts, nil
}

// embedChunks embeds every chunk text in batches and keys the vectors by
// chunk id for the store.
func (ix *Indexer) embedChunks(ctx context.Context, chunks []models.CodeChunk) (map[string][]float32, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := ix.Embedder.EmbedMany(ctx, texts, embedBatchSize)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}

	embeddings := make(map[string][]float32, len(chunks))
	for i, c := range chunks {
		embeddings[c.ID] = vectors[i]
	}
	return embeddings, nil
}

func replaceInflight(repoID string, cancel context.CancelFunc) uint64 {
	inflight.Lock()
	defer inflight.Unlock()
	if prior, ok := inflight.entries[repoID]; ok {
		log.Warn().Str("repo", repoID).Msg("replacing in-flight ingestion")
		prior.cancel()
	}
	inflight.seq++
	inflight.entries[repoID] = inflightEntry{token: inflight.seq, cancel: cancel}
	return inflight.seq
}

func clearInflight(repoID string, token uint64) {
	inflight.Lock()
	defer inflight.Unlock()
	// Only clear our own registration; a newer run may have replaced it.
	if current, ok := inflight.entries[repoID]; ok && current.token == token {
		delete(inflight.entries, repoID)
	}
}

// shouldSkip returns true if the file at path should be skipped.
func shouldSkip(path string) bool {
	p := strings.ToLower(path)
	if strings.Contains(p, "/vendor/") ||
		strings.Contains(p, "/.git/") ||
		strings.Contains(p, "/.terraform/") ||
		strings.Contains(p, "/node_modules/") ||
		strings.Contains(p, "/target/") ||
		strings.Contains(p, "/build/") ||
		strings.Contains(p, "/dist/") ||
		strings.Contains(p, "/out/") ||
		strings.Contains(p, "/bin/") ||
		strings.Contains(p, "/obj/") ||
		strings.Contains(p, "/.venv/") ||
		strings.Contains(p, "/venv/") ||
		strings.Contains(p, "/__pycache__/") ||
		strings.Contains(p, "/.pytest_cache/") ||
		strings.Contains(p, "/.gradle/") ||
		strings.Contains(p, "/.m2/") ||
		strings.Contains(p, "/.idea/") ||
		strings.Contains(p, "/coverage/") ||
		strings.Contains(p, "/.cache/") {
		return true
	}
	switch filepath.Ext(p) {
	case ".png", ".jpg", ".jpeg", ".gif", ".pdf", ".webp", ".lock", ".zip", ".svg", ".exe", ".dll", ".sum", ".mod":
		return true
	}
	return false
}

func rel(root, p string) string {
	r, err := filepath.Rel(root, p)
	if err != nil {
		return p
	}
	return r
}

func guessLang(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".sh":
		return "shell"
	case ".py":
		return "python"
	case ".go":
		return "go"
	case ".md":
		return "markdown"
	case ".tf":
		return "terraform"
	case ".js", ".jsx":
		return "javascript"
	case ".ts", ".tsx":
		return "typescript"
	case ".java":
		return "java"
	case ".rb":
		return "ruby"
	case ".yaml", ".yml":
		return "yaml"
	case ".json":
		return "json"
	default:
		return strings.TrimPrefix(ext, ".")
	}
}

func totalFiles(langCounts map[string]int) int {
	total := 0
	for _, n := range langCounts {
		total += n
	}
	return total
}
