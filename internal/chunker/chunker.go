// Package chunker splits source files into citable CodeChunks. It prefers
// an AST-aware strategy backed by tree-sitter grammars and falls back to a
// token-based sliding window for languages without one, merging any chunks
// left too small by either strategy.
package chunker

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/reposearch/codeask/pkg/models"
)

// Config tunes chunk sizing. Fields mirror internal/config's
// ChunkingSpecification so callers can pass it straight through.
type Config struct {
	ChunkSize       int
	ChunkOverlap    int
	MinChunkTokens  int
	MaxContextLines int
}

// Chunk splits one file's content into CodeChunks belonging to repoID.
// It picks the AST strategy when language has a registered tree-sitter
// grammar, and size-based chunking otherwise; gaps the AST walk leaves
// uncovered (package-level statements, import blocks, trailing code) are
// filled in with size-based chunks so no part of the file goes unindexed.
func Chunk(ctx context.Context, repoID, filePath, language string, content []byte, cfg Config) []models.CodeChunk {
	if langCfg, ok := astLanguages[language]; ok {
		chunks, err := chunkAST(ctx, repoID, filePath, language, langCfg, content, cfg)
		if err != nil {
			log.Warn().Err(err).Str("path", filePath).Msg("ast parse failed, falling back to size chunking")
		} else if len(chunks) > 0 {
			gapChunks := chunkGaps(repoID, filePath, language, content, chunks, cfg)
			chunks = append(chunks, gapChunks...)
			chunks = sortChunksByStartLine(chunks)
			return mergeSmallChunks(chunks, cfg)
		}
	}

	chunks := chunkBySize(repoID, filePath, language, content, cfg)
	return mergeSmallChunks(chunks, cfg)
}

func sortChunksByStartLine(chunks []models.CodeChunk) []models.CodeChunk {
	for i := 1; i < len(chunks); i++ {
		for j := i; j > 0 && chunks[j].StartLine < chunks[j-1].StartLine; j-- {
			chunks[j], chunks[j-1] = chunks[j-1], chunks[j]
		}
	}
	return chunks
}
