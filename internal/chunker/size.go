package chunker

import (
	"strings"

	"github.com/reposearch/codeask/pkg/models"
)

// chunkBySizeFrom splits content into a token-bounded sliding window of chunks,
// trailing each chunk with an overlap window (sized in tokens, not lines) so
// the next chunk starts with context from the one before it. baseLine is the
// file line number that the first line of content corresponds to, so the
// same routine can chunk a whole file (baseLine=1) or a gap an AST walk left
// uncovered (baseLine = the gap's first file line).
func chunkBySizeFrom(repoID, filePath, language string, content []byte, baseLine int, cfg Config) []models.CodeChunk {
	lines := strings.Split(string(content), "\n")
	imports := extractImportsForLanguage(string(content), language)

	var chunks []models.CodeChunk
	var current []string
	currentTokens := 0
	startLine := baseLine

	flush := func(endLine int) {
		if len(current) == 0 {
			return
		}
		text := strings.Join(current, "\n")
		chunks = append(chunks, models.CodeChunk{
			ID:        chunkID(repoID, filePath, startLine, endLine),
			RepoID:    repoID,
			FilePath:  filePath,
			Language:  language,
			StartLine: startLine,
			EndLine:   endLine,
			Text:      text,
			Method:    models.ChunkingMethodSize,
			Imports:   capStrings(imports, 10),
		})
	}

	for i, line := range lines {
		lineNo := baseLine + i
		lineTokens := CountTokens(line)

		if currentTokens+lineTokens > cfg.ChunkSize && len(current) > 0 {
			flush(lineNo - 1)

			overlapLines, overlapTokens := trailingOverlap(current, cfg.ChunkOverlap)
			current = append(overlapLines, line)
			currentTokens = overlapTokens + lineTokens
			startLine = lineNo - len(overlapLines)
			continue
		}

		current = append(current, line)
		currentTokens += lineTokens
	}
	flush(baseLine + len(lines) - 1)

	return chunks
}

// chunkBySize chunks a whole file, numbering lines from 1.
func chunkBySize(repoID, filePath, language string, content []byte, cfg Config) []models.CodeChunk {
	return chunkBySizeFrom(repoID, filePath, language, content, 1, cfg)
}

// trailingOverlap returns the longest suffix of lines whose token count does
// not exceed maxOverlapTokens, for use as the seed of the next chunk.
func trailingOverlap(lines []string, maxOverlapTokens int) ([]string, int) {
	if maxOverlapTokens <= 0 {
		return nil, 0
	}
	var overlap []string
	tokens := 0
	for i := len(lines) - 1; i >= 0; i-- {
		t := CountTokens(lines[i])
		if tokens+t > maxOverlapTokens {
			break
		}
		overlap = append([]string{lines[i]}, overlap...)
		tokens += t
	}
	return overlap, tokens
}

// chunkGaps fills in the line ranges an AST walk left uncovered (package
// statements, trailing code after the last definition, blank lead-ins)
// with size-based chunks, so no line in the file goes unindexed.
func chunkGaps(repoID, filePath, language string, content []byte, astChunks []models.CodeChunk, cfg Config) []models.CodeChunk {
	lines := strings.Split(string(content), "\n")
	covered := make([]bool, len(lines)+2)
	for _, c := range astChunks {
		for l := c.StartLine; l <= c.EndLine && l < len(covered); l++ {
			covered[l] = true
		}
	}

	var gapChunks []models.CodeChunk
	gapStart := 0
	for l := 1; l <= len(lines); l++ {
		if !covered[l] {
			if gapStart == 0 {
				gapStart = l
			}
			continue
		}
		if gapStart != 0 {
			gapContent := strings.Join(lines[gapStart-1:l-1], "\n")
			gapChunks = append(gapChunks, chunkBySizeFrom(repoID, filePath, language, []byte(gapContent), gapStart, cfg)...)
			gapStart = 0
		}
	}
	if gapStart != 0 {
		gapContent := strings.Join(lines[gapStart-1:], "\n")
		gapChunks = append(gapChunks, chunkBySizeFrom(repoID, filePath, language, []byte(gapContent), gapStart, cfg)...)
	}

	return gapChunks
}

// mergeSmallChunks merges any two adjacent chunks where the first has fewer
// than cfg.MinChunkTokens tokens and the combined size stays within 1.2x the
// target chunk size.
func mergeSmallChunks(chunks []models.CodeChunk, cfg Config) []models.CodeChunk {
	if len(chunks) == 0 {
		return chunks
	}

	var merged []models.CodeChunk
	i := 0
	for i < len(chunks) {
		current := chunks[i]
		if i+1 < len(chunks) && CountTokens(current.Text) < cfg.MinChunkTokens {
			next := chunks[i+1]
			combinedText := current.Text + "\n\n" + next.Text
			if CountTokens(combinedText) <= int(float64(cfg.ChunkSize)*1.2) {
				symbol := current.SymbolName
				if symbol == "" {
					symbol = next.SymbolName
				}
				merged = append(merged, models.CodeChunk{
					ID:         current.ID,
					RepoID:     current.RepoID,
					FilePath:   current.FilePath,
					Language:   current.Language,
					StartLine:  current.StartLine,
					EndLine:    next.EndLine,
					SymbolName: symbol,
					Text:       combinedText,
					Method:     current.Method,
					Imports:    current.Imports,
					Parameters: current.Parameters,
					ReturnType: current.ReturnType,
					HasContext: current.HasContext,
					Merge: models.MergeRecord{
						Merged:          true,
						OriginalSymbols: []string{current.SymbolName, next.SymbolName},
					},
				})
				i += 2
				continue
			}
		}
		merged = append(merged, current)
		i++
	}
	return merged
}

func extractImportsForLanguage(content, language string) []string {
	grammar, ok := astLanguages[language]
	if !ok {
		return nil
	}
	return extractImports(content, grammar.importPattern)
}
