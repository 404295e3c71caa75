// Package citation parses file:line citations out of a drafted answer,
// infers citations from retrieved chunks when the draft has none, and
// hydrates each citation with the actual source text it points at.
package citation

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/reposearch/codeask/pkg/models"
)

// snippetLength caps hydrated snippets; anything longer is cut with an
// ellipsis so the reference section stays readable.
const snippetLength = 300

// UnavailableSnippet is recorded when the cited file cannot be read.
const UnavailableSnippet = "[Code snippet unavailable]"

var (
	bracketRE = regexp.MustCompile(`\[([^\]]+?):(\d+)(?:-(\d+))?\]`)
	parenRE   = regexp.MustCompile(`\(([^)]+?):(\d+)(?:-(\d+))?\)`)
	bareRE    = regexp.MustCompile(`([a-zA-Z0-9_/\\.-]+\.(?:py|js|ts|java|go|rs|cpp|c|h|tsx|jsx|md|txt)):(\d+)(?:-(\d+))?(?:\s|$|[,.;)])`)

	identifierRE = regexp.MustCompile(`\b[A-Za-z][a-z]+(?:[A-Z][a-z]+)+\b`)
	pathRE       = regexp.MustCompile(`\b[\w/.-]+\.\w{1,4}\b`)
)

// Extract parses citations from answerText with three regex passes, in
// order of format preference: [path:s-e], (path:s-e), then bare path:s-e
// for recognized extensions. The first match per (path, startLine) wins.
func Extract(answerText string) []models.Citation {
	var citations []models.Citation
	seen := map[string]bool{}

	for _, re := range []*regexp.Regexp{bracketRE, parenRE, bareRE} {
		for _, m := range re.FindAllStringSubmatch(answerText, -1) {
			path := strings.TrimSpace(m[1])
			start, err := strconv.Atoi(m[2])
			if err != nil {
				continue
			}
			end := start
			if m[3] != "" {
				if e, err := strconv.Atoi(m[3]); err == nil {
					end = e
				}
			}
			key := path + ":" + m[2]
			if seen[key] {
				continue
			}
			seen[key] = true
			citations = append(citations, models.Citation{
				FilePath:  path,
				StartLine: start,
				EndLine:   end,
			})
		}
	}
	return citations
}

// Format renders citations back into the preferred wire format, one
// bracketed reference per citation. Extract(Format(cs)) round-trips to the
// same (path, start, end) set.
func Format(citations []models.Citation) string {
	parts := make([]string, 0, len(citations))
	for _, c := range citations {
		if c.EndLine > c.StartLine {
			parts = append(parts, fmt.Sprintf("[%s:%d-%d]", c.FilePath, c.StartLine, c.EndLine))
		} else {
			parts = append(parts, fmt.Sprintf("[%s:%d]", c.FilePath, c.StartLine))
		}
	}
	return strings.Join(parts, " ")
}

// ExtractWithFallback parses citations from answerText; when none parse
// and retrieved chunks are available, it infers citations from the chunks
// the draft appears to talk about, and failing that cites the top chunks
// outright so the answer never ships referenceless.
func ExtractWithFallback(answerText string, retrieved []models.SearchResult) []models.Citation {
	citations := Extract(answerText)
	if len(citations) > 0 || len(retrieved) == 0 {
		return citations
	}

	citations = inferFromChunks(answerText, retrieved)
	if len(citations) > 0 {
		return citations
	}

	top := retrieved
	if len(top) > 5 {
		top = top[:5]
	}
	for _, c := range top {
		citations = append(citations, models.Citation{
			FilePath:  c.FilePath,
			StartLine: c.StartLine,
			EndLine:   c.EndLine,
		})
	}
	return citations
}

// inferFromChunks matches file paths, bare filenames, and identifier
// mentions in the draft against the retrieved chunks' metadata.
func inferFromChunks(answerText string, retrieved []models.SearchResult) []models.Citation {
	mentionedPaths := map[string]bool{}
	mentionedNames := map[string]bool{}
	for _, m := range pathRE.FindAllString(answerText, -1) {
		mentionedPaths[m] = true
		mentionedNames[filepath.Base(m)] = true
	}
	mentionedIdents := map[string]bool{}
	for _, id := range identifierRE.FindAllString(answerText, -1) {
		mentionedIdents[strings.ToLower(id)] = true
	}

	var citations []models.Citation
	seen := map[string]bool{}
	for _, chunk := range retrieved {
		if chunk.FilePath == "" {
			continue
		}
		filename := filepath.Base(chunk.FilePath)
		stem := strings.TrimSuffix(filename, filepath.Ext(filename))

		matched := mentionedPaths[chunk.FilePath] || mentionedNames[filename]
		if !matched {
			for p := range mentionedPaths {
				if strings.HasSuffix(chunk.FilePath, p) {
					matched = true
					break
				}
			}
		}
		if !matched && mentionedIdents[strings.ToLower(stem)] {
			matched = true
		}
		if !matched && chunk.SymbolName != "" && mentionedIdents[strings.ToLower(chunk.SymbolName)] {
			matched = true
		}
		if !matched {
			continue
		}

		key := fmt.Sprintf("%s:%d", chunk.FilePath, chunk.StartLine)
		if seen[key] {
			continue
		}
		seen[key] = true
		citations = append(citations, models.Citation{
			FilePath:  chunk.FilePath,
			StartLine: chunk.StartLine,
			EndLine:   chunk.EndLine,
		})
	}
	return citations
}

// FileOpener reads a file by repo-relative path. The indexer's repo root
// satisfies it; tests substitute a map.
type FileOpener interface {
	ReadFile(path string) ([]byte, error)
}

// DirOpener opens files under a root directory.
type DirOpener struct {
	Root string
}

func (d DirOpener) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(filepath.Join(d.Root, path))
}

// Hydrate fills each citation's snippet with the actual source lines it
// spans, cut to snippetLength. A citation whose file cannot be read keeps
// a placeholder snippet rather than failing the answer.
func Hydrate(citations []models.Citation, opener FileOpener) []models.Citation {
	out := make([]models.Citation, len(citations))
	for i, c := range citations {
		out[i] = c
		out[i].TextSnippet = snippetFor(c, opener)
	}
	return out
}

func snippetFor(c models.Citation, opener FileOpener) string {
	if opener == nil {
		return UnavailableSnippet
	}
	data, err := opener.ReadFile(c.FilePath)
	if err != nil {
		return UnavailableSnippet
	}
	lines := strings.Split(string(data), "\n")
	start, end := c.StartLine, c.EndLine
	if start < 1 {
		start = 1
	}
	if end < start {
		end = start
	}
	if start > len(lines) {
		return UnavailableSnippet
	}
	if end > len(lines) {
		end = len(lines)
	}
	snippet := strings.Join(lines[start-1:end], "\n")
	if len(snippet) > snippetLength {
		snippet = snippet[:snippetLength] + "..."
	}
	return snippet
}

// References renders the grouped reference section appended to the final
// answer: one entry per file, its cited line ranges, and a short preview
// of the first snippet.
func References(citations []models.Citation) string {
	if len(citations) == 0 {
		return ""
	}

	type fileRefs struct {
		path    string
		ranges  []string
		preview string
	}
	order := []string{}
	byFile := map[string]*fileRefs{}
	for _, c := range citations {
		fr, ok := byFile[c.FilePath]
		if !ok {
			fr = &fileRefs{path: c.FilePath}
			byFile[c.FilePath] = fr
			order = append(order, c.FilePath)
		}
		if c.EndLine > c.StartLine {
			fr.ranges = append(fr.ranges, fmt.Sprintf("%d-%d", c.StartLine, c.EndLine))
		} else {
			fr.ranges = append(fr.ranges, strconv.Itoa(c.StartLine))
		}
		if fr.preview == "" && c.TextSnippet != "" && c.TextSnippet != UnavailableSnippet {
			fr.preview = previewOf(c.TextSnippet)
		}
	}

	var b strings.Builder
	b.WriteString("\n\n### References:\n")
	for i, path := range order {
		fr := byFile[path]
		fmt.Fprintf(&b, "\n%d. `%s` (lines %s)", i+1, fr.path, strings.Join(fr.ranges, ", "))
		if fr.preview != "" {
			fmt.Fprintf(&b, " — %s", fr.preview)
		}
	}
	return b.String()
}

func previewOf(snippet string) string {
	preview := strings.TrimSpace(strings.SplitN(snippet, "\n", 2)[0])
	if len(preview) > 100 {
		preview = preview[:100]
	}
	return preview
}
