// Package packer selects and truncates retrieved chunks so the synthesizer
// prompt fits its token budget: score each chunk's expected contribution,
// pack greedily, and when a chunk would overflow, keep its important lines
// instead of dropping it outright.
package packer

import (
	"sort"
	"strings"

	"github.com/reposearch/codeask/internal/chunker"
	"github.com/reposearch/codeask/internal/config"
	"github.com/reposearch/codeask/internal/retriever"
	"github.com/reposearch/codeask/pkg/models"
)

// TruncationMarker is appended to a chunk whose middle was cut to fit.
const TruncationMarker = "# ... [truncated for context window] ..."

// keyFilePatterns marks files whose chunks get a priority bump: entry
// points, routers, and the README tend to answer "where does X happen"
// questions even when their retrieval score is middling.
var keyFilePatterns = []string{
	"main.py", "app.py", "__init__.py", "index.js", "index.ts",
	"server.py", "server.js", "api.py", "routes.py", "views.py",
	"main.java", "application.java", "main.go", "readme.md",
}

// promptTemplateOverhead approximates the tokens the synthesizer template
// spends on headers and instructions around the packed chunks.
const promptTemplateOverhead = 300

// Packer fits chunks into the window left after the prompt scaffolding and
// the response reservation are subtracted.
type Packer struct {
	Cfg config.ContextSpecification
}

func New(cfg config.ContextSpecification) *Packer {
	return &Packer{Cfg: cfg}
}

// Pack returns the subset of chunks, ordered by priority, whose combined
// token count fits the available budget. Chunks that would overflow are
// truncated to their important lines when enough budget remains to make
// that worthwhile.
func (p *Packer) Pack(chunks []models.SearchResult, question string) []models.SearchResult {
	if len(chunks) == 0 {
		return chunks
	}

	available := p.Cfg.WindowSize - p.Cfg.ReservePromptTokens - p.Cfg.ReserveResponseTokens

	prioritized := prioritize(chunks, question)

	total := 0
	for _, c := range prioritized {
		total += chunker.CountTokens(c.Text)
	}
	if total <= available {
		return prioritized
	}

	return selectAndTruncate(prioritized, available, question, p.Cfg.MinChunkTokensAfterTruncation)
}

// EstimatePromptTokens reports roughly how many tokens the synthesizer
// prompt built from question and chunks will cost. It is not used for
// packing decisions, and the agent loop does not call it.
func EstimatePromptTokens(question string, chunks []models.SearchResult) int {
	total := chunker.CountTokens(question)
	for _, c := range chunks {
		total += chunker.CountTokens(c.Text)
	}
	return total + promptTemplateOverhead
}

func prioritize(chunks []models.SearchResult, question string) []models.SearchResult {
	type scored struct {
		chunk    models.SearchResult
		priority float64
	}
	scoredChunks := make([]scored, len(chunks))
	for i, c := range chunks {
		scoredChunks[i] = scored{chunk: c, priority: priorityScore(c, question)}
	}
	sort.SliceStable(scoredChunks, func(i, j int) bool {
		return scoredChunks[i].priority > scoredChunks[j].priority
	})
	out := make([]models.SearchResult, len(chunks))
	for i, s := range scoredChunks {
		out[i] = s.chunk
	}
	return out
}

// priorityScore weighs a chunk's retrieval score against the structural
// signals that predict answer value: multi-source hits, key files, named
// symbols, vector similarity, and overlap with the question's vocabulary.
func priorityScore(c models.SearchResult, question string) float64 {
	score := 0.0

	if c.Combined > 0 {
		score += c.Combined * 10.0
	}
	if len(c.Sources) > 1 {
		score += 2.0
	}
	if c.FilePath != "" && isKeyFile(c.FilePath) {
		score += 1.5
	}
	if c.SymbolName != "" {
		score += 1.0
	}

	if question != "" {
		lower := strings.ToLower(question)
		if containsAnyWord(lower, "how", "where", "what", "implement") {
			if retriever.IsTestFile(c.FilePath) {
				score -= 0.5
			} else if retriever.IsDocFile(c.FilePath) {
				score -= 0.3
			}
		}
		score += float64(sharedLongWords(lower, strings.ToLower(c.Text))) * 0.2
	}

	if hasSource(c.Sources, "vector") {
		score += c.VectorScore * 5.0
	}

	return score
}

func selectAndTruncate(prioritized []models.SearchResult, available int, question string, minChunkTokens int) []models.SearchResult {
	var selected []models.SearchResult
	used := 0

	for _, c := range prioritized {
		tokens := chunker.CountTokens(c.Text)

		if used+tokens <= available {
			selected = append(selected, c)
			used += tokens
			continue
		}

		remaining := available - used
		if remaining < minChunkTokens {
			break
		}

		truncated, ok := truncateIntelligently(c, remaining, question)
		if ok {
			selected = append(selected, truncated)
			used += chunker.CountTokens(truncated.Text)
		}

		if float64(used) >= float64(available)*0.95 {
			break
		}
	}

	return selected
}

// truncateIntelligently rebuilds a chunk from its most important lines:
// definitions, docstrings, returns, decorators, top-of-file imports, and
// lines sharing vocabulary with the question, each padded with up to two
// lines of surrounding context, then back-filled in order until the budget
// runs out.
func truncateIntelligently(c models.SearchResult, maxTokens int, question string) (models.SearchResult, bool) {
	if c.Text == "" {
		return models.SearchResult{}, false
	}
	originalTokens := chunker.CountTokens(c.Text)
	if originalTokens <= maxTokens {
		return c, true
	}

	lines := strings.Split(c.Text, "\n")
	important := identifyImportantLines(lines, question)

	added := map[int]bool{}
	used := 0

	add := func(idx int) {
		if idx < 0 || idx >= len(lines) || added[idx] {
			return
		}
		t := chunker.CountTokens(lines[idx])
		if used+t > maxTokens {
			return
		}
		added[idx] = true
		used += t
	}

	for _, idx := range important {
		add(idx)
	}

	for _, idx := range important {
		for i := idx - 2; i < idx; i++ {
			add(i)
		}
		for i := idx + 1; i <= idx+2; i++ {
			add(i)
		}
	}

	for i := range lines {
		if added[i] {
			continue
		}
		t := chunker.CountTokens(lines[i])
		if used+t > maxTokens {
			break
		}
		added[i] = true
		used += t
	}

	kept := make([]int, 0, len(added))
	for idx := range added {
		kept = append(kept, idx)
	}
	sort.Ints(kept)

	parts := make([]string, 0, len(kept))
	for _, idx := range kept {
		parts = append(parts, lines[idx])
	}
	text := strings.Join(parts, "\n")
	if len(kept) < len(lines) {
		text += "\n" + TruncationMarker
	}

	out := c
	out.Text = text
	out.Truncated = true
	out.OriginalTokenCount = originalTokens
	out.TruncatedTokenCount = chunker.CountTokens(text)
	return out, true
}

// identifyImportantLines returns the 0-based indices of lines worth keeping
// through truncation. Prefix matching is language-agnostic on purpose: the
// packer sees chunks from every language the chunker supports.
func identifyImportantLines(lines []string, question string) []int {
	var questionWords map[string]bool
	if question != "" {
		questionWords = longWords(strings.ToLower(question))
	}

	seen := map[int]bool{}
	var important []int
	mark := func(i int) {
		if !seen[i] {
			seen[i] = true
			important = append(important, i)
		}
	}

	for i, line := range lines {
		stripped := strings.TrimSpace(line)

		if hasAnyPrefix(stripped, "def ", "class ", "async def ", "func ", "function ", "type ", "public ", "private ") {
			mark(i)
		}
		if strings.Contains(stripped, `"""`) || strings.Contains(stripped, "'''") {
			mark(i)
		}
		if strings.HasPrefix(stripped, "return ") {
			mark(i)
		}
		if i < 20 && hasAnyPrefix(stripped, "import ", "from ") {
			mark(i)
		}
		if strings.HasPrefix(stripped, "@") {
			mark(i)
		}
		if len(questionWords) > 0 {
			for w := range longWords(strings.ToLower(stripped)) {
				if questionWords[w] {
					mark(i)
					break
				}
			}
		}
	}

	if len(lines) > 0 {
		mark(0)
		mark(len(lines) - 1)
	}

	sort.Ints(important)
	return important
}

func isKeyFile(path string) bool {
	normalized := strings.ReplaceAll(path, `\`, "/")
	parts := strings.Split(normalized, "/")
	filename := strings.ToLower(parts[len(parts)-1])
	for _, p := range keyFilePatterns {
		if strings.Contains(filename, p) {
			return true
		}
	}
	return false
}

func longWords(s string) map[string]bool {
	out := map[string]bool{}
	for _, w := range strings.Fields(s) {
		if len(w) > 3 {
			out[w] = true
		}
	}
	return out
}

func sharedLongWords(a, b string) int {
	wordsA := longWords(a)
	count := 0
	for w := range longWords(b) {
		if wordsA[w] {
			count++
		}
	}
	return count
}

func hasSource(sources []string, want string) bool {
	for _, s := range sources {
		if s == want {
			return true
		}
	}
	return false
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func containsAnyWord(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
