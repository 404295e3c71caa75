// Package retriever implements hybrid vector+lexical search: fusing the
// two result sets with weighted scoring, reranking on multi-term match,
// file-type and path-depth signals, and deduplicating overlapping spans.
package retriever

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/reposearch/codeask/internal/ai"
	"github.com/reposearch/codeask/internal/config"
	"github.com/reposearch/codeask/internal/store"
	"github.com/reposearch/codeask/pkg/models"
)

// stopWords excludes interrogatives, auxiliaries, articles and common
// prepositions from keyword extraction.
var stopWords = map[string]bool{
	"how": true, "what": true, "where": true, "when": true, "why": true,
	"who": true, "which": true, "is": true, "are": true, "the": true,
	"a": true, "an": true, "in": true, "on": true, "at": true, "to": true,
	"for": true, "of": true, "with": true, "by": true, "from": true,
	"does": true, "do": true, "did": true, "can": true, "could": true,
	"would": true, "should": true, "will": true, "be": true,
}

// queryExpansions maps canonical technical terms to domain synonyms.
var queryExpansions = map[string][]string{
	"auth":           {"authentication", "login", "session", "token", "jwt", "oauth", "credential"},
	"authentication": {"auth", "login", "session", "token", "jwt", "oauth", "credential"},
	"login":          {"authentication", "auth", "session", "credential", "signin"},
	"session":        {"authentication", "auth", "login", "token", "cookie"},
	"token":          {"jwt", "authentication", "auth", "session", "bearer"},
	"database":       {"db", "datastore", "storage", "persistence", "repository"},
	"db":             {"database", "datastore", "storage", "persistence"},
	"query":          {"search", "filter", "select", "find", "retrieve"},
	"storage":        {"database", "db", "persistence", "cache"},
	"api":            {"endpoint", "route", "handler", "controller", "service"},
	"endpoint":       {"api", "route", "handler", "controller"},
	"route":          {"endpoint", "api", "handler", "path", "url"},
	"request":        {"http", "api", "endpoint", "call"},
	"response":       {"return", "output", "result", "reply"},
	"error":          {"exception", "failure", "issue", "problem", "bug"},
	"exception":      {"error", "failure", "throw", "catch"},
	"validation":     {"validate", "check", "verify", "sanitize"},
	"config":         {"configuration", "settings", "options", "parameters"},
	"setup":          {"initialize", "configure", "install", "bootstrap"},
	"init":           {"initialize", "setup", "bootstrap", "start"},
	"process":        {"handle", "execute", "run", "perform", "do"},
	"handle":         {"process", "manage", "deal", "execute"},
	"transform":      {"convert", "change", "modify", "map"},
	"test":           {"testing", "spec", "unit", "integration", "assert"},
	"testing":        {"test", "spec", "unit", "integration"},
	"middleware":     {"interceptor", "filter", "handler", "processor"},
	"service":        {"api", "handler", "controller", "manager"},
	"model":          {"schema", "entity", "data", "structure"},
	"view":           {"template", "render", "display", "ui"},
	"controller":     {"handler", "endpoint", "route", "service"},
}

var testFilePatterns = []string{
	"test_", "_test", "spec_", "_spec", ".test.", ".spec.",
	"tests/", "test/", "__tests__/", "specs/", "spec/",
}

var docFilePatterns = []string{
	"readme", "changelog", "license", "contributing", "docs/",
	"documentation/", ".md", ".txt", ".rst",
}

var (
	camelWordRE = regexp.MustCompile(`\b[A-Za-z]+(?:[A-Z][a-z]+)+\b`)
	camelRunRE  = regexp.MustCompile(`[A-Z]+[a-z]*|[a-z]+`)
	snakeWordRE = regexp.MustCompile(`\b[a-z]+_[a-z_]+\b`)
	techRE      = regexp.MustCompile(`\b[A-Z]{2,}\b`)
	wordRE      = regexp.MustCompile(`\b[a-zA-Z_][a-zA-Z0-9_]*\b`)
)

// splitCamelWord splits a camelCase/PascalCase identifier into its word
// parts, keeping acronym runs whole: HTTPServerError -> HTTP, Server,
// Error. RE2 has no lookahead, so a run of capitals followed by a
// lowercase tail is matched as one piece and the acronym's final capital
// (which starts the next word) is peeled off afterwards.
func splitCamelWord(word string) []string {
	var parts []string
	for _, run := range camelRunRE.FindAllString(word, -1) {
		caps := 0
		for caps < len(run) && run[caps] >= 'A' && run[caps] <= 'Z' {
			caps++
		}
		if caps > 1 && caps < len(run) {
			parts = append(parts, run[:caps-1], run[caps-1:])
			continue
		}
		parts = append(parts, run)
	}
	return parts
}

// Retriever runs hybrid search against a CorpusStore using an Embedder for
// the vector side.
type Retriever struct {
	Store    store.CorpusStore
	Embedder ai.Embedder
	Cfg      config.RetrievalSpecification
}

func New(st store.CorpusStore, embedder ai.Embedder, cfg config.RetrievalSpecification) *Retriever {
	return &Retriever{Store: st, Embedder: embedder, Cfg: cfg}
}

// ExtractKeywords pulls candidate keywords from free text: plain words,
// camelCase/PascalCase and snake_case identifier components, and acronyms.
// With expand=true the result also folds in QUERY_EXPANSIONS synonyms.
func ExtractKeywords(question string, expand bool) []string {
	var keywords []string
	for _, w := range wordRE.FindAllString(strings.ToLower(question), -1) {
		if !stopWords[w] && len(w) > 2 {
			keywords = append(keywords, w)
		}
	}

	for _, camel := range camelWordRE.FindAllString(question, -1) {
		for _, part := range splitCamelWord(camel) {
			if len(part) > 2 {
				keywords = append(keywords, strings.ToLower(part))
			}
		}
		keywords = append(keywords, strings.ToLower(camel))
	}

	for _, snake := range snakeWordRE.FindAllString(question, -1) {
		for _, part := range strings.Split(snake, "_") {
			if len(part) > 2 {
				keywords = append(keywords, part)
			}
		}
		keywords = append(keywords, snake)
	}

	for _, tech := range techRE.FindAllString(question, -1) {
		keywords = append(keywords, strings.ToLower(tech))
	}

	seen := map[string]bool{}
	var unique []string
	for _, kw := range keywords {
		if !seen[kw] {
			seen[kw] = true
			unique = append(unique, kw)
		}
	}

	if !expand || len(unique) == 0 {
		if len(unique) > 5 {
			return unique[:5]
		}
		return unique
	}

	expanded := ExpandQueryTerms(unique)
	result := append([]string{}, unique...)
	for _, e := range expanded {
		if !seen[e] {
			result = append(result, e)
			seen[e] = true
		}
	}
	if len(result) > 8 {
		return result[:8]
	}
	return result
}

// ExpandQueryTerms folds synonym lists from QUERY_EXPANSIONS into terms,
// matching on exact key and on substring containment in either direction.
func ExpandQueryTerms(terms []string) []string {
	expanded := map[string]bool{}
	for _, t := range terms {
		expanded[t] = true
	}
	for _, t := range terms {
		lower := strings.ToLower(t)
		if syns, ok := queryExpansions[lower]; ok {
			for _, s := range syns {
				expanded[s] = true
			}
			continue
		}
		for key, syns := range queryExpansions {
			if strings.Contains(key, lower) || strings.Contains(lower, key) {
				expanded[key] = true
				for _, s := range syns {
					expanded[s] = true
				}
			}
		}
	}
	out := make([]string, 0, len(expanded))
	for t := range expanded {
		out = append(out, t)
	}
	return out
}

// expandQueryForVectorSearch appends a handful of top-keyword expansions to
// the raw question, to help dense retrieval find semantically related code.
func expandQueryForVectorSearch(question string) string {
	keywords := ExtractKeywords(question, false)
	if len(keywords) == 0 {
		return question
	}
	top := keywords
	if len(top) > 3 {
		top = top[:3]
	}
	expanded := ExpandQueryTerms(top)

	parts := []string{question}
	added := 0
	lowerQ := strings.ToLower(question)
	for _, term := range expanded {
		if added >= 5 {
			break
		}
		if !strings.Contains(lowerQ, term) {
			parts = append(parts, term)
			added++
		}
	}
	if len(parts) > 3 {
		parts = parts[:3]
	}
	return strings.Join(parts, " ")
}

// Search runs hybrid vector+lexical search with query expansion and
// reranking, returning at most k fused, deduplicated results.
func (r *Retriever) Search(ctx context.Context, question, repoID string, k int) ([]models.SearchResult, error) {
	vectorResults, err := r.vectorSearch(ctx, question, repoID, k)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	keywords := ExtractKeywords(question, true)
	var lexicalResults []models.SearchResult
	limit := keywords
	if len(limit) > 4 {
		limit = limit[:4]
	}
	for _, kw := range limit {
		res, err := r.Store.LexicalSearch(ctx, repoID, kw, k/2+1)
		if err != nil {
			return nil, fmt.Errorf("lexical search %q: %w", kw, err)
		}
		lexicalResults = append(lexicalResults, res...)
	}

	baseKeywords := ExtractKeywords(question, false)
	return mergeAndRerank(vectorResults, lexicalResults, k, baseKeywords, question, r.Cfg), nil
}

func (r *Retriever) vectorSearch(ctx context.Context, question, repoID string, k int) ([]models.SearchResult, error) {
	expanded := expandQueryForVectorSearch(question)
	embedding, err := r.Embedder.EmbedOne(ctx, expanded)
	if err != nil {
		return nil, err
	}
	return r.Store.VectorSearch(ctx, repoID, embedding, k)
}

// mergeAndRerank fuses vector and lexical results by chunk id, applies rank
// position boosts, reranks on multi-term match / file-type / path-depth
// signals, then deduplicates by overlapping file span.
func mergeAndRerank(vectorResults, lexicalResults []models.SearchResult, k int, queryKeywords []string, question string, cfg config.RetrievalSpecification) []models.SearchResult {
	chunkMap := map[string]*models.SearchResult{}

	for i, res := range vectorResults {
		r := res
		rankBoost := float64(len(vectorResults)-i) / float64(len(vectorResults)) * cfg.RankBoostFactor
		score := fallbackScore(r.VectorScore, 0.5) * cfg.VectorWeight
		r.Combined = score + rankBoost
		r.Sources = []string{"vector"}
		chunkMap[r.ChunkID] = &r
	}

	for i, res := range lexicalResults {
		rankBoost := float64(len(lexicalResults)-i) / float64(len(lexicalResults)) * (cfg.RankBoostFactor * 0.67)
		normalized := minFloat(fallbackScore(res.LexicalScore, 0.3)/10.0, 1.0) * cfg.LexicalWeight

		if existing, ok := chunkMap[res.ChunkID]; ok {
			existing.Combined += normalized + rankBoost + 0.3
			existing.Sources = append(existing.Sources, "lexical")
			continue
		}
		r := res
		r.Combined = normalized + rankBoost
		r.Sources = []string{"lexical"}
		chunkMap[r.ChunkID] = &r
	}

	results := make([]*models.SearchResult, 0, len(chunkMap))
	for _, r := range chunkMap {
		results = append(results, r)
	}

	isImplementationQuery := question != "" && !containsAny(strings.ToLower(question), "test", "spec", "example", "sample")

	for _, res := range results {
		if len(queryKeywords) > 1 {
			matches := countKeywordMatches(res.Text, queryKeywords)
			if matches > 1 {
				res.Combined += float64(matches-1) * cfg.MultiTermMatchBoost
			}
		}

		if len(queryKeywords) > 0 && res.FilePath != "" && isImplementationQuery {
			if IsTestFile(res.FilePath) {
				res.Combined += cfg.TestFilePenalty
			} else if IsDocFile(res.FilePath) {
				res.Combined += cfg.DocFilePenalty
			}
		}

		if res.FilePath != "" {
			depth := pathDepth(res.FilePath)
			if depth <= 3 {
				res.Combined += float64(3-depth) * cfg.PathDepthBoost
			}
		}
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Combined > results[j].Combined })

	deduped := deduplicateByFileSpan(results, k, cfg.OverlapThreshold)

	out := make([]models.SearchResult, len(deduped))
	for i, r := range deduped {
		out[i] = *r
	}
	return out
}

type span struct {
	start, end int
}

// deduplicateByFileSpan keeps the first (highest-scoring, since results
// arrive sorted) chunk of any set whose line ranges overlap by more than
// overlapThreshold of their own span, within the same file.
func deduplicateByFileSpan(results []*models.SearchResult, maxChunks int, overlapThreshold float64) []*models.SearchResult {
	var kept []*models.SearchResult
	fileSpans := map[string][]span{}

	for _, res := range results {
		if res.FilePath == "" {
			kept = append(kept, res)
			if len(kept) >= maxChunks {
				break
			}
			continue
		}

		overlaps := false
		spanSize := res.EndLine - res.StartLine
		for _, existing := range fileSpans[res.FilePath] {
			overlapStart := maxInt(res.StartLine, existing.start)
			overlapEnd := minInt(res.EndLine, existing.end)
			overlapSize := maxInt(0, overlapEnd-overlapStart)
			if spanSize > 0 && float64(overlapSize)/float64(spanSize) > overlapThreshold {
				overlaps = true
				break
			}
		}

		if !overlaps {
			fileSpans[res.FilePath] = append(fileSpans[res.FilePath], span{res.StartLine, res.EndLine})
			kept = append(kept, res)
		}

		if len(kept) >= maxChunks {
			break
		}
	}
	return kept
}

func countKeywordMatches(text string, keywords []string) int {
	if len(keywords) == 0 || text == "" {
		return 0
	}
	lower := strings.ToLower(text)
	matches := 0
	for _, kw := range keywords {
		pattern := `\b` + regexp.QuoteMeta(strings.ToLower(kw)) + `\b`
		if ok, _ := regexp.MatchString(pattern, lower); ok {
			matches++
		}
	}
	return matches
}

// IsTestFile reports whether path looks like a test file. Shared with the
// context packer, which applies the same file-type signals when scoring.
func IsTestFile(path string) bool { return containsAny(strings.ToLower(path), testFilePatterns...) }

// IsDocFile reports whether path looks like a documentation file.
func IsDocFile(path string) bool { return containsAny(strings.ToLower(path), docFilePatterns...) }

func pathDepth(path string) int {
	normalized := strings.ReplaceAll(path, `\`, "/")
	var parts []string
	for _, p := range strings.Split(normalized, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return maxInt(0, len(parts)-1)
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func fallbackScore(score, fallback float64) float64 {
	if score == 0 {
		return fallback
	}
	return score
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
