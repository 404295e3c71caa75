// Package strategist generates and adapts the search queries the agent
// loop issues to the retriever: diverse phrasings of the original question
// up front, and gap-filling rewrites once a round of retrieval is in hand.
package strategist

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/reposearch/codeask/internal/ai"
	"github.com/reposearch/codeask/internal/jsonextract"
	"github.com/reposearch/codeask/pkg/models"
)

var (
	questionWordsAnywhereRE = regexp.MustCompile(`(?i)\b(how|what|where|when|why|which|who|is|are|does|do|can|could|would|should)\b`)
	leadingQuestionWordRE   = regexp.MustCompile(`(?i)^(how|what|where|when|why|which|who)\s+`)
	leadingCopulaRE         = regexp.MustCompile(`(?i)^(is|are)\s+`)
	camelCaseRE             = regexp.MustCompile(`\b[A-Z][a-z]+(?:[A-Z][a-z]+)+\b`)
	acronymRE               = regexp.MustCompile(`\b[A-Z]{2,4}\b`)
	phraseRE                = regexp.MustCompile(`\b[a-z]{3,}(?:\s+[a-z]{3,})+\b`)
	wordRE4                 = regexp.MustCompile(`\b[a-z]{4,}\b`)
)

var commonWords = map[string]bool{
	"this": true, "that": true, "with": true, "from": true, "into": true,
	"over": true, "under": true, "after": true, "before": true,
}

// Strategist produces query variations for the planner and gap-filling
// rewrites for the retrieve/verify loop.
type Strategist struct {
	Oracle ai.Oracle
}

func New(oracle ai.Oracle) *Strategist {
	return &Strategist{Oracle: oracle}
}

// GenerateVariations returns up to numVariations distinct queries, always
// including the original question first: an LLM pass supplies diverse
// phrasings, and rule-based heuristics fill in whatever is still missing.
func (s *Strategist) GenerateVariations(ctx context.Context, question string, numVariations int) []string {
	if strings.TrimSpace(question) == "" {
		return []string{question}
	}

	variations := []string{question}

	if s.Oracle != nil {
		llmVariations := s.generateLLMVariations(ctx, question, numVariations-1)
		variations = append(variations, llmVariations...)
	}

	ruleVariations := generateRuleBasedVariations(question, numVariations-len(variations))
	variations = append(variations, ruleVariations...)

	return dedupePreserveOrder(variations, numVariations)
}

func (s *Strategist) generateLLMVariations(ctx context.Context, question string, numVariations int) []string {
	if numVariations <= 0 {
		return nil
	}
	prompt := fmt.Sprintf(`Generate %d diverse search query variations for this question about code.

Original Question: %s

Create queries that:
1. Use different phrasings and synonyms
2. Explore different aspects or angles
3. Vary specificity (some more general, some more specific)
4. Use technical terminology vs. plain language
5. Focus on different components (functions, classes, patterns, etc.)

OUTPUT FORMAT: Output ONLY valid JSON array of strings:
["query variation 1", "query variation 2", ...]

EXAMPLES:

Question: "Where is user authentication handled?"
[
  "user authentication implementation",
  "login handler code",
  "JWT token validation logic",
  "session management setup",
  "authentication middleware"
]

Question: "How does error handling work?"
[
  "error handling implementation",
  "exception catching and processing",
  "error response formatting",
  "try catch blocks usage",
  "error logging and reporting"
]

Now generate %d variations for the question above. Output ONLY valid JSON array:`, numVariations, question, numVariations)

	response, err := s.Oracle.Invoke(ctx, prompt, 0.0)
	if err != nil {
		return nil
	}

	var cleaned []string
	for _, v := range jsonextract.StringArray(response) {
		v = strings.TrimSpace(v)
		if len(v) > 5 {
			cleaned = append(cleaned, v)
		}
	}
	if len(cleaned) > numVariations {
		cleaned = cleaned[:numVariations]
	}
	return cleaned
}

// generateRuleBasedVariations applies five ordered strategies:
// implementation-focused suffixes, key-term-prefixed queries,
// technical-context suffixes, a simplified (question-word-stripped)
// form, and action-verb prefixes.
func generateRuleBasedVariations(question string, numVariations int) []string {
	if numVariations <= 0 {
		return nil
	}

	var variations []string
	lower := strings.ToLower(question)

	if containsAnyWord(lower, "how", "where", "what") {
		if !strings.Contains(lower, "implementation") && !strings.Contains(lower, "code") {
			variations = append(variations, question+" implementation", question+" code")
		}
	}

	keyTerms := extractKeyTerms(question)
	if len(keyTerms) >= 2 {
		top := keyTerms
		if len(top) > 3 {
			top = top[:3]
		}
		for _, term := range top {
			if !strings.Contains(lower, term) {
				variations = append(variations, term+" "+question)
			}
		}
	}

	for _, techContext := range []string{"function", "class", "module", "handler", "service"} {
		if len(variations) >= numVariations {
			break
		}
		if !strings.Contains(lower, techContext) {
			variations = append(variations, question+" "+techContext)
		}
	}

	simplified := simplifyQuestion(question)
	if simplified != "" && !strings.EqualFold(simplified, question) {
		variations = append(variations, simplified)
	}

	if !containsAnyWord(lower, "find", "locate", "search", "get", "retrieve", "how", "where") {
		for _, verb := range []string{"find", "locate", "search", "get", "retrieve"} {
			if len(variations) >= numVariations {
				break
			}
			if !strings.Contains(lower, verb) {
				variations = append(variations, verb+" "+question)
			}
		}
	}

	return dedupeExcluding(variations, question, numVariations)
}

func extractKeyTerms(question string) []string {
	cleaned := questionWordsAnywhereRE.ReplaceAllString(strings.ToLower(question), "")

	var terms []string
	for _, t := range camelCaseRE.FindAllString(question, -1) {
		terms = append(terms, strings.ToLower(t))
	}
	for _, a := range acronymRE.FindAllString(question, -1) {
		terms = append(terms, strings.ToLower(a))
	}

	phrases := phraseRE.FindAllString(cleaned, -1)
	if len(phrases) > 3 {
		phrases = phrases[:3]
	}
	terms = append(terms, phrases...)

	var words []string
	for _, w := range wordRE4.FindAllString(cleaned, -1) {
		if !commonWords[w] {
			words = append(words, w)
		}
	}
	if len(words) > 5 {
		words = words[:5]
	}
	terms = append(terms, words...)

	seen := map[string]bool{}
	var unique []string
	for _, t := range terms {
		if !seen[t] {
			seen[t] = true
			unique = append(unique, t)
		}
	}
	if len(unique) > 8 {
		unique = unique[:8]
	}
	return unique
}

func simplifyQuestion(question string) string {
	simplified := leadingQuestionWordRE.ReplaceAllString(question, "")
	simplified = strings.TrimRight(simplified, "?")
	simplified = leadingCopulaRE.ReplaceAllString(simplified, "")
	return strings.TrimSpace(simplified)
}

// RewriteForGaps analyzes what the last round of retrieval actually found
// and proposes new queries to explore what it missed: related files,
// related symbols, related keywords from the retrieved text, then an LLM
// gap-filling pass if there is still room.
func (s *Strategist) RewriteForGaps(ctx context.Context, originalQueries []string, retrieved []models.SearchResult, question string, maxNewQueries int) []string {
	if len(retrieved) == 0 || maxNewQueries <= 0 {
		return nil
	}

	foundFiles := map[string]bool{}
	foundSymbols := map[string]bool{}
	foundKeywords := map[string]bool{}

	for _, chunk := range retrieved {
		if chunk.FilePath != "" {
			foundFiles[path.Base(chunk.FilePath)] = true
		}
		if chunk.SymbolName != "" {
			foundSymbols[chunk.SymbolName] = true
		}
		text := chunk.Text
		if len(text) > 500 {
			text = text[:500]
		}
		for _, kw := range firstN(extractKeyTerms(text), 5) {
			foundKeywords[kw] = true
		}
	}

	lowerQuestion := strings.ToLower(question)
	var newQueries []string

	for _, file := range firstNSet(foundFiles, 2) {
		base := strings.SplitN(file, ".", 2)[0]
		if base != "" && !strings.Contains(lowerQuestion, base) {
			newQueries = append(newQueries, question+" "+base+" related")
		}
	}

	if len(newQueries) < maxNewQueries {
		for _, symbol := range firstNSet(foundSymbols, 2) {
			if !strings.Contains(lowerQuestion, strings.ToLower(symbol)) {
				newQueries = append(newQueries, question+" "+symbol)
			}
		}
	}

	if len(newQueries) < maxNewQueries {
		for _, kw := range firstNSet(foundKeywords, 3) {
			if len(kw) > 3 && !strings.Contains(lowerQuestion, kw) {
				newQueries = append(newQueries, question+" "+kw)
			}
		}
	}

	if len(newQueries) < maxNewQueries && s.Oracle != nil {
		llmQueries := s.generateGapFillingQueries(ctx, question, originalQueries, foundFiles, foundSymbols, maxNewQueries-len(newQueries))
		newQueries = append(newQueries, llmQueries...)
	}

	return dedupePreserveOrder(newQueries, maxNewQueries)
}

func (s *Strategist) generateGapFillingQueries(ctx context.Context, question string, originalQueries []string, foundFiles, foundSymbols map[string]bool, numQueries int) []string {
	if numQueries <= 0 {
		return nil
	}

	filesStr := "none"
	if len(foundFiles) > 0 {
		filesStr = strings.Join(firstNSet(foundFiles, 5), ", ")
	}
	symbolsStr := "none"
	if len(foundSymbols) > 0 {
		symbolsStr = strings.Join(firstNSet(foundSymbols, 5), ", ")
	}
	usedQueries := originalQueries
	if len(usedQueries) > 3 {
		usedQueries = usedQueries[:3]
	}

	prompt := fmt.Sprintf(`Generate %d new search queries to find additional relevant code.

Original Question: %s
Queries Already Used: %s
Files Found: %s
Symbols Found: %s

Create queries that:
1. Explore related areas not yet covered
2. Use different terminology or synonyms
3. Focus on complementary aspects
4. Search for related functions, classes, or patterns

OUTPUT FORMAT: Output ONLY valid JSON array:
["new query 1", "new query 2", ...]

Generate %d queries:`, numQueries, question, strings.Join(usedQueries, ", "), filesStr, symbolsStr, numQueries)

	response, err := s.Oracle.Invoke(ctx, prompt, 0.0)
	if err != nil {
		return nil
	}

	var out []string
	for _, q := range jsonextract.StringArray(response) {
		if q = strings.TrimSpace(q); q != "" {
			out = append(out, q)
		}
	}
	if len(out) > numQueries {
		out = out[:numQueries]
	}
	return out
}

func containsAnyWord(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func dedupePreserveOrder(items []string, limit int) []string {
	seen := map[string]bool{}
	var out []string
	for _, item := range items {
		lower := strings.ToLower(strings.TrimSpace(item))
		if lower == "" || seen[lower] {
			continue
		}
		seen[lower] = true
		out = append(out, item)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func dedupeExcluding(items []string, exclude string, limit int) []string {
	excludeLower := strings.ToLower(exclude)
	seen := map[string]bool{}
	var out []string
	for _, item := range items {
		lower := strings.ToLower(strings.TrimSpace(item))
		if lower == "" || lower == excludeLower || seen[lower] {
			continue
		}
		seen[lower] = true
		out = append(out, item)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func firstN(items []string, n int) []string {
	if len(items) > n {
		return items[:n]
	}
	return items
}

func firstNSet(set map[string]bool, n int) []string {
	var out []string
	for k := range set {
		if len(out) >= n {
			break
		}
		out = append(out, k)
	}
	return out
}
