package strategist

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/reposearch/codeask/pkg/models"
)

type fakeOracle struct {
	response string
	err      error
	calls    int
}

func (f *fakeOracle) Invoke(ctx context.Context, prompt string, temperature float32) (string, error) {
	f.calls++
	return f.response, f.err
}

func TestGenerateVariations_AlwaysIncludesOriginalFirst(t *testing.T) {
	s := New(&fakeOracle{response: `["auth middleware setup", "login flow implementation"]`})
	variations := s.GenerateVariations(context.Background(), "how does auth work", 3)
	if len(variations) == 0 || variations[0] != "how does auth work" {
		t.Errorf("expected original question first, got %v", variations)
	}
	if len(variations) != 3 {
		t.Errorf("expected 3 variations, got %d: %v", len(variations), variations)
	}
}

func TestGenerateVariations_OracleFailureFallsBackToRules(t *testing.T) {
	s := New(&fakeOracle{err: errors.New("timeout")})
	variations := s.GenerateVariations(context.Background(), "how does auth work", 3)
	if len(variations) < 2 {
		t.Errorf("expected rule-based variations despite oracle failure, got %v", variations)
	}
	if variations[0] != "how does auth work" {
		t.Errorf("expected original first, got %v", variations)
	}
}

func TestGenerateVariations_NilOracleUsesRulesOnly(t *testing.T) {
	s := &Strategist{}
	variations := s.GenerateVariations(context.Background(), "where is the request handled", 4)
	if variations[0] != "where is the request handled" {
		t.Errorf("expected original first, got %v", variations)
	}
	for i, v := range variations {
		for j := i + 1; j < len(variations); j++ {
			if strings.EqualFold(v, variations[j]) {
				t.Errorf("duplicate variation %q", v)
			}
		}
	}
}

func TestGenerateVariations_RejectsShortLLMEntries(t *testing.T) {
	s := New(&fakeOracle{response: `["ok", "x", "authentication middleware pipeline"]`})
	variations := s.GenerateVariations(context.Background(), "how does auth work", 3)
	for _, v := range variations {
		if v == "ok" || v == "x" {
			t.Errorf("short LLM variation %q should have been dropped", v)
		}
	}
}

func TestGenerateVariations_ToleratesFencedJSON(t *testing.T) {
	s := New(&fakeOracle{response: "```json\n[\"token validation logic\", \"session handling code\"]\n```"})
	variations := s.GenerateVariations(context.Background(), "how are tokens checked", 3)
	var sawFenced bool
	for _, v := range variations {
		if v == "token validation logic" {
			sawFenced = true
		}
	}
	if !sawFenced {
		t.Errorf("expected fenced JSON parsed, got %v", variations)
	}
}

func TestExtractKeyTerms_CapsAndDedupes(t *testing.T) {
	terms := extractKeyTerms("how does the RequestRouter dispatch incoming requests to the correct handler module")
	if len(terms) > 8 {
		t.Errorf("expected at most 8 terms, got %d: %v", len(terms), terms)
	}
	seen := map[string]bool{}
	for _, term := range terms {
		if seen[term] {
			t.Errorf("duplicate term %q", term)
		}
		seen[term] = true
	}
	if !seen["requestrouter"] {
		t.Errorf("expected camelCase identifier captured, got %v", terms)
	}
}

func TestSimplifyQuestion_StripsInterrogatives(t *testing.T) {
	cases := map[string]string{
		"How does the parser work?": "does the parser work",
		"Where is auth configured?": "auth configured",
		"is the cache thread safe?": "the cache thread safe",
	}
	for in, want := range cases {
		if got := simplifyQuestion(in); got != want {
			t.Errorf("simplifyQuestion(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRewriteForGaps_UsesFoundFilesAndSymbols(t *testing.T) {
	s := &Strategist{}
	retrieved := []models.SearchResult{
		{ChunkID: "1", FilePath: "src/router.py", SymbolName: "dispatch", Text: "def dispatch(req): pass"},
	}
	queries := s.RewriteForGaps(context.Background(), []string{"original"}, retrieved, "how are requests handled", 3)
	if len(queries) == 0 {
		t.Fatal("expected gap-filling queries")
	}
	var sawFile, sawSymbol bool
	for _, q := range queries {
		if strings.Contains(q, "router") {
			sawFile = true
		}
		if strings.Contains(q, "dispatch") {
			sawSymbol = true
		}
	}
	if !sawFile && !sawSymbol {
		t.Errorf("expected file- or symbol-derived queries, got %v", queries)
	}
}

func TestRewriteForGaps_EmptyRetrievalYieldsNothing(t *testing.T) {
	s := &Strategist{}
	if queries := s.RewriteForGaps(context.Background(), nil, nil, "q", 3); queries != nil {
		t.Errorf("expected nil for empty retrieval, got %v", queries)
	}
}

func TestRewriteForGaps_CapsAtMaxNewQueries(t *testing.T) {
	oracle := &fakeOracle{response: `["a longer query", "another longer query", "yet another one"]`}
	s := New(oracle)
	retrieved := []models.SearchResult{
		{ChunkID: "1", FilePath: "src/alpha.py", SymbolName: "alpha", Text: "def alpha(): pass"},
		{ChunkID: "2", FilePath: "src/beta.py", SymbolName: "beta", Text: "def beta(): pass"},
		{ChunkID: "3", FilePath: "src/gamma.py", SymbolName: "gamma", Text: "def gamma(): pass"},
	}
	queries := s.RewriteForGaps(context.Background(), []string{"q1"}, retrieved, "how does it work", 2)
	if len(queries) > 2 {
		t.Errorf("expected at most 2 queries, got %d: %v", len(queries), queries)
	}
}
